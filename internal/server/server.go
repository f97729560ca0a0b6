package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pausarr/pausarr/internal/config"
	"github.com/pausarr/pausarr/internal/models"
)

//go:embed static/*
var embeddedStatic embed.FS

const maskedAPIKey = "********"

var (
	errNoData          = errors.New("No data provided")
	errInvalidInterval = errors.New("Invalid check_interval")
	errInvalidTrigger  = errors.New("Invalid session_trigger")
)

// Monitor is the session monitor driven by the API.
type Monitor interface {
	Start() error
	Stop() error
	Restart() error
	Check(ctx context.Context)
	ForcePause(ctx context.Context) map[string]models.ActionResult
	ForceUnpause(ctx context.Context) map[string]models.ActionResult
	Status() models.Status
	Running() bool
}

// Settings is the persisted runtime configuration.
type Settings interface {
	Get() config.Config
	Apply(p config.Patch) (config.Config, error)
	SetEnabled(enabled bool) error
	AddContainer(name string, enabled bool, description string) error
	RemoveContainer(name string) error
	ToggleContainer(name string) (bool, error)
}

// Containers controls the container runtime directly.
type Containers interface {
	List(ctx context.Context) ([]models.ContainerInfo, error)
	Pause(ctx context.Context, name string) models.ActionResult
	Unpause(ctx context.Context, name string) models.ActionResult
	TestConnection(ctx context.Context) (bool, string)
}

// MediaServer answers connection tests and session listings.
type MediaServer interface {
	TestConnection(ctx context.Context) (bool, string)
	Sessions(ctx context.Context) ([]models.Session, error)
}

// MediaServerFactory builds a media server client for url and apiKey.
type MediaServerFactory func(url, apiKey string) MediaServer

// Options configures a Server.
type Options struct {
	Addr           string
	Monitor        Monitor
	Settings       Settings
	Containers     Containers
	NewMediaServer MediaServerFactory
	Gatherer       prometheus.Gatherer
	Logger         *zap.SugaredLogger
	// PushInterval is the websocket status push period.
	PushInterval time.Duration
}

// Server wraps HTTP serving of API + static assets.
type Server struct {
	httpServer   *http.Server
	staticFS     fs.FS
	monitor      Monitor
	settings     Settings
	containers   Containers
	newMedia     MediaServerFactory
	gatherer     prometheus.Gatherer
	log          *zap.SugaredLogger
	pushInterval time.Duration
}

// New creates a configured HTTP server.
func New(opts Options) (*Server, error) {
	if opts.Monitor == nil || opts.Settings == nil || opts.Containers == nil || opts.NewMediaServer == nil {
		return nil, errors.New("server: monitor, settings, containers and media server factory are required")
	}
	staticFS, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		return nil, fmt.Errorf("static assets missing: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.PushInterval <= 0 {
		opts.PushInterval = 5 * time.Second
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		staticFS:     staticFS,
		monitor:      opts.Monitor,
		settings:     opts.Settings,
		containers:   opts.Containers,
		newMedia:     opts.NewMediaServer,
		gatherer:     opts.Gatherer,
		log:          opts.Logger,
		pushInterval: opts.PushInterval,
	}
	s.registerRoutes(mux)
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.staticFS))))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/ws", s.handleStatusWS)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config", s.handleUpdateConfig)

	mux.HandleFunc("GET /api/containers", s.handleListContainers)
	mux.HandleFunc("POST /api/containers/{name}/manage", s.handleManageContainer)
	mux.HandleFunc("POST /api/containers/{name}/unmanage", s.handleUnmanageContainer)
	mux.HandleFunc("POST /api/containers/{name}/toggle", s.handleToggleContainer)
	mux.HandleFunc("POST /api/containers/{name}/pause", s.handlePauseContainer)
	mux.HandleFunc("POST /api/containers/{name}/unpause", s.handleUnpauseContainer)

	mux.HandleFunc("POST /api/monitor/start", s.handleStartMonitor)
	mux.HandleFunc("POST /api/monitor/stop", s.handleStopMonitor)
	mux.HandleFunc("POST /api/monitor/check", s.handleCheck)
	mux.HandleFunc("POST /api/monitor/pause-all", s.handlePauseAll)
	mux.HandleFunc("POST /api/monitor/unpause-all", s.handleUnpauseAll)

	mux.HandleFunc("POST /api/jellyfin/test", s.handleTestJellyfin)
	mux.HandleFunc("GET /api/jellyfin/sessions", s.handleJellyfinSessions)
	mux.HandleFunc("POST /api/docker/test", s.handleTestDocker)

	mux.HandleFunc("POST /api/enable", s.handleSetEnabled(true))
	mux.HandleFunc("POST /api/disable", s.handleSetEnabled(false))
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	data, err := fs.ReadFile(s.staticFS, "index.html")
	if err != nil {
		http.Error(w, "index missing", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

func (s *Server) statusReport() models.StatusReport {
	return models.StatusReport{
		Status:        s.monitor.Status(),
		ConfigEnabled: s.settings.Get().Enabled,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.statusReport())
}

type configResponse struct {
	config.Config
	JellyfinAPIKeySet bool `json:"jellyfin_api_key_set"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.settings.Get()
	resp := configResponse{Config: cfg, JellyfinAPIKeySet: cfg.JellyfinAPIKey != ""}
	if resp.JellyfinAPIKeySet {
		resp.JellyfinAPIKey = maskedAPIKey
	}
	writeJSON(w, http.StatusOK, resp)
}

type configRequest struct {
	JellyfinURL    *string                     `json:"jellyfin_url"`
	JellyfinAPIKey *string                     `json:"jellyfin_api_key"`
	SessionTrigger *config.Trigger             `json:"session_trigger"`
	CheckInterval  json.RawMessage             `json:"check_interval"`
	Enabled        *bool                       `json:"enabled"`
	Containers     map[string]config.Container `json:"containers"`
}

func (req configRequest) patch() (config.Patch, error) {
	p := config.Patch{
		JellyfinURL:    req.JellyfinURL,
		SessionTrigger: req.SessionTrigger,
		Enabled:        req.Enabled,
		Containers:     req.Containers,
	}
	if req.JellyfinAPIKey != nil && *req.JellyfinAPIKey != maskedAPIKey {
		p.JellyfinAPIKey = req.JellyfinAPIKey
	}
	if p.SessionTrigger != nil {
		switch *p.SessionTrigger {
		case config.TriggerActive, config.TriggerPlaying:
		default:
			return p, errInvalidTrigger
		}
	}
	if len(req.CheckInterval) > 0 {
		interval, err := parseInterval(req.CheckInterval)
		if err != nil {
			return p, err
		}
		p.CheckInterval = &interval
	}
	return p, nil
}

// parseInterval accepts a JSON number or numeric string, clamps it to the
// minimum interval and rejects values above the maximum.
func parseInterval(raw json.RawMessage) (int, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, errInvalidInterval
	}
	f, err := n.Float64()
	if err != nil || f > config.MaxCheckInterval {
		return 0, errInvalidInterval
	}
	if f < config.MinCheckInterval {
		return config.MinCheckInterval, nil
	}
	return int(f), nil
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := req.patch()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.settings.Apply(p); err != nil {
		s.log.Errorw("config update failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if p.CheckInterval != nil && s.monitor.Running() {
		if err := s.monitor.Restart(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type containerResponse struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	Status      string `json:"status"`
	Image       string `json:"image"`
	Managed     bool   `json:"managed"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := s.containers.List(r.Context())
	if err != nil {
		s.log.Warnw("list containers failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	managed := s.settings.Get().Containers
	out := make([]containerResponse, 0, len(containers))
	for _, c := range containers {
		settings, ok := managed[c.Name]
		out = append(out, containerResponse{
			Name:        c.Name,
			ID:          c.ID,
			Status:      c.Status,
			Image:       c.Image,
			Managed:     ok,
			Enabled:     ok && settings.Enabled,
			Description: settings.Description,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleManageContainer(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Enabled     *bool  `json:"enabled"`
		Description string `json:"description"`
	}{}
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	enabled := req.Enabled == nil || *req.Enabled
	if err := s.settings.AddContainer(r.PathValue("name"), enabled, req.Description); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleUnmanageContainer(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.RemoveContainer(r.PathValue("name")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleToggleContainer(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.settings.ToggleContainer(r.PathValue("name"))
	switch {
	case errors.Is(err, config.ErrContainerNotManaged):
		writeError(w, http.StatusNotFound, "Container not managed")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "enabled": enabled})
}

func (s *Server) handlePauseContainer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.containers.Pause(r.Context(), r.PathValue("name")))
}

func (s *Server) handleUnpauseContainer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.containers.Unpause(r.Context(), r.PathValue("name")))
}

func (s *Server) handleStartMonitor(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"success": true}
	if err := s.monitor.Start(); err != nil {
		resp["success"] = false
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStopMonitor(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"success": true}
	if err := s.monitor.Stop(); err != nil {
		resp["success"] = false
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Monitor operations run detached from the request so a client hanging up
// is not recorded as a session or container failure.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	s.monitor.Check(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, s.statusReport())
}

func (s *Server) handlePauseAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, batchResult(s.monitor.ForcePause(context.WithoutCancel(r.Context()))))
}

func (s *Server) handleUnpauseAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, batchResult(s.monitor.ForceUnpause(context.WithoutCancel(r.Context()))))
}

func batchResult(results map[string]models.ActionResult) models.BatchResult {
	return models.BatchResult{Success: models.AllOK(results), Results: results}
}

func (s *Server) handleTestJellyfin(w http.ResponseWriter, r *http.Request) {
	req := struct {
		URL    string `json:"url"`
		APIKey string `json:"api_key"`
	}{}
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg := s.settings.Get()
	if req.URL == "" {
		req.URL = cfg.JellyfinURL
	}
	if req.APIKey == "" || req.APIKey == maskedAPIKey {
		req.APIKey = cfg.JellyfinAPIKey
	}

	ok, message := s.newMedia(req.URL, req.APIKey).TestConnection(r.Context())
	writeJSON(w, http.StatusOK, models.ActionResult{OK: ok, Message: message})
}

func (s *Server) handleJellyfinSessions(w http.ResponseWriter, r *http.Request) {
	cfg := s.settings.Get()
	sessions, err := s.newMedia(cfg.JellyfinURL, cfg.JellyfinAPIKey).Sessions(r.Context())
	if err != nil {
		s.log.Warnw("list sessions failed", "error", err)
		sessions = []models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleTestDocker(w http.ResponseWriter, r *http.Request) {
	ok, message := s.containers.TestConnection(r.Context())
	writeJSON(w, http.StatusOK, models.ActionResult{OK: ok, Message: message})
}

func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := s.settings.SetEnabled(enabled); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.log.Infow("global enable flag changed", "enabled", enabled)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// decodeBody decodes a required JSON body.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case errors.Is(err, io.EOF):
		return errNoData
	case err != nil:
		return fmt.Errorf("Invalid JSON: %w", err)
	}
	return nil
}

// decodeOptionalBody decodes a JSON body if there is one.
func decodeOptionalBody(r *http.Request, v any) error {
	if err := decodeBody(r, v); err != nil && !errors.Is(err, errNoData) {
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
