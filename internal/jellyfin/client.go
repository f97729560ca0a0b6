package jellyfin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pausarr/pausarr/internal/config"
	"github.com/pausarr/pausarr/internal/models"
)

// DefaultTimeout bounds every request to the server.
const DefaultTimeout = 10 * time.Second

var (
	// ErrUnreachable is returned when the server cannot be reached.
	ErrUnreachable = errors.New("cannot connect to jellyfin")
	// ErrTimeout is returned when a request exceeds the client timeout.
	ErrTimeout = errors.New("connection timeout")
)

// Client queries the Jellyfin REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.http = c
	}
}

// New returns a client for the server at baseURL.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sessionPayload struct {
	ID             string       `json:"Id"`
	UserName       string       `json:"UserName"`
	Client         string       `json:"Client"`
	DeviceName     string       `json:"DeviceName"`
	IsActive       bool         `json:"IsActive"`
	NowPlayingItem *itemPayload `json:"NowPlayingItem"`
}

type itemPayload struct {
	Name       string `json:"Name"`
	SeriesName string `json:"SeriesName"`
}

type systemInfo struct {
	ServerName string `json:"ServerName"`
	Version    string `json:"Version"`
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "MediaBrowser Token="+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, ErrUnreachable
	}
	return resp, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) sessions(ctx context.Context) ([]sessionPayload, error) {
	resp, err := c.get(ctx, "/Sessions")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api error: HTTP %d", resp.StatusCode)
	}

	var payload []sessionPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return payload, nil
}

// HasActiveSessions reports whether any session is marked active.
func (c *Client) HasActiveSessions(ctx context.Context) (bool, error) {
	sessions, err := c.sessions(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range sessions {
		if s.IsActive {
			return true, nil
		}
	}
	return false, nil
}

// HasPlayingSessions reports whether any session is playing an item.
func (c *Client) HasPlayingSessions(ctx context.Context) (bool, error) {
	sessions, err := c.sessions(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range sessions {
		if s.NowPlayingItem != nil {
			return true, nil
		}
	}
	return false, nil
}

// Sessions lists every session the server reports.
func (c *Client) Sessions(ctx context.Context) ([]models.Session, error) {
	payload, err := c.sessions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.Session, 0, len(payload))
	for _, s := range payload {
		session := models.Session{
			ID:         s.ID,
			UserName:   orUnknown(s.UserName),
			Client:     orUnknown(s.Client),
			DeviceName: orUnknown(s.DeviceName),
			IsActive:   s.IsActive,
		}
		if item := s.NowPlayingItem; item != nil {
			title := orUnknown(item.Name)
			if item.SeriesName != "" {
				title = item.SeriesName + " - " + title
			}
			session.NowPlaying = &title
		}
		out = append(out, session)
	}
	return out, nil
}

// TestConnection checks the API key against the server and returns a
// human-readable outcome.
func (c *Client) TestConnection(ctx context.Context) (bool, string) {
	if c.apiKey == "" {
		return false, "API key not configured"
	}

	resp, err := c.get(ctx, "/System/Info")
	switch {
	case errors.Is(err, ErrTimeout):
		return false, "Connection timeout"
	case err != nil:
		return false, "Cannot connect to " + c.baseURL
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return false, "Authentication failed - check API key"
	default:
		return false, fmt.Sprintf("Connection failed: HTTP %d", resp.StatusCode)
	}

	info := systemInfo{ServerName: "Jellyfin", Version: "unknown"}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return false, fmt.Sprintf("Connection error: %v", err)
	}
	return true, fmt.Sprintf("Connected to %s (v%s)", info.ServerName, info.Version)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// Source answers the monitor's session query for one trigger mode.
type Source interface {
	HasActiveSessions(ctx context.Context) (bool, error)
}

type playingSource struct {
	*Client
}

func (s playingSource) HasActiveSessions(ctx context.Context) (bool, error) {
	return s.HasPlayingSessions(ctx)
}

// NewSource builds the session source for settings. With the playing trigger
// only sessions with something playing count as activity.
func NewSource(settings config.Jellyfin, opts ...Option) Source {
	client := New(settings.URL, settings.APIKey, opts...)
	if settings.Trigger == config.TriggerPlaying {
		return playingSource{client}
	}
	return client
}
