package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/pausarr/pausarr/internal/config"
	"github.com/pausarr/pausarr/internal/history"
	"github.com/pausarr/pausarr/internal/models"
)

const (
	lastActionPaused        = "Paused containers"
	lastActionUnpaused      = "Unpaused containers"
	lastActionForcePaused   = "Force paused containers"
	lastActionForceUnpaused = "Force unpaused containers"
)

// Monitor polls the media server and pauses the managed containers while
// sessions are active. All state changes happen under a single lock.
type Monitor struct {
	config Config

	mu               sync.Mutex
	sched            *scheduler
	lastCheck        *time.Time
	lastAction       *string
	sessionsActive   bool
	containersPaused bool
	lastError        *string
	history          *history.Log

	// prevSessionsActive is the session state seen by the last successful
	// cycle. It survives Stop and Start.
	prevSessionsActive bool

	source         SessionSource
	sourceSettings config.Jellyfin
}

// New returns a stopped Monitor backed by config.
func New(config Config) (*Monitor, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Monitor{
		config:  config,
		history: history.New(history.DefaultCapacity),
	}, nil
}

// Check runs one check cycle.
func (m *Monitor) Check(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.check(ctx)
}

func (m *Monitor) check(ctx context.Context) {
	cfg := m.config.Settings.Get()
	if !cfg.Enabled {
		m.config.Logger.Debug("monitoring disabled, skipping check")
		return
	}

	now := m.config.Clock.Now()
	m.lastCheck = &now
	m.lastError = nil
	m.config.Metrics.CheckStarted()
	defer m.publish()

	hasSessions, err := m.sessionSource(cfg.Jellyfin()).HasActiveSessions(ctx)
	if err != nil {
		msg := err.Error()
		m.lastError = &msg
		m.record(models.ActionError, msg)
		m.config.Metrics.SessionError()
		m.config.Logger.Warnw("session check failed", "error", err)
		return
	}
	m.sessionsActive = hasSessions

	names := m.config.Settings.EnabledContainers()
	if len(names) > 0 {
		switch {
		case hasSessions && !m.prevSessionsActive:
			m.config.Logger.Infow("sessions started, pausing containers", "containers", names)
			m.record(models.ActionSessionsStarted, "Active sessions detected")
			results := m.config.Workloads.PauseMany(ctx, names)
			m.recordResults(names, results, models.ActionPause, models.ActionPauseFailed)
			m.containersPaused = true
			m.setLastAction(lastActionPaused)
		case !hasSessions && m.prevSessionsActive:
			m.config.Logger.Infow("sessions ended, unpausing containers", "containers", names)
			m.record(models.ActionSessionsEnded, "No active sessions")
			results := m.config.Workloads.UnpauseMany(ctx, names)
			m.recordResults(names, results, models.ActionUnpause, models.ActionUnpauseFailed)
			m.containersPaused = false
			m.setLastAction(lastActionUnpaused)
		}
	}

	m.prevSessionsActive = hasSessions
}

// sessionSource returns the cached source, rebuilding it when the connection
// settings changed since it was built.
func (m *Monitor) sessionSource(settings config.Jellyfin) SessionSource {
	if m.source == nil || m.sourceSettings != settings {
		if m.source != nil {
			m.config.Logger.Infow("jellyfin settings changed, rebuilding client", "url", settings.URL)
		}
		m.source = m.config.NewSessionSource(settings)
		m.sourceSettings = settings
	}
	return m.source
}

// ForcePause pauses every enabled container regardless of session state.
func (m *Monitor) ForcePause(ctx context.Context) map[string]models.ActionResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := m.config.Workloads.PauseMany(ctx, m.config.Settings.EnabledContainers())
	m.containersPaused = true
	m.setLastAction(lastActionForcePaused)
	m.record(models.ActionForcePause, "Manual pause triggered")
	m.publish()
	m.logResults("force pause", results)
	return results
}

// ForceUnpause unpauses every enabled container regardless of session state.
func (m *Monitor) ForceUnpause(ctx context.Context) map[string]models.ActionResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := m.config.Workloads.UnpauseMany(ctx, m.config.Settings.EnabledContainers())
	m.containersPaused = false
	m.setLastAction(lastActionForceUnpaused)
	m.record(models.ActionForceUnpause, "Manual unpause triggered")
	m.publish()
	m.logResults("force unpause", results)
	return results
}

// Status returns a copy of the current state with the most recent history.
func (m *Monitor) Status() models.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := models.Status{
		Running:          m.sched != nil,
		SessionsActive:   m.sessionsActive,
		ContainersPaused: m.containersPaused,
		History:          m.history.Recent(history.DefaultSnapshotSize),
	}
	if m.lastCheck != nil {
		t := *m.lastCheck
		status.LastCheck = &t
	}
	if m.lastAction != nil {
		s := *m.lastAction
		status.LastAction = &s
	}
	if m.lastError != nil {
		s := *m.lastError
		status.Error = &s
	}
	return status
}

// Running reports whether the polling loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sched != nil
}

func (m *Monitor) record(action models.Action, details string) {
	m.history.Append(models.HistoryEntry{
		Timestamp: m.config.Clock.Now(),
		Action:    action,
		Details:   details,
	})
	m.config.Metrics.Action(action)
}

// recordResults appends one entry per container in names order.
func (m *Monitor) recordResults(names []string, results map[string]models.ActionResult, ok, failed models.Action) {
	for _, name := range names {
		result, found := results[name]
		if !found {
			result = models.ActionResult{Message: fmt.Sprintf("No result for %s", name)}
		}
		if result.OK {
			m.record(ok, result.Message)
			continue
		}
		m.record(failed, result.Message)
		m.config.Logger.Warnw("container action failed", "container", name, "action", ok, "message", result.Message)
	}
}

func (m *Monitor) logResults(op string, results map[string]models.ActionResult) {
	for name, result := range results {
		if !result.OK {
			m.config.Logger.Warnw(op+" failed", "container", name, "message", result.Message)
		}
	}
	m.config.Logger.Infow(op+" done", "containers", len(results), "success", models.AllOK(results))
}

func (m *Monitor) setLastAction(action string) {
	m.lastAction = &action
}

func (m *Monitor) publish() {
	m.config.Metrics.SetState(m.sched != nil, m.sessionsActive, m.containersPaused)
}
