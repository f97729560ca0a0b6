package docker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"go.uber.org/zap"

	"github.com/pausarr/pausarr/internal/models"
)

// DefaultTimeout bounds every call to the Docker engine.
const DefaultTimeout = 10 * time.Second

// ErrNotFound is returned for containers the engine does not know.
var ErrNotFound = errors.New("container not found")

const (
	stateRunning = "running"
	statePaused  = "paused"
)

// apiClient is the subset of the engine API the manager uses.
type apiClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerPause(ctx context.Context, containerID string) error
	ContainerUnpause(ctx context.Context, containerID string) error
	Close() error
}

// Manager pauses and unpauses containers by name.
type Manager struct {
	api     apiClient
	timeout time.Duration
	log     *zap.SugaredLogger
}

// New connects to the engine configured by the DOCKER_* environment.
func New(log *zap.SugaredLogger) (*Manager, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newManager(api, log), nil
}

func newManager(api apiClient, log *zap.SugaredLogger) *Manager {
	return &Manager{api: api, timeout: DefaultTimeout, log: log}
}

// Close releases the engine connection.
func (m *Manager) Close() error {
	return m.api.Close()
}

// Ping checks that the engine answers.
func (m *Manager) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if _, err := m.api.Ping(ctx); err != nil {
		return fmt.Errorf("ping docker: %w", err)
	}
	return nil
}

// TestConnection pings the engine and returns a human-readable outcome.
func (m *Manager) TestConnection(ctx context.Context) (bool, string) {
	if err := m.Ping(ctx); err != nil {
		return false, fmt.Sprintf("Docker connection failed: %v", errors.Unwrap(err))
	}
	return true, "Connected to Docker"
}

// List returns every container, stopped ones included. Status carries the
// engine state ("running", "paused", ...) and State the engine's summary.
func (m *Manager) List(ctx context.Context) ([]models.ContainerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	containers, err := m.api.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]models.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := c.ID
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, models.ContainerInfo{
			Name:   name,
			ID:     shortID(c.ID),
			Status: c.State,
			Image:  c.Image,
			State:  c.Status,
		})
	}
	return out, nil
}

// State returns the engine state of the named container.
func (m *Manager) State(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.state(ctx, name)
}

func (m *Manager) state(ctx context.Context, name string) (string, error) {
	info, err := m.api.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("inspect %s: %w", name, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return "unknown", nil
	}
	return info.State.Status, nil
}

// Pause pauses a running container. Paused and stopped containers are left
// alone and reported as successful.
func (m *Manager) Pause(ctx context.Context, name string) models.ActionResult {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	state, err := m.state(ctx, name)
	if err != nil {
		return lookupFailure("pause", name, err)
	}
	switch state {
	case statePaused:
		return models.ActionResult{OK: true, Message: fmt.Sprintf("%s is already paused", name)}
	case stateRunning:
	default:
		return models.ActionResult{OK: true, Message: fmt.Sprintf("%s is not running (status: %s), nothing to pause", name, state)}
	}

	if err := m.api.ContainerPause(ctx, name); err != nil {
		m.log.Warnw("pause failed", "container", name, "error", err)
		return models.ActionResult{Message: fmt.Sprintf("Failed to pause %s: %v", name, err)}
	}
	m.log.Infow("container paused", "container", name)
	return models.ActionResult{OK: true, Message: fmt.Sprintf("Paused %s", name)}
}

// Unpause resumes a paused container. A running container is reported as
// successful; any other state is a failure.
func (m *Manager) Unpause(ctx context.Context, name string) models.ActionResult {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	state, err := m.state(ctx, name)
	if err != nil {
		return lookupFailure("unpause", name, err)
	}
	switch state {
	case stateRunning:
		return models.ActionResult{OK: true, Message: fmt.Sprintf("%s is already running", name)}
	case statePaused:
	default:
		return models.ActionResult{Message: fmt.Sprintf("%s is not paused (status: %s)", name, state)}
	}

	if err := m.api.ContainerUnpause(ctx, name); err != nil {
		m.log.Warnw("unpause failed", "container", name, "error", err)
		return models.ActionResult{Message: fmt.Sprintf("Failed to unpause %s: %v", name, err)}
	}
	m.log.Infow("container unpaused", "container", name)
	return models.ActionResult{OK: true, Message: fmt.Sprintf("Unpaused %s", name)}
}

// PauseMany pauses every named container.
func (m *Manager) PauseMany(ctx context.Context, names []string) map[string]models.ActionResult {
	results := make(map[string]models.ActionResult, len(names))
	for _, name := range names {
		results[name] = m.Pause(ctx, name)
	}
	return results
}

// UnpauseMany unpauses every named container.
func (m *Manager) UnpauseMany(ctx context.Context, names []string) map[string]models.ActionResult {
	results := make(map[string]models.ActionResult, len(names))
	for _, name := range names {
		results[name] = m.Unpause(ctx, name)
	}
	return results
}

func lookupFailure(verb, name string, err error) models.ActionResult {
	if errors.Is(err, ErrNotFound) {
		return models.ActionResult{Message: fmt.Sprintf("Container %s not found", name)}
	}
	return models.ActionResult{Message: fmt.Sprintf("Failed to %s %s: %v", verb, name, errors.Unwrap(err))}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
