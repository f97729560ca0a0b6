package docker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pausarr/pausarr/internal/models"
)

type fakeEngine struct {
	mu        sync.Mutex
	states    map[string]string
	pauseErr  error
	pingErr   error
	paused    []string
	unpaused  []string
	inspected []string
}

func newFakeEngine(states map[string]string) *fakeEngine {
	return &fakeEngine{states: states}
}

func (f *fakeEngine) Ping(context.Context) (types.Ping, error) {
	return types.Ping{APIVersion: "1.45"}, f.pingErr
}

func (f *fakeEngine) ContainerList(_ context.Context, options container.ListOptions) ([]types.Container, error) {
	if !options.All {
		return nil, errors.New("expected all containers")
	}
	return []types.Container{
		{ID: "0123456789abcdef", Names: []string{"/sonarr"}, Image: "linuxserver/sonarr", State: "running", Status: "Up 2 hours"},
		{ID: "fedcba9876543210", Names: []string{"/radarr"}, Image: "linuxserver/radarr", State: "paused", Status: "Up 1 hour (Paused)"},
	}, nil
}

func (f *fakeEngine) ContainerInspect(_ context.Context, name string) (types.ContainerJSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inspected = append(f.inspected, name)
	state, ok := f.states[name]
	if !ok {
		return types.ContainerJSON{}, errdefs.NotFound(errors.New("No such container: " + name))
	}
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    name + "-id",
			Name:  "/" + name,
			State: &types.ContainerState{Status: state},
		},
	}, nil
}

func (f *fakeEngine) ContainerPause(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pauseErr != nil {
		return f.pauseErr
	}
	f.paused = append(f.paused, name)
	f.states[name] = "paused"
	return nil
}

func (f *fakeEngine) ContainerUnpause(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unpaused = append(f.unpaused, name)
	f.states[name] = "running"
	return nil
}

func (f *fakeEngine) Close() error { return nil }

func TestPause(t *testing.T) {
	tests := []struct {
		name   string
		state  string
		want   models.ActionResult
		paused bool
	}{
		{"running", "running", models.ActionResult{OK: true, Message: "Paused app"}, true},
		{"already paused", "paused", models.ActionResult{OK: true, Message: "app is already paused"}, false},
		{"stopped", "exited", models.ActionResult{OK: true, Message: "app is not running (status: exited), nothing to pause"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine(map[string]string{"app": tt.state})
			m := newManager(engine, zap.NewNop().Sugar())

			assert.Equal(t, tt.want, m.Pause(context.Background(), "app"))
			assert.Equal(t, tt.paused, len(engine.paused) == 1)
		})
	}
}

func TestPauseFailures(t *testing.T) {
	engine := newFakeEngine(map[string]string{"app": "running"})
	engine.pauseErr = errors.New("cgroup busy")
	m := newManager(engine, zap.NewNop().Sugar())

	assert.Equal(t, models.ActionResult{Message: "Failed to pause app: cgroup busy"}, m.Pause(context.Background(), "app"))
	assert.Equal(t, models.ActionResult{Message: "Container ghost not found"}, m.Pause(context.Background(), "ghost"))
}

func TestUnpause(t *testing.T) {
	tests := []struct {
		name  string
		state string
		want  models.ActionResult
	}{
		{"paused", "paused", models.ActionResult{OK: true, Message: "Unpaused app"}},
		{"already running", "running", models.ActionResult{OK: true, Message: "app is already running"}},
		{"stopped", "exited", models.ActionResult{Message: "app is not paused (status: exited)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine(map[string]string{"app": tt.state})
			m := newManager(engine, zap.NewNop().Sugar())
			assert.Equal(t, tt.want, m.Unpause(context.Background(), "app"))
		})
	}
}

func TestPauseManyAttemptsEveryName(t *testing.T) {
	engine := newFakeEngine(map[string]string{"radarr": "running", "sonarr": "running"})
	m := newManager(engine, zap.NewNop().Sugar())

	results := m.PauseMany(context.Background(), []string{"ghost", "radarr", "sonarr"})

	require.Len(t, results, 3)
	assert.False(t, results["ghost"].OK)
	assert.True(t, results["radarr"].OK)
	assert.True(t, results["sonarr"].OK)
	assert.Equal(t, []string{"radarr", "sonarr"}, engine.paused)

	results = m.UnpauseMany(context.Background(), []string{"radarr", "sonarr"})
	assert.True(t, models.AllOK(results))
	assert.Equal(t, []string{"radarr", "sonarr"}, engine.unpaused)
}

func TestList(t *testing.T) {
	m := newManager(newFakeEngine(nil), zap.NewNop().Sugar())

	containers, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, containers, 2)
	assert.Equal(t, models.ContainerInfo{
		Name:   "sonarr",
		ID:     "0123456789ab",
		Status: "running",
		Image:  "linuxserver/sonarr",
		State:  "Up 2 hours",
	}, containers[0])
	assert.Equal(t, "paused", containers[1].Status)
}

func TestStateNotFound(t *testing.T) {
	m := newManager(newFakeEngine(map[string]string{}), zap.NewNop().Sugar())
	_, err := m.State(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTestConnection(t *testing.T) {
	engine := newFakeEngine(nil)
	m := newManager(engine, zap.NewNop().Sugar())

	ok, msg := m.TestConnection(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "Connected to Docker", msg)

	engine.pingErr = errors.New("dial unix /var/run/docker.sock: connect: permission denied")
	ok, msg = m.TestConnection(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "Docker connection failed: dial unix /var/run/docker.sock: connect: permission denied", msg)
}
