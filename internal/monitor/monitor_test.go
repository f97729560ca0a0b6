package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	jujuerrors "github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pausarr/pausarr/internal/config"
	"github.com/pausarr/pausarr/internal/metrics"
	"github.com/pausarr/pausarr/internal/models"
)

type fakeSettings struct {
	mu  sync.Mutex
	cfg config.Config
}

func newFakeSettings(containers ...string) *fakeSettings {
	cfg := config.DefaultConfig()
	cfg.JellyfinAPIKey = "key"
	for _, name := range containers {
		cfg.Containers[name] = config.Container{Enabled: true}
	}
	return &fakeSettings{cfg: cfg}
}

func (f *fakeSettings) Get() config.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.Clone()
}

func (f *fakeSettings) EnabledContainers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.EnabledContainers()
}

func (f *fakeSettings) update(fn func(*config.Config)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.cfg)
}

type fakeSource struct {
	mu     sync.Mutex
	active bool
	err    error
	calls  int
	gate   chan struct{}
}

func (f *fakeSource) HasActiveSessions(context.Context) (bool, error) {
	f.mu.Lock()
	f.calls++
	active, err, gate := f.active, f.err, f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return active, err
}

// hold makes later calls block until gate is closed.
func (f *fakeSource) hold(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = gate
}

func (f *fakeSource) set(active bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = active
	f.err = err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type mockWorkloads struct {
	mock.Mock
}

func (m *mockWorkloads) PauseMany(ctx context.Context, names []string) map[string]models.ActionResult {
	args := m.Called(ctx, names)
	return args.Get(0).(map[string]models.ActionResult)
}

func (m *mockWorkloads) UnpauseMany(ctx context.Context, names []string) map[string]models.ActionResult {
	args := m.Called(ctx, names)
	return args.Get(0).(map[string]models.ActionResult)
}

func okResults(prefix string, names ...string) map[string]models.ActionResult {
	out := make(map[string]models.ActionResult, len(names))
	for _, name := range names {
		out[name] = models.ActionResult{OK: true, Message: prefix + " " + name}
	}
	return out
}

type fixture struct {
	monitor   *Monitor
	settings  *fakeSettings
	source    *fakeSource
	workloads *mockWorkloads
	clock     *testclock.Clock
	registry  *prometheus.Registry
	built     []config.Jellyfin
}

func newFixture(t *testing.T, containers ...string) *fixture {
	t.Helper()
	f := &fixture{
		settings:  newFakeSettings(containers...),
		source:    &fakeSource{},
		workloads: &mockWorkloads{},
		clock:     testclock.NewClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		registry:  prometheus.NewRegistry(),
	}
	m, err := New(Config{
		Settings:  f.settings,
		Workloads: f.workloads,
		NewSessionSource: func(settings config.Jellyfin) SessionSource {
			f.built = append(f.built, settings)
			return f.source
		},
		Clock:   f.clock,
		Logger:  zaptest.NewLogger(t).Sugar(),
		Metrics: metrics.New(f.registry),
	})
	require.NoError(t, err)
	f.monitor = m
	return f
}

func actions(entries []models.HistoryEntry) []models.Action {
	out := make([]models.Action, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, jujuerrors.IsNotValid(err))

	f := newFixture(t)
	cfg := f.monitor.config
	cfg.Clock = nil
	_, err = New(cfg)
	assert.True(t, jujuerrors.IsNotValid(err))
}

func TestCheckPausesWhenSessionsStart(t *testing.T) {
	f := newFixture(t, "sonarr", "radarr")
	f.source.set(true, nil)
	f.workloads.On("PauseMany", mock.Anything, []string{"radarr", "sonarr"}).
		Return(okResults("Paused", "radarr", "sonarr")).Once()

	f.monitor.Check(context.Background())

	status := f.monitor.Status()
	assert.Equal(t, []models.Action{
		models.ActionSessionsStarted,
		models.ActionPause,
		models.ActionPause,
	}, actions(status.History))
	assert.Equal(t, "Paused radarr", status.History[1].Details)
	assert.Equal(t, "Paused sonarr", status.History[2].Details)
	assert.True(t, status.ContainersPaused)
	assert.True(t, status.SessionsActive)
	require.NotNil(t, status.LastAction)
	assert.Equal(t, "Paused containers", *status.LastAction)
	require.NotNil(t, status.LastCheck)
	assert.Nil(t, status.Error)

	// Steady state does nothing.
	f.monitor.Check(context.Background())
	assert.Len(t, f.monitor.Status().History, 3)
	f.workloads.AssertExpectations(t)
	f.workloads.AssertNumberOfCalls(t, "PauseMany", 1)
}

func TestCheckUnpausesWhenSessionsEnd(t *testing.T) {
	f := newFixture(t, "sonarr")
	f.workloads.On("PauseMany", mock.Anything, []string{"sonarr"}).Return(okResults("Paused", "sonarr")).Once()
	f.workloads.On("UnpauseMany", mock.Anything, []string{"sonarr"}).Return(okResults("Unpaused", "sonarr")).Once()

	f.source.set(true, nil)
	f.monitor.Check(context.Background())
	f.source.set(false, nil)
	f.monitor.Check(context.Background())
	f.monitor.Check(context.Background())

	status := f.monitor.Status()
	assert.Equal(t, []models.Action{
		models.ActionSessionsStarted,
		models.ActionPause,
		models.ActionSessionsEnded,
		models.ActionUnpause,
	}, actions(status.History))
	assert.False(t, status.ContainersPaused)
	assert.False(t, status.SessionsActive)
	assert.Equal(t, "Unpaused containers", *status.LastAction)
	f.workloads.AssertExpectations(t)
	f.workloads.AssertNumberOfCalls(t, "UnpauseMany", 1)
}

func TestCheckRecordsFailuresWithoutAbortingBatch(t *testing.T) {
	f := newFixture(t, "sonarr", "radarr")
	f.source.set(true, nil)
	f.workloads.On("PauseMany", mock.Anything, []string{"radarr", "sonarr"}).Return(map[string]models.ActionResult{
		"radarr": {OK: false, Message: "Failed to pause radarr: boom"},
		"sonarr": {OK: true, Message: "Paused sonarr"},
	}).Once()

	f.monitor.Check(context.Background())

	status := f.monitor.Status()
	assert.Equal(t, []models.Action{
		models.ActionSessionsStarted,
		models.ActionPauseFailed,
		models.ActionPause,
	}, actions(status.History))
	assert.True(t, status.ContainersPaused)
	assert.Nil(t, status.Error)

	expected := `
# HELP pausarr_actions_total History actions recorded by the monitor, by kind.
# TYPE pausarr_actions_total counter
pausarr_actions_total{action="pause"} 1
pausarr_actions_total{action="pause_failed"} 1
pausarr_actions_total{action="sessions_started"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "pausarr_actions_total"))
}

func TestSessionErrorLeavesEdgeStateUntouched(t *testing.T) {
	f := newFixture(t, "sonarr")
	f.workloads.On("PauseMany", mock.Anything, []string{"sonarr"}).Return(okResults("Paused", "sonarr")).Once()
	f.workloads.On("UnpauseMany", mock.Anything, []string{"sonarr"}).Return(okResults("Unpaused", "sonarr")).Once()

	f.source.set(true, nil)
	f.monitor.Check(context.Background())

	f.source.set(false, errors.New("cannot connect to jellyfin"))
	f.monitor.Check(context.Background())

	status := f.monitor.Status()
	require.NotNil(t, status.Error)
	assert.Equal(t, "cannot connect to jellyfin", *status.Error)
	last := status.History[len(status.History)-1]
	assert.Equal(t, models.ActionError, last.Action)
	assert.Equal(t, "cannot connect to jellyfin", last.Details)
	assert.True(t, status.SessionsActive)

	// Recovery with sessions still active is not a new edge.
	f.source.set(true, nil)
	f.monitor.Check(context.Background())
	assert.Nil(t, f.monitor.Status().Error)
	f.workloads.AssertNumberOfCalls(t, "PauseMany", 1)

	f.source.set(false, nil)
	f.monitor.Check(context.Background())
	f.workloads.AssertExpectations(t)
}

func TestDisabledCheckIsNoop(t *testing.T) {
	f := newFixture(t, "sonarr")
	f.source.set(false, errors.New("api error: HTTP 500"))
	f.monitor.Check(context.Background())
	before := f.monitor.Status()
	require.NotNil(t, before.LastCheck)
	require.NotNil(t, before.Error)

	f.settings.update(func(c *config.Config) { c.Enabled = false })
	f.clock.Advance(time.Minute)
	f.source.set(true, nil)
	f.monitor.Check(context.Background())

	after := f.monitor.Status()
	assert.Equal(t, *before.LastCheck, *after.LastCheck)
	assert.Equal(t, *before.Error, *after.Error)
	assert.Equal(t, before.History, after.History)
	assert.Equal(t, 1, f.source.callCount())
	f.workloads.AssertNotCalled(t, "PauseMany", mock.Anything, mock.Anything)
}

func TestEdgeTrackedWithoutEnabledContainers(t *testing.T) {
	f := newFixture(t)
	f.source.set(true, nil)
	f.monitor.Check(context.Background())
	assert.Empty(t, f.monitor.Status().History)

	f.settings.update(func(c *config.Config) {
		c.Containers["sonarr"] = config.Container{Enabled: true}
	})
	f.monitor.Check(context.Background())
	f.workloads.AssertNotCalled(t, "PauseMany", mock.Anything, mock.Anything)

	f.workloads.On("UnpauseMany", mock.Anything, []string{"sonarr"}).Return(okResults("Unpaused", "sonarr")).Once()
	f.source.set(false, nil)
	f.monitor.Check(context.Background())
	f.workloads.AssertExpectations(t)
}

func TestHistoryIsBounded(t *testing.T) {
	f := newFixture(t, "sonarr")
	for i := 0; i < 60; i++ {
		f.source.set(false, fmt.Errorf("failure %d", i))
		f.monitor.Check(context.Background())
	}

	assert.Equal(t, 50, f.monitor.history.Len())
	status := f.monitor.Status()
	require.Len(t, status.History, 20)
	assert.Equal(t, "failure 40", status.History[0].Details)
	assert.Equal(t, "failure 59", status.History[19].Details)
	assert.Equal(t, 50, f.monitor.history.Len())
}

func TestStatusIsACopy(t *testing.T) {
	f := newFixture(t, "sonarr")
	f.source.set(true, nil)
	f.workloads.On("PauseMany", mock.Anything, []string{"sonarr"}).Return(okResults("Paused", "sonarr"))
	f.monitor.Check(context.Background())

	status := f.monitor.Status()
	status.History[0].Details = "changed"
	*status.LastAction = "changed"
	*status.LastCheck = time.Time{}

	again := f.monitor.Status()
	assert.Equal(t, "Active sessions detected", again.History[0].Details)
	assert.Equal(t, "Paused containers", *again.LastAction)
	assert.False(t, again.LastCheck.IsZero())
}

func TestForcePause(t *testing.T) {
	f := newFixture(t, "sonarr", "radarr")
	results := map[string]models.ActionResult{
		"radarr": {OK: true, Message: "Paused radarr"},
		"sonarr": {OK: false, Message: "Container sonarr not found"},
	}
	f.workloads.On("PauseMany", mock.Anything, []string{"radarr", "sonarr"}).Return(results).Once()

	got := f.monitor.ForcePause(context.Background())

	assert.Equal(t, results, got)
	status := f.monitor.Status()
	assert.True(t, status.ContainersPaused)
	assert.False(t, status.SessionsActive)
	assert.Equal(t, "Force paused containers", *status.LastAction)
	require.Len(t, status.History, 1)
	assert.Equal(t, models.ActionForcePause, status.History[0].Action)
	assert.Equal(t, "Manual pause triggered", status.History[0].Details)

	// Edge memory is untouched so a real session start still pauses.
	f.workloads.On("PauseMany", mock.Anything, []string{"radarr", "sonarr"}).Return(okResults("Paused", "radarr", "sonarr")).Once()
	f.source.set(true, nil)
	f.monitor.Check(context.Background())
	f.workloads.AssertExpectations(t)
}

func TestForceUnpause(t *testing.T) {
	f := newFixture(t, "sonarr")
	f.workloads.On("PauseMany", mock.Anything, []string{"sonarr"}).Return(okResults("Paused", "sonarr")).Once()
	f.workloads.On("UnpauseMany", mock.Anything, []string{"sonarr"}).Return(okResults("Unpaused", "sonarr")).Once()
	f.source.set(true, nil)
	f.monitor.Check(context.Background())

	got := f.monitor.ForceUnpause(context.Background())

	assert.True(t, models.AllOK(got))
	status := f.monitor.Status()
	assert.False(t, status.ContainersPaused)
	assert.True(t, status.SessionsActive)
	assert.Equal(t, "Force unpaused containers", *status.LastAction)
	assert.Equal(t, models.ActionForceUnpause, status.History[len(status.History)-1].Action)
	f.workloads.AssertExpectations(t)
}

func TestSessionSourceRebuiltOnSettingsChange(t *testing.T) {
	f := newFixture(t)
	f.monitor.Check(context.Background())
	f.monitor.Check(context.Background())
	require.Len(t, f.built, 1)

	f.settings.update(func(c *config.Config) { c.SessionTrigger = config.TriggerPlaying })
	f.monitor.Check(context.Background())
	require.Len(t, f.built, 2)
	assert.Equal(t, config.TriggerPlaying, f.built[1].Trigger)

	f.settings.update(func(c *config.Config) { c.CheckInterval = 60 })
	f.monitor.Check(context.Background())
	assert.Len(t, f.built, 2)
}

func TestConcurrentStatusSeesMonotonicHistory(t *testing.T) {
	f := newFixture(t, "sonarr")
	f.source.set(false, errors.New("timeout"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 15; i++ {
			f.monitor.Check(context.Background())
		}
	}()

	prev := 0
	for i := 0; i < 200; i++ {
		n := len(f.monitor.Status().History)
		require.GreaterOrEqual(t, n, prev)
		prev = n
	}
	wg.Wait()
	assert.Len(t, f.monitor.Status().History, 15)
}
