package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pausarr/pausarr/internal/models"
)

// ErrInvalidInterval is returned by Start when the configured check interval
// cannot arm the timer.
var ErrInvalidInterval = errors.New("invalid check interval")

// scheduler is the handle of one polling loop. A tick from a loop that is no
// longer the monitor's current one is discarded.
type scheduler struct {
	interval time.Duration
	stopCh   chan struct{}
	// doneCh is closed when the loop goroutine returns. Stop does not wait
	// on it; tests do.
	doneCh chan struct{}
}

// Start arms the polling loop and schedules an immediate check. It is a no-op
// when the monitor is already running.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.start()
}

// Stop cancels future checks. A check already in progress completes; Stop
// does not wait for the loop goroutine to exit.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stop()
	return nil
}

// Restart stops and starts the loop so a changed interval takes effect.
func (m *Monitor) Restart() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stop()
	return m.start()
}

func (m *Monitor) start() error {
	if m.sched != nil {
		return nil
	}

	seconds := m.config.Settings.Get().CheckInterval
	if seconds <= 0 || int64(seconds) > math.MaxInt64/int64(time.Second) {
		err := fmt.Errorf("%w: %ds", ErrInvalidInterval, seconds)
		msg := err.Error()
		m.lastError = &msg
		m.config.Logger.Errorw("cannot start monitor", "error", err)
		return err
	}

	s := &scheduler{
		interval: time.Duration(seconds) * time.Second,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	m.sched = s
	m.record(models.ActionStarted, fmt.Sprintf("Monitor started (interval: %ds)", seconds))
	m.publish()
	m.config.Logger.Infow("monitor started", "interval", s.interval)

	go m.run(s)
	return nil
}

func (m *Monitor) stop() {
	if m.sched == nil {
		return
	}
	close(m.sched.stopCh)
	m.sched = nil
	m.record(models.ActionStopped, "Monitor stopped")
	m.publish()
	m.config.Logger.Info("monitor stopped")
}

// run fires at a fixed rate: the timer is re-armed before each cycle, so a
// slow cycle delays the next one by at most its overrun.
func (m *Monitor) run(s *scheduler) {
	defer close(s.doneCh)

	timer := m.config.Clock.NewTimer(s.interval)
	defer timer.Stop()

	// The immediate check waits for Start to release the lock.
	m.tick(s)

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.Chan():
			timer.Reset(s.interval)
			m.tick(s)
		}
	}
}

func (m *Monitor) tick(s *scheduler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sched != s {
		return
	}
	m.check(context.Background())
}
