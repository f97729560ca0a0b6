package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pausarr/pausarr/internal/models"
)

const namespace = "pausarr"

// Metrics holds the monitor collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	checks           prometheus.Counter
	sessionErrors    prometheus.Counter
	actions          *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	containersPaused prometheus.Gauge
	running          prometheus.Gauge
}

// New registers the monitor collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		checks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Number of session check cycles run while enabled.",
		}),
		sessionErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Number of check cycles aborted by a media server error.",
		}),
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "History actions recorded by the monitor, by kind.",
		}, []string{"action"}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "1 when the media server reported active sessions on the last check.",
		}),
		containersPaused: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "containers_paused",
			Help:      "1 when managed containers are believed paused.",
		}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_running",
			Help:      "1 while the polling loop is active.",
		}),
	}
}

// CheckStarted counts a check cycle.
func (m *Metrics) CheckStarted() {
	if m == nil {
		return
	}
	m.checks.Inc()
}

// SessionError counts a failed media server query.
func (m *Metrics) SessionError() {
	if m == nil {
		return
	}
	m.sessionErrors.Inc()
}

// Action counts a recorded history action.
func (m *Metrics) Action(action models.Action) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(string(action)).Inc()
}

// SetState publishes the monitor's current flags.
func (m *Metrics) SetState(running, sessionsActive, containersPaused bool) {
	if m == nil {
		return
	}
	m.running.Set(boolToFloat(running))
	m.sessionsActive.Set(boolToFloat(sessionsActive))
	m.containersPaused.Set(boolToFloat(containersPaused))
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
