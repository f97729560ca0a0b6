package monitor

import (
	"context"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/pausarr/pausarr/internal/config"
	"github.com/pausarr/pausarr/internal/metrics"
	"github.com/pausarr/pausarr/internal/models"
)

// ConfigProvider exposes the live runtime settings.
type ConfigProvider interface {
	Get() config.Config
	EnabledContainers() []string
}

// SessionSource reports whether the media server currently has sessions that
// should keep the managed containers paused.
type SessionSource interface {
	HasActiveSessions(ctx context.Context) (bool, error)
}

// SessionSourceFactory builds a session source for the given connection
// settings.
type SessionSourceFactory func(settings config.Jellyfin) SessionSource

// Workloads pauses and unpauses containers by name. Every name is attempted
// regardless of earlier failures.
type Workloads interface {
	PauseMany(ctx context.Context, names []string) map[string]models.ActionResult
	UnpauseMany(ctx context.Context, names []string) map[string]models.ActionResult
}

// Config defines the collaborators of a Monitor.
type Config struct {
	Settings         ConfigProvider
	Workloads        Workloads
	NewSessionSource SessionSourceFactory
	Clock            clock.Clock
	Logger           *zap.SugaredLogger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Validate returns an error if config cannot drive a Monitor.
func (config Config) Validate() error {
	if config.Settings == nil {
		return errors.NotValidf("nil Settings")
	}
	if config.Workloads == nil {
		return errors.NotValidf("nil Workloads")
	}
	if config.NewSessionSource == nil {
		return errors.NotValidf("nil NewSessionSource")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}
