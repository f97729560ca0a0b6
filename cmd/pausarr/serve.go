package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pausarr/pausarr/internal/config"
	"github.com/pausarr/pausarr/internal/docker"
	"github.com/pausarr/pausarr/internal/jellyfin"
	"github.com/pausarr/pausarr/internal/logger"
	"github.com/pausarr/pausarr/internal/metrics"
	"github.com/pausarr/pausarr/internal/monitor"
	"github.com/pausarr/pausarr/internal/server"
	"github.com/pausarr/pausarr/internal/storage"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor and the web dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			zl := logger.New(v.GetString("log-level"), v.GetString("log-format"))
			defer func() { _ = zl.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err := runServe(ctx, v, zl.Sugar())
			if err != nil {
				zl.Sugar().Errorw("pausarr stopped with error", "error", err)
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.String("config", "/config/config.yaml", "path to the configuration file")
	flags.Int("port", 5000, "HTTP port")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", string(logger.FormatConsole), "log format (console, json)")

	bind(v, flags.Lookup("config"), "CONFIG_PATH")
	bind(v, flags.Lookup("port"), "PORT")
	bind(v, flags.Lookup("log-level"), "LOG_LEVEL")
	bind(v, flags.Lookup("log-format"), "LOG_FORMAT")

	return cmd
}

func runServe(ctx context.Context, v *viper.Viper, log *zap.SugaredLogger) error {
	log.Info("starting pausarr")

	file, err := storage.NewFileStore(v.GetString("config"))
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	store, err := config.NewStore(file, config.Bootstrap(v))
	if err != nil {
		return err
	}
	log.Infow("configuration loaded", "path", store.Path())

	containers, err := docker.New(log.Named("docker"))
	if err != nil {
		return err
	}
	logConnectivity(ctx, log, "docker", containers)

	cfg := store.Get()
	if cfg.JellyfinAPIKey != "" {
		logConnectivity(ctx, log, "jellyfin", jellyfin.New(cfg.JellyfinURL, cfg.JellyfinAPIKey))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mon, err := monitor.New(monitor.Config{
		Settings:  store,
		Workloads: containers,
		NewSessionSource: func(settings config.Jellyfin) monitor.SessionSource {
			return jellyfin.NewSource(settings)
		},
		Clock:   clock.WallClock,
		Logger:  log.Named("monitor"),
		Metrics: metrics.New(registry),
	})
	if err != nil {
		return err
	}

	if cfg.Enabled && cfg.JellyfinAPIKey != "" {
		if err := mon.Start(); err != nil {
			log.Warnw("monitor not started", "error", err)
		}
	} else {
		log.Info("monitor not started, configure the Jellyfin API key first")
	}

	watcher, err := config.NewWatcher(store, log.Named("config"), func(prev, next config.Config) {
		if prev.CheckInterval == next.CheckInterval || !mon.Running() {
			return
		}
		if err := mon.Restart(); err != nil {
			log.Warnw("monitor restart failed", "error", err)
		}
	})
	if err != nil {
		log.Warnw("config hot reload disabled", "error", err)
	} else {
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Warnw("config watcher stopped", "error", err)
			}
		}()
	}

	addr := net.JoinHostPort("", strconv.Itoa(v.GetInt("port")))
	srv, err := server.New(server.Options{
		Addr:       addr,
		Monitor:    mon,
		Settings:   store,
		Containers: containers,
		NewMediaServer: func(url, apiKey string) server.MediaServer {
			return jellyfin.New(url, apiKey)
		},
		Gatherer: registry,
		Logger:   log.Named("server"),
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()
	log.Infow("pausarr listening", "addr", addr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Join(fmt.Errorf("serve http: %w", err), mon.Stop(), containers.Close())
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(mon.Stop(), srv.Shutdown(shutdownCtx), containers.Close())
}

type connectivityTester interface {
	TestConnection(ctx context.Context) (bool, string)
}

func logConnectivity(ctx context.Context, log *zap.SugaredLogger, name string, t connectivityTester) {
	ok, message := t.TestConnection(ctx)
	if ok {
		log.Infow(name+" reachable", "message", message)
		return
	}
	log.Warnw(name+" unreachable", "message", message)
}
