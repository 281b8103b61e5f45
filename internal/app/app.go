// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/omzlo/nocan-node-manager/internal/client"
	"github.com/omzlo/nocan-node-manager/internal/clock"
	"github.com/omzlo/nocan-node-manager/internal/clock/system"
	"github.com/omzlo/nocan-node-manager/internal/config"
	"github.com/omzlo/nocan-node-manager/internal/logging"
	"github.com/omzlo/nocan-node-manager/internal/progress"
	"github.com/omzlo/nocan-node-manager/internal/progress/sinks"
	"github.com/omzlo/nocan-node-manager/internal/transport"
)

// App holds the services shared by every command: configuration, the logger,
// the clock and the progress hub that poll sessions report to.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  clock.Clock
	hub    *progress.Hub
}

// New builds an App. Progress events are logged and exported through reg.
func New(cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logging.Component(logger, "progress")},
		sinks.NewLogSink(logging.Component(logger, "session")),
		promSink,
	)
	return &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		hub:    hub,
	}, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Clock returns the wall clock used by services.
func (a *App) Clock() clock.Clock {
	return a.clock
}

// Emitter returns the progress hub as an emitter for poll sessions.
func (a *App) Emitter() progress.Emitter {
	return a.hub
}

// Client builds an API client for the configured node manager.
func (a *App) Client() (*client.Client, error) {
	tc, err := transport.New(transport.Config{
		BaseURL:   a.cfg.Client.BaseURL,
		UserAgent: a.cfg.Client.UserAgent,
		APIKey:    a.cfg.Client.APIKey,
		Timeout:   a.cfg.ClientTimeout(),
	}, nil, logging.Component(a.logger, "transport"))
	if err != nil {
		return nil, fmt.Errorf("init transport: %w", err)
	}
	return client.New(tc, client.Options{
		Interval: a.cfg.PollInterval(),
		Clock:    a.clock,
		Emitter:  a.hub,
		Logger:   logging.Component(a.logger, "poller"),
	}), nil
}

// Close drains the progress hub and flushes the logger.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.hub.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close progress hub: %w", err))
	}
	// Sync fails on terminals with ENOTTY; nothing useful can be done about it.
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
