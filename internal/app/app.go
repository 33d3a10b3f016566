// Package app initializes and holds long-lived vault services, acting as a
// dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tidefall/newsvault/internal/clock"
	"github.com/tidefall/newsvault/internal/config"
	"github.com/tidefall/newsvault/internal/engine"
	"github.com/tidefall/newsvault/internal/events"
	"github.com/tidefall/newsvault/internal/events/sinks"
	iduuid "github.com/tidefall/newsvault/internal/id/uuid"
	"github.com/tidefall/newsvault/internal/logging"
	"github.com/tidefall/newsvault/internal/registry"
	"github.com/tidefall/newsvault/internal/store"
	"github.com/tidefall/newsvault/internal/validator"
)

const closeTimeout = 10 * time.Second

// App holds the shared, long-lived services for one command invocation: the
// validated configuration, the logger, the engine facade over storage, and
// the event hub. It is built once at startup and passed to the commands that
// need it.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	engine  *engine.Engine
	hub     *events.Hub
	metrics *prometheus.Registry
}

// GetConfig returns the validated configuration the services were built from.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetEngine returns the vault engine facade.
func (a *App) GetEngine() *engine.Engine {
	return a.engine
}

// GetHub returns the event hub; ingest pipelines emit batch events through it.
func (a *App) GetHub() *events.Hub {
	return a.hub
}

// GetMetricsRegistry exposes the registry carrying event-sink collectors.
func (a *App) GetMetricsRegistry() *prometheus.Registry {
	return a.metrics
}

// New creates and initializes the App from the provided viper instance. It is
// the central point for service initialization and fails fast when any
// service cannot be built.
func New(v *viper.Viper) (*App, error) {
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	policy, err := store.ParseDuplicatePolicy(cfg.Storage.DuplicatePolicy)
	if err != nil {
		return nil, fmt.Errorf("configure storage: %w", err)
	}
	routing, err := store.ParseRouting(cfg.Storage.Routing)
	if err != nil {
		return nil, fmt.Errorf("configure storage: %w", err)
	}

	clk := clock.NewSystem()
	ids := iduuid.New()

	reg, err := registry.New(registry.Config{
		BaseDir:     cfg.Storage.BaseDir,
		LegacyRoots: cfg.Migration.LegacyRoots,
	}, logger, clk, ids)
	if err != nil {
		return nil, fmt.Errorf("initialize registry: %w", err)
	}

	st, err := store.New(store.Config{
		PoolSize:         cfg.Storage.PoolSize,
		CheckoutTimeout:  cfg.CheckoutTimeout(),
		BusyTimeout:      cfg.BusyTimeout(),
		MaxRetryAttempts: cfg.Storage.MaxRetryAttempts,
		BackoffInitial:   cfg.BackoffInitial(),
		BackoffMax:       cfg.BackoffMax(),
		Routing:          routing,
	}, reg, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}

	metricsReg := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(metricsReg)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initialize metrics sink: %w", err)
	}
	hub := events.NewHub(events.Config{
		BufferSize:     cfg.Events.BufferSize,
		MaxBatchEvents: cfg.Events.MaxBatchEvents,
		MaxBatchWait:   cfg.MaxBatchWait(),
		Logger:         logger,
	}, sinks.NewLogSink(logger), promSink)

	vld := validator.New(st, clk, ids, logger)
	eng := engine.New(engine.Config{DuplicatePolicy: policy}, st, vld, hub, clk, ids, logger)

	logger.Info("vault services initialized",
		zap.String("base_dir", cfg.Storage.BaseDir),
		zap.String("duplicate_policy", cfg.Storage.DuplicatePolicy),
		zap.String("routing", cfg.Storage.Routing))

	return &App{
		cfg:     cfg,
		logger:  logger,
		engine:  eng,
		hub:     hub,
		metrics: metricsReg,
	}, nil
}

// Close gracefully shuts down all services: storage first, then the event hub
// so queued events still flush, then a final log sync. It is called by a
// Cobra hook after the command finishes.
func (a *App) Close() {
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("error closing storage", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("error closing event hub", zap.Error(err))
	}
	_ = a.logger.Sync() //nolint:errcheck // best-effort flush
}
