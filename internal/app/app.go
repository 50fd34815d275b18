// Package app wires configuration, the database, the catalog and the composer
// into the relquery command.
package app

import (
	"database/sql"
	"fmt"
	"sync"

	"relquery/internal/batch"
	"relquery/internal/compose"
	"relquery/internal/config"
	"relquery/internal/dbexec"
	"relquery/internal/graph"
	"relquery/internal/logging"
	"relquery/internal/observability"
	"relquery/internal/replay"
	"relquery/internal/selector"
	"relquery/internal/sqlutil"
)

// App owns runtime resources for one relquery invocation.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	tracerProvider *observability.TracerProvider
	metrics        *observability.QueryMetrics

	effectiveDatabase string

	db   *sql.DB
	exec dbexec.QueryExecutor

	dialect     sqlutil.Dialect
	factory     *graph.Factory
	composeOpts []compose.Option
	batchOpts   []batch.Option
	shapes      *replay.Keyed[string]
	usage       *selector.Repository

	metricsAddr string

	cleanup cleanupStack

	stateMu     sync.Mutex
	initialized bool

	shutdownOnce sync.Once
}

// Option configures an App.
type Option func(*App)

// WithDB makes the App use db instead of opening one from the configuration.
// The caller keeps ownership of db.
func WithDB(db *sql.DB) Option {
	return func(a *App) { a.db = db }
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	effectiveDatabase, err := cfg.Database.EffectiveDatabaseName()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve effective database configuration: %w", err)
	}

	a := &App{
		cfg:               cfg,
		logger:            logger,
		effectiveDatabase: effectiveDatabase,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Factory returns the graph factory. Init must have completed.
func (a *App) Factory() *graph.Factory { return a.factory }

// Executor returns the statement executor. Init must have completed.
func (a *App) Executor() dbexec.QueryExecutor { return a.exec }

// MetricsAddr returns the bound address of the metrics listener, or "".
func (a *App) MetricsAddr() string { return a.metricsAddr }
