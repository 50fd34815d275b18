package app

import (
	"context"
	"fmt"
	"log/slog"

	"relquery/internal/batch"
	"relquery/internal/compose"
	"relquery/internal/from"
	"relquery/internal/graph"
	"relquery/internal/naming"
	"relquery/internal/observability"
	"relquery/internal/replay"
	"relquery/internal/selector"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	// Providers shut down in reverse order, so the logger provider goes last.
	var providers []observability.Shutdowner
	cleanup.push("telemetry providers", func(shutdownCtx context.Context) error {
		return observability.ShutdownAll(shutdownCtx, a.logger.Logger, providers...)
	})
	if a.loggerProvider != nil {
		providers = append(providers, a.loggerProvider)
	}

	meterProvider, metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		providers = append(providers, meterProvider)
	}

	tracerProvider, err := initTracing(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		providers = append(providers, tracerProvider)
	}

	db := a.db
	if db == nil {
		var dbStatsReg interface{ Unregister() error }
		db, dbStatsReg, err = connectDB(a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		cleanup.push("database", func(_ context.Context) error {
			if dbStatsReg != nil {
				if err := dbStatsReg.Unregister(); err != nil {
					a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
				}
			}
			return db.Close()
		})
		if err := configureDatabase(ctx, a.cfg, a.logger, db); err != nil {
			return fmt.Errorf("failed to verify database connection: %w", err)
		}
	}
	exec := buildExecutor(a.cfg, db)

	dialect, err := a.cfg.EffectiveDialect()
	if err != nil {
		return err
	}
	joinType, err := from.ParseJoinType(a.cfg.Composer.DefaultJoin)
	if err != nil {
		return err
	}

	schema := a.cfg.Catalog.Schema
	if schema == "" {
		schema = a.effectiveDatabase
	}
	provider, err := buildProvider(ctx, a.cfg, db, a.effectiveDatabase, schema)
	if err != nil {
		return err
	}
	factory := graph.NewFactory(
		provider,
		schema,
		graph.WithPolicy(buildPolicy(a.cfg.Composer)),
		graph.WithLogger(a.logger.Logger),
		graph.WithMetrics(metrics),
	)

	composeOpts := []compose.Option{
		compose.WithDialect(dialect),
		compose.Strict(a.cfg.Composer.Strict),
		compose.WithDefaultJoin(joinType),
		compose.WithRelocationDepth(a.cfg.Composer.RelocationDepth),
		compose.WithNamer(naming.New(a.cfg.Naming, a.logger.Logger)),
		compose.WithLogger(a.logger.Logger),
		compose.WithMetrics(metrics),
	}

	var shapes *replay.Keyed[string]
	if a.cfg.Replay.Enabled {
		shapes = replay.NewKeyed[string](replay.WithMetrics(metrics))
	}

	var usage *selector.Repository
	if a.cfg.Selector.Enabled {
		store := selector.NewSQLStore(exec, dialect, a.cfg.Selector.Table)
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare column usage table: %w", err)
		}
		usage, err = selector.Open(ctx, store, selector.WithLogger(a.logger.Logger))
		if err != nil {
			return fmt.Errorf("failed to load column usage: %w", err)
		}
	}

	metricsAddr := ""
	if a.cfg.Observability.MetricsEnabled && a.cfg.Observability.MetricsListen != "" {
		srv, addr, err := startMetricsServer(a.cfg.Observability.MetricsListen, a.logger)
		if err != nil {
			return err
		}
		metricsAddr = addr
		cleanup.push("metrics listener", srv.Shutdown)
	}

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.metrics = metrics
	a.tracerProvider = tracerProvider
	a.db = db
	a.exec = exec
	a.dialect = dialect
	a.factory = factory
	a.composeOpts = composeOpts
	a.batchOpts = []batch.Option{batch.WithMetrics(metrics)}
	a.shapes = shapes
	a.usage = usage
	a.metricsAddr = metricsAddr
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
