package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"relquery/internal/catalog"
	"relquery/internal/config"
	"relquery/internal/dbexec"
	"relquery/internal/graph"
	"relquery/internal/logging"
	"relquery/internal/observability"
)

// InitLogger builds the process logger and, when log export is enabled, the
// OTLP logger provider behind it. The logger becomes slog's default.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Debug("initializing OpenTelemetry logging",
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(context.Background(), otelConfig(cfg, logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func otelConfig(cfg *config.Config, otlp config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
			RetryEnabled:      otlp.RetryEnabled,
			RetryMaxAttempts:  otlp.RetryMaxAttempts,
		},
	}
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.QueryMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}

	meterProvider, err := observability.InitMeterProvider(otelConfig(cfg, config.OTLPConfig{}))
	if err != nil {
		return nil, nil, err
	}

	metrics, err := observability.InitQueryMetrics()
	if err != nil {
		if shutdownErr := meterProvider.Shutdown(context.Background(), logger.Logger); shutdownErr != nil {
			logger.Debug("failed to shut down meter provider", slog.String("error", shutdownErr.Error()))
		}
		return nil, nil, err
	}
	logger.Debug("OpenTelemetry metrics initialized")
	return meterProvider, metrics, nil
}

func initTracing(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Debug("initializing OpenTelemetry tracing",
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)
	return observability.InitTracerProvider(ctx, otelConfig(cfg, tracesConfig))
}

func dbSystem(driver string) attribute.KeyValue {
	if driver == config.DriverSQLite {
		return semconv.DBSystemSqlite
	}
	return semconv.DBSystemMySQL
}

func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	// Register custom TLS configuration if needed (for verify-ca/verify-full modes)
	if cfg.Database.Driver == config.DriverMySQL {
		if err := cfg.Database.RegisterTLS(); err != nil {
			return nil, nil, fmt.Errorf("failed to register database TLS config: %w", err)
		}
	}

	dsn, err := cfg.Database.DSN()
	if err != nil {
		return nil, nil, err
	}

	obs := cfg.Observability
	if !obs.MetricsEnabled && !obs.TracingEnabled {
		db, err := sql.Open(cfg.Database.Driver, dsn)
		return db, nil, err
	}

	system := dbSystem(cfg.Database.Driver)
	opts := []otelsql.Option{otelsql.WithAttributes(system)}
	if obs.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
	}
	switch {
	case obs.SQLCommenterEnabled && obs.TracingEnabled:
		opts = append(opts, otelsql.WithSQLCommenter(true))
	case obs.SQLCommenterEnabled:
		logger.Debug("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
	}

	db, err := otelsql.Open(cfg.Database.Driver, dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	var dbStatsReg interface{ Unregister() error }
	if obs.MetricsEnabled {
		dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(system))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}
	logger.Debug("database instrumentation enabled",
		slog.Bool("metrics", obs.MetricsEnabled),
		slog.Bool("tracing", obs.TracingEnabled),
	)
	return db, dbStatsReg, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	pool := cfg.Database.Pool
	if pool.MaxOpen > 0 {
		db.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		db.SetMaxIdleConns(pool.MaxIdle)
	}
	if pool.MaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.MaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return err
	}
	logger.Debug("connected to database",
		slog.String("driver", cfg.Database.Driver),
		slog.Int("pool_max_open", pool.MaxOpen),
	)
	return nil
}

// buildExecutor pins a prepared session per statement only when session setup
// is configured.
func buildExecutor(cfg *config.Config, db *sql.DB) dbexec.QueryExecutor {
	if len(cfg.Database.SessionInit) == 0 {
		return dbexec.NewStandardExecutor(db)
	}
	return dbexec.NewSessionExecutor(dbexec.SessionExecutorConfig{
		DB:   db,
		Init: cfg.Database.SessionInit,
	})
}

func buildProvider(ctx context.Context, cfg *config.Config, db *sql.DB, effectiveDatabase, schema string) (catalog.Provider, error) {
	var provider catalog.Provider
	if cfg.Database.Driver == config.DriverSQLite {
		provider = catalog.NewSQLite(db)
	} else {
		provider = catalog.NewInformationSchema(db, effectiveDatabase)
	}
	if !cfg.Catalog.Filters.IsZero() {
		provider = catalog.NewFiltered(provider, cfg.Catalog.Filters)
	}
	if cfg.Catalog.Preload {
		static, err := catalog.Snapshot(ctx, provider, schema)
		if err != nil {
			return nil, fmt.Errorf("failed to preload catalog: %w", err)
		}
		return static, nil
	}
	return provider, nil
}

func buildPolicy(cfg config.ComposerConfig) graph.DescentPolicy {
	policy := graph.RefuseRevisit()
	if cfg.MaxRevisits > 0 {
		policy = graph.AllowRevisits(cfg.MaxRevisits)
	}
	if cfg.MaxDepth > 0 {
		policy = graph.AllOf(policy, graph.MaxDepth(cfg.MaxDepth))
	}
	return policy
}

// startMetricsServer serves /metrics on addr and returns the server with its bound address.
func startMetricsServer(addr string, logger *logging.Logger) (*http.Server, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           otelhttp.NewHandler(mux, "metrics"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics endpoint enabled", slog.String("addr", ln.Addr().String()), slog.String("path", "/metrics"))
	return srv, ln.Addr().String(), nil
}
