// Package compose turns clause trees and join graphs into SQL text plus an
// ordered binder list.
package compose

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relquery/internal/binder"
	"relquery/internal/column"
	"relquery/internal/from"
	"relquery/internal/naming"
	"relquery/internal/observability"
	"relquery/internal/sqlutil"
)

// Decorator rewrites a fully rendered top-level statement.
type Decorator func(sql string, binders []binder.Binder) (string, []binder.Binder, error)

type config struct {
	dialect     sqlutil.Dialect
	strict      bool
	defaultJoin from.JoinType
	depth       int
	namer       *naming.Namer
	logger      *slog.Logger
	metrics     *observability.QueryMetrics
	decorators  []Decorator
}

func defaultConfig() config {
	return config{
		dialect: sqlutil.MySQL,
		depth:   column.DefaultSearchDepth,
		namer:   naming.Default(),
		logger:  slog.Default(),
	}
}

// Option configures a statement.
type Option func(*config)

// WithDialect sets quoting, placeholder and pagination syntax.
func WithDialect(d sqlutil.Dialect) Option {
	return func(c *config) { c.dialect = d }
}

// Strict makes a SELECT without columns a State error instead of SELECT *.
func Strict(on bool) Option {
	return func(c *config) { c.strict = on }
}

// WithDefaultJoin sets the join type for nodes pulled in by columns.
func WithDefaultJoin(t from.JoinType) Option {
	return func(c *config) { c.defaultJoin = t }
}

// WithRelocationDepth bounds the search used to relocate columns onto the root.
func WithRelocationDepth(depth int) Option {
	return func(c *config) {
		if depth > 0 {
			c.depth = depth
		}
	}
}

// WithNamer sets the alias prefix derivation.
func WithNamer(n *naming.Namer) Option {
	return func(c *config) {
		if n != nil {
			c.namer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records composition counts and durations.
func WithMetrics(m *observability.QueryMetrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithDecorators appends top-level rewrite hooks, applied in order before
// placeholder rewriting.
func WithDecorators(ds ...Decorator) Option {
	return func(c *config) { c.decorators = append(c.decorators, ds...) }
}

func newConfig(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.logger = cfg.logger.With(slog.String("component", "compose"))
	return cfg
}

// decorate applies user decorators, then rewrites placeholders for the dialect.
func (c config) decorate(sql string, binders []binder.Binder) (string, []binder.Binder, error) {
	for _, d := range c.decorators {
		var err error
		sql, binders, err = d(sql, binders)
		if err != nil {
			return "", nil, err
		}
	}
	sql, err := c.dialect.ReplacePlaceholders(sql)
	if err != nil {
		return "", nil, err
	}
	return sql, binders, nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("relquery/compose")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
