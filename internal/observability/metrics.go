package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueryMetrics holds metrics for graph building, composition, replay and batching.
// A nil *QueryMetrics records nothing.
type QueryMetrics struct {
	tableLoadDuration metric.Float64Histogram
	tableLoadErrors   metric.Int64Counter
	graphRoots        metric.Int64Counter
	composeDuration   metric.Float64Histogram
	composeErrors     metric.Int64Counter
	replayHits        metric.Int64Counter
	replayMisses      metric.Int64Counter
	batchFlushes      metric.Int64Counter
	batchStatements   metric.Int64Histogram
}

// InitQueryMetrics initializes metrics on the global meter provider.
func InitQueryMetrics() (*QueryMetrics, error) {
	return NewQueryMetrics(otel.Meter("relquery"))
}

// NewQueryMetrics initializes metrics on meter.
func NewQueryMetrics(meter metric.Meter) (*QueryMetrics, error) {
	tableLoadDuration, err := meter.Float64Histogram(
		"relquery.catalog.table_load.duration",
		metric.WithDescription("Duration of table metadata loads in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create table load histogram: %w", err)
	}

	tableLoadErrors, err := meter.Int64Counter(
		"relquery.catalog.table_load.errors",
		metric.WithDescription("Number of failed table metadata loads"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create table load error counter: %w", err)
	}

	graphRoots, err := meter.Int64Counter(
		"relquery.graph.roots_built",
		metric.WithDescription("Number of table graph roots constructed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph roots counter: %w", err)
	}

	composeDuration, err := meter.Float64Histogram(
		"relquery.compose.duration",
		metric.WithDescription("Duration of statement composition in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compose duration histogram: %w", err)
	}

	composeErrors, err := meter.Int64Counter(
		"relquery.compose.errors",
		metric.WithDescription("Number of failed compositions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compose error counter: %w", err)
	}

	replayHits, err := meter.Int64Counter(
		"relquery.replay.hits",
		metric.WithDescription("Number of replay cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create replay hits counter: %w", err)
	}

	replayMisses, err := meter.Int64Counter(
		"relquery.replay.misses",
		metric.WithDescription("Number of replay cache misses (recording builds)"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create replay misses counter: %w", err)
	}

	batchFlushes, err := meter.Int64Counter(
		"relquery.batch.flushes",
		metric.WithDescription("Number of batch flushes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch flush counter: %w", err)
	}

	batchStatements, err := meter.Int64Histogram(
		"relquery.batch.statements",
		metric.WithDescription("Number of statements executed per batch flush"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch statements histogram: %w", err)
	}

	return &QueryMetrics{
		tableLoadDuration: tableLoadDuration,
		tableLoadErrors:   tableLoadErrors,
		graphRoots:        graphRoots,
		composeDuration:   composeDuration,
		composeErrors:     composeErrors,
		replayHits:        replayHits,
		replayMisses:      replayMisses,
		batchFlushes:      batchFlushes,
		batchStatements:   batchStatements,
	}, nil
}

// RecordTableLoad records one table metadata load.
func (m *QueryMetrics) RecordTableLoad(ctx context.Context, table string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("table", table))
	m.tableLoadDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.tableLoadErrors.Add(ctx, 1, attrs)
	}
}

// RecordGraphRoot records construction of a root node.
func (m *QueryMetrics) RecordGraphRoot(ctx context.Context, table string) {
	if m == nil {
		return
	}
	m.graphRoots.Add(ctx, 1, metric.WithAttributes(attribute.String("table", table)))
}

// RecordCompose records one composition of a statement kind (select, insert, ...).
func (m *QueryMetrics) RecordCompose(ctx context.Context, statement string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("statement", statement),
		attribute.Bool("has_errors", err != nil),
	}
	m.composeDuration.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(attrs...))
	if err != nil {
		m.composeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("statement", statement)))
	}
}

// RecordReplay records a replay cache lookup for a call site.
func (m *QueryMetrics) RecordReplay(ctx context.Context, site string, hit bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("site", site))
	if hit {
		m.replayHits.Add(ctx, 1, attrs)
		return
	}
	m.replayMisses.Add(ctx, 1, attrs)
}

// RecordBatchFlush records a batch flush and how many statements it ran.
func (m *QueryMetrics) RecordBatchFlush(ctx context.Context, statements int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("has_errors", err != nil))
	m.batchFlushes.Add(ctx, 1, attrs)
	m.batchStatements.Record(ctx, int64(statements), attrs)
}
