package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestQueryMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewQueryMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordTableLoad(ctx, "orders", time.Millisecond, nil)
	m.RecordTableLoad(ctx, "ghost", time.Millisecond, errors.New("missing"))
	m.RecordGraphRoot(ctx, "orders")
	m.RecordCompose(ctx, "select", 2*time.Millisecond, nil)
	m.RecordCompose(ctx, "update", time.Millisecond, errors.New("no assignments"))
	m.RecordReplay(ctx, "orders.by_status", false)
	m.RecordReplay(ctx, "orders.by_status", true)
	m.RecordReplay(ctx, "orders.by_status", true)
	m.RecordBatchFlush(ctx, 3, nil)

	got := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, got["relquery.catalog.table_load.errors"]))
	assert.Equal(t, int64(1), sumOf(t, got["relquery.graph.roots_built"]))
	assert.Equal(t, int64(1), sumOf(t, got["relquery.compose.errors"]))
	assert.Equal(t, int64(2), sumOf(t, got["relquery.replay.hits"]))
	assert.Equal(t, int64(1), sumOf(t, got["relquery.replay.misses"]))
	assert.Equal(t, int64(1), sumOf(t, got["relquery.batch.flushes"]))

	hist, ok := got["relquery.compose.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}

func TestQueryMetrics_NilSafe(t *testing.T) {
	var m *QueryMetrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordTableLoad(ctx, "orders", time.Millisecond, nil)
		m.RecordGraphRoot(ctx, "orders")
		m.RecordCompose(ctx, "select", time.Millisecond, nil)
		m.RecordReplay(ctx, "site", true)
		m.RecordBatchFlush(ctx, 1, nil)
	})
}
