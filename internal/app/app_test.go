package app

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relquery/internal/config"
	"relquery/internal/logging"
	"relquery/internal/qerr"
	"relquery/internal/testutil"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: "error", Format: "text", Output: &bytes.Buffer{}})
}

func shopConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver:           config.DriverSQLite,
			ConnectionString: ":memory:",
		},
		Composer: config.ComposerConfig{
			DefaultJoin:     "left",
			RelocationDepth: 3,
		},
		Replay: config.ReplayConfig{Enabled: true},
	}
}

func openShop(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range append(append([]string{}, testutil.ShopDDL...), testutil.ShopRows...) {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return db
}

func newShopApp(t *testing.T, mutate func(*config.Config)) (*App, *sql.DB) {
	t.Helper()
	cfg := shopConfig()
	if mutate != nil {
		mutate(cfg)
	}
	db := openShop(t)
	a, err := New(cfg, testLogger(), WithDB(db))
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, db
}

func orderStatus(t *testing.T, db *sql.DB, id int64) string {
	t.Helper()
	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM orders WHERE id = ?`, id).Scan(&status))
	return status
}

func TestRunSelectFollowsForeignKey(t *testing.T) {
	a, _ := newShopApp(t, nil)
	res, err := a.Run(context.Background(), Request{
		Table:   "orders",
		Select:  []string{"id", "fk_order_customer.name"},
		Where:   []string{"status=OPEN"},
		Order:   []string{"id"},
		Execute: true,
	})
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "LEFT OUTER JOIN")
	assert.Equal(t, []any{"OPEN"}, res.Args)
	assert.Equal(t, [][]string{{"10", "Ada"}, {"12", "Grace"}}, res.Rows)
}

func TestRunReplaysSharedShape(t *testing.T) {
	a, _ := newShopApp(t, nil)
	req := Request{
		Table:   "orders",
		Select:  []string{"id", "fk_order_customer.name"},
		Where:   []string{"status=OPEN"},
		Order:   []string{"id:asc"},
		Execute: true,
	}
	first, err := a.Run(context.Background(), req)
	require.NoError(t, err)

	req.Where = []string{"status=CLOSED"}
	second, err := a.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.SQL, second.SQL)
	assert.Equal(t, []any{"CLOSED"}, second.Args)
	assert.Equal(t, [][]string{{"11", "Ada"}, {"13", "Linus"}}, second.Rows)
	assert.Equal(t, 1, a.shapes.Len())
}

func TestRunWithoutReplay(t *testing.T) {
	a, _ := newShopApp(t, func(cfg *config.Config) { cfg.Replay.Enabled = false })
	res, err := a.Run(context.Background(), Request{
		Table:   "orders",
		Select:  []string{"id"},
		Where:   []string{"customer_id=1", "total>50"},
		Execute: true,
	})
	require.NoError(t, err)
	assert.Nil(t, a.shapes)
	assert.Equal(t, []any{int64(1), float64(50)}, res.Args)
	assert.Equal(t, [][]string{{"11"}}, res.Rows)
}

func TestRunNullCondition(t *testing.T) {
	a, _ := newShopApp(t, nil)
	res, err := a.Run(context.Background(), Request{
		Table:   "customers",
		Select:  []string{"id", "name"},
		Where:   []string{"email=null"},
		Execute: true,
	})
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "IS NULL")
	assert.Empty(t, res.Args)
	assert.Equal(t, [][]string{{"3", "Linus"}}, res.Rows)
}

func TestRunComposeOnly(t *testing.T) {
	a, db := newShopApp(t, nil)
	res, err := a.Run(context.Background(), Request{
		Table: "orders",
		Set:   []string{"status=CLOSED"},
		Where: []string{"id=10"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.SQL, "UPDATE"))
	assert.Equal(t, []any{"CLOSED", int64(10)}, res.Args)
	assert.Equal(t, "OPEN", orderStatus(t, db, 10))
}

func TestRunUpdateExecutes(t *testing.T) {
	a, db := newShopApp(t, nil)
	res, err := a.Run(context.Background(), Request{
		Table:   "orders",
		Set:     []string{"status=CLOSED"},
		Where:   []string{"id=10"},
		Execute: true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.RowsAffected)
	assert.Equal(t, "CLOSED", orderStatus(t, db, 10))
}

func TestRunDeleteExecutes(t *testing.T) {
	a, db := newShopApp(t, nil)
	res, err := a.Run(context.Background(), Request{
		Table:   "order_items",
		Delete:  true,
		Where:   []string{"order_id=10", "line>=2"},
		Execute: true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.RowsAffected)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM order_items WHERE order_id = 10`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRunRejects(t *testing.T) {
	a, _ := newShopApp(t, nil)
	tests := []struct {
		name string
		req  Request
		kind error
	}{
		{"missing table", Request{}, qerr.ErrConfiguration},
		{"unfiltered update", Request{Table: "orders", Set: []string{"status=X"}}, qerr.ErrState},
		{"unfiltered delete", Request{Table: "orders", Delete: true}, qerr.ErrState},
		{"unknown table", Request{Table: "nope"}, qerr.ErrConfiguration},
		{"unknown column", Request{Table: "orders", Select: []string{"nope"}}, qerr.ErrNotFound},
		{"bad int", Request{Table: "orders", Where: []string{"id=ten"}}, qerr.ErrConfiguration},
		{"pattern on number", Request{Table: "orders", Where: []string{"id~1%"}}, qerr.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Run(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestRunBeforeInitFails(t *testing.T) {
	a, err := New(shopConfig(), testLogger())
	require.NoError(t, err)
	_, err = a.Run(context.Background(), Request{Table: "orders"})
	assert.ErrorIs(t, err, qerr.ErrState)
}

func TestRunLinesBatchesMutations(t *testing.T) {
	a, db := newShopApp(t, nil)
	input := strings.Join([]string{
		"# close every open order",
		"",
		"--table orders --select id --where status=OPEN --order id --execute",
		"--table orders --set status=CLOSED --where id=10 --execute",
		"--table orders --set 'status=CLOSED' --where \"id=12\" --execute",
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, a.RunLines(context.Background(), strings.NewReader(input), &out))

	text := out.String()
	assert.Contains(t, text, "id\n10\n12\n")
	assert.Equal(t, 2, strings.Count(text, "-- queued"))
	assert.Contains(t, text, "-- batch: 2 statements, 2 rows affected")
	assert.Equal(t, "CLOSED", orderStatus(t, db, 10))
	assert.Equal(t, "CLOSED", orderStatus(t, db, 12))
}

func TestRunLinesDiscardsOnError(t *testing.T) {
	a, db := newShopApp(t, nil)
	input := "--table orders --set status=CLOSED --where id=10 --execute\n--table orders --bogus\n"

	err := a.RunLines(context.Background(), strings.NewReader(input), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Equal(t, "OPEN", orderStatus(t, db, 10))
}

func TestTrackAndVerifyUsage(t *testing.T) {
	a, _ := newShopApp(t, func(cfg *config.Config) { cfg.Selector.Enabled = true })
	_, err := a.Run(context.Background(), Request{
		Table:  "orders",
		Select: []string{"id", "status", "fk_order_customer.name"},
		Track:  "open-orders",
	})
	require.NoError(t, err)

	u, ok := a.usage.Get("open-orders")
	require.True(t, ok)
	assert.Equal(t, "orders", u.Table.String())
	assert.Equal(t, []string{"id", "status"}, u.Columns)
	assert.NoError(t, a.VerifyUsage(context.Background()))
}

func TestTrackedRunLogsQueryID(t *testing.T) {
	var buf bytes.Buffer
	cfg := shopConfig()
	cfg.Selector.Enabled = true
	logger := logging.NewLogger(logging.Config{Level: "debug", Format: "text", Output: &buf})
	a, err := New(cfg, logger, WithDB(openShop(t)))
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	_, err = a.Run(context.Background(), Request{Table: "orders", Select: []string{"id"}, Track: "by-id"})
	require.NoError(t, err)

	var recorded string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "recorded statement shape") {
			recorded = line
		}
	}
	require.NotEmpty(t, recorded)
	assert.Contains(t, recorded, "query_id=by-id")
	assert.Contains(t, recorded, "table=orders")
	assert.Contains(t, recorded, "component=replay")

	u, ok := a.usage.Get("by-id")
	require.True(t, ok)
	assert.Equal(t, []string{"id"}, u.Columns)
}

func TestInitPreloadsCatalog(t *testing.T) {
	cfg := shopConfig()
	cfg.Catalog.Preload = true
	db := openShop(t)
	a, err := New(cfg, testLogger(), WithDB(db))
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	// Tables created after startup are not visible to a preloaded catalog.
	_, err = db.Exec(`CREATE TABLE late (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = a.Run(context.Background(), Request{Table: "late"})
	assert.ErrorIs(t, err, qerr.ErrConfiguration)

	res, err := a.Run(context.Background(), Request{Table: "orders", Select: []string{"id"}, Where: []string{"id=10"}, Execute: true})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"10"}}, res.Rows)
}

func TestTrackNeedsSelector(t *testing.T) {
	a, _ := newShopApp(t, nil)
	_, err := a.Run(context.Background(), Request{Table: "orders", Select: []string{"id"}, Track: "q"})
	assert.ErrorIs(t, err, qerr.ErrConfiguration)
	assert.ErrorIs(t, a.VerifyUsage(context.Background()), qerr.ErrConfiguration)
}

func TestInitOpensConfiguredDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.db")
	seed, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	for _, stmt := range append(append([]string{}, testutil.ShopDDL...), testutil.ShopRows...) {
		_, err := seed.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, seed.Close())

	cfg := shopConfig()
	cfg.Database.ConnectionString = path
	a, err := New(cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))
	require.NoError(t, a.Init(context.Background()))

	res, err := a.Run(context.Background(), Request{Table: "regions", Select: []string{"name"}, Order: []string{"id:desc"}, Execute: true})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"south"}, {"north"}}, res.Rows)
	require.NoError(t, a.Shutdown(context.Background()))
}

func TestInitFailureDoesNotMarkInitialized(t *testing.T) {
	cfg := shopConfig()
	cfg.Database.ConnectionString = "file:" + filepath.Join(t.TempDir(), "missing", "shop.db") + "?mode=ro"
	a, err := New(cfg, testLogger())
	require.NoError(t, err)

	require.Error(t, a.Init(context.Background()))
	a.stateMu.Lock()
	initialized := a.initialized
	a.stateMu.Unlock()
	assert.False(t, initialized)
}

func TestShutdownIdempotent(t *testing.T) {
	a := &App{logger: testLogger()}
	var calls int32
	a.cleanup.push("test", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))
	require.NoError(t, a.Shutdown(ctx))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestInitStartsMetricsListener(t *testing.T) {
	a, _ := newShopApp(t, func(cfg *config.Config) {
		cfg.Observability.MetricsEnabled = true
		cfg.Observability.MetricsListen = "127.0.0.1:0"
		cfg.Observability.ServiceName = "relquery"
	})
	assert.NotEmpty(t, a.MetricsAddr())
	assert.NotNil(t, a.Factory())
	assert.NotNil(t, a.Executor())
}
