package main

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relquery/internal/testutil"
)

func seedShop(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "shop.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range append(append([]string{}, testutil.ShopDDL...), testutil.ShopRows...) {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return path
}

func baseArgs(path string) []string {
	return []string{
		"--database.driver", "sqlite3",
		"--database.dsn", path,
		"--observability.metrics_enabled=false",
		"--observability.logging.level", "error",
	}
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--version"}, nil, &out))
	assert.Equal(t, "relquery dev (none)\n", out.String())
}

func TestRunSelect(t *testing.T) {
	path := seedShop(t)
	args := append(baseArgs(path),
		"--table", "orders",
		"--select", "id,fk_order_customer.name",
		"--where", "status=OPEN",
		"--order", "id",
		"--execute",
	)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), args, nil, &out))
	assert.Contains(t, out.String(), `-- args: ["OPEN"]`)
	assert.Contains(t, out.String(), "10\tAda\n12\tGrace\n")
}

func TestRunStdinCommitsBatch(t *testing.T) {
	path := seedShop(t)
	input := strings.Join([]string{
		"--table orders --set status=CLOSED --where status=OPEN --execute",
		"--table order_items --delete --where order_id=12 --execute",
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), append(baseArgs(path), "--stdin"), strings.NewReader(input), &out))
	assert.Contains(t, out.String(), "-- batch: 2 statements, 3 rows affected")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	var open int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM orders WHERE status = 'OPEN'`).Scan(&open))
	assert.Zero(t, open)
}

func TestRunVerifyUsage(t *testing.T) {
	path := seedShop(t)
	args := append(baseArgs(path), "--selector.enabled", "--table", "orders", "--select", "id,status", "--track", "orders-list")
	require.NoError(t, run(context.Background(), args, nil, &bytes.Buffer{}))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), append(baseArgs(path), "--selector.enabled", "--verify-usage"), nil, &out))
	assert.Equal(t, "column usage verified\n", out.String())
}

func TestRunRejectsInvalidConfiguration(t *testing.T) {
	seedShop(t)
	err := run(context.Background(), []string{"--database.driver", "oracle", "--table", "orders"}, nil, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}

func TestRunRejectsStdinTwice(t *testing.T) {
	path := seedShop(t)
	args := append(baseArgs(path), "--database.password_file", "@-", "--stdin")
	err := run(context.Background(), args, strings.NewReader(""), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.password_file")
}

func TestRunUnknownFlag(t *testing.T) {
	err := run(context.Background(), []string{"--nope"}, nil, &bytes.Buffer{})
	assert.Error(t, err)
}
