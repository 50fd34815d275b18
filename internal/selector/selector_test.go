package selector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relquery/internal/catalog"
	"relquery/internal/qerr"
)

var (
	ordersPath    = catalog.TablePath{Name: "orders"}
	customersPath = catalog.TablePath{Name: "customers"}
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

func open(t *testing.T, store Store) (*Repository, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r, err := Open(context.Background(), store, WithClock(c.now))
	require.NoError(t, err)
	return r, c
}

func TestTrackAndCommit(t *testing.T) {
	store := NewMemoryStore(nil)
	r, _ := open(t, store)

	require.NoError(t, r.Track("orders.list", ordersPath, "id", "status"))
	require.NoError(t, r.Track("orders.list", ordersPath, "status", "total"))
	u, ok := r.Get("orders.list")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "status", "total"}, u.Columns)
	assert.Equal(t, 4, r.Pending())

	require.NoError(t, r.Commit(context.Background()))
	assert.Zero(t, r.Pending())
	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "status", "total"}, stored["orders.list"].Columns)
	assert.Equal(t, 1, store.Applies)

	require.NoError(t, r.Commit(context.Background()))
	assert.Equal(t, 1, store.Applies, "empty commit does not touch the store")
}

func TestUndoRedoRestoresExactState(t *testing.T) {
	r, _ := open(t, NewMemoryStore(nil))
	require.NoError(t, r.AddID("q", ordersPath))
	require.NoError(t, r.AddColumn("q", "id"))
	require.NoError(t, r.AddColumn("q", "status"))
	require.NoError(t, r.AddColumn("q", "total"))
	before, _ := r.Get("q")

	require.NoError(t, r.RemoveColumn("q", "status"))
	after, _ := r.Get("q")
	assert.Equal(t, []string{"id", "total"}, after.Columns)

	require.NoError(t, r.Undo())
	undone, _ := r.Get("q")
	assert.Equal(t, before, undone)

	require.NoError(t, r.Redo())
	redone, _ := r.Get("q")
	assert.Equal(t, after, redone)

	require.NoError(t, r.Retarget("q", customersPath))
	moved, _ := r.Get("q")
	assert.Equal(t, customersPath, moved.Table)
	assert.Empty(t, moved.Columns)
	require.NoError(t, r.Undo())
	back, _ := r.Get("q")
	assert.Equal(t, after, back)
}

func TestNewCommandTruncatesRedo(t *testing.T) {
	r, _ := open(t, NewMemoryStore(nil))
	require.NoError(t, r.AddID("q", ordersPath))
	require.NoError(t, r.AddColumn("q", "id"))
	require.NoError(t, r.Undo())
	require.NoError(t, r.AddColumn("q", "status"))

	assert.ErrorIs(t, r.Redo(), qerr.ErrState)
	u, _ := r.Get("q")
	assert.Equal(t, []string{"status"}, u.Columns)
}

func TestUndoEverything(t *testing.T) {
	r, _ := open(t, NewMemoryStore(nil))
	require.NoError(t, r.AddID("a", ordersPath))
	require.NoError(t, r.AddColumn("a", "id"))
	require.NoError(t, r.Rename("a", "b"))
	require.NoError(t, r.Clear("b"))
	require.NoError(t, r.RemoveID("b"))
	assert.Empty(t, r.IDs())

	require.NoError(t, r.Undo())
	assert.Equal(t, []string{"b"}, r.IDs())
	require.NoError(t, r.Undo())
	u, _ := r.Get("b")
	assert.Equal(t, []string{"id"}, u.Columns)
	require.NoError(t, r.Undo())
	assert.Equal(t, []string{"a"}, r.IDs())
	require.NoError(t, r.Undo())
	require.NoError(t, r.Undo())
	assert.Empty(t, r.IDs())
	assert.ErrorIs(t, r.Undo(), qerr.ErrState)
}

func TestCommandErrors(t *testing.T) {
	r, _ := open(t, NewMemoryStore(map[string]Usage{"q": {Table: ordersPath, Columns: []string{"id"}}}))

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"duplicate id", func() error { return r.AddID("q", ordersPath) }, qerr.ErrState},
		{"empty id", func() error { return r.AddID("", ordersPath) }, qerr.ErrState},
		{"unknown id", func() error { return r.AddColumn("missing", "id") }, qerr.ErrNotFound},
		{"unknown column", func() error { return r.RemoveColumn("q", "nope") }, qerr.ErrNotFound},
		{"rename onto existing", func() error {
			if err := r.AddID("other", ordersPath); err != nil {
				return err
			}
			return r.Rename("q", "other")
		}, qerr.ErrState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.want)
		})
	}
	assert.NoError(t, r.AddColumn("q", "id"), "duplicate column is a no-op")
}

func TestCommitWritesRemovalsAndRenames(t *testing.T) {
	store := NewMemoryStore(map[string]Usage{
		"old":  {Table: ordersPath, Columns: []string{"id"}},
		"gone": {Table: customersPath},
	})
	r, _ := open(t, store)
	require.NoError(t, r.Rename("old", "new"))
	require.NoError(t, r.RemoveID("gone"))
	require.NoError(t, r.Commit(context.Background()))

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.Equal(t, []string{"id"}, stored["new"].Columns)
}

func TestRollbackReloads(t *testing.T) {
	store := NewMemoryStore(map[string]Usage{"q": {Table: ordersPath, Columns: []string{"id"}}})
	r, _ := open(t, store)
	require.NoError(t, r.AddColumn("q", "status"))
	require.NoError(t, r.RemoveID("q"))

	require.NoError(t, r.Rollback(context.Background()))
	u, ok := r.Get("q")
	require.True(t, ok)
	assert.Equal(t, []string{"id"}, u.Columns)
	assert.Zero(t, r.Pending())
	assert.ErrorIs(t, r.Undo(), qerr.ErrState)
}

func TestGetReturnsCopy(t *testing.T) {
	r, _ := open(t, NewMemoryStore(map[string]Usage{"q": {Table: ordersPath, Columns: []string{"id"}}}))
	u, _ := r.Get("q")
	u.Columns[0] = "mutated"
	again, _ := r.Get("q")
	assert.Equal(t, []string{"id"}, again.Columns)
}

func TestOpenNeedsStore(t *testing.T) {
	_, err := Open(context.Background(), nil)
	assert.ErrorIs(t, err, qerr.ErrConfiguration)
}
