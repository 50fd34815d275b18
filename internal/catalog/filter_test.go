package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relquery/internal/qerr"
)

func TestFilteredTables(t *testing.T) {
	f := NewFiltered(NewStatic(shopTables()...), FilterConfig{DenyTables: []string{"audit_*"}})

	tables, err := f.Tables(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []TablePath{{Name: "customers"}, {Name: "orders"}}, tables)

	_, err = f.Columns(context.Background(), TablePath{Name: "audit_log"})
	assert.ErrorIs(t, err, qerr.ErrConfiguration)
}

func TestFilteredDropsKeysToHiddenTables(t *testing.T) {
	f := NewFiltered(NewStatic(shopTables()...), FilterConfig{AllowTables: []string{"ORDERS"}})

	fks, err := f.ImportedKeys(context.Background(), TablePath{Name: "orders"})
	require.NoError(t, err)
	assert.Empty(t, fks)
}

func TestFilteredColumns(t *testing.T) {
	f := NewFiltered(NewStatic(shopTables()...), FilterConfig{
		DenyColumns: map[string][]string{"orders": {"customer_*"}},
	})
	ctx := context.Background()

	cols, err := f.Columns(ctx, TablePath{Name: "orders"})
	require.NoError(t, err)
	var names []string
	for _, c := range cols {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"id", "status"}, names)

	fks, err := f.ImportedKeys(ctx, TablePath{Name: "orders"})
	require.NoError(t, err)
	assert.Empty(t, fks)

	exported, err := f.ExportedKeys(ctx, TablePath{Name: "customers"})
	require.NoError(t, err)
	assert.Empty(t, exported)
}

func TestFilteredPrimaryKeyHidden(t *testing.T) {
	f := NewFiltered(NewStatic(shopTables()...), FilterConfig{
		DenyColumns: map[string][]string{"*": {"id"}},
	})

	pk, err := f.PrimaryKey(context.Background(), TablePath{Name: "customers"})
	require.NoError(t, err)
	assert.Empty(t, pk)
	assert.True(t, FilterConfig{}.IsZero())
}
