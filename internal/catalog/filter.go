package catalog

import (
	"context"
	"path"
	"slices"
	"strings"

	"relquery/internal/qerr"
)

// FilterConfig controls allow/deny filters for tables and columns.
// Patterns are case-insensitive path.Match globs; the "*" key of the column
// maps applies to every table.
type FilterConfig struct {
	AllowTables  []string            `mapstructure:"allow_tables"`
	DenyTables   []string            `mapstructure:"deny_tables"`
	AllowColumns map[string][]string `mapstructure:"allow_columns"`
	DenyColumns  map[string][]string `mapstructure:"deny_columns"`
}

// IsZero reports whether the config filters nothing.
func (c FilterConfig) IsZero() bool {
	return len(c.AllowTables) == 0 && len(c.DenyTables) == 0 && len(c.AllowColumns) == 0 && len(c.DenyColumns) == 0
}

// Filtered hides tables and columns from an inner provider. Missing allow
// lists default to allow-all; deny rules always win. Foreign keys that touch a
// hidden table or column are dropped.
type Filtered struct {
	inner Provider
	cfg   FilterConfig
}

// NewFiltered wraps inner with cfg.
func NewFiltered(inner Provider, cfg FilterConfig) *Filtered {
	return &Filtered{inner: inner, cfg: cfg}
}

func (f *Filtered) check(table TablePath) error {
	if !tableAllowed(table.Name, f.cfg.AllowTables, f.cfg.DenyTables) {
		return qerr.Configuration("table %s is excluded by the catalog filter", table)
	}
	return nil
}

// Tables lists the allowed tables of schema.
func (f *Filtered) Tables(ctx context.Context, schema string) ([]TablePath, error) {
	tables, err := f.inner.Tables(ctx, schema)
	if err != nil {
		return nil, err
	}
	out := tables[:0:0]
	for _, t := range tables {
		if tableAllowed(t.Name, f.cfg.AllowTables, f.cfg.DenyTables) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Columns lists the allowed columns of table.
func (f *Filtered) Columns(ctx context.Context, table TablePath) ([]Column, error) {
	if err := f.check(table); err != nil {
		return nil, err
	}
	columns, err := f.inner.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make([]Column, 0, len(columns))
	for _, col := range columns {
		if columnAllowed(table.Name, col.Name, f.cfg.AllowColumns, f.cfg.DenyColumns) {
			out = append(out, col)
		}
	}
	return out, nil
}

// PrimaryKey reports no key when any key column is hidden.
func (f *Filtered) PrimaryKey(ctx context.Context, table TablePath) ([]string, error) {
	if err := f.check(table); err != nil {
		return nil, err
	}
	pk, err := f.inner.PrimaryKey(ctx, table)
	if err != nil {
		return nil, err
	}
	if !f.columnsAllowed(table, pk) {
		return nil, nil
	}
	return pk, nil
}

// ImportedKeys lists foreign keys whose both ends are visible.
func (f *Filtered) ImportedKeys(ctx context.Context, table TablePath) ([]ForeignKeyConstraint, error) {
	if err := f.check(table); err != nil {
		return nil, err
	}
	fks, err := f.inner.ImportedKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	return f.visible(fks), nil
}

// ExportedKeys lists referencing foreign keys whose both ends are visible.
func (f *Filtered) ExportedKeys(ctx context.Context, table TablePath) ([]ForeignKeyConstraint, error) {
	if err := f.check(table); err != nil {
		return nil, err
	}
	fks, err := f.inner.ExportedKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	return f.visible(fks), nil
}

func (f *Filtered) visible(fks []ForeignKeyConstraint) []ForeignKeyConstraint {
	var out []ForeignKeyConstraint
	for _, fk := range fks {
		if !tableAllowed(fk.Table.Name, f.cfg.AllowTables, f.cfg.DenyTables) ||
			!tableAllowed(fk.ReferencedTable.Name, f.cfg.AllowTables, f.cfg.DenyTables) {
			continue
		}
		if !f.columnsAllowed(fk.Table, fk.ColumnNames) || !f.columnsAllowed(fk.ReferencedTable, fk.ReferencedColumns) {
			continue
		}
		out = append(out, fk)
	}
	return out
}

func (f *Filtered) columnsAllowed(table TablePath, columns []string) bool {
	for _, col := range columns {
		if !columnAllowed(table.Name, col, f.cfg.AllowColumns, f.cfg.DenyColumns) {
			return false
		}
	}
	return true
}

func tableAllowed(table string, allow, deny []string) bool {
	if matchesAny(table, deny) {
		return false
	}
	if len(allow) == 0 {
		return true
	}
	return matchesAny(table, allow)
}

func columnAllowed(table, column string, allow, deny map[string][]string) bool {
	if matchesAny(column, mergePatterns(deny, table)) {
		return false
	}
	allowPatterns := mergePatterns(allow, table)
	if len(allowPatterns) == 0 {
		return true
	}
	return matchesAny(column, allowPatterns)
}

func mergePatterns(patterns map[string][]string, table string) []string {
	if patterns == nil {
		return nil
	}
	combined := append([]string{}, patterns["*"]...)
	combined = append(combined, patterns[table]...)
	return slices.Compact(combined)
}

func matchesAny(value string, patterns []string) bool {
	value = strings.ToLower(value)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		ok, err := path.Match(strings.ToLower(pattern), value)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
