package catalog

import (
	"context"

	"relquery/internal/qerr"
)

// Static serves catalog metadata from memory. It is immutable after construction.
type Static struct {
	tables map[TablePath]Table
	order  []TablePath
}

// NewStatic builds a provider over tables. Later duplicates replace earlier ones.
func NewStatic(tables ...Table) *Static {
	s := &Static{tables: make(map[TablePath]Table, len(tables))}
	for _, t := range tables {
		if _, exists := s.tables[t.Path]; !exists {
			s.order = append(s.order, t.Path)
		}
		s.tables[t.Path] = t
	}
	return s
}

// Table returns the stored table for path.
func (s *Static) Table(path TablePath) (Table, error) {
	if t, ok := s.tables[path]; ok {
		return t, nil
	}
	if path.Schema == "" {
		var found []Table
		for _, p := range s.order {
			if p.Name == path.Name {
				found = append(found, s.tables[p])
			}
		}
		if len(found) == 1 {
			return found[0], nil
		}
		if len(found) > 1 {
			return Table{}, qerr.Ambiguous("table %q exists in %d schemas", path.Name, len(found))
		}
	}
	return Table{}, qerr.Configuration("table %s is not in the catalog", path)
}

// All returns every table in registration order.
func (s *Static) All() []Table {
	out := make([]Table, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, s.tables[p])
	}
	return out
}

// Tables lists tables of schema; an empty schema lists every table.
func (s *Static) Tables(_ context.Context, schema string) ([]TablePath, error) {
	var out []TablePath
	for _, p := range s.order {
		if schema == "" || p.Schema == schema {
			out = append(out, p)
		}
	}
	return out, nil
}

// Columns lists the columns of table.
func (s *Static) Columns(_ context.Context, table TablePath) ([]Column, error) {
	t, err := s.Table(table)
	if err != nil {
		return nil, err
	}
	columns := make([]Column, len(t.Columns))
	copy(columns, t.Columns)
	markPrimaryKey(columns, t.PrimaryKey)
	return columns, nil
}

// PrimaryKey lists the primary key columns of table.
func (s *Static) PrimaryKey(_ context.Context, table TablePath) ([]string, error) {
	t, err := s.Table(table)
	if err != nil {
		return nil, err
	}
	if len(t.PrimaryKey) > 0 {
		return append([]string(nil), t.PrimaryKey...), nil
	}
	return PrimaryKeyNames(t), nil
}

// ImportedKeys lists foreign keys declared on table.
func (s *Static) ImportedKeys(_ context.Context, table TablePath) ([]ForeignKeyConstraint, error) {
	t, err := s.Table(table)
	if err != nil {
		return nil, err
	}
	return ForeignKeyConstraints(t.Path, t.ForeignKeys), nil
}

// ExportedKeys lists foreign keys in the catalog that reference table.
func (s *Static) ExportedKeys(_ context.Context, table TablePath) ([]ForeignKeyConstraint, error) {
	t, err := s.Table(table)
	if err != nil {
		return nil, err
	}
	var out []ForeignKeyConstraint
	for _, p := range s.order {
		for _, fk := range ForeignKeyConstraints(p, s.tables[p].ForeignKeys) {
			if fk.ReferencedTable == t.Path {
				out = append(out, fk)
			}
		}
	}
	return out, nil
}
