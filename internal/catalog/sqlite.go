package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"relquery/internal/sqltype"
)

// SQLite reads metadata through sqlite_master and the table-valued pragma
// functions. Schema names are ignored; every table lives in "main".
type SQLite struct {
	db Queryer
}

// NewSQLite returns a provider over db.
func NewSQLite(db Queryer) *SQLite {
	return &SQLite{db: db}
}

// Tables lists tables and views, skipping SQLite's internal tables.
func (p *SQLite) Tables(ctx context.Context, _ string) ([]TablePath, error) {
	ctx, span := startSpan(ctx, "catalog.sqlite.get_tables")
	defer span.End()

	rows, err := p.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var tables []TablePath
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		tables = append(tables, TablePath{Name: name})
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return tables, nil
}

type sqliteColumn struct {
	Column
	pkOrder int
}

func (p *SQLite) tableInfo(ctx context.Context, table TablePath) ([]sqliteColumn, error) {
	ctx, span := startSpan(ctx, "catalog.sqlite.table_info",
		attribute.String("db.table", table.Name),
	)
	defer span.End()

	rows, err := p.db.QueryContext(ctx,
		`SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, table.Name)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var columns []sqliteColumn
	for rows.Next() {
		var col sqliteColumn
		var notNull int
		var dflt sql.NullString
		if err := rows.Scan(&col.Name, &col.ColumnType, &notNull, &dflt, &col.pkOrder); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		col.DataType = strings.ToLower(strings.TrimSpace(col.ColumnType))
		if idx := strings.Index(col.DataType, "("); idx != -1 {
			col.DataType = strings.TrimSpace(col.DataType[:idx])
		}
		col.Kind = sqltype.Map(col.DataType)
		col.IsNullable = notNull == 0 && col.pkOrder == 0
		col.IsPrimaryKey = col.pkOrder > 0
		if dflt.Valid {
			col.HasDefault = true
			col.ColumnDefault = dflt.String
		}
		// INTEGER PRIMARY KEY aliases the rowid.
		col.IsAutoIncrement = col.pkOrder > 0 && strings.EqualFold(col.DataType, "integer")
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if len(columns) == 0 {
		err := fmt.Errorf("table %s has no columns", table)
		recordSpanError(span, err)
		return nil, err
	}
	return columns, nil
}

// Columns lists table columns in declaration order.
func (p *SQLite) Columns(ctx context.Context, table TablePath) ([]Column, error) {
	info, err := p.tableInfo(ctx, table)
	if err != nil {
		return nil, err
	}
	columns := make([]Column, len(info))
	for i, col := range info {
		columns[i] = col.Column
	}
	return columns, nil
}

// PrimaryKey lists primary key columns in key order.
func (p *SQLite) PrimaryKey(ctx context.Context, table TablePath) ([]string, error) {
	info, err := p.tableInfo(ctx, table)
	if err != nil {
		return nil, err
	}
	ordered := make([]string, len(info))
	count := 0
	for _, col := range info {
		if col.pkOrder > 0 && col.pkOrder <= len(info) {
			ordered[col.pkOrder-1] = col.Name
			count++
		}
	}
	return ordered[:count], nil
}

// ImportedKeys lists foreign keys declared on table. SQLite constraints are
// unnamed, so each gets "fk_<table>_<id>".
func (p *SQLite) ImportedKeys(ctx context.Context, table TablePath) ([]ForeignKeyConstraint, error) {
	ctx, span := startSpan(ctx, "catalog.sqlite.foreign_key_list",
		attribute.String("db.table", table.Name),
	)
	defer span.End()

	rows, err := p.db.QueryContext(ctx,
		`SELECT id, seq, "table", "from", "to" FROM pragma_foreign_key_list(?) ORDER BY id, seq`, table.Name)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	var foreignKeys []ForeignKey
	for rows.Next() {
		var id, seq int
		var fk ForeignKey
		var to sql.NullString
		if err := rows.Scan(&id, &seq, &fk.ReferencedTable, &fk.ColumnName, &to); err != nil {
			_ = rows.Close()
			recordSpanError(span, err)
			return nil, err
		}
		fk.ConstraintName = fmt.Sprintf("fk_%s_%d", table.Name, id)
		fk.OrdinalPosition = seq + 1
		fk.ReferencedColumn = to.String
		foreignKeys = append(foreignKeys, fk)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	// A reference without target columns points at the referenced primary key.
	for i := range foreignKeys {
		if foreignKeys[i].ReferencedColumn != "" {
			continue
		}
		pk, err := p.PrimaryKey(ctx, TablePath{Name: foreignKeys[i].ReferencedTable})
		if err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		pos := foreignKeys[i].OrdinalPosition - 1
		if pos < 0 || pos >= len(pk) {
			err := fmt.Errorf("foreign key %s does not match primary key of %s", foreignKeys[i].ConstraintName, foreignKeys[i].ReferencedTable)
			recordSpanError(span, err)
			return nil, err
		}
		foreignKeys[i].ReferencedColumn = pk[pos]
	}
	return ForeignKeyConstraints(table, foreignKeys), nil
}

// ExportedKeys scans every table for foreign keys referencing table.
func (p *SQLite) ExportedKeys(ctx context.Context, table TablePath) ([]ForeignKeyConstraint, error) {
	tables, err := p.Tables(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []ForeignKeyConstraint
	for _, other := range tables {
		imported, err := p.ImportedKeys(ctx, other)
		if err != nil {
			return nil, err
		}
		for _, fk := range imported {
			if fk.ReferencedTable.Name == table.Name {
				out = append(out, fk)
			}
		}
	}
	return out, nil
}
