package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"relquery/internal/sqltype"
)

// InformationSchema reads metadata from MySQL-compatible INFORMATION_SCHEMA views
// (MySQL, TiDB, MariaDB).
type InformationSchema struct {
	db Queryer
	// schema is used for paths that carry no schema of their own.
	schema string
}

// NewInformationSchema returns a provider over db. defaultSchema fills in
// table paths that carry no schema.
func NewInformationSchema(db Queryer, defaultSchema string) *InformationSchema {
	return &InformationSchema{db: db, schema: defaultSchema}
}

func (p *InformationSchema) resolve(table TablePath) TablePath {
	if table.Schema == "" {
		table.Schema = p.schema
	}
	return table
}

// Tables lists base tables and views of schema.
func (p *InformationSchema) Tables(ctx context.Context, schema string) ([]TablePath, error) {
	if schema == "" {
		schema = p.schema
	}
	ctx, span := startSpan(ctx, "catalog.get_tables",
		attribute.String("db.name", schema),
	)
	defer span.End()

	query := `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ?
		AND TABLE_TYPE IN ('BASE TABLE', 'VIEW')
		ORDER BY TABLE_NAME
	`

	rows, err := p.db.QueryContext(ctx, query, schema)
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
		tables = append(tables, TablePath{Schema: schema, Name: name})
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return tables, nil
}

// Columns lists the columns of table with primary key columns marked.
func (p *InformationSchema) Columns(ctx context.Context, table TablePath) ([]Column, error) {
	table = p.resolve(table)
	ctx, span := startSpan(ctx, "catalog.get_columns",
		attribute.String("db.name", table.Schema),
		attribute.String("db.table", table.Name),
	)
	defer span.End()

	query := `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			COLUMN_TYPE,
			COLUMN_COMMENT,
			IS_NULLABLE,
			COLUMN_DEFAULT,
			EXTRA,
			COLUMN_KEY
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`

	rows, err := p.db.QueryContext(ctx, query, table.Schema, table.Name)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var columns []Column
	for rows.Next() {
		var col Column
		var isNullable string
		var columnDefault sql.NullString
		var columnComment sql.NullString
		var extra string
		var columnKey string
		if err := rows.Scan(&col.Name, &col.DataType, &col.ColumnType, &columnComment, &isNullable, &columnDefault, &extra, &columnKey); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		col.Kind = sqltype.Map(col.DataType)
		if columnComment.Valid {
			col.Comment = strings.TrimSpace(columnComment.String)
		}
		col.IsNullable = strings.EqualFold(isNullable, "YES")
		if columnDefault.Valid {
			col.ColumnDefault = columnDefault.String
			col.HasDefault = true
		}
		col.IsAutoIncrement = strings.Contains(strings.ToLower(extra), "auto_increment")
		col.IsPrimaryKey = strings.EqualFold(columnKey, "PRI")
		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return columns, nil
}

// PrimaryKey lists the PRIMARY constraint columns in ordinal order.
func (p *InformationSchema) PrimaryKey(ctx context.Context, table TablePath) ([]string, error) {
	table = p.resolve(table)
	ctx, span := startSpan(ctx, "catalog.get_primary_key",
		attribute.String("db.name", table.Schema),
		attribute.String("db.table", table.Name),
	)
	defer span.End()

	query := `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
		AND TABLE_NAME = ?
		AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION
	`

	rows, err := p.db.QueryContext(ctx, query, table.Schema, table.Name)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var primaryKeys []string
	for rows.Next() {
		var columnName string
		if err := rows.Scan(&columnName); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		primaryKeys = append(primaryKeys, columnName)
	}

	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return primaryKeys, nil
}

// ImportedKeys lists foreign keys declared on table.
func (p *InformationSchema) ImportedKeys(ctx context.Context, table TablePath) ([]ForeignKeyConstraint, error) {
	table = p.resolve(table)
	ctx, span := startSpan(ctx, "catalog.get_imported_keys",
		attribute.String("db.name", table.Schema),
		attribute.String("db.table", table.Name),
	)
	defer span.End()

	query := `
		SELECT
			COLUMN_NAME,
			REFERENCED_TABLE_SCHEMA,
			REFERENCED_TABLE_NAME,
			REFERENCED_COLUMN_NAME,
			CONSTRAINT_NAME,
			ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
			AND TABLE_NAME = ?
			AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION
	`

	rows, err := p.db.QueryContext(ctx, query, table.Schema, table.Name)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var foreignKeys []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.ColumnName, &fk.ReferencedSchema, &fk.ReferencedTable,
			&fk.ReferencedColumn, &fk.ConstraintName, &fk.OrdinalPosition); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		foreignKeys = append(foreignKeys, fk)
	}

	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return ForeignKeyConstraints(table, foreignKeys), nil
}

// ExportedKeys lists foreign keys of other tables (and table itself) that reference table.
func (p *InformationSchema) ExportedKeys(ctx context.Context, table TablePath) ([]ForeignKeyConstraint, error) {
	table = p.resolve(table)
	ctx, span := startSpan(ctx, "catalog.get_exported_keys",
		attribute.String("db.name", table.Schema),
		attribute.String("db.table", table.Name),
	)
	defer span.End()

	query := `
		SELECT
			TABLE_SCHEMA,
			TABLE_NAME,
			COLUMN_NAME,
			REFERENCED_COLUMN_NAME,
			CONSTRAINT_NAME,
			ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE REFERENCED_TABLE_SCHEMA = ?
			AND REFERENCED_TABLE_NAME = ?
		ORDER BY TABLE_SCHEMA, TABLE_NAME, CONSTRAINT_NAME, ORDINAL_POSITION
	`

	rows, err := p.db.QueryContext(ctx, query, table.Schema, table.Name)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var order []TablePath
	byTable := make(map[TablePath][]ForeignKey)
	for rows.Next() {
		var owner TablePath
		fk := ForeignKey{ReferencedSchema: table.Schema, ReferencedTable: table.Name}
		if err := rows.Scan(&owner.Schema, &owner.Name, &fk.ColumnName,
			&fk.ReferencedColumn, &fk.ConstraintName, &fk.OrdinalPosition); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		if _, seen := byTable[owner]; !seen {
			order = append(order, owner)
		}
		byTable[owner] = append(byTable[owner], fk)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	var result []ForeignKeyConstraint
	for _, owner := range order {
		result = append(result, ForeignKeyConstraints(owner, byTable[owner])...)
	}
	return result, nil
}

// Snapshot reads every table of schema from p into a Static provider. Views
// are included; their keys are whatever p reports.
func Snapshot(ctx context.Context, p Provider, schema string) (*Static, error) {
	ctx, span := startSpan(ctx, "catalog.snapshot",
		attribute.String("db.name", schema),
	)
	defer span.End()

	paths, err := p.Tables(ctx, schema)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}

	tables := make([]Table, 0, len(paths))
	for _, path := range paths {
		columns, err := p.Columns(ctx, path)
		if err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get columns for %s: %w", path, err)
		}
		primaryKeys, err := p.PrimaryKey(ctx, path)
		if err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get primary key for table %s: %w", path, err)
		}
		markPrimaryKey(columns, primaryKeys)

		imported, err := p.ImportedKeys(ctx, path)
		if err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get foreign keys for table %s: %w", path, err)
		}
		tables = append(tables, Table{
			Path:        path,
			Columns:     columns,
			PrimaryKey:  primaryKeys,
			ForeignKeys: flattenConstraints(imported),
		})
	}
	return NewStatic(tables...), nil
}

func flattenConstraints(constraints []ForeignKeyConstraint) []ForeignKey {
	var rows []ForeignKey
	for _, fk := range constraints {
		for i := range fk.ColumnNames {
			rows = append(rows, ForeignKey{
				ColumnName:       fk.ColumnNames[i],
				ReferencedSchema: fk.ReferencedTable.Schema,
				ReferencedTable:  fk.ReferencedTable.Name,
				ReferencedColumn: fk.ReferencedColumns[i],
				ConstraintName:   fk.ConstraintName,
				OrdinalPosition:  i + 1,
			})
		}
	}
	return rows
}
