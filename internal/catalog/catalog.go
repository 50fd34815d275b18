// Package catalog describes database tables, columns and foreign keys.
// Providers read this metadata from a live database (information_schema or
// SQLite pragmas) or serve it from memory; the table graph consumes it.
package catalog

import (
	"context"
	"database/sql"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relquery/internal/sqltype"
)

// TablePath identifies a table within a schema. Schema may be empty when the
// connection has a default database.
type TablePath struct {
	Schema string
	Name   string
}

// ParseTablePath splits "schema.table" into a path; a bare name has no schema.
func ParseTablePath(s string) TablePath {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndex(s, "."); idx > 0 {
		return TablePath{Schema: s[:idx], Name: s[idx+1:]}
	}
	return TablePath{Name: s}
}

func (p TablePath) String() string {
	if p.Schema == "" {
		return p.Name
	}
	return p.Schema + "." + p.Name
}

// Column represents a database column.
type Column struct {
	Name            string
	DataType        string
	ColumnType      string
	Kind            sqltype.Kind
	IsNullable      bool
	IsPrimaryKey    bool
	IsAutoIncrement bool
	HasDefault      bool
	ColumnDefault   string
	Comment         string
}

// ForeignKey is one column of a foreign key constraint, as reported by
// INFORMATION_SCHEMA.KEY_COLUMN_USAGE.
type ForeignKey struct {
	ColumnName       string // e.g., "customer_id"
	ReferencedSchema string // empty means the owning table's schema
	ReferencedTable  string // e.g., "customers"
	ReferencedColumn string // e.g., "id"
	ConstraintName   string // e.g., "orders_ibfk_1"
	OrdinalPosition  int    // Column position within the FK constraint
}

// Table represents a database table.
type Table struct {
	Path        TablePath
	IsView      bool
	Comment     string
	Columns     []Column
	// PrimaryKey lists primary key columns in key order; when empty the
	// columns flagged IsPrimaryKey are used in column order.
	PrimaryKey  []string
	ForeignKeys []ForeignKey
}

// Column returns the named column, if present.
func (t Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// Provider enumerates catalog metadata. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Tables lists the tables of a schema in name order.
	Tables(ctx context.Context, schema string) ([]TablePath, error)
	// Columns lists a table's columns in ordinal order.
	Columns(ctx context.Context, table TablePath) ([]Column, error)
	// PrimaryKey lists a table's primary key columns; empty when it has none.
	PrimaryKey(ctx context.Context, table TablePath) ([]string, error)
	// ImportedKeys lists foreign keys declared on table.
	ImportedKeys(ctx context.Context, table TablePath) ([]ForeignKeyConstraint, error)
	// ExportedKeys lists foreign keys declared on other tables that reference table.
	ExportedKeys(ctx context.Context, table TablePath) ([]ForeignKeyConstraint, error)
}

// Queryer provides query access for catalog providers.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("relquery/catalog")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
