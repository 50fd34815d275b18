// Package sqltype provides a shared mapping from SQL data types to bind value kinds.
// Catalog providers, binders and the value codec registry all agree on these kinds.
package sqltype

import (
	"fmt"
	"strings"
)

// Kind is the category of Go value a SQL column binds and scans as.
type Kind int

const (
	// KindString is the default kind for text and unknown SQL types.
	KindString Kind = iota
	// KindInt represents integer numeric types.
	KindInt
	// KindFloat represents floating-point and fixed-point numeric types.
	KindFloat
	// KindBool represents boolean types.
	KindBool
	// KindBytes represents binary storage types.
	KindBytes
	// KindTime represents date and timestamp types.
	KindTime
	// KindUUID represents native UUID types.
	KindUUID
	// KindJSON represents JSON documents.
	KindJSON
)

var kindNames = map[Kind]string{
	KindString: "string",
	KindInt:    "int",
	KindFloat:  "float",
	KindBool:   "bool",
	KindBytes:  "bytes",
	KindTime:   "time",
	KindUUID:   "uuid",
	KindJSON:   "json",
}

// Map converts a SQL data type string to its kind.
// The input is case-insensitive. Size specifiers like (10,2) or (255) are stripped before matching,
// so both INFORMATION_SCHEMA.COLUMNS.DATA_TYPE and COLUMN_TYPE values are accepted.
func Map(sqlType string) Kind {
	if idx := strings.Index(sqlType, "("); idx != -1 {
		sqlType = sqlType[:idx]
	}
	sqlType = strings.TrimSpace(sqlType)
	sqlType = strings.TrimSuffix(strings.ToUpper(sqlType), " UNSIGNED")
	switch sqlType {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT",
		"INTEGER", "BIGINT", "SERIAL", "BIT", "YEAR", "INT2", "INT4", "INT8":
		return KindInt
	case "FLOAT", "DOUBLE", "REAL", "DOUBLE PRECISION", "DECIMAL", "NUMERIC":
		return KindFloat
	case "BOOL", "BOOLEAN":
		return KindBool
	case "JSON", "JSONB":
		return KindJSON
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY", "BYTEA":
		return KindBytes
	case "DATE", "DATETIME", "TIMESTAMP", "TIMESTAMPTZ":
		return KindTime
	case "UUID":
		return KindUUID
	default:
		return KindString
	}
}

// Parse resolves a kind by its lower-case name.
func Parse(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for kind, kindName := range kindNames {
		if kindName == name {
			return kind, nil
		}
	}
	return KindString, fmt.Errorf("unknown value kind %q", name)
}

// String returns the lower-case kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsNumeric reports whether values of this kind are numbers.
func (k Kind) IsNumeric() bool {
	return k == KindInt || k == KindFloat
}
