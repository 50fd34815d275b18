package sqlutil

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect holds the punctuation that differs between databases: identifier
// quoting, bind placeholder syntax and pagination.
type Dialect struct {
	Name        string
	quote       func(string) string
	placeholder sq.PlaceholderFormat
	paginate    func(limit, offset *int64) (string, []any)
}

var (
	// MySQL quotes with backticks and binds with '?'. TiDB shares this dialect.
	MySQL = Dialect{Name: "mysql", quote: QuoteIdentifier, placeholder: sq.Question, paginate: limitOffset("18446744073709551615")}
	// Postgres quotes with double quotes and binds with $n.
	Postgres = Dialect{Name: "postgres", quote: QuoteIdentifierANSI, placeholder: sq.Dollar, paginate: limitOffset("")}
	// SQLite quotes with double quotes and binds with '?'.
	SQLite = Dialect{Name: "sqlite", quote: QuoteIdentifierANSI, placeholder: sq.Question, paginate: limitOffset("-1")}
	// ANSI uses the SQL:2008 OFFSET/FETCH form.
	ANSI = Dialect{Name: "ansi", quote: QuoteIdentifierANSI, placeholder: sq.Question, paginate: offsetFetch}
)

// Dialects lists the supported dialects by name.
var Dialects = map[string]Dialect{
	MySQL.Name:    MySQL,
	"tidb":        MySQL,
	Postgres.Name: Postgres,
	SQLite.Name:   SQLite,
	"sqlite3":     SQLite,
	ANSI.Name:     ANSI,
}

// LookupDialect resolves a dialect by case-insensitive name.
func LookupDialect(name string) (Dialect, error) {
	d, ok := Dialects[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Dialect{}, fmt.Errorf("unknown SQL dialect %q", name)
	}
	return d, nil
}

// Quote quotes one identifier. The zero Dialect behaves like MySQL.
func (d Dialect) Quote(name string) string {
	if d.quote == nil {
		return QuoteIdentifier(name)
	}
	return d.quote(name)
}

// Qualify quotes and joins an alias with a column name.
func (d Dialect) Qualify(alias, name string) string {
	if alias == "" {
		return d.Quote(name)
	}
	return alias + "." + d.Quote(name)
}

// ReplacePlaceholders rewrites '?' markers into the dialect's bind syntax.
func (d Dialect) ReplacePlaceholders(sql string) (string, error) {
	if d.placeholder == nil {
		return sql, nil
	}
	return d.placeholder.ReplacePlaceholders(sql)
}

// Paginate renders a LIMIT/OFFSET tail using '?' markers and returns the
// values to bind, in marker order. Nil arguments are omitted.
func (d Dialect) Paginate(limit, offset *int64) (string, []any) {
	if limit == nil && offset == nil {
		return "", nil
	}
	if d.paginate == nil {
		return MySQL.paginate(limit, offset)
	}
	return d.paginate(limit, offset)
}

// limitOffset renders LIMIT ? OFFSET ?. Dialects that cannot express an
// offset without a limit pass the literal meaning "no limit".
func limitOffset(unbounded string) func(limit, offset *int64) (string, []any) {
	return func(limit, offset *int64) (string, []any) {
		var parts []string
		var args []any
		switch {
		case limit != nil:
			parts = append(parts, "LIMIT ?")
			args = append(args, *limit)
		case unbounded != "":
			parts = append(parts, "LIMIT "+unbounded)
		}
		if offset != nil {
			parts = append(parts, "OFFSET ?")
			args = append(args, *offset)
		}
		return strings.Join(parts, " "), args
	}
}

func offsetFetch(limit, offset *int64) (string, []any) {
	var parts []string
	var args []any
	if offset != nil {
		parts = append(parts, "OFFSET ? ROWS")
		args = append(args, *offset)
	}
	if limit != nil {
		parts = append(parts, "FETCH NEXT ? ROWS ONLY")
		args = append(args, *limit)
	}
	return strings.Join(parts, " "), args
}
