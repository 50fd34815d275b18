// Package sqlutil provides SQL quoting and dialect punctuation.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	return quoteWith(name, "`")
}

// QuoteIdentifierANSI quotes a SQL identifier with double quotes.
func QuoteIdentifierANSI(name string) string {
	return quoteWith(name, `"`)
}

func quoteWith(s, q string) string {
	return q + strings.ReplaceAll(s, q, q+q) + q
}
