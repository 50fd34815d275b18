package naming

import (
	"log/slog"
	"strings"
	"unicode"
)

const maxPrefixLen = 3

// Namer turns table names into alias prefixes.
type Namer struct {
	config Config
	logger *slog.Logger
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config: cfg,
		logger: logger,
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// AliasPrefix returns the initials of the singularized table name.
// Example: "customers" -> "c", "order_items" -> "oi", "2024_sales" -> "t2s"
func (n *Namer) AliasPrefix(tableName string) string {
	if override, ok := n.config.AliasOverrides[tableName]; ok && validPrefix(override) {
		return override
	}

	tokens := splitTokens(tableName)
	var b strings.Builder
	for i, token := range tokens {
		if b.Len() == maxPrefixLen {
			break
		}
		if i == len(tokens)-1 {
			token = n.Singularize(token)
		}
		r := []rune(token)[0]
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}

	prefix := b.String()
	if !validPrefix(prefix) {
		prefix = "t" + prefix
		if len(prefix) > maxPrefixLen {
			prefix = prefix[:maxPrefixLen]
		}
	}
	return prefix
}

func validPrefix(prefix string) bool {
	if prefix == "" {
		return false
	}
	for i, r := range prefix {
		if r > unicode.MaxASCII {
			return false
		}
		if i == 0 && !unicode.IsLetter(r) {
			return false
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}

func splitTokens(name string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token == "" {
			continue
		}
		out = append(out, token)
	}
	return out
}
