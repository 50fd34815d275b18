package naming

import (
	"fmt"
	"log/slog"

	"relquery/internal/qerr"
)

// AliasAllocator hands out unique aliases by numbering prefixes from 1.
// One allocator spans a statement and every subquery nested in it, so
// aliases never collide across nesting levels. Not safe for concurrent use.
type AliasAllocator struct {
	namer  *Namer
	next   map[string]int
	seen   map[string]string
	logger *slog.Logger
}

// NewAliasAllocator creates an allocator that derives prefixes with namer.
func NewAliasAllocator(namer *Namer) *AliasAllocator {
	if namer == nil {
		namer = Default()
	}
	return &AliasAllocator{
		namer:  namer,
		next:   make(map[string]int),
		seen:   make(map[string]string),
		logger: namer.logger,
	}
}

// Allocate returns the next free alias for tableName, e.g. "o1", then "o2".
func (a *AliasAllocator) Allocate(tableName string) string {
	prefix := a.namer.AliasPrefix(tableName)
	for {
		a.next[prefix]++
		alias := fmt.Sprintf("%s%d", prefix, a.next[prefix])
		if existing, taken := a.seen[alias]; taken {
			a.logger.Debug("alias already taken, advancing",
				slog.String("alias", alias),
				slog.String("existing_source", existing),
				slog.String("new_source", tableName),
			)
			continue
		}
		a.seen[alias] = tableName
		return alias
	}
}

// Reserve marks alias as taken for source. An alias already handed out or
// reserved is a State error.
func (a *AliasAllocator) Reserve(alias, source string) error {
	if existing, taken := a.seen[alias]; taken {
		return qerr.State("alias %s for %s is already used by %s", alias, source, existing)
	}
	a.seen[alias] = source
	return nil
}
