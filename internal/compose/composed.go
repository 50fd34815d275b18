package compose

import (
	"relquery/internal/binder"
)

// Composed is a rendered statement: SQL text and binders in placeholder order.
type Composed struct {
	SQL     string
	Binders []binder.Binder
}

// Args resolves the binders to database/sql arguments.
func (c Composed) Args() ([]any, error) { return binder.Args(c.Binders) }

// Complement binds the binders into st starting at ordinal start and returns
// the next free ordinal.
func (c Composed) Complement(start int, st binder.Statement) (int, error) {
	return binder.BindAll(st, start, c.Binders)
}

func (c Composed) clone() Composed {
	return Composed{SQL: c.SQL, Binders: append([]binder.Binder(nil), c.Binders...)}
}
