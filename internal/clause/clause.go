package clause

import (
	"slices"
	"strings"

	"relquery/internal/binder"
	"relquery/internal/column"
	"relquery/internal/graph"
	"relquery/internal/qerr"
)

// Clause is an ordered list of fragments making up one comma-separated
// clause such as SELECT, GROUP BY or ORDER BY. Fragments are stably sorted
// by hint before every render.
type Clause struct {
	fragments []Fragment
}

// New returns an empty clause.
func New() *Clause { return &Clause{} }

// Add appends one fragment per column.
func (c *Clause) Add(cols ...column.Handle) *Clause {
	for _, h := range cols {
		c.fragments = append(c.fragments, Fragment{Template: ColumnToken, Columns: []column.Handle{h}})
	}
	return c
}

// AddTemplate appends a fragment whose "{}" tokens consume cols.
func (c *Clause) AddTemplate(template string, cols ...column.Handle) error {
	return c.AddFragment(Fragment{Template: template, Columns: cols})
}

// AddFragment validates and appends f.
func (c *Clause) AddFragment(f Fragment) error {
	if err := f.Validate(); err != nil {
		return err
	}
	c.fragments = append(c.fragments, f)
	return nil
}

// Merge appends replicas of other's fragments, keeping their hints.
func (c *Clause) Merge(other *Clause) *Clause {
	if other == nil {
		return c
	}
	for _, f := range other.fragments {
		c.fragments = append(c.fragments, f.Replicate())
	}
	return c
}

// MergeAt appends replicas of other's fragments with every hint set to hint.
func (c *Clause) MergeAt(other *Clause, hint int) *Clause {
	if other == nil {
		return c
	}
	for _, f := range other.fragments {
		r := f.Replicate()
		r.Hint = hint
		c.fragments = append(c.fragments, r)
	}
	return c
}

// Replicate returns a structurally independent copy.
func (c *Clause) Replicate() *Clause {
	out := &Clause{fragments: make([]Fragment, len(c.fragments))}
	for i, f := range c.fragments {
		out.fragments[i] = f.Replicate()
	}
	return out
}

// Prepare returns a replica whose handles are relocated onto root.
func (c *Clause) Prepare(root *graph.Node, depth int) (*Clause, error) {
	out := &Clause{fragments: make([]Fragment, len(c.fragments))}
	for i, f := range c.fragments {
		p, err := f.prepare(root, depth)
		if err != nil {
			return nil, err
		}
		out.fragments[i] = p
	}
	return out, nil
}

// Len returns the number of fragments.
func (c *Clause) Len() int {
	if c == nil {
		return 0
	}
	return len(c.fragments)
}

// IsEmpty reports whether the clause has no fragments.
func (c *Clause) IsEmpty() bool { return c.Len() == 0 }

// Fragments returns the fragments in render order.
func (c *Clause) Fragments() []Fragment {
	out := slices.Clone(c.fragments)
	slices.SortStableFunc(out, func(a, b Fragment) int { return a.Hint - b.Hint })
	return out
}

// Columns returns every handle referenced by the clause in render order.
func (c *Clause) Columns() []column.Handle {
	var out []column.Handle
	for _, f := range c.Fragments() {
		out = append(out, f.Columns...)
	}
	return out
}

// Nested returns every nested statement in render order.
func (c *Clause) Nested() []Nested {
	var out []Nested
	for _, f := range c.Fragments() {
		out = append(out, f.Nested...)
	}
	return out
}

// Render writes the fragments separated by ", ".
func (c *Clause) Render(ns column.Namespace) (string, []binder.Binder, error) {
	return c.render(ns, column.Handle.Render)
}

// RenderUnqualified writes the fragments with bare column names.
func (c *Clause) RenderUnqualified(ns column.Namespace) (string, []binder.Binder, error) {
	return c.render(ns, column.Handle.RenderUnqualified)
}

func (c *Clause) render(ns column.Namespace, render func(column.Handle, column.Namespace) string) (string, []binder.Binder, error) {
	if c.IsEmpty() {
		return "", nil, nil
	}
	parts := make([]string, 0, len(c.fragments))
	var binders []binder.Binder
	for _, f := range c.Fragments() {
		sql, args, err := expand(f, ns, render)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		binders = append(binders, args...)
	}
	return strings.Join(parts, ", "), binders, nil
}

// Asc is an ascending ORDER BY fragment.
func Asc(h column.Handle) Fragment {
	return Fragment{Template: ColumnToken + " ASC", Columns: []column.Handle{h}}
}

// Desc is a descending ORDER BY fragment.
func Desc(h column.Handle) Fragment {
	return Fragment{Template: ColumnToken + " DESC", Columns: []column.Handle{h}}
}

// Alias is a SELECT fragment rendering h AS name.
func Alias(h column.Handle, name string) (Fragment, error) {
	if !isIdentifier(name) {
		return Fragment{}, qerr.State("select alias %q for %s is not a plain identifier", name, h.Name())
	}
	return Fragment{Template: ColumnToken + " AS " + name, Columns: []column.Handle{h}}, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
