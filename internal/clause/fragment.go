// Package clause holds the mergeable fragment lists and criteria trees that
// make up the clauses of a composed statement.
package clause

import (
	"strings"

	"relquery/internal/binder"
	"relquery/internal/column"
	"relquery/internal/graph"
	"relquery/internal/qerr"
)

// Template tokens.
const (
	ColumnToken = "{}"
	BinderToken = "?"
	NestedToken = "[]"
)

// Nested is an embedded statement, typically a subquery, rendered inside the
// namespace of the statement that contains it.
type Nested interface {
	// RenderNested renders the statement. Columns of the enclosing graph
	// resolve through outer.
	RenderNested(outer column.Namespace) (string, []binder.Binder, error)
	// Correlated returns the handles the nested statement references outside
	// its own graph.
	Correlated() ([]column.Handle, error)
}

// Fragment is one piece of a clause: a template, the columns, binders and
// nested statements its tokens consume in order, and a hint that orders
// fragments when clauses are merged.
type Fragment struct {
	Hint     int
	Template string
	Columns  []column.Handle
	Binders  []binder.Binder
	Nested   []Nested
}

// Validate checks the token counts of the template against its operands.
func (f Fragment) Validate() error {
	cols, binds, nested := countTokens(f.Template)
	if cols != len(f.Columns) {
		return qerr.State("template %q has %d column tokens for %d columns", f.Template, cols, len(f.Columns))
	}
	if binds != len(f.Binders) {
		return qerr.State("template %q has %d binder tokens for %d binders", f.Template, binds, len(f.Binders))
	}
	if nested != len(f.Nested) {
		return qerr.State("template %q has %d nested tokens for %d statements", f.Template, nested, len(f.Nested))
	}
	return nil
}

// Replicate returns a copy whose column and binder slices are independent.
func (f Fragment) Replicate() Fragment {
	out := f
	out.Columns = make([]column.Handle, len(f.Columns))
	for i, h := range f.Columns {
		out.Columns[i] = h.Replicate()
	}
	out.Binders = append([]binder.Binder(nil), f.Binders...)
	out.Nested = append([]Nested(nil), f.Nested...)
	return out
}

func (f Fragment) prepare(root *graph.Node, depth int) (Fragment, error) {
	out := f.Replicate()
	for i, h := range out.Columns {
		moved, err := column.Prepare(h, root, depth)
		if err != nil {
			return Fragment{}, err
		}
		out.Columns[i] = moved
	}
	return out, nil
}

// Render expands the template tokens in ns.
func (f Fragment) Render(ns column.Namespace) (string, []binder.Binder, error) {
	return expand(f, ns, column.Handle.Render)
}

func expand(f Fragment, ns column.Namespace, render func(column.Handle, column.Namespace) string) (string, []binder.Binder, error) {
	var b strings.Builder
	var binders []binder.Binder
	var nc, nb, nn int
	tmpl := f.Template
	for i := 0; i < len(tmpl); i++ {
		switch {
		case strings.HasPrefix(tmpl[i:], ColumnToken):
			if nc >= len(f.Columns) {
				return "", nil, qerr.State("template %q needs more than %d columns", tmpl, len(f.Columns))
			}
			b.WriteString(render(f.Columns[nc], ns))
			nc++
			i++
		case strings.HasPrefix(tmpl[i:], NestedToken):
			if nn >= len(f.Nested) {
				return "", nil, qerr.State("template %q needs more than %d nested statements", tmpl, len(f.Nested))
			}
			sql, args, err := f.Nested[nn].RenderNested(ns)
			if err != nil {
				return "", nil, err
			}
			b.WriteString(sql)
			binders = append(binders, args...)
			nn++
			i++
		case tmpl[i] == '?':
			if nb >= len(f.Binders) {
				return "", nil, qerr.State("template %q needs more than %d binders", tmpl, len(f.Binders))
			}
			b.WriteByte('?')
			binders = append(binders, f.Binders[nb])
			nb++
		default:
			b.WriteByte(tmpl[i])
		}
	}
	return b.String(), binders, nil
}

func countTokens(tmpl string) (cols, binds, nested int) {
	for i := 0; i < len(tmpl); i++ {
		switch {
		case strings.HasPrefix(tmpl[i:], ColumnToken):
			cols++
			i++
		case strings.HasPrefix(tmpl[i:], NestedToken):
			nested++
			i++
		case tmpl[i] == '?':
			binds++
		}
	}
	return cols, binds, nested
}
