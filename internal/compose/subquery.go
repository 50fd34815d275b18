package compose

import (
	"relquery/internal/binder"
	"relquery/internal/clause"
	"relquery/internal/column"
)

// Subquery embeds a Query inside another statement. It renders in subquery
// mode: every column is qualified, aliases come from the enclosing
// statement's allocator, and column.Outer references resolve to the
// enclosing aliases.
type Subquery struct {
	q *Query
}

// Query returns the embedded query.
func (s *Subquery) Query() *Query { return s.q }

// RenderNested renders the query inside outer.
func (s *Subquery) RenderNested(outer column.Namespace) (string, []binder.Binder, error) {
	parent, _ := outer.(*scope)
	return s.q.render(parent)
}

// Correlated returns the outer references of the query, including those of
// its own nested statements that point past it.
func (s *Subquery) Correlated() ([]column.Handle, error) {
	q := s.q
	var handles []column.Handle
	handles = append(handles, q.sel.Columns()...)
	handles = append(handles, clause.Columns(q.where, q.having)...)
	handles = append(handles, q.groupBy.Columns()...)
	handles = append(handles, q.orderBy.Columns()...)

	var out []column.Handle
	for _, h := range handles {
		for _, o := range column.OuterRefs(h) {
			out = append(out, o)
		}
	}
	for _, n := range q.nested() {
		refs, err := n.Correlated()
		if err != nil {
			return nil, err
		}
		for _, r := range refs {
			if r.Node() != nil && r.Node().Root() != q.root {
				out = append(out, r)
			}
		}
	}
	for _, j := range q.joins {
		refs, err := j.other.ToSubquery().Correlated()
		if err != nil {
			return nil, err
		}
		out = append(out, refs...)
	}
	return out, nil
}
