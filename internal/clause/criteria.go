package clause

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"relquery/internal/binder"
	"relquery/internal/column"
	"relquery/internal/graph"
	"relquery/internal/qerr"
)

// Criteria is a boolean expression tree over column handles and binders.
// It renders through squirrel; the keyword (WHERE, HAVING, ON) is chosen by
// the caller at render time.
type Criteria interface {
	// Columns returns every handle in the tree, left to right.
	Columns() []column.Handle
	// Nested returns every nested statement in the tree, left to right.
	Nested() []Nested
	// Replicate returns an independent copy.
	Replicate() Criteria
	// Prepare returns a copy whose handles are relocated onto root.
	Prepare(root *graph.Node, depth int) (Criteria, error)

	sqlizer(ns column.Namespace) sq.Sqlizer
}

type predicate struct {
	frag Fragment
}

func (p *predicate) Columns() []column.Handle { return p.frag.Columns }
func (p *predicate) Nested() []Nested         { return p.frag.Nested }
func (p *predicate) Replicate() Criteria      { return &predicate{frag: p.frag.Replicate()} }

func (p *predicate) Prepare(root *graph.Node, depth int) (Criteria, error) {
	f, err := p.frag.prepare(root, depth)
	if err != nil {
		return nil, err
	}
	return &predicate{frag: f}, nil
}

func (p *predicate) sqlizer(ns column.Namespace) sq.Sqlizer {
	return fragmentSqlizer{frag: p.frag, ns: ns}
}

type fragmentSqlizer struct {
	frag Fragment
	ns   column.Namespace
}

func (s fragmentSqlizer) ToSql() (string, []interface{}, error) {
	sql, binders, err := s.frag.Render(s.ns)
	if err != nil {
		return "", nil, err
	}
	args := make([]interface{}, len(binders))
	for i, b := range binders {
		args[i] = b
	}
	return sql, args, nil
}

type junction struct {
	or    bool
	parts []Criteria
}

func (j *junction) Columns() []column.Handle {
	var out []column.Handle
	for _, p := range j.parts {
		out = append(out, p.Columns()...)
	}
	return out
}

func (j *junction) Nested() []Nested {
	var out []Nested
	for _, p := range j.parts {
		out = append(out, p.Nested()...)
	}
	return out
}

func (j *junction) Replicate() Criteria {
	out := &junction{or: j.or, parts: make([]Criteria, len(j.parts))}
	for i, p := range j.parts {
		out.parts[i] = p.Replicate()
	}
	return out
}

func (j *junction) Prepare(root *graph.Node, depth int) (Criteria, error) {
	out := &junction{or: j.or, parts: make([]Criteria, len(j.parts))}
	for i, p := range j.parts {
		moved, err := p.Prepare(root, depth)
		if err != nil {
			return nil, err
		}
		out.parts[i] = moved
	}
	return out, nil
}

func (j *junction) sqlizer(ns column.Namespace) sq.Sqlizer {
	parts := make([]sq.Sqlizer, len(j.parts))
	for i, p := range j.parts {
		parts[i] = p.sqlizer(ns)
	}
	if j.or {
		return sq.Or(parts)
	}
	return sq.And(parts)
}

type negation struct {
	inner Criteria
}

func (n *negation) Columns() []column.Handle { return n.inner.Columns() }
func (n *negation) Nested() []Nested         { return n.inner.Nested() }
func (n *negation) Replicate() Criteria      { return &negation{inner: n.inner.Replicate()} }

func (n *negation) Prepare(root *graph.Node, depth int) (Criteria, error) {
	inner, err := n.inner.Prepare(root, depth)
	if err != nil {
		return nil, err
	}
	return &negation{inner: inner}, nil
}

func (n *negation) sqlizer(ns column.Namespace) sq.Sqlizer {
	inner := n.inner.sqlizer(ns)
	if _, ok := n.inner.(*predicate); ok {
		return sq.Expr("NOT (?)", inner)
	}
	return sq.Expr("NOT ?", inner)
}

// And combines criteria with AND; nil entries are skipped. A single
// criterion is returned unchanged.
func And(cs ...Criteria) Criteria { return combine(false, cs) }

// Or combines criteria with OR; nil entries are skipped.
func Or(cs ...Criteria) Criteria { return combine(true, cs) }

func combine(or bool, cs []Criteria) Criteria {
	var parts []Criteria
	for _, c := range cs {
		if c == nil {
			continue
		}
		if j, ok := c.(*junction); ok && j.or == or {
			parts = append(parts, j.parts...)
			continue
		}
		parts = append(parts, c)
	}
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	}
	return &junction{or: or, parts: parts}
}

// Not negates c.
func Not(c Criteria) Criteria { return &negation{inner: c} }

// Raw builds a leaf from a template. See Fragment for the token rules.
func Raw(template string, cols []column.Handle, binders []binder.Binder, nested ...Nested) (Criteria, error) {
	f := Fragment{Template: template, Columns: cols, Binders: binders, Nested: nested}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &predicate{frag: f}, nil
}

func leaf(template string, cols []column.Handle, binders []binder.Binder, nested ...Nested) Criteria {
	return &predicate{frag: Fragment{Template: template, Columns: cols, Binders: binders, Nested: nested}}
}

func compare(op string, h column.Handle, b binder.Binder) Criteria {
	return leaf(fmt.Sprintf("{} %s ?", op), []column.Handle{h}, []binder.Binder{b})
}

// Eq is h = b; a NULL binder renders IS NULL.
func Eq(h column.Handle, b binder.Binder) Criteria {
	if binder.IsNull(b) {
		return IsNull(h)
	}
	return compare("=", h, b)
}

// Ne is h <> b; a NULL binder renders IS NOT NULL.
func Ne(h column.Handle, b binder.Binder) Criteria {
	if binder.IsNull(b) {
		return IsNotNull(h)
	}
	return compare("<>", h, b)
}

func Lt(h column.Handle, b binder.Binder) Criteria   { return compare("<", h, b) }
func Le(h column.Handle, b binder.Binder) Criteria   { return compare("<=", h, b) }
func Gt(h column.Handle, b binder.Binder) Criteria   { return compare(">", h, b) }
func Ge(h column.Handle, b binder.Binder) Criteria   { return compare(">=", h, b) }
func Like(h column.Handle, b binder.Binder) Criteria { return compare("LIKE", h, b) }

func IsNull(h column.Handle) Criteria    { return leaf("{} IS NULL", []column.Handle{h}, nil) }
func IsNotNull(h column.Handle) Criteria { return leaf("{} IS NOT NULL", []column.Handle{h}, nil) }

// In is h IN (b...). An empty list never matches.
func In(h column.Handle, bs ...binder.Binder) Criteria {
	if len(bs) == 0 {
		return leaf("(1=0)", nil, nil)
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(bs)), ", ")
	return leaf("{} IN ("+marks+")", []column.Handle{h}, append([]binder.Binder(nil), bs...))
}

// InQuery is h IN (subquery).
func InQuery(h column.Handle, sub Nested) Criteria {
	return leaf("{} IN ([])", []column.Handle{h}, nil, sub)
}

// Between is h BETWEEN lo AND hi.
func Between(h column.Handle, lo, hi binder.Binder) Criteria {
	return leaf("{} BETWEEN ? AND ?", []column.Handle{h}, []binder.Binder{lo, hi})
}

// Exists is EXISTS (subquery).
func Exists(sub Nested) Criteria {
	return leaf("EXISTS ([])", nil, nil, sub)
}

// ColumnsEqual is a = b.
func ColumnsEqual(a, b column.Handle) Criteria {
	return leaf("{} = {}", []column.Handle{a, b}, nil)
}

// Render renders c without a keyword. A top-level conjunction is not
// wrapped in parentheses.
func Render(c Criteria, ns column.Namespace) (string, []binder.Binder, error) {
	if c == nil {
		return "", nil, nil
	}
	sql, args, err := c.sqlizer(ns).ToSql()
	if err != nil {
		return "", nil, err
	}
	if _, ok := c.(*junction); ok {
		sql = strings.TrimSuffix(strings.TrimPrefix(sql, "("), ")")
	}
	binders := make([]binder.Binder, len(args))
	for i, a := range args {
		b, ok := a.(binder.Binder)
		if !ok {
			return "", nil, qerr.State("criteria rendered non-binder argument %T", a)
		}
		binders[i] = b
	}
	return sql, binders, nil
}

// RenderKeyword renders c prefixed by keyword, or "" when c is nil.
func RenderKeyword(keyword string, c Criteria, ns column.Namespace) (string, []binder.Binder, error) {
	sql, binders, err := Render(c, ns)
	if err != nil || sql == "" {
		return "", binders, err
	}
	return keyword + " " + sql, binders, nil
}

// Columns returns the handles of several criteria, skipping nil.
func Columns(cs ...Criteria) []column.Handle {
	var out []column.Handle
	for _, c := range cs {
		if c != nil {
			out = append(out, c.Columns()...)
		}
	}
	return out
}
