package compose

import (
	"strings"

	"relquery/internal/binder"
	"relquery/internal/clause"
	"relquery/internal/column"
	"relquery/internal/from"
	"relquery/internal/naming"
	"relquery/internal/qerr"
)

// scope is the namespace clauses render in: the statement's join graph plus
// the alias allocator shared with every statement nested in it.
type scope struct {
	*from.JoinGraph
	alloc *naming.AliasAllocator
}

// prepared holds one render pass: a fresh join graph and clause copies
// relocated onto the root.
type prepared struct {
	jg      *from.JoinGraph
	sel     *clause.Clause
	where   clause.Criteria
	groupBy *clause.Clause
	having  clause.Criteria
	orderBy *clause.Clause
}

func prepareCriteria(c clause.Criteria, q *Query) (clause.Criteria, error) {
	if c == nil {
		return nil, nil
	}
	return c.Prepare(q.root, q.cfg.depth)
}

func (q *Query) prepare(parent *scope) (*prepared, error) {
	if q.err != nil {
		return nil, q.err
	}
	jg := from.New(q.root, from.WithDialect(q.cfg.dialect), from.WithDefaultJoin(q.cfg.defaultJoin))
	if parent != nil {
		jg.ForSubquery(parent.JoinGraph)
	}
	p := &prepared{jg: jg}

	var err error
	if p.sel, err = q.sel.Prepare(q.root, q.cfg.depth); err != nil {
		return nil, err
	}
	if p.where, err = prepareCriteria(q.where, q); err != nil {
		return nil, err
	}
	if p.groupBy, err = q.groupBy.Prepare(q.root, q.cfg.depth); err != nil {
		return nil, err
	}
	if p.having, err = prepareCriteria(q.having, q); err != nil {
		return nil, err
	}
	if p.orderBy, err = q.orderBy.Prepare(q.root, q.cfg.depth); err != nil {
		return nil, err
	}

	for _, f := range q.forced {
		if f.node == nil || f.node.Root() != q.root {
			return nil, qerr.NotFound("forced join node %v is not part of %s", f.node, q.root.Key())
		}
		jg.Join(f.typ, f.node)
	}
	jg.JoinColumns(p.sel.Columns()...)
	jg.JoinColumns(clause.Columns(p.where, p.having)...)
	jg.JoinColumns(p.groupBy.Columns()...)
	jg.JoinColumns(p.orderBy.Columns()...)

	for _, n := range q.nested() {
		refs, err := n.Correlated()
		if err != nil {
			return nil, err
		}
		for _, r := range refs {
			if o, ok := r.(*column.Outer); ok {
				r = o.Column
			}
			jg.JoinColumns(r)
		}
		jg.Qualify(true)
	}

	for i, j := range q.joins {
		other := j.other
		if len(other.sets) > 0 || other.limit != nil || other.offset != nil || other.distinct {
			return nil, qerr.Unsupported("joined query on %s carries set operations, DISTINCT or pagination", other.root.Key())
		}
		if other.root == q.root {
			return nil, qerr.Unsupported("query on %s cannot join a query with the same root; use a subquery", q.root.Key())
		}
		op, err := other.prepare(parent)
		if err != nil {
			return nil, err
		}
		if err := jg.JoinWith(j.typ, op.jg, j.on); err != nil {
			return nil, err
		}
		hint := i + 1
		p.sel.MergeAt(op.sel, hint)
		p.where = clause.And(p.where, op.where)
		p.having = clause.And(p.having, op.having)
		p.groupBy.MergeAt(op.groupBy, hint)
		p.orderBy.MergeAt(op.orderBy, hint)
	}

	for _, d := range q.derived {
		if err := jg.JoinDerived(d.typ, d.sub.ToSubquery(), d.alias, d.on); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (q *Query) render(parent *scope) (string, []binder.Binder, error) {
	p, err := q.prepare(parent)
	if err != nil {
		return "", nil, err
	}
	alloc := naming.NewAliasAllocator(q.cfg.namer)
	if parent != nil {
		alloc = parent.alloc
	}
	if err := p.jg.Assign(alloc); err != nil {
		return "", nil, err
	}
	sc := &scope{JoinGraph: p.jg, alloc: alloc}

	sql, binders, err := q.renderCore(p, sc)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString(sql)
	for _, s := range q.sets {
		if !s.other.orderBy.IsEmpty() || s.other.limit != nil || s.other.offset != nil {
			return "", nil, qerr.Unsupported("%s operand on %s carries ORDER BY or pagination", s.op, s.other.root.Key())
		}
		osql, obinders, err := s.other.render(parent)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" " + string(s.op) + " " + osql)
		binders = append(binders, obinders...)
	}

	if !p.orderBy.IsEmpty() {
		var ns column.Namespace = sc
		if len(q.sets) > 0 {
			ns = p.jg.Unqualified()
		}
		osql, obinders, err := p.orderBy.Render(ns)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" ORDER BY " + osql)
		binders = append(binders, obinders...)
	}

	if q.limit != nil || q.offset != nil {
		psql, args := q.cfg.dialect.Paginate(q.limit, q.offset)
		b.WriteString(" " + psql)
		for _, a := range args {
			binders = append(binders, binder.Int(a.(int64)))
		}
	}
	return b.String(), binders, nil
}

func (q *Query) renderCore(p *prepared, sc *scope) (string, []binder.Binder, error) {
	var parts []string
	var binders []binder.Binder

	sel, args, err := p.sel.Render(sc)
	if err != nil {
		return "", nil, err
	}
	if sel == "" {
		if q.cfg.strict {
			return "", nil, qerr.State("no columns selected on %s", q.root.Key())
		}
		sel = "*"
	}
	keyword := "SELECT "
	if q.distinct {
		keyword = "SELECT DISTINCT "
	}
	parts = append(parts, keyword+sel)
	binders = append(binders, args...)

	fromSQL, args, err := p.jg.RenderIn(sc)
	if err != nil {
		return "", nil, err
	}
	parts = append(parts, fromSQL)
	binders = append(binders, args...)

	where, args, err := clause.RenderKeyword("WHERE", p.where, sc)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		parts = append(parts, where)
		binders = append(binders, args...)
	}

	if !p.groupBy.IsEmpty() {
		group, args, err := p.groupBy.Render(sc)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "GROUP BY "+group)
		binders = append(binders, args...)
	}

	having, args, err := clause.RenderKeyword("HAVING", p.having, sc)
	if err != nil {
		return "", nil, err
	}
	if having != "" {
		parts = append(parts, having)
		binders = append(binders, args...)
	}
	return strings.Join(parts, " "), binders, nil
}
