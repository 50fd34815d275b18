package compose

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"relquery/internal/binder"
	"relquery/internal/clause"
	"relquery/internal/column"
	"relquery/internal/from"
	"relquery/internal/graph"
	"relquery/internal/qerr"
)

// SetOperator combines two SELECTs.
type SetOperator string

const (
	Union     SetOperator = "UNION"
	UnionAll  SetOperator = "UNION ALL"
	Intersect SetOperator = "INTERSECT"
	Except    SetOperator = "EXCEPT"
)

type forcedJoin struct {
	typ  from.JoinType
	node *graph.Node
}

type queryJoin struct {
	typ   from.JoinType
	other *Query
	on    clause.Criteria
}

type derivedJoin struct {
	typ   from.JoinType
	sub   *Query
	alias string
	on    clause.Criteria
}

type setOp struct {
	op    SetOperator
	other *Query
}

// Query composes one SELECT statement rooted at a graph node. Mutators
// return the query for chaining; construction errors surface from Compose.
// A Query is not safe for concurrent mutation; Compose may be called from
// several goroutines once building is done.
type Query struct {
	cfg  config
	root *graph.Node

	distinct bool
	sel      *clause.Clause
	where    clause.Criteria
	groupBy  *clause.Clause
	having   clause.Criteria
	orderBy  *clause.Clause
	forced   []forcedJoin
	joins    []queryJoin
	derived  []derivedJoin
	sets     []setOp
	limit    *int64
	offset   *int64
	err      error

	revision uint64
	mu       sync.Mutex
	cached   *Composed
	cachedAt uint64
}

// New returns an empty SELECT rooted at root.
func New(root *graph.Node, opts ...Option) *Query {
	q := &Query{
		cfg:     newConfig(opts),
		root:    root,
		sel:     clause.New(),
		groupBy: clause.New(),
		orderBy: clause.New(),
	}
	if root == nil {
		q.err = qerr.State("query has no root")
	}
	return q
}

// Root returns the root node.
func (q *Query) Root() *graph.Node { return q.root }

func (q *Query) touch() { q.revision++ }

func (q *Query) fail(err error) *Query {
	if q.err == nil && err != nil {
		q.err = err
	}
	q.touch()
	return q
}

// Select adds columns to the select list.
func (q *Query) Select(cols ...column.Handle) *Query {
	q.sel.Add(cols...)
	q.touch()
	return q
}

// SelectFragment adds a templated select item.
func (q *Query) SelectFragment(f clause.Fragment) *Query {
	return q.fail(q.sel.AddFragment(f))
}

// SelectAs adds h AS alias.
func (q *Query) SelectAs(h column.Handle, alias string) *Query {
	f, err := clause.Alias(h, alias)
	if err != nil {
		return q.fail(err)
	}
	return q.fail(q.sel.AddFragment(f))
}

// Distinct renders SELECT DISTINCT.
func (q *Query) Distinct() *Query {
	q.distinct = true
	q.touch()
	return q
}

// Where ANDs criteria into the WHERE clause.
func (q *Query) Where(cs ...clause.Criteria) *Query {
	q.where = clause.And(append([]clause.Criteria{q.where}, cs...)...)
	q.touch()
	return q
}

// GroupBy adds grouping columns.
func (q *Query) GroupBy(cols ...column.Handle) *Query {
	q.groupBy.Add(cols...)
	q.touch()
	return q
}

// Having ANDs criteria into the HAVING clause.
func (q *Query) Having(cs ...clause.Criteria) *Query {
	q.having = clause.And(append([]clause.Criteria{q.having}, cs...)...)
	q.touch()
	return q
}

// OrderBy adds ordering fragments, typically clause.Asc or clause.Desc.
func (q *Query) OrderBy(fs ...clause.Fragment) *Query {
	for _, f := range fs {
		if err := q.orderBy.AddFragment(f); err != nil {
			return q.fail(err)
		}
	}
	q.touch()
	return q
}

// JoinNode joins node with an explicit type, ahead of column-driven joins.
func (q *Query) JoinNode(t from.JoinType, node *graph.Node) *Query {
	q.forced = append(q.forced, forcedJoin{typ: t, node: node})
	q.touch()
	return q
}

// Join joins another query's graph. Its select, criteria, grouping and
// ordering merge into this query after this query's own.
func (q *Query) Join(t from.JoinType, other *Query, on clause.Criteria) *Query {
	if other == nil || other == q {
		return q.fail(qerr.State("invalid query join"))
	}
	q.joins = append(q.joins, queryJoin{typ: t, other: other, on: on})
	q.touch()
	return q
}

// JoinDerived joins sub as a derived table named alias.
func (q *Query) JoinDerived(t from.JoinType, sub *Query, alias string, on clause.Criteria) *Query {
	if sub == nil || sub == q {
		return q.fail(qerr.State("invalid derived join"))
	}
	q.derived = append(q.derived, derivedJoin{typ: t, sub: sub, alias: alias, on: on})
	q.touch()
	return q
}

func (q *Query) combine(op SetOperator, other *Query) *Query {
	if other == nil || other == q {
		return q.fail(qerr.State("invalid %s operand", op))
	}
	q.sets = append(q.sets, setOp{op: op, other: other})
	q.touch()
	return q
}

func (q *Query) Union(other *Query) *Query     { return q.combine(Union, other) }
func (q *Query) UnionAll(other *Query) *Query  { return q.combine(UnionAll, other) }
func (q *Query) Intersect(other *Query) *Query { return q.combine(Intersect, other) }
func (q *Query) Except(other *Query) *Query    { return q.combine(Except, other) }

// Limit caps the number of rows.
func (q *Query) Limit(n int64) *Query {
	if n < 0 {
		return q.fail(qerr.State("negative limit %d", n))
	}
	q.limit = &n
	q.touch()
	return q
}

// Offset skips rows.
func (q *Query) Offset(n int64) *Query {
	if n < 0 {
		return q.fail(qerr.State("negative offset %d", n))
	}
	q.offset = &n
	q.touch()
	return q
}

// ToSubquery returns q for embedding with the "[]" token, e.g. in clause.InQuery.
func (q *Query) ToSubquery() *Subquery { return &Subquery{q: q} }

// version sums the revisions of q and every query it embeds, so a change to
// any of them invalidates the memoized text.
func (q *Query) version() uint64 {
	v := q.revision
	for _, j := range q.joins {
		v += j.other.version()
	}
	for _, d := range q.derived {
		v += d.sub.version()
	}
	for _, s := range q.sets {
		v += s.other.version()
	}
	for _, n := range q.nested() {
		if s, ok := n.(*Subquery); ok {
			v += s.q.version()
		}
	}
	return v
}

func (q *Query) nested() []clause.Nested {
	var out []clause.Nested
	out = append(out, q.sel.Nested()...)
	if q.where != nil {
		out = append(out, q.where.Nested()...)
	}
	if q.having != nil {
		out = append(out, q.having.Nested()...)
	}
	out = append(out, q.orderBy.Nested()...)
	return out
}

// Compose renders the statement. The result is memoized until the query,
// or any query it embeds, changes.
func (q *Query) Compose(ctx context.Context) (Composed, error) {
	version := q.version()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cached != nil && q.cachedAt == version {
		return q.cached.clone(), nil
	}

	ctx, span := startSpan(ctx, "compose.select", attribute.String("root", rootKey(q.root)))
	defer span.End()
	start := time.Now()

	sql, binders, err := q.render(nil)
	if err == nil {
		sql, binders, err = q.cfg.decorate(sql, binders)
	}
	q.cfg.metrics.RecordCompose(ctx, "select", time.Since(start), err)
	recordSpanError(span, err)
	if err != nil {
		return Composed{}, err
	}

	q.cfg.logger.Debug("composed select",
		slog.String("root", rootKey(q.root)),
		slog.Int("binders", len(binders)),
		slog.Duration("duration", time.Since(start)),
	)
	out := Composed{SQL: sql, Binders: binders}
	q.cached = &out
	q.cachedAt = version
	return out.clone(), nil
}

// SQL renders the statement text.
func (q *Query) SQL() (string, error) {
	c, err := q.Compose(context.Background())
	return c.SQL, err
}

// Complement binds the statement's binders into st from ordinal start.
func (q *Query) Complement(start int, st binder.Statement) (int, error) {
	c, err := q.Compose(context.Background())
	if err != nil {
		return start, err
	}
	return c.Complement(start, st)
}

func rootKey(n *graph.Node) string {
	if n == nil {
		return ""
	}
	return n.Key()
}
