package compose

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel/attribute"

	"relquery/internal/binder"
	"relquery/internal/clause"
	"relquery/internal/column"
	"relquery/internal/from"
	"relquery/internal/graph"
	"relquery/internal/naming"
	"relquery/internal/qerr"
)

type assignment struct {
	col column.Handle
	val binder.Binder
}

// mutation is the state shared by INSERT, UPDATE and DELETE: a root table,
// column assignments and criteria restricted to root columns.
type mutation struct {
	cfg      config
	root     *graph.Node
	sets     []assignment
	where    clause.Criteria
	allowAll bool
	err      error
}

func newMutation(root *graph.Node, opts []Option) mutation {
	m := mutation{cfg: newConfig(opts), root: root}
	if root == nil {
		m.err = qerr.State("statement has no root")
	}
	return m
}

func (m *mutation) set(h column.Handle, b binder.Binder) {
	if m.err != nil {
		return
	}
	if err := m.rootColumn(h); err != nil {
		m.err = err
		return
	}
	m.sets = append(m.sets, assignment{col: h, val: b})
}

func (m *mutation) rootColumn(h column.Handle) error {
	c, ok := h.(*column.Column)
	if !ok {
		return qerr.Unsupported("only plain columns can be assigned, got %q", h.Name())
	}
	if c.Node() != m.root {
		return qerr.Unsupported("column %s belongs to %s, not the root %s", c.Name(), c.Node().Key(), m.root.Key())
	}
	return nil
}

func (m *mutation) table() string { return from.Table(m.cfg.dialect, m.root.Path()) }

// criteria prepares the WHERE clause and renders it against the bare root.
// Root columns are qualified with the table name when a subquery is embedded.
func (m *mutation) criteria() (string, []any, error) {
	if m.where == nil {
		if !m.allowAll {
			return "", nil, qerr.State("refusing to modify every row of %s without criteria", m.root.Key())
		}
		return "", nil, nil
	}
	crit, err := m.where.Prepare(m.root, m.cfg.depth)
	if err != nil {
		return "", nil, err
	}
	for _, h := range crit.Columns() {
		if _, outer := h.(*column.Outer); outer {
			continue
		}
		for _, n := range h.Nodes() {
			if n != m.root {
				return "", nil, qerr.Unsupported("criteria column %s on %s is not a root column of %s", h.Name(), n.Key(), m.root.Key())
			}
		}
	}

	jg := from.New(m.root, from.WithDialect(m.cfg.dialect))
	alloc := naming.NewAliasAllocator(m.cfg.namer)
	if err := jg.Assign(alloc); err != nil {
		return "", nil, err
	}
	if len(crit.Nested()) > 0 {
		jg.AliasAs(m.root, m.table())
	}
	sql, binders, err := clause.Render(crit, &scope{JoinGraph: jg, alloc: alloc})
	if err != nil {
		return "", nil, err
	}
	return sql, asArgs(binders), nil
}

func (m *mutation) finish(ctx context.Context, statement string, build func() (string, []any, error)) (Composed, error) {
	ctx, span := startSpan(ctx, "compose."+statement, attribute.String("root", rootKey(m.root)))
	defer span.End()
	start := time.Now()

	out, err := func() (Composed, error) {
		if m.err != nil {
			return Composed{}, m.err
		}
		sql, args, err := build()
		if err != nil {
			return Composed{}, err
		}
		binders, err := toBinders(args)
		if err != nil {
			return Composed{}, err
		}
		sql, binders, err = m.cfg.decorate(sql, binders)
		if err != nil {
			return Composed{}, err
		}
		return Composed{SQL: sql, Binders: binders}, nil
	}()
	m.cfg.metrics.RecordCompose(ctx, statement, time.Since(start), err)
	recordSpanError(span, err)
	return out, err
}

func asArgs(binders []binder.Binder) []any {
	out := make([]any, len(binders))
	for i, b := range binders {
		out[i] = b
	}
	return out
}

func toBinders(args []any) ([]binder.Binder, error) {
	out := make([]binder.Binder, len(args))
	for i, a := range args {
		b, ok := a.(binder.Binder)
		if !ok {
			return nil, qerr.State("statement produced non-binder argument %T at %d", a, i+1)
		}
		out[i] = b
	}
	return out, nil
}

// Insert composes a single-row INSERT into the root table.
type Insert struct {
	mutation
}

// NewInsert returns an INSERT into root's table.
func NewInsert(root *graph.Node, opts ...Option) *Insert {
	return &Insert{mutation: newMutation(root, opts)}
}

// Set assigns b to the root column h.
func (i *Insert) Set(h column.Handle, b binder.Binder) *Insert {
	i.set(h, b)
	return i
}

// Compose renders the INSERT.
func (i *Insert) Compose(ctx context.Context) (Composed, error) {
	return i.finish(ctx, "insert", func() (string, []any, error) {
		if len(i.sets) == 0 {
			if i.cfg.dialect.Name == "mysql" {
				return fmt.Sprintf("INSERT INTO %s () VALUES ()", i.table()), nil, nil
			}
			return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", i.table()), nil, nil
		}
		cols := make([]string, len(i.sets))
		vals := make([]any, len(i.sets))
		for n, a := range i.sets {
			cols[n] = i.cfg.dialect.Quote(a.col.Name())
			vals[n] = a.val
		}
		return sq.Insert(i.table()).
			Columns(cols...).
			Values(vals...).
			PlaceholderFormat(sq.Question).
			ToSql()
	})
}

// Update composes an UPDATE of the root table.
type Update struct {
	mutation
}

// NewUpdate returns an UPDATE of root's table.
func NewUpdate(root *graph.Node, opts ...Option) *Update {
	return &Update{mutation: newMutation(root, opts)}
}

// Set assigns b to the root column h.
func (u *Update) Set(h column.Handle, b binder.Binder) *Update {
	u.set(h, b)
	return u
}

// Where ANDs criteria; they may only reference root columns.
func (u *Update) Where(cs ...clause.Criteria) *Update {
	u.where = clause.And(append([]clause.Criteria{u.where}, cs...)...)
	return u
}

// AllowAll permits an UPDATE without criteria.
func (u *Update) AllowAll() *Update {
	u.allowAll = true
	return u
}

// Compose renders the UPDATE.
func (u *Update) Compose(ctx context.Context) (Composed, error) {
	return u.finish(ctx, "update", func() (string, []any, error) {
		if len(u.sets) == 0 {
			return "", nil, qerr.State("update set cannot be empty")
		}
		where, args, err := u.criteria()
		if err != nil {
			return "", nil, err
		}
		b := sq.Update(u.table())
		for _, a := range u.sets {
			b = b.Set(u.cfg.dialect.Quote(a.col.Name()), a.val)
		}
		if where != "" {
			b = b.Where(sq.Expr(where, args...))
		}
		return b.PlaceholderFormat(sq.Question).ToSql()
	})
}

// Delete composes a DELETE from the root table.
type Delete struct {
	mutation
}

// NewDelete returns a DELETE from root's table.
func NewDelete(root *graph.Node, opts ...Option) *Delete {
	return &Delete{mutation: newMutation(root, opts)}
}

// Where ANDs criteria; they may only reference root columns.
func (d *Delete) Where(cs ...clause.Criteria) *Delete {
	d.where = clause.And(append([]clause.Criteria{d.where}, cs...)...)
	return d
}

// AllowAll permits a DELETE without criteria.
func (d *Delete) AllowAll() *Delete {
	d.allowAll = true
	return d
}

// Compose renders the DELETE.
func (d *Delete) Compose(ctx context.Context) (Composed, error) {
	return d.finish(ctx, "delete", func() (string, []any, error) {
		where, args, err := d.criteria()
		if err != nil {
			return "", nil, err
		}
		b := sq.Delete(d.table())
		if where != "" {
			b = b.Where(sq.Expr(where, args...))
		}
		return b.PlaceholderFormat(sq.Question).ToSql()
	})
}
