// Package from accumulates the graph nodes and explicit joins a statement
// needs and renders its FROM clause. A JoinGraph also serves as the alias
// namespace the statement's columns render in.
package from

import (
	"slices"
	"strings"

	"relquery/internal/binder"
	"relquery/internal/catalog"
	"relquery/internal/clause"
	"relquery/internal/column"
	"relquery/internal/graph"
	"relquery/internal/naming"
	"relquery/internal/qerr"
	"relquery/internal/sqlutil"
)

// JoinType selects the join keyword.
type JoinType int

const (
	LeftOuter JoinType = iota
	Inner
	RightOuter
)

// Keyword returns the SQL join keyword.
func (t JoinType) Keyword() string {
	switch t {
	case Inner:
		return "INNER JOIN"
	case RightOuter:
		return "RIGHT OUTER JOIN"
	default:
		return "LEFT OUTER JOIN"
	}
}

func (t JoinType) String() string {
	switch t {
	case Inner:
		return "inner"
	case RightOuter:
		return "right"
	default:
		return "left"
	}
}

// ParseJoinType accepts "left", "inner" and "right", case-insensitively.
func ParseJoinType(s string) (JoinType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "left", "left outer":
		return LeftOuter, nil
	case "inner":
		return Inner, nil
	case "right", "right outer":
		return RightOuter, nil
	}
	return LeftOuter, qerr.Configuration("unknown join type %q", s)
}

type implicitJoin struct {
	typ  JoinType
	node *graph.Node
}

type explicitJoin struct {
	typ     JoinType
	graph   *JoinGraph
	derived clause.Nested
	alias   string
	on      clause.Criteria
}

// JoinGraph is the FROM side of one statement.
type JoinGraph struct {
	root        *graph.Node
	dialect     sqlutil.Dialect
	defaultJoin JoinType

	implicit   []implicitJoin
	index      map[*graph.Node]int
	explicit   []explicitJoin
	correlated []*graph.Node

	outer    *JoinGraph
	subquery bool
	qualify  bool
	aliases  map[*graph.Node]string
}

// Option configures a JoinGraph.
type Option func(*JoinGraph)

// WithDialect sets the quoting dialect. The default is MySQL.
func WithDialect(d sqlutil.Dialect) Option {
	return func(j *JoinGraph) { j.dialect = d }
}

// WithDefaultJoin sets the join type used for nodes pulled in by columns.
func WithDefaultJoin(t JoinType) Option {
	return func(j *JoinGraph) { j.defaultJoin = t }
}

// New returns an empty join graph rooted at root.
func New(root *graph.Node, opts ...Option) *JoinGraph {
	j := &JoinGraph{
		root:    root,
		dialect: sqlutil.MySQL,
		index:   make(map[*graph.Node]int),
		aliases: make(map[*graph.Node]string),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Root returns the root node.
func (j *JoinGraph) Root() *graph.Node { return j.root }

// Dialect returns the quoting dialect.
func (j *JoinGraph) Dialect() sqlutil.Dialect { return j.dialect }

// DefaultJoin returns the join type used for column-driven joins.
func (j *JoinGraph) DefaultJoin() JoinType { return j.defaultJoin }

// ForSubquery marks the graph as nested inside outer. Every column then
// renders qualified and nodes of outer's graphs resolve through outer.
func (j *JoinGraph) ForSubquery(outer *JoinGraph) {
	j.outer = outer
	j.subquery = outer != nil
}

// Enclosing returns the namespace of the enclosing statement, or nil.
func (j *JoinGraph) Enclosing() column.Namespace {
	if j.outer == nil {
		return nil
	}
	return j.outer
}

// IsSubquery reports whether the graph renders inside another statement.
func (j *JoinGraph) IsSubquery() bool { return j.subquery }

// Qualify forces qualified column names even without joins.
func (j *JoinGraph) Qualify(on bool) { j.qualify = on }

// Reset drops every join and alias, keeping root, options and nesting.
func (j *JoinGraph) Reset() {
	j.implicit = nil
	j.index = make(map[*graph.Node]int)
	j.explicit = nil
	j.correlated = nil
	j.aliases = make(map[*graph.Node]string)
}

// Join registers node and its ancestors as implicit joins. It reports false
// without change when node belongs to another graph, unless the join graph
// is in subquery mode, in which case the node is recorded as a correlated
// reference to the enclosing statement. The first type registered for a
// node wins.
func (j *JoinGraph) Join(t JoinType, node *graph.Node) bool {
	if node == nil {
		return false
	}
	if node.Root() != j.root {
		if j.subquery {
			if !slices.Contains(j.correlated, node) {
				j.correlated = append(j.correlated, node)
			}
			return true
		}
		return false
	}
	if node.IsRoot() {
		return true
	}
	lineage := node.Lineage()
	for _, n := range lineage[1 : len(lineage)-1] {
		j.add(j.defaultJoin, n)
	}
	j.add(t, node)
	return true
}

// JoinColumns registers the nodes of every handle with the default join type.
// Outer references are recorded as correlated in subquery mode and never
// joined locally.
func (j *JoinGraph) JoinColumns(handles ...column.Handle) {
	for _, h := range handles {
		j.joinHandle(h)
	}
}

func (j *JoinGraph) joinHandle(h column.Handle) {
	switch x := h.(type) {
	case *column.Outer:
		if j.subquery && !slices.Contains(j.correlated, x.Node()) {
			j.correlated = append(j.correlated, x.Node())
		}
	case *column.Composite:
		for _, p := range x.Parts() {
			j.joinHandle(p)
		}
	default:
		for _, n := range h.Nodes() {
			j.Join(j.defaultJoin, n)
		}
	}
}

func (j *JoinGraph) add(t JoinType, n *graph.Node) {
	if _, ok := j.index[n]; ok {
		return
	}
	j.index[n] = len(j.implicit)
	j.implicit = append(j.implicit, implicitJoin{typ: t, node: n})
}

// JoinWith adds an explicit join to another statement's graph. Handles in
// on that belong to either graph register as implicit joins of their graph.
// An inner join with nil on renders as a cross join; outer joins need on.
func (j *JoinGraph) JoinWith(t JoinType, other *JoinGraph, on clause.Criteria) error {
	if other == nil {
		return qerr.State("join onto nil graph")
	}
	if other == j {
		return qerr.State("graph %s cannot join itself", j.root.Key())
	}
	if on == nil && t != Inner {
		return qerr.State("%s join onto %s needs ON criteria", t, other.root.Key())
	}
	j.explicit = append(j.explicit, explicitJoin{typ: t, graph: other, on: on})
	for _, h := range clause.Columns(on) {
		for _, n := range h.Nodes() {
			switch n.Root() {
			case j.root:
				j.Join(j.defaultJoin, n)
			case other.root:
				other.Join(other.defaultJoin, n)
			}
		}
	}
	return nil
}

// JoinDerived adds an explicit join to a nested statement rendered as a
// derived table named alias.
func (j *JoinGraph) JoinDerived(t JoinType, sub clause.Nested, alias string, on clause.Criteria) error {
	if sub == nil || alias == "" {
		return qerr.State("derived join needs a statement and an alias")
	}
	if on == nil && t != Inner {
		return qerr.State("%s join onto derived table %s needs ON criteria", t, alias)
	}
	j.explicit = append(j.explicit, explicitJoin{typ: t, derived: sub, alias: alias, on: on})
	j.JoinColumns(clause.Columns(on)...)
	return nil
}

// Nodes returns the implicit nodes in render order: by depth, then key.
func (j *JoinGraph) Nodes() []*graph.Node {
	joins := j.sorted()
	out := make([]*graph.Node, len(joins))
	for i, ij := range joins {
		out[i] = ij.node
	}
	return out
}

// Correlated returns the nodes of enclosing graphs referenced in subquery mode.
func (j *JoinGraph) Correlated() []*graph.Node { return slices.Clone(j.correlated) }

// JoinTypeOf returns the registered join type of node.
func (j *JoinGraph) JoinTypeOf(node *graph.Node) (JoinType, bool) {
	i, ok := j.index[node]
	if !ok {
		return 0, false
	}
	return j.implicit[i].typ, true
}

func (j *JoinGraph) sorted() []implicitJoin {
	out := slices.Clone(j.implicit)
	slices.SortStableFunc(out, func(a, b implicitJoin) int {
		if d := a.node.Depth() - b.node.Depth(); d != 0 {
			return d
		}
		return strings.Compare(a.node.Key(), b.node.Key())
	})
	return out
}

// HasJoins reports whether any implicit or explicit join is registered.
func (j *JoinGraph) HasJoins() bool { return len(j.implicit) > 0 || len(j.explicit) > 0 }

func (j *JoinGraph) qualified() bool { return j.qualify || j.subquery || j.HasJoins() }

// Assign allocates aliases for the root, the implicit nodes and every
// explicitly joined graph, in render order. Derived table aliases are
// reserved first so generated aliases step around them; a derived alias
// already in use is a State error. Unqualified graphs get none.
func (j *JoinGraph) Assign(alloc *naming.AliasAllocator) error {
	j.aliases = make(map[*graph.Node]string)
	if !j.qualified() {
		return nil
	}
	if err := j.reserveDerived(alloc); err != nil {
		return err
	}
	j.assign(alloc)
	return nil
}

func (j *JoinGraph) reserveDerived(alloc *naming.AliasAllocator) error {
	for _, ej := range j.explicit {
		if ej.graph != nil {
			if err := ej.graph.reserveDerived(alloc); err != nil {
				return err
			}
			continue
		}
		if err := alloc.Reserve(ej.alias, "derived table"); err != nil {
			return err
		}
	}
	return nil
}

func (j *JoinGraph) assign(alloc *naming.AliasAllocator) {
	j.aliases[j.root] = alloc.Allocate(j.root.Path().Name)
	for _, ij := range j.sorted() {
		j.aliases[ij.node] = alloc.Allocate(ij.node.Path().Name)
	}
	for _, ej := range j.explicit {
		if ej.graph != nil {
			ej.graph.aliases = make(map[*graph.Node]string)
			ej.graph.assign(alloc)
		}
	}
}

// AliasAs overrides the alias of node after Assign. UPDATE and DELETE use
// it to qualify the target table by its own name inside correlated subqueries.
func (j *JoinGraph) AliasAs(node *graph.Node, alias string) {
	j.aliases[node] = alias
}

// Alias returns the alias assigned to node, searching explicitly joined
// graphs and then enclosing statements. It returns "" when the statement
// renders unqualified or the node is unknown.
func (j *JoinGraph) Alias(node *graph.Node) string {
	if a := j.lookup(node); a != "" {
		return a
	}
	if j.outer != nil {
		return j.outer.Alias(node)
	}
	return ""
}

func (j *JoinGraph) lookup(node *graph.Node) string {
	if a, ok := j.aliases[node]; ok {
		return a
	}
	for _, ej := range j.explicit {
		if ej.graph != nil {
			if a := ej.graph.lookup(node); a != "" {
				return a
			}
		}
	}
	return ""
}

// Unqualified wraps the namespace so every column renders without alias.
func (j *JoinGraph) Unqualified() column.Namespace { return bare{dialect: j.dialect} }

type bare struct{ dialect sqlutil.Dialect }

func (b bare) Alias(*graph.Node) string { return "" }
func (b bare) Dialect() sqlutil.Dialect { return b.dialect }

// Table renders a table path quoted in the dialect.
func Table(d sqlutil.Dialect, path catalog.TablePath) string {
	if path.Schema == "" {
		return d.Quote(path.Name)
	}
	return d.Quote(path.Schema) + "." + d.Quote(path.Name)
}

func (j *JoinGraph) tableRef(n *graph.Node) string {
	ref := Table(j.dialect, n.Path())
	if a := j.aliases[n]; a != "" {
		ref += " " + a
	}
	return ref
}

// Render writes "FROM <root> [joins...]" and returns the binders of any
// derived tables and explicit ON criteria in order.
func (j *JoinGraph) Render() (string, []binder.Binder, error) { return j.RenderIn(j) }

// RenderIn is Render with ON criteria and derived tables rendered inside ns,
// which must resolve the aliases of j.
func (j *JoinGraph) RenderIn(ns column.Namespace) (string, []binder.Binder, error) {
	joins, binders, err := j.renderJoins(ns)
	if err != nil {
		return "", nil, err
	}
	parts := append([]string{"FROM " + j.tableRef(j.root)}, joins...)
	return strings.Join(parts, " "), binders, nil
}

func (j *JoinGraph) renderJoins(ns column.Namespace) ([]string, []binder.Binder, error) {
	var parts []string
	var binders []binder.Binder
	for _, ij := range j.sorted() {
		parts = append(parts, j.implicitJoin(ij, ns))
	}
	for _, ej := range j.explicit {
		var target string
		switch {
		case ej.graph != nil:
			target = ej.graph.tableRef(ej.graph.root)
		default:
			sql, args, err := ej.derived.RenderNested(ns)
			if err != nil {
				return nil, nil, err
			}
			target = "(" + sql + ") " + ej.alias
			binders = append(binders, args...)
		}
		join := ej.typ.Keyword() + " " + target
		if ej.on != nil {
			on, args, err := clause.Render(ej.on, ns)
			if err != nil {
				return nil, nil, err
			}
			join += " ON (" + on + ")"
			binders = append(binders, args...)
		}
		parts = append(parts, join)
		if ej.graph != nil {
			inner, args, err := ej.graph.renderJoins(ns)
			if err != nil {
				return nil, nil, err
			}
			parts = append(parts, inner...)
			binders = append(binders, args...)
		}
	}
	return parts, binders, nil
}

func (j *JoinGraph) implicitJoin(ij implicitJoin, ns column.Namespace) string {
	edge, _ := ij.node.Via()
	parent := ij.node.Parent()
	local, remote := edge.LocalColumns(), edge.RemoteColumns()
	conds := make([]string, len(local))
	for i := range local {
		conds[i] = j.dialect.Qualify(ns.Alias(parent), local[i]) + " = " + j.dialect.Qualify(ns.Alias(ij.node), remote[i])
	}
	return ij.typ.Keyword() + " " + j.tableRef(ij.node) + " ON (" + strings.Join(conds, " AND ") + ")"
}
