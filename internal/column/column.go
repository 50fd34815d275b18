// Package column provides handles that reference columns within a table graph.
package column

import (
	"slices"

	"relquery/internal/catalog"
	"relquery/internal/graph"
	"relquery/internal/qerr"
	"relquery/internal/sqltype"
	"relquery/internal/sqlutil"
)

// DefaultSearchDepth bounds the breadth-first search used when a handle is
// relocated onto a root whose table is not on the handle's own path.
const DefaultSearchDepth = 3

// Namespace resolves the alias a node renders with. An empty alias renders
// the bare column name.
type Namespace interface {
	Alias(n *graph.Node) string
	Dialect() sqlutil.Dialect
}

// Handle references a column, or something rendered in a column's place.
// Handles are values; rendering never mutates them.
type Handle interface {
	// Name is the column name, or the SQL text of a phantom.
	Name() string
	// Node is the graph node the handle belongs to; nil when unanchored.
	Node() *graph.Node
	// Nodes lists every node the handle needs joined.
	Nodes() []*graph.Node
	// Render writes the handle qualified with its alias in ns.
	Render(ns Namespace) string
	// RenderUnqualified writes the handle without any alias.
	RenderUnqualified(ns Namespace) string
	// Relocate re-resolves the handle against another root.
	Relocate(root *graph.Node, depth int) (Handle, error)
	// Replicate returns an independent copy.
	Replicate() Handle
	// IsPrimaryKey reports whether the handle is part of its table's primary key.
	IsPrimaryKey() (bool, error)
}

// Column is a handle on one named column of one node.
type Column struct {
	node *graph.Node
	meta catalog.Column
}

// New returns a handle for name on node.
func New(node *graph.Node, name string) (*Column, error) {
	if node == nil {
		return nil, qerr.State("column %q has no graph node", name)
	}
	meta, err := node.Column(name)
	if err != nil {
		return nil, err
	}
	return &Column{node: node, meta: meta}, nil
}

// Must is New for fixtures; it panics on error.
func Must(node *graph.Node, name string) *Column {
	c, err := New(node, name)
	if err != nil {
		panic(err)
	}
	return c
}

// All returns handles for every column of node in table order.
func All(node *graph.Node) []*Column {
	cols := node.Table().Columns
	out := make([]*Column, len(cols))
	for i, meta := range cols {
		out[i] = &Column{node: node, meta: meta}
	}
	return out
}

// PrimaryKey returns handles for the primary key of node, or a State error
// when the table has none.
func PrimaryKey(node *graph.Node) ([]*Column, error) {
	names, err := node.PrimaryKey()
	if err != nil {
		return nil, err
	}
	out := make([]*Column, len(names))
	for i, name := range names {
		c, err := New(node, name)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// Name returns the column name.
func (c *Column) Name() string { return c.meta.Name }

// Node returns the owning node.
func (c *Column) Node() *graph.Node { return c.node }

// Nodes returns the owning node.
func (c *Column) Nodes() []*graph.Node { return []*graph.Node{c.node} }

// Metadata returns the catalog description of the column.
func (c *Column) Metadata() catalog.Column { return c.meta }

// Kind returns the bind value kind of the column.
func (c *Column) Kind() sqltype.Kind { return c.meta.Kind }

// Render writes alias.`name`, or `name` when ns assigns no alias.
func (c *Column) Render(ns Namespace) string {
	if ns == nil {
		return sqlutil.MySQL.Quote(c.meta.Name)
	}
	return ns.Dialect().Qualify(ns.Alias(c.node), c.meta.Name)
}

// RenderUnqualified writes `name`.
func (c *Column) RenderUnqualified(ns Namespace) string {
	if ns == nil {
		return sqlutil.MySQL.Quote(c.meta.Name)
	}
	return ns.Dialect().Quote(c.meta.Name)
}

// Replicate returns a copy sharing the immutable node.
func (c *Column) Replicate() Handle {
	cp := *c
	return &cp
}

// IsPrimaryKey reports whether the column is in its table's primary key.
func (c *Column) IsPrimaryKey() (bool, error) {
	return slices.Contains(c.node.Table().PrimaryKey, c.meta.Name), nil
}

// Relocate re-resolves the column against root:
//  1. a root of the handle's own root table replays the handle's key path;
//  2. a root whose table sits on the handle's path replays the remainder;
//  3. otherwise the handle's root table is searched breadth-first from root
//     up to depth hops, and the unique shallowest match is prefixed.
//
// Relocating onto the handle's own graph returns the handle itself.
func (c *Column) Relocate(root *graph.Node, depth int) (Handle, error) {
	if root == nil {
		return nil, qerr.State("relocate %s onto nil root", c.meta.Name)
	}
	if c.node.Root() == root {
		return c, nil
	}
	target, err := locate(c.node, root, depth)
	if err != nil {
		return nil, err
	}
	return New(target, c.meta.Name)
}

func locate(node, root *graph.Node, depth int) (*graph.Node, error) {
	lineage := node.Lineage()
	var labels []string
	for _, e := range node.EdgePath() {
		labels = append(labels, e.Label())
	}

	for i, n := range lineage {
		if n.Path() == root.Path() {
			return root.FollowPath(labels[i:])
		}
	}

	if depth <= 0 {
		depth = DefaultSearchDepth
	}
	own := lineage[0].Path()
	for _, level := range root.Reachable(depth) {
		var matches []*graph.Node
		for _, n := range level {
			if n.Path() == own {
				matches = append(matches, n)
			}
		}
		switch len(matches) {
		case 0:
			continue
		case 1:
			return matches[0].FollowPath(labels)
		default:
			return nil, qerr.Ambiguous("%s is reachable from %s through %d paths", own, root.Key(), len(matches))
		}
	}
	return nil, qerr.NotFound("%s is not reachable from %s", node.Key(), root.Key())
}

// Equal reports whether two handles reference the same thing.
func Equal(a, b Handle) bool {
	switch x := a.(type) {
	case *Column:
		y, ok := b.(*Column)
		return ok && x.node == y.node && x.meta.Name == y.meta.Name
	case *Outer:
		y, ok := b.(*Outer)
		return ok && Equal(x.Column, y.Column)
	case *Phantom:
		y, ok := b.(*Phantom)
		return ok && x.sql == y.sql
	case *Composite:
		y, ok := b.(*Composite)
		if !ok || x.template != y.template || len(x.parts) != len(y.parts) {
			return false
		}
		for i := range x.parts {
			if !Equal(x.parts[i], y.parts[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Prepare relocates every anchored part of h onto root. Phantoms are returned unchanged.
func Prepare(h Handle, root *graph.Node, depth int) (Handle, error) {
	switch x := h.(type) {
	case *Phantom, *Outer:
		return x, nil
	case *Composite:
		return x.RelocateParts(root, depth)
	default:
		return h.Relocate(root, depth)
	}
}
