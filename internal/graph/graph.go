// Package graph builds table-relationship graphs from catalog metadata.
//
// A graph is rooted at one table occurrence. Every other node is reached from
// the root by a unique foreign-key path, so two references to the same table
// through different keys are distinct nodes. Nodes are immutable and cached by
// their path in a Factory, which makes pointer equality a valid identity test.
package graph

import (
	"fmt"
	"slices"
	"strings"

	"relquery/internal/catalog"
	"relquery/internal/qerr"
)

// ForeignKey is one foreign key constraint: From.Columns references To.Referenced.
type ForeignKey struct {
	Name       string
	From       catalog.TablePath
	Columns    []string
	To         catalog.TablePath
	Referenced []string
}

func foreignKeyOf(fk catalog.ForeignKeyConstraint) ForeignKey {
	return ForeignKey{
		Name:       fk.ConstraintName,
		From:       fk.Table,
		Columns:    slices.Clone(fk.ColumnNames),
		To:         fk.ReferencedTable,
		Referenced: slices.Clone(fk.ReferencedColumns),
	}
}

// Direction tells which side of a foreign key an edge starts from.
type Direction int

const (
	// Outgoing follows a key declared on the current table to the table it references (many-to-one).
	Outgoing Direction = iota
	// Incoming follows a key declared on another table back to that table (one-to-many).
	Incoming
)

// Edge is a foreign key traversed in one direction.
type Edge struct {
	Key       ForeignKey
	Direction Direction
}

// Target is the table the edge leads to.
func (e Edge) Target() catalog.TablePath {
	if e.Direction == Incoming {
		return e.Key.From
	}
	return e.Key.To
}

// LocalColumns are the join columns on the table the edge starts from.
func (e Edge) LocalColumns() []string {
	if e.Direction == Incoming {
		return e.Key.Referenced
	}
	return e.Key.Columns
}

// RemoteColumns are the join columns on the target table, positionally paired with LocalColumns.
func (e Edge) RemoteColumns() []string {
	if e.Direction == Incoming {
		return e.Key.Columns
	}
	return e.Key.Referenced
}

// Label names the edge within a node path. Incoming edges carry a "<" prefix
// so a self-referencing key can be followed in both directions.
func (e Edge) Label() string {
	if e.Direction == Incoming {
		return "<" + e.Key.Name
	}
	return e.Key.Name
}

// Table is the immutable metadata of one table.
type Table struct {
	Path       catalog.TablePath
	Columns    []catalog.Column
	PrimaryKey []string
	Imported   []ForeignKey
	Exported   []ForeignKey
}

// Column looks up a column by name.
func (t *Table) Column(name string) (catalog.Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return catalog.Column{}, false
}

// Node is one table occurrence within a rooted graph.
type Node struct {
	factory *Factory
	table   *Table
	parent  *Node
	via     *Edge
	key     string
	depth   int
}

// Table returns the node's table metadata.
func (n *Node) Table() *Table { return n.table }

// Path returns the node's table path.
func (n *Node) Path() catalog.TablePath { return n.table.Path }

// Parent returns the node this one was reached from, or nil for a root.
func (n *Node) Parent() *Node { return n.parent }

// Via returns the edge that produced this node; ok is false for a root.
func (n *Node) Via() (Edge, bool) {
	if n.via == nil {
		return Edge{}, false
	}
	return *n.via, true
}

// IsRoot reports whether the node has no parent.
func (n *Node) IsRoot() bool { return n.parent == nil }

// Root returns the root of the node's graph.
func (n *Node) Root() *Node {
	r := n
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// SameGraph reports whether both nodes share a root.
func (n *Node) SameGraph(other *Node) bool {
	return other != nil && n.Root() == other.Root()
}

// Depth is the number of edges between the root and the node.
func (n *Node) Depth() int { return n.depth }

// Key is the node's path key, e.g. "orders/fk_customer".
func (n *Node) Key() string { return n.key }

func (n *Node) String() string { return n.key }

// Lineage returns the nodes from the root down to n, inclusive.
func (n *Node) Lineage() []*Node {
	out := make([]*Node, n.depth+1)
	for cur, i := n, n.depth; cur != nil; cur, i = cur.parent, i-1 {
		out[i] = cur
	}
	return out
}

// EdgePath returns the edges from the root down to n.
func (n *Node) EdgePath() []Edge {
	out := make([]Edge, n.depth)
	for cur, i := n, n.depth-1; cur.parent != nil; cur, i = cur.parent, i-1 {
		out[i] = *cur.via
	}
	return out
}

// Column looks up a column on the node's table.
func (n *Node) Column(name string) (catalog.Column, error) {
	col, ok := n.table.Column(name)
	if !ok {
		return catalog.Column{}, qerr.NotFound("column %q does not exist on %s", name, n.key)
	}
	return col, nil
}

// PrimaryKey returns the primary key columns of the node's table.
func (n *Node) PrimaryKey() ([]string, error) {
	if len(n.table.PrimaryKey) == 0 {
		return nil, qerr.State("table %s has no primary key", n.table.Path)
	}
	return slices.Clone(n.table.PrimaryKey), nil
}

// Edges lists every edge leaving the node: outgoing keys first, then incoming,
// each in constraint name order.
func (n *Node) Edges() []Edge {
	out := make([]Edge, 0, len(n.table.Imported)+len(n.table.Exported))
	for _, fk := range n.table.Imported {
		out = append(out, Edge{Key: fk, Direction: Outgoing})
	}
	for _, fk := range n.table.Exported {
		out = append(out, Edge{Key: fk, Direction: Incoming})
	}
	return out
}

// Find performs one hop. key is a constraint name, a constraint name prefixed
// with ">" (outgoing only) or "<" (incoming only), or the comma-joined column
// names of the key on this table. Outgoing keys are searched before incoming.
func (n *Node) Find(key string) (*Node, error) {
	edge, err := n.resolveEdge(key)
	if err != nil {
		return nil, err
	}
	return n.Follow(edge)
}

// Follow performs one hop along edge, which must leave this node's table.
func (n *Node) Follow(edge Edge) (*Node, error) {
	if !n.owns(edge) {
		return nil, qerr.NotFound("foreign key %s does not leave %s", edge.Label(), n.key)
	}
	if !n.factory.policy.CanDescend(n, edge) {
		return nil, qerr.NotFound("descent from %s along %s refused by policy", n.key, edge.Label())
	}
	return n.factory.child(n, edge)
}

// FollowPath replays a sequence of edge labels starting at n.
func (n *Node) FollowPath(labels []string) (*Node, error) {
	cur := n
	for _, label := range labels {
		next, err := cur.Find(label)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// Children returns the nodes one hop away that the descent policy admits.
func (n *Node) Children() []*Node {
	var out []*Node
	for _, edge := range n.Edges() {
		child, err := n.Follow(edge)
		if err != nil {
			continue
		}
		out = append(out, child)
	}
	return out
}

// Reachable enumerates nodes breadth-first up to maxDepth hops below n,
// excluding n. Each level is ordered by edge order of its parents.
func (n *Node) Reachable(maxDepth int) [][]*Node {
	var levels [][]*Node
	frontier := []*Node{n}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []*Node
		for _, node := range frontier {
			next = append(next, node.Children()...)
		}
		if len(next) > 0 {
			levels = append(levels, next)
		}
		frontier = next
	}
	return levels
}

func (n *Node) owns(edge Edge) bool {
	if edge.Direction == Incoming {
		return edge.Key.To == n.table.Path
	}
	return edge.Key.From == n.table.Path
}

func (n *Node) resolveEdge(key string) (Edge, error) {
	directions := []Direction{Outgoing, Incoming}
	switch {
	case strings.HasPrefix(key, ">"):
		key, directions = key[1:], []Direction{Outgoing}
	case strings.HasPrefix(key, "<"):
		key, directions = key[1:], []Direction{Incoming}
	}
	if key == "" {
		return Edge{}, qerr.NotFound("empty foreign key reference on %s", n.key)
	}

	for _, dir := range directions {
		keys := n.table.Imported
		if dir == Incoming {
			keys = n.table.Exported
		}
		for _, fk := range keys {
			if fk.Name == key {
				return Edge{Key: fk, Direction: dir}, nil
			}
		}
		var matches []ForeignKey
		for _, fk := range keys {
			cols := fk.Columns
			if dir == Incoming {
				cols = fk.Referenced
			}
			if strings.Join(cols, ",") == key {
				matches = append(matches, fk)
			}
		}
		switch len(matches) {
		case 0:
		case 1:
			return Edge{Key: matches[0], Direction: dir}, nil
		default:
			names := make([]string, len(matches))
			for i, fk := range matches {
				names[i] = fk.Name
			}
			return Edge{}, qerr.Ambiguous("columns %q on %s match foreign keys %s", key, n.key, strings.Join(names, ", "))
		}
	}
	return Edge{}, qerr.NotFound("foreign key %q does not exist on %s", key, n.key)
}

func childKey(parent *Node, edge Edge) string {
	return fmt.Sprintf("%s/%s", parent.key, edge.Label())
}
