package graph

import "sort"

// DescentPolicy decides whether a traversal may follow edge from a node.
// It is the cycle guard for self-referencing and mutually referencing keys.
type DescentPolicy interface {
	CanDescend(from *Node, edge Edge) bool
}

// PolicyFunc adapts a function to DescentPolicy.
type PolicyFunc func(from *Node, edge Edge) bool

// CanDescend calls fn.
func (fn PolicyFunc) CanDescend(from *Node, edge Edge) bool { return fn(from, edge) }

// RefuseRevisit refuses any edge whose target table is already on the path
// from the root to the current node.
func RefuseRevisit() DescentPolicy {
	return AllowRevisits(0)
}

// AllowRevisits admits an edge while its target table appears at most n times
// on the current path, so a self-referencing key can be followed n times.
func AllowRevisits(n int) DescentPolicy {
	return PolicyFunc(func(from *Node, edge Edge) bool {
		target := edge.Target()
		count := 0
		for cur := from; cur != nil; cur = cur.parent {
			if cur.table.Path == target {
				count++
			}
		}
		return count <= n
	})
}

// MaxDepth refuses edges that would create a node deeper than depth.
func MaxDepth(depth int) DescentPolicy {
	return PolicyFunc(func(from *Node, _ Edge) bool {
		return from.depth+1 <= depth
	})
}

// AllOf admits an edge only when every policy does.
func AllOf(policies ...DescentPolicy) DescentPolicy {
	return PolicyFunc(func(from *Node, edge Edge) bool {
		for _, p := range policies {
			if !p.CanDescend(from, edge) {
				return false
			}
		}
		return true
	})
}

func sortKeys(keys []ForeignKey) {
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].From.String() < keys[j].From.String()
	})
}
