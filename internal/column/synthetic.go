package column

import (
	"strings"

	"relquery/internal/graph"
	"relquery/internal/qerr"
)

// Phantom stands in for a column with free SQL text, such as COUNT(*) or a
// literal. It belongs to no node.
type Phantom struct {
	sql string
}

// NewPhantom returns a phantom rendering sql verbatim.
func NewPhantom(sql string) *Phantom { return &Phantom{sql: sql} }

func (p *Phantom) Name() string                              { return p.sql }
func (p *Phantom) Node() *graph.Node                         { return nil }
func (p *Phantom) Nodes() []*graph.Node                      { return nil }
func (p *Phantom) Render(Namespace) string                   { return p.sql }
func (p *Phantom) RenderUnqualified(Namespace) string        { return p.sql }
func (p *Phantom) Replicate() Handle                         { cp := *p; return &cp }
func (p *Phantom) IsPrimaryKey() (bool, error)               { return false, qerr.Unsupported("primary key check on phantom %q", p.sql) }
func (p *Phantom) Relocate(*graph.Node, int) (Handle, error) { return nil, qerr.Unsupported("relocate phantom %q", p.sql) }

// Composite combines several handles through a template in which each "{}"
// is replaced by the next part, e.g. "CONCAT({}, ' ', {})".
type Composite struct {
	template string
	parts    []Handle
}

// NewComposite builds a composite; the number of "{}" markers must equal len(parts).
func NewComposite(template string, parts ...Handle) (*Composite, error) {
	if n := strings.Count(template, "{}"); n != len(parts) {
		return nil, qerr.State("composite template %q has %d markers for %d parts", template, n, len(parts))
	}
	return &Composite{template: template, parts: parts}, nil
}

// Parts returns the component handles.
func (c *Composite) Parts() []Handle { return c.parts }

func (c *Composite) Name() string { return c.template }

// Node returns the node of the first anchored part.
func (c *Composite) Node() *graph.Node {
	for _, p := range c.parts {
		if n := p.Node(); n != nil {
			return n
		}
	}
	return nil
}

func (c *Composite) Nodes() []*graph.Node {
	var out []*graph.Node
	for _, p := range c.parts {
		out = append(out, p.Nodes()...)
	}
	return out
}

func (c *Composite) Render(ns Namespace) string {
	return c.fill(func(h Handle) string { return h.Render(ns) })
}

func (c *Composite) RenderUnqualified(ns Namespace) string {
	return c.fill(func(h Handle) string { return h.RenderUnqualified(ns) })
}

func (c *Composite) fill(render func(Handle) string) string {
	var b strings.Builder
	rest := c.template
	for _, p := range c.parts {
		idx := strings.Index(rest, "{}")
		b.WriteString(rest[:idx])
		b.WriteString(render(p))
		rest = rest[idx+2:]
	}
	b.WriteString(rest)
	return b.String()
}

func (c *Composite) Replicate() Handle {
	parts := make([]Handle, len(c.parts))
	for i, p := range c.parts {
		parts[i] = p.Replicate()
	}
	return &Composite{template: c.template, parts: parts}
}

func (c *Composite) IsPrimaryKey() (bool, error) {
	return false, qerr.Unsupported("primary key check on composite %q", c.template)
}

func (c *Composite) Relocate(*graph.Node, int) (Handle, error) {
	return nil, qerr.Unsupported("relocate composite %q", c.template)
}

// RelocateParts returns a composite whose anchored parts are relocated onto root.
func (c *Composite) RelocateParts(root *graph.Node, depth int) (*Composite, error) {
	parts := make([]Handle, len(c.parts))
	for i, p := range c.parts {
		moved, err := Prepare(p, root, depth)
		if err != nil {
			return nil, err
		}
		parts[i] = moved
	}
	return &Composite{template: c.template, parts: parts}, nil
}

// Outer marks a column of an enclosing statement referenced from inside a
// subquery. It renders through the enclosing alias and is never relocated.
type Outer struct {
	*Column
}

// Correlate wraps c as an outer reference.
func Correlate(c *Column) *Outer { return &Outer{Column: c} }

// Enclosing is implemented by namespaces nested inside another statement.
type Enclosing interface {
	Enclosing() Namespace
}

// Render qualifies the column with the enclosing statement's alias.
func (o *Outer) Render(ns Namespace) string {
	if e, ok := ns.(Enclosing); ok {
		if outer := e.Enclosing(); outer != nil {
			return o.Column.Render(outer)
		}
	}
	return o.Column.Render(ns)
}

func (o *Outer) Relocate(*graph.Node, int) (Handle, error) { return o, nil }
func (o *Outer) Replicate() Handle                         { return &Outer{Column: o.Column} }

// OuterRefs returns the outer references within h, descending into composites.
func OuterRefs(h Handle) []*Outer {
	switch x := h.(type) {
	case *Outer:
		return []*Outer{x}
	case *Composite:
		var out []*Outer
		for _, p := range x.parts {
			out = append(out, OuterRefs(p)...)
		}
		return out
	}
	return nil
}
