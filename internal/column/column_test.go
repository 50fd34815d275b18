package column

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relquery/internal/catalog"
	"relquery/internal/graph"
	"relquery/internal/qerr"
	"relquery/internal/sqltype"
	"relquery/internal/sqlutil"
	"relquery/internal/testutil"
)

type aliases map[*graph.Node]string

func (a aliases) Alias(n *graph.Node) string { return a[n] }
func (a aliases) Dialect() sqlutil.Dialect   { return sqlutil.MySQL }

func shop(t *testing.T) *graph.Factory {
	t.Helper()
	return graph.NewFactory(testutil.ShopCatalog(), "")
}

func root(t *testing.T, f *graph.Factory, table string) *graph.Node {
	t.Helper()
	n, err := f.Graph(context.Background(), table)
	require.NoError(t, err)
	return n
}

func follow(t *testing.T, n *graph.Node, labels ...string) *graph.Node {
	t.Helper()
	out, err := n.FollowPath(labels)
	require.NoError(t, err)
	return out
}

func TestNewColumn(t *testing.T) {
	f := shop(t)
	orders := root(t, f, "orders")

	c, err := New(orders, "total")
	require.NoError(t, err)
	assert.Equal(t, "total", c.Name())
	assert.Equal(t, sqltype.KindFloat, c.Kind())
	assert.Same(t, orders, c.Node())

	_, err = New(orders, "missing")
	assert.ErrorIs(t, err, qerr.ErrNotFound)

	_, err = New(nil, "id")
	assert.ErrorIs(t, err, qerr.ErrState)
}

func TestRender(t *testing.T) {
	f := shop(t)
	orders := root(t, f, "orders")
	customer := follow(t, orders, "fk_order_customer")

	ns := aliases{orders: "o1", customer: "c1"}
	assert.Equal(t, "o1.`status`", Must(orders, "status").Render(ns))
	assert.Equal(t, "c1.`name`", Must(customer, "name").Render(ns))
	assert.Equal(t, "`name`", Must(customer, "name").RenderUnqualified(ns))
	assert.Equal(t, "`status`", Must(orders, "status").Render(aliases{}))
}

func TestPrimaryKey(t *testing.T) {
	f := shop(t)

	items := root(t, f, "order_items")
	pk, err := PrimaryKey(items)
	require.NoError(t, err)
	require.Len(t, pk, 2)
	assert.Equal(t, "order_id", pk[0].Name())
	assert.Equal(t, "line", pk[1].Name())

	ok, err := Must(items, "line").IsPrimaryKey()
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = Must(items, "sku").IsPrimaryKey()
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = PrimaryKey(root(t, f, "audit_log"))
	assert.ErrorIs(t, err, qerr.ErrState)
}

func TestRelocateSameGraph(t *testing.T) {
	f := shop(t)
	orders := root(t, f, "orders")
	c := Must(follow(t, orders, "fk_order_customer"), "name")

	moved, err := c.Relocate(orders, DefaultSearchDepth)
	require.NoError(t, err)
	assert.Same(t, c, moved)
}

func TestRelocateRoundTrip(t *testing.T) {
	f := shop(t)
	orders := root(t, f, "orders")
	items := root(t, f, "order_items")
	c := Must(follow(t, orders, "fk_order_customer"), "name")

	onItems, err := c.Relocate(items, DefaultSearchDepth)
	require.NoError(t, err)
	assert.Equal(t, "order_items/fk_item_order/fk_order_customer", onItems.Node().Key())
	assert.Equal(t, "name", onItems.Name())

	back, err := onItems.Relocate(orders, DefaultSearchDepth)
	require.NoError(t, err)
	assert.True(t, Equal(c, back))
	assert.Same(t, c.Node(), back.Node())
}

func TestRelocateSameTableOtherFactory(t *testing.T) {
	a := shop(t)
	b := shop(t)
	c := Must(follow(t, root(t, a, "orders"), "fk_order_customer", "fk_customer_region"), "name")

	moved, err := c.Relocate(root(t, b, "orders"), DefaultSearchDepth)
	require.NoError(t, err)
	assert.Equal(t, "orders/fk_order_customer/fk_customer_region", moved.Node().Key())
	assert.False(t, moved.Node().SameGraph(c.Node()))
}

func TestRelocateUnreachable(t *testing.T) {
	f := shop(t)
	c := Must(root(t, f, "audit_log"), "message")

	_, err := c.Relocate(root(t, f, "orders"), DefaultSearchDepth)
	assert.ErrorIs(t, err, qerr.ErrNotFound)
}

func TestRelocateAmbiguous(t *testing.T) {
	provider := catalog.NewStatic(
		catalog.Table{
			Path: catalog.TablePath{Name: "accounts"},
			Columns: []catalog.Column{
				{Name: "id", DataType: "bigint", Kind: sqltype.KindInt, IsPrimaryKey: true},
				{Name: "owner", DataType: "varchar", Kind: sqltype.KindString},
			},
		},
		catalog.Table{
			Path: catalog.TablePath{Name: "transfers"},
			Columns: []catalog.Column{
				{Name: "id", DataType: "bigint", Kind: sqltype.KindInt, IsPrimaryKey: true},
				{Name: "from_id", DataType: "bigint", Kind: sqltype.KindInt},
				{Name: "to_id", DataType: "bigint", Kind: sqltype.KindInt},
			},
			ForeignKeys: []catalog.ForeignKey{
				{ConstraintName: "fk_from", ColumnName: "from_id", ReferencedTable: "accounts", ReferencedColumn: "id", OrdinalPosition: 1},
				{ConstraintName: "fk_to", ColumnName: "to_id", ReferencedTable: "accounts", ReferencedColumn: "id", OrdinalPosition: 1},
			},
		},
	)
	f := graph.NewFactory(provider, "")
	c := Must(root(t, f, "accounts"), "owner")

	_, err := c.Relocate(root(t, f, "transfers"), DefaultSearchDepth)
	assert.ErrorIs(t, err, qerr.ErrAmbiguous)
}

func TestPhantom(t *testing.T) {
	p := NewPhantom("COUNT(*)")
	assert.Equal(t, "COUNT(*)", p.Render(nil))
	assert.Nil(t, p.Node())

	_, err := p.Relocate(nil, 0)
	assert.ErrorIs(t, err, qerr.ErrUnsupported)
	_, err = p.IsPrimaryKey()
	assert.ErrorIs(t, err, qerr.ErrUnsupported)

	prepared, err := Prepare(p, nil, 0)
	require.NoError(t, err)
	assert.Same(t, p, prepared)
}

func TestComposite(t *testing.T) {
	f := shop(t)
	orders := root(t, f, "orders")
	items := root(t, f, "order_items")
	customer := follow(t, orders, "fk_order_customer")

	c, err := NewComposite("CONCAT({}, ' #', {})", Must(customer, "name"), Must(orders, "id"))
	require.NoError(t, err)
	ns := aliases{orders: "o1", customer: "c1"}
	assert.Equal(t, "CONCAT(c1.`name`, ' #', o1.`id`)", c.Render(ns))
	assert.Len(t, c.Nodes(), 2)

	_, err = c.Relocate(items, 0)
	assert.ErrorIs(t, err, qerr.ErrUnsupported)

	moved, err := Prepare(c, items, DefaultSearchDepth)
	require.NoError(t, err)
	parts := moved.(*Composite).Parts()
	assert.Equal(t, "order_items/fk_item_order/fk_order_customer", parts[0].Node().Key())
	assert.Equal(t, "order_items/fk_item_order", parts[1].Node().Key())

	assert.True(t, Equal(c, c.Replicate()))

	_, err = NewComposite("{} + {}", Must(orders, "id"))
	assert.ErrorIs(t, err, qerr.ErrState)
}

func TestOuterIsNotRelocated(t *testing.T) {
	f := shop(t)
	customers := root(t, f, "customers")
	o := Correlate(Must(customers, "id"))

	moved, err := Prepare(o, root(t, f, "orders"), DefaultSearchDepth)
	require.NoError(t, err)
	assert.Same(t, o, moved)
	assert.True(t, Equal(o, o.Replicate()))

	comp, err := NewComposite("{} + {}", o, Must(customers, "region_id"))
	require.NoError(t, err)
	assert.Equal(t, []*Outer{o}, OuterRefs(comp))
}
