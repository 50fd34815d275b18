package compose

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relquery/internal/binder"
	"relquery/internal/clause"
	"relquery/internal/column"
	"relquery/internal/from"
	"relquery/internal/graph"
	"relquery/internal/qerr"
	"relquery/internal/sqlutil"
	"relquery/internal/testutil"
)

type shop struct {
	factory   *graph.Factory
	orders    *graph.Node
	customer  *graph.Node
	customers *graph.Node
	items     *graph.Node
}

func newShop(t *testing.T) shop {
	t.Helper()
	f := graph.NewFactory(testutil.ShopCatalog(), "")
	root := func(name string) *graph.Node {
		n, err := f.Graph(context.Background(), name)
		require.NoError(t, err)
		return n
	}
	orders := root("orders")
	customer, err := orders.Find("fk_order_customer")
	require.NoError(t, err)
	return shop{
		factory:   f,
		orders:    orders,
		customer:  customer,
		customers: root("customers"),
		items:     root("order_items"),
	}
}

func col(n *graph.Node, name string) *column.Column { return column.Must(n, name) }

func compose(t *testing.T, s interface {
	Compose(context.Context) (Composed, error)
}) Composed {
	t.Helper()
	c, err := s.Compose(context.Background())
	require.NoError(t, err)
	return c
}

func assertGolden(t *testing.T, name string, c Composed) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(fmt.Sprintf("%s\n-- binders: %v\n", c.SQL, binder.Values(c.Binders))))
}

func TestScenarioJoinedSelect(t *testing.T) {
	s := newShop(t)
	q := New(s.orders).
		Select(col(s.orders, "id"), col(s.customer, "name")).
		Where(clause.Eq(col(s.orders, "status"), binder.String("OPEN")))

	c := compose(t, q)
	assert.Equal(t,
		"SELECT o1.`id`, c1.`name` FROM `orders` o1 "+
			"LEFT OUTER JOIN `customers` c1 ON (o1.`customer_id` = c1.`id`) "+
			"WHERE o1.`status` = ?",
		c.SQL)
	assert.Equal(t, []any{"OPEN"}, binder.Values(c.Binders))
	assertGolden(t, "scenario_a", c)
}

func TestScenarioUnion(t *testing.T) {
	s := newShop(t)
	byStatus := func(status string) *Query {
		return New(s.orders).
			Select(col(s.orders, "id"), col(s.orders, "status")).
			Where(clause.Eq(col(s.orders, "status"), binder.String(status)))
	}
	q := byStatus("OPEN").Union(byStatus("CLOSED"))

	c := compose(t, q)
	assert.Equal(t,
		"SELECT `id`, `status` FROM `orders` WHERE `status` = ? "+
			"UNION SELECT `id`, `status` FROM `orders` WHERE `status` = ?",
		c.SQL)
	assert.Equal(t, []any{"OPEN", "CLOSED"}, binder.Values(c.Binders))
	assertGolden(t, "scenario_b", c)
}

func TestSetOperatorsOrderUnqualified(t *testing.T) {
	s := newShop(t)
	left := New(s.orders).Select(col(s.orders, "id"), col(s.customer, "name"))
	right := New(s.orders).Select(col(s.orders, "id"), col(s.customer, "name"))
	left.UnionAll(right).OrderBy(clause.Desc(col(s.orders, "id"))).Limit(5)

	c := compose(t, left)
	assert.Equal(t,
		"SELECT o1.`id`, c1.`name` FROM `orders` o1 LEFT OUTER JOIN `customers` c1 ON (o1.`customer_id` = c1.`id`) "+
			"UNION ALL SELECT o1.`id`, c1.`name` FROM `orders` o1 LEFT OUTER JOIN `customers` c1 ON (o1.`customer_id` = c1.`id`) "+
			"ORDER BY `id` DESC LIMIT ?",
		c.SQL)
	assert.Equal(t, []any{int64(5)}, binder.Values(c.Binders))

	bad := New(s.orders).Select(col(s.orders, "id"))
	bad.Except(New(s.orders).Select(col(s.orders, "id")).Limit(1))
	_, err := bad.SQL()
	assert.ErrorIs(t, err, qerr.ErrUnsupported)
}

func TestDeterministicAndMemoized(t *testing.T) {
	s := newShop(t)
	q := New(s.orders).Select(col(s.customer, "name"))

	first := compose(t, q)
	second := compose(t, q)
	assert.Equal(t, first, second)

	q.Where(clause.IsNotNull(col(s.customer, "email")))
	third := compose(t, q)
	assert.NotEqual(t, first.SQL, third.SQL)
	assert.Contains(t, third.SQL, "WHERE c1.`email` IS NOT NULL")
}

func TestMemoInvalidatedByEmbeddedQuery(t *testing.T) {
	s := newShop(t)
	right := New(s.orders).Select(col(s.orders, "id"))
	q := New(s.orders).Select(col(s.orders, "id")).Intersect(right)

	before := compose(t, q)
	right.Where(clause.Gt(col(s.orders, "total"), binder.Float(10)))
	after := compose(t, q)

	assert.NotEqual(t, before.SQL, after.SQL)
	assert.Equal(t, "SELECT `id` FROM `orders` INTERSECT SELECT `id` FROM `orders` WHERE `total` > ?", after.SQL)
}

func TestStrictAndPermissive(t *testing.T) {
	s := newShop(t)

	c := compose(t, New(s.orders))
	assert.Equal(t, "SELECT * FROM `orders`", c.SQL)

	_, err := New(s.orders, Strict(true)).SQL()
	assert.ErrorIs(t, err, qerr.ErrState)
}

func TestDistinctAndPagination(t *testing.T) {
	s := newShop(t)
	q := New(s.orders).Distinct().Select(col(s.orders, "status")).Limit(10).Offset(20)
	c := compose(t, q)
	assert.Equal(t, "SELECT DISTINCT `status` FROM `orders` LIMIT ? OFFSET ?", c.SQL)
	assert.Equal(t, []any{int64(10), int64(20)}, binder.Values(c.Binders))

	_, err := New(s.orders).Limit(-1).SQL()
	assert.ErrorIs(t, err, qerr.ErrState)
}

func TestPostgresDialect(t *testing.T) {
	s := newShop(t)
	q := New(s.orders, WithDialect(sqlutil.Postgres)).
		Select(col(s.orders, "id")).
		Where(clause.Eq(col(s.orders, "status"), binder.String("OPEN"))).
		Limit(3)
	c := compose(t, q)
	assert.Equal(t, `SELECT "id" FROM "orders" WHERE "status" = $1 LIMIT $2`, c.SQL)
}

func TestGroupByHaving(t *testing.T) {
	s := newShop(t)
	having, err := clause.Raw("COUNT(*) > ?", nil, []binder.Binder{binder.Int(1)})
	require.NoError(t, err)

	q := New(s.orders).
		Select(col(s.orders, "status"), column.NewPhantom("COUNT(*)")).
		GroupBy(col(s.orders, "status")).
		Having(having).
		OrderBy(clause.Asc(col(s.orders, "status")))
	c := compose(t, q)
	assert.Equal(t, "SELECT `status`, COUNT(*) FROM `orders` GROUP BY `status` HAVING COUNT(*) > ? ORDER BY `status` ASC", c.SQL)
	assert.Equal(t, []any{int64(1)}, binder.Values(c.Binders))
}

func TestJoinNodeForcesType(t *testing.T) {
	s := newShop(t)
	q := New(s.orders).JoinNode(from.Inner, s.customer).Select(col(s.orders, "id"), col(s.customer, "name"))
	c := compose(t, q)
	assert.Equal(t, "SELECT o1.`id`, c1.`name` FROM `orders` o1 INNER JOIN `customers` c1 ON (o1.`customer_id` = c1.`id`)", c.SQL)

	_, err := New(s.orders).JoinNode(from.Inner, s.customers).SQL()
	assert.ErrorIs(t, err, qerr.ErrNotFound)
}

func TestDefaultJoinOption(t *testing.T) {
	s := newShop(t)
	q := New(s.orders, WithDefaultJoin(from.Inner)).Select(col(s.customer, "name"))
	c := compose(t, q)
	assert.Contains(t, c.SQL, "INNER JOIN `customers` c1")
}

func TestColumnsRelocatedOntoRoot(t *testing.T) {
	s := newShop(t)
	q := New(s.items).Select(col(s.items, "sku"), col(s.customer, "name"))
	c := compose(t, q)
	assert.Equal(t,
		"SELECT oi1.`sku`, c1.`name` FROM `order_items` oi1 "+
			"LEFT OUTER JOIN `orders` o1 ON (oi1.`order_id` = o1.`id`) "+
			"LEFT OUTER JOIN `customers` c1 ON (o1.`customer_id` = c1.`id`)",
		c.SQL)

	audit, err := s.factory.Graph(context.Background(), "audit_log")
	require.NoError(t, err)
	_, err = New(s.orders).Select(col(audit, "message")).SQL()
	assert.ErrorIs(t, err, qerr.ErrNotFound)
}

func TestQueryJoinMergesClauses(t *testing.T) {
	s := newShop(t)
	customers := New(s.customers).
		Select(col(s.customers, "name")).
		Where(clause.Like(col(s.customers, "name"), binder.String("A%"))).
		OrderBy(clause.Asc(col(s.customers, "name")))
	q := New(s.orders).
		Select(col(s.orders, "id")).
		Where(clause.Eq(col(s.orders, "status"), binder.String("OPEN"))).
		OrderBy(clause.Desc(col(s.orders, "total"))).
		Join(from.Inner, customers, clause.ColumnsEqual(col(s.orders, "customer_id"), col(s.customers, "id")))

	c := compose(t, q)
	assert.Equal(t,
		"SELECT o1.`id`, c1.`name` FROM `orders` o1 INNER JOIN `customers` c1 ON (o1.`customer_id` = c1.`id`) "+
			"WHERE o1.`status` = ? AND c1.`name` LIKE ? ORDER BY o1.`total` DESC, c1.`name` ASC",
		c.SQL)
	assert.Equal(t, []any{"OPEN", "A%"}, binder.Values(c.Binders))

	_, err := New(s.orders).Join(from.Inner, New(s.orders), nil).SQL()
	assert.ErrorIs(t, err, qerr.ErrUnsupported)
}

func TestCorrelatedExists(t *testing.T) {
	s := newShop(t)
	orders, err := s.factory.Graph(context.Background(), "orders")
	require.NoError(t, err)
	sub := New(orders).
		Select(column.NewPhantom("1")).
		Where(
			clause.ColumnsEqual(col(orders, "customer_id"), column.Correlate(col(s.customers, "id"))),
			clause.Eq(col(orders, "status"), binder.String("OPEN")),
		)
	q := New(s.customers).Select(col(s.customers, "name")).Where(clause.Exists(sub.ToSubquery()))

	c := compose(t, q)
	assert.Equal(t,
		"SELECT c1.`name` FROM `customers` c1 WHERE EXISTS "+
			"(SELECT 1 FROM `orders` o1 WHERE o1.`customer_id` = c1.`id` AND o1.`status` = ?)",
		c.SQL)
	assert.Equal(t, []any{"OPEN"}, binder.Values(c.Binders))
}

func TestSameTableSubquery(t *testing.T) {
	s := newShop(t)
	avg := New(s.orders).
		SelectFragment(clause.Fragment{Template: "AVG({})", Columns: []column.Handle{col(s.orders, "total")}}).
		Where(clause.ColumnsEqual(col(s.orders, "customer_id"), column.Correlate(col(s.orders, "customer_id"))))
	above, err := clause.Raw("{} > ([])", []column.Handle{col(s.orders, "total")}, nil, avg.ToSubquery())
	require.NoError(t, err)

	c := compose(t, New(s.orders).Select(col(s.orders, "id")).Where(above))
	assert.Equal(t,
		"SELECT o1.`id` FROM `orders` o1 WHERE o1.`total` > "+
			"(SELECT AVG(o2.`total`) FROM `orders` o2 WHERE o2.`customer_id` = o1.`customer_id`)",
		c.SQL)
}

func TestInSubquery(t *testing.T) {
	s := newShop(t)
	ada := New(s.customers).Select(col(s.customers, "id")).Where(clause.Eq(col(s.customers, "name"), binder.String("Ada")))
	q := New(s.orders).
		Select(col(s.orders, "id")).
		Where(clause.Eq(col(s.orders, "status"), binder.String("OPEN")), clause.InQuery(col(s.orders, "customer_id"), ada.ToSubquery()))

	c := compose(t, q)
	assert.Equal(t,
		"SELECT o1.`id` FROM `orders` o1 WHERE o1.`status` = ? AND "+
			"o1.`customer_id` IN (SELECT c1.`id` FROM `customers` c1 WHERE c1.`name` = ?)",
		c.SQL)
	assert.Equal(t, []any{"OPEN", "Ada"}, binder.Values(c.Binders))
}

func TestDerivedJoin(t *testing.T) {
	s := newShop(t)
	counts := New(s.items).
		Select(col(s.items, "order_id"), column.NewPhantom("COUNT(*) AS n")).
		GroupBy(col(s.items, "order_id"))
	on, err := clause.Raw("{} = t1.order_id", []column.Handle{col(s.orders, "id")}, nil)
	require.NoError(t, err)
	q := New(s.orders).Select(col(s.orders, "id"), column.NewPhantom("t1.n")).JoinDerived(from.Inner, counts, "t1", on)

	c := compose(t, q)
	assert.Equal(t,
		"SELECT o1.`id`, t1.n FROM `orders` o1 INNER JOIN "+
			"(SELECT oi1.`order_id`, COUNT(*) AS n FROM `order_items` oi1 GROUP BY oi1.`order_id`) t1 ON (o1.`id` = t1.order_id)",
		c.SQL)
}

func TestDerivedAliasDoesNotShadowJoinedTable(t *testing.T) {
	s := newShop(t)
	counts := New(s.items).
		Select(col(s.items, "order_id"), column.NewPhantom("COUNT(*) AS n")).
		GroupBy(col(s.items, "order_id"))
	on, err := clause.Raw("{} = c1.order_id", []column.Handle{col(s.orders, "id")}, nil)
	require.NoError(t, err)
	q := New(s.orders).
		Select(col(s.orders, "id"), col(s.customer, "name")).
		JoinDerived(from.Inner, counts, "c1", on)

	c := compose(t, q)
	assert.Contains(t, c.SQL, "LEFT OUTER JOIN `customers` c2 ON (o1.`customer_id` = c2.`id`)")
	assert.Contains(t, c.SQL, ") c1 ON (o1.`id` = c1.order_id)")
	assert.Equal(t, 1, strings.Count(c.SQL, " c1 "))

	twice := New(s.orders).Select(col(s.orders, "id")).
		JoinDerived(from.Inner, counts, "t1", nil).
		JoinDerived(from.Inner, counts, "t1", nil)
	_, err = twice.SQL()
	assert.ErrorIs(t, err, qerr.ErrState)

	_, err = New(s.orders).Select(col(s.orders, "id")).JoinDerived(from.LeftOuter, counts, "t1", nil).SQL()
	assert.ErrorIs(t, err, qerr.ErrState)
}

func TestDecorators(t *testing.T) {
	s := newShop(t)
	forUpdate := func(sql string, binders []binder.Binder) (string, []binder.Binder, error) {
		return sql + " FOR UPDATE", binders, nil
	}
	c := compose(t, New(s.orders, WithDecorators(forUpdate)).Select(col(s.orders, "id")))
	assert.Equal(t, "SELECT `id` FROM `orders` FOR UPDATE", c.SQL)
}

func TestComplement(t *testing.T) {
	s := newShop(t)
	q := New(s.orders).Select(col(s.orders, "id")).Where(clause.In(col(s.orders, "id"), binder.Int(10), binder.Int(11)))

	var list binder.ArgList
	require.NoError(t, list.SetArg(1, "first"))
	next, err := q.Complement(2, &list)
	require.NoError(t, err)
	assert.Equal(t, 4, next)
	assert.Equal(t, []any{"first", int64(10), int64(11)}, list.Args())

	c := compose(t, q)
	args, err := c.Args()
	require.NoError(t, err)
	assert.Equal(t, []any{int64(10), int64(11)}, args)
}

func TestNilRoot(t *testing.T) {
	_, err := New(nil).SQL()
	assert.ErrorIs(t, err, qerr.ErrState)
}
