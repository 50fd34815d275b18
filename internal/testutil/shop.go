// Package testutil provides catalog fixtures shared by package tests.
package testutil

import (
	"relquery/internal/catalog"
	"relquery/internal/sqltype"
)

func col(name, dataType string, opts ...func(*catalog.Column)) catalog.Column {
	c := catalog.Column{Name: name, DataType: dataType, ColumnType: dataType, Kind: sqltype.Map(dataType), IsNullable: true}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func pk(c *catalog.Column) {
	c.IsPrimaryKey = true
	c.IsNullable = false
}

func fk(constraint, column, table, referenced string, pos int) catalog.ForeignKey {
	return catalog.ForeignKey{
		ConstraintName:   constraint,
		ColumnName:       column,
		ReferencedTable:  table,
		ReferencedColumn: referenced,
		OrdinalPosition:  pos,
	}
}

// ShopTables describes a small retail schema:
//
//	regions <- customers <- orders <- order_items
//	employees.manager_id -> employees
//	audit_log (no primary key, no keys)
func ShopTables() []catalog.Table {
	return []catalog.Table{
		{
			Path: catalog.TablePath{Name: "regions"},
			Columns: []catalog.Column{
				col("id", "bigint", pk),
				col("name", "varchar"),
			},
		},
		{
			Path: catalog.TablePath{Name: "customers"},
			Columns: []catalog.Column{
				col("id", "bigint", pk),
				col("name", "varchar"),
				col("email", "varchar"),
				col("region_id", "bigint"),
			},
			ForeignKeys: []catalog.ForeignKey{
				fk("fk_customer_region", "region_id", "regions", "id", 1),
			},
		},
		{
			Path: catalog.TablePath{Name: "orders"},
			Columns: []catalog.Column{
				col("id", "bigint", pk),
				col("customer_id", "bigint"),
				col("status", "varchar"),
				col("total", "decimal"),
				col("created_at", "datetime"),
			},
			ForeignKeys: []catalog.ForeignKey{
				fk("fk_order_customer", "customer_id", "customers", "id", 1),
			},
		},
		{
			Path: catalog.TablePath{Name: "order_items"},
			Columns: []catalog.Column{
				col("order_id", "bigint", pk),
				col("line", "int", pk),
				col("sku", "varchar"),
				col("quantity", "int"),
			},
			PrimaryKey: []string{"order_id", "line"},
			ForeignKeys: []catalog.ForeignKey{
				fk("fk_item_order", "order_id", "orders", "id", 1),
			},
		},
		{
			Path: catalog.TablePath{Name: "employees"},
			Columns: []catalog.Column{
				col("id", "bigint", pk),
				col("name", "varchar"),
				col("manager_id", "bigint"),
			},
			ForeignKeys: []catalog.ForeignKey{
				fk("fk_employee_manager", "manager_id", "employees", "id", 1),
			},
		},
		{
			Path: catalog.TablePath{Name: "audit_log"},
			Columns: []catalog.Column{
				col("message", "text"),
				col("logged_at", "timestamp"),
			},
		},
	}
}

// ShopCatalog returns ShopTables as a static provider.
func ShopCatalog() *catalog.Static {
	return catalog.NewStatic(ShopTables()...)
}

// ShopDDL creates ShopTables in SQLite.
var ShopDDL = []string{
	`CREATE TABLE regions (id INTEGER PRIMARY KEY, name TEXT)`,
	`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT, email TEXT,
		region_id INTEGER, CONSTRAINT fk_customer_region FOREIGN KEY (region_id) REFERENCES regions(id))`,
	`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER, status TEXT, total DECIMAL(10,2), created_at DATETIME,
		CONSTRAINT fk_order_customer FOREIGN KEY (customer_id) REFERENCES customers(id))`,
	`CREATE TABLE order_items (order_id INTEGER NOT NULL, line INTEGER NOT NULL, sku TEXT, quantity INTEGER,
		PRIMARY KEY (order_id, line),
		CONSTRAINT fk_item_order FOREIGN KEY (order_id) REFERENCES orders(id))`,
	`CREATE TABLE employees (id INTEGER PRIMARY KEY, name TEXT, manager_id INTEGER,
		CONSTRAINT fk_employee_manager FOREIGN KEY (manager_id) REFERENCES employees(id))`,
	`CREATE TABLE audit_log (message TEXT, logged_at TIMESTAMP)`,
}

// ShopRows seeds the SQLite shop schema.
var ShopRows = []string{
	`INSERT INTO regions (id, name) VALUES (1, 'north'), (2, 'south')`,
	`INSERT INTO customers (id, name, email, region_id) VALUES
		(1, 'Ada', 'ada@example.com', 1),
		(2, 'Grace', 'grace@example.com', 2),
		(3, 'Linus', NULL, NULL)`,
	`INSERT INTO orders (id, customer_id, status, total, created_at) VALUES
		(10, 1, 'OPEN', 12.50, '2024-01-02 10:00:00'),
		(11, 1, 'CLOSED', 99.00, '2024-01-03 11:00:00'),
		(12, 2, 'OPEN', 5.25, '2024-02-01 09:30:00'),
		(13, 3, 'CLOSED', 42.00, '2024-02-04 16:45:00')`,
	`INSERT INTO order_items (order_id, line, sku, quantity) VALUES
		(10, 1, 'A-1', 2), (10, 2, 'B-7', 1), (11, 1, 'A-1', 5), (12, 1, 'C-3', 1)`,
	`INSERT INTO employees (id, name, manager_id) VALUES (1, 'Root', NULL), (2, 'Mid', 1), (3, 'Leaf', 2)`,
}
