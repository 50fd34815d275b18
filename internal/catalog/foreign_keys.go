package catalog

import (
	"fmt"
	"sort"
)

// ForeignKeyConstraint groups per-column rows into an ordered FK constraint mapping.
// ColumnNames[i] on Table references ReferencedColumns[i] on ReferencedTable.
type ForeignKeyConstraint struct {
	ConstraintName    string
	Table             TablePath
	ColumnNames       []string
	ReferencedTable   TablePath
	ReferencedColumns []string
}

// ForeignKeyConstraints groups a table's FK rows into constraints with deterministic ordering.
func ForeignKeyConstraints(table TablePath, foreignKeys []ForeignKey) []ForeignKeyConstraint {
	if len(foreignKeys) == 0 {
		return nil
	}

	type row struct {
		key   string
		fk    ForeignKey
		index int
	}
	rows := make([]row, 0, len(foreignKeys))
	for i, fk := range foreignKeys {
		key := fk.ConstraintName
		if key == "" {
			// Unnamed rows stay isolated so unrelated columns never merge.
			key = fmt.Sprintf("__unnamed_%d", i)
		}
		rows = append(rows, row{key: key, fk: fk, index: i})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].key != rows[j].key {
			return rows[i].key < rows[j].key
		}
		iPos := rows[i].fk.OrdinalPosition
		jPos := rows[j].fk.OrdinalPosition
		if iPos != jPos {
			if iPos == 0 {
				return false
			}
			if jPos == 0 {
				return true
			}
			return iPos < jPos
		}
		return rows[i].index < rows[j].index
	})

	var orderedKeys []string
	grouped := make(map[string]*ForeignKeyConstraint)
	for _, item := range rows {
		group, ok := grouped[item.key]
		if !ok {
			refSchema := item.fk.ReferencedSchema
			if refSchema == "" {
				refSchema = table.Schema
			}
			name := item.fk.ConstraintName
			if name == "" {
				name = item.key
			}
			group = &ForeignKeyConstraint{
				ConstraintName:  name,
				Table:           table,
				ReferencedTable: TablePath{Schema: refSchema, Name: item.fk.ReferencedTable},
			}
			grouped[item.key] = group
			orderedKeys = append(orderedKeys, item.key)
		}
		group.ColumnNames = append(group.ColumnNames, item.fk.ColumnName)
		group.ReferencedColumns = append(group.ReferencedColumns, item.fk.ReferencedColumn)
	}

	result := make([]ForeignKeyConstraint, 0, len(orderedKeys))
	for _, key := range orderedKeys {
		result = append(result, *grouped[key])
	}
	return result
}
