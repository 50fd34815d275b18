package catalog

// PrimaryKeyColumns returns all primary key columns for a table in column order.
// Returns an empty slice if the table has no primary key.
func PrimaryKeyColumns(table Table) []Column {
	var cols []Column
	for _, col := range table.Columns {
		if col.IsPrimaryKey {
			cols = append(cols, col)
		}
	}
	return cols
}

// PrimaryKeyNames returns the names of PrimaryKeyColumns.
func PrimaryKeyNames(table Table) []string {
	var names []string
	for _, col := range PrimaryKeyColumns(table) {
		names = append(names, col.Name)
	}
	return names
}

func markPrimaryKey(columns []Column, primaryKeys []string) {
	for i := range columns {
		for _, pk := range primaryKeys {
			if columns[i].Name == pk {
				columns[i].IsPrimaryKey = true
				break
			}
		}
	}
}
