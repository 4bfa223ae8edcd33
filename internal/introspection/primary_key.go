package introspection

// PrimaryKeyColumns returns the primary key columns of a table in key order.
// Returns an empty slice if the table has no primary key.
func PrimaryKeyColumns(table Table) []Column {
	var cols []Column
	for _, name := range table.PrimaryKey {
		for _, col := range table.Columns {
			if col.Name == name {
				cols = append(cols, col)
				break
			}
		}
	}
	return cols
}

// coversColumns reports whether the table's primary key or one of its unique
// indexes consists of exactly the given columns.
func coversColumns(table Table, columns []string) bool {
	if sameColumnSet(table.PrimaryKey, columns) {
		return true
	}
	for _, idx := range table.Indexes {
		if idx.Unique && sameColumnSet(idx.Columns, columns) {
			return true
		}
	}
	return false
}

func sameColumnSet(a, b []string) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, c := range a {
		set[c] = true
	}
	for _, c := range b {
		if !set[c] {
			return false
		}
	}
	return true
}
