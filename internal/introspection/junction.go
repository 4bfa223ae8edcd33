package introspection

// junction describes a pure link table collapsed into a many-to-many relation.
// Left and Right are ordered by referenced table name.
type junction struct {
	Table string
	Left  ForeignKeyConstraint
	Right ForeignKeyConstraint
}

// classifyJunctions finds the pure junction tables of a schema. A table is a
// pure junction when:
//   - it has exactly 2 foreign keys to different tables
//   - every column belongs to one of the two foreign keys
//   - all FK columns are NOT NULL
//   - the primary key or a unique index covers all FK columns
//   - both referenced tables exist and have a primary key
//
// Junctions carrying extra columns stay ordinary models with two foreign keys.
func classifyJunctions(schema *Schema) map[string]junction {
	result := make(map[string]junction)
	for _, table := range schema.Tables {
		if table.IsView {
			continue
		}
		if j, ok := classifyTable(schema, table); ok {
			result[table.Name] = j
		}
	}
	return result
}

func classifyTable(schema *Schema, table Table) (junction, bool) {
	fks := ForeignKeyConstraints(table)
	if len(fks) != 2 {
		return junction{}, false
	}
	left, right := fks[0], fks[1]
	if left.ReferencedTable == right.ReferencedTable {
		return junction{}, false
	}
	for _, fk := range fks {
		target, ok := schema.Table(fk.ReferencedTable)
		if !ok || len(target.PrimaryKey) == 0 {
			return junction{}, false
		}
	}

	fkCols := make(map[string]bool)
	var all []string
	for _, fk := range fks {
		for _, c := range fk.ColumnNames {
			fkCols[c] = true
			all = append(all, c)
		}
	}
	for _, col := range table.Columns {
		if !fkCols[col.Name] || col.IsNullable {
			return junction{}, false
		}
	}
	if !coversColumns(table, all) {
		return junction{}, false
	}

	if left.ReferencedTable > right.ReferencedTable {
		left, right = right, left
	}
	return junction{Table: table.Name, Left: left, Right: right}, true
}
