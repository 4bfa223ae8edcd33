package introspection

import (
	"fmt"
	"sort"
)

// ForeignKeyConstraint is one foreign key with its columns in key order.
type ForeignKeyConstraint struct {
	ConstraintName    string
	ReferencedTable   string
	ColumnNames       []string
	ReferencedColumns []string
}

// ForeignKeyConstraints groups a table's per-column foreign key rows by
// constraint name. Constraints are returned sorted by name; rows without a
// name each form their own constraint.
func ForeignKeyConstraints(table Table) []ForeignKeyConstraint {
	if len(table.ForeignKeys) == 0 {
		return nil
	}

	groups := make(map[string][]ForeignKey)
	var keys []string
	for i, fk := range table.ForeignKeys {
		key := fk.ConstraintName
		if key == "" {
			key = fmt.Sprintf("\x00%04d", i)
		}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], fk)
	}
	sort.Strings(keys)

	out := make([]ForeignKeyConstraint, 0, len(keys))
	for _, key := range keys {
		rows := groups[key]
		// Rows without a position keep catalog order after the positioned ones.
		sort.SliceStable(rows, func(i, j int) bool {
			pi, pj := rows[i].OrdinalPosition, rows[j].OrdinalPosition
			if pi == 0 || pj == 0 {
				return pj == 0 && pi != 0
			}
			return pi < pj
		})
		c := ForeignKeyConstraint{
			ConstraintName:  rows[0].ConstraintName,
			ReferencedTable: rows[0].ReferencedTable,
		}
		for _, fk := range rows {
			c.ColumnNames = append(c.ColumnNames, fk.ColumnName)
			c.ReferencedColumns = append(c.ReferencedColumns, fk.ReferencedColumn)
		}
		out = append(out, c)
	}
	return out
}
