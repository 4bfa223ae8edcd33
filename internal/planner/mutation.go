package planner

import (
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"gqlorm/internal/model"
	"gqlorm/internal/sqlutil"
)

// PlanInsert builds SQL inserting one row from field values. Under Postgres
// the primary key is returned with RETURNING since there is no last insert id.
func PlanInsert(d sqlutil.Dialect, m *model.Model, values map[string]any) (SQLQuery, error) {
	cols, vals, err := columnValues(d, m, values)
	if err != nil {
		return SQLQuery{}, err
	}
	returning := ""
	if d.Name == sqlutil.Postgres.Name {
		pk := m.PrimaryKey()
		pkCols := make([]string, len(pk))
		for i, f := range pk {
			pkCols[i] = d.Quote(f.Column)
		}
		returning = "RETURNING " + strings.Join(pkCols, ", ")
	}
	if len(cols) == 0 {
		query := emptyInsert(d, m)
		if returning != "" {
			query += " " + returning
		}
		return SQLQuery{SQL: query}, nil
	}

	builder := sq.Insert(d.Quote(m.Table)).Columns(cols...).Values(vals...)
	if returning != "" {
		builder = builder.Suffix(returning)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	query, err = d.Format(query)
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// PlanUpdate builds SQL updating one row by primary key.
func PlanUpdate(d sqlutil.Dialect, m *model.Model, set map[string]any, pk []any) (SQLQuery, error) {
	if len(set) == 0 {
		return SQLQuery{}, fmt.Errorf("update set cannot be empty")
	}
	where, err := pkWhere(d, m, pk)
	if err != nil {
		return SQLQuery{}, err
	}
	cols, vals, err := columnValues(d, m, set)
	if err != nil {
		return SQLQuery{}, err
	}
	update := sq.Update(d.Quote(m.Table))
	for i, col := range cols {
		update = update.Set(col, vals[i])
	}
	query, args, err := update.Where(where).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	query, err = d.Format(query)
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// PlanDelete builds SQL deleting one row by primary key.
func PlanDelete(d sqlutil.Dialect, m *model.Model, pk []any) (SQLQuery, error) {
	where, err := pkWhere(d, m, pk)
	if err != nil {
		return SQLQuery{}, err
	}
	query, args, err := sq.Delete(d.Quote(m.Table)).Where(where).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	query, err = d.Format(query)
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// columnValues maps field values to quoted columns in field declaration order.
func columnValues(d sqlutil.Dialect, m *model.Model, values map[string]any) ([]string, []any, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		if _, ok := m.Field(name); !ok {
			return nil, nil, fmt.Errorf("%w: %s.%s", model.ErrUnknownField, m.Name, name)
		}
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool { return fieldIndex(m, names[i]) < fieldIndex(m, names[j]) })

	cols := make([]string, len(names))
	vals := make([]any, len(names))
	for i, name := range names {
		f, _ := m.Field(name)
		cols[i] = d.Quote(f.Column)
		vals[i] = values[name]
	}
	return cols, vals, nil
}

func pkWhere(d sqlutil.Dialect, m *model.Model, pk []any) (sq.Eq, error) {
	fields := m.PrimaryKey()
	// A partial key would widen the statement to many rows.
	if len(pk) != len(fields) {
		return nil, fmt.Errorf("primary key value count (%d) does not match primary key column count (%d)", len(pk), len(fields))
	}
	where := sq.Eq{}
	for i, f := range fields {
		if pk[i] == nil {
			return nil, fmt.Errorf("missing primary key value for %s", f.Name)
		}
		where[d.Quote(f.Column)] = pk[i]
	}
	return where, nil
}

func fieldIndex(m *model.Model, name string) int {
	for i, f := range m.Fields {
		if f.Name == name {
			return i
		}
	}
	return len(m.Fields)
}

func emptyInsert(d sqlutil.Dialect, m *model.Model) string {
	if d.Name == sqlutil.MySQL.Name {
		return fmt.Sprintf("INSERT INTO %s () VALUES ()", d.Quote(m.Table))
	}
	return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", d.Quote(m.Table))
}
