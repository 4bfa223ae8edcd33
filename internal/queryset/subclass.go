package queryset

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"gqlorm/internal/model"
)

// fetchSubclasses completes polymorphic rows from their subclass tables, one
// query per requested subtype.
func (s *Session) fetchSubclasses(ctx context.Context, qs QuerySet, rows []*Row) error {
	p := qs.model.Polymorphism
	bySubtype := map[string][]*Row{}
	for _, r := range rows {
		if st := r.Subtype(); st != "" {
			bySubtype[st] = append(bySubtype[st], r)
		}
	}
	for _, name := range sortedKeys(qs.subclasses) {
		st, ok := p.Subtype(name)
		if !ok {
			return fmt.Errorf("%s has no subtype %s", qs.model.Name, name)
		}
		if err := s.fetchSubclass(ctx, qs.model, st, qs.subclasses[name], bySubtype[name]); err != nil {
			return err
		}
	}
	return nil
}

// fetchSubclass loads subtype columns for rows of one subtype. Subclass
// tables are keyed by the base model's primary key columns. A nil field
// list loads every subtype field.
func (s *Session) fetchSubclass(ctx context.Context, m *model.Model, st model.Subtype, fields []string, rows []*Row) error {
	if len(rows) == 0 {
		return nil
	}
	want := st.Fields
	if fields != nil {
		want = nil
		for _, name := range fields {
			f, ok := st.Field(name)
			if !ok {
				return fmt.Errorf("%w: %s.%s", model.ErrUnknownField, st.Name, name)
			}
			want = append(want, f)
		}
	}
	if len(want) == 0 {
		return nil
	}

	d := s.dialect
	pk := m.PrimaryKey()
	byKey := map[string][]*Row{}
	var keys [][]any
	for _, r := range rows {
		values, err := r.PrimaryKey()
		if err != nil {
			return err
		}
		k := keyString(values)
		if _, seen := byKey[k]; !seen {
			keys = append(keys, values)
		}
		byKey[k] = append(byKey[k], r)
	}

	pkColumns := make([]string, len(pk))
	for i, f := range pk {
		pkColumns[i] = d.Column(st.Table, f.Column)
	}
	for _, chunk := range chunkKeys(keys, s.maxInClause) {
		builder := sq.Select()
		for _, col := range pkColumns {
			builder = builder.Column(col)
		}
		for _, f := range want {
			builder = builder.Column(d.Column(st.Table, f.Column))
		}
		builder = builder.From(d.Quote(st.Table)).Where(keyCondition{columns: pkColumns, keys: chunk})
		query, args, err := builder.ToSql()
		if err != nil {
			return err
		}
		if query, err = d.Format(query); err != nil {
			return err
		}
		if err := s.scanSubclass(ctx, query, args, pk, want, byKey); err != nil {
			return err
		}
	}
	// Rows without a subclass record read as NULL rather than re-querying.
	for _, group := range byKey {
		for _, r := range group {
			r.mu.Lock()
			for _, f := range want {
				if !r.loaded[f.Name] {
					r.setValue(f.Name, nil)
				}
			}
			r.mu.Unlock()
		}
	}
	return nil
}

func (s *Session) scanSubclass(ctx context.Context, query string, args []any, pk, fields []model.Field, byKey map[string][]*Row) error {
	rows, err := s.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("subclass query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		raw := make([]any, len(pk)+len(fields))
		dest := make([]any, len(raw))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		keyValues := make([]any, len(pk))
		for i, f := range pk {
			keyValues[i] = normalizeValue(f.Type, raw[i])
		}
		for _, r := range byKey[keyString(keyValues)] {
			r.mu.Lock()
			for i, f := range fields {
				r.setValue(f.Name, normalizeValue(f.Type, raw[len(pk)+i]))
			}
			r.mu.Unlock()
		}
	}
	return rows.Err()
}
