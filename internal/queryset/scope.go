package queryset

import (
	"fmt"
	"strconv"

	"gqlorm/internal/model"
	"gqlorm/internal/sqlutil"
)

// Scope resolves field paths to SQL column references while a query is
// being rendered.
type Scope struct {
	dialect   sqlutil.Dialect
	registry  *model.Registry
	model     *model.Model
	rootAlias string
	joins     map[string]joinRef
	seq       *int
}

type joinRef struct {
	alias string
	model *model.Model
}

func newScope(d sqlutil.Dialect, reg *model.Registry, m *model.Model, alias string) *Scope {
	seq := 0
	return &Scope{dialect: d, registry: reg, model: m, rootAlias: alias, joins: map[string]joinRef{}, seq: &seq}
}

// Dialect returns the SQL dialect being rendered.
func (s *Scope) Dialect() sqlutil.Dialect { return s.dialect }

// Registry returns the model registry.
func (s *Scope) Registry() *model.Registry { return s.registry }

// Relation resolves a relation path to its table alias and model.
func (s *Scope) Relation(path string) (string, *model.Model, error) {
	if path == "" {
		return s.rootAlias, s.model, nil
	}
	ref, ok := s.joins[path]
	if !ok {
		return "", nil, fmt.Errorf("relation path %q is not joined", path)
	}
	return ref.alias, ref.model, nil
}

// Column resolves a field path ("title", "milestone__name") to a qualified column.
func (s *Scope) Column(fieldPath string) (string, error) {
	owner, name := splitPath(fieldPath)
	alias, m, err := s.Relation(owner)
	if err != nil {
		return "", err
	}
	f, ok := lookupField(m, name)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", model.ErrUnknownField, m.Name, name)
	}
	return s.dialect.Column(alias, f.Column), nil
}

// NextAlias returns a fresh table alias for subqueries.
func (s *Scope) NextAlias(prefix string) string {
	*s.seq++
	return "_" + prefix + strconv.Itoa(*s.seq)
}

// sub returns a scope rooted at a subquery alias sharing the alias sequence.
func (s *Scope) sub(m *model.Model, alias string) *Scope {
	return &Scope{dialect: s.dialect, registry: s.registry, model: m, rootAlias: alias, joins: map[string]joinRef{}, seq: s.seq}
}

// lookupField finds a field on the base table, including subtype fields that
// live on the base table under the TypeResolver strategy.
func lookupField(m *model.Model, name string) (model.Field, bool) {
	if f, ok := m.Field(name); ok {
		return f, true
	}
	if p := m.Polymorphism; p != nil && p.Strategy == model.TypeResolver {
		for _, st := range p.Subtypes {
			if f, ok := st.Field(name); ok {
				return f, true
			}
		}
	}
	return model.Field{}, false
}

// baseFields lists every field stored on the model's own table.
func baseFields(m *model.Model) []model.Field {
	fields := append([]model.Field(nil), m.Fields...)
	if p := m.Polymorphism; p != nil && p.Strategy == model.TypeResolver {
		seen := map[string]bool{}
		for _, f := range fields {
			seen[f.Name] = true
		}
		for _, st := range p.Subtypes {
			for _, f := range st.Fields {
				if !seen[f.Name] {
					seen[f.Name] = true
					fields = append(fields, f)
				}
			}
		}
	}
	return fields
}
