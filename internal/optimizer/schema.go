package optimizer

import (
	"errors"
	"fmt"
	"sort"

	"gqlorm/internal/model"
	"gqlorm/internal/queryset"
)

// FieldKind classifies a GraphQL field for the walker.
type FieldKind int

const (
	// ColumnField reads one model field.
	ColumnField FieldKind = iota
	// RelationField resolves a relation as an object, list or connection.
	RelationField
	// ComputedField is resolved by code; only its declared hints apply.
	ComputedField
)

// FieldMeta links a GraphQL field to the model.
type FieldMeta struct {
	Name string
	Kind FieldKind
	// Column is the model field read by a ColumnField.
	Column string
	// Relation is the model relation behind a RelationField.
	Relation string
	// Target is the GraphQL type name of the relation's items.
	Target string
	// Connection marks a relation exposed as edges/nodes.
	Connection bool
	Hints      *FieldHints
}

// TypeMeta links a GraphQL object or interface type to a model.
type TypeMeta struct {
	Name  string
	Model *model.Model
	// Subtype is set on the object type of one concrete polymorphic subtype.
	Subtype string
	// Interfaces are the interface type names an object type implements.
	Interfaces []string
	// Subtypes are the object type names implementing an interface type.
	Subtypes []string
	// BaseQuery narrows every queryset built for the type: roots, prefetch
	// bases and lazily loaded relations. A to-one relation targeting a type
	// with a BaseQuery must be Deferred, since a join cannot apply it.
	BaseQuery func(queryset.QuerySet) queryset.QuerySet
	Hints     *FieldHints

	fields map[string]*FieldMeta
	order  []string
}

// IsPolymorphic reports whether the type is an interface over subtypes.
func (t *TypeMeta) IsPolymorphic() bool { return len(t.Subtypes) > 0 }

// AddField registers a field, replacing any field with the same name.
func (t *TypeMeta) AddField(f *FieldMeta) {
	if t.fields == nil {
		t.fields = map[string]*FieldMeta{}
	}
	if _, exists := t.fields[f.Name]; !exists {
		t.order = append(t.order, f.Name)
	}
	t.fields[f.Name] = f
}

// Field looks a field up by GraphQL name.
func (t *TypeMeta) Field(name string) (*FieldMeta, bool) {
	f, ok := t.fields[name]
	return f, ok
}

// Fields returns the fields in registration order.
func (t *TypeMeta) Fields() []*FieldMeta {
	out := make([]*FieldMeta, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.fields[name])
	}
	return out
}

// Matches reports whether a fragment type condition applies to the type.
func (t *TypeMeta) Matches(typeCondition string) bool {
	if typeCondition == "" || typeCondition == t.Name {
		return true
	}
	for _, i := range t.Interfaces {
		if i == typeCondition {
			return true
		}
	}
	return false
}

// Schema maps GraphQL types to models.
type Schema struct {
	registry *model.Registry
	types    map[string]*TypeMeta
	order    []string
}

// NewSchema returns an empty schema over reg.
func NewSchema(reg *model.Registry) *Schema {
	return &Schema{registry: reg, types: map[string]*TypeMeta{}}
}

// Registry returns the model registry.
func (s *Schema) Registry() *model.Registry { return s.registry }

// Add registers a type.
func (s *Schema) Add(t *TypeMeta) error {
	if t == nil || t.Name == "" {
		return errors.New("type name is required")
	}
	if t.Model == nil {
		return fmt.Errorf("type %s has no model", t.Name)
	}
	if _, exists := s.types[t.Name]; exists {
		return fmt.Errorf("type %s registered twice", t.Name)
	}
	s.types[t.Name] = t
	s.order = append(s.order, t.Name)
	return nil
}

// Type looks a type up by name.
func (s *Schema) Type(name string) (*TypeMeta, bool) {
	t, ok := s.types[name]
	return t, ok
}

// Types returns every type in registration order.
func (s *Schema) Types() []*TypeMeta {
	out := make([]*TypeMeta, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.types[name])
	}
	return out
}

// BaseQuerySet returns the unfiltered queryset for a type with its
// BaseQuery applied.
func (s *Schema) BaseQuerySet(typeName string) (queryset.QuerySet, error) {
	t, ok := s.types[typeName]
	if !ok {
		return queryset.QuerySet{}, fmt.Errorf("unknown type %s", typeName)
	}
	qs := queryset.For(s.registry, t.Model)
	if t.BaseQuery != nil {
		qs = t.BaseQuery(qs)
	}
	return qs, nil
}

// DeriveSchema builds one type per model, with an interface type plus one
// object type per subtype for polymorphic models. To-many relations get a
// list field and a "<relation>Connection" field.
func DeriveSchema(reg *model.Registry) (*Schema, error) {
	s := NewSchema(reg)
	for _, m := range reg.Models() {
		base := &TypeMeta{Name: m.Name, Model: m}
		addModelFields(base, m)
		p := m.Polymorphism
		if p == nil {
			if err := s.Add(base); err != nil {
				return nil, err
			}
			continue
		}
		for _, st := range p.Subtypes {
			base.Subtypes = append(base.Subtypes, st.Name)
		}
		sort.Strings(base.Subtypes)
		if err := s.Add(base); err != nil {
			return nil, err
		}
		for _, st := range p.Subtypes {
			obj := &TypeMeta{Name: st.Name, Model: m, Subtype: st.Name, Interfaces: []string{m.Name}}
			addModelFields(obj, m)
			for _, f := range st.Fields {
				obj.AddField(&FieldMeta{Name: f.Name, Kind: ColumnField, Column: f.Name})
			}
			if err := s.Add(obj); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func addModelFields(t *TypeMeta, m *model.Model) {
	for _, f := range m.Fields {
		t.AddField(&FieldMeta{Name: f.Name, Kind: ColumnField, Column: f.Name})
	}
	for _, rel := range m.Relations {
		t.AddField(&FieldMeta{Name: rel.Name, Kind: RelationField, Relation: rel.Name, Target: rel.Target})
		if rel.IsToMany() {
			t.AddField(&FieldMeta{Name: rel.Name + "Connection", Kind: RelationField, Relation: rel.Name, Target: rel.Target, Connection: true})
		}
	}
}
