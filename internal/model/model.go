// Package model declares the relational models exposed through GraphQL:
// their columns, relations and polymorphic subtypes.
package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownModel is returned when a model name is not registered.
	ErrUnknownModel = errors.New("unknown model")
	// ErrUnknownField is returned when a field or relation is not declared on a model.
	ErrUnknownField = errors.New("unknown field")
)

// PathSeparator separates relation names in a relation path ("milestone__owner").
const PathSeparator = "__"

// Type is the scalar kind of a model field.
type Type string

const (
	TypeInt    Type = "int"
	TypeFloat  Type = "float"
	TypeBool   Type = "bool"
	TypeString Type = "string"
	TypeTime   Type = "time"
	TypeJSON   Type = "json"
)

// Valid reports whether t is one of the known scalar kinds.
func (t Type) Valid() bool {
	switch t {
	case TypeInt, TypeFloat, TypeBool, TypeString, TypeTime, TypeJSON:
		return true
	}
	return false
}

// Field is a column-backed attribute of a model.
type Field struct {
	Name       string
	Column     string
	Type       Type
	PrimaryKey bool
	Nullable   bool
}

// RelationKind classifies a relation by cardinality and ownership.
type RelationKind int

const (
	// ForeignKey is a many-to-one relation owned by this model's FK columns.
	ForeignKey RelationKind = iota
	// OneToOne is a unique FK owned by this model.
	OneToOne
	// ReverseOneToOne is the inverse side of a OneToOne.
	ReverseOneToOne
	// OneToMany is the inverse side of a ForeignKey.
	OneToMany
	// ManyToMany goes through a junction table.
	ManyToMany
)

func (k RelationKind) String() string {
	switch k {
	case ForeignKey:
		return "foreign_key"
	case OneToOne:
		return "one_to_one"
	case ReverseOneToOne:
		return "reverse_one_to_one"
	case OneToMany:
		return "one_to_many"
	case ManyToMany:
		return "many_to_many"
	default:
		return "unknown"
	}
}

// Junction describes the link table of a many-to-many relation.
// LocalColumns reference the owning model's key, RemoteColumns the target's.
type Junction struct {
	Table         string
	LocalColumns  []string
	RemoteColumns []string
}

// Relation links a model to a target model.
//
// For ForeignKey and OneToOne, LocalColumns are this model's FK columns and
// RemoteColumns the referenced key on the target. For the reverse kinds,
// LocalColumns are this model's key and RemoteColumns the target's FK columns.
// For ManyToMany, LocalColumns and RemoteColumns are the key columns on each
// side and Junction maps them through the link table.
type Relation struct {
	Name          string
	Kind          RelationKind
	Target        string
	LocalColumns  []string
	RemoteColumns []string
	Junction      *Junction
	// Deferred marks a to-one relation that must be fetched with its own
	// query instead of a join.
	Deferred bool
}

// IsToMany reports whether the relation yields a list per parent row.
func (r Relation) IsToMany() bool {
	return r.Kind == OneToMany || r.Kind == ManyToMany
}

// Model is a table exposed as a GraphQL type.
type Model struct {
	Name         string
	Table        string
	Fields       []Field
	Relations    []Relation
	Polymorphism *Polymorphism
}

// Field returns the named field.
func (m *Model) Field(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldByColumn returns the field backed by column.
func (m *Model) FieldByColumn(column string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Column == column {
			return f, true
		}
	}
	return Field{}, false
}

// Relation returns the named relation.
func (m *Model) Relation(name string) (Relation, bool) {
	for _, r := range m.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// Defer marks a to-one relation so it is always fetched with its own query.
func (m *Model) Defer(relation string) error {
	for i, r := range m.Relations {
		if r.Name != relation {
			continue
		}
		if r.IsToMany() {
			return fmt.Errorf("%s.%s is a to-many relation", m.Name, relation)
		}
		m.Relations[i].Deferred = true
		return nil
	}
	return fmt.Errorf("%w: %s.%s", ErrUnknownField, m.Name, relation)
}

// PrimaryKey returns the primary key fields in declaration order.
func (m *Model) PrimaryKey() []Field {
	var pk []Field
	for _, f := range m.Fields {
		if f.PrimaryKey {
			pk = append(pk, f)
		}
	}
	return pk
}

// PrimaryKeyNames returns the primary key field names.
func (m *Model) PrimaryKeyNames() []string {
	pk := m.PrimaryKey()
	names := make([]string, len(pk))
	for i, f := range pk {
		names[i] = f.Name
	}
	return names
}

// FieldNames returns every field name in declaration order.
func (m *Model) FieldNames() []string {
	names := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		names[i] = f.Name
	}
	return names
}

// KeyFields returns the names of the local fields a relation is keyed on.
// These must be fetched for the relation to be resolvable.
func (m *Model) KeyFields(rel Relation) []string {
	names := make([]string, 0, len(rel.LocalColumns))
	for _, col := range rel.LocalColumns {
		if f, ok := m.FieldByColumn(col); ok {
			names = append(names, f.Name)
		}
	}
	return names
}

// Registry holds every model by name.
type Registry struct {
	models map[string]*Model
	order  []string
}

// NewRegistry creates a registry populated with models.
func NewRegistry(models ...*Model) (*Registry, error) {
	r := &Registry{models: make(map[string]*Model)}
	for _, m := range models {
		if err := r.Add(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers a model.
func (r *Registry) Add(m *Model) error {
	if m == nil || m.Name == "" {
		return errors.New("model name is required")
	}
	if _, exists := r.models[m.Name]; exists {
		return fmt.Errorf("model %s registered twice", m.Name)
	}
	r.models[m.Name] = m
	r.order = append(r.order, m.Name)
	return nil
}

// Model looks a model up by name.
func (r *Registry) Model(name string) (*Model, error) {
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return m, nil
}

// Models returns all models in registration order.
func (r *Registry) Models() []*Model {
	out := make([]*Model, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.models[name])
	}
	return out
}

// Target resolves the target model of a relation on m.
func (r *Registry) Target(m *Model, relation string) (Relation, *Model, error) {
	rel, ok := m.Relation(relation)
	if !ok {
		return Relation{}, nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, m.Name, relation)
	}
	target, err := r.Model(rel.Target)
	if err != nil {
		return Relation{}, nil, err
	}
	return rel, target, nil
}

// Walk follows a relation path from m and returns the model at its end.
func (r *Registry) Walk(m *Model, path string) (*Model, error) {
	if path == "" {
		return m, nil
	}
	current := m
	for _, name := range strings.Split(path, PathSeparator) {
		_, target, err := r.Target(current, name)
		if err != nil {
			return nil, err
		}
		current = target
	}
	return current, nil
}

// Validate checks that every model has a primary key and every relation
// points at a registered model with matching key arity.
func (r *Registry) Validate() error {
	var problems []string
	for _, m := range r.Models() {
		if len(m.PrimaryKey()) == 0 {
			problems = append(problems, fmt.Sprintf("%s: no primary key", m.Name))
		}
		for _, rel := range m.Relations {
			if _, ok := r.models[rel.Target]; !ok {
				problems = append(problems, fmt.Sprintf("%s.%s: unknown target %s", m.Name, rel.Name, rel.Target))
				continue
			}
			if len(rel.LocalColumns) == 0 || len(rel.LocalColumns) != len(rel.RemoteColumns) {
				problems = append(problems, fmt.Sprintf("%s.%s: key column mismatch", m.Name, rel.Name))
			}
			if rel.Kind == ManyToMany && rel.Junction == nil {
				problems = append(problems, fmt.Sprintf("%s.%s: many-to-many without junction", m.Name, rel.Name))
			}
		}
		if p := m.Polymorphism; p != nil {
			if err := p.validate(m); err != nil {
				problems = append(problems, err.Error())
			}
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid models: %s", strings.Join(problems, "; "))
	}
	return nil
}
