package model

import (
	"fmt"
)

// PolymorphicStrategy selects how concrete subtypes of a model are fetched.
type PolymorphicStrategy int

const (
	// NoPolymorphicFetch means subtypes can only be resolved row by row.
	NoPolymorphicFetch PolymorphicStrategy = iota
	// SubclassTables stores subtype columns in per-subtype tables keyed by the
	// parent primary key. Fetched rows are tagged with their subtype and the
	// subclass tables are queried in bulk.
	SubclassTables
	// TypeResolver keeps every subtype in the base table and relies on a
	// caller-provided resolver to pick the concrete type per row.
	TypeResolver
)

func (s PolymorphicStrategy) String() string {
	switch s {
	case SubclassTables:
		return "subclass_tables"
	case TypeResolver:
		return "type_resolver"
	default:
		return "none"
	}
}

// ParsePolymorphicStrategy is the inverse of PolymorphicStrategy.String.
// The empty string means NoPolymorphicFetch.
func ParsePolymorphicStrategy(s string) (PolymorphicStrategy, error) {
	switch s {
	case "", "none":
		return NoPolymorphicFetch, nil
	case "subclass_tables":
		return SubclassTables, nil
	case "type_resolver":
		return TypeResolver, nil
	default:
		return NoPolymorphicFetch, fmt.Errorf("unknown polymorphic strategy %q", s)
	}
}

// Subtype is one concrete type of a polymorphic model.
type Subtype struct {
	Name string
	// Value is the discriminator value identifying this subtype.
	Value string
	// Table holds the subtype's own columns under the SubclassTables strategy.
	Table  string
	Fields []Field
}

// Field returns a subtype-specific field.
func (s Subtype) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Polymorphism declares the concrete subtypes of a model.
type Polymorphism struct {
	// Discriminator is the base field holding the subtype value.
	Discriminator string
	Subtypes      []Subtype
	Strategy      PolymorphicStrategy
	// ResolveType picks a subtype name from row values. When nil the
	// discriminator value is matched against Subtype.Value.
	ResolveType func(values map[string]any) string
	// ForcePrefetch makes relations pointing at this model use prefetch
	// instead of a join.
	ForcePrefetch bool
}

// Subtype returns the named subtype.
func (p *Polymorphism) Subtype(name string) (Subtype, bool) {
	for _, s := range p.Subtypes {
		if s.Name == name {
			return s, true
		}
	}
	return Subtype{}, false
}

// SubtypeFor returns the subtype name for row values.
func (p *Polymorphism) SubtypeFor(values map[string]any) string {
	if p.ResolveType != nil {
		return p.ResolveType(values)
	}
	raw, ok := values[p.Discriminator]
	if !ok || raw == nil {
		return ""
	}
	value := fmt.Sprint(raw)
	if b, ok := raw.([]byte); ok {
		value = string(b)
	}
	for _, s := range p.Subtypes {
		if s.Value == value {
			return s.Name
		}
	}
	return ""
}

// SupportsSubclassFetch reports whether subtypes can be fetched in bulk
// with rows tagged by concrete type.
func (p *Polymorphism) SupportsSubclassFetch() bool {
	return p != nil && p.Strategy == SubclassTables
}

// SupportsTypeResolution reports whether a caller-provided resolver plus
// forced prefetch is available.
func (p *Polymorphism) SupportsTypeResolution() bool {
	return p != nil && p.Strategy == TypeResolver && p.ForcePrefetch
}

func (p *Polymorphism) validate(m *Model) error {
	if len(p.Subtypes) == 0 {
		return fmt.Errorf("%s: polymorphic model without subtypes", m.Name)
	}
	if p.ResolveType == nil {
		if _, ok := m.Field(p.Discriminator); !ok {
			return fmt.Errorf("%s: discriminator %q is not a field", m.Name, p.Discriminator)
		}
	}
	if p.Strategy == SubclassTables {
		for _, s := range p.Subtypes {
			if s.Table == "" {
				return fmt.Errorf("%s: subtype %s has no table", m.Name, s.Name)
			}
		}
	}
	return nil
}
