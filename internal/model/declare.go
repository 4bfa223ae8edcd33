package model

import (
	"fmt"
	"slices"
)

// PolymorphicDeclaration makes an existing model the base of a polymorphic
// hierarchy.
type PolymorphicDeclaration struct {
	Model         string
	Discriminator string
	Strategy      PolymorphicStrategy
	ForcePrefetch bool
	Subtypes      []SubtypeDeclaration
}

// SubtypeDeclaration describes one concrete subtype. Under SubclassTables,
// Model names the model backing the subclass table; it is folded into the
// base and disappears from the registry. Fields names base fields that only
// this subtype exposes; they move from the base to the subtype.
type SubtypeDeclaration struct {
	Name   string
	Value  string
	Model  string
	Fields []string
}

// DeclarePolymorphic returns a new registry with the declarations applied.
// Relations pointing at folded subclass models are dropped. The input
// registry is left untouched.
func DeclarePolymorphic(reg *Registry, decls ...PolymorphicDeclaration) (*Registry, error) {
	models := make(map[string]*Model)
	var order []string
	for _, m := range reg.Models() {
		cp := *m
		cp.Fields = slices.Clone(m.Fields)
		cp.Relations = slices.Clone(m.Relations)
		models[m.Name] = &cp
		order = append(order, m.Name)
	}

	folded := map[string]bool{}
	for _, d := range decls {
		base, ok := models[d.Model]
		if !ok {
			return nil, fmt.Errorf("%w: polymorphic base %s", ErrUnknownModel, d.Model)
		}
		if base.Polymorphism != nil {
			return nil, fmt.Errorf("%s is already polymorphic", d.Model)
		}
		p := &Polymorphism{
			Discriminator: d.Discriminator,
			Strategy:      d.Strategy,
			ForcePrefetch: d.ForcePrefetch,
		}
		for _, sd := range d.Subtypes {
			st, err := declareSubtype(base, models, d.Strategy, sd)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", d.Model, err)
			}
			if sd.Model != "" {
				folded[sd.Model] = true
			}
			p.Subtypes = append(p.Subtypes, st)
		}
		base.Polymorphism = p
	}

	var out []*Model
	for _, name := range order {
		if folded[name] {
			continue
		}
		m := models[name]
		m.Relations = slices.DeleteFunc(m.Relations, func(r Relation) bool { return folded[r.Target] })
		out = append(out, m)
	}
	next, err := NewRegistry(out...)
	if err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}

func declareSubtype(base *Model, models map[string]*Model, strategy PolymorphicStrategy, sd SubtypeDeclaration) (Subtype, error) {
	st := Subtype{Name: sd.Name, Value: sd.Value}
	if sd.Model != "" {
		if strategy != SubclassTables {
			return Subtype{}, fmt.Errorf("subtype %s: a backing model needs the subclass_tables strategy", sd.Model)
		}
		sub, ok := models[sd.Model]
		if !ok {
			return Subtype{}, fmt.Errorf("%w: subtype %s", ErrUnknownModel, sd.Model)
		}
		if !sameKeyColumns(base, sub) {
			return Subtype{}, fmt.Errorf("subtype %s: primary key columns must match the base", sd.Model)
		}
		if st.Name == "" {
			st.Name = sub.Name
		}
		st.Table = sub.Table
		for _, f := range sub.Fields {
			if !f.PrimaryKey {
				st.Fields = append(st.Fields, f)
			}
		}
	}
	for _, name := range sd.Fields {
		i := slices.IndexFunc(base.Fields, func(f Field) bool { return f.Name == name })
		if i < 0 {
			return Subtype{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, base.Name, name)
		}
		if base.Fields[i].PrimaryKey {
			return Subtype{}, fmt.Errorf("subtype %s: cannot move key field %s", st.Name, name)
		}
		st.Fields = append(st.Fields, base.Fields[i])
		base.Fields = slices.Delete(base.Fields, i, i+1)
	}
	if st.Name == "" {
		return Subtype{}, fmt.Errorf("subtype with value %q has no name", sd.Value)
	}
	return st, nil
}

func sameKeyColumns(a, b *Model) bool {
	ak, bk := a.PrimaryKey(), b.PrimaryKey()
	if len(ak) != len(bk) {
		return false
	}
	for i := range ak {
		if ak[i].Column != bk[i].Column {
			return false
		}
	}
	return true
}
