package config

import (
	"fmt"
	"strings"

	"gqlorm/internal/model"
	"gqlorm/internal/optimizer"
	"gqlorm/internal/queryset"
	"gqlorm/internal/resolver"
)

// Gate builds the execution gate from optimizer.enabled.
func (o *OptimizerConfig) Gate() (optimizer.Gate, error) {
	return optimizer.NewGate(o.Enabled)
}

// FieldHints converts the declared hints into the resolver's hint map. Two
// entries for the same key are merged.
func (o *OptimizerConfig) FieldHints() (map[string]optimizer.FieldHints, error) {
	if len(o.Hints) == 0 {
		return nil, nil
	}
	out := make(map[string]optimizer.FieldHints, len(o.Hints))
	for _, h := range o.Hints {
		key := strings.TrimSpace(h.Field)
		if key == "" {
			return nil, fmt.Errorf("optimizer hint without a field")
		}
		fh := out[key]
		fh.Only = append(fh.Only, h.Only...)
		fh.SelectRelated = append(fh.SelectRelated, h.SelectRelated...)
		for _, rel := range h.PrefetchRelated {
			fh.PrefetchRelated = append(fh.PrefetchRelated, optimizer.PrefetchHint{Relation: rel})
		}
		if len(h.Annotate) > 0 && fh.Annotate == nil {
			fh.Annotate = make(map[string]optimizer.Annotation, len(h.Annotate))
		}
		for _, a := range h.Annotate {
			fh.Annotate[a.Name] = optimizer.Literal(queryset.Template(a.Expression))
		}
		fh.DisableOptimization = fh.DisableOptimization || h.DisableOptimization
		fh.DisableAutoOptimization = fh.DisableAutoOptimization || h.DisableAutoOptimization
		out[key] = fh
	}
	return out, nil
}

// ComputedFields converts computed field declarations.
func (o *OptimizerConfig) ComputedFields() ([]resolver.ComputedField, error) {
	out := make([]resolver.ComputedField, 0, len(o.Computed))
	for _, c := range o.Computed {
		valueType := model.Type(c.ValueType)
		if c.ValueType == "" {
			valueType = model.TypeString
		}
		if !valueType.Valid() {
			return nil, fmt.Errorf("computed field %s.%s: unknown value type %q", c.Type, c.Name, c.ValueType)
		}
		out = append(out, resolver.ComputedField{
			Type:       c.Type,
			Name:       c.Name,
			ValueType:  valueType,
			Expression: c.Expression,
			Only:       c.Only,
		})
	}
	return out, nil
}

// BaseFilterMap returns the base filters keyed by type name.
func (o *OptimizerConfig) BaseFilterMap() (map[string]map[string]any, error) {
	if len(o.BaseFilters) == 0 {
		return nil, nil
	}
	out := make(map[string]map[string]any, len(o.BaseFilters))
	for _, f := range o.BaseFilters {
		if _, dup := out[f.Type]; dup {
			return nil, fmt.Errorf("duplicate base filter for %s", f.Type)
		}
		out[f.Type] = f.Where
	}
	return out, nil
}

// Permission refuses the denied fields, or returns nil when none are denied.
func (o *OptimizerConfig) Permission() resolver.FieldPermission {
	if len(o.DeniedFields) == 0 {
		return nil
	}
	return resolver.DenyFields(o.DeniedFields...)
}

// Declarations converts the polymorphic declarations for model.DeclarePolymorphic.
func (o *OptimizerConfig) Declarations() ([]model.PolymorphicDeclaration, error) {
	out := make([]model.PolymorphicDeclaration, 0, len(o.Polymorphic))
	for _, p := range o.Polymorphic {
		strategy, err := model.ParsePolymorphicStrategy(p.Strategy)
		if err != nil {
			return nil, fmt.Errorf("polymorphic %s: %w", p.Model, err)
		}
		decl := model.PolymorphicDeclaration{
			Model:         p.Model,
			Discriminator: p.Discriminator,
			Strategy:      strategy,
			ForcePrefetch: p.ForcePrefetch,
		}
		for _, st := range p.Subtypes {
			decl.Subtypes = append(decl.Subtypes, model.SubtypeDeclaration{
				Name:   st.Name,
				Value:  st.Value,
				Model:  st.Model,
				Fields: st.Fields,
			})
		}
		out = append(out, decl)
	}
	return out, nil
}

// SessionOptions returns the queryset session options.
func (o *OptimizerConfig) SessionOptions() []queryset.SessionOption {
	if o.MaxInClause <= 0 {
		return nil
	}
	return []queryset.SessionOption{queryset.WithMaxInClause(o.MaxInClause)}
}
