package resolver

import (
	"context"
	"fmt"

	"gqlorm/internal/model"
	"gqlorm/internal/optimizer"
	"gqlorm/internal/planner"
	"gqlorm/internal/queryset"
)

// CountSuffix names the generated aggregate field of a to-many relation
// ("issues" -> "issuesCount").
const CountSuffix = "Count"

// ComputedField is a field derived from a row rather than read from a column.
// Exactly one of Expression and Resolve must be set.
type ComputedField struct {
	// Type is the GraphQL type owning the field. On the interface type of a
	// polymorphic model the field is added to every subtype as well.
	Type string
	Name string
	// ValueType is the scalar type of the value.
	ValueType model.Type
	// Expression is an SQL template with {field} placeholders, for example
	// "{price} * {quantity}". It is fetched as an annotation.
	Expression string
	// Only and SelectRelated declare what Resolve reads.
	Only          []string
	SelectRelated []string
	Resolve       func(ctx context.Context, row *queryset.Row) (any, error)
}

type computedField struct {
	valueType model.Type
	nonNull   bool
	resolve   func(ctx context.Context, row *queryset.Row) (any, error)
}

// prepareSchema derives the optimizer schema and decorates it with generated
// count fields, computed fields, base filters and declared hints.
func (r *Resolver) prepareSchema(cfg Config) (*optimizer.Schema, error) {
	schema, err := optimizer.DeriveSchema(cfg.Registry)
	if err != nil {
		return nil, err
	}
	for _, t := range schema.Types() {
		r.addCountFields(t)
	}
	for _, c := range cfg.Computed {
		if err := r.addComputed(schema, c); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedTypeNames(cfg.BaseFilters) {
		t, ok := schema.Type(name)
		if !ok {
			return nil, fmt.Errorf("base filter for unknown type %s", name)
		}
		cond, err := planner.BuildCondition(cfg.Registry, t.Model, cfg.BaseFilters[name])
		if err != nil {
			return nil, fmt.Errorf("base filter for %s: %w", name, err)
		}
		if cond != nil {
			t.BaseQuery = func(qs queryset.QuerySet) queryset.QuerySet { return qs.Filter(cond) }
		}
	}
	if err := deferRelations(schema, cfg.Deferred); err != nil {
		return nil, err
	}
	for _, key := range sortedTypeNames(cfg.Hints) {
		typeName, field := splitHintKey(key)
		if typeName == QueryTypeName {
			continue
		}
		t, ok := schema.Type(typeName)
		if !ok {
			return nil, fmt.Errorf("hints for unknown type %s", typeName)
		}
		hints := cfg.Hints[key]
		for _, target := range withSubtypes(schema, t) {
			if field == "" {
				target.Hints = mergeHints(target.Hints, hints)
				continue
			}
			f, ok := target.Field(field)
			if !ok {
				return nil, fmt.Errorf("hints for unknown field %s.%s", target.Name, field)
			}
			f.Hints = mergeHints(f.Hints, hints)
		}
	}
	return schema, nil
}

// deferRelations marks the named "Type.relation" to-one relations, and every
// to-one relation whose target type has a base filter, as deferred.
func deferRelations(schema *optimizer.Schema, named []string) error {
	for _, key := range named {
		typeName, relation := splitHintKey(key)
		t, ok := schema.Type(typeName)
		if !ok || relation == "" {
			return fmt.Errorf("deferred relation %q: expected Type.relation of a known type", key)
		}
		if err := t.Model.Defer(relation); err != nil {
			return fmt.Errorf("deferred relation %q: %w", key, err)
		}
	}
	for _, t := range schema.Types() {
		if t.Subtype != "" {
			continue
		}
		for _, rel := range t.Model.Relations {
			if rel.IsToMany() || rel.Deferred {
				continue
			}
			target, ok := schema.Type(rel.Target)
			if !ok || target.BaseQuery == nil {
				continue
			}
			if err := t.Model.Defer(rel.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// addCountFields adds "<relation>Count" to t for every to-many relation.
func (r *Resolver) addCountFields(t *optimizer.TypeMeta) {
	for _, rel := range t.Model.Relations {
		if !rel.IsToMany() {
			continue
		}
		name := rel.Name + CountSuffix
		if _, exists := t.Field(name); exists {
			continue
		}
		relation := rel.Name
		t.AddField(&optimizer.FieldMeta{
			Name: name,
			Kind: optimizer.ComputedField,
			Hints: &optimizer.FieldHints{
				Annotate: map[string]optimizer.Annotation{name: countAnnotation(relation)},
			},
		})
		r.computed[t.Name+"."+name] = computedField{
			valueType: model.TypeInt,
			nonNull:   true,
			resolve: func(ctx context.Context, row *queryset.Row) (any, error) {
				return row.Annotation(ctx, name, queryset.Count(relation))
			},
		}
	}
}

// countAnnotation counts a relation relative to the level it is compiled at.
func countAnnotation(relation string) optimizer.Annotation {
	return optimizer.Factory("count:"+relation, func(ac optimizer.AnnotationContext) (queryset.Expression, error) {
		return queryset.Count(queryset.JoinPath(ac.Prefix, relation)), nil
	})
}

func (r *Resolver) addComputed(schema *optimizer.Schema, c ComputedField) error {
	if c.Name == "" {
		return fmt.Errorf("computed field on %s has no name", c.Type)
	}
	if (c.Expression == "") == (c.Resolve == nil) {
		return fmt.Errorf("computed field %s.%s needs exactly one of expression or resolve", c.Type, c.Name)
	}
	t, ok := schema.Type(c.Type)
	if !ok {
		return fmt.Errorf("computed field %s on unknown type %s", c.Name, c.Type)
	}
	valueType := c.ValueType
	if valueType == "" {
		valueType = model.TypeString
	}

	hints := &optimizer.FieldHints{Only: c.Only, SelectRelated: c.SelectRelated}
	def := computedField{valueType: valueType, resolve: c.Resolve}
	if c.Expression != "" {
		name := c.Name
		expr := queryset.Template(c.Expression)
		hints = &optimizer.FieldHints{Annotate: map[string]optimizer.Annotation{name: optimizer.Literal(expr)}}
		def.resolve = func(ctx context.Context, row *queryset.Row) (any, error) {
			return row.Annotation(ctx, name, expr)
		}
	}

	for _, target := range withSubtypes(schema, t) {
		if _, exists := target.Field(c.Name); exists {
			return fmt.Errorf("computed field %s.%s shadows an existing field", target.Name, c.Name)
		}
		target.AddField(&optimizer.FieldMeta{Name: c.Name, Kind: optimizer.ComputedField, Hints: hints})
		r.computed[target.Name+"."+c.Name] = def
	}
	return nil
}

// withSubtypes returns t followed by its subtype object types.
func withSubtypes(schema *optimizer.Schema, t *optimizer.TypeMeta) []*optimizer.TypeMeta {
	out := []*optimizer.TypeMeta{t}
	for _, name := range t.Subtypes {
		if st, ok := schema.Type(name); ok {
			out = append(out, st)
		}
	}
	return out
}

// mergeHints unions declared hints into existing ones.
func mergeHints(existing *optimizer.FieldHints, add optimizer.FieldHints) *optimizer.FieldHints {
	if existing == nil {
		out := add
		return &out
	}
	out := *existing
	out.Only = append(append([]string(nil), existing.Only...), add.Only...)
	out.SelectRelated = append(append([]string(nil), existing.SelectRelated...), add.SelectRelated...)
	out.PrefetchRelated = append(append([]optimizer.PrefetchHint(nil), existing.PrefetchRelated...), add.PrefetchRelated...)
	if len(add.Annotate) > 0 {
		out.Annotate = make(map[string]optimizer.Annotation, len(existing.Annotate)+len(add.Annotate))
		for k, v := range existing.Annotate {
			out.Annotate[k] = v
		}
		for k, v := range add.Annotate {
			out.Annotate[k] = v
		}
	}
	out.DisableOptimization = existing.DisableOptimization || add.DisableOptimization
	out.DisableAutoOptimization = existing.DisableAutoOptimization || add.DisableAutoOptimization
	return &out
}
