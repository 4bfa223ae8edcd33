package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gqlorm/internal/model"
	"gqlorm/internal/queryset"
)

// FetchPlan summarizes what Compile applied to a queryset.
type FetchPlan struct {
	// Projection lists the fetched field paths; empty means every column.
	Projection []string
	// Joins lists the joined relation paths.
	Joins []string
	// Prefetches lists prefetches in key order with their nested plans.
	Prefetches []PrefetchDirective
	// Annotations maps compiled annotation names to expressions.
	Annotations map[string]queryset.Expression
	// Subclasses lists subtype fields fetched from subclass tables.
	Subclasses map[string][]string
	// Partial lists hint keys that were only partially merged.
	Partial      []string
	Degradations []Degradation
}

// PrefetchDirective is one compiled prefetch.
type PrefetchDirective struct {
	// Key is the cache key rows are stored under on the owner.
	Key string
	// Path is the relation path from the plan's model.
	Path     string
	Relation string
	QuerySet queryset.QuerySet
	Plan     *FetchPlan
}

// IsEmpty reports whether the plan changes nothing.
func (p *FetchPlan) IsEmpty() bool {
	return p == nil || (len(p.Projection) == 0 && len(p.Joins) == 0 && len(p.Prefetches) == 0 &&
		len(p.Annotations) == 0 && len(p.Subclasses) == 0)
}

// PrefetchPaths flattens nested prefetches into relation paths from the
// root ("issues", "issues__tags").
func (p *FetchPlan) PrefetchPaths() []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, d := range p.Prefetches {
		out = append(out, d.Path)
		for _, nested := range d.Plan.PrefetchPaths() {
			out = append(out, queryset.JoinPath(d.Path, nested))
		}
	}
	return out
}

// Compile applies store to qs. An empty store returns qs unchanged. Hints
// that cannot be applied are dropped and recorded as degradations on the
// plan; the returned queryset is always valid.
func Compile(ctx context.Context, qs queryset.QuerySet, store *HintStore) (queryset.QuerySet, *FetchPlan, error) {
	if qs.Model() == nil || qs.Registry() == nil {
		return qs, nil, errors.New("compile: queryset has no model")
	}
	c := &compiler{ctx: ctx, registry: qs.Registry()}
	return c.compile(qs, store)
}

// compileWith is Compile with prefetch base querysets taken from schema, so
// a type's BaseQuery also narrows prefetches that carry no base of their own.
func compileWith(ctx context.Context, schema *Schema, qs queryset.QuerySet, store *HintStore) (queryset.QuerySet, *FetchPlan, error) {
	if qs.Model() == nil || qs.Registry() == nil {
		return qs, nil, errors.New("compile: queryset has no model")
	}
	c := &compiler{ctx: ctx, registry: qs.Registry(), schema: schema}
	return c.compile(qs, store)
}

type compiler struct {
	ctx      context.Context
	registry *model.Registry
	schema   *Schema
}

// baseFor returns the queryset a prefetch of target starts from.
func (c *compiler) baseFor(target *model.Model) queryset.QuerySet {
	if c.schema != nil {
		if t, ok := c.schema.Type(target.Name); ok && t.Model == target {
			if qs, err := c.schema.BaseQuerySet(t.Name); err == nil {
				return qs
			}
		}
	}
	return queryset.For(c.registry, target)
}

// level accumulates the directives of one compiled queryset.
type level struct {
	plan        *FetchPlan
	annotations []queryset.Annotation
	prefetches  []queryset.Prefetch
}

func (c *compiler) compile(qs queryset.QuerySet, store *HintStore) (queryset.QuerySet, *FetchPlan, error) {
	lv := &level{plan: &FetchPlan{}}
	if store.IsEmpty() {
		return qs, lv.plan, nil
	}
	if err := c.collect(lv, qs.Model(), store, ""); err != nil {
		return qs, nil, err
	}
	plan := lv.plan

	if len(lv.annotations) > 0 {
		sort.Slice(lv.annotations, func(i, j int) bool { return lv.annotations[i].Name < lv.annotations[j].Name })
		qs = qs.Annotate(lv.annotations...)
	}
	if len(plan.Joins) > 0 {
		qs = qs.SelectRelated(plan.Joins...)
	}
	if len(plan.Projection) > 0 {
		only := append([]string(nil), plan.Projection...)
		for _, a := range lv.annotations {
			only = append(only, a.Name)
		}
		qs = qs.Only(only...)
	}
	if len(lv.prefetches) > 0 {
		qs = qs.PrefetchRelated(lv.prefetches...)
	}
	if len(plan.Subclasses) > 0 {
		qs = qs.WithSubclasses(plan.Subclasses)
	}
	return qs, plan, nil
}

// collect compiles one relation level, prefixing every path with prefix.
func (c *compiler) collect(lv *level, m *model.Model, store *HintStore, prefix string) error {
	plan := lv.plan
	joins, prefetches := c.resolveConflicts(plan, m, store, prefix)

	if store.hasOnly {
		fields := append([]string(nil), m.PrimaryKeyNames()...)
		fields = append(fields, store.Only()...)
		for _, name := range keys(joins) {
			fields = append(fields, c.keyFields(m, name)...)
		}
		for _, spec := range prefetches {
			fields = append(fields, c.keyFields(m, spec.Relation)...)
		}
		if p := m.Polymorphism; p != nil {
			if p.Discriminator != "" {
				fields = append(fields, p.Discriminator)
			}
			if p.Strategy == model.TypeResolver {
				for _, subtype := range keys(store.subtypeOnly) {
					fields = append(fields, keys(store.subtypeOnly[subtype])...)
				}
			}
		}
		seen := map[string]bool{}
		for _, f := range fields {
			if seen[f] {
				continue
			}
			seen[f] = true
			if !hasBaseField(m, f) {
				plan.Degradations = append(plan.Degradations, Degradation{
					Path: prefix, Reason: ReasonSchemaDrift, Detail: fmt.Sprintf("%s has no field %s", m.Name, f),
				})
				continue
			}
			plan.Projection = append(plan.Projection, queryset.JoinPath(prefix, f))
		}
	}

	if prefix == "" && m.Polymorphism.SupportsSubclassFetch() && len(store.subtypeOnly) > 0 {
		plan.Subclasses = map[string][]string{}
		for subtype, fields := range store.subtypeOnly {
			if _, ok := m.Polymorphism.Subtype(subtype); !ok {
				continue
			}
			plan.Subclasses[subtype] = keys(fields)
			if plan.Subclasses[subtype] == nil {
				plan.Subclasses[subtype] = []string{}
			}
		}
	}

	for _, name := range store.AnnotationNames() {
		expr, err := store.annotations[name].Resolve(AnnotationContext{Context: c.ctx, Prefix: prefix, Model: m})
		if err != nil {
			plan.Degradations = append(plan.Degradations, Degradation{
				Path: queryset.JoinPath(prefix, name), Reason: ReasonAnnotation, Detail: err.Error(),
			})
			continue
		}
		full := queryset.JoinPath(prefix, name)
		if plan.Annotations == nil {
			plan.Annotations = map[string]queryset.Expression{}
		}
		plan.Annotations[full] = expr
		lv.annotations = append(lv.annotations, queryset.Annotation{Name: full, Expr: expr})
	}

	for _, name := range keys(joins) {
		_, target, err := c.registry.Target(m, name)
		if err != nil {
			return err
		}
		path := queryset.JoinPath(prefix, name)
		plan.Joins = append(plan.Joins, path)
		if err := c.collect(lv, target, joins[name], path); err != nil {
			return err
		}
	}

	for _, key := range keys(prefetches) {
		spec := prefetches[key]
		_, target, err := c.registry.Target(m, spec.Relation)
		if err != nil {
			return err
		}
		base := c.baseFor(target)
		if spec.BaseQuerySet != nil {
			base = *spec.BaseQuerySet
		}
		if spec.Fetch != nil && spec.Fetch.Apply != nil {
			base = spec.Fetch.Apply(base)
		}
		nestedQS, nestedPlan, err := c.compile(base, spec.Nested)
		if err != nil {
			return err
		}
		path := queryset.JoinPath(prefix, spec.Relation)
		pq := nestedQS
		lv.prefetches = append(lv.prefetches, queryset.Prefetch{Path: path, ToAttr: key, QuerySet: &pq})
		plan.Prefetches = append(plan.Prefetches, PrefetchDirective{
			Key: key, Path: path, Relation: spec.Relation, QuerySet: nestedQS, Plan: nestedPlan,
		})
	}

	for _, conflict := range store.Conflicts() {
		plan.Partial = append(plan.Partial, queryset.JoinPath(prefix, conflict))
	}
	return nil
}

// resolveConflicts decides between join and prefetch for each relation.
// To-many, deferred and polymorphic targets are prefetched; any other
// relation requested both ways is joined, with the prefetch's nested hints
// merged into the join.
func (c *compiler) resolveConflicts(plan *FetchPlan, m *model.Model, store *HintStore, prefix string) (map[string]*HintStore, map[string]*PrefetchSpec) {
	joins := map[string]*HintStore{}
	prefetches := map[string]*PrefetchSpec{}
	drift := func(name string, err error) {
		plan.Degradations = append(plan.Degradations, Degradation{
			Path: queryset.JoinPath(prefix, name), Reason: ReasonSchemaDrift, Detail: err.Error(),
		})
	}

	for key, spec := range store.prefetches {
		if _, _, err := c.registry.Target(m, spec.Relation); err != nil {
			drift(spec.Relation, err)
			continue
		}
		prefetches[key] = spec.clone()
	}
	for name, child := range store.joins {
		rel, target, err := c.registry.Target(m, name)
		if err != nil {
			drift(name, err)
			continue
		}
		if rel.IsToMany() || rel.Deferred || requiresPrefetch(target) {
			if spec, ok := prefetches[name]; ok {
				spec.Nested.merge(child)
			} else {
				prefetches[name] = &PrefetchSpec{Relation: name, Nested: child.Clone()}
			}
			continue
		}
		joins[name] = child.Clone()
	}
	for key, spec := range prefetches {
		if join, ok := joins[spec.Relation]; ok {
			join.merge(spec.Nested)
			delete(prefetches, key)
		}
	}
	return joins, prefetches
}

func (c *compiler) keyFields(m *model.Model, relation string) []string {
	rel, ok := m.Relation(relation)
	if !ok {
		return nil
	}
	return m.KeyFields(rel)
}

// hasBaseField reports whether name is stored on the model's own table.
func hasBaseField(m *model.Model, name string) bool {
	if _, ok := m.Field(name); ok {
		return true
	}
	if p := m.Polymorphism; p != nil && p.Strategy == model.TypeResolver {
		for _, st := range p.Subtypes {
			if _, ok := st.Field(name); ok {
				return true
			}
		}
	}
	return false
}
