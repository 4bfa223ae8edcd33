package optimizer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"gqlorm/internal/model"
	"gqlorm/internal/queryset"
)

// ArgumentApplier narrows a relation's base queryset with the field's
// arguments (filtering, ordering, pagination). The lazy resolution path must
// use the same applier so optimized and unoptimized results match.
type ArgumentApplier interface {
	Apply(qs queryset.QuerySet, args map[string]any, connection bool) (queryset.QuerySet, error)
}

const maxParallelWalkers = 8

type walker struct {
	ctx      context.Context
	schema   *Schema
	applier  ArgumentApplier
	report   *report
	parallel bool
}

// walkRoot walks the selections of a root field. With parallel walking
// enabled, sibling root selections are walked concurrently into separate
// stores which are merged in selection order.
func (w *walker) walkRoot(t *TypeMeta, sels []*Selection) (*HintStore, error) {
	if !w.parallel || len(sels) < 2 || t.IsPolymorphic() {
		return w.walkType(t, sels, ""), nil
	}
	stores := make([]*HintStore, len(sels))
	g, _ := errgroup.WithContext(w.ctx)
	g.SetLimit(maxParallelWalkers)
	for i, sel := range sels {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("walk %s: %v", sel.ResponseKey(), r)
				}
			}()
			store := NewHintStore()
			w.walkField(t, sel, store, "")
			stores[i] = store
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	root := NewHintStore()
	w.applyTypeHints(t, root, "")
	for _, s := range stores {
		root.merge(s)
	}
	return root, nil
}

// walkType walks a selection set against t and returns the collected hints.
func (w *walker) walkType(t *TypeMeta, sels []*Selection, path string) *HintStore {
	if t.IsPolymorphic() {
		return w.walkPolymorphic(t, sels, path)
	}
	store := NewHintStore()
	w.walkFields(t, sels, store, path)
	return store
}

func (w *walker) walkFields(t *TypeMeta, sels []*Selection, store *HintStore, path string) {
	w.applyTypeHints(t, store, path)
	for _, sel := range sels {
		w.walkField(t, sel, store, path)
	}
}

func (w *walker) walkField(t *TypeMeta, sel *Selection, store *HintStore, path string) {
	if strings.HasPrefix(sel.Name, "__") {
		return
	}
	if !t.Matches(sel.TypeCondition) {
		return
	}
	fieldPath := responsePath(path, sel.ResponseKey())
	f, ok := t.Field(sel.Name)
	if !ok {
		w.report.add(fieldPath, ReasonSchemaDrift, fmt.Sprintf("type %s has no field %s", t.Name, sel.Name))
		return
	}
	hints := f.Hints
	if hints != nil && hints.DisableOptimization {
		return
	}
	if hints == nil || !hints.DisableAutoOptimization {
		switch f.Kind {
		case ColumnField:
			store.AddOnly(f.Column)
		case RelationField:
			w.walkRelation(t, f, sel, store, fieldPath)
		}
	}
	if hints != nil {
		hc := HintContext{Context: w.ctx, Type: t, Field: f, Args: sel.Args, Path: fieldPath}
		w.applyDeclared(t.Model, hints, hc, store)
	}
}

func (w *walker) walkRelation(t *TypeMeta, f *FieldMeta, sel *Selection, store *HintStore, path string) {
	rel, target, err := w.schema.registry.Target(t.Model, f.Relation)
	if err != nil {
		w.report.add(path, ReasonSchemaDrift, err.Error())
		return
	}
	targetType, ok := w.schema.Type(f.Target)
	if !ok {
		w.report.add(path, ReasonSchemaDrift, fmt.Sprintf("unknown type %s", f.Target))
		return
	}
	children := sel.Children
	if f.Connection {
		children = UnwrapConnection(children)
	}

	store.AddOnly(t.Model.KeyFields(rel)...)
	if p := target.Polymorphism; p != nil && !p.SupportsSubclassFetch() && !p.SupportsTypeResolution() {
		w.report.add(path, ReasonPolymorphic,
			fmt.Sprintf("%s cannot be fetched by subtype with strategy %s", target.Name, p.Strategy))
		return
	}

	if !rel.IsToMany() && !rel.Deferred && !requiresPrefetch(target) {
		store.AddJoin(rel.Name, w.walkType(targetType, children, path))
		return
	}

	base, err := w.schema.BaseQuerySet(targetType.Name)
	if err == nil && rel.IsToMany() {
		base, err = w.applier.Apply(base, sel.Args, f.Connection)
	}
	if err != nil {
		w.report.add(path, ReasonArguments, err.Error())
		return
	}
	w.attachPrefetch(store, PrefetchKey(rel.Name, sel.Args, f.Connection), PrefetchSpec{
		Relation:     rel.Name,
		BaseQuerySet: &base,
		Nested:       w.walkType(targetType, children, path),
	}, path)
}

// applyTypeHints unions the hints declared on a type.
func (w *walker) applyTypeHints(t *TypeMeta, store *HintStore, path string) {
	if t.Hints == nil {
		return
	}
	w.applyDeclared(t.Model, t.Hints, HintContext{Context: w.ctx, Type: t, Path: path}, store)
}

func (w *walker) applyDeclared(m *model.Model, hints *FieldHints, hc HintContext, store *HintStore) {
	for _, p := range hints.Only {
		w.addOnlyPath(m, store, p, hc.Path)
	}
	for _, p := range hints.SelectRelated {
		w.addJoinPath(m, store, p, hc.Path)
	}
	for _, ph := range hints.PrefetchRelated {
		spec := PrefetchSpec{Relation: ph.Relation}
		if ph.Build != nil {
			built, err := ph.Build(hc)
			if err != nil {
				w.report.add(hc.Path, ReasonDeclaredHint, err.Error())
				continue
			}
			spec = built
			if spec.Relation == "" {
				spec.Relation = ph.Relation
			}
		}
		if _, ok := m.Relation(spec.Relation); !ok {
			w.report.add(hc.Path, ReasonSchemaDrift, fmt.Sprintf("%s has no relation %s", m.Name, spec.Relation))
			continue
		}
		w.attachPrefetch(store, spec.Relation, spec, hc.Path)
	}
	names := make([]string, 0, len(hints.Annotate))
	for name := range hints.Annotate {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w.attachAnnotation(store, name, hints.Annotate[name], hc.Path)
	}
}

// addOnlyPath records a declared field path such as "milestone__name",
// joining every relation on the way.
func (w *walker) addOnlyPath(m *model.Model, store *HintStore, fieldPath, path string) {
	segments := strings.Split(fieldPath, model.PathSeparator)
	current, cur := m, store
	for _, seg := range segments[:len(segments)-1] {
		rel, target, err := w.schema.registry.Target(current, seg)
		if err != nil {
			w.report.add(path, ReasonSchemaDrift, err.Error())
			return
		}
		cur.AddOnly(current.KeyFields(rel)...)
		current, cur = target, cur.joinStore(seg)
	}
	cur.AddOnly(segments[len(segments)-1])
}

func (w *walker) addJoinPath(m *model.Model, store *HintStore, relPath, path string) {
	current, cur := m, store
	for _, seg := range strings.Split(relPath, model.PathSeparator) {
		rel, target, err := w.schema.registry.Target(current, seg)
		if err != nil {
			w.report.add(path, ReasonSchemaDrift, err.Error())
			return
		}
		if cur.hasOnly {
			cur.AddOnly(current.KeyFields(rel)...)
		}
		current, cur = target, cur.joinStore(seg)
	}
}

// requiresPrefetch reports whether relations into target must be prefetched
// to fetch subtype data.
func requiresPrefetch(target *model.Model) bool {
	p := target.Polymorphism
	return p != nil && (p.SupportsSubclassFetch() || p.ForcePrefetch)
}

func responsePath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
