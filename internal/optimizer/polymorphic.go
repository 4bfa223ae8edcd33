package optimizer

import (
	"fmt"
	"slices"
	"sort"
)

// walkPolymorphic walks a selection set on an interface type. Selections
// are grouped by fragment type condition; each subtype group is walked on
// its own and its fields are split into base fields, shared by all rows,
// and subtype fields, fetched per subtype.
func (w *walker) walkPolymorphic(t *TypeMeta, sels []*Selection, path string) *HintStore {
	store := NewHintStore()
	p := t.Model.Polymorphism
	if p == nil || (!p.SupportsSubclassFetch() && !p.SupportsTypeResolution()) {
		w.report.add(path, ReasonPolymorphic, fmt.Sprintf("%s has no bulk subtype fetch", t.Name))
		return store
	}

	var common []*Selection
	bySubtype := map[string][]*Selection{}
	for _, sel := range sels {
		switch {
		case t.Matches(sel.TypeCondition):
			common = append(common, sel)
		case slices.Contains(t.Subtypes, sel.TypeCondition):
			bySubtype[sel.TypeCondition] = append(bySubtype[sel.TypeCondition], sel)
		default:
			w.report.add(responsePath(path, sel.ResponseKey()), ReasonSchemaDrift,
				fmt.Sprintf("%s does not implement %s", sel.TypeCondition, t.Name))
		}
	}

	w.walkFields(t, common, store, path)

	names := make([]string, 0, len(bySubtype))
	for name := range bySubtype {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		subtype, ok := w.schema.Type(name)
		if !ok {
			w.report.add(path, ReasonSchemaDrift, fmt.Sprintf("unknown type %s", name))
			continue
		}
		sub := NewHintStore()
		w.walkFields(subtype, bySubtype[name], sub, path)
		w.mergeSubtype(t, store, subtype.Subtype, sub)
	}
	return store
}

// mergeSubtype folds a subtype's hints into the interface store, moving
// fields that are not on the base model into the subtype projection.
func (w *walker) mergeSubtype(t *TypeMeta, store *HintStore, subtype string, sub *HintStore) {
	var base, own []string
	for _, f := range sub.Only() {
		if _, ok := t.Model.Field(f); ok {
			base = append(base, f)
		} else {
			own = append(own, f)
		}
	}
	if sub.hasOnly {
		store.AddOnly(base...)
	}
	store.AddSubtypeOnly(subtype, own...)
	sub.only, sub.hasOnly = nil, false
	store.merge(sub)
}
