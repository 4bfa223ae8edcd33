package optimizer

import (
	"fmt"
	"reflect"
	"sort"

	"gqlorm/internal/queryset"
)

// HintStore accumulates fetch hints for one relation level: projected
// fields, to-one joins, prefetches and annotations. A store is built by one
// walk and is not safe for concurrent mutation; parallel walks build
// independent stores and merge them afterwards.
type HintStore struct {
	only        map[string]struct{}
	hasOnly     bool
	subtypeOnly map[string]map[string]struct{}
	joins       map[string]*HintStore
	prefetches  map[string]*PrefetchSpec
	annotations map[string]Annotation
	conflicts   map[string]struct{}
}

// PrefetchSpec describes one prefetch: the relation, the base queryset the
// nested hints are compiled onto, the nested hints and an optional custom
// fetch applied to the base queryset.
type PrefetchSpec struct {
	Relation     string
	BaseQuerySet *queryset.QuerySet
	Nested       *HintStore
	Fetch        *CustomFetch
}

// CustomFetch rewrites a prefetch's base queryset. Two custom fetches are the
// same only when they are the same pointer.
type CustomFetch struct {
	Name  string
	Apply func(queryset.QuerySet) queryset.QuerySet
}

// NewHintStore returns an empty store.
func NewHintStore() *HintStore {
	return &HintStore{}
}

// AddOnly records projected fields. Calling it with no fields still marks the
// store as restricted, which projects only key columns.
func (h *HintStore) AddOnly(fields ...string) *HintStore {
	h.hasOnly = true
	if h.only == nil {
		h.only = make(map[string]struct{}, len(fields))
	}
	for _, f := range fields {
		h.only[f] = struct{}{}
	}
	return h
}

// AddSubtypeOnly records fields that belong to one concrete subtype.
func (h *HintStore) AddSubtypeOnly(subtype string, fields ...string) *HintStore {
	if h.subtypeOnly == nil {
		h.subtypeOnly = map[string]map[string]struct{}{}
	}
	set, ok := h.subtypeOnly[subtype]
	if !ok {
		set = map[string]struct{}{}
		h.subtypeOnly[subtype] = set
	}
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return h
}

// AddJoin records a to-one join, merging nested hints into any existing entry.
func (h *HintStore) AddJoin(relation string, nested *HintStore) *HintStore {
	h.joinStore(relation).merge(nested)
	return h
}

// joinStore returns the nested store of a join, creating it when missing.
func (h *HintStore) joinStore(relation string) *HintStore {
	if h.joins == nil {
		h.joins = map[string]*HintStore{}
	}
	child, ok := h.joins[relation]
	if !ok {
		child = NewHintStore()
		h.joins[relation] = child
	}
	return child
}

// AddPrefetch records a prefetch under key, merging with an existing entry.
// When both entries carry a base queryset or custom fetch and they disagree,
// the existing one is kept and the key is marked as conflicting.
func (h *HintStore) AddPrefetch(key string, spec PrefetchSpec) *HintStore {
	if h.prefetches == nil {
		h.prefetches = map[string]*PrefetchSpec{}
	}
	existing, ok := h.prefetches[key]
	if !ok {
		h.prefetches[key] = spec.clone()
		return h
	}
	if existing.mergeFrom(&spec) {
		h.markConflict("prefetch:" + key)
	}
	return h
}

// AddAnnotation records an annotation. A second annotation with the same name
// but a different expression is dropped and marked as conflicting.
func (h *HintStore) AddAnnotation(name string, a Annotation) *HintStore {
	if h.annotations == nil {
		h.annotations = map[string]Annotation{}
	}
	existing, ok := h.annotations[name]
	if !ok {
		h.annotations[name] = a
		return h
	}
	if existing.Key() != a.Key() {
		h.markConflict("annotation:" + name)
	}
	return h
}

func (h *HintStore) markConflict(key string) {
	if h.conflicts == nil {
		h.conflicts = map[string]struct{}{}
	}
	h.conflicts[key] = struct{}{}
}

// Merge returns a new store holding the union of stores. Field, join,
// prefetch-key and annotation sets union; nested stores merge recursively;
// for base querysets and custom fetches the first non-nil value wins.
func Merge(stores ...*HintStore) *HintStore {
	out := NewHintStore()
	for _, s := range stores {
		out.merge(s)
	}
	return out
}

// merge folds other into h.
func (h *HintStore) merge(other *HintStore) {
	if other == nil {
		return
	}
	if other.hasOnly {
		h.AddOnly(keys(other.only)...)
	}
	for subtype, fields := range other.subtypeOnly {
		h.AddSubtypeOnly(subtype, keys(fields)...)
	}
	for name, child := range other.joins {
		h.joinStore(name).merge(child)
	}
	for key, spec := range other.prefetches {
		h.AddPrefetch(key, *spec)
	}
	for name, a := range other.annotations {
		h.AddAnnotation(name, a)
	}
	for key := range other.conflicts {
		h.markConflict(key)
	}
}

// Clone returns a deep copy.
func (h *HintStore) Clone() *HintStore {
	return Merge(h)
}

// IsEmpty reports whether no hints were collected.
func (h *HintStore) IsEmpty() bool {
	return h == nil || (!h.hasOnly && len(h.subtypeOnly) == 0 && len(h.joins) == 0 &&
		len(h.prefetches) == 0 && len(h.annotations) == 0)
}

// HasOnly reports whether the projection is restricted.
func (h *HintStore) HasOnly() bool { return h != nil && h.hasOnly }

// Only returns the projected fields, sorted.
func (h *HintStore) Only() []string { return keys(h.only) }

// SubtypeOnly returns subtype-qualified projected fields.
func (h *HintStore) SubtypeOnly() map[string][]string {
	if len(h.subtypeOnly) == 0 {
		return nil
	}
	out := make(map[string][]string, len(h.subtypeOnly))
	for subtype, fields := range h.subtypeOnly {
		out[subtype] = keys(fields)
		if out[subtype] == nil {
			out[subtype] = []string{}
		}
	}
	return out
}

// Joins returns the joined relation names, sorted.
func (h *HintStore) Joins() []string { return keys(h.joins) }

// Join returns the nested store of a join.
func (h *HintStore) Join(relation string) (*HintStore, bool) {
	child, ok := h.joins[relation]
	return child, ok
}

// PrefetchKeys returns the prefetch keys, sorted.
func (h *HintStore) PrefetchKeys() []string { return keys(h.prefetches) }

// Prefetch returns the prefetch stored under key.
func (h *HintStore) Prefetch(key string) (*PrefetchSpec, bool) {
	spec, ok := h.prefetches[key]
	return spec, ok
}

// AnnotationNames returns the annotation names, sorted.
func (h *HintStore) AnnotationNames() []string { return keys(h.annotations) }

// Annotation returns a named annotation.
func (h *HintStore) Annotation(name string) (Annotation, bool) {
	a, ok := h.annotations[name]
	return a, ok
}

// Conflicts returns the keys that were only partially merged, sorted.
func (h *HintStore) Conflicts() []string { return keys(h.conflicts) }

// Equal reports whether two stores hold the same hints.
func (h *HintStore) Equal(other *HintStore) bool {
	return reflect.DeepEqual(h.Snapshot(), other.Snapshot())
}

// Snapshot is a plain, comparable view of a store.
type Snapshot struct {
	HasOnly     bool
	Only        []string
	SubtypeOnly map[string][]string
	Joins       map[string]Snapshot
	Prefetches  map[string]PrefetchSnapshot
	Annotations map[string]string
	Conflicts   []string
}

// PrefetchSnapshot is the comparable view of a PrefetchSpec.
type PrefetchSnapshot struct {
	Relation     string
	BaseQuerySet *queryset.Description
	Fetch        string
	Nested       Snapshot
}

// Snapshot returns the comparable view of the store.
func (h *HintStore) Snapshot() Snapshot {
	if h == nil {
		return Snapshot{}
	}
	s := Snapshot{
		HasOnly:     h.hasOnly,
		Only:        h.Only(),
		SubtypeOnly: h.SubtypeOnly(),
		Conflicts:   h.Conflicts(),
	}
	if len(h.joins) > 0 {
		s.Joins = make(map[string]Snapshot, len(h.joins))
		for name, child := range h.joins {
			s.Joins[name] = child.Snapshot()
		}
	}
	if len(h.prefetches) > 0 {
		s.Prefetches = make(map[string]PrefetchSnapshot, len(h.prefetches))
		for key, spec := range h.prefetches {
			ps := PrefetchSnapshot{Relation: spec.Relation, Nested: spec.Nested.Snapshot()}
			if spec.BaseQuerySet != nil {
				d := spec.BaseQuerySet.Describe()
				ps.BaseQuerySet = &d
			}
			if spec.Fetch != nil {
				ps.Fetch = fmt.Sprintf("%s@%p", spec.Fetch.Name, spec.Fetch)
			}
			s.Prefetches[key] = ps
		}
	}
	if len(h.annotations) > 0 {
		s.Annotations = make(map[string]string, len(h.annotations))
		for name, a := range h.annotations {
			s.Annotations[name] = a.Key()
		}
	}
	return s
}

func (p *PrefetchSpec) clone() *PrefetchSpec {
	out := &PrefetchSpec{Relation: p.Relation, Fetch: p.Fetch, Nested: NewHintStore()}
	if p.BaseQuerySet != nil {
		base := *p.BaseQuerySet
		out.BaseQuerySet = &base
	}
	out.Nested.merge(p.Nested)
	return out
}

// mergeFrom folds other into p and reports whether the base queryset or the
// custom fetch disagreed.
func (p *PrefetchSpec) mergeFrom(other *PrefetchSpec) bool {
	if p.Nested == nil {
		p.Nested = NewHintStore()
	}
	p.Nested.merge(other.Nested)

	conflict := false
	switch {
	case other.BaseQuerySet == nil:
	case p.BaseQuerySet == nil:
		base := *other.BaseQuerySet
		p.BaseQuerySet = &base
	case !reflect.DeepEqual(p.BaseQuerySet.Describe(), other.BaseQuerySet.Describe()):
		conflict = true
	}
	switch {
	case other.Fetch == nil:
	case p.Fetch == nil:
		p.Fetch = other.Fetch
	case p.Fetch != other.Fetch:
		conflict = true
	}
	return conflict
}

func keys[V any](m map[string]V) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
