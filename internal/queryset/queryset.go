// Package queryset implements lazy, immutable query descriptions over the
// relational models and their evaluation against a database.
//
// A QuerySet describes what to fetch: filters, ordering, a page window,
// column projection, to-one joins, to-many prefetches, annotations and
// polymorphic subclass fetches. Nothing touches the database until
// Evaluate or Fetch is called. Values a QuerySet did not fetch ahead of time
// are loaded lazily, one query per row, when they are read from a Row.
package queryset

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gqlorm/internal/model"
)

// ErrNoPrimaryKey is returned when a row has no primary key values.
var ErrNoPrimaryKey = errors.New("row has no primary key value")

// OrderExpr orders by a field path ("title", "milestone__name") or an
// annotation name.
type OrderExpr struct {
	Path string
	Desc bool
}

func (o OrderExpr) String() string {
	if o.Desc {
		return o.Path + " DESC"
	}
	return o.Path + " ASC"
}

// Prefetch fetches a relation with a separate query and caches the result on
// each owning row under ToAttr.
type Prefetch struct {
	// Path is the relation path from the queryset's model. All but the last
	// segment must be joined relations.
	Path string
	// ToAttr is the cache key. Defaults to the last path segment.
	ToAttr string
	// QuerySet is the base queryset for the target model. Nil fetches every row.
	QuerySet *QuerySet
}

func (p Prefetch) key() string {
	owner, _ := splitPath(p.Path)
	attr := p.ToAttr
	if attr == "" {
		_, attr = splitPath(p.Path)
	}
	if owner == "" {
		return attr
	}
	return owner + model.PathSeparator + attr
}

// Annotation attaches a computed expression under a name.
type Annotation struct {
	Name string
	Expr Expression
}

// QuerySet is an immutable query description. Every method returns a copy.
type QuerySet struct {
	registry    *model.Registry
	model       *model.Model
	filters     []Condition
	order       []OrderExpr
	limit       *uint64
	offset      uint64
	only        []string
	joins       []string
	prefetches  []Prefetch
	annotations []Annotation
	subclasses  map[string][]string
	withTotal   bool
}

// New returns a queryset over every row of the named model.
func New(registry *model.Registry, modelName string) (QuerySet, error) {
	m, err := registry.Model(modelName)
	if err != nil {
		return QuerySet{}, err
	}
	return For(registry, m), nil
}

// For returns a queryset over every row of m.
func For(registry *model.Registry, m *model.Model) QuerySet {
	return QuerySet{registry: registry, model: m}
}

// Model returns the queried model.
func (qs QuerySet) Model() *model.Model { return qs.model }

// Registry returns the model registry the queryset resolves relations in.
func (qs QuerySet) Registry() *model.Registry { return qs.registry }

func (qs QuerySet) clone() QuerySet {
	out := qs
	out.filters = append([]Condition(nil), qs.filters...)
	out.order = append([]OrderExpr(nil), qs.order...)
	out.only = append([]string(nil), qs.only...)
	out.joins = append([]string(nil), qs.joins...)
	out.prefetches = append([]Prefetch(nil), qs.prefetches...)
	out.annotations = append([]Annotation(nil), qs.annotations...)
	if qs.limit != nil {
		limit := *qs.limit
		out.limit = &limit
	}
	if qs.subclasses != nil {
		out.subclasses = make(map[string][]string, len(qs.subclasses))
		for k, v := range qs.subclasses {
			out.subclasses[k] = append([]string(nil), v...)
		}
	}
	return out
}

// Filter narrows the queryset with every condition.
func (qs QuerySet) Filter(conds ...Condition) QuerySet {
	out := qs.clone()
	for _, c := range conds {
		if c != nil {
			out.filters = append(out.filters, c)
		}
	}
	return out
}

// OrderBy replaces the ordering.
func (qs QuerySet) OrderBy(order ...OrderExpr) QuerySet {
	out := qs.clone()
	out.order = append([]OrderExpr(nil), order...)
	return out
}

// Limit caps the number of rows. Prefetched querysets apply it per parent.
func (qs QuerySet) Limit(n uint64) QuerySet {
	out := qs.clone()
	out.limit = &n
	return out
}

// Offset skips rows. Prefetched querysets apply it per parent.
func (qs QuerySet) Offset(n uint64) QuerySet {
	out := qs.clone()
	out.offset = n
	return out
}

// WithTotal asks for the unpaginated row count alongside the rows.
func (qs QuerySet) WithTotal() QuerySet {
	out := qs.clone()
	out.withTotal = true
	return out
}

// Only restricts the fetched columns. Entries are field paths relative to
// the model ("title", "milestone__name") or annotation names. A relation
// path with no entries keeps all of its columns. Primary keys and relation
// keys are always fetched. Repeated calls union.
func (qs QuerySet) Only(fields ...string) QuerySet {
	out := qs.clone()
	out.only = appendUnique(out.only, fields...)
	return out
}

// Deferred reports whether the root projection is restricted.
func (qs QuerySet) Deferred() bool {
	for _, f := range qs.only {
		if !strings.Contains(f, model.PathSeparator) {
			return true
		}
	}
	return false
}

// SelectRelated joins to-one relation paths into the main query.
func (qs QuerySet) SelectRelated(paths ...string) QuerySet {
	out := qs.clone()
	for _, p := range paths {
		parts := strings.Split(p, model.PathSeparator)
		for i := range parts {
			out.joins = appendUnique(out.joins, strings.Join(parts[:i+1], model.PathSeparator))
		}
	}
	return out
}

// PrefetchRelated adds prefetches. A prefetch with the same cache key as an
// existing one replaces it.
func (qs QuerySet) PrefetchRelated(prefetches ...Prefetch) QuerySet {
	out := qs.clone()
	for _, p := range prefetches {
		replaced := false
		for i, existing := range out.prefetches {
			if existing.key() == p.key() {
				out.prefetches[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			out.prefetches = append(out.prefetches, p)
		}
	}
	return out
}

// Annotate adds named expressions. Re-annotating a name replaces it.
func (qs QuerySet) Annotate(annotations ...Annotation) QuerySet {
	out := qs.clone()
	for _, a := range annotations {
		replaced := false
		for i, existing := range out.annotations {
			if existing.Name == a.Name {
				out.annotations[i] = a
				replaced = true
				break
			}
		}
		if !replaced {
			out.annotations = append(out.annotations, a)
		}
	}
	return out
}

// SupportsSubclassFetch reports whether rows can be tagged with their concrete
// subtype and completed from subclass tables in bulk.
func (qs QuerySet) SupportsSubclassFetch() bool {
	return qs.model != nil && qs.model.Polymorphism.SupportsSubclassFetch()
}

// WithSubclasses fetches subtype columns for the listed subtypes. A nil
// field list fetches every column of that subtype.
func (qs QuerySet) WithSubclasses(fields map[string][]string) QuerySet {
	out := qs.clone()
	if out.subclasses == nil {
		out.subclasses = make(map[string][]string, len(fields))
	}
	for subtype, names := range fields {
		existing, ok := out.subclasses[subtype]
		switch {
		case ok && (existing == nil || names == nil):
			out.subclasses[subtype] = nil
		case ok:
			out.subclasses[subtype] = appendUnique(existing, names...)
		default:
			out.subclasses[subtype] = append([]string(nil), names...)
		}
	}
	return out
}

// Joins returns the joined relation paths.
func (qs QuerySet) Joins() []string { return append([]string(nil), qs.joins...) }

// Prefetches returns the prefetch directives.
func (qs QuerySet) Prefetches() []Prefetch { return append([]Prefetch(nil), qs.prefetches...) }

// Annotations returns the annotations.
func (qs QuerySet) Annotations() []Annotation { return append([]Annotation(nil), qs.annotations...) }

// OnlyFields returns the projection entries.
func (qs QuerySet) OnlyFields() []string { return append([]string(nil), qs.only...) }

// Ordering returns the explicit ordering.
func (qs QuerySet) Ordering() []OrderExpr { return append([]OrderExpr(nil), qs.order...) }

// Paginated reports whether a limit or offset is set.
func (qs QuerySet) Paginated() bool { return qs.limit != nil || qs.offset > 0 }

// Description is a canonical, comparable summary of a queryset.
type Description struct {
	Model       string
	Filters     []string
	Order       []string
	Limit       string
	Offset      uint64
	Only        []string
	Joins       []string
	Prefetches  []PrefetchDescription
	Annotations []string
	Subclasses  []string
	WithTotal   bool
}

// PrefetchDescription summarizes one prefetch.
type PrefetchDescription struct {
	Key      string
	Path     string
	QuerySet *Description
}

// Describe returns the canonical description.
func (qs QuerySet) Describe() Description {
	d := Description{Offset: qs.offset, WithTotal: qs.withTotal}
	if qs.model != nil {
		d.Model = qs.model.Name
	}
	for _, f := range qs.filters {
		d.Filters = append(d.Filters, f.Key())
	}
	for _, o := range qs.order {
		d.Order = append(d.Order, o.String())
	}
	if qs.limit != nil {
		d.Limit = fmt.Sprint(*qs.limit)
	}
	d.Only = sortedCopy(qs.only)
	d.Joins = sortedCopy(qs.joins)
	for _, p := range qs.prefetches {
		pd := PrefetchDescription{Key: p.key(), Path: p.Path}
		if p.QuerySet != nil {
			nested := p.QuerySet.Describe()
			pd.QuerySet = &nested
		}
		d.Prefetches = append(d.Prefetches, pd)
	}
	sort.Slice(d.Prefetches, func(i, j int) bool { return d.Prefetches[i].Key < d.Prefetches[j].Key })
	for _, a := range qs.annotations {
		d.Annotations = append(d.Annotations, a.Name+"="+a.Expr.Key())
	}
	sort.Strings(d.Annotations)
	for subtype, fields := range qs.subclasses {
		if fields == nil {
			d.Subclasses = append(d.Subclasses, subtype+":*")
			continue
		}
		d.Subclasses = append(d.Subclasses, subtype+":"+strings.Join(sortedCopy(fields), ","))
	}
	sort.Strings(d.Subclasses)
	return d
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range list {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}

func sortedCopy(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}

// splitPath splits "a__b__c" into ("a__b", "c").
func splitPath(path string) (string, string) {
	idx := strings.LastIndex(path, model.PathSeparator)
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+len(model.PathSeparator):]
}

// JoinPath joins relation path segments, skipping empty ones.
func JoinPath(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, model.PathSeparator)
}
