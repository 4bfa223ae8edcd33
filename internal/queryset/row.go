package queryset

import (
	"context"
	"fmt"
	"sync"

	"gqlorm/internal/model"
)

// Page is a list of rows plus the unpaginated total when it was requested.
type Page struct {
	Rows     []*Row
	Total    int64
	HasTotal bool
	Offset   uint64
}

// Row is one fetched model instance. Values that were not fetched ahead of
// time are loaded on first access with one query per row.
type Row struct {
	mu          sync.Mutex
	session     *Session
	registry    *model.Registry
	model       *model.Model
	subtype     string
	values      map[string]any
	loaded      map[string]bool
	annotations map[string]any
	related     map[string]*Row
	prefetched  map[string]*Page
}

func newRow(s *Session, reg *model.Registry, m *model.Model) *Row {
	return &Row{
		session:     s,
		registry:    reg,
		model:       m,
		values:      map[string]any{},
		loaded:      map[string]bool{},
		annotations: map[string]any{},
		related:     map[string]*Row{},
		prefetched:  map[string]*Page{},
	}
}

// Model returns the row's model.
func (r *Row) Model() *model.Model { return r.model }

// TypeName returns the concrete subtype name for polymorphic rows and the
// model name otherwise.
func (r *Row) TypeName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subtype != "" {
		return r.subtype
	}
	return r.model.Name
}

// Subtype returns the concrete subtype, or "" for non-polymorphic rows.
func (r *Row) Subtype() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subtype
}

// Has reports whether a field value was fetched.
func (r *Row) Has(field string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded[field]
}

// Values returns a copy of the fetched field values.
func (r *Row) Values() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// PrimaryKey returns the primary key values.
func (r *Row) PrimaryKey() ([]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pk := r.model.PrimaryKey()
	out := make([]any, len(pk))
	for i, f := range pk {
		v, ok := r.values[f.Name]
		if !ok || v == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, r.model.Name)
		}
		out[i] = v
	}
	return out, nil
}

// Value returns a field value, loading it when it was not fetched.
func (r *Row) Value(ctx context.Context, field string) (any, error) {
	r.mu.Lock()
	if r.loaded[field] {
		v := r.values[field]
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	if _, ok := lookupField(r.model, field); ok {
		if err := r.session.reload(ctx, r); err != nil {
			return nil, err
		}
	} else if st, ok := r.subtypeDef(); ok {
		if _, ok := st.Field(field); !ok {
			return nil, fmt.Errorf("%w: %s.%s", model.ErrUnknownField, st.Name, field)
		}
		if err := r.session.fetchSubclass(ctx, r.model, st, nil, []*Row{r}); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("%w: %s.%s", model.ErrUnknownField, r.model.Name, field)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[field], nil
}

// Annotation returns an annotated value. When the value was not fetched
// ahead of time, expr is evaluated for this row alone.
func (r *Row) Annotation(ctx context.Context, name string, expr Expression) (any, error) {
	r.mu.Lock()
	if v, ok := r.annotations[name]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()
	if expr == nil {
		return nil, fmt.Errorf("annotation %s was not fetched", name)
	}
	v, err := r.session.annotate(ctx, r, name, expr)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.annotations[name] = v
	r.mu.Unlock()
	return v, nil
}

// HasAnnotation reports whether an annotation was fetched.
func (r *Row) HasAnnotation(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.annotations[name]
	return ok
}

// Related returns a to-one related row, loading it when it was neither
// joined nor prefetched. A nil row means the relation is empty.
func (r *Row) Related(ctx context.Context, relation string) (*Row, error) {
	return r.RelatedFrom(ctx, relation, nil)
}

// RelatedFrom is Related with the target loaded through qs when it is not
// cached, so a filtered target resolves to nil.
func (r *Row) RelatedFrom(ctx context.Context, relation string, qs *QuerySet) (*Row, error) {
	r.mu.Lock()
	if rel, ok := r.related[relation]; ok {
		r.mu.Unlock()
		return rel, nil
	}
	r.mu.Unlock()
	if err := r.session.prefetch(ctx, r.model, []*Row{r}, Prefetch{Path: relation, QuerySet: qs}); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.related[relation], nil
}

// IsRelatedLoaded reports whether a to-one relation was joined or prefetched.
func (r *Row) IsRelatedLoaded(relation string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.related[relation]
	return ok
}

// Prefetched returns the rows cached under a prefetch key.
func (r *Row) Prefetched(key string) (*Page, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	page, ok := r.prefetched[key]
	return page, ok
}

// Children returns the to-many rows cached under key, or runs qs for this
// row alone when they were not prefetched.
func (r *Row) Children(ctx context.Context, key, relation string, qs QuerySet) (*Page, error) {
	if page, ok := r.Prefetched(key); ok {
		return page, nil
	}
	if err := r.session.prefetch(ctx, r.model, []*Row{r}, Prefetch{Path: relation, ToAttr: key, QuerySet: &qs}); err != nil {
		return nil, err
	}
	page, _ := r.Prefetched(key)
	if page == nil {
		page = &Page{}
	}
	return page, nil
}

func (r *Row) subtypeDef() (model.Subtype, bool) {
	p := r.model.Polymorphism
	if p == nil {
		return model.Subtype{}, false
	}
	return p.Subtype(r.Subtype())
}

func (r *Row) setValue(field string, v any) {
	r.values[field] = v
	r.loaded[field] = true
}

func (r *Row) setRelated(name string, related *Row) {
	r.mu.Lock()
	r.related[name] = related
	r.mu.Unlock()
}

func (r *Row) setPrefetched(key string, page *Page) {
	r.mu.Lock()
	r.prefetched[key] = page
	r.mu.Unlock()
}

// keyValues returns the values of fields, loading missing ones. ok is false
// when any value is NULL.
func (r *Row) keyValues(ctx context.Context, fields []string) ([]any, bool, error) {
	out := make([]any, len(fields))
	for i, name := range fields {
		v, err := r.Value(ctx, name)
		if err != nil {
			return nil, false, err
		}
		if v == nil {
			return nil, false, nil
		}
		out[i] = v
	}
	return out, true, nil
}

func (r *Row) resolveSubtype() {
	p := r.model.Polymorphism
	if p == nil {
		return
	}
	r.subtype = p.SubtypeFor(r.values)
}
