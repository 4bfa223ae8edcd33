package optimizer

import (
	"sync"
)

// DegradationReason says why part of a query was left unoptimized.
type DegradationReason string

const (
	ReasonSchemaDrift  DegradationReason = "schema_drift"
	ReasonConflict     DegradationReason = "conflicting_hints"
	ReasonPolymorphic  DegradationReason = "polymorphic_capability"
	ReasonArguments    DegradationReason = "invalid_arguments"
	ReasonAnnotation   DegradationReason = "annotation"
	ReasonDeclaredHint DegradationReason = "declared_hint"
	ReasonInternal     DegradationReason = "internal"
)

// Degradation records one part of a query that falls back to lazy loading.
// Results stay correct; the part may cost extra queries.
type Degradation struct {
	// Path is the response path of the affected field.
	Path   string
	Reason DegradationReason
	Detail string
}

// report collects degradations from concurrent walkers.
type report struct {
	mu      sync.Mutex
	entries []Degradation
}

func (r *report) add(path string, reason DegradationReason, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Degradation{Path: path, Reason: reason, Detail: detail})
}

func (r *report) list() []Degradation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Degradation(nil), r.entries...)
}
