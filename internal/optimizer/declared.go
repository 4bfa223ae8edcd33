package optimizer

import (
	"context"
)

// FieldHints are optimization hints declared on a field or type. They are
// unioned with the hints the walker derives from the selection.
type FieldHints struct {
	// Only lists field paths, relative to the owning model, to fetch.
	Only []string
	// SelectRelated lists to-one relation paths to join.
	SelectRelated []string
	// PrefetchRelated lists relations to prefetch.
	PrefetchRelated []PrefetchHint
	// Annotate maps annotation names to expressions.
	Annotate map[string]Annotation
	// DisableOptimization skips the field entirely.
	DisableOptimization bool
	// DisableAutoOptimization keeps the declared hints but stops the walker
	// from deriving hints for the field.
	DisableAutoOptimization bool
}

// PrefetchHint is a declared prefetch: either a bare relation name or a
// builder receiving the field's context.
type PrefetchHint struct {
	Relation string
	Build    func(HintContext) (PrefetchSpec, error)
}

// HintContext is passed to declared prefetch builders.
type HintContext struct {
	Context context.Context
	Type    *TypeMeta
	Field   *FieldMeta
	Args    map[string]any
	// Path is the response path of the field ("issues.milestone").
	Path string
}
