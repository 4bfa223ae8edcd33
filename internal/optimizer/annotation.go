package optimizer

import (
	"context"
	"errors"
	"fmt"

	"gqlorm/internal/model"
	"gqlorm/internal/queryset"
)

// AnnotationContext is handed to annotation factories at compile time.
type AnnotationContext struct {
	Context context.Context
	// Prefix is the relation path the annotation is compiled under, empty
	// at the root.
	Prefix string
	Model  *model.Model
}

// AnnotationFactory builds an expression for the relation level it is
// compiled at.
type AnnotationFactory func(AnnotationContext) (queryset.Expression, error)

// Annotation is either a literal expression or a factory resolved with the
// relation prefix during compilation.
type Annotation struct {
	literal queryset.Expression
	factory AnnotationFactory
	key     string
}

// Literal wraps an expression written relative to the annotated model.
func Literal(expr queryset.Expression) Annotation {
	return Annotation{literal: expr, key: "literal:" + expr.Key()}
}

// Factory wraps a factory. Two factory annotations are equal when their ids
// are.
func Factory(id string, f AnnotationFactory) Annotation {
	return Annotation{factory: f, key: "factory:" + id}
}

// IsFactory reports whether the annotation is resolved lazily.
func (a Annotation) IsFactory() bool { return a.factory != nil }

// Key identifies the annotation's expression.
func (a Annotation) Key() string { return a.key }

// Resolve returns the expression re-rooted at ac.Prefix.
func (a Annotation) Resolve(ac AnnotationContext) (queryset.Expression, error) {
	if a.factory != nil {
		expr, err := a.factory(ac)
		if err != nil {
			return nil, err
		}
		if expr == nil {
			return nil, fmt.Errorf("annotation factory %s returned no expression", a.key)
		}
		return expr, nil
	}
	if a.literal == nil {
		return nil, errors.New("empty annotation")
	}
	return a.literal.WithPrefix(ac.Prefix), nil
}
