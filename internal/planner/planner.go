// Package planner turns GraphQL field arguments (where, orderBy and
// pagination) into queryset refinements and plans mutation statements.
package planner

import (
	"fmt"

	"gqlorm/internal/model"
	"gqlorm/internal/queryset"
)

// DefaultMaxLimit bounds list and connection page sizes.
const DefaultMaxLimit = 1000

// SQLQuery is a rendered statement.
type SQLQuery struct {
	SQL  string
	Args []any
}

// Planner applies field arguments to querysets.
type Planner struct {
	registry *model.Registry
	maxLimit uint64
}

// Option configures a Planner.
type Option func(*Planner)

// WithMaxLimit overrides DefaultMaxLimit. Zero disables the bound.
func WithMaxLimit(n uint64) Option {
	return func(p *Planner) { p.maxLimit = n }
}

// New creates a planner over a model registry.
func New(registry *model.Registry, opts ...Option) *Planner {
	p := &Planner{registry: registry, maxLimit: DefaultMaxLimit}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply narrows qs with the filter, ordering and page window carried by
// args. Connection fields page with first/after and always request the total
// row count; list fields page with limit/offset.
//
// Apply is a pure function of its inputs so that the same arguments always
// yield the same queryset.
func (p *Planner) Apply(qs queryset.QuerySet, args map[string]any, connection bool) (queryset.QuerySet, error) {
	m := qs.Model()
	if m == nil {
		return qs, fmt.Errorf("queryset has no model")
	}

	if raw, ok := args["where"]; ok && raw != nil {
		where, ok := raw.(map[string]any)
		if !ok {
			return qs, fmt.Errorf("where must be an input object")
		}
		cond, err := BuildCondition(p.registry, m, where)
		if err != nil {
			return qs, err
		}
		if cond != nil {
			qs = qs.Filter(cond)
		}
	}

	order, err := ParseOrderBy(m, args)
	if err != nil {
		return qs, err
	}
	switch {
	case len(order) > 0:
		qs = qs.OrderBy(order...)
	case len(qs.Ordering()) == 0:
		// Unordered fetches are stable on the primary key so that joined,
		// prefetched and lazily loaded rows come back in the same order.
		var byKey []queryset.OrderExpr
		for _, pk := range m.PrimaryKeyNames() {
			byKey = append(byKey, queryset.OrderExpr{Path: pk})
		}
		qs = qs.OrderBy(byKey...)
	}

	window, err := p.parseWindow(m, order, args, connection)
	if err != nil {
		return qs, err
	}
	if window.limit != nil {
		qs = qs.Limit(*window.limit)
	}
	if window.offset > 0 {
		qs = qs.Offset(window.offset)
	}
	if connection {
		qs = qs.WithTotal()
	}
	return qs, nil
}
