package resolver

import (
	"context"
	"errors"
	"fmt"

	"gqlorm/internal/queryset"
)

// ErrPermissionDenied is returned by FieldPermission implementations that
// refuse a field.
var ErrPermissionDenied = errors.New("permission denied")

// FieldPermission decides whether a field may be resolved for a row. It runs
// on every resolution, whether or not the row's data was fetched ahead of
// time. Row is nil for root fields, whose type is "Query".
type FieldPermission func(ctx context.Context, typeName, field string, row *queryset.Row) error

// DenyFields refuses every listed "Type.field".
func DenyFields(fields ...string) FieldPermission {
	denied := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		denied[f] = struct{}{}
	}
	return func(_ context.Context, typeName, field string, _ *queryset.Row) error {
		if _, ok := denied[typeName+"."+field]; ok {
			return fmt.Errorf("%w: %s.%s", ErrPermissionDenied, typeName, field)
		}
		return nil
	}
}

func (r *Resolver) authorize(ctx context.Context, typeName, field string, row *queryset.Row) error {
	if r.permission == nil {
		return nil
	}
	return r.permission(ctx, typeName, field, row)
}

// MutationPolicy decides which tables get create, update and delete fields
// and which columns their inputs expose.
type MutationPolicy interface {
	TableAllowed(table string) bool
	ColumnAllowed(table, column string) bool
}
