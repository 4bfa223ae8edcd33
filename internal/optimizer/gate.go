package optimizer

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidGate is returned when the gate setting is not a boolean.
var ErrInvalidGate = errors.New("optimizer gate must be a boolean")

// Gate is the global on/off switch for optimization.
type Gate struct {
	enabled bool
}

// NewGate builds a gate from a configuration value. Only booleans are
// accepted; strings such as "true" are rejected.
func NewGate(setting any) (Gate, error) {
	enabled, ok := setting.(bool)
	if !ok {
		return Gate{}, fmt.Errorf("%w: got %T", ErrInvalidGate, setting)
	}
	return Gate{enabled: enabled}, nil
}

// Enabled reports the global setting.
func (g Gate) Enabled() bool { return g.enabled }

// FieldContext identifies the field a gate decision is made for.
type FieldContext struct {
	Context context.Context
	Field   *FieldMeta
}

// IsOptimizationEnabled reports whether fc may be optimized. The global
// setting, per-field opt-out and a per-request bypass all close the gate.
func (g Gate) IsOptimizationEnabled(fc FieldContext) bool {
	if !g.enabled {
		return false
	}
	if fc.Field != nil && fc.Field.Hints != nil && fc.Field.Hints.DisableOptimization {
		return false
	}
	if fc.Context != nil && IsBypassed(fc.Context) {
		return false
	}
	return true
}

type bypassKey struct{}

// WithoutOptimization marks ctx so no optimization runs under it. Mutation
// resolvers perform their writes under it.
func WithoutOptimization(ctx context.Context) context.Context {
	return context.WithValue(ctx, bypassKey{}, true)
}

// IsBypassed reports whether WithoutOptimization marked ctx.
func IsBypassed(ctx context.Context) bool {
	v, _ := ctx.Value(bypassKey{}).(bool)
	return v
}
