package resolver

import (
	"context"
	"sync"

	"gqlorm/internal/dbexec"
)

type mutationContextKey struct{}

// MutationContext holds the transaction every root field of one mutation
// operation writes through. Any failed field rolls the whole operation back.
type MutationContext struct {
	tx dbexec.TxExecutor

	mu        sync.Mutex
	failed    bool
	finalized bool
}

// NewMutationContext wraps an open transaction.
func NewMutationContext(tx dbexec.TxExecutor) *MutationContext {
	return &MutationContext{tx: tx}
}

// Tx returns the operation's transaction.
func (mc *MutationContext) Tx() dbexec.TxExecutor {
	return mc.tx
}

// MarkError makes Finalize roll back.
func (mc *MutationContext) MarkError() {
	mc.mu.Lock()
	mc.failed = true
	mc.mu.Unlock()
}

// Failed reports whether MarkError was called.
func (mc *MutationContext) Failed() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.failed
}

// Finalize commits, or rolls back after MarkError. Only the first call has
// an effect. The lock is held throughout so a concurrent MarkError cannot
// slip in between the check and the commit.
func (mc *MutationContext) Finalize() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.finalized {
		return nil
	}
	mc.finalized = true
	if mc.failed {
		return mc.tx.Rollback()
	}
	return mc.tx.Commit()
}

// WithMutationContext stores mc on ctx.
func WithMutationContext(ctx context.Context, mc *MutationContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, mutationContextKey{}, mc)
}

// MutationContextFromContext returns the mutation context, or nil outside a
// transactional mutation.
func MutationContextFromContext(ctx context.Context) *MutationContext {
	if ctx == nil {
		return nil
	}
	mc, _ := ctx.Value(mutationContextKey{}).(*MutationContext)
	return mc
}

// markMutationFailed flags the request's transaction for rollback when err
// is set.
func markMutationFailed(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if mc := MutationContextFromContext(ctx); mc != nil {
		mc.MarkError()
	}
}
