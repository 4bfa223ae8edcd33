package dbexec

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
)

// CountingExecutor counts the statements issued through an executor. One is
// created per request so the number of round-trips can be reported.
type CountingExecutor struct {
	next    QueryExecutor
	queries atomic.Int64
	execs   atomic.Int64

	mu       sync.Mutex
	record   bool
	captured []string
}

// NewCountingExecutor wraps next.
func NewCountingExecutor(next QueryExecutor) *CountingExecutor {
	return &CountingExecutor{next: next}
}

// Capture keeps the text of every query for inspection.
func (c *CountingExecutor) Capture() *CountingExecutor {
	c.mu.Lock()
	c.record = true
	c.mu.Unlock()
	return c
}

func (c *CountingExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	c.queries.Add(1)
	c.capture(query)
	return c.next.QueryContext(ctx, query, args...)
}

func (c *CountingExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.execs.Add(1)
	c.capture(query)
	return c.next.ExecContext(ctx, query, args...)
}

// Queries returns the number of read statements issued.
func (c *CountingExecutor) Queries() int64 { return c.queries.Load() }

// Execs returns the number of write statements issued.
func (c *CountingExecutor) Execs() int64 { return c.execs.Load() }

// Captured returns the recorded statements in issue order.
func (c *CountingExecutor) Captured() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.captured...)
}

// Reset zeroes the counters and drops captured statements.
func (c *CountingExecutor) Reset() {
	c.queries.Store(0)
	c.execs.Store(0)
	c.mu.Lock()
	c.captured = nil
	c.mu.Unlock()
}

func (c *CountingExecutor) capture(query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record {
		c.captured = append(c.captured, query)
	}
}
