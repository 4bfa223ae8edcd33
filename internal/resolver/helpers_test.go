package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/require"

	"gqlorm/internal/dbexec"
	"gqlorm/internal/model"
	"gqlorm/internal/optimizer"
	"gqlorm/internal/queryset"
	"gqlorm/internal/sqlutil"
	"gqlorm/internal/testutil/fixtures"
	"gqlorm/internal/testutil/sqlitedb"
)

type testServer struct {
	resolver *Resolver
	schema   graphql.Schema
	exec     *dbexec.CountingExecutor
}

// newTestServer builds a resolver over a freshly seeded tracker database.
func newTestServer(t *testing.T, optimize bool, opts ...func(*Config)) *testServer {
	t.Helper()
	db := sqlitedb.NewTestDB(t, fixtures.Schema, fixtures.Seed)
	exec := dbexec.NewCountingExecutor(dbexec.NewStandardExecutor(db)).Capture()
	gate, err := optimizer.NewGate(optimize)
	require.NoError(t, err)

	cfg := Config{
		Registry: fixtures.Registry(),
		Executor: exec,
		Dialect:  sqlutil.SQLite,
		Gate:     gate,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	r, err := New(cfg)
	require.NoError(t, err)
	schema, err := r.BuildGraphQLSchema()
	require.NoError(t, err)
	return &testServer{resolver: r, schema: schema, exec: exec}
}

func (s *testServer) run(query string, vars map[string]interface{}) *graphql.Result {
	s.exec.Reset()
	return graphql.Do(graphql.Params{
		Schema:         s.schema,
		RequestString:  query,
		VariableValues: vars,
		Context:        context.Background(),
	})
}

// do runs query and fails the test on any GraphQL error.
func (s *testServer) do(t *testing.T, query string, vars map[string]interface{}) map[string]interface{} {
	t.Helper()
	result := s.run(query, vars)
	require.Empty(t, result.Errors, "query returned errors")
	data, ok := result.Data.(map[string]interface{})
	require.True(t, ok, "expected object data, got %T", result.Data)
	return data
}

func withComputed(cfg *Config) {
	cfg.Computed = append(cfg.Computed,
		ComputedField{
			Type:      "OrderItem",
			Name:      "total",
			ValueType: model.TypeFloat,
			Only:      []string{"price", "quantity"},
			Resolve: func(ctx context.Context, row *queryset.Row) (any, error) {
				price, err := row.Value(ctx, "price")
				if err != nil {
					return nil, err
				}
				quantity, err := row.Value(ctx, "quantity")
				if err != nil {
					return nil, err
				}
				return price.(float64) * float64(quantity.(int64)), nil
			},
		},
		ComputedField{
			Type:       "OrderItem",
			Name:       "subtotal",
			ValueType:  model.TypeFloat,
			Expression: "{price} * {quantity}",
		},
	)
}

type fakeRecorder struct {
	mu      sync.Mutex
	plans   []string
	skipped []string
}

func (f *fakeRecorder) RecordPlan(_ context.Context, rootType string, _ *optimizer.FetchPlan, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans = append(f.plans, rootType)
}

func (f *fakeRecorder) RecordSkipped(_ context.Context, rootType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skipped = append(f.skipped, rootType)
}

func (f *fakeRecorder) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plans), len(f.skipped)
}
