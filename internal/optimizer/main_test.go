package optimizer

import (
	"context"
	"testing"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gqlorm/internal/planner"
	"gqlorm/internal/queryset"
	"gqlorm/internal/testutil/fixtures"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	schema *Schema
	opt    *Optimizer
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	reg := fixtures.Registry()
	schema, err := DeriveSchema(reg)
	require.NoError(t, err)
	gate, err := NewGate(true)
	require.NoError(t, err)
	return &testEnv{schema: schema, opt: New(schema, gate, planner.New(reg), opts...)}
}

func (e *testEnv) typeMeta(t *testing.T, name string) *TypeMeta {
	t.Helper()
	tm, ok := e.schema.Type(name)
	require.True(t, ok, "type %s", name)
	return tm
}

func (e *testEnv) baseQS(t *testing.T, typeName string) queryset.QuerySet {
	t.Helper()
	qs, err := e.schema.BaseQuerySet(typeName)
	require.NoError(t, err)
	return qs
}

// parseRoot parses a single-field operation and returns the root field AST
// and the fragment definitions.
func parseRoot(t *testing.T, query string) ([]*ast.Field, map[string]ast.Definition) {
	t.Helper()
	doc, err := parser.Parse(parser.ParseParams{Source: query})
	require.NoError(t, err)
	fragments := map[string]ast.Definition{}
	var root *ast.Field
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.OperationDefinition:
			f, ok := d.SelectionSet.Selections[0].(*ast.Field)
			require.True(t, ok)
			root = f
		case *ast.FragmentDefinition:
			fragments[d.Name.Value] = d
		}
	}
	require.NotNil(t, root)
	return []*ast.Field{root}, fragments
}

func selections(t *testing.T, query string, vars map[string]any) []*Selection {
	t.Helper()
	fields, fragments := parseRoot(t, query)
	return CollectSelections(fields, fragments, vars)
}

// walk runs the walker over the root selection of query.
func (e *testEnv) walk(t *testing.T, typeName, query string) (*HintStore, []Degradation) {
	t.Helper()
	rep := &report{}
	w := &walker{ctx: context.Background(), schema: e.schema, applier: e.opt.applier, report: rep}
	store, err := w.walkRoot(e.typeMeta(t, typeName), selections(t, query, nil))
	require.NoError(t, err)
	return store, rep.list()
}

// optimize runs OnBeforeResolve for a list root field.
func (e *testEnv) optimize(t *testing.T, typeName, query string, vars map[string]any) *ExecutionContext {
	t.Helper()
	fields, fragments := parseRoot(t, query)
	ec := &ExecutionContext{
		Context:   context.Background(),
		FieldASTs: fields,
		Fragments: fragments,
		Variables: vars,
		QuerySet:  e.baseQS(t, typeName),
	}
	require.NoError(t, e.opt.OnBeforeResolve(RootField{TypeName: typeName}, ec))
	return ec
}
