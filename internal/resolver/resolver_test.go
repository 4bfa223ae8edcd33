package resolver

import (
	"testing"

	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gqlorm/internal/dbexec"
	"gqlorm/internal/optimizer"
	"gqlorm/internal/testutil/fixtures"
)

func TestNewRequiresRegistryAndExecutor(t *testing.T) {
	_, err := New(Config{Executor: dbexec.NewCountingExecutor(nil)})
	assert.Error(t, err)

	_, err = New(Config{Registry: fixtures.Registry()})
	assert.Error(t, err)
}

func TestBuildGraphQLSchemaShape(t *testing.T) {
	s := newTestServer(t, true)

	asset, ok := s.schema.Type("Asset").(*graphql.Interface)
	require.True(t, ok, "Asset should be an interface")
	assert.Contains(t, asset.Fields(), "name")
	assert.NotContains(t, asset.Fields(), "pages")

	document, ok := s.schema.Type("Document").(*graphql.Object)
	require.True(t, ok)
	assert.Contains(t, document.Fields(), "pages")
	require.Len(t, document.Interfaces(), 1)
	assert.Equal(t, "Asset", document.Interfaces()[0].Name())

	_, ok = s.schema.Type("Notification").(*graphql.Interface)
	assert.True(t, ok, "Notification should be an interface")

	issue, ok := s.schema.Type("Issue").(*graphql.Object)
	require.True(t, ok)
	for _, name := range []string{"title", "tags", "tagsCount", "tagsConnection", "notifications", "milestone"} {
		assert.Contains(t, issue.Fields(), name)
	}
	_, nonNull := issue.Fields()["milestone"].Type.(*graphql.NonNull)
	assert.False(t, nonNull, "to-one relations are nullable")

	issues := s.schema.QueryType().Fields()["issues"]
	require.NotNil(t, issues)
	var args []string
	for _, arg := range issues.Args {
		args = append(args, arg.Name())
	}
	assert.ElementsMatch(t, []string{"where", "orderBy", "limit", "offset"}, args)

	conn := s.schema.QueryType().Fields()["issuesConnection"]
	require.NotNil(t, conn)
	args = args[:0]
	for _, arg := range conn.Args {
		args = append(args, arg.Name())
	}
	assert.ElementsMatch(t, []string{"where", "orderBy", "first", "after"}, args)

	mutations := s.schema.MutationType().Fields()
	assert.Contains(t, mutations, "createIssue")
	assert.Contains(t, mutations, "updateIssue")
	assert.Contains(t, mutations, "deleteIssue")
	assert.NotContains(t, mutations, "createAsset")
	assert.NotContains(t, mutations, "createNotification")
}

func TestComputedFieldValidation(t *testing.T) {
	tests := []struct {
		name  string
		field ComputedField
	}{
		{
			name:  "neither expression nor resolver",
			field: ComputedField{Type: "OrderItem", Name: "total"},
		},
		{
			name: "shadows a column",
			field: ComputedField{
				Type:       "OrderItem",
				Name:       "price",
				Expression: "{price} * 2",
			},
		},
		{
			name: "unknown type",
			field: ComputedField{
				Type:       "Invoice",
				Name:       "total",
				Expression: "{price}",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, err := optimizer.NewGate(true)
			require.NoError(t, err)
			_, err = New(Config{
				Registry: fixtures.Registry(),
				Executor: dbexec.NewCountingExecutor(nil),
				Gate:     gate,
				Computed: []ComputedField{tt.field},
			})
			assert.Error(t, err)
		})
	}
}

func TestSplitHintKey(t *testing.T) {
	typeName, field := splitHintKey("Issue.title")
	assert.Equal(t, "Issue", typeName)
	assert.Equal(t, "title", field)

	typeName, field = splitHintKey("Issue")
	assert.Equal(t, "Issue", typeName)
	assert.Empty(t, field)
}
