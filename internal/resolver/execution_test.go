package resolver

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gqlorm/internal/optimizer"
	"gqlorm/internal/queryset"
	"gqlorm/internal/testutil/fixtures"
)

func TestOptimizedResultsMatchUnoptimized(t *testing.T) {
	tests := []struct {
		name  string
		query string
		vars  map[string]interface{}
	}{
		{
			name:  "nested lists",
			query: `{ milestones { name issues { title tags { name } } } }`,
		},
		{
			name: "aliases and fragments",
			query: `{
				projects {
					id
					a: milestones { name }
					b: milestones { id dueDate }
					...ProjectIssues
				}
			}
			fragment ProjectIssues on Project { milestones { issues { title closed } } }`,
		},
		{
			name: "relation arguments",
			query: `{
				milestones {
					open: issues(where: {closed: {eq: false}}, orderBy: [{priority: DESC}], limit: 2) { title priority }
					all: issues { id }
				}
			}`,
		},
		{
			name: "subclass tables",
			query: `{
				projects { name assets { __typename name ... on Document { pages } ... on Image { width height } } }
				assets { __typename id ... on Document { pages } }
			}`,
		},
		{
			name: "type resolver",
			query: `{
				issues {
					title
					notifications {
						__typename
						subject
						... on EmailNotification { email }
						... on SmsNotification { phone }
					}
				}
			}`,
		},
		{
			name: "connections",
			query: `{
				milestonesConnection(first: 2) {
					totalCount
					pageInfo { hasNextPage hasPreviousPage endCursor }
					edges {
						cursor
						node {
							name
							issuesConnection(first: 1, orderBy: [{priority: ASC}]) {
								totalCount
								pageInfo { hasNextPage endCursor }
								nodes { title }
							}
						}
					}
				}
			}`,
		},
		{
			name:  "counts and to-one relations",
			query: `{ milestones { name issuesCount project { name milestonesCount } } }`,
		},
		{
			name: "variables",
			query: `query Urgent($p: Int!) {
				issues(where: {priority: {lte: $p}}) { title milestone { name project { name } } }
			}`,
			vars: map[string]interface{}{"p": 2},
		},
		{
			name:  "computed fields",
			query: `{ orders { customer items { total subtotal } } }`,
		},
		{
			name:  "many to many",
			query: `{ tags { name issues(orderBy: [{title: ASC}]) { title milestone { name } } } }`,
		},
		{
			name:  "relation filters",
			query: `{ projects(where: {milestones: {some: {issues: {some: {closed: {eq: true}}}}}}) { name } }`,
		},
	}

	optimized := newTestServer(t, true, withComputed)
	plain := newTestServer(t, false, withComputed)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := plain.do(t, tt.query, tt.vars)
			got := optimized.do(t, tt.query, tt.vars)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("optimized result differs (-unoptimized +optimized):\n%s", diff)
			}
		})
	}
}

func TestOptimizerRemovesPerRowQueries(t *testing.T) {
	query := `{ milestones { issues { title } } }`

	plain := newTestServer(t, false)
	plain.do(t, query, nil)
	// One query for the milestones, then one per milestone.
	assert.Equal(t, int64(4), plain.exec.Queries())

	optimized := newTestServer(t, true)
	optimized.do(t, query, nil)
	assert.Equal(t, int64(2), optimized.exec.Queries())
}

func TestAliasedRelationIsFetchedOnce(t *testing.T) {
	s := newTestServer(t, true)

	s.do(t, `{ projects { milestones { name } } }`, nil)
	single := s.exec.Queries()

	data := s.do(t, `{ projects { a: milestones { name } b: milestones { name } } }`, nil)
	assert.Equal(t, single, s.exec.Queries())
	assert.Equal(t, int64(2), s.exec.Queries())

	projects := data["projects"].([]interface{})
	first := projects[0].(map[string]interface{})
	assert.Equal(t, first["a"], first["b"])
	assert.Len(t, first["a"], 2)
}

func TestComputedFieldFetchesOnlyDeclaredColumns(t *testing.T) {
	s := newTestServer(t, true, withComputed)
	data := s.do(t, `{ orderItems { total } }`, nil)

	assert.Equal(t, []interface{}{
		map[string]interface{}{"total": 10.0},
		map[string]interface{}{"total": 10.0},
		map[string]interface{}{"total": 14.5},
	}, data["orderItems"])
	require.Equal(t, int64(1), s.exec.Queries())

	sql := s.exec.Captured()[0]
	assert.Contains(t, sql, "`price`")
	assert.Contains(t, sql, "`quantity`")
	assert.NotContains(t, sql, "`note`")
	assert.NotContains(t, sql, "`order_id`")

	plain := newTestServer(t, false, withComputed)
	plain.do(t, `{ orderItems { total } }`, nil)
	assert.Contains(t, plain.exec.Captured()[0], "`note`")
}

func TestCountFieldIsAnnotated(t *testing.T) {
	s := newTestServer(t, true)
	data := s.do(t, `{ milestones { name issuesCount } }`, nil)

	assert.Equal(t, []interface{}{
		map[string]interface{}{"name": "Alpha", "issuesCount": 3},
		map[string]interface{}{"name": "Beta", "issuesCount": 1},
		map[string]interface{}{"name": "GA", "issuesCount": 1},
	}, data["milestones"])
	assert.Equal(t, int64(1), s.exec.Queries())
}

func TestPermissionCheckedForPrefetchedRows(t *testing.T) {
	for _, optimize := range []bool{true, false} {
		var calls atomic.Int64
		s := newTestServer(t, optimize, func(cfg *Config) {
			cfg.Permission = func(_ context.Context, typeName, field string, row *queryset.Row) error {
				if typeName == "Issue" && field == "title" {
					require.NotNil(t, row)
					calls.Add(1)
				}
				return nil
			}
		})
		s.do(t, `{ milestones { issues { title } } }`, nil)
		assert.Equal(t, int64(5), calls.Load(), "optimize=%v", optimize)
	}

	s := newTestServer(t, true, func(cfg *Config) {
		cfg.Permission = DenyFields("Issue.title")
	})
	result := s.run(`{ milestones { name issues { title } } }`, nil)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0].Message, "permission denied: Issue.title")

	result = s.run(`{ milestones { name issues { id } } }`, nil)
	assert.Empty(t, result.Errors)
}

func TestBaseFiltersApplyToRootAndNestedLists(t *testing.T) {
	query := `{ issues { id } milestones { issues { id } } notifications { issue { id } } }`
	withFilter := func(cfg *Config) {
		cfg.BaseFilters = map[string]map[string]any{
			"Issue": {"closed": map[string]any{"eq": false}},
		}
	}

	optimized := newTestServer(t, true, withFilter)
	data := optimized.do(t, query, nil)
	assert.Equal(t, []interface{}{
		map[string]interface{}{"id": 2},
		map[string]interface{}{"id": 3},
		map[string]interface{}{"id": 4},
		map[string]interface{}{"id": 6},
	}, data["issues"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{"issues": []interface{}{
			map[string]interface{}{"id": 2},
			map[string]interface{}{"id": 3},
		}},
		map[string]interface{}{"issues": []interface{}{
			map[string]interface{}{"id": 4},
		}},
		map[string]interface{}{"issues": []interface{}{}},
	}, data["milestones"])

	plain := newTestServer(t, false, withFilter)
	if diff := cmp.Diff(plain.do(t, query, nil), data); diff != "" {
		t.Fatalf("optimized result differs:\n%s", diff)
	}
}

func TestBaseFiltersApplyToToOneRelations(t *testing.T) {
	query := `{ issues { title milestone { name project { name } } } }`
	withFilter := func(cfg *Config) {
		cfg.BaseFilters = map[string]map[string]any{
			"Milestone": {"name": map[string]any{"ne": "Beta"}},
		}
	}
	alpha := map[string]interface{}{"name": "Alpha", "project": map[string]interface{}{"name": "Compiler"}}

	optimized := newTestServer(t, true, withFilter)
	data := optimized.do(t, query, nil)
	assert.Equal(t, []interface{}{
		map[string]interface{}{"title": "Parser crash", "milestone": alpha},
		map[string]interface{}{"title": "Slow lexer", "milestone": alpha},
		map[string]interface{}{"title": "Typo in docs", "milestone": alpha},
		map[string]interface{}{"title": "Generics", "milestone": nil},
		map[string]interface{}{"title": "GC pause", "milestone": map[string]interface{}{
			"name": "GA", "project": map[string]interface{}{"name": "Runtime"},
		}},
		map[string]interface{}{"title": "Untriaged", "milestone": nil},
	}, data["issues"])
	// The filtered milestones are prefetched with the project joined in.
	require.Equal(t, int64(2), optimized.exec.Queries())
	assert.NotContains(t, optimized.exec.Captured()[0], "JOIN `milestones`")
	assert.Contains(t, optimized.exec.Captured()[1], "JOIN `projects`")

	plain := newTestServer(t, false, withFilter)
	if diff := cmp.Diff(plain.do(t, query, nil), data); diff != "" {
		t.Fatalf("optimized result differs:\n%s", diff)
	}

	data = optimized.do(t, `{ issue(id: 4) { milestone { name } } }`, nil)
	assert.Equal(t, map[string]interface{}{"milestone": nil}, data["issue"])
}

func TestDeferredRelationIsPrefetched(t *testing.T) {
	query := `{ issues(limit: 2) { title milestone { name } } }`

	joined := newTestServer(t, true)
	want := joined.do(t, query, nil)
	require.Equal(t, int64(1), joined.exec.Queries())
	assert.Contains(t, joined.exec.Captured()[0], "JOIN `milestones`")

	deferred := newTestServer(t, true, func(cfg *Config) {
		cfg.Deferred = []string{"Issue.milestone"}
	})
	got := deferred.do(t, query, nil)
	require.Equal(t, int64(2), deferred.exec.Queries())
	assert.NotContains(t, deferred.exec.Captured()[0], "JOIN `milestones`")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("deferred result differs:\n%s", diff)
	}

	_, err := New(Config{
		Registry: fixtures.Registry(),
		Executor: deferred.exec,
		Deferred: []string{"Milestone.issues"},
	})
	require.Error(t, err)
}

func TestListAndConnectionOfSameRelation(t *testing.T) {
	s := newTestServer(t, true)
	data := s.do(t, `{ milestones(limit: 1) {
		issues { id }
		issuesConnection { totalCount nodes { id } }
	} }`, nil)

	assert.Equal(t, []interface{}{
		map[string]interface{}{
			"issues": []interface{}{
				map[string]interface{}{"id": 1},
				map[string]interface{}{"id": 2},
				map[string]interface{}{"id": 3},
			},
			"issuesConnection": map[string]interface{}{
				"totalCount": 3,
				"nodes": []interface{}{
					map[string]interface{}{"id": 1},
					map[string]interface{}{"id": 2},
					map[string]interface{}{"id": 3},
				},
			},
		},
	}, data["milestones"])
	// One query for the milestones and one per prefetch.
	assert.Equal(t, int64(3), s.exec.Queries())
}

func TestDeclaredHintsAreApplied(t *testing.T) {
	s := newTestServer(t, true, func(cfg *Config) {
		cfg.Hints = map[string]optimizer.FieldHints{
			"Issue.title": {SelectRelated: []string{"milestone__project"}},
		}
	})
	data := s.do(t, `{ issues(limit: 1) { title } }`, nil)
	assert.Equal(t, []interface{}{
		map[string]interface{}{"title": "Parser crash"},
	}, data["issues"])
	require.Equal(t, int64(1), s.exec.Queries())
	assert.Contains(t, s.exec.Captured()[0], "JOIN `milestones`")
	assert.Contains(t, s.exec.Captured()[0], "JOIN `projects`")
}

func TestRootHintsCanDisableOptimization(t *testing.T) {
	s := newTestServer(t, true, func(cfg *Config) {
		cfg.Hints = map[string]optimizer.FieldHints{
			"Query.milestones": {DisableOptimization: true},
		}
	})
	s.do(t, `{ milestones { issues { id } } }`, nil)
	assert.Equal(t, int64(4), s.exec.Queries())

	s.do(t, `{ projects { milestones { id } } }`, nil)
	assert.Equal(t, int64(2), s.exec.Queries())
}

func TestConnectionPaging(t *testing.T) {
	s := newTestServer(t, true)
	data := s.do(t, `{ issuesConnection(first: 2, orderBy: [{title: ASC}]) { totalCount pageInfo { hasNextPage endCursor } nodes { id } } }`, nil)
	conn := data["issuesConnection"].(map[string]interface{})
	assert.Equal(t, 6, conn["totalCount"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{"id": 5},
		map[string]interface{}{"id": 4},
	}, conn["nodes"])
	info := conn["pageInfo"].(map[string]interface{})
	assert.Equal(t, true, info["hasNextPage"])

	next := s.do(t, `query Next($after: String) {
		issuesConnection(first: 2, after: $after, orderBy: [{title: ASC}]) {
			pageInfo { hasPreviousPage }
			nodes { id }
		}
	}`, map[string]interface{}{"after": info["endCursor"]})
	conn = next["issuesConnection"].(map[string]interface{})
	assert.Equal(t, []interface{}{
		map[string]interface{}{"id": 1},
		map[string]interface{}{"id": 2},
	}, conn["nodes"])
	assert.Equal(t, true, conn["pageInfo"].(map[string]interface{})["hasPreviousPage"])

	result := s.run(`query Next($after: String) { issuesConnection(first: 2, after: $after) { nodes { id } } }`,
		map[string]interface{}{"after": info["endCursor"]})
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0].Message, "orderBy mismatch")
}

func TestSingleRowQuery(t *testing.T) {
	s := newTestServer(t, true)
	data := s.do(t, `{ issue(id: 2) { title tags { name } } missing: issue(id: 99) { title } }`, nil)
	assert.Equal(t, map[string]interface{}{
		"title": "Slow lexer",
		"tags": []interface{}{
			map[string]interface{}{"name": "bug"},
			map[string]interface{}{"name": "perf"},
		},
	}, data["issue"])
	assert.Nil(t, data["missing"])
}
