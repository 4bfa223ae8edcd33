package queryset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gqlorm/internal/dbexec"
	"gqlorm/internal/model"
	"gqlorm/internal/sqlutil"
	"gqlorm/internal/testutil/fixtures"
	"gqlorm/internal/testutil/sqlitedb"
)

type trackerEnv struct {
	reg     *model.Registry
	counter *dbexec.CountingExecutor
	session *Session
}

func newTrackerEnv(t *testing.T, opts ...SessionOption) *trackerEnv {
	t.Helper()
	db := sqlitedb.NewTestDB(t, fixtures.Schema, fixtures.Seed)
	counter := dbexec.NewCountingExecutor(dbexec.NewStandardExecutor(db)).Capture()
	return &trackerEnv{
		reg:     fixtures.Registry(),
		counter: counter,
		session: NewSession(counter, sqlutil.SQLite, opts...),
	}
}

func (e *trackerEnv) qs(t *testing.T, name string) QuerySet {
	t.Helper()
	qs, err := New(e.reg, name)
	require.NoError(t, err)
	return qs
}

func values(t *testing.T, ctx context.Context, rows []*Row, field string) []any {
	t.Helper()
	out := make([]any, len(rows))
	for i, r := range rows {
		v, err := r.Value(ctx, field)
		require.NoError(t, err)
		out[i] = v
	}
	return out
}

func TestEvaluateFilterAndOrder(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := context.Background()

	rows, err := env.qs(t, "Issue").
		Filter(Eq("closed", false)).
		OrderBy(OrderExpr{Path: "priority", Desc: true}).
		Limit(3).
		Evaluate(ctx, env.session)
	require.NoError(t, err)

	assert.Equal(t, []any{"Untriaged", "Typo in docs", "Slow lexer"}, values(t, ctx, rows, "title"))
	assert.Equal(t, []any{false, false, false}, values(t, ctx, rows, "closed"))
	assert.Equal(t, int64(1), env.counter.Queries())
}

func TestEvaluateSelectRelated(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := context.Background()

	rows, err := env.qs(t, "Issue").
		SelectRelated("milestone__project").
		Only("title", "milestone__name", "milestone__project__name").
		Evaluate(ctx, env.session)
	require.NoError(t, err)
	require.Len(t, rows, 6)

	milestone, err := rows[0].Related(ctx, "milestone")
	require.NoError(t, err)
	require.NotNil(t, milestone)
	name, err := milestone.Value(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", name)

	project, err := milestone.Related(ctx, "project")
	require.NoError(t, err)
	require.NotNil(t, project)
	name, err = project.Value(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "Compiler", name)

	untriaged := rows[5]
	assert.True(t, untriaged.IsRelatedLoaded("milestone"))
	missing, err := untriaged.Related(ctx, "milestone")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Equal(t, int64(1), env.counter.Queries(), "joined relations need no extra query")
}

func TestRelatedLoadsLazily(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := context.Background()

	rows, err := env.qs(t, "Issue").Evaluate(ctx, env.session)
	require.NoError(t, err)
	for _, r := range rows {
		_, err := r.Related(ctx, "milestone")
		require.NoError(t, err)
	}
	// One query per issue with a milestone; the NULL key needs none.
	assert.Equal(t, int64(1+5), env.counter.Queries())
}

func TestValueReloadsDeferredFields(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := context.Background()

	rows, err := env.qs(t, "Milestone").Only("name").Evaluate(ctx, env.session)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].Has("name"))
	assert.False(t, rows[0].Has("dueDate"))

	due, err := rows[0].Value(ctx, "dueDate")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-15", due)
	assert.Equal(t, int64(2), env.counter.Queries())

	due, err = rows[2].Value(ctx, "dueDate")
	require.NoError(t, err)
	assert.Nil(t, due)
	assert.Equal(t, int64(3), env.counter.Queries())

	_, err = rows[0].Value(ctx, "nope")
	require.ErrorIs(t, err, model.ErrUnknownField)
}

func TestPrefetchOneToMany(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := context.Background()

	issues := env.qs(t, "Issue").Only("title")
	rows, err := env.qs(t, "Milestone").
		PrefetchRelated(Prefetch{Path: "issues", QuerySet: &issues}).
		Evaluate(ctx, env.session)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(2), env.counter.Queries())

	page, ok := rows[0].Prefetched("issues")
	require.True(t, ok)
	assert.Equal(t, []any{"Parser crash", "Slow lexer", "Typo in docs"}, values(t, ctx, page.Rows, "title"))

	page, err = rows[2].Children(ctx, "issues", "issues", issues)
	require.NoError(t, err)
	assert.Equal(t, []any{"GC pause"}, values(t, ctx, page.Rows, "title"))
	assert.Equal(t, int64(2), env.counter.Queries(), "children come from the prefetch cache")
}

func TestChildrenMatchPrefetchedRows(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := context.Background()
	issues := env.qs(t, "Issue").OrderBy(OrderExpr{Path: "priority", Desc: true})

	lazyRows, err := env.qs(t, "Milestone").Evaluate(ctx, env.session)
	require.NoError(t, err)
	prefetchedRows, err := env.qs(t, "Milestone").
		PrefetchRelated(Prefetch{Path: "issues", ToAttr: "issues", QuerySet: &issues}).
		Evaluate(ctx, env.session)
	require.NoError(t, err)

	for i := range lazyRows {
		lazy, err := lazyRows[i].Children(ctx, "issues", "issues", issues)
		require.NoError(t, err)
		eager, err := prefetchedRows[i].Children(ctx, "issues", "issues", issues)
		require.NoError(t, err)
		assert.Equal(t, values(t, ctx, lazy.Rows, "id"), values(t, ctx, eager.Rows, "id"))
	}
}

func TestPrefetchManyToMany(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := context.Background()

	rows, err := env.qs(t, "Issue").
		PrefetchRelated(Prefetch{Path: "tags"}).
		Evaluate(ctx, env.session)
	require.NoError(t, err)
	assert.Equal(t, int64(2), env.counter.Queries())

	tagsOf := func(i int) []any {
		page, ok := rows[i].Prefetched("tags")
		require.True(t, ok)
		return values(t, ctx, page.Rows, "name")
	}
	assert.Equal(t, []any{"bug"}, tagsOf(0))
	assert.Equal(t, []any{"bug", "perf"}, tagsOf(1))
	assert.Equal(t, []any{}, tagsOf(3))
}

func TestPrefetchPaginatedPerParent(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := context.Background()

	firstIssue := env.qs(t, "Issue").OrderBy(OrderExpr{Path: "priority"}).Limit(1).WithTotal()
	rows, err := env.qs(t, "Milestone").
		PrefetchRelated(Prefetch{Path: "issues", QuerySet: &firstIssue}).
		Evaluate(ctx, env.session)
	require.NoError(t, err)

	expected := []struct {
		title string
		total int64
	}{
		{"Parser crash", 3},
		{"Generics", 1},
		{"GC pause", 1},
	}
	for i, want := range expected {
		page, ok := rows[i].Prefetched("issues")
		require.True(t, ok)
		require.Len(t, page.Rows, 1)
		assert.True(t, page.HasTotal)
		assert.Equal(t, want.total, page.Total)
		assert.Equal(t, []any{want.title}, values(t, ctx, page.Rows, "title"))
	}

	secondIssue := env.qs(t, "Issue").OrderBy(OrderExpr{Path: "priority"}).Offset(1).Limit(1)
	page, err := rows[0].Children(ctx, "issues|second", "issues", secondIssue)
	require.NoError(t, err)
	assert.Equal(t, []any{"Slow lexer"}, values(t, ctx, page.Rows, "title"))
}

func TestPrefetchChunksParentKeys(t *testing.T) {
	env := newTrackerEnv(t, WithMaxInClause(2))
	ctx := context.Background()

	rows, err := env.qs(t, "Milestone").PrefetchRelated(Prefetch{Path: "issues"}).Evaluate(ctx, env.session)
	require.NoError(t, err)
	assert.Equal(t, int64(3), env.counter.Queries())

	total := 0
	for _, r := range rows {
		page, ok := r.Prefetched("issues")
		require.True(t, ok)
		total += len(page.Rows)
	}
	assert.Equal(t, 5, total)
}

func TestPrefetchThroughJoin(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := context.Background()

	rows, err := env.qs(t, "Issue").
		SelectRelated("milestone").
		PrefetchRelated(Prefetch{Path: "milestone__issues"}).
		Evaluate(ctx, env.session)
	require.NoError(t, err)
	assert.Equal(t, int64(2), env.counter.Queries())

	milestone, err := rows[0].Related(ctx, "milestone")
	require.NoError(t, err)
	page, ok := milestone.Prefetched("issues")
	require.True(t, ok)
	assert.Len(t, page.Rows, 3)
}

func TestAnnotations(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := context.Background()

	rows, err := env.qs(t, "Milestone").
		Annotate(Annotation{Name: "issueCount", Expr: Count("issues")}).
		OrderBy(OrderExpr{Path: "issueCount", Desc: true}).
		Evaluate(ctx, env.session)
	require.NoError(t, err)
	assert.Equal(t, int64(1), env.counter.Queries())

	count, err := rows[0].Annotation(ctx, "issueCount", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	items, err := env.qs(t, "OrderItem").
		Annotate(Annotation{Name: "total", Expr: Template("{price} * {quantity}")}).
		Evaluate(ctx, env.session)
	require.NoError(t, err)
	var totals []any
	for _, r := range items {
		v, err := r.Annotation(ctx, "total", nil)
		require.NoError(t, err)
		totals = append(totals, v)
	}
	assert.Equal(t, []any{10.0, 10.0, 14.5}, totals)
}

func TestAnnotationLoadsLazily(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := context.Background()

	rows, err := env.qs(t, "Tag").Evaluate(ctx, env.session)
	require.NoError(t, err)
	assert.False(t, rows[0].HasAnnotation("issueCount"))

	count, err := rows[0].Annotation(ctx, "issueCount", Count("issues"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, int64(2), env.counter.Queries())

	_, err = rows[1].Annotation(ctx, "issueCount", nil)
	require.Error(t, err)
}

func TestExistsFilter(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := context.Background()

	rows, err := env.qs(t, "Issue").Filter(Exists("tags", Eq("name", "perf"))).Evaluate(ctx, env.session)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), int64(5)}, values(t, ctx, rows, "id"))

	rows, err = env.qs(t, "Issue").Filter(NotExists("tags", nil)).Evaluate(ctx, env.session)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(4), int64(6)}, values(t, ctx, rows, "id"))

	rows, err = env.qs(t, "Project").Filter(Exists("milestones", Exists("issues", Eq("closed", true)))).Evaluate(ctx, env.session)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSubclassFetch(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := context.Background()

	rows, err := env.qs(t, "Asset").
		WithSubclasses(map[string][]string{"Document": {"pages"}}).
		Evaluate(ctx, env.session)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(2), env.counter.Queries())

	assert.Equal(t, "Document", rows[0].TypeName())
	assert.Equal(t, "Image", rows[1].TypeName())
	assert.True(t, rows[0].Has("pages"))
	assert.False(t, rows[1].Has("width"))

	pages, err := rows[2].Value(ctx, "pages")
	require.NoError(t, err)
	assert.Equal(t, int64(7), pages)
	assert.Equal(t, int64(2), env.counter.Queries())

	width, err := rows[1].Value(ctx, "width")
	require.NoError(t, err)
	assert.Equal(t, int64(640), width)
	assert.Equal(t, int64(3), env.counter.Queries())
}

func TestTypeResolverRows(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := context.Background()

	rows, err := env.qs(t, "Notification").Only("subject", "email", "phone").Evaluate(ctx, env.session)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "EmailNotification", rows[0].TypeName())
	assert.Equal(t, "SmsNotification", rows[1].TypeName())
	assert.True(t, rows[0].Has("kind"), "discriminator is always fetched")

	phone, err := rows[1].Value(ctx, "phone")
	require.NoError(t, err)
	assert.Equal(t, "555-0100", phone)
	assert.Equal(t, int64(1), env.counter.Queries())
}

func TestSessionContext(t *testing.T) {
	_, err := SessionFromContext(context.Background())
	require.Error(t, err)

	s := NewSession(nil, sqlutil.SQLite)
	got, err := SessionFromContext(WithSession(context.Background(), s))
	require.NoError(t, err)
	assert.Same(t, s, got)
}
