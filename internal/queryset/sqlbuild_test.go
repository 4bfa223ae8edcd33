package queryset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gqlorm/internal/model"
	"gqlorm/internal/sqlutil"
	"gqlorm/internal/testutil/fixtures"
)

func mustFor(t *testing.T, reg *model.Registry, name string) QuerySet {
	t.Helper()
	qs, err := New(reg, name)
	require.NoError(t, err)
	return qs
}

func TestToSQLProjectionFilterOrder(t *testing.T) {
	reg := fixtures.Registry()
	qs := mustFor(t, reg, "Issue").
		Only("title").
		Filter(Eq("closed", false)).
		OrderBy(OrderExpr{Path: "priority", Desc: true})

	query, args, err := qs.ToSQL(sqlutil.MySQL)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT `issues`.`id` AS `id`, `issues`.`title` AS `title` FROM `issues` WHERE `issues`.`closed` = ? ORDER BY `issues`.`priority` DESC, `issues`.`id` ASC",
		query)
	assert.Equal(t, []any{false}, args)

	query, _, err = qs.ToSQL(sqlutil.Postgres)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "issues"."id" AS "id", "issues"."title" AS "title" FROM "issues" WHERE "issues"."closed" = $1 ORDER BY "issues"."priority" DESC, "issues"."id" ASC`,
		query)
}

func TestToSQLSelectRelated(t *testing.T) {
	reg := fixtures.Registry()
	qs := mustFor(t, reg, "Issue").
		SelectRelated("milestone").
		Only("title", "milestone__name")

	query, _, err := qs.ToSQL(sqlutil.MySQL)
	require.NoError(t, err)
	assert.Contains(t, query, "LEFT JOIN `milestones` AS `_j1` ON `issues`.`milestone_id` = `_j1`.`id`")
	assert.Contains(t, query, "`issues`.`milestone_id` AS `milestoneId`")
	assert.Contains(t, query, "`_j1`.`name` AS `milestone__name`")
	assert.Contains(t, query, "`_j1`.`id` AS `milestone__id`")
	assert.NotContains(t, query, "`issues`.`priority`")
}

func TestToSQLSelectRelatedAddsIntermediatePaths(t *testing.T) {
	reg := fixtures.Registry()
	qs := mustFor(t, reg, "Issue").SelectRelated("milestone__project")
	assert.Equal(t, []string{"milestone", "milestone__project"}, qs.Joins())

	query, _, err := qs.ToSQL(sqlutil.MySQL)
	require.NoError(t, err)
	assert.Contains(t, query, "LEFT JOIN `projects` AS `_j2` ON `_j1`.`project_id` = `_j2`.`id`")
}

func TestToSQLRejectsToManyJoin(t *testing.T) {
	reg := fixtures.Registry()
	_, _, err := mustFor(t, reg, "Milestone").SelectRelated("issues").ToSQL(sqlutil.MySQL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot join to-many")
}

func TestToSQLUnknownField(t *testing.T) {
	reg := fixtures.Registry()
	_, _, err := mustFor(t, reg, "Issue").Only("nope").ToSQL(sqlutil.MySQL)
	require.ErrorIs(t, err, model.ErrUnknownField)
}

func TestToSQLCountAnnotation(t *testing.T) {
	reg := fixtures.Registry()
	qs := mustFor(t, reg, "Milestone").Annotate(Annotation{Name: "issueCount", Expr: Count("issues")})

	query, _, err := qs.ToSQL(sqlutil.MySQL)
	require.NoError(t, err)
	assert.Contains(t, query, "(SELECT COUNT(*) FROM `issues` AS `_a1` WHERE `_a1`.`milestone_id` = `milestones`.`id`) AS `issueCount`")
}

func TestToSQLManyToManyAggregate(t *testing.T) {
	reg := fixtures.Registry()
	qs := mustFor(t, reg, "Issue").Annotate(Annotation{Name: "tagCount", Expr: Count("tags")})

	query, _, err := qs.ToSQL(sqlutil.MySQL)
	require.NoError(t, err)
	assert.Contains(t, query, "JOIN `issue_tags` AS `_m2` ON `_m2`.`tag_id` = `_a1`.`id`")
	assert.Contains(t, query, "`_m2`.`issue_id` = `issues`.`id`")
}

func TestToSQLTemplateAnnotationUnderJoin(t *testing.T) {
	reg := fixtures.Registry()
	expr := Template("{price} * {quantity}")
	assert.Equal(t, []string(nil), expr.Paths())

	prefixed := expr.WithPrefix("order")
	assert.Equal(t, []string{"order"}, prefixed.Paths())

	qs := mustFor(t, reg, "OrderItem").Annotate(Annotation{Name: "total", Expr: expr})
	query, _, err := qs.ToSQL(sqlutil.Postgres)
	require.NoError(t, err)
	assert.Contains(t, query, `("order_items"."price" * "order_items"."quantity") AS "total"`)
}

func TestToSQLExistsPlaceholders(t *testing.T) {
	reg := fixtures.Registry()
	qs := mustFor(t, reg, "Issue").Filter(
		Eq("closed", false),
		Exists("tags", Eq("name", "perf")),
	)

	query, args, err := qs.ToSQL(sqlutil.Postgres)
	require.NoError(t, err)
	assert.Contains(t, query, `"issues"."closed" = $1`)
	assert.Contains(t, query, `EXISTS (SELECT 1 FROM "tags" AS "_e1"`)
	assert.Contains(t, query, `"_e1"."name" = $2`)
	assert.Equal(t, []any{false, "perf"}, args)
}

func TestToSQLOffsetWithoutLimit(t *testing.T) {
	reg := fixtures.Registry()
	query, _, err := mustFor(t, reg, "Issue").Offset(2).ToSQL(sqlutil.MySQL)
	require.NoError(t, err)
	assert.Contains(t, query, "LIMIT 9223372036854775807")
	assert.Contains(t, query, "OFFSET 2")
}

func TestToSQLEmptyInList(t *testing.T) {
	reg := fixtures.Registry()
	query, _, err := mustFor(t, reg, "Issue").Filter(Cmp("id", OpIn, []any{})).ToSQL(sqlutil.MySQL)
	require.NoError(t, err)
	assert.Contains(t, query, "WHERE 1 = 0")

	_, _, err = mustFor(t, reg, "Issue").Filter(Cmp("id", OpIn, 3)).ToSQL(sqlutil.MySQL)
	require.Error(t, err)
}

func TestDescribeIsOrderIndependent(t *testing.T) {
	reg := fixtures.Registry()
	issues := mustFor(t, reg, "Issue").Only("title")

	a := mustFor(t, reg, "Milestone").
		Only("name", "project__name").
		SelectRelated("project").
		PrefetchRelated(Prefetch{Path: "issues", QuerySet: &issues}).
		Annotate(Annotation{Name: "issueCount", Expr: Count("issues")})
	b := mustFor(t, reg, "Milestone").
		Annotate(Annotation{Name: "issueCount", Expr: Count("issues")}).
		PrefetchRelated(Prefetch{Path: "issues", QuerySet: &issues}).
		SelectRelated("project").
		Only("project__name", "name")

	assert.Equal(t, a.Describe(), b.Describe())

	other := mustFor(t, reg, "Issue").Only("priority")
	c := b.PrefetchRelated(Prefetch{Path: "issues", QuerySet: &other})
	assert.NotEqual(t, a.Describe(), c.Describe())
	assert.Len(t, c.Prefetches(), 1, "same cache key replaces the prefetch")
}

func TestQuerySetIsImmutable(t *testing.T) {
	reg := fixtures.Registry()
	base := mustFor(t, reg, "Issue")
	_ = base.Only("title").Filter(Eq("id", 1)).SelectRelated("milestone").Limit(3)

	assert.Empty(t, base.OnlyFields())
	assert.Empty(t, base.Joins())
	assert.False(t, base.Paginated())
	assert.False(t, base.Deferred())
}

func TestWithSubclassesUnion(t *testing.T) {
	reg := fixtures.Registry()
	qs := mustFor(t, reg, "Asset").
		WithSubclasses(map[string][]string{"Image": {"width"}}).
		WithSubclasses(map[string][]string{"Image": {"height"}, "Document": nil})

	assert.Equal(t, []string{"Document:*", "Image:height,width"}, qs.Describe().Subclasses)
	assert.True(t, qs.SupportsSubclassFetch())
	assert.False(t, mustFor(t, reg, "Notification").SupportsSubclassFetch())
}
