package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gqlorm/internal/model"
	"gqlorm/internal/sqlutil"
	"gqlorm/internal/testutil/fixtures"
)

func TestPlanInsert(t *testing.T) {
	issue, err := fixtures.Registry().Model("Issue")
	require.NoError(t, err)

	q, err := PlanInsert(sqlutil.MySQL, issue, map[string]any{"priority": 2, "title": "New"})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO `issues` (`title`,`priority`) VALUES (?,?)", q.SQL)
	assert.Equal(t, []any{"New", 2}, q.Args)

	q, err = PlanInsert(sqlutil.Postgres, issue, map[string]any{"title": "New"})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "issues" ("title") VALUES ($1) RETURNING "id"`, q.SQL)

	q, err = PlanInsert(sqlutil.SQLite, issue, nil)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO `issues` DEFAULT VALUES", q.SQL)

	_, err = PlanInsert(sqlutil.MySQL, issue, map[string]any{"bogus": 1})
	require.ErrorIs(t, err, model.ErrUnknownField)
}

func TestPlanUpdateAndDelete(t *testing.T) {
	issue, err := fixtures.Registry().Model("Issue")
	require.NoError(t, err)

	q, err := PlanUpdate(sqlutil.MySQL, issue, map[string]any{"closed": true}, []any{int64(3)})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE `issues` SET `closed` = ? WHERE `id` = ?", q.SQL)
	assert.Equal(t, []any{true, int64(3)}, q.Args)

	_, err = PlanUpdate(sqlutil.MySQL, issue, map[string]any{}, []any{int64(3)})
	require.ErrorContains(t, err, "cannot be empty")

	q, err = PlanDelete(sqlutil.Postgres, issue, []any{int64(3)})
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "issues" WHERE "id" = $1`, q.SQL)

	_, err = PlanDelete(sqlutil.MySQL, issue, nil)
	require.ErrorContains(t, err, "does not match")
}
