package introspection

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gqlorm/internal/sqlutil"
	"gqlorm/internal/testutil/sqlitedb"
)

func TestIntrospectMySQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM INFORMATION_SCHEMA.TABLES")).
		WithArgs("tracker").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE"}).
			AddRow("issues", "BASE TABLE").
			AddRow("open_issues", "VIEW"))

	mock.ExpectQuery(regexp.QuoteMeta("FROM INFORMATION_SCHEMA.COLUMNS")).
		WithArgs("tracker", "issues").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "COLUMN_TYPE", "IS_NULLABLE", "HAS_DEFAULT", "EXTRA"}).
			AddRow("id", "bigint unsigned", "NO", false, "auto_increment").
			AddRow("milestone_id", "int", "YES", false, nil).
			AddRow("title", "varchar(255)", "NO", false, "").
			AddRow("closed", "tinyint(1)", "NO", true, ""))
	mock.ExpectQuery(regexp.QuoteMeta("CONSTRAINT_NAME = 'PRIMARY'")).
		WithArgs("tracker", "issues").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id"))
	mock.ExpectQuery(regexp.QuoteMeta("REFERENCED_TABLE_NAME IS NOT NULL")).
		WithArgs("tracker", "issues").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME", "CONSTRAINT_NAME", "ORDINAL_POSITION"}).
			AddRow("milestone_id", "milestones", "id", "fk_issue_milestone", 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM INFORMATION_SCHEMA.STATISTICS")).
		WithArgs("tracker", "issues").
		WillReturnRows(sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME"}).
			AddRow("PRIMARY", "id").
			AddRow("uq_title", "milestone_id").
			AddRow("uq_title", "title"))

	mock.ExpectQuery(regexp.QuoteMeta("FROM INFORMATION_SCHEMA.COLUMNS")).
		WithArgs("tracker", "open_issues").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "COLUMN_TYPE", "IS_NULLABLE", "HAS_DEFAULT", "EXTRA"}).
			AddRow("id", "bigint unsigned", "NO", false, ""))

	schema, err := IntrospectDatabaseContext(context.Background(), db, "tracker", sqlutil.MySQL)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, schema.Tables, 2)

	issues := schema.Tables[0]
	assert.Equal(t, []string{"id"}, issues.PrimaryKey)
	assert.Equal(t, Column{Name: "id", DataType: "bigint unsigned", IsPrimaryKey: true, IsAutoIncrement: true}, issues.Columns[0])
	assert.True(t, issues.Columns[1].IsNullable)
	assert.True(t, issues.Columns[3].HasDefault)
	assert.Equal(t, []ForeignKey{{
		ColumnName:       "milestone_id",
		ReferencedTable:  "milestones",
		ReferencedColumn: "id",
		ConstraintName:   "fk_issue_milestone",
		OrdinalPosition:  1,
	}}, issues.ForeignKeys)
	assert.Equal(t, []Index{
		{Name: "PRIMARY", Unique: true, Columns: []string{"id"}},
		{Name: "uq_title", Unique: true, Columns: []string{"milestone_id", "title"}},
	}, issues.Indexes)

	view := schema.Tables[1]
	assert.True(t, view.IsView)
	assert.Empty(t, view.PrimaryKey)
}

func TestIntrospectPostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE table_schema = $1")).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "table_type"}).AddRow("tags", "BASE TABLE"))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE table_schema = $1 AND table_name = $2")).
		WithArgs("public", "tags").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "has_default", "extra"}).
			AddRow("id", "integer", "NO", true, "auto_increment").
			AddRow("name", "text", "NO", false, ""))
	mock.ExpectQuery(regexp.QuoteMeta("tc.constraint_type = 'PRIMARY KEY'")).
		WithArgs("public", "tags").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("id"))
	mock.ExpectQuery(regexp.QuoteMeta("information_schema.referential_constraints")).
		WithArgs("public", "tags").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "table_name", "column_name", "constraint_name", "ordinal_position"}))
	mock.ExpectQuery(regexp.QuoteMeta("tc.constraint_type = 'UNIQUE'")).
		WithArgs("public", "tags").
		WillReturnRows(sqlmock.NewRows([]string{"constraint_name", "column_name"}))

	reg, err := Load(context.Background(), db, "public", sqlutil.Postgres, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	tag, err := reg.Model("Tag")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, tag.FieldNames())
}

func TestIntrospectPropagatesCatalogErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM INFORMATION_SCHEMA.TABLES")).
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE"}).AddRow("issues", "BASE TABLE"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM INFORMATION_SCHEMA.COLUMNS")).
		WillReturnError(assert.AnError)

	_, err = IntrospectDatabaseContext(context.Background(), db, "tracker", sqlutil.MySQL)
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failed to get columns for issues")
}

func TestIntrospectUnsupportedDialect(t *testing.T) {
	_, err := IntrospectDatabaseContext(context.Background(), nil, "x", sqlutil.Dialect{Name: "oracle"})
	assert.ErrorContains(t, err, `dialect "oracle"`)
}

func TestIntrospectSQLiteResolvesImplicitReferences(t *testing.T) {
	db := sqlitedb.NewTestDB(t, `
		CREATE TABLE authors (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
		CREATE TABLE books (
			id INTEGER PRIMARY KEY,
			author_id INTEGER NOT NULL REFERENCES authors,
			isbn TEXT NOT NULL UNIQUE
		);`)

	schema, err := IntrospectDatabaseContext(context.Background(), db, "", sqlutil.SQLite)
	require.NoError(t, err)

	books, ok := schema.Table("books")
	require.True(t, ok)
	require.Len(t, books.ForeignKeys, 1)
	assert.Equal(t, "id", books.ForeignKeys[0].ReferencedColumn)
	assert.True(t, books.Columns[0].IsAutoIncrement)
	require.Len(t, books.Indexes, 1)
	assert.Equal(t, []string{"isbn"}, books.Indexes[0].Columns)
}
