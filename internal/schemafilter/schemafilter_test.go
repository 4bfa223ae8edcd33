package schemafilter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gqlorm/internal/introspection"
)

func columnNames(table introspection.Table) []string {
	var names []string
	for _, c := range table.Columns {
		names = append(names, c.Name)
	}
	return names
}

func TestApply_AllowsAllByDefault(t *testing.T) {
	schema := &introspection.Schema{
		Tables: []introspection.Table{
			{Name: "issues", Columns: []introspection.Column{{Name: "id"}}},
			{Name: "tags", Columns: []introspection.Column{{Name: "id"}}},
		},
	}

	Apply(context.Background(), schema, Config{})

	assert.Len(t, schema.Tables, 2)
}

func TestApply_TableAndColumnFilters(t *testing.T) {
	schema := &introspection.Schema{
		Tables: []introspection.Table{
			{
				Name:       "users",
				PrimaryKey: []string{"id"},
				Columns: []introspection.Column{
					{Name: "id", IsPrimaryKey: true},
					{Name: "email"},
					{Name: "password_hash"},
				},
				Indexes: []introspection.Index{
					{Name: "uq_email", Columns: []string{"email"}, Unique: true},
					{Name: "uq_password", Columns: []string{"password_hash"}, Unique: true},
				},
			},
			{
				Name:    "audit_intern",
				Columns: []introspection.Column{{Name: "id", IsPrimaryKey: true}, {Name: "payload"}},
			},
		},
	}

	Apply(context.Background(), schema, Config{
		AllowTables:  []string{"*"},
		DenyTables:   []string{"*_INTERN"},
		AllowColumns: map[string][]string{"*": {"*"}},
		DenyColumns:  map[string][]string{"users": {"password_*"}},
	})

	require.Len(t, schema.Tables, 1)
	users := schema.Tables[0]
	assert.Equal(t, "users", users.Name)
	assert.Equal(t, []string{"id", "email"}, columnNames(users))
	require.Len(t, users.Indexes, 1)
	assert.Equal(t, "uq_email", users.Indexes[0].Name)
}

func TestApply_PrimaryKeysSurviveAllowLists(t *testing.T) {
	schema := &introspection.Schema{
		Tables: []introspection.Table{{
			Name:       "issues",
			PrimaryKey: []string{"id"},
			Columns: []introspection.Column{
				{Name: "id", IsPrimaryKey: true},
				{Name: "title"},
				{Name: "internal_notes"},
			},
		}},
	}

	Apply(context.Background(), schema, Config{
		AllowColumns: map[string][]string{"issues": {"title"}},
	})

	require.Len(t, schema.Tables, 1)
	assert.Equal(t, []string{"id", "title"}, columnNames(schema.Tables[0]))
}

func TestApply_RemovesForeignKeysForFilteredColumns(t *testing.T) {
	schema := &introspection.Schema{
		Tables: []introspection.Table{
			{Name: "users", Columns: []introspection.Column{{Name: "id", IsPrimaryKey: true}}},
			{
				Name: "posts",
				Columns: []introspection.Column{
					{Name: "id", IsPrimaryKey: true},
					{Name: "user_id"},
				},
				ForeignKeys: []introspection.ForeignKey{
					{ColumnName: "user_id", ReferencedTable: "users", ReferencedColumn: "id", ConstraintName: "posts_user_fk"},
				},
			},
		},
	}

	Apply(context.Background(), schema, Config{
		DenyColumns: map[string][]string{"posts": {"user_id"}},
	})

	posts, ok := schema.Table("posts")
	require.True(t, ok)
	assert.Empty(t, posts.ForeignKeys)
}

func TestApply_DropsWholeCompositeForeignKey(t *testing.T) {
	schema := &introspection.Schema{
		Tables: []introspection.Table{
			{Name: "accounts", Columns: []introspection.Column{
				{Name: "tenant_id", IsPrimaryKey: true},
				{Name: "id", IsPrimaryKey: true},
			}},
			{
				Name: "invoices",
				Columns: []introspection.Column{
					{Name: "id", IsPrimaryKey: true},
					{Name: "tenant_id"},
					{Name: "account_id"},
				},
				ForeignKeys: []introspection.ForeignKey{
					{ConstraintName: "fk_account", ColumnName: "tenant_id", ReferencedTable: "accounts", ReferencedColumn: "tenant_id", OrdinalPosition: 1},
					{ConstraintName: "fk_account", ColumnName: "account_id", ReferencedTable: "accounts", ReferencedColumn: "id", OrdinalPosition: 2},
				},
			},
		},
	}

	Apply(context.Background(), schema, Config{
		DenyColumns: map[string][]string{"invoices": {"account_id"}},
	})

	invoices, ok := schema.Table("invoices")
	require.True(t, ok)
	assert.Empty(t, invoices.ForeignKeys)
}

func TestApply_ForeignKeysToDeniedTablesAreDropped(t *testing.T) {
	schema := &introspection.Schema{
		Tables: []introspection.Table{
			{Name: "secrets", Columns: []introspection.Column{{Name: "id", IsPrimaryKey: true}}},
			{
				Name:    "issues",
				Columns: []introspection.Column{{Name: "id", IsPrimaryKey: true}, {Name: "secret_id"}},
				ForeignKeys: []introspection.ForeignKey{
					{ColumnName: "secret_id", ReferencedTable: "secrets", ReferencedColumn: "id", ConstraintName: "fk_secret"},
				},
			},
		},
	}

	Apply(context.Background(), schema, Config{DenyTables: []string{"secrets"}})

	require.Len(t, schema.Tables, 1)
	assert.Empty(t, schema.Tables[0].ForeignKeys)
	assert.Equal(t, []string{"id", "secret_id"}, columnNames(schema.Tables[0]))
}

func TestApply_ScanViews(t *testing.T) {
	newSchema := func() *introspection.Schema {
		return &introspection.Schema{
			Tables: []introspection.Table{
				{Name: "issues", Columns: []introspection.Column{{Name: "id"}}},
				{Name: "open_issues", IsView: true, Columns: []introspection.Column{{Name: "id"}}},
			},
		}
	}

	schema := newSchema()
	Apply(context.Background(), schema, Config{})
	require.Len(t, schema.Tables, 1)
	assert.Equal(t, "issues", schema.Tables[0].Name)

	schema = newSchema()
	Apply(context.Background(), schema, Config{ScanViewsEnabled: true, AllowTables: []string{"*"}})
	assert.Len(t, schema.Tables, 2)
}

func TestMutationPolicy(t *testing.T) {
	policy := Config{
		DenyMutationTables:  []string{"audit_*"},
		DenyMutationColumns: map[string][]string{"*": {"created_at"}, "issues": {"closed"}},
	}.MutationPolicy()

	assert.False(t, policy.TableAllowed("audit_log"))
	assert.True(t, policy.TableAllowed("issues"))
	assert.False(t, policy.ColumnAllowed("issues", "closed"))
	assert.False(t, policy.ColumnAllowed("tags", "created_at"))
	assert.True(t, policy.ColumnAllowed("tags", "name"))
}
