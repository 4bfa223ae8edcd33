package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleModels() []*Model {
	return []*Model{
		{
			Name:  "Author",
			Table: "authors",
			Fields: []Field{
				{Name: "id", Column: "id", Type: TypeInt, PrimaryKey: true},
				{Name: "name", Column: "name", Type: TypeString},
			},
			Relations: []Relation{
				{Name: "books", Kind: OneToMany, Target: "Book", LocalColumns: []string{"id"}, RemoteColumns: []string{"author_id"}},
			},
		},
		{
			Name:  "Book",
			Table: "books",
			Fields: []Field{
				{Name: "id", Column: "id", Type: TypeInt, PrimaryKey: true},
				{Name: "authorId", Column: "author_id", Type: TypeInt},
				{Name: "title", Column: "title", Type: TypeString},
			},
			Relations: []Relation{
				{Name: "author", Kind: ForeignKey, Target: "Author", LocalColumns: []string{"author_id"}, RemoteColumns: []string{"id"}},
			},
		},
	}
}

func TestRegistryWalk(t *testing.T) {
	reg, err := NewRegistry(sampleModels()...)
	require.NoError(t, err)
	require.NoError(t, reg.Validate())

	book, err := reg.Model("Book")
	require.NoError(t, err)

	m, err := reg.Walk(book, "author__books")
	require.NoError(t, err)
	assert.Equal(t, "Book", m.Name)

	_, err = reg.Walk(book, "author__nope")
	require.ErrorIs(t, err, ErrUnknownField)

	_, err = reg.Model("Missing")
	require.ErrorIs(t, err, ErrUnknownModel)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	models := sampleModels()
	_, err := NewRegistry(append(models, models[0])...)
	require.Error(t, err)
}

func TestKeyFields(t *testing.T) {
	reg, err := NewRegistry(sampleModels()...)
	require.NoError(t, err)
	book, _ := reg.Model("Book")
	author, _ := reg.Model("Author")

	rel, _ := book.Relation("author")
	assert.Equal(t, []string{"authorId"}, book.KeyFields(rel))
	assert.False(t, rel.IsToMany())

	rel, _ = author.Relation("books")
	assert.Equal(t, []string{"id"}, author.KeyFields(rel))
	assert.True(t, rel.IsToMany())
	assert.Equal(t, []string{"id"}, author.PrimaryKeyNames())
}

func TestValidateReportsProblems(t *testing.T) {
	models := sampleModels()
	models[1].Relations = append(models[1].Relations, Relation{Name: "editor", Kind: ForeignKey, Target: "Editor", LocalColumns: []string{"editor_id"}, RemoteColumns: []string{"id"}})
	models[0].Relations = append(models[0].Relations, Relation{Name: "tags", Kind: ManyToMany, Target: "Book", LocalColumns: []string{"id"}, RemoteColumns: []string{"id"}})
	reg, err := NewRegistry(models...)
	require.NoError(t, err)

	err = reg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Book.editor: unknown target Editor")
	assert.Contains(t, err.Error(), "Author.tags: many-to-many without junction")
}

func TestPolymorphismSubtypeFor(t *testing.T) {
	p := &Polymorphism{
		Discriminator: "kind",
		Strategy:      SubclassTables,
		Subtypes: []Subtype{
			{Name: "Document", Value: "document", Table: "documents"},
			{Name: "Image", Value: "image", Table: "images"},
		},
	}
	assert.Equal(t, "Image", p.SubtypeFor(map[string]any{"kind": "image"}))
	assert.Equal(t, "Document", p.SubtypeFor(map[string]any{"kind": []byte("document")}))
	assert.Equal(t, "", p.SubtypeFor(map[string]any{"kind": "video"}))
	assert.Equal(t, "", p.SubtypeFor(map[string]any{}))
	assert.True(t, p.SupportsSubclassFetch())
	assert.False(t, p.SupportsTypeResolution())

	p.Strategy = TypeResolver
	p.ResolveType = func(values map[string]any) string { return "Document" }
	assert.Equal(t, "Document", p.SubtypeFor(map[string]any{"kind": "image"}))
	assert.False(t, p.SupportsTypeResolution(), "type resolution needs forced prefetch")
	p.ForcePrefetch = true
	assert.True(t, p.SupportsTypeResolution())

	var none *Polymorphism
	assert.False(t, none.SupportsSubclassFetch())
}

func TestPolymorphismValidate(t *testing.T) {
	m := &Model{
		Name:   "Asset",
		Table:  "assets",
		Fields: []Field{{Name: "id", Column: "id", Type: TypeInt, PrimaryKey: true}},
		Polymorphism: &Polymorphism{
			Discriminator: "kind",
			Strategy:      SubclassTables,
			Subtypes:      []Subtype{{Name: "Document", Value: "document"}},
		},
	}
	reg, err := NewRegistry(m)
	require.NoError(t, err)
	err = reg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `discriminator "kind" is not a field`)

	m.Fields = append(m.Fields, Field{Name: "kind", Column: "kind", Type: TypeString})
	err = reg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subtype Document has no table")
}

func TestDeferMarksToOneRelation(t *testing.T) {
	models := sampleModels()
	book := models[1]

	require.NoError(t, book.Defer("author"))
	rel, ok := book.Relation("author")
	require.True(t, ok)
	assert.True(t, rel.Deferred)

	require.Error(t, models[0].Defer("books"))
	require.ErrorIs(t, book.Defer("publisher"), ErrUnknownField)
}
