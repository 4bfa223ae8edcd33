package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mediaRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(
		&Model{
			Name:  "Media",
			Table: "media",
			Fields: []Field{
				{Name: "id", Column: "id", Type: TypeInt, PrimaryKey: true},
				{Name: "kind", Column: "kind", Type: TypeString},
				{Name: "duration", Column: "duration", Type: TypeInt, Nullable: true},
			},
			Relations: []Relation{
				{Name: "video", Kind: ReverseOneToOne, Target: "Video", LocalColumns: []string{"id"}, RemoteColumns: []string{"id"}},
			},
		},
		&Model{
			Name:  "Video",
			Table: "videos",
			Fields: []Field{
				{Name: "id", Column: "id", Type: TypeInt, PrimaryKey: true},
				{Name: "codec", Column: "codec", Type: TypeString},
			},
			Relations: []Relation{
				{Name: "media", Kind: OneToOne, Target: "Media", LocalColumns: []string{"id"}, RemoteColumns: []string{"id"}},
			},
		},
		&Model{
			Name:   "Clip",
			Table:  "clips",
			Fields: []Field{{Name: "clipId", Column: "clip_id", Type: TypeInt, PrimaryKey: true}},
		},
	)
	require.NoError(t, err)
	return reg
}

func TestDeclarePolymorphicSubclassTables(t *testing.T) {
	reg, err := DeclarePolymorphic(mediaRegistry(t), PolymorphicDeclaration{
		Model:         "Media",
		Discriminator: "kind",
		Strategy:      SubclassTables,
		Subtypes:      []SubtypeDeclaration{{Value: "video", Model: "Video"}},
	})
	require.NoError(t, err)

	media, err := reg.Model("Media")
	require.NoError(t, err)
	require.NotNil(t, media.Polymorphism)
	assert.Equal(t, []Subtype{{
		Name:   "Video",
		Value:  "video",
		Table:  "videos",
		Fields: []Field{{Name: "codec", Column: "codec", Type: TypeString}},
	}}, media.Polymorphism.Subtypes)
	assert.Empty(t, media.Relations)

	_, err = reg.Model("Video")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestDeclarePolymorphicMovesFields(t *testing.T) {
	source := mediaRegistry(t)
	reg, err := DeclarePolymorphic(source, PolymorphicDeclaration{
		Model:         "Media",
		Discriminator: "kind",
		Strategy:      TypeResolver,
		ForcePrefetch: true,
		Subtypes:      []SubtypeDeclaration{{Name: "Audio", Value: "audio", Fields: []string{"duration"}}},
	})
	require.NoError(t, err)

	media, _ := reg.Model("Media")
	assert.Equal(t, []string{"id", "kind"}, media.FieldNames())
	assert.True(t, media.Polymorphism.SupportsTypeResolution())

	original, _ := source.Model("Media")
	assert.Equal(t, []string{"id", "kind", "duration"}, original.FieldNames())
	assert.Nil(t, original.Polymorphism)
}

func TestDeclarePolymorphicErrors(t *testing.T) {
	tests := []struct {
		name string
		decl PolymorphicDeclaration
		want string
	}{
		{
			name: "unknown base",
			decl: PolymorphicDeclaration{Model: "Nope", Discriminator: "kind"},
			want: "unknown model",
		},
		{
			name: "backing model without subclass strategy",
			decl: PolymorphicDeclaration{Model: "Media", Discriminator: "kind", Strategy: TypeResolver,
				Subtypes: []SubtypeDeclaration{{Value: "video", Model: "Video"}}},
			want: "subclass_tables",
		},
		{
			name: "mismatched keys",
			decl: PolymorphicDeclaration{Model: "Media", Discriminator: "kind", Strategy: SubclassTables,
				Subtypes: []SubtypeDeclaration{{Value: "clip", Model: "Clip"}}},
			want: "primary key columns",
		},
		{
			name: "moving the key",
			decl: PolymorphicDeclaration{Model: "Media", Discriminator: "kind", Strategy: TypeResolver,
				Subtypes: []SubtypeDeclaration{{Name: "Odd", Value: "odd", Fields: []string{"id"}}}},
			want: "key field",
		},
		{
			name: "unknown discriminator",
			decl: PolymorphicDeclaration{Model: "Media", Discriminator: "type", Strategy: TypeResolver,
				Subtypes: []SubtypeDeclaration{{Name: "Audio", Value: "audio"}}},
			want: "discriminator",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeclarePolymorphic(mediaRegistry(t), tt.decl)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
