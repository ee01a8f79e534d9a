package migrate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karstdb/karst/migrate"
	"github.com/karstdb/karst/schema"
	"github.com/karstdb/karst/schema/edge"
	"github.com/karstdb/karst/schema/field"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	reg.MustRegister(schema.New("User", []*field.Descriptor{
		field.Int64("id").Descriptor(),
		field.String("email").Unique().Descriptor(),
		field.String("name").Descriptor(),
	}))
	reg.MustRegister(schema.New("Post", []*field.Descriptor{
		field.Int64("id").Descriptor(),
		field.Int64("user_id").Descriptor(),
		field.String("title").Descriptor(),
	}))
	reg.MustRegister(schema.New("Tag", []*field.Descriptor{
		field.Int64("id").Descriptor(),
		field.String("label").Descriptor(),
	}))
	reg.MustRegister(schema.New("PostTag", []*field.Descriptor{
		field.Int64("post_id").Descriptor(),
		field.Int64("tag_id").Descriptor(),
	}, schema.PrimaryKey("post_id", "tag_id")))
	reg.MustDefineAssociation("User", edge.HasMany("posts", "Post"))
	reg.MustDefineAssociation("Post", edge.BelongsToModel("author", "User").ForeignKey("user_id"))
	reg.MustDefineAssociation("Post", edge.ManyToManyThrough("tags", "Tag", "PostTag"))
	reg.Seal()
	return reg
}

func TestPlan(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)
	plan := migrate.Plan(reg)

	var creates []*migrate.CreateTable
	var indexes []*migrate.AddIndex
	var fks []*migrate.AddConstraint
	for _, m := range plan {
		switch m := m.(type) {
		case *migrate.CreateTable:
			creates = append(creates, m)
		case *migrate.AddIndex:
			indexes = append(indexes, m)
		case *migrate.AddConstraint:
			fks = append(fks, m)
		}
	}

	require.Len(t, creates, 4)
	assert.Equal(t, "users", creates[0].Name)
	assert.Equal(t, []string{"id"}, creates[0].PrimaryKey)
	require.Len(t, creates[0].Columns, 3)
	assert.Equal(t, field.TypeString, creates[0].Columns[1].Type)
	assert.True(t, creates[0].Columns[1].Unique)
	assert.Equal(t, []string{"post_id", "tag_id"}, creates[3].PrimaryKey)

	require.Len(t, indexes, 1)
	assert.Equal(t, "idx_users_email", indexes[0].Name)
	assert.True(t, indexes[0].Unique)

	// The HasMany edge and its BelongsTo inverse collapse into one
	// constraint; the junction contributes one per side.
	require.Len(t, fks, 3)
	assert.Equal(t, "fk_posts_user_id", fks[0].Name)
	assert.Equal(t, "posts", fks[0].TableName)
	assert.Equal(t, "users", fks[0].RefTable)
	assert.Equal(t, "fk_post_tags_post_id", fks[1].Name)
	assert.Equal(t, "fk_post_tags_tag_id", fks[2].Name)
}

func TestDiff(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)

	// users exists but lacks the name column; posts is missing entirely.
	plan := migrate.Diff(reg, map[string][]string{
		"users":     {"id", "email"},
		"tags":      {"id", "label"},
		"post_tags": {"post_id", "tag_id"},
	})

	require.Len(t, plan, 2)
	addCol, ok := plan[0].(*migrate.AddColumn)
	require.True(t, ok)
	assert.Equal(t, "users", addCol.Table())
	assert.Equal(t, "name", addCol.Column.Name)

	create, ok := plan[1].(*migrate.CreateTable)
	require.True(t, ok)
	assert.Equal(t, "posts", create.Name)
}

func TestDiffUpToDate(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)
	plan := migrate.Diff(reg, map[string][]string{
		"users":     {"id", "email", "name"},
		"posts":     {"id", "user_id", "title"},
		"tags":      {"id", "label"},
		"post_tags": {"post_id", "tag_id"},
	})
	assert.Empty(t, plan)
}
