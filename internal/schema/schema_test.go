package schema

import (
	"testing"

	config "github.com/mwantia/goattach/internal/config/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel(t *testing.T) *Model {
	t.Helper()

	model, err := Load(config.GetServerDefault().Entities)
	require.NoError(t, err)
	return model
}

func TestParsePath(t *testing.T) {
	path, err := ParsePath("/Incidents(1)/attachments('abc')/content")
	require.NoError(t, err)
	require.Len(t, path, 3)

	assert.Equal(t, "Incidents", path[0].Name)
	assert.Equal(t, "1", path[0].Raw)
	assert.Equal(t, "'abc'", path[1].Raw)
	assert.Equal(t, "content", path[2].Name)
	assert.Equal(t, "Incidents(1)/attachments('abc')/content", path.String())

	for _, raw := range []string{"", "Incidents()", "Incidents(1", "(1)", "Incidents//attachments"} {
		_, err := ParsePath(raw)
		assert.Error(t, err, raw)
	}
}

func TestParsePredicate(t *testing.T) {
	keys, err := parsePredicate("'7'", []string{"ID"})
	require.NoError(t, err)
	assert.Equal(t, Keys{"ID": "7"}, keys)

	keys, err = parsePredicate("ID=7,version=2", []string{"ID", "version"})
	require.NoError(t, err)
	assert.Equal(t, Keys{"ID": "7", "version": "2"}, keys)

	_, err = parsePredicate("7", []string{"ID", "version"})
	assert.Error(t, err)

	_, err = parsePredicate("ID=7", []string{"ID", "version"})
	assert.Error(t, err)
}

func TestLoadModel(t *testing.T) {
	model := testModel(t)

	attachments, ok := model.Entity("Incidents.attachments")
	require.True(t, ok)
	assert.Equal(t, KindAttachments, attachments.Kind)
	assert.Equal(t, []string{"up__ID"}, attachments.UpKeys)
	assert.True(t, attachments.Draft)
	assert.Equal(t, int64(400_000_000), attachments.MaxContentSize)

	nested, ok := model.Entity("Incidents.conversations.attachments")
	require.True(t, ok)
	assert.Equal(t, "Incidents.conversations", nested.Parent.Name)

	images, ok := model.Entity("Images")
	require.True(t, ok)
	assert.True(t, images.HoldsContent())
	assert.Equal(t, []string{"image/*"}, images.AcceptableMediaTypes)

	assert.Len(t, model.ContentEntities(), 3)
}

func TestLoadModelRejectsInvalid(t *testing.T) {
	_, err := Load([]config.EntityConfig{{Name: "Incidents"}})
	assert.Error(t, err, "entity without keys")

	_, err = Load([]config.EntityConfig{
		{Name: "A", Keys: []string{"ID"}},
		{Name: "A", Keys: []string{"ID"}},
	})
	assert.Error(t, err, "duplicate entity")

	_, err = Load([]config.EntityConfig{{
		Name: "A", Keys: []string{"ID"},
		Compositions: []config.CompositionConfig{{Name: "files", Kind: "attachments", MaxContentSize: "lots"}},
	}})
	assert.Error(t, err, "invalid size")
}

func TestWalkVisitsNestedCompositions(t *testing.T) {
	model := testModel(t)
	incidents, _ := model.Entity("Incidents")

	var visited []string
	require.NoError(t, incidents.Walk(func(trail []*Composition, target *Entity) error {
		visited = append(visited, target.Name)
		return nil
	}))

	assert.Equal(t, []string{
		"Incidents.attachments",
		"Incidents.conversations",
		"Incidents.conversations.attachments",
	}, visited)

	assert.Len(t, incidents.ContentEntities(), 2)
}

func TestResolveTarget(t *testing.T) {
	model := testModel(t)

	target, err := model.Resolve("Incidents(1)/conversations(7)/attachments(abc)/content")
	require.NoError(t, err)

	assert.Equal(t, "Incidents.conversations.attachments", target.Entity.Name)
	assert.True(t, target.Item)
	assert.Equal(t, "content", target.Property)
	assert.Equal(t, "abc", target.ID())
	assert.Equal(t, "Incidents(1)/conversations(7)", target.ParentPath())
	assert.Equal(t, Keys{"up__ID": "7"}, target.UpKeys())
	assert.Equal(t, "Incidents(1)/conversations(7)/attachments(abc)", target.InstancePath())

	collection, err := model.Resolve("Incidents(ID='1')/attachments")
	require.NoError(t, err)
	assert.False(t, collection.Item)
	assert.Equal(t, "Incidents(1)", collection.ParentPath())

	item := collection.WithKeys(Keys{"ID": "x"})
	assert.Equal(t, "x", item.ID())
	assert.Equal(t, "Incidents(1)/attachments(x)", item.InstancePath())

	parent, err := model.Resolve("Incidents(1)/draftEdit")
	require.NoError(t, err)
	assert.Equal(t, "Incidents", parent.Entity.Name)
	assert.Equal(t, "draftEdit", parent.Property)

	child, err := parent.Child("attachments")
	require.NoError(t, err)
	assert.Equal(t, "Incidents.attachments", child.Entity.Name)
	assert.Equal(t, "Incidents(1)", child.ParentPath())

	image, err := model.Resolve("Images(i1)")
	require.NoError(t, err)
	assert.Equal(t, "", image.ParentPath())
	assert.Nil(t, image.UpKeys())
}

func TestResolveRejectsUnknownSegments(t *testing.T) {
	model := testModel(t)

	for _, raw := range []string{
		"Unknown(1)",
		"Incidents/attachments",
		"Incidents(1)/unknown(2)",
		"Incidents(1)/unknown/attachments",
	} {
		_, err := model.Resolve(raw)
		assert.Error(t, err, raw)
	}
}

func TestNodeValidate(t *testing.T) {
	model := testModel(t)
	incidents, _ := model.Entity("Incidents")

	valid := Node{
		Keys: Keys{"ID": "1"},
		Compositions: map[string][]Node{
			"conversations": {{Keys: Keys{"ID": "7"}, Compositions: map[string][]Node{
				"attachments": {{Keys: Keys{"ID": "a"}}},
			}}},
		},
	}
	assert.NoError(t, valid.Validate(incidents))

	invalid := Node{Compositions: map[string][]Node{"notes": {{Keys: Keys{"ID": "1"}}}}}
	assert.Error(t, invalid.Validate(incidents))

	missing := Node{Compositions: map[string][]Node{"attachments": {{Keys: Keys{}}}}}
	assert.Error(t, missing.Validate(incidents))
}
