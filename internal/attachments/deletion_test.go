package attachments

import (
	"context"
	"net/http"
	"testing"

	"github.com/mwantia/goattach/internal/events"
	"github.com/mwantia/goattach/internal/schema"
	"github.com/mwantia/goattach/pkg/db/models"
	"github.com/mwantia/goattach/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteCascadesBlob(t *testing.T) {
	h := newHarness(t, storage.KindMemory, Config{})
	collection := h.target("Incidents(1)/attachments")
	row := h.upload(collection, "a1", "one.txt", "one")
	h.flush()

	item := collection.WithKeys(schema.Keys{"ID": "a1"})
	require.NoError(t, h.service.Delete(context.Background(), item))
	h.flush()

	assert.False(t, h.exists(row))
	content, err := h.service.Get(context.Background(), item)
	require.NoError(t, err)
	assert.Nil(t, content)

	err = h.service.Delete(context.Background(), item)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
}

func TestDeleteParentCascadesNestedAttachments(t *testing.T) {
	h := newHarness(t, storage.KindMemory, Config{})
	direct := h.upload(h.target("Incidents(1)/attachments"), "a1", "one.txt", "one")
	nested := h.upload(h.target("Incidents(1)/conversations(7)/attachments"), "c1", "chat.txt", "chat")
	other := h.upload(h.target("Incidents(10)/attachments"), "b1", "other.txt", "other")
	h.flush()

	require.NoError(t, h.service.DeleteParent(context.Background(), h.target("Incidents(1)")))
	h.flush()

	assert.False(t, h.exists(direct))
	assert.False(t, h.exists(nested))
	assert.True(t, h.exists(other))

	rows, err := h.service.List(context.Background(), h.target("Incidents(10)/attachments"))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestUpdateParentRemovesMissingChildren(t *testing.T) {
	h := newHarness(t, storage.KindMemory, Config{})
	keep := h.upload(h.target("Incidents(1)/attachments"), "a1", "keep.txt", "keep")
	drop := h.upload(h.target("Incidents(1)/attachments"), "a2", "drop.txt", "drop")
	keptChat := h.upload(h.target("Incidents(1)/conversations(7)/attachments"), "c1", "keep-chat.txt", "chat")
	droppedChat := h.upload(h.target("Incidents(1)/conversations(7)/attachments"), "c2", "drop-chat.txt", "chat")
	removedConversation := h.upload(h.target("Incidents(1)/conversations(8)/attachments"), "c3", "gone.txt", "gone")
	h.flush()

	node := schema.Node{
		Keys: schema.Keys{"ID": "1"},
		Compositions: map[string][]schema.Node{
			"attachments": {{Keys: schema.Keys{"ID": "a1"}}},
			"conversations": {{
				Keys: schema.Keys{"ID": "7"},
				Compositions: map[string][]schema.Node{
					"attachments": {{Keys: schema.Keys{"ID": "c1"}}},
				},
			}},
		},
	}

	removed, err := h.service.UpdateParent(context.Background(), h.target("Incidents(1)"), node)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	h.flush()

	assert.True(t, h.exists(keep))
	assert.True(t, h.exists(keptChat))
	assert.False(t, h.exists(drop))
	assert.False(t, h.exists(droppedChat))
	assert.False(t, h.exists(removedConversation))
}

func TestUpdateParentLeavesOmittedCompositions(t *testing.T) {
	h := newHarness(t, storage.KindMemory, Config{})
	row := h.upload(h.target("Incidents(1)/attachments"), "a1", "keep.txt", "keep")

	removed, err := h.service.UpdateParent(context.Background(), h.target("Incidents(1)"), schema.Node{Keys: schema.Keys{"ID": "1"}})
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.True(t, h.exists(row))
}

func TestDeleteBlobIsIdempotent(t *testing.T) {
	h := newHarness(t, storage.KindMemory, Config{})
	row := h.upload(h.target("Incidents(1)/attachments"), "a1", "one.txt", "one")
	h.flush()

	event := events.Event{
		Type:    events.TypeDeleteAttachment,
		Payload: events.DeleteAttachment{Ref: row.Ref(), URL: row.URL},
	}

	// Still referenced by its row: the blob must survive.
	require.NoError(t, h.service.DeleteBlob(context.Background(), event))
	assert.True(t, h.exists(row))

	require.NoError(t, h.store.DeleteAttachment(context.Background(), row.Ref()))
	require.NoError(t, h.service.DeleteBlob(context.Background(), event))
	require.NoError(t, h.service.DeleteBlob(context.Background(), event))
	assert.False(t, h.exists(row))
}

func TestDeletingDraftRowKeepsSharedBlob(t *testing.T) {
	h := newHarness(t, storage.KindMemory, Config{})
	row := h.upload(h.target("Incidents(1)/attachments"), "a1", "one.txt", "one")

	_, err := h.service.EditDraft(context.Background(), h.draft("Incidents(1)"))
	require.NoError(t, err)

	require.NoError(t, h.service.Delete(context.Background(), h.draft("Incidents(1)/attachments(a1)")))
	h.flush()
	assert.True(t, h.exists(row))

	active, err := h.service.Metadata(context.Background(), h.target("Incidents(1)/attachments(a1)"))
	require.NoError(t, err)
	assert.True(t, active.IsActiveEntity)
	assert.Equal(t, models.StatusClean, active.Status)
}
