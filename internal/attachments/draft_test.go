package attachments

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/mwantia/goattach/internal/schema"
	"github.com/mwantia/goattach/pkg/db/models"
	"github.com/mwantia/goattach/pkg/db/store"
	"github.com/mwantia/goattach/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEditDraftCopiesWithoutContent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.upload(h.target("Incidents(1)/attachments"), "a1", "one.txt", "one")
		h.upload(h.target("Incidents(1)/conversations(7)/attachments"), "c1", "chat.txt", "chat")
		h.flush()

		copied, err := h.service.EditDraft(context.Background(), h.draft("Incidents(1)"))
		require.NoError(t, err)
		assert.Equal(t, 2, copied)

		copied, err = h.service.EditDraft(context.Background(), h.draft("Incidents(1)"))
		require.NoError(t, err)
		assert.Zero(t, copied)

		draft, err := h.service.Metadata(context.Background(), h.draft("Incidents(1)/attachments(a1)"))
		require.NoError(t, err)
		assert.False(t, draft.IsActiveEntity)
		assert.Equal(t, sha256Hex("one"), draft.Hash)

		if h.backend.Kind() == storage.KindDatabase {
			hasContent, err := h.store.HasContent(context.Background(), draft.Ref())
			require.NoError(t, err)
			assert.False(t, hasContent)
		}
	})
}

func TestSaveDraftReconcilesIntoActive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		kept := h.upload(h.target("Incidents(1)/attachments"), "a1", "keep.txt", "keep")
		removed := h.upload(h.target("Incidents(1)/attachments"), "a2", "remove.txt", "remove")
		h.flush()

		_, err := h.service.EditDraft(ctx, h.draft("Incidents(1)"))
		require.NoError(t, err)

		uploaded := h.upload(h.draft("Incidents(1)/attachments"), "a3", "new.txt", "new content")
		require.NoError(t, h.service.Delete(ctx, h.draft("Incidents(1)/attachments(a2)")))
		h.flush()

		draft, err := h.service.Metadata(ctx, h.draft("Incidents(1)/attachments(a3)"))
		require.NoError(t, err)

		require.NoError(t, h.service.SaveDraft(ctx, h.draft("Incidents(1)")))
		h.flush()

		active, err := h.service.Metadata(ctx, h.target("Incidents(1)/attachments(a3)"))
		require.NoError(t, err)
		assert.True(t, active.IsActiveEntity)
		assert.Equal(t, draft.URL, active.URL)
		assert.Equal(t, draft.Hash, active.Hash)
		assert.Equal(t, sha256Hex("new content"), active.Hash)
		assert.Equal(t, "new content", h.read(h.target("Incidents(1)/attachments(a3)")))
		assert.Equal(t, "keep", h.read(h.target("Incidents(1)/attachments(a1)")))

		_, err = h.service.Metadata(ctx, h.target("Incidents(1)/attachments(a2)"))
		assert.Equal(t, http.StatusNotFound, StatusOf(err))

		drafts, err := h.service.List(ctx, h.draft("Incidents(1)/attachments"))
		require.NoError(t, err)
		assert.Empty(t, drafts)

		if h.backend.Kind() != storage.KindDatabase {
			assert.True(t, h.exists(kept))
			assert.False(t, h.exists(removed))
			assert.True(t, h.exists(uploaded))
		}
	})
}

func TestDiscardDraftRemovesDraftOnlyContent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		existing := h.upload(h.target("Incidents(1)/attachments"), "a1", "keep.txt", "keep")
		_, err := h.service.EditDraft(ctx, h.draft("Incidents(1)"))
		require.NoError(t, err)

		uploaded := h.upload(h.draft("Incidents(1)/conversations(7)/attachments"), "c1", "draft.txt", "draft only")

		orphaned, err := h.service.AttachDraftDeletionData(ctx, h.draft("Incidents(1)"))
		require.NoError(t, err)
		require.Len(t, orphaned, 1)
		assert.Equal(t, uploaded.URL, orphaned[0].URL)

		require.NoError(t, h.service.DiscardDraft(ctx, h.draft("Incidents(1)")))
		h.flush()

		assert.False(t, h.exists(uploaded))
		assert.True(t, h.exists(existing))
		assert.Equal(t, "keep", h.read(h.target("Incidents(1)/attachments(a1)")))

		content, err := h.service.Get(ctx, h.target("Incidents(1)/conversations(7)/attachments(c1)"))
		require.NoError(t, err)
		assert.Nil(t, content)
	})
}

func TestDraftSaveHandlerIsBoundToOneEntity(t *testing.T) {
	h := newHarness(t, storage.KindDatabase, Config{})
	ctx := context.Background()

	h.upload(h.draft("Incidents(1)/attachments"), "a1", "one.txt", "one")
	h.upload(h.draft("Incidents(1)/conversations(7)/attachments"), "c1", "chat.txt", "chat")
	h.flush()

	entity, ok := h.model.Entity("Incidents.attachments")
	require.True(t, ok)
	require.NoError(t, h.service.DraftSaveHandler(entity)(ctx, h.draft("Incidents(1)")))
	h.flush()

	assert.Equal(t, "one", h.read(h.target("Incidents(1)/attachments(a1)")))
	content, err := h.service.Get(ctx, h.target("Incidents(1)/conversations(7)/attachments(c1)"))
	require.NoError(t, err)
	assert.Nil(t, content)
}

func TestDraftOperationsRequireDraftEntity(t *testing.T) {
	h := newHarness(t, storage.KindMemory, Config{})
	images := h.target("Images").WithKeys(schema.Keys{"ID": "i1"})
	images.Draft = true

	err := h.service.SaveDraft(context.Background(), images)
	assert.Equal(t, http.StatusBadRequest, StatusOf(err))
}

// failingContentStore rejects content writes against active rows.
type failingContentStore struct {
	store.MetadataStore
}

func (f *failingContentStore) Transaction(ctx context.Context, fn func(tx store.MetadataStore) error) error {
	return f.MetadataStore.Transaction(ctx, func(tx store.MetadataStore) error {
		return fn(&failingContentStore{MetadataStore: tx})
	})
}

func (f *failingContentStore) WriteContent(ctx context.Context, ref models.AttachmentRef, url string, content []byte) (bool, error) {
	if ref.IsActiveEntity {
		return false, errors.New("disk full")
	}
	return f.MetadataStore.WriteContent(ctx, ref, url, content)
}

func TestSaveDraftKeepsActiveContentWhenWriteFails(t *testing.T) {
	h := newHarness(t, storage.KindDatabase, Config{})
	ctx := context.Background()

	h.upload(h.target("Incidents(1)/attachments"), "a1", "one.txt", "old")
	h.flush()
	_, err := h.service.EditDraft(ctx, h.draft("Incidents(1)"))
	require.NoError(t, err)
	h.upload(h.draft("Incidents(1)/attachments"), "a1", "one.txt", "new")
	h.flush()

	h.service.store = &failingContentStore{MetadataStore: h.store}
	require.Error(t, h.service.SaveDraft(ctx, h.draft("Incidents(1)")))

	assert.Equal(t, "old", h.read(h.target("Incidents(1)/attachments(a1)")))
	assert.Equal(t, "new", h.read(h.draft("Incidents(1)/attachments(a1)")))

	// A retried save succeeds once writes work again.
	h.service.store = h.store
	require.NoError(t, h.service.SaveDraft(ctx, h.draft("Incidents(1)")))
	h.flush()
	assert.Equal(t, "new", h.read(h.target("Incidents(1)/attachments(a1)")))
}
