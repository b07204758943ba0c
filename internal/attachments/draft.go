package attachments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mwantia/goattach/internal/schema"
	"github.com/mwantia/goattach/pkg/db/models"
	"github.com/mwantia/goattach/pkg/db/store"
	"github.com/mwantia/goattach/pkg/storage"
)

func requireDraftEntity(parent schema.Target) error {
	if !parent.Item || !parent.Entity.Draft {
		return NewValidationError(http.StatusBadRequest, CodeInvalidRequest,
			fmt.Sprintf("'%s' is not a draft enabled instance", parent), nil)
	}
	return nil
}

func rowKey(row models.Attachment) string {
	return row.Entity + "/" + row.ID
}

// EditDraft opens an edit session: every active attachment below parent is
// copied into the draft shadow without its content. Rows that already have
// a draft are left untouched.
func (s *Service) EditDraft(ctx context.Context, parent schema.Target) (int, error) {
	if err := requireDraftEntity(parent); err != nil {
		return 0, err
	}

	actives, err := s.scopeRows(ctx, parent, "", true)
	if err != nil {
		return 0, err
	}

	copied := 0
	err = s.store.Transaction(ctx, func(tx store.MetadataStore) error {
		for _, active := range actives {
			draft := active
			draft.IsActiveEntity = false
			draft.Content = nil
			draft.CreatedAt = time.Time{}
			draft.UpdatedAt = time.Time{}

			if _, err := tx.GetAttachment(ctx, draft.Ref()); err == nil {
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}

			if err := tx.CreateAttachment(ctx, &draft); err != nil {
				return err
			}
			copied++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to open draft of '%s': %w", parent.InstancePath(), err)
	}

	s.log.Debug("Copied %d attachments of '%s' into draft", copied, parent.InstancePath())
	return copied, nil
}

// SaveDraft activates the draft of parent. Draft rows are reconciled into
// active rows, active rows missing from the draft are removed together with
// their content, and the draft shadow is dropped.
func (s *Service) SaveDraft(ctx context.Context, parent schema.Target) error {
	if err := requireDraftEntity(parent); err != nil {
		return err
	}

	drafts, err := s.scopeRows(ctx, parent, "", false)
	if err != nil {
		return err
	}
	actives, err := s.scopeRows(ctx, parent, "", true)
	if err != nil {
		return err
	}

	draftsByKey := make(map[string]models.Attachment, len(drafts))
	for _, draft := range drafts {
		draftsByKey[rowKey(draft)] = draft
	}

	var removed, superseded []Deletion
	for _, active := range actives {
		draft, ok := draftsByKey[rowKey(active)]
		switch {
		case !ok:
			removed = append(removed, Deletion{Ref: active.Ref(), URL: active.URL})
		case draft.URL != active.URL:
			superseded = append(superseded, Deletion{Ref: active.Ref(), URL: active.URL})
		}
	}

	var result *multierror.Error
	entities := parent.Entity.ContentEntities()
	for _, entity := range entities {
		if err := s.DraftSaveHandler(entity)(ctx, parent); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("failed to activate draft of '%s': %w", parent.InstancePath(), err)
	}

	err = s.store.Transaction(ctx, func(tx store.MetadataStore) error {
		for _, deletion := range append(removed, deletionsOf(drafts)...) {
			if err := tx.DeleteAttachment(ctx, deletion.Ref); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to drop draft of '%s': %w", parent.InstancePath(), err)
	}

	s.log.Info("Activated draft of '%s' (%d attachments, %d removed)", parent.InstancePath(), len(drafts), len(removed))
	return s.DeleteAttachmentsWithKeys(ctx, append(removed, superseded...))
}

// DraftSaveHandler returns the activation step bound to one attachment
// entity. For the database backend draft content is put again against the
// active row, object stores only need the metadata promoted since draft and
// active rows share their url.
func (s *Service) DraftSaveHandler(entity *schema.Entity) func(ctx context.Context, parent schema.Target) error {
	return func(ctx context.Context, parent schema.Target) error {
		drafts, err := s.scopeRows(ctx, parent, entity.Name, false)
		if err != nil {
			return err
		}

		var result *multierror.Error
		for i := range drafts {
			if drafts[i].Entity != entity.Name {
				continue
			}
			if err := s.activate(ctx, &drafts[i]); err != nil {
				result = multierror.Append(result, fmt.Errorf("attachment '%s': %w", drafts[i].ID, err))
			}
		}
		return result.ErrorOrNil()
	}
}

func (s *Service) activate(ctx context.Context, draft *models.Attachment) error {
	active := *draft
	active.IsActiveEntity = true
	active.Content = nil
	active.CreatedAt = time.Time{}
	active.UpdatedAt = time.Time{}

	if s.backend.Kind() == storage.KindDatabase {
		hasContent, err := s.store.HasContent(ctx, draft.Ref())
		if err != nil {
			return err
		}

		if hasContent {
			content, err := s.store.ReadContent(ctx, draft.Ref())
			if err != nil {
				return err
			}
			if err := s.replaceContent(ctx, &active, content); err != nil {
				return err
			}
			return s.commit(ctx, &active)
		}
	}

	return s.store.UpsertAttachment(ctx, &active)
}

// replaceContent swaps the content column of row in one transaction so a
// failed write keeps the previous content.
func (s *Service) replaceContent(ctx context.Context, row *models.Attachment, content []byte) error {
	err := s.store.Transaction(ctx, func(tx store.MetadataStore) error {
		if err := tx.ClearContent(ctx, row.Ref()); err != nil {
			return err
		}
		written, err := tx.WriteContent(ctx, row.Ref(), row.URL, content)
		if err != nil {
			return err
		}
		if !written {
			return storage.ErrConflict
		}
		return nil
	})
	if err != nil {
		return s.backendFailure("replace", row, err)
	}
	return nil
}

// AttachDraftDeletionData collects the content uploaded into the draft of
// parent only: draft rows whose url no active row references.
func (s *Service) AttachDraftDeletionData(ctx context.Context, parent schema.Target) ([]Deletion, error) {
	drafts, err := s.scopeRows(ctx, parent, "", false)
	if err != nil {
		return nil, err
	}
	actives, err := s.scopeRows(ctx, parent, "", true)
	if err != nil {
		return nil, err
	}

	referenced := make(map[string]bool, len(actives))
	for _, active := range actives {
		referenced[active.URL] = true
	}

	var deletions []Deletion
	for _, draft := range drafts {
		if !referenced[draft.URL] {
			deletions = append(deletions, Deletion{Ref: draft.Ref(), URL: draft.URL})
		}
	}
	return deletions, nil
}

// DiscardDraft drops the draft of parent and removes content that was only
// uploaded into the draft.
func (s *Service) DiscardDraft(ctx context.Context, parent schema.Target) error {
	if err := requireDraftEntity(parent); err != nil {
		return err
	}

	orphaned, err := s.AttachDraftDeletionData(ctx, parent)
	if err != nil {
		return err
	}

	drafts, err := s.scopeRows(ctx, parent, "", false)
	if err != nil {
		return err
	}

	err = s.store.Transaction(ctx, func(tx store.MetadataStore) error {
		for _, draft := range drafts {
			if err := tx.DeleteAttachment(ctx, draft.Ref()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to discard draft of '%s': %w", parent.InstancePath(), err)
	}

	s.log.Info("Discarded draft of '%s' (%d attachments, %d orphaned)", parent.InstancePath(), len(drafts), len(orphaned))
	return s.DeleteAttachmentsWithKeys(ctx, orphaned)
}
