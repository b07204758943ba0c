package attachments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/mwantia/goattach/internal/events"
	"github.com/mwantia/goattach/internal/schema"
	"github.com/mwantia/goattach/pkg/db/models"
	"github.com/mwantia/goattach/pkg/db/store"
	"github.com/mwantia/goattach/pkg/storage"
	"github.com/mwantia/goattach/pkg/tenant"
)

// Deletion is a row staged for removal together with the content it references.
type Deletion struct {
	Ref models.AttachmentRef
	URL string
}

func deletionsOf(rows []models.Attachment) []Deletion {
	deletions := make([]Deletion, 0, len(rows))
	for _, row := range rows {
		deletions = append(deletions, Deletion{Ref: row.Ref(), URL: row.URL})
	}
	return deletions
}

// AttachDeletionData collects the rows removed when the addressed instance
// is deleted: the attachment itself, or every attachment nested at any
// depth below a host entity instance.
func (s *Service) AttachDeletionData(ctx context.Context, target schema.Target) ([]Deletion, error) {
	if !target.Item {
		return nil, NewValidationError(http.StatusBadRequest, CodeInvalidRequest,
			fmt.Sprintf("deleting the collection '%s' is not supported", target.Entity.Name), nil)
	}

	rows, err := s.scopeRows(ctx, target, "", !target.Draft)
	if err != nil {
		return nil, err
	}
	return deletionsOf(rows), nil
}

// DeleteAttachmentsWithKeys requests removal of the staged content. Blobs
// are removed by the DeleteAttachment consumer, never inline.
func (s *Service) DeleteAttachmentsWithKeys(ctx context.Context, deletions []Deletion) error {
	if s.backend.Kind() == storage.KindDatabase {
		return nil
	}

	var result *multierror.Error
	for _, deletion := range deletions {
		if deletion.URL == "" {
			continue
		}

		err := s.events.Emit(ctx, events.TypeDeleteAttachment, events.DeleteAttachment{
			Ref: deletion.Ref,
			URL: deletion.URL,
		})
		if err != nil {
			s.log.Error("Failed to request deletion of '%s': %v", deletion.URL, err)
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Delete removes the addressed attachment row and cascades the deletion of
// its content.
func (s *Service) Delete(ctx context.Context, target schema.Target) error {
	if err := requireContentEntity(target); err != nil {
		return err
	}

	deletions, err := s.AttachDeletionData(ctx, target)
	if err != nil {
		return err
	}
	if len(deletions) == 0 {
		return NewNotFoundError(target.ID())
	}

	return s.remove(ctx, deletions)
}

// DeleteParent removes every attachment nested below the addressed host
// entity instance and cascades the deletion of their content.
func (s *Service) DeleteParent(ctx context.Context, target schema.Target) error {
	if target.Entity.HoldsContent() {
		return s.Delete(ctx, target)
	}

	deletions, err := s.AttachDeletionData(ctx, target)
	if err != nil {
		return err
	}

	s.log.Debug("Deleting %d attachments below '%s'", len(deletions), target.InstancePath())
	return s.remove(ctx, deletions)
}

// UpdateParent applies a deep update of the addressed instance: attachments
// below compositions present in node but no longer listed are removed.
func (s *Service) UpdateParent(ctx context.Context, target schema.Target, node schema.Node) (int, error) {
	if !target.Item || target.Entity.HoldsContent() {
		return 0, NewValidationError(http.StatusBadRequest, CodeInvalidRequest,
			fmt.Sprintf("'%s' is not a host entity instance", target), nil)
	}
	if err := node.Validate(target.Entity); err != nil {
		return 0, NewValidationError(http.StatusBadRequest, CodeInvalidRequest, err.Error(), nil)
	}

	rows, err := s.scopeRows(ctx, target, "", !target.Draft)
	if err != nil {
		return 0, err
	}

	removed := collectRemoved(target.Entity, target.InstancePath(), node, rows)
	if len(removed) == 0 {
		return 0, nil
	}

	return len(removed), s.remove(ctx, removed)
}

// collectRemoved diffs node against the stored rows below instancePath.
func collectRemoved(entity *schema.Entity, instancePath string, node schema.Node, rows []models.Attachment) []Deletion {
	var removed []Deletion

	for _, composition := range entity.Compositions {
		children, present := node.Compositions[composition.Name]
		if !present {
			continue
		}

		child := composition.Target
		if child.HoldsContent() {
			keep := make(map[string]bool, len(children))
			for _, c := range children {
				keep[c.Keys["ID"]] = true
			}

			for _, row := range rows {
				if row.Entity == child.Name && row.ParentPath == instancePath && !keep[row.ID] {
					removed = append(removed, Deletion{Ref: row.Ref(), URL: row.URL})
				}
			}
			continue
		}

		kept := make(map[string]schema.Node, len(children))
		for _, c := range children {
			kept[fmt.Sprintf("%s(%s)", composition.Name, schema.FormatKeys(c.Keys, child.Keys))] = c
		}

		prefix := instancePath + "/"
		for _, row := range rows {
			if !strings.HasPrefix(row.ParentPath, prefix) {
				continue
			}

			segment, _, _ := strings.Cut(strings.TrimPrefix(row.ParentPath, prefix), "/")
			if !strings.HasPrefix(segment, composition.Name+"(") {
				continue
			}
			if _, ok := kept[segment]; !ok {
				removed = append(removed, Deletion{Ref: row.Ref(), URL: row.URL})
			}
		}

		for segment, c := range kept {
			removed = append(removed, collectRemoved(child, prefix+segment, c, rows)...)
		}
	}

	return removed
}

// remove deletes the staged rows in one transaction and cascades the
// content deletion afterwards.
func (s *Service) remove(ctx context.Context, deletions []Deletion) error {
	err := s.store.Transaction(ctx, func(tx store.MetadataStore) error {
		for _, deletion := range deletions {
			if err := tx.DeleteAttachment(ctx, deletion.Ref); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete attachments: %w", err)
	}

	return s.DeleteAttachmentsWithKeys(ctx, deletions)
}

// DeleteContent removes the content of the addressed row so new content can
// be uploaded. Object stores get a fresh url and the previous blob is
// removed through the deletion cascade.
func (s *Service) DeleteContent(ctx context.Context, target schema.Target) error {
	if err := requireContentEntity(target); err != nil {
		return err
	}

	row, err := s.lookup(ctx, refOf(target))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFoundError(target.ID())
		}
		return err
	}

	reset := map[string]any{"hash": "", "status": models.StatusUnscanned, "last_scan": nil}

	if s.backend.Kind() == storage.KindDatabase {
		if err := s.backend.Delete(ctx, storage.KeyOf(row)); err != nil {
			return s.backendFailure("delete", row, err)
		}
		return s.store.UpdateAttachment(ctx, row.Ref(), reset)
	}

	previous := Deletion{Ref: row.Ref(), URL: row.URL}
	reset["url"] = s.newURL(ctx)
	if err := s.store.UpdateAttachment(ctx, row.Ref(), reset); err != nil {
		return fmt.Errorf("failed to reset content of '%s': %w", row.ID, err)
	}

	return s.DeleteAttachmentsWithKeys(ctx, []Deletion{previous})
}

// DeleteBlob consumes DeleteAttachment events. Content still referenced by
// another row is kept, which makes redelivery harmless.
func (s *Service) DeleteBlob(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.DeleteAttachment)
	if !ok {
		return backoff.Permanent(fmt.Errorf("unexpected payload %T for '%s'", event.Payload, event.Type))
	}

	references, err := s.store.CountAttachmentsByURL(ctx, payload.URL)
	if err != nil {
		return err
	}
	if references > 0 {
		s.log.Debug("Keeping '%s', still referenced by %d attachments", payload.URL, references)
		return nil
	}

	if err := s.backend.Delete(ctx, storage.Key{URL: payload.URL, Row: payload.Ref}); err != nil {
		if errors.Is(err, storage.ErrConfiguration) {
			return backoff.Permanent(err)
		}
		s.log.Warn("Failed to delete '%s' for tenant '%s': %v (will retry)", payload.URL, tenant.FromContext(ctx), err)
		return err
	}

	s.log.Debug("Deleted content '%s'", payload.URL)
	return nil
}

// scopeRows lists the rows of the addressed instance. For host entities
// these are all attachments nested below it, optionally of one entity only.
func (s *Service) scopeRows(ctx context.Context, target schema.Target, entity string, active bool) ([]models.Attachment, error) {
	if target.Entity.HoldsContent() {
		ref := refOf(target)
		ref.IsActiveEntity = active

		row, err := s.lookup(ctx, ref)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return []models.Attachment{*row}, nil
	}

	return s.store.ListAttachments(ctx, models.AttachmentFilter{
		Entity:           entity,
		IsActiveEntity:   &active,
		ParentPathPrefix: target.InstancePath(),
		Tenant:           tenant.FromContext(ctx),
	})
}
