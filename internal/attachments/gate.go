package attachments

import (
	"context"
	"fmt"
	"time"

	"github.com/mwantia/goattach/internal/events"
	"github.com/mwantia/goattach/internal/schema"
	"github.com/mwantia/goattach/pkg/db/models"
	"github.com/mwantia/goattach/pkg/db/store"
	"github.com/mwantia/goattach/pkg/storage"
	"github.com/mwantia/goattach/pkg/tenant"
)

const rescanEmitTimeout = 10 * time.Second

// CheckReadable gates content reads on the scan status of the addressed
// row. It returns nil when the content may be served.
func (s *Service) CheckReadable(ctx context.Context, target schema.Target) error {
	status, err := s.GetStatus(ctx, target)
	if err != nil {
		return err
	}
	row := status.row

	if status.Status == models.StatusUnscanned {
		exists, err := s.HasContent(ctx, row)
		if err != nil {
			return err
		}
		if !exists {
			return NewNoContentError(row.ID)
		}
		return NewNotFoundError(row.ID)
	}

	if !s.cfg.ScanEnabled {
		return nil
	}

	if status.Status != models.StatusClean {
		return NewForbiddenError(row.ID, status.Status)
	}

	if s.expired(status.LastScan) {
		if err := s.rescan(ctx, row); err != nil {
			return err
		}
		s.log.Info("Scan verdict of '%s' expired, requested rescan", row.ID)
		return NewScanPendingError(row.ID)
	}

	return nil
}

// HasContent reports whether content is stored for row. Draft rows copied
// without content report the content of their active counterpart.
func (s *Service) HasContent(ctx context.Context, row *models.Attachment) (bool, error) {
	exists, err := s.backend.Exists(ctx, storage.KeyOf(row))
	if err != nil {
		return false, s.backendFailure("check", row, err)
	}
	if !exists && !row.IsActiveEntity {
		if active, aerr := s.lookup(ctx, row.Ref().Active()); aerr == nil && active.URL == row.URL {
			exists, _ = s.backend.Exists(ctx, storage.KeyOf(active))
		}
	}
	return exists, nil
}

func (s *Service) expired(lastScan *time.Time) bool {
	if s.cfg.ScanExpiry <= 0 || lastScan == nil {
		return false
	}
	return s.now().Sub(*lastScan) > s.cfg.ScanExpiry
}

// Rescan marks the content of the addressed row as scanning and requests a
// new scan. Infected rows and rows without content are rejected.
func (s *Service) Rescan(ctx context.Context, target schema.Target) error {
	row, err := s.Metadata(ctx, target)
	if err != nil {
		return err
	}

	if row.Status == models.StatusInfected {
		return NewRescanRejectedError(row.ID, "its content was erased as infected")
	}
	exists, err := s.HasContent(ctx, row)
	if err != nil {
		return err
	}
	if !exists {
		return NewRescanRejectedError(row.ID, "it has no content")
	}

	if err := s.rescan(ctx, row); err != nil {
		return err
	}
	s.log.Info("Requested rescan of '%s'", row.ID)
	return nil
}

// rescan commits the Scanning status in its own transaction before the scan
// is requested, detached from the cancellation of the calling request.
func (s *Service) rescan(ctx context.Context, row *models.Attachment) error {
	err := s.store.Transaction(ctx, func(tx store.MetadataStore) error {
		_, err := tx.UpdateStatusByURL(ctx, row.URL, models.StatusScanning, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to mark '%s' for rescan: %w", row.ID, err)
	}

	detached, cancel := context.WithTimeout(tenant.Detach(ctx), rescanEmitTimeout)
	defer cancel()

	if err := s.events.Emit(detached, events.TypeScanAttachmentsFile, events.ScanAttachmentsFile{
		Ref: row.Ref(),
		URL: row.URL,
	}); err != nil {
		s.log.Error("Failed to request rescan of '%s': %v", row.ID, err)
		return fmt.Errorf("failed to request rescan of '%s': %w", row.ID, err)
	}

	return nil
}
