package scan

import (
	"context"
	"errors"
	"fmt"
	"io"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/mwantia/goattach/internal/attachments"
	"github.com/mwantia/goattach/internal/events"
	"github.com/mwantia/goattach/internal/metrics"
	"github.com/mwantia/goattach/pkg/db/models"
	"github.com/mwantia/goattach/pkg/log"
	"github.com/mwantia/goattach/pkg/storage"
)

// Coordinator consumes ScanAttachmentsFile events and records the verdict
// on every row sharing the scanned content.
type Coordinator struct {
	service  *attachments.Service
	scanner  Scanner
	observer metrics.Observer
	log      log.LoggerService
}

// NewCoordinator creates a coordinator. A nil scanner marks all content
// clean, which is what happens when scanning is disabled.
func NewCoordinator(service *attachments.Service, scanner Scanner, logger log.LoggerService, observer metrics.Observer) *Coordinator {
	return &Coordinator{
		service:  service,
		scanner:  scanner,
		observer: metrics.OrNop(observer),
		log:      log.OrDiscard(logger),
	}
}

// Handle is the events.Handler for TypeScanAttachmentsFile.
func (c *Coordinator) Handle(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ScanAttachmentsFile)
	if !ok {
		return backoff.Permanent(fmt.Errorf("unexpected payload %T for '%s'", event.Payload, event.Type))
	}

	rows, err := c.service.Referencing(ctx, payload.URL)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		c.log.Debug("Skipping scan of '%s', no attachment references it anymore", payload.URL)
		return nil
	}

	row := &rows[0]
	for i := range rows {
		if rows[i].Ref() == payload.Ref {
			row = &rows[i]
			break
		}
	}

	// Verdicts are final until a rescan sets the row back to Scanning, so
	// redelivered requests leave them alone.
	if row.Status != models.StatusUnscanned && row.Status != models.StatusScanning {
		c.log.Debug("Skipping scan of '%s', verdict '%s' already recorded", row.ID, row.Status)
		return nil
	}

	exists, err := c.service.HasContent(ctx, row)
	if err != nil {
		return err
	}
	if !exists {
		c.log.Warn("Skipping scan of '%s' (%s), its content is missing", row.ID, row.Filename)
		return nil
	}

	if c.scanner == nil || !c.service.ScanEnabled() {
		return c.record(ctx, payload.URL, models.StatusClean)
	}

	if err := c.service.UpdateStatusByURL(ctx, payload.URL, models.StatusScanning); err != nil {
		return err
	}

	verdict, err := c.scanner.Scan(ctx, func() (io.ReadCloser, error) {
		return c.service.Open(ctx, row)
	})
	if errors.Is(err, storage.ErrNotFound) {
		c.log.Warn("Content of '%s' (%s) vanished during its scan", row.ID, row.Filename)
		return nil
	}
	if err != nil {
		c.log.Error("Malware scan of '%s' (%s) failed: %v", row.ID, row.Filename, err)
		return c.record(ctx, payload.URL, models.StatusFailed)
	}

	if verdict.MalwareDetected {
		c.log.Warn("Malware detected in '%s' (%s)", row.ID, row.Filename)
		if err := c.service.DeleteInfectedByURL(ctx, payload.URL); err != nil {
			return err
		}
		c.observer.RecordVerdict(models.StatusInfected)
		return nil
	}

	return c.record(ctx, payload.URL, models.StatusClean)
}

func (c *Coordinator) record(ctx context.Context, url, status string) error {
	if err := c.service.UpdateStatusByURL(ctx, url, status); err != nil {
		return err
	}
	c.observer.RecordVerdict(status)
	return nil
}
