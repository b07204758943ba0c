// Package attachments orchestrates attachment content across the metadata
// store, the configured storage backend and the asynchronous scan and
// deletion events.
package attachments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	config "github.com/mwantia/goattach/internal/config/server"
	"github.com/mwantia/goattach/internal/events"
	"github.com/mwantia/goattach/internal/schema"
	"github.com/mwantia/goattach/pkg/db/models"
	"github.com/mwantia/goattach/pkg/db/store"
	"github.com/mwantia/goattach/pkg/log"
	"github.com/mwantia/goattach/pkg/storage"
	"github.com/mwantia/goattach/pkg/tenant"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	ScanEnabled bool
	// ScanExpiry is the age after which a clean verdict is no longer trusted.
	ScanExpiry time.Duration
	Tenancy    string
}

// Record is one attachment submitted for creation or upload.
type Record struct {
	ID       string
	Filename string
	MimeType string
	Note     string
	UpKeys   schema.Keys
	Content  io.Reader
	// Size of Content, -1 when unknown
	Size int64
}

// Content is an attachment row together with its content stream. The
// caller must close Body.
type Content struct {
	Attachment *models.Attachment
	Body       io.ReadCloser
}

// Status is the scan state used by the read gate.
type Status struct {
	Status   string     `json:"status"`
	LastScan *time.Time `json:"lastScan,omitempty"`

	row *models.Attachment
}

type Service struct {
	store   store.MetadataStore
	backend storage.Backend
	events  events.Emitter
	cfg     Config
	log     log.LoggerService
	now     func() time.Time
}

func NewService(s store.MetadataStore, backend storage.Backend, emitter events.Emitter, cfg Config, logger log.LoggerService) *Service {
	return &Service{
		store:   s,
		backend: backend,
		events:  emitter,
		cfg:     cfg,
		log:     log.OrDiscard(logger),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Backend returns the storage backend content is written to.
func (s *Service) Backend() storage.Backend {
	return s.backend
}

// Create persists the metadata of a new attachment. Content is written as
// well when rec carries any.
func (s *Service) Create(ctx context.Context, target schema.Target, rec Record) (*models.Attachment, error) {
	if err := requireContentEntity(target); err != nil {
		return nil, err
	}

	row, err := s.newRow(ctx, target, rec)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateAttachment(ctx, row); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, NewConflictError(row.ID, row.Filename, err)
		}
		return nil, fmt.Errorf("failed to create attachment '%s': %w", row.ID, err)
	}
	s.log.Debug("Created attachment '%s' (%s) for '%s'", row.ID, row.Entity, row.ParentPath)

	if rec.Content == nil {
		return row, nil
	}
	if err := s.write(ctx, target.Entity, row, rec.Content, rec.Size); err != nil {
		return nil, err
	}
	return row, nil
}

// Put uploads content for every record. Existing content on any target key
// rejects the whole batch. Past that check records are written concurrently
// and independently: failures are aggregated and successful siblings kept.
// The returned slice holds nil for failed records.
func (s *Service) Put(ctx context.Context, target schema.Target, recs ...Record) ([]*models.Attachment, error) {
	if err := requireContentEntity(target); err != nil {
		return nil, err
	}

	rows := make([]*models.Attachment, len(recs))
	for i, rec := range recs {
		if rec.Content == nil {
			return nil, NewValidationError(http.StatusBadRequest, CodeInvalidRequest,
				fmt.Sprintf("record '%s' carries no content", rec.Filename), nil)
		}

		row, err := s.rowForPut(ctx, target, rec)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}

	var conflicts []string
	for _, row := range rows {
		exists, err := s.backend.Exists(ctx, storage.KeyOf(row))
		if err != nil {
			return nil, s.backendFailure("check", row, err)
		}
		if exists {
			conflicts = append(conflicts, row.ID)
		}
	}
	if len(conflicts) > 0 {
		return nil, NewConflictError(strings.Join(conflicts, ", "), "", storage.ErrConflict)
	}

	if len(rows) == 1 {
		if err := s.write(ctx, target.Entity, rows[0], recs[0].Content, recs[0].Size); err != nil {
			return []*models.Attachment{nil}, err
		}
		return rows, nil
	}

	errs := make([]error, len(rows))
	var group errgroup.Group
	for i := range rows {
		group.Go(func() error {
			if err := s.write(ctx, target.Entity, rows[i], recs[i].Content, recs[i].Size); err != nil {
				errs[i] = fmt.Errorf("attachment '%s': %w", rows[i].ID, err)
				return errs[i]
			}
			return nil
		})
	}
	if err := group.Wait(); err == nil {
		return rows, nil
	}

	var result *multierror.Error
	for i, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
			rows[i] = nil
		}
	}
	return rows, result.ErrorOrNil()
}

// PutContent uploads content for an existing attachment row.
func (s *Service) PutContent(ctx context.Context, target schema.Target, body io.Reader, size int64) (*models.Attachment, error) {
	if err := requireContentEntity(target); err != nil {
		return nil, err
	}

	row, err := s.lookup(ctx, refOf(target))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFoundError(target.ID())
		}
		return nil, err
	}

	exists, err := s.backend.Exists(ctx, storage.KeyOf(row))
	if err != nil {
		return nil, s.backendFailure("check", row, err)
	}
	if exists {
		return nil, NewConflictError(row.ID, row.Filename, storage.ErrConflict)
	}

	if err := s.write(ctx, target.Entity, row, body, size); err != nil {
		return nil, err
	}
	return row, nil
}

// write stores content and then, strictly in this order, upserts the
// metadata, persists the hash of the stored bytes and requests a scan.
func (s *Service) write(ctx context.Context, entity *schema.Entity, row *models.Attachment, body io.Reader, size int64) error {
	key := storage.KeyOf(row)

	if err := s.backend.Put(ctx, key, LimitReader(entity, body), size); err != nil {
		var verr *Error
		switch {
		case errors.As(err, &verr):
			return verr
		case errors.Is(err, storage.ErrConflict):
			return NewConflictError(row.ID, row.Filename, err)
		default:
			return s.backendFailure("write", row, err)
		}
	}
	return s.commit(ctx, row)
}

// commit runs the pipeline steps that follow a successful content write.
func (s *Service) commit(ctx context.Context, row *models.Attachment) error {
	key := storage.KeyOf(row)

	row.Hash = ""
	row.Status = models.StatusUnscanned
	row.LastScan = nil
	if err := s.store.UpsertAttachment(ctx, row); err != nil {
		return fmt.Errorf("failed to persist metadata of '%s': %w", row.ID, err)
	}

	hash, err := s.hash(ctx, key)
	if err != nil {
		return err
	}
	if err := s.store.UpdateAttachment(ctx, row.Ref(), map[string]any{"hash": hash}); err != nil {
		return fmt.Errorf("failed to persist hash of '%s': %w", row.ID, err)
	}
	row.Hash = hash

	s.log.Info("Stored content of '%s' (%s) in %s backend", row.ID, row.Filename, s.backend.Kind())
	return s.requestScan(ctx, row)
}

func (s *Service) hash(ctx context.Context, key storage.Key) (string, error) {
	body, err := s.backend.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to re-read content for hashing: %w", err)
	}
	defer body.Close()

	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *Service) requestScan(ctx context.Context, row *models.Attachment) error {
	err := s.events.Emit(ctx, events.TypeScanAttachmentsFile, events.ScanAttachmentsFile{
		Ref: row.Ref(),
		URL: row.URL,
	})
	if err != nil {
		return fmt.Errorf("failed to request scan of '%s': %w", row.ID, err)
	}
	return nil
}

// Get returns the attachment and its content. A draft target without a
// draft row falls back to the active row. It returns nil without error when
// no metadata row exists, and a wrapped storage.ErrNotFound when the row
// exists but its content is missing.
func (s *Service) Get(ctx context.Context, target schema.Target) (*Content, error) {
	row, err := s.lookupWithFallback(ctx, refOf(target))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	body, err := s.open(ctx, row)
	if err != nil {
		return nil, err
	}
	return &Content{Attachment: row, Body: body}, nil
}

// open streams the content of row. Draft rows copied without content read
// the content of their active counterpart.
func (s *Service) open(ctx context.Context, row *models.Attachment) (io.ReadCloser, error) {
	body, err := s.backend.Get(ctx, storage.KeyOf(row))
	if errors.Is(err, storage.ErrNotFound) && !row.IsActiveEntity {
		active, aerr := s.lookup(ctx, row.Ref().Active())
		if aerr == nil && active.URL == row.URL {
			body, err = s.backend.Get(ctx, storage.KeyOf(active))
		}
	}

	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, s.backendFailure("read", row, err)
		}
		return nil, fmt.Errorf("content of '%s' is missing: %w", row.ID, err)
	}
	return body, nil
}

// Metadata returns the attachment row without content.
func (s *Service) Metadata(ctx context.Context, target schema.Target) (*models.Attachment, error) {
	row, err := s.lookupWithFallback(ctx, refOf(target))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFoundError(target.ID())
		}
		return nil, err
	}
	return row, nil
}

// List returns the attachments of the collection addressed by target.
func (s *Service) List(ctx context.Context, target schema.Target) ([]models.Attachment, error) {
	if err := requireContentEntity(target); err != nil {
		return nil, err
	}

	active := !target.Draft
	return s.store.ListAttachments(ctx, models.AttachmentFilter{
		Entity:         target.Entity.Name,
		IsActiveEntity: &active,
		ParentPath:     target.ParentPath(),
		Tenant:         tenant.FromContext(ctx),
	})
}

// updatableFields lists what clients may change. Hash and scan state are
// only written by the upload pipeline and the scan coordinator.
var updatableFields = map[string]string{
	"note": "note",
}

// Update changes client editable metadata of the addressed row. Content
// can never be changed this way.
func (s *Service) Update(ctx context.Context, target schema.Target, fields map[string]any) (*models.Attachment, error) {
	columns := make(map[string]any, len(fields))
	for name, value := range fields {
		column, ok := updatableFields[name]
		if !ok {
			return nil, NewValidationError(http.StatusBadRequest, CodeInvalidRequest,
				fmt.Sprintf("field '%s' cannot be updated", name), map[string]any{"field": name})
		}
		columns[column] = value
	}
	if len(columns) == 0 {
		return s.Metadata(ctx, target)
	}

	ref := refOf(target)
	if _, err := s.lookup(ctx, ref); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFoundError(target.ID())
		}
		return nil, err
	}

	if err := s.store.UpdateAttachment(ctx, ref, columns); err != nil {
		return nil, fmt.Errorf("failed to update attachment '%s': %w", ref.ID, err)
	}
	return s.lookup(ctx, ref)
}

// GetStatus returns the scan status of the addressed row.
func (s *Service) GetStatus(ctx context.Context, target schema.Target) (Status, error) {
	row, err := s.Metadata(ctx, target)
	if err != nil {
		return Status{}, err
	}
	return Status{Status: row.Status, LastScan: row.LastScan, row: row}, nil
}

// UpdateStatus sets the scan status of the row and of every row sharing its
// content. Verdicts also refresh the time of the last scan.
func (s *Service) UpdateStatus(ctx context.Context, ref models.AttachmentRef, status string) error {
	row, err := s.lookup(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to update status of '%s': %w", ref.ID, err)
	}
	return s.UpdateStatusByURL(ctx, row.URL, status)
}

// UpdateStatusByURL sets the scan status of every row referencing url.
func (s *Service) UpdateStatusByURL(ctx context.Context, url, status string) error {
	var scannedAt *time.Time
	if status != models.StatusScanning && status != models.StatusUnscanned {
		now := s.now()
		scannedAt = &now
	}

	updated, err := s.store.UpdateStatusByURL(ctx, url, status, scannedAt)
	if err != nil {
		return fmt.Errorf("failed to update status of '%s': %w", url, err)
	}
	s.log.Debug("Set status '%s' on %d rows of '%s'", status, updated, url)
	return nil
}

// DeleteInfected erases the content of the row while keeping its metadata.
func (s *Service) DeleteInfected(ctx context.Context, ref models.AttachmentRef) error {
	row, err := s.lookup(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to delete infected '%s': %w", ref.ID, err)
	}
	return s.DeleteInfectedByURL(ctx, row.URL)
}

// DeleteInfectedByURL erases the content shared by every row referencing url
// and marks those rows as infected.
func (s *Service) DeleteInfectedByURL(ctx context.Context, url string) error {
	rows, err := s.store.ListAttachments(ctx, models.AttachmentFilter{URL: url})
	if err != nil {
		return err
	}

	var result *multierror.Error
	if s.backend.Kind() == storage.KindDatabase {
		for i := range rows {
			if err := s.backend.Delete(ctx, storage.KeyOf(&rows[i])); err != nil {
				result = multierror.Append(result, err)
			}
		}
	} else {
		key := storage.Key{URL: url}
		if len(rows) > 0 {
			key = storage.KeyOf(&rows[0])
		}
		if err := s.backend.Delete(ctx, key); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("failed to erase infected content '%s': %w", url, err)
	}

	for i := range rows {
		if err := s.store.UpdateAttachment(ctx, rows[i].Ref(), map[string]any{"hash": ""}); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	s.log.Warn("Erased infected content '%s' of %d attachments", url, len(rows))
	return s.UpdateStatusByURL(ctx, url, models.StatusInfected)
}

// Referencing returns every row whose content lives under url.
func (s *Service) Referencing(ctx context.Context, url string) ([]models.Attachment, error) {
	return s.store.ListAttachments(ctx, models.AttachmentFilter{URL: url})
}

// Open streams the content of row for background consumers such as the
// scan coordinator.
func (s *Service) Open(ctx context.Context, row *models.Attachment) (io.ReadCloser, error) {
	return s.open(ctx, row)
}

// ScanEnabled reports whether stored content is scanned for malware.
func (s *Service) ScanEnabled() bool {
	return s.cfg.ScanEnabled
}

func (s *Service) rowForPut(ctx context.Context, target schema.Target, rec Record) (*models.Attachment, error) {
	if rec.ID != "" {
		ref := models.AttachmentRef{Entity: target.Entity.Name, ID: rec.ID, IsActiveEntity: !target.Draft}
		row, err := s.lookup(ctx, ref)
		if err == nil {
			return row, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return s.newRow(ctx, target, rec)
}

func (s *Service) newRow(ctx context.Context, target schema.Target, rec Record) (*models.Attachment, error) {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}

	mimeType := rec.MimeType
	if mimeType == "" {
		var known bool
		if mimeType, known = MimeTypeOf(rec.Filename); !known {
			s.log.Warn("Unable to determine mime type of '%s', using '%s'", rec.Filename, mimeType)
		}
	}
	if err := ValidateMimeType(target.Entity, mimeType); err != nil {
		return nil, err
	}

	row := &models.Attachment{
		Entity:         target.Entity.Name,
		ID:             id,
		IsActiveEntity: !target.Draft,
		Tenant:         tenant.FromContext(ctx),
		Filename:       rec.Filename,
		MimeType:       mimeType,
		Note:           rec.Note,
		URL:            s.newURL(ctx),
	}
	if err := PopulateParentKeys(target, row, rec.UpKeys); err != nil {
		return nil, err
	}
	return row, nil
}

// newURL generates a backend key. Tenants sharing one object store are
// separated by prefixing the key with the tenant id.
func (s *Service) newURL(ctx context.Context) string {
	id := uuid.NewString()
	if s.cfg.Tenancy == config.TenancyShared {
		if t := tenant.FromContext(ctx); t != "" {
			return t + "_" + id
		}
	}
	return id
}

func (s *Service) lookup(ctx context.Context, ref models.AttachmentRef) (*models.Attachment, error) {
	row, err := s.store.GetAttachment(ctx, ref)
	if err != nil {
		return nil, err
	}

	if t := tenant.FromContext(ctx); t != "" && row.Tenant != "" && row.Tenant != t {
		return nil, store.ErrNotFound
	}
	return row, nil
}

func (s *Service) lookupWithFallback(ctx context.Context, ref models.AttachmentRef) (*models.Attachment, error) {
	row, err := s.lookup(ctx, ref)
	if errors.Is(err, store.ErrNotFound) && !ref.IsActiveEntity {
		return s.lookup(ctx, ref.Active())
	}
	return row, err
}

func (s *Service) backendFailure(operation string, row *models.Attachment, err error) error {
	hint := "check backend connectivity"
	if errors.Is(err, storage.ErrConfiguration) {
		hint = "check the configured credentials and tenant bindings"
	}
	s.log.Error("Failed to %s content of '%s' in %s backend: %v (%s)", operation, row.ID, s.backend.Kind(), err, hint)
	return fmt.Errorf("failed to %s content of '%s': %w", operation, row.ID, err)
}

func refOf(target schema.Target) models.AttachmentRef {
	return models.AttachmentRef{
		Entity:         target.Entity.Name,
		ID:             target.ID(),
		IsActiveEntity: !target.Draft,
	}
}

func requireContentEntity(target schema.Target) error {
	if !target.Entity.HoldsContent() {
		return NewValidationError(http.StatusBadRequest, CodeInvalidRequest,
			fmt.Sprintf("'%s' does not hold attachments", target.Entity.Name), nil)
	}
	return nil
}
