package store

import (
	"context"
	"errors"
	"time"

	"github.com/mwantia/goattach/pkg/db/models"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a created row already exists.
var ErrConflict = errors.New("record already exists")

// MetadataStore defines the interface for database operations
type MetadataStore interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	Health(ctx context.Context) error

	// Transaction runs fn against a store bound to a single database transaction.
	Transaction(ctx context.Context, fn func(tx MetadataStore) error) error

	// Attachment operations
	CreateAttachment(ctx context.Context, attachment *models.Attachment) error
	UpsertAttachment(ctx context.Context, attachment *models.Attachment) error
	GetAttachment(ctx context.Context, ref models.AttachmentRef) (*models.Attachment, error)
	ListAttachments(ctx context.Context, filter models.AttachmentFilter) ([]models.Attachment, error)
	UpdateAttachment(ctx context.Context, ref models.AttachmentRef, fields map[string]any) error
	UpdateStatusByURL(ctx context.Context, url, status string, scannedAt *time.Time) (int64, error)
	DeleteAttachment(ctx context.Context, ref models.AttachmentRef) error
	DeleteAttachments(ctx context.Context, filter models.AttachmentFilter) (int64, error)
	CountAttachmentsByURL(ctx context.Context, url string) (int64, error)

	// Content column operations used by the database storage backend
	WriteContent(ctx context.Context, ref models.AttachmentRef, url string, content []byte) (bool, error)
	ReadContent(ctx context.Context, ref models.AttachmentRef) ([]byte, error)
	HasContent(ctx context.Context, ref models.AttachmentRef) (bool, error)
	ClearContent(ctx context.Context, ref models.AttachmentRef) error

	// Binding operations
	PutBinding(ctx context.Context, binding *models.Binding) error
	GetBinding(ctx context.Context, tenant string) (*models.Binding, error)
	ListBindings(ctx context.Context) ([]models.Binding, error)
	DeleteBinding(ctx context.Context, tenant string) error
}
