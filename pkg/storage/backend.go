// Package storage implements the content backends attachments are stored in.
// Every variant satisfies the same Backend contract and is selected once at
// startup through New.
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/mwantia/goattach/pkg/db/models"
)

type Kind string

const (
	KindDatabase Kind = "db"
	KindS3       Kind = "s3"
	KindAzure    Kind = "azure"
	KindGCP      Kind = "gcp"
	KindMemory   Kind = "memory"
)

var (
	// ErrNotFound is returned by Get when the blob does not exist. All
	// variants map their native not-found answer onto it.
	ErrNotFound = errors.New("storage: object not found")
	// ErrConflict is returned by Put when the key already holds content.
	ErrConflict = errors.New("storage: object already exists")
	// ErrConfiguration marks missing or mismatching credentials. It is fatal
	// and never retried.
	ErrConfiguration = errors.New("storage: invalid configuration")
)

// Key identifies stored content. Object stores address blobs by URL, the
// database variant addresses the content column of Row.
type Key struct {
	URL string
	Row models.AttachmentRef
}

// KeyOf returns the storage key of an attachment row.
func KeyOf(attachment *models.Attachment) Key {
	return Key{URL: attachment.URL, Row: attachment.Ref()}
}

// Backend is the uniform content contract implemented by every variant.
type Backend interface {
	Kind() Kind

	// Put writes body under key. It fails with ErrConflict when content
	// already exists and never overwrites it.
	Put(ctx context.Context, key Key, body io.Reader, size int64) error

	// Get streams the content stored under key or fails with ErrNotFound.
	Get(ctx context.Context, key Key) (io.ReadCloser, error)

	// Delete removes the content. Deleting missing content is not an error.
	Delete(ctx context.Context, key Key) error

	// Exists reports whether content is stored under key.
	Exists(ctx context.Context, key Key) (bool, error)
}

// IsRemote reports whether the backend keeps content outside the metadata database.
func IsRemote(kind Kind) bool {
	return kind != KindDatabase
}
