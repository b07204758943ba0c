// Package events delivers the asynchronous messages exchanged between the
// attachment service and its background consumers.
package events

import (
	"context"

	"github.com/mwantia/goattach/pkg/db/models"
)

type Type string

const (
	// TypeScanAttachmentsFile requests a malware scan of stored content.
	TypeScanAttachmentsFile Type = "ScanAttachmentsFile"
	// TypeDeleteAttachment requests removal of a blob whose row is gone.
	TypeDeleteAttachment Type = "DeleteAttachment"
)

// Event is one queued message. Handlers receive a context carrying Tenant.
type Event struct {
	Type    Type
	Tenant  string
	Payload any
	Attempt int
}

// ScanAttachmentsFile identifies the row whose content should be scanned.
type ScanAttachmentsFile struct {
	Ref models.AttachmentRef
	URL string
}

// DeleteAttachment identifies a blob to remove once no row references URL.
type DeleteAttachment struct {
	Ref models.AttachmentRef
	URL string
}

// Handler consumes events of one type. Returning an error schedules a retry
// unless it is wrapped with backoff.Permanent.
type Handler func(ctx context.Context, event Event) error

// Emitter publishes events. The tenant is taken from ctx.
type Emitter interface {
	Emit(ctx context.Context, typ Type, payload any) error
}
