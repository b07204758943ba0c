package models

import (
	"time"

	"gorm.io/datatypes"
)

// Scan verdicts stored in Attachment.Status. An empty status means the
// content was never scanned.
const (
	StatusUnscanned = ""
	StatusScanning  = "Scanning"
	StatusClean     = "Clean"
	StatusInfected  = "Infected"
	StatusFailed    = "Failed"
)

// Attachment represents the metadata row of one attached file. Draft shadow
// rows share Entity and ID with their active counterpart.
type Attachment struct {
	Entity         string `gorm:"primaryKey;type:text"`
	ID             string `gorm:"primaryKey;type:text"`
	IsActiveEntity bool   `gorm:"primaryKey"`

	// Owning parent
	UpKeys     datatypes.JSONMap `gorm:"type:text"`
	ParentPath string            `gorm:"type:text;index:idx_attachment_parent"`
	Tenant     string            `gorm:"type:text;index"`

	// File metadata
	Filename string `gorm:"type:text"`
	MimeType string `gorm:"type:text"`
	URL      string `gorm:"type:text;index:idx_attachment_url"`
	Content  []byte
	Hash     string `gorm:"type:text"`
	Note     string `gorm:"type:text"`

	// Malware scan
	Status   string `gorm:"type:text"`
	LastScan *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ref returns the primary key of the row.
func (a *Attachment) Ref() AttachmentRef {
	return AttachmentRef{Entity: a.Entity, ID: a.ID, IsActiveEntity: a.IsActiveEntity}
}

// AttachmentRef addresses exactly one attachment row.
type AttachmentRef struct {
	Entity         string
	ID             string
	IsActiveEntity bool
}

// Draft returns the draft counterpart of the referenced row.
func (r AttachmentRef) Draft() AttachmentRef {
	r.IsActiveEntity = false
	return r
}

// Active returns the active counterpart of the referenced row.
func (r AttachmentRef) Active() AttachmentRef {
	r.IsActiveEntity = true
	return r
}

// AttachmentFilter narrows list and bulk delete queries. Zero values are ignored.
type AttachmentFilter struct {
	Entity         string
	IsActiveEntity *bool
	ParentPath     string
	// ParentPathPrefix matches the parent and everything nested below it.
	ParentPathPrefix string
	URL              string
	Tenant           string
	WithContent      bool
	Limit            int
	Offset           int
}
