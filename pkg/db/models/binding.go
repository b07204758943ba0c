package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Binding stores the object store credentials bound to one tenant
type Binding struct {
	Tenant string `gorm:"primaryKey;type:text"`
	Kind   string `gorm:"type:text;not null"`

	// Backend specific credential fields (bucket, region, access keys, ...)
	Credentials datatypes.JSONMap `gorm:"type:text;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}
