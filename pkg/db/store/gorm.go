package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwantia/goattach/pkg/db/migrations"
	"github.com/mwantia/goattach/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// metadataColumns are overwritten by an upsert. The content column is owned
// by the database storage backend and never touched here.
var metadataColumns = []string{
	"up_keys", "parent_path", "tenant", "filename", "mime_type",
	"url", "hash", "note", "status", "last_scan", "updated_at",
}

// GormStore implements MetadataStore on top of any GORM dialector
type GormStore struct {
	db *gorm.DB
}

// DB returns the underlying GORM database instance
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func openGorm(dialector gorm.Dialector, level logger.LogLevel) (*gorm.DB, error) {
	// Default to silent logging
	if level == 0 {
		level = logger.Silent
	}

	return gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
}

// ParseLogLevel maps a configured level name onto the GORM logger levels.
func ParseLogLevel(level string) logger.LogLevel {
	switch level {
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Silent
	}
}

// Connect verifies the database connection
func (s *GormStore) Connect(ctx context.Context) error {
	return s.Health(ctx)
}

// Close closes the database connection
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

// Migrate runs all pending versioned migrations
func (s *GormStore) Migrate(ctx context.Context) error {
	return migrations.NewMigrator(s.db).Migrate(ctx)
}

// Health checks database connectivity
func (s *GormStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx MetadataStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func whereRef(db *gorm.DB, ref models.AttachmentRef) *gorm.DB {
	return db.Where("entity = ? AND id = ? AND is_active_entity = ?", ref.Entity, ref.ID, ref.IsActiveEntity)
}

func applyFilter(db *gorm.DB, filter models.AttachmentFilter) *gorm.DB {
	if filter.Entity != "" {
		db = db.Where("entity = ?", filter.Entity)
	}
	if filter.IsActiveEntity != nil {
		db = db.Where("is_active_entity = ?", *filter.IsActiveEntity)
	}
	if filter.ParentPath != "" {
		db = db.Where("parent_path = ?", filter.ParentPath)
	}
	if filter.ParentPathPrefix != "" {
		db = db.Where("(parent_path = ? OR parent_path LIKE ?)", filter.ParentPathPrefix, filter.ParentPathPrefix+"/%")
	}
	if filter.URL != "" {
		db = db.Where("url = ?", filter.URL)
	}
	if filter.Tenant != "" {
		db = db.Where("tenant = ?", filter.Tenant)
	}
	if filter.WithContent {
		db = db.Where("content IS NOT NULL")
	}
	return db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Attachment operations

// CreateAttachment inserts a new row. Concurrent creators of the same
// reference are decided by the primary key, losers receive ErrConflict.
func (s *GormStore) CreateAttachment(ctx context.Context, attachment *models.Attachment) error {
	result := s.db.WithContext(ctx).
		Omit("content").
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(attachment)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: '%s'", ErrConflict, attachment.ID)
	}
	return nil
}

func (s *GormStore) UpsertAttachment(ctx context.Context, attachment *models.Attachment) error {
	return s.db.WithContext(ctx).
		Omit("content").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity"}, {Name: "id"}, {Name: "is_active_entity"}},
			DoUpdates: clause.AssignmentColumns(metadataColumns),
		}).
		Create(attachment).Error
}

func (s *GormStore) GetAttachment(ctx context.Context, ref models.AttachmentRef) (*models.Attachment, error) {
	var attachment models.Attachment
	err := whereRef(s.db.WithContext(ctx).Omit("content"), ref).Take(&attachment).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &attachment, nil
}

func (s *GormStore) ListAttachments(ctx context.Context, filter models.AttachmentFilter) ([]models.Attachment, error) {
	var attachments []models.Attachment
	query := applyFilter(s.db.WithContext(ctx).Omit("content"), filter)

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	err := query.Order("created_at, id").Find(&attachments).Error
	return attachments, err
}

func (s *GormStore) UpdateAttachment(ctx context.Context, ref models.AttachmentRef, fields map[string]any) error {
	if _, ok := fields["content"]; ok {
		return fmt.Errorf("content cannot be updated through metadata updates")
	}

	result := whereRef(s.db.WithContext(ctx).Model(&models.Attachment{}), ref).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) UpdateStatusByURL(ctx context.Context, url, status string, scannedAt *time.Time) (int64, error) {
	fields := map[string]any{"status": status}
	if scannedAt != nil {
		fields["last_scan"] = *scannedAt
	}

	result := s.db.WithContext(ctx).Model(&models.Attachment{}).Where("url = ?", url).Updates(fields)
	return result.RowsAffected, result.Error
}

func (s *GormStore) DeleteAttachment(ctx context.Context, ref models.AttachmentRef) error {
	return whereRef(s.db.WithContext(ctx), ref).Delete(&models.Attachment{}).Error
}

func (s *GormStore) DeleteAttachments(ctx context.Context, filter models.AttachmentFilter) (int64, error) {
	result := applyFilter(s.db.WithContext(ctx), filter).Delete(&models.Attachment{})
	return result.RowsAffected, result.Error
}

func (s *GormStore) CountAttachmentsByURL(ctx context.Context, url string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Attachment{}).Where("url = ?", url).Count(&count).Error
	return count, err
}

// Content operations

// WriteContent stores content on the referenced row unless the row already
// holds content. It reports false when the write lost against existing content.
func (s *GormStore) WriteContent(ctx context.Context, ref models.AttachmentRef, url string, content []byte) (bool, error) {
	written := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skeleton := models.Attachment{Entity: ref.Entity, ID: ref.ID, IsActiveEntity: ref.IsActiveEntity, URL: url}
		if err := tx.Omit("content").Clauses(clause.OnConflict{DoNothing: true}).Create(&skeleton).Error; err != nil {
			return err
		}

		if content == nil {
			content = []byte{}
		}

		result := whereRef(tx.Model(&models.Attachment{}), ref).
			Where("content IS NULL").
			Update("content", content)
		if result.Error != nil {
			return result.Error
		}

		written = result.RowsAffected == 1
		return nil
	})
	return written, err
}

func (s *GormStore) ReadContent(ctx context.Context, ref models.AttachmentRef) ([]byte, error) {
	var attachment models.Attachment
	err := whereRef(s.db.WithContext(ctx).Select("content"), ref).Take(&attachment).Error
	if err != nil {
		return nil, notFound(err)
	}
	if attachment.Content == nil {
		return nil, ErrNotFound
	}
	return attachment.Content, nil
}

func (s *GormStore) HasContent(ctx context.Context, ref models.AttachmentRef) (bool, error) {
	var count int64
	err := whereRef(s.db.WithContext(ctx).Model(&models.Attachment{}), ref).
		Where("content IS NOT NULL").
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) ClearContent(ctx context.Context, ref models.AttachmentRef) error {
	return whereRef(s.db.WithContext(ctx).Model(&models.Attachment{}), ref).
		Update("content", gorm.Expr("NULL")).Error
}

// Binding operations

func (s *GormStore) PutBinding(ctx context.Context, binding *models.Binding) error {
	return s.db.WithContext(ctx).Save(binding).Error
}

func (s *GormStore) GetBinding(ctx context.Context, tenant string) (*models.Binding, error) {
	var binding models.Binding
	err := s.db.WithContext(ctx).Where("tenant = ?", tenant).First(&binding).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &binding, nil
}

func (s *GormStore) ListBindings(ctx context.Context) ([]models.Binding, error) {
	var bindings []models.Binding
	err := s.db.WithContext(ctx).Find(&bindings).Error
	return bindings, err
}

func (s *GormStore) DeleteBinding(ctx context.Context, tenant string) error {
	return s.db.WithContext(ctx).Delete(&models.Binding{}, "tenant = ?", tenant).Error
}

var _ MetadataStore = (*GormStore)(nil)
