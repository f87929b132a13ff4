package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"story-pipeline-backend/internal/models"
)

// PostgresStore persists records in the character_registry table.
type PostgresStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewPostgresStore(db *gorm.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

type characterRecordModel struct {
	ID          string         `gorm:"column:id;primaryKey"`
	Name        string         `gorm:"column:name"`
	NameKey     string         `gorm:"column:name_key"`
	Aliases     pq.StringArray `gorm:"column:aliases;type:text[]"`
	ImageURL    string         `gorm:"column:image_url"`
	SourceURL   string         `gorm:"column:source_url"`
	AuditScore  float64        `gorm:"column:audit_score"`
	AuditStatus string         `gorm:"column:audit_status"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at"`
	LastUsedAt  *time.Time     `gorm:"column:last_used_at"`
}

func (characterRecordModel) TableName() string { return "character_registry" }

func (s *PostgresStore) FindByKey(ctx context.Context, nameKey string) (*models.RegistryRecord, error) {
	var row characterRecordModel
	err := s.db.WithContext(ctx).Where("name_key = ?", nameKey).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.logError("registry_find_by_key_failed", err, "name_key", nameKey)
	}
	return row.toRecord(), nil
}

func (s *PostgresStore) FindByAlias(ctx context.Context, aliasKey string) (*models.RegistryRecord, error) {
	var row characterRecordModel
	err := s.db.WithContext(ctx).
		Where("? = ANY(aliases)", aliasKey).
		Order("updated_at DESC").
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.logError("registry_find_by_alias_failed", err, "alias", aliasKey)
	}
	return row.toRecord(), nil
}

func (s *PostgresStore) Save(ctx context.Context, record *models.RegistryRecord) error {
	row := characterRecordModelFromRecord(record)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "aliases", "image_url", "source_url",
				"audit_score", "audit_status", "updated_at", "last_used_at",
			}),
		}).
		Create(&row).
		Error
	if err != nil {
		return s.logError("registry_save_failed", err, "name_key", record.NameKey)
	}
	return nil
}

func (s *PostgresStore) MarkUsed(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&characterRecordModel{}).
		Where("id = ?", id).
		Update("last_used_at", at)
	if result.Error != nil {
		return s.logError("registry_mark_used_failed", result.Error, "registry_id", id)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) logError(event string, err error, attrs ...any) error {
	fields := append([]any{"event", event, "error", err.Error()}, attrs...)
	s.logger.Error("registry store operation failed", fields...)
	return err
}

func characterRecordModelFromRecord(r *models.RegistryRecord) characterRecordModel {
	return characterRecordModel{
		ID:          r.ID,
		Name:        r.Name,
		NameKey:     r.NameKey,
		Aliases:     pq.StringArray(r.Aliases),
		ImageURL:    r.ImageURL,
		SourceURL:   r.SourceURL,
		AuditScore:  r.AuditScore,
		AuditStatus: r.AuditStatus,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		LastUsedAt:  r.LastUsedAt,
	}
}

func (m characterRecordModel) toRecord() *models.RegistryRecord {
	return &models.RegistryRecord{
		ID:          m.ID,
		Name:        m.Name,
		NameKey:     m.NameKey,
		Aliases:     []string(m.Aliases),
		ImageURL:    m.ImageURL,
		SourceURL:   m.SourceURL,
		AuditScore:  m.AuditScore,
		AuditStatus: m.AuditStatus,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		LastUsedAt:  m.LastUsedAt,
	}
}

var _ Store = (*PostgresStore)(nil)
var _ Store = (*MemoryStore)(nil)
