package repository

import (
	"context"

	"noticeboard/internal/models"
	"noticeboard/internal/observability"

	"gorm.io/gorm"
)

// CompensationRepository persists saga compensation records.
type CompensationRepository interface {
	Record(ctx context.Context, record *models.CompensationRecord) error
	ListByProfile(ctx context.Context, profileID string) ([]models.CompensationRecord, error)
}

type compensationRepository struct {
	db *gorm.DB
}

// NewCompensationRepository returns a CompensationRepository backed by db.
func NewCompensationRepository(db *gorm.DB) CompensationRepository {
	return &compensationRepository{db: db}
}

func (r *compensationRepository) Record(ctx context.Context, record *models.CompensationRecord) error {
	defer observability.TrackQuery("create", "compensation_records")()

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *compensationRepository) ListByProfile(ctx context.Context, profileID string) ([]models.CompensationRecord, error) {
	var records []models.CompensationRecord
	err := r.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("created_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return records, nil
}
