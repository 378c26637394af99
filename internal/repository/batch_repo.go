package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"fiat-reconciliation-backend/internal/models"
)

type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) Create(ctx context.Context, b *models.ReconciliationBatch) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *BatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationBatch, error) {
	var batch models.ReconciliationBatch
	if err := r.db.WithContext(ctx).First(&batch, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "batch", id)
	}
	return &batch, nil
}

// UpdateProgress updates the processed count in a batch
func (r *BatchRepository) UpdateProgress(ctx context.Context, id uuid.UUID, processed int) error {
	return r.db.WithContext(ctx).Model(&models.ReconciliationBatch{}).
		Where("id = ?", id).
		Update("processed_count", processed).
		Error
}

func (r *BatchRepository) Save(ctx context.Context, b *models.ReconciliationBatch) error {
	return r.db.WithContext(ctx).Save(b).Error
}
