package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fiat-reconciliation-backend/internal/models"
)

const metaKeyBank = "_BANK"

type MetaRepository struct {
	db *gorm.DB
}

func NewMetaRepository(db *gorm.DB) *MetaRepository {
	return &MetaRepository{db: db}
}

// Ping writes the run time to the meta table and reads it back, which
// proves the database is both reachable and writable.
func (r *MetaRepository) Ping(ctx context.Context, now time.Time) error {
	db := r.db.WithContext(ctx)
	now = now.UTC().Truncate(time.Microsecond)

	row := models.Meta{Key: metaKeyBank, LastRun: now}
	if err := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("write meta: %w", err)
	}

	var got models.Meta
	if err := db.First(&got, "key = ?", metaKeyBank).Error; err != nil {
		return fmt.Errorf("read meta: %w", err)
	}
	if !got.LastRun.Equal(now) {
		return fmt.Errorf("read meta: last run %s, wrote %s", got.LastRun, now)
	}
	return nil
}
