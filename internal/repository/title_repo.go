package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fiat-reconciliation-backend/internal/models"
)

// TitleRepository stores the payout side of invoices: titles and the
// quorum nodes of their stakeholders.
type TitleRepository struct {
	db *gorm.DB
}

func NewTitleRepository(db *gorm.DB) *TitleRepository {
	return &TitleRepository{db: db}
}

// UpsertTitle creates the title or replaces its contract and stakeholders.
func (r *TitleRepository) UpsertTitle(ctx context.Context, t *models.Title) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "contract_address", "stakeholder_nodes"}),
	}).Create(t).Error
}

func (r *TitleRepository) UpsertQuorumNode(ctx context.Context, n *models.QuorumNode) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"private_for", "org_name"}),
	}).Create(n).Error
}

func (r *TitleRepository) GetTitle(ctx context.Context, id string) (*models.Title, error) {
	var t models.Title
	if err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "title", id)
	}
	return &t, nil
}
