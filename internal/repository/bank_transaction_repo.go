package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"fiat-reconciliation-backend/internal/models"
)

type BankTransactionRepository struct {
	db *gorm.DB
}

func NewBankTransactionRepository(db *gorm.DB) *BankTransactionRepository {
	return &BankTransactionRepository{db: db}
}

// TransactionFilter selects a page of a batch's transactions. Pages are
// ordered by id; Cursor is the last id of the previous page.
type TransactionFilter struct {
	BatchID uuid.UUID
	Status  string
	Cursor  string
	Search  string
	Limit   int
}

type StatRow struct {
	Status string
	Count  int64
	Sum    decimal.Decimal
}

func (r *BankTransactionRepository) Create(ctx context.Context, tx *models.BankTransaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *BankTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.BankTransaction, error) {
	var tx models.BankTransaction
	if err := r.db.WithContext(ctx).First(&tx, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "transaction", id)
	}
	return &tx, nil
}

func (r *BankTransactionRepository) Save(ctx context.Context, tx *models.BankTransaction) error {
	return r.db.WithContext(ctx).Save(tx).Error
}

// List returns up to Limit+1 rows so the caller can tell whether another
// page exists.
func (r *BankTransactionRepository) List(ctx context.Context, f TransactionFilter) ([]models.BankTransaction, error) {
	var txs []models.BankTransaction
	query := r.db.WithContext(ctx).
		Where("upload_batch_id = ?", f.BatchID).
		Order("id ASC").
		Limit(f.Limit + 1)

	if f.Status != "" && f.Status != "all" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Cursor != "" {
		query = query.Where("id > ?", f.Cursor)
	}
	// search label, account or amount
	if f.Search != "" {
		like := "%" + f.Search + "%"
		query = query.Where(
			"description ILIKE ? OR account_id LIKE ? OR reference_number ILIKE ? OR CAST(amount AS TEXT) LIKE ?",
			like, like, like, like,
		)
	}

	err := query.Find(&txs).Error
	return txs, err
}

// Stats counts and sums a batch's transactions per status.
func (r *BankTransactionRepository) Stats(ctx context.Context, batchID uuid.UUID) ([]StatRow, error) {
	var rows []StatRow
	err := r.db.WithContext(ctx).Model(&models.BankTransaction{}).
		Where("upload_batch_id = ?", batchID).
		Select("status, COUNT(*) as count, COALESCE(SUM(amount),0) as sum").
		Group("status").
		Scan(&rows).Error
	return rows, err
}

// UpdateStatus moves every transaction of the batch in status from to
// status to and returns the ids it changed.
func (r *BankTransactionRepository) UpdateStatus(ctx context.Context, batchID uuid.UUID, from, to string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.BankTransaction{}).
			Where("upload_batch_id = ? AND status = ?", batchID, from).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&models.BankTransaction{}).
			Where("id IN ?", ids).
			Update("status", to).Error
	})
	return ids, err
}
