package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fiat-reconciliation-backend/internal/models"
	"fiat-reconciliation-backend/internal/payout"
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// FindDue returns the invoices waiting for a payment, oldest first. The
// order is the order in which payments are matched.
func (r *InvoiceRepository) FindDue(ctx context.Context) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("status = ?", models.InvoiceStatusDue).
		Order("created_at ASC, id ASC").
		Find(&invoices).Error
	return invoices, err
}

// GetByID fetch a single invoice by ID
func (r *InvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).First(&invoice, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "invoice", id)
	}
	return &invoice, nil
}

// Create inserts the invoice, ignoring duplicates of its invoice number.
// It reports whether a row was inserted.
func (r *InvoiceRepository) Create(ctx context.Context, inv *models.Invoice) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(inv)
	return res.RowsAffected > 0, res.Error
}

// MarkPaid moves a due invoice to paid and stores the payout transaction
// hashes as proofs.
func (r *InvoiceRepository) MarkPaid(ctx context.Context, id uuid.UUID, proofs []string, paidAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND status = ?", id, models.InvoiceStatusDue).
		Updates(map[string]interface{}{
			"status":         models.InvoiceStatusPaid,
			"tx_hash_proofs": datatypes.NewJSONSlice(proofs),
			"paid_at":        paidAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("invoice %s: %w", id, ErrInvoiceNotDue)
	}
	return nil
}

// SearchInvoices used for admin manual search with optional filters
func (r *InvoiceRepository) SearchInvoices(ctx context.Context, query string, amount *decimal.Decimal, statuses []string) ([]models.Invoice, error) {
	var invoices []models.Invoice

	dbQuery := r.db.WithContext(ctx).Model(&models.Invoice{})

	if query != "" {
		clause, args := invoiceSearchClause(query)
		dbQuery = dbQuery.Where(clause, args...)
	}
	if amount != nil {
		dbQuery = dbQuery.Where("amount = ?", *amount)
	}
	if len(statuses) > 0 {
		dbQuery = dbQuery.Where("status IN ?", statuses)
	}

	err := dbQuery.Order("created_at ASC, id ASC").Find(&invoices).Error
	return invoices, err
}

var invoiceSearchColumns = []string{"customer_name", "invoice_number", "payment_ref"}

// invoiceSearchClause matches query, case-insensitively, anywhere in the
// customer name, invoice number or payment reference.
func invoiceSearchClause(query string) (string, []any) {
	like := "%" + strings.ToLower(query) + "%"
	conds := make([]string, len(invoiceSearchColumns))
	args := make([]any, len(invoiceSearchColumns))
	for i, col := range invoiceSearchColumns {
		conds[i] = "LOWER(" + col + ") LIKE ?"
		args[i] = like
	}
	return strings.Join(conds, " OR "), args
}

// PayoutTargets resolves every title line of the invoice to its contract
// and the private keys of the title's stakeholder nodes.
func (r *InvoiceRepository) PayoutTargets(ctx context.Context, inv *models.Invoice) ([]payout.Target, error) {
	db := r.db.WithContext(ctx)

	targets := make([]payout.Target, 0, len(inv.Titles))
	for _, line := range inv.Titles {
		var title models.Title
		if err := db.First(&title, "id = ?", line.TitleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: %s is listed by invoice %s", ErrTitleNotFound, line.TitleID, inv.ID)
			}
			return nil, err
		}

		privateFor := make([]string, 0, len(title.StakeholderNodes))
		for _, address := range title.StakeholderNodes {
			var node models.QuorumNode
			if err := db.First(&node, "address = ?", address).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil, fmt.Errorf("%w: %s is a stakeholder of title %s", ErrQuorumNodeNotFound, address, title.ID)
				}
				return nil, err
			}
			privateFor = append(privateFor, node.PrivateFor)
		}

		targets = append(targets, payout.Target{
			TitleID:    title.ID,
			Contract:   title.ContractAddress,
			Amount:     line.Price,
			PrivateFor: privateFor,
		})
	}
	return targets, nil
}
