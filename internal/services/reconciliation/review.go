package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"fiat-reconciliation-backend/internal/models"
	"fiat-reconciliation-backend/internal/repository"
	"fiat-reconciliation-backend/internal/services/matching"
)

var ErrInvalidInvoice = errors.New("invalid invoice")

// transition moves a transaction to status and records it in the audit
// log. from lists the statuses the move is allowed from.
func (s *ReconciliationService) transition(ctx context.Context, txID uuid.UUID, action, performedBy, reason string, from []string, apply func(tx *models.BankTransaction) error) (*models.BankTransaction, error) {
	tx, err := s.transactions.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(from, tx.Status) {
		return nil, fmt.Errorf("%w: cannot %s a transaction in status %s", ErrInvalidTransition, action, tx.Status)
	}

	entry := &models.MatchAuditLog{
		ID:              uuid.New(),
		TransactionID:   tx.ID,
		Action:          action,
		PreviousStatus:  tx.Status,
		PreviousInvoice: tx.MatchedInvoiceID,
		PerformedBy:     performedBy,
		Reason:          reason,
		CreatedAt:       s.now(),
	}

	if err := apply(tx); err != nil {
		return nil, err
	}
	if err := s.transactions.Save(ctx, tx); err != nil {
		return nil, err
	}
	entry.NewInvoice = tx.MatchedInvoiceID
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error("Failed to record audit log", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
	}
	s.statsCache.Delete(tx.UploadBatchID)
	return tx, nil
}

// ConfirmTransaction validates an automatic or manual match.
func (s *ReconciliationService) ConfirmTransaction(ctx context.Context, txID uuid.UUID, performedBy string) (*models.BankTransaction, error) {
	return s.transition(ctx, txID, models.AuditActionConfirm, performedBy, "",
		[]string{models.TxStatusMatched, models.TxStatusManualMatched},
		func(tx *models.BankTransaction) error {
			tx.Status = models.TxStatusConfirmed
			return nil
		})
}

// RejectTransaction puts a transaction back in the unmatched queue. Payouts
// already sent are not reverted.
func (s *ReconciliationService) RejectTransaction(ctx context.Context, txID uuid.UUID, performedBy, reason string) (*models.BankTransaction, error) {
	return s.transition(ctx, txID, models.AuditActionReject, performedBy, reason,
		[]string{models.TxStatusMatched, models.TxStatusManualMatched, models.TxStatusDuplicate, models.TxStatusPayoutFailed, models.TxStatusExternal},
		func(tx *models.BankTransaction) error {
			tx.Status = models.TxStatusUnmatched
			tx.MatchedInvoiceID = nil
			return nil
		})
}

// MarkTransactionExternal records that the payment belongs to another
// system and needs no payout.
func (s *ReconciliationService) MarkTransactionExternal(ctx context.Context, txID uuid.UUID, performedBy, reason string) (*models.BankTransaction, error) {
	return s.transition(ctx, txID, models.AuditActionExternal, performedBy, reason,
		[]string{models.TxStatusUnmatched, models.TxStatusDuplicate},
		func(tx *models.BankTransaction) error {
			tx.Status = models.TxStatusExternal
			tx.MatchedInvoiceID = nil
			return nil
		})
}

// ManualMatchTransaction settles a due invoice with a transaction the
// matcher could not pair: the invoice is paid out and marked paid exactly as
// for an automatic match. Title lines already paid for the same invoice by
// a failed attempt on this transaction are not paid again.
func (s *ReconciliationService) ManualMatchTransaction(ctx context.Context, txID, invoiceID uuid.UUID, performedBy, reason string) (*models.BankTransaction, error) {
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != models.InvoiceStatusDue {
		return nil, fmt.Errorf("invoice %s: %w", inv.ID, repository.ErrInvoiceNotDue)
	}

	return s.transition(ctx, txID, models.AuditActionManualMatch, performedBy, reason,
		[]string{models.TxStatusUnmatched, models.TxStatusDuplicate, models.TxStatusPayoutFailed},
		func(tx *models.BankTransaction) error {
			expected, _ := ExpectedPayments([]models.Invoice{*inv})
			details := matchDetails{
				InvoiceID: inv.ID.String(),
				Criteria:  matching.Explain(expected[0], movementOf(tx)),
				Manual:    true,
			}
			sent := sentPayouts(tx, inv.ID)

			payouts, proofs, err := s.settle(ctx, inv, inv.CustomerName, inv.PaymentRef, sent)
			details.Payouts = payouts
			details.TxHashes = proofs
			if err != nil {
				s.logger.Error("Manual match payout failed",
					zap.String("transaction_id", tx.ID.String()),
					zap.String("invoice_id", inv.ID.String()),
					zap.Strings("tx_hashes", proofs),
					zap.Error(err))
				if len(payouts) > len(sent) {
					s.keepPartialPayout(ctx, tx, inv, details, err)
				}
				return err
			}

			tx.Status = models.TxStatusManualMatched
			tx.MatchedInvoiceID = &inv.ID
			details.Decision = tx.Status
			tx.MatchDetails = detailsJSON(details)
			return nil
		})
}

// sentPayouts returns the payouts recorded on tx for invoiceID.
func sentPayouts(tx *models.BankTransaction, invoiceID uuid.UUID) []payoutProof {
	var prior matchDetails
	if len(tx.MatchDetails) == 0 || json.Unmarshal(tx.MatchDetails, &prior) != nil {
		return nil
	}
	if prior.InvoiceID != invoiceID.String() {
		return nil
	}
	return prior.Payouts
}

// keepPartialPayout stores a manual match that paid some title lines before
// failing, so that the next attempt skips them.
func (s *ReconciliationService) keepPartialPayout(ctx context.Context, tx *models.BankTransaction, inv *models.Invoice, details matchDetails, cause error) {
	tx.Status = models.TxStatusPayoutFailed
	tx.MatchedInvoiceID = &inv.ID
	details.Error = cause.Error()
	details.Decision = tx.Status
	tx.MatchDetails = detailsJSON(details)
	if err := s.transactions.Save(ctx, tx); err != nil {
		s.logger.Error("Failed to save partial payout",
			zap.String("transaction_id", tx.ID.String()),
			zap.Any("payouts", details.Payouts),
			zap.Error(err))
		return
	}
	s.statsCache.Delete(tx.UploadBatchID)
}

// BulkConfirmMatched confirms every automatic match of a batch.
func (s *ReconciliationService) BulkConfirmMatched(ctx context.Context, batchID uuid.UUID, performedBy string) (int, error) {
	ids, err := s.transactions.UpdateStatus(ctx, batchID, models.TxStatusMatched, models.TxStatusConfirmed)
	if err != nil {
		return 0, err
	}
	now := s.now()
	for _, id := range ids {
		entry := &models.MatchAuditLog{
			ID:             uuid.New(),
			TransactionID:  id,
			Action:         models.AuditActionBulkConfirm,
			PreviousStatus: models.TxStatusMatched,
			PerformedBy:    performedBy,
			CreatedAt:      now,
		}
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Error("Failed to record audit log", zap.String("transaction_id", id.String()), zap.Error(err))
		}
	}
	s.statsCache.Delete(batchID)
	return len(ids), nil
}

// TransactionHistory returns the review actions taken on a transaction,
// oldest first.
func (s *ReconciliationService) TransactionHistory(ctx context.Context, txID uuid.UUID) ([]models.MatchAuditLog, error) {
	if _, err := s.transactions.GetByID(ctx, txID); err != nil {
		return nil, err
	}
	return s.audit.ListByTransaction(ctx, txID)
}

func (s *ReconciliationService) ListTransactions(ctx context.Context, f repository.TransactionFilter) ([]models.BankTransaction, string, bool, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	txs, err := s.transactions.List(ctx, f)
	if err != nil {
		return nil, "", false, err
	}

	hasMore := false
	var nextCursor string
	if len(txs) > f.Limit {
		hasMore = true
		nextCursor = txs[f.Limit-1].ID.String()
		txs = txs[:f.Limit]
	}
	return txs, nextCursor, hasMore, nil
}

type StatusTotal struct {
	Count int64           `json:"count"`
	Sum   decimal.Decimal `json:"sum"`
}

type BatchStats struct {
	Total       int64                  `json:"total"`
	TotalAmount decimal.Decimal        `json:"total_amount"`
	ByStatus    map[string]StatusTotal `json:"by_status"`
}

func (s *ReconciliationService) GetBatchStats(ctx context.Context, batchID uuid.UUID) (BatchStats, error) {
	if val, ok := s.statsCache.Load(batchID); ok {
		return val.(BatchStats), nil
	}

	rows, err := s.transactions.Stats(ctx, batchID)
	if err != nil {
		return BatchStats{}, err
	}

	stats := BatchStats{TotalAmount: decimal.Zero, ByStatus: make(map[string]StatusTotal, len(rows))}
	for _, r := range rows {
		stats.Total += r.Count
		stats.TotalAmount = stats.TotalAmount.Add(r.Sum)
		stats.ByStatus[r.Status] = StatusTotal{Count: r.Count, Sum: r.Sum}
	}

	// only finished batches are stable enough to cache
	if p, err := s.GetProgress(ctx, batchID); err == nil && p.Status != models.BatchStatusProcessing {
		s.statsCache.Store(batchID, stats)
	}
	return stats, nil
}

type InvoiceInput struct {
	InvoiceNumber string
	CustomerName  string
	CustomerEmail string
	Amount        decimal.Decimal
	PaymentRef    string
	Status        string
	Titles        []models.InvoiceTitle
	DueDate       time.Time
}

// CreateInvoice stores a new invoice. A payer name and a payment reference
// are required: an empty one would match any movement. It reports whether
// the invoice was new.
func (s *ReconciliationService) CreateInvoice(ctx context.Context, in InvoiceInput) (*models.Invoice, bool, error) {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.PaymentRef = strings.TrimSpace(in.PaymentRef)
	switch {
	case in.CustomerName == "":
		return nil, false, fmt.Errorf("%w: customer name is required", ErrInvalidInvoice)
	case in.PaymentRef == "":
		return nil, false, fmt.Errorf("%w: payment reference is required", ErrInvalidInvoice)
	case !in.Amount.IsPositive():
		return nil, false, fmt.Errorf("%w: amount must be positive", ErrInvalidInvoice)
	}
	if in.Status == "" {
		in.Status = models.InvoiceStatusDue
	}
	if in.Status != models.InvoiceStatusDue && in.Status != models.InvoiceStatusPaid {
		return nil, false, fmt.Errorf("%w: unknown status %q", ErrInvalidInvoice, in.Status)
	}
	if in.InvoiceNumber == "" {
		in.InvoiceNumber = uuid.New().String()
	}

	inv := &models.Invoice{
		ID:            uuid.New(),
		InvoiceNumber: in.InvoiceNumber,
		CustomerName:  in.CustomerName,
		CustomerEmail: in.CustomerEmail,
		Amount:        in.Amount,
		PaymentRef:    in.PaymentRef,
		Status:        in.Status,
		Titles:        datatypes.NewJSONSlice(in.Titles),
		TxHashProofs:  datatypes.NewJSONSlice([]string{}),
		DueDate:       in.DueDate,
		CreatedAt:     s.now(),
	}
	created, err := s.invoices.Create(ctx, inv)
	if err != nil {
		return nil, false, err
	}
	return inv, created, nil
}

// SearchInvoices backs the manual matching screen.
func (s *ReconciliationService) SearchInvoices(ctx context.Context, query string, amount *decimal.Decimal, statuses []string) ([]models.Invoice, error) {
	return s.invoices.SearchInvoices(ctx, query, amount, statuses)
}
