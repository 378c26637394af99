package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"fiat-reconciliation-backend/internal/models"
	"fiat-reconciliation-backend/internal/payout"
	"fiat-reconciliation-backend/internal/services/matching"
	"fiat-reconciliation-backend/internal/statement"
)

// matchDetails is stored as MatchDetails JSON on a transaction.
type matchDetails struct {
	InvoiceID string           `json:"invoice_id,omitempty"`
	Criteria  matching.Details `json:"criteria"`
	TxHashes  []string         `json:"tx_hashes,omitempty"`
	Payouts   []payoutProof    `json:"payouts,omitempty"`
	Error     string           `json:"error,omitempty"`
	Decision  string           `json:"decision"`
	Manual    bool             `json:"manual,omitempty"`
}

// payoutProof is a pay() call already sent for one title line of the
// matched invoice.
type payoutProof struct {
	TitleID string `json:"title_id"`
	TxHash  string `json:"tx_hash,omitempty"`
}

// Preview is the outcome of a file without any side effect.
type Preview struct {
	Accounts  []statement.Account       `json:"accounts"`
	Results   []matching.AccountResults `json:"results"`
	Matched   int                       `json:"matched"`
	Unmatched int                       `json:"unmatched"`
}

// ExpectedPayments turns due invoices into expected payments, keeping
// their order, and indexes the invoices by id.
func ExpectedPayments(invoices []models.Invoice) ([]matching.ExpectedPayment, map[string]*models.Invoice) {
	expected := make([]matching.ExpectedPayment, 0, len(invoices))
	byID := make(map[string]*models.Invoice, len(invoices))
	for i := range invoices {
		inv := &invoices[i]
		id := inv.ID.String()
		byID[id] = inv
		expected = append(expected, matching.ExpectedPayment{
			InvoiceID: id,
			FromParty: inv.CustomerName,
			Amount:    inv.Amount,
			Reference: inv.PaymentRef,
		})
	}
	return expected, byID
}

func (s *ReconciliationService) match(ctx context.Context, content string) ([]statement.Account, []matching.AccountResults, map[string]*models.Invoice, error) {
	accounts, err := statement.ParseFile(content, s.now())
	if err != nil {
		return nil, nil, nil, err
	}
	accounts, err = statement.MergeAccounts(accounts)
	if err != nil {
		return nil, nil, nil, err
	}

	invoices, err := s.invoices.FindDue(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load due invoices: %w", err)
	}
	expected, byID := ExpectedPayments(invoices)

	results, err := matching.MatchAccounts(ctx, accounts, expected, s.workers)
	if err != nil {
		return nil, nil, nil, err
	}
	return accounts, results, byID, nil
}

// Preview parses and matches a file against the due invoices. Nothing is
// paid or persisted.
func (s *ReconciliationService) Preview(ctx context.Context, content string) (*Preview, error) {
	accounts, results, _, err := s.match(ctx, content)
	if err != nil {
		return nil, err
	}
	matched, unmatched := matching.Summary(results)
	return &Preview{Accounts: accounts, Results: results, Matched: matched, Unmatched: unmatched}, nil
}

// Run reconciles one statement file into batch. Accounts are dispatched one
// after the other and the credits of an account in statement order. A file
// that does not parse fails the batch before anything is paid.
func (s *ReconciliationService) Run(ctx context.Context, batch *models.ReconciliationBatch, content string) error {
	logger := s.logger.With(zap.String("batch_id", batch.ID.String()), zap.String("file", batch.Filename))

	accounts, results, byID, err := s.match(ctx, content)
	if err != nil {
		logger.Error("Statement file rejected", zap.Error(err))
		return s.fail(ctx, batch, err)
	}

	batch.AccountCount = len(accounts)
	for _, ar := range results {
		batch.TotalTransactions += len(ar.Results)
	}
	s.setProgress(batch)
	logger.Info("Statement file parsed",
		zap.Int("accounts", batch.AccountCount),
		zap.Int("credits", batch.TotalTransactions),
		zap.Int("due_invoices", len(byID)))

	if err := s.dispatch(ctx, logger, batch, accounts, results, byID); err != nil {
		return s.fail(ctx, batch, err)
	}

	completed := s.now()
	batch.Status = models.BatchStatusCompleted
	batch.CompletedAt = &completed
	if err := s.batches.Save(ctx, batch); err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	s.setProgress(batch)
	s.statsCache.Delete(batch.ID)

	logger.Info("Batch completed",
		zap.Int("matched", batch.MatchedCount),
		zap.Int("unmatched", batch.UnmatchedCount),
		zap.Int("payout_failed", batch.PayoutFailedCount),
		zap.Int("duplicates", batch.DuplicateCount))
	return nil
}

func (s *ReconciliationService) dispatch(ctx context.Context, logger *zap.Logger, batch *models.ReconciliationBatch, accounts []statement.Account, results []matching.AccountResults, byID map[string]*models.Invoice) error {
	settled := make(map[string]bool)

	for i, ar := range results {
		for _, res := range ar.Results {
			tx := transactionOf(batch.ID, accounts[i], res.Movement)

			switch res.Outcome {
			case matching.Matched:
				inv := byID[res.Payment.InvoiceID]
				tx.MatchedInvoiceID = &inv.ID
				details := matchDetails{InvoiceID: res.Payment.InvoiceID, Criteria: matching.Explain(*res.Payment, res.Movement)}

				if settled[res.Payment.InvoiceID] {
					// the invoice already got its payout in this run
					logger.Warn("Invoice matched by more than one movement",
						zap.String("invoice_id", res.Payment.InvoiceID),
						zap.String("account_id", string(ar.AccountID)),
						zap.Int("line", res.Movement.Line))
					tx.Status = models.TxStatusDuplicate
					batch.DuplicateCount++
				} else {
					settled[res.Payment.InvoiceID] = true
					payouts, proofs, err := s.settle(ctx, inv, res.Payment.FromParty, res.Payment.Reference, nil)
					details.Payouts = payouts
					details.TxHashes = proofs
					if err != nil {
						logger.Error("Payout failed",
							zap.String("invoice_id", res.Payment.InvoiceID),
							zap.String("account_id", string(ar.AccountID)),
							zap.Error(err))
						details.Error = err.Error()
						tx.Status = models.TxStatusPayoutFailed
						batch.PayoutFailedCount++
					} else {
						logger.Info("Payment matched",
							zap.String("invoice_id", res.Payment.InvoiceID),
							zap.String("ref", res.Payment.Reference),
							zap.String("amount", res.Movement.Amount.String()),
							zap.Strings("tx_hashes", proofs))
						tx.Status = models.TxStatusMatched
						batch.MatchedCount++
					}
				}
				details.Decision = tx.Status
				tx.MatchDetails = detailsJSON(details)

				if err := s.transactions.Create(ctx, tx); err != nil {
					logger.Error("Failed to persist matched payment",
						zap.String("invoice_id", res.Payment.InvoiceID),
						zap.Any("movement", res.Movement),
						zap.Error(err))
					return fmt.Errorf("persist matched payment of invoice %s: %w", res.Payment.InvoiceID, err)
				}

			case matching.Unmatched:
				tx.Status = models.TxStatusUnmatched
				tx.MatchDetails = detailsJSON(matchDetails{Decision: tx.Status})
				if err := s.transactions.Create(ctx, tx); err != nil {
					// money was received for an unknown reason and we cannot
					// keep track of it
					logger.Error("Failed to persist unmatched payment",
						zap.String("account_id", string(ar.AccountID)),
						zap.Any("movement", res.Movement),
						zap.Error(err))
					return fmt.Errorf("persist unmatched payment on %s line %d: %w", ar.AccountID, res.Movement.Line, err)
				}
				logger.Info("Unmatched payment",
					zap.String("account_id", string(ar.AccountID)),
					zap.String("from", res.Movement.CounterpartyLabel),
					zap.String("amount", res.Movement.Amount.String()))
				batch.UnmatchedCount++
			}

			batch.ProcessedCount++
			s.setProgress(batch)
			if batch.ProcessedCount%s.progressEvery == 0 {
				if err := s.batches.UpdateProgress(ctx, batch.ID, batch.ProcessedCount); err != nil {
					logger.Warn("Failed to update batch progress", zap.Error(err))
				}
			}
		}
	}
	return nil
}

// settle pays out every title line of the invoice and marks it paid with
// the transaction hashes as proofs. Lines listed in sent were paid by an
// earlier attempt and are skipped. The returned payouts include sent and
// every call that went through, also when err is set.
func (s *ReconciliationService) settle(ctx context.Context, inv *models.Invoice, fromParty, reference string, sent []payoutProof) ([]payoutProof, []string, error) {
	payouts := slices.Clone(sent)
	targets, err := s.invoices.PayoutTargets(ctx, inv)
	if err != nil {
		return payouts, proofsOf(payouts), fmt.Errorf("resolve payout targets: %w", err)
	}

	done := make(map[string]int, len(sent))
	for _, p := range sent {
		done[p.TitleID]++
	}
	buyer := payout.BuyerInfo(fromParty, reference)
	for _, t := range targets {
		if done[t.TitleID] > 0 {
			done[t.TitleID]--
			continue
		}
		hash, err := s.payer.Pay(ctx, payout.Order{Target: t, BuyerInfo: buyer})
		if err != nil {
			return payouts, proofsOf(payouts), fmt.Errorf("payout for title %s: %w", t.TitleID, err)
		}
		payouts = append(payouts, payoutProof{TitleID: t.TitleID, TxHash: hash})
	}

	proofs := proofsOf(payouts)
	if err := s.invoices.MarkPaid(ctx, inv.ID, proofs, s.now()); err != nil {
		return payouts, proofs, fmt.Errorf("mark invoice paid: %w", err)
	}
	return payouts, proofs, nil
}

func proofsOf(payouts []payoutProof) []string {
	proofs := make([]string, 0, len(payouts))
	for _, p := range payouts {
		if p.TxHash != "" {
			proofs = append(proofs, p.TxHash)
		}
	}
	return proofs
}

func (s *ReconciliationService) fail(ctx context.Context, batch *models.ReconciliationBatch, cause error) error {
	completed := s.now()
	batch.Status = models.BatchStatusFailed
	batch.Error = cause.Error()
	batch.CompletedAt = &completed
	if err := s.batches.Save(ctx, batch); err != nil {
		s.logger.Error("Failed to save failed batch", zap.String("batch_id", batch.ID.String()), zap.Error(err))
	}
	s.setProgress(batch)
	return cause
}

func transactionOf(batchID uuid.UUID, account statement.Account, m statement.Movement) *models.BankTransaction {
	var ref string
	if len(m.References) > 0 {
		ref = m.References[0]
	}
	return &models.BankTransaction{
		ID:              uuid.New(),
		UploadBatchID:   batchID,
		AccountID:       string(account.ID),
		Currency:        account.Currency,
		TransactionDate: m.AccountingDate,
		ValueDate:       m.ValueDate,
		Description:     m.CounterpartyLabel,
		Amount:          m.Amount,
		OperationCode:   m.OperationType.Code,
		OperationNumber: m.OperationNumber,
		ReferenceNumber: ref,
		References:      datatypes.NewJSONSlice(m.References),
		SourceLine:      m.Line,
	}
}

// movementOf rebuilds the matching view of a stored transaction.
func movementOf(tx *models.BankTransaction) statement.Movement {
	return statement.Movement{
		CounterpartyLabel: tx.Description,
		Amount:            tx.Amount,
		IsCredit:          tx.Amount.Sign() >= 0,
		AccountingDate:    tx.TransactionDate,
		ValueDate:         tx.ValueDate,
		References:        tx.References,
		Line:              tx.SourceLine,
	}
}

func detailsJSON(d matchDetails) datatypes.JSON {
	b, _ := json.Marshal(d)
	return b
}
