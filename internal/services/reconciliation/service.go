// Package reconciliation runs statement files through parsing and matching
// and applies the results: payouts for matched payments, review queue for
// the rest.
package reconciliation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fiat-reconciliation-backend/internal/models"
	"fiat-reconciliation-backend/internal/payout"
	"fiat-reconciliation-backend/internal/repository"
)

var ErrInvalidTransition = errors.New("invalid status transition")

type InvoiceStore interface {
	FindDue(ctx context.Context) ([]models.Invoice, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	Create(ctx context.Context, inv *models.Invoice) (bool, error)
	MarkPaid(ctx context.Context, id uuid.UUID, proofs []string, paidAt time.Time) error
	PayoutTargets(ctx context.Context, inv *models.Invoice) ([]payout.Target, error)
	SearchInvoices(ctx context.Context, query string, amount *decimal.Decimal, statuses []string) ([]models.Invoice, error)
}

type TransactionStore interface {
	Create(ctx context.Context, tx *models.BankTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.BankTransaction, error)
	Save(ctx context.Context, tx *models.BankTransaction) error
	List(ctx context.Context, f repository.TransactionFilter) ([]models.BankTransaction, error)
	Stats(ctx context.Context, batchID uuid.UUID) ([]repository.StatRow, error)
	UpdateStatus(ctx context.Context, batchID uuid.UUID, from, to string) ([]uuid.UUID, error)
}

type BatchStore interface {
	Create(ctx context.Context, b *models.ReconciliationBatch) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationBatch, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, processed int) error
	Save(ctx context.Context, b *models.ReconciliationBatch) error
}

type AuditStore interface {
	Record(ctx context.Context, entry *models.MatchAuditLog) error
	ListByTransaction(ctx context.Context, txID uuid.UUID) ([]models.MatchAuditLog, error)
}

type Stores struct {
	Invoices     InvoiceStore
	Transactions TransactionStore
	Batches      BatchStore
	Audit        AuditStore
}

// Options tune a service. Workers bounds per-account matching concurrency
// (0 means unbounded). Batch progress is written to the database every
// ProgressEvery transactions.
type Options struct {
	Workers       int
	ProgressEvery int
	Now           func() time.Time
}

type Progress struct {
	ProcessedCount int    `json:"processed_count"`
	Total          int    `json:"total"`
	Status         string `json:"status"`
}

type ReconciliationService struct {
	invoices      InvoiceStore
	transactions  TransactionStore
	batches       BatchStore
	audit         AuditStore
	payer         payout.Payer
	logger        *zap.Logger
	workers       int
	progressEvery int
	now           func() time.Time

	progressCache sync.Map // batchID -> Progress
	statsCache    sync.Map // batchID -> BatchStats
}

func NewReconciliationService(stores Stores, payer payout.Payer, logger *zap.Logger, opts Options) *ReconciliationService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 100
	}
	return &ReconciliationService{
		invoices:      stores.Invoices,
		transactions:  stores.Transactions,
		batches:       stores.Batches,
		audit:         stores.Audit,
		payer:         payer,
		logger:        logger,
		workers:       opts.Workers,
		progressEvery: opts.ProgressEvery,
		now:           opts.Now,
	}
}

// CreateBatch creates a new ReconciliationBatch in DB
func (s *ReconciliationService) CreateBatch(ctx context.Context, filename, source string) (*models.ReconciliationBatch, error) {
	now := s.now()
	batch := &models.ReconciliationBatch{
		ID:        uuid.New(),
		Filename:  filename,
		Source:    source,
		Status:    models.BatchStatusProcessing,
		StartedAt: now,
		CreatedAt: now,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, err
	}
	s.progressCache.Store(batch.ID, Progress{Status: models.BatchStatusProcessing})
	return batch, nil
}

func (s *ReconciliationService) GetBatch(ctx context.Context, batchID uuid.UUID) (*models.ReconciliationBatch, error) {
	return s.batches.GetByID(ctx, batchID)
}

// GetProgress answers from memory while this process runs the batch and
// from the database otherwise.
func (s *ReconciliationService) GetProgress(ctx context.Context, batchID uuid.UUID) (Progress, error) {
	if val, ok := s.progressCache.Load(batchID); ok {
		return val.(Progress), nil
	}
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return Progress{}, err
	}
	return Progress{
		ProcessedCount: batch.ProcessedCount,
		Total:          batch.TotalTransactions,
		Status:         batch.Status,
	}, nil
}

func (s *ReconciliationService) setProgress(batch *models.ReconciliationBatch) {
	s.progressCache.Store(batch.ID, Progress{
		ProcessedCount: batch.ProcessedCount,
		Total:          batch.TotalTransactions,
		Status:         batch.Status,
	})
}
