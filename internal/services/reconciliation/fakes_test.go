package reconciliation

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"fiat-reconciliation-backend/internal/models"
	"fiat-reconciliation-backend/internal/payout"
	"fiat-reconciliation-backend/internal/repository"
)

type fakeInvoices struct {
	mu       sync.Mutex
	invoices []*models.Invoice
	targets  map[uuid.UUID][]payout.Target
}

func newFakeInvoices(invoices ...*models.Invoice) *fakeInvoices {
	return &fakeInvoices{invoices: invoices, targets: make(map[uuid.UUID][]payout.Target)}
}

func (f *fakeInvoices) FindDue(ctx context.Context) ([]models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []models.Invoice
	for _, inv := range f.invoices {
		if inv.Status == models.InvoiceStatusDue {
			due = append(due, *inv)
		}
	}
	return due, nil
}

func (f *fakeInvoices) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invoices {
		if inv.ID == id {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("invoice %s: %w", id, repository.ErrNotFound)
}

func (f *fakeInvoices) Create(ctx context.Context, inv *models.Invoice) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.invoices {
		if existing.InvoiceNumber == inv.InvoiceNumber {
			return false, nil
		}
	}
	cp := *inv
	f.invoices = append(f.invoices, &cp)
	return true, nil
}

func (f *fakeInvoices) MarkPaid(ctx context.Context, id uuid.UUID, proofs []string, paidAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invoices {
		if inv.ID == id && inv.Status == models.InvoiceStatusDue {
			inv.Status = models.InvoiceStatusPaid
			inv.TxHashProofs = datatypes.NewJSONSlice(proofs)
			inv.PaidAt = &paidAt
			return nil
		}
	}
	return fmt.Errorf("invoice %s: %w", id, repository.ErrInvoiceNotDue)
}

func (f *fakeInvoices) PayoutTargets(ctx context.Context, inv *models.Invoice) ([]payout.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.targets[inv.ID], nil
}

func (f *fakeInvoices) SearchInvoices(ctx context.Context, query string, amount *decimal.Decimal, statuses []string) ([]models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Invoice
	for _, inv := range f.invoices {
		if len(statuses) == 0 || slices.Contains(statuses, inv.Status) {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (f *fakeInvoices) get(id uuid.UUID) models.Invoice {
	inv, err := f.GetByID(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return *inv
}

type fakeTransactions struct {
	mu        sync.Mutex
	txs       []models.BankTransaction
	createErr func(tx *models.BankTransaction) error
}

func (f *fakeTransactions) Create(ctx context.Context, tx *models.BankTransaction) error {
	if f.createErr != nil {
		if err := f.createErr(tx); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = append(f.txs, *tx)
	return nil
}

func (f *fakeTransactions) GetByID(ctx context.Context, id uuid.UUID) (*models.BankTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.txs {
		if tx.ID == id {
			return &tx, nil
		}
	}
	return nil, fmt.Errorf("transaction %s: %w", id, repository.ErrNotFound)
}

func (f *fakeTransactions) Save(ctx context.Context, tx *models.BankTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.txs {
		if f.txs[i].ID == tx.ID {
			f.txs[i] = *tx
			return nil
		}
	}
	f.txs = append(f.txs, *tx)
	return nil
}

func (f *fakeTransactions) List(ctx context.Context, filter repository.TransactionFilter) ([]models.BankTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.BankTransaction
	for _, tx := range f.txs {
		if tx.UploadBatchID != filter.BatchID {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.Cursor != "" && tx.ID.String() <= filter.Cursor {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if len(out) > filter.Limit+1 {
		out = out[:filter.Limit+1]
	}
	return out, nil
}

func (f *fakeTransactions) Stats(ctx context.Context, batchID uuid.UUID) ([]repository.StatRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byStatus := map[string]*repository.StatRow{}
	var rows []repository.StatRow
	for _, tx := range f.txs {
		if tx.UploadBatchID != batchID {
			continue
		}
		r, ok := byStatus[tx.Status]
		if !ok {
			r = &repository.StatRow{Status: tx.Status, Sum: decimal.Zero}
			byStatus[tx.Status] = r
		}
		r.Count++
		r.Sum = r.Sum.Add(tx.Amount)
	}
	for _, r := range byStatus {
		rows = append(rows, *r)
	}
	return rows, nil
}

func (f *fakeTransactions) UpdateStatus(ctx context.Context, batchID uuid.UUID, from, to string) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for i := range f.txs {
		if f.txs[i].UploadBatchID == batchID && f.txs[i].Status == from {
			f.txs[i].Status = to
			ids = append(ids, f.txs[i].ID)
		}
	}
	return ids, nil
}

func (f *fakeTransactions) byStatus(status string) []models.BankTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.BankTransaction
	for _, tx := range f.txs {
		if tx.Status == status {
			out = append(out, tx)
		}
	}
	return out
}

type fakeBatches struct {
	mu       sync.Mutex
	batches  map[uuid.UUID]models.ReconciliationBatch
	progress []int
}

func newFakeBatches() *fakeBatches {
	return &fakeBatches{batches: make(map[uuid.UUID]models.ReconciliationBatch)}
}

func (f *fakeBatches) Create(ctx context.Context, b *models.ReconciliationBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches[b.ID] = *b
	return nil
}

func (f *fakeBatches) GetByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, repository.ErrNotFound)
	}
	return &b, nil
}

func (f *fakeBatches) UpdateProgress(ctx context.Context, id uuid.UUID, processed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, processed)
	return nil
}

func (f *fakeBatches) Save(ctx context.Context, b *models.ReconciliationBatch) error {
	return f.Create(ctx, b)
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.MatchAuditLog
}

func (f *fakeAudit) Record(ctx context.Context, entry *models.MatchAuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeAudit) ListByTransaction(ctx context.Context, txID uuid.UUID) ([]models.MatchAuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.MatchAuditLog
	for _, e := range f.entries {
		if e.TransactionID == txID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakePayer struct {
	mu     sync.Mutex
	orders []payout.Order
	err    error
	// failures left per title id
	failOn map[string]int
}

func (p *fakePayer) Pay(ctx context.Context, o payout.Order) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	if p.failOn[o.TitleID] > 0 {
		p.failOn[o.TitleID]--
		return "", fmt.Errorf("title %s: node unreachable", o.TitleID)
	}
	p.orders = append(p.orders, o)
	return fmt.Sprintf("0x%064x", len(p.orders)), nil
}

func (p *fakePayer) paidTitles() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int)
	for _, o := range p.orders {
		out[o.TitleID]++
	}
	return out
}
