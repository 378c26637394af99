package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fiat-reconciliation-backend/internal/cfonb"
	handler "fiat-reconciliation-backend/internal/handlers"
	"fiat-reconciliation-backend/internal/models"
	"fiat-reconciliation-backend/internal/repository"
	"fiat-reconciliation-backend/internal/routes"
	service "fiat-reconciliation-backend/internal/services/reconciliation"
)

type fakeService struct {
	mu       sync.Mutex
	ran      []string
	invoices []service.InvoiceInput
	filter   repository.TransactionFilter
	calls    []string

	previewErr  error
	actionErr   error
	existing    map[string]bool
	searchQuery string
	searchAmt   *decimal.Decimal
	searchSt    []string
}

func (f *fakeService) CreateBatch(ctx context.Context, filename, source string) (*models.ReconciliationBatch, error) {
	return &models.ReconciliationBatch{ID: uuid.New(), Filename: filename, Source: source, Status: models.BatchStatusProcessing}, nil
}

func (f *fakeService) Run(ctx context.Context, batch *models.ReconciliationBatch, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, content)
	return nil
}

func (f *fakeService) Preview(ctx context.Context, content string) (*service.Preview, error) {
	if f.previewErr != nil {
		return nil, f.previewErr
	}
	return &service.Preview{Matched: 1, Unmatched: 2}, nil
}

func (f *fakeService) GetProgress(ctx context.Context, batchID uuid.UUID) (service.Progress, error) {
	return service.Progress{ProcessedCount: 5, Total: 10, Status: models.BatchStatusProcessing}, nil
}

func (f *fakeService) ListTransactions(ctx context.Context, filter repository.TransactionFilter) ([]models.BankTransaction, string, bool, error) {
	f.filter = filter
	return []models.BankTransaction{{ID: uuid.New(), Status: models.TxStatusMatched}}, "cursor-1", true, nil
}

func (f *fakeService) GetBatchStats(ctx context.Context, batchID uuid.UUID) (service.BatchStats, error) {
	return service.BatchStats{Total: 1, TotalAmount: decimal.NewFromInt(100)}, nil
}

func (f *fakeService) action(name string, txID uuid.UUID, performedBy, reason string) (*models.BankTransaction, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s by=%s reason=%s", name, performedBy, reason))
	if f.actionErr != nil {
		return nil, f.actionErr
	}
	return &models.BankTransaction{ID: txID, Status: name}, nil
}

func (f *fakeService) ConfirmTransaction(ctx context.Context, txID uuid.UUID, performedBy string) (*models.BankTransaction, error) {
	return f.action("confirm", txID, performedBy, "")
}

func (f *fakeService) RejectTransaction(ctx context.Context, txID uuid.UUID, performedBy, reason string) (*models.BankTransaction, error) {
	return f.action("reject", txID, performedBy, reason)
}

func (f *fakeService) MarkTransactionExternal(ctx context.Context, txID uuid.UUID, performedBy, reason string) (*models.BankTransaction, error) {
	return f.action("external", txID, performedBy, reason)
}

func (f *fakeService) ManualMatchTransaction(ctx context.Context, txID, invoiceID uuid.UUID, performedBy, reason string) (*models.BankTransaction, error) {
	return f.action("match "+invoiceID.String(), txID, performedBy, reason)
}

func (f *fakeService) BulkConfirmMatched(ctx context.Context, batchID uuid.UUID, performedBy string) (int, error) {
	return 7, nil
}

func (f *fakeService) TransactionHistory(ctx context.Context, txID uuid.UUID) ([]models.MatchAuditLog, error) {
	if f.actionErr != nil {
		return nil, f.actionErr
	}
	return []models.MatchAuditLog{{TransactionID: txID, Action: models.AuditActionConfirm}}, nil
}

func (f *fakeService) CreateInvoice(ctx context.Context, in service.InvoiceInput) (*models.Invoice, bool, error) {
	if in.CustomerName == "" {
		return nil, false, fmt.Errorf("%w: customer name is required", service.ErrInvalidInvoice)
	}
	f.invoices = append(f.invoices, in)
	if f.existing[in.InvoiceNumber] {
		return nil, false, nil
	}
	return &models.Invoice{ID: uuid.New(), InvoiceNumber: in.InvoiceNumber, Amount: in.Amount}, true, nil
}

func (f *fakeService) SearchInvoices(ctx context.Context, query string, amount *decimal.Decimal, statuses []string) ([]models.Invoice, error) {
	f.searchQuery, f.searchAmt, f.searchSt = query, amount, statuses
	return []models.Invoice{}, nil
}

type fakeTitles struct {
	titles []models.Title
	nodes  []models.QuorumNode
}

func (f *fakeTitles) UpsertTitle(ctx context.Context, t *models.Title) error {
	f.titles = append(f.titles, *t)
	return nil
}

func (f *fakeTitles) UpsertQuorumNode(ctx context.Context, n *models.QuorumNode) error {
	f.nodes = append(f.nodes, *n)
	return nil
}

func (f *fakeTitles) GetTitle(ctx context.Context, id string) (*models.Title, error) {
	for i := range f.titles {
		if f.titles[i].ID == id {
			return &f.titles[i], nil
		}
	}
	return nil, fmt.Errorf("title %s: %w", id, repository.ErrNotFound)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context, now time.Time) error { return p.err }

type testServer struct {
	router *gin.Engine
	svc    *fakeService
	titles *fakeTitles
	recon  *handler.ReconciliationHandler
}

func newServer(t *testing.T, pingErr error) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &testServer{router: gin.New(), svc: &fakeService{existing: map[string]bool{}}, titles: &fakeTitles{}}
	s.recon = handler.NewReconciliationHandler(s.svc, s.titles, zap.NewNop())
	routes.RegisterRoutes(s.router, s.recon, handler.NewHealthHandler(fakePinger{pingErr}, zap.NewNop()))
	return s
}

func (s *testServer) do(method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) doJSON(method, path string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	return s.do(method, path, body, "application/json")
}

func multipartFile(t *testing.T, filename, content string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	w := newServer(t, nil).do(http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = newServer(t, errors.New("connection refused")).do(http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", decode(t, w)["status"])
}

func TestUploadRunsInBackground(t *testing.T) {
	s := newServer(t, nil)
	body, ct := multipartFile(t, "20200127.cfonb120", "statement content")

	w := s.do(http.MethodPost, "/api/reconciliation/upload", body, ct)
	require.Equal(t, http.StatusAccepted, w.Code)
	out := decode(t, w)
	_, err := uuid.Parse(out["batch_id"].(string))
	assert.NoError(t, err)
	assert.Equal(t, models.BatchStatusProcessing, out["status"])

	s.recon.Wait()
	assert.Equal(t, []string{"statement content"}, s.svc.ran)

	w = s.do(http.MethodPost, "/api/reconciliation/upload", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParse(t *testing.T) {
	s := newServer(t, nil)
	body, ct := multipartFile(t, "x.cfonb120", "content")

	w := s.do(http.MethodPost, "/api/reconciliation/parse", body, ct)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["matched"])

	s.svc.previewErr = fmt.Errorf("statement 1: %w", &cfonb.Error{Err: cfonb.ErrMalformedAmount, Line: 3})
	w = s.do(http.MethodPost, "/api/reconciliation/parse", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "malformed amount at line 3")
	assert.Empty(t, s.svc.ran)
}

func TestBatchProgressAndTransactions(t *testing.T) {
	s := newServer(t, nil)
	id := uuid.New()

	w := s.do(http.MethodGet, "/api/reconciliation/"+id.String(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 5, decode(t, w)["processed_count"])

	w = s.do(http.MethodGet, "/api/reconciliation/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	cursor := uuid.NewString()
	w = s.do(http.MethodGet, "/api/reconciliation/"+id.String()+"/transactions?status=unmatched&cursor="+cursor+"&search=ACME&limit=20", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, "cursor-1", out["next_cursor"])
	assert.Equal(t, true, out["has_more"])
	assert.Equal(t, repository.TransactionFilter{BatchID: id, Status: "unmatched", Cursor: cursor, Search: "ACME", Limit: 20}, s.svc.filter)

	w = s.do(http.MethodGet, "/api/reconciliation/"+id.String()+"/transactions?limit=1000", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/reconciliation/"+id.String()+"/transactions?cursor=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransactionActions(t *testing.T) {
	s := newServer(t, nil)
	tx := uuid.New()
	inv := uuid.New()

	w := s.doJSON(http.MethodPost, "/api/transactions/"+tx.String()+"/confirm", map[string]string{"performed_by": "ops"})
	assert.Equal(t, http.StatusOK, w.Code)

	// the payload is optional
	w = s.do(http.MethodPost, "/api/transactions/"+tx.String()+"/reject", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.doJSON(http.MethodPost, "/api/transactions/"+tx.String()+"/match", map[string]string{"invoice_id": inv.String(), "performed_by": "ops", "reason": "phone"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.doJSON(http.MethodPost, "/api/transactions/"+tx.String()+"/match", map[string]string{"invoice_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.doJSON(http.MethodPost, "/api/transactions/"+tx.String()+"/external", map[string]string{"reason": "card refund"})
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []string{
		"confirm by=ops reason=",
		"reject by= reason=",
		"match " + inv.String() + " by=ops reason=phone",
		"external by= reason=card refund",
	}, s.svc.calls)

	w = s.do(http.MethodGet, "/api/transactions/"+tx.String()+"/history", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 1)

	w = s.doJSON(http.MethodPost, "/api/reconciliation/"+uuid.NewString()+"/bulk-confirm", map[string]string{"performed_by": "ops"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 7, decode(t, w)["transactions_updated"])
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("transaction x: %w", repository.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: cannot confirm", service.ErrInvalidTransition), http.StatusConflict},
		{fmt.Errorf("invoice x: %w", repository.ErrInvoiceNotDue), http.StatusConflict},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		s := newServer(t, nil)
		s.svc.actionErr = tt.err
		w := s.do(http.MethodPost, "/api/transactions/"+uuid.NewString()+"/confirm", nil, "")
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
		assert.Equal(t, tt.err.Error(), decode(t, w)["error"])
	}
}

func TestCreateInvoice(t *testing.T) {
	s := newServer(t, nil)

	w := s.doJSON(http.MethodPost, "/api/invoices", map[string]any{
		"invoice_number": "F-1",
		"customer_name":  "ACME",
		"amount":         "100.10",
		"payment_ref":    "INV-42",
		"due_date":       "31-01-2020",
		"titles":         []map[string]string{{"title_id": "t1", "price": "100.10"}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, s.svc.invoices, 1)
	in := s.svc.invoices[0]
	assert.True(t, in.Amount.Equal(decimal.RequireFromString("100.10")))
	assert.Equal(t, time.Date(2020, time.January, 31, 0, 0, 0, 0, time.UTC), in.DueDate)
	assert.Equal(t, "t1", in.Titles[0].TitleID)

	s.svc.existing["F-1"] = true
	w = s.doJSON(http.MethodPost, "/api/invoices", map[string]any{"invoice_number": "F-1", "customer_name": "ACME", "amount": 1, "payment_ref": "R"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.doJSON(http.MethodPost, "/api/invoices", map[string]any{"customer_name": "", "amount": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.doJSON(http.MethodPost, "/api/invoices", map[string]any{"customer_name": "ACME", "amount": 1, "due_date": "tomorrow"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadInvoices(t *testing.T) {
	s := newServer(t, nil)
	csv := "invoice_number,customer_name,customer_email,amount,payment_ref,status,due_date,titles\n" +
		"F-1,ACME,billing@acme.test,100.00,INV-42,due,2020-01-31,t1:60;t2:40\n" +
		"F-2,GLOBEX,,abc,PAY-7,due,,\n" +
		"F-3,,,5,X,due,,\n" +
		"F-4,INITECH,,55,Q-1,,,t3:55\n"
	body, ct := multipartFile(t, "invoices.csv", csv)

	w := s.do(http.MethodPost, "/api/invoices/upload", body, ct)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.EqualValues(t, 2, out["invoices_added"])
	assert.Len(t, out["skipped"], 2)

	first := s.svc.invoices[0]
	assert.Equal(t, "INV-42", first.PaymentRef)
	require.Len(t, first.Titles, 2)
	assert.True(t, first.Titles[1].Price.Equal(decimal.NewFromInt(40)))

	body, ct = multipartFile(t, "invoices.csv", "name,amount\nACME,1\n")
	w = s.do(http.MethodPost, "/api/invoices/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchInvoices(t *testing.T) {
	s := newServer(t, nil)

	w := s.do(http.MethodGet, "/api/invoices?q=ACME&amount=100.00&status=due&status=paid", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ACME", s.svc.searchQuery)
	assert.True(t, s.svc.searchAmt.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, []string{"due", "paid"}, s.svc.searchSt)

	w = s.do(http.MethodGet, "/api/invoices?amount=lots", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPayoutTargets(t *testing.T) {
	s := newServer(t, nil)

	w := s.doJSON(http.MethodPut, "/api/titles", map[string]any{
		"id":                "t1",
		"name":              "Title One",
		"contract_address":  "0x00000000000000000000000000000000000000c1",
		"stakeholder_nodes": []string{"0xnode1"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, s.titles.titles, 1)
	assert.Equal(t, []string{"0xnode1"}, []string(s.titles.titles[0].StakeholderNodes))

	w = s.do(http.MethodGet, "/api/titles/t1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0x00000000000000000000000000000000000000c1", decode(t, w)["contract_address"])

	w = s.do(http.MethodGet, "/api/titles/t9", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.doJSON(http.MethodPut, "/api/titles", map[string]any{"id": "t2"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.doJSON(http.MethodPut, "/api/quorum-nodes", map[string]any{"address": "0xnode1", "private_for": "key=", "org_name": "Studio"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "key=", s.titles.nodes[0].PrivateFor)
}
