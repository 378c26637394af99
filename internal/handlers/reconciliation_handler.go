package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fiat-reconciliation-backend/internal/cfonb"
	"fiat-reconciliation-backend/internal/models"
	"fiat-reconciliation-backend/internal/repository"
	service "fiat-reconciliation-backend/internal/services/reconciliation"
)

const (
	maxStatementSize = 32 << 20
	maxPageSize      = 200
)

// Service is the part of the reconciliation service the API exposes.
type Service interface {
	CreateBatch(ctx context.Context, filename, source string) (*models.ReconciliationBatch, error)
	Run(ctx context.Context, batch *models.ReconciliationBatch, content string) error
	Preview(ctx context.Context, content string) (*service.Preview, error)
	GetProgress(ctx context.Context, batchID uuid.UUID) (service.Progress, error)
	ListTransactions(ctx context.Context, f repository.TransactionFilter) ([]models.BankTransaction, string, bool, error)
	GetBatchStats(ctx context.Context, batchID uuid.UUID) (service.BatchStats, error)
	ConfirmTransaction(ctx context.Context, txID uuid.UUID, performedBy string) (*models.BankTransaction, error)
	RejectTransaction(ctx context.Context, txID uuid.UUID, performedBy, reason string) (*models.BankTransaction, error)
	MarkTransactionExternal(ctx context.Context, txID uuid.UUID, performedBy, reason string) (*models.BankTransaction, error)
	ManualMatchTransaction(ctx context.Context, txID, invoiceID uuid.UUID, performedBy, reason string) (*models.BankTransaction, error)
	BulkConfirmMatched(ctx context.Context, batchID uuid.UUID, performedBy string) (int, error)
	TransactionHistory(ctx context.Context, txID uuid.UUID) ([]models.MatchAuditLog, error)
	CreateInvoice(ctx context.Context, in service.InvoiceInput) (*models.Invoice, bool, error)
	SearchInvoices(ctx context.Context, query string, amount *decimal.Decimal, statuses []string) ([]models.Invoice, error)
}

type ReconciliationHandler struct {
	service Service
	titles  TitleStore
	logger  *zap.Logger

	// background reconciliations started by uploads
	running sync.WaitGroup
}

func NewReconciliationHandler(s Service, titles TitleStore, logger *zap.Logger) *ReconciliationHandler {
	return &ReconciliationHandler{service: s, titles: titles, logger: logger}
}

// Wait blocks until every uploaded file has been reconciled.
func (h *ReconciliationHandler) Wait() {
	h.running.Wait()
}

// Upload stores a CFONB120 statement file as a new batch and reconciles it
// in the background.
func (h *ReconciliationHandler) Upload(c *gin.Context) {
	content, filename, ok := h.readStatement(c)
	if !ok {
		return
	}

	batch, err := h.service.CreateBatch(c.Request.Context(), filename, "upload")
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.running.Add(1)
	go func() {
		defer h.running.Done()
		// the request context ends with the response
		if err := h.service.Run(context.Background(), batch, content); err != nil {
			h.logger.Warn("Uploaded statement not reconciled",
				zap.String("batch_id", batch.ID.String()),
				zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"batch_id": batch.ID.String(),
		"status":   batch.Status,
	})
}

// Parse decodes and matches a statement file without paying or storing
// anything.
func (h *ReconciliationHandler) Parse(c *gin.Context) {
	content, _, ok := h.readStatement(c)
	if !ok {
		return
	}

	preview, err := h.service.Preview(c.Request.Context(), content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (h *ReconciliationHandler) readStatement(c *gin.Context) (string, string, bool) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return "", "", false
	}
	defer file.Close()

	if header.Size > maxStatementSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return "", "", false
	}
	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return "", "", false
	}

	h.logger.Info("Received statement file",
		zap.String("file", header.Filename),
		zap.Int64("size", header.Size))
	return string(content), header.Filename, true
}

func (h *ReconciliationHandler) GetBatchProgress(c *gin.Context) {
	batchID, ok := parseID(c, "batchId", "batch")
	if !ok {
		return
	}
	progress, err := h.service.GetProgress(c.Request.Context(), batchID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (h *ReconciliationHandler) ListTransactions(c *gin.Context) {
	batchID, ok := parseID(c, "batchId", "batch")
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxPageSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		limit = n
	}

	cursor := c.Query("cursor")
	if cursor != "" {
		if _, err := uuid.Parse(cursor); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
			return
		}
	}

	items, nextCursor, hasMore, err := h.service.ListTransactions(c.Request.Context(), repository.TransactionFilter{
		BatchID: batchID,
		Status:  c.Query("status"),
		Cursor:  cursor,
		Search:  c.Query("search"),
		Limit:   limit,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	stats, err := h.service.GetBatchStats(c.Request.Context(), batchID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":       items,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
		"stats":       stats,
	})
}

type reviewPayload struct {
	PerformedBy string `json:"performed_by"`
	Reason      string `json:"reason"`
	InvoiceID   string `json:"invoice_id"`
}

// bindReview reads the optional review payload of a transaction action.
func bindReview(c *gin.Context) (reviewPayload, bool) {
	var payload reviewPayload
	if c.Request.ContentLength == 0 {
		return payload, true
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return payload, false
	}
	return payload, true
}

func (h *ReconciliationHandler) ConfirmTransaction(c *gin.Context) {
	id, ok := parseID(c, "id", "transaction")
	if !ok {
		return
	}
	payload, ok := bindReview(c)
	if !ok {
		return
	}

	tx, err := h.service.ConfirmTransaction(c.Request.Context(), id, payload.PerformedBy)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction confirmed", "transaction": tx})
}

func (h *ReconciliationHandler) RejectTransaction(c *gin.Context) {
	id, ok := parseID(c, "id", "transaction")
	if !ok {
		return
	}
	payload, ok := bindReview(c)
	if !ok {
		return
	}

	tx, err := h.service.RejectTransaction(c.Request.Context(), id, payload.PerformedBy, payload.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction rejected", "transaction": tx})
}

func (h *ReconciliationHandler) ManualMatchTransaction(c *gin.Context) {
	id, ok := parseID(c, "id", "transaction")
	if !ok {
		return
	}
	payload, ok := bindReview(c)
	if !ok {
		return
	}

	invoiceID, err := uuid.Parse(payload.InvoiceID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice ID"})
		return
	}

	tx, err := h.service.ManualMatchTransaction(c.Request.Context(), id, invoiceID, payload.PerformedBy, payload.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction manually matched", "transaction": tx})
}

func (h *ReconciliationHandler) MarkTransactionExternal(c *gin.Context) {
	id, ok := parseID(c, "id", "transaction")
	if !ok {
		return
	}
	payload, ok := bindReview(c)
	if !ok {
		return
	}

	tx, err := h.service.MarkTransactionExternal(c.Request.Context(), id, payload.PerformedBy, payload.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction marked as external", "transaction": tx})
}

func (h *ReconciliationHandler) BulkConfirmMatched(c *gin.Context) {
	batchID, ok := parseID(c, "batchId", "batch")
	if !ok {
		return
	}
	payload, ok := bindReview(c)
	if !ok {
		return
	}

	count, err := h.service.BulkConfirmMatched(c.Request.Context(), batchID, payload.PerformedBy)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":              "bulk confirm completed",
		"transactions_updated": count,
	})
}

func (h *ReconciliationHandler) TransactionHistory(c *gin.Context) {
	id, ok := parseID(c, "id", "transaction")
	if !ok {
		return
	}
	entries, err := h.service.TransactionHistory(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}

func parseID(c *gin.Context, param, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + what + " ID"})
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps service errors to HTTP statuses.
func (h *ReconciliationHandler) respondError(c *gin.Context, err error) {
	var cerr *cfonb.Error
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, repository.ErrInvoiceNotDue):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidInvoice), errors.As(err, &cerr):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
