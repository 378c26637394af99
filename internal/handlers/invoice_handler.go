package handler

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"fiat-reconciliation-backend/internal/models"
	service "fiat-reconciliation-backend/internal/services/reconciliation"
)

// TitleStore registers where invoice lines are paid out.
type TitleStore interface {
	UpsertTitle(ctx context.Context, t *models.Title) error
	UpsertQuorumNode(ctx context.Context, n *models.QuorumNode) error
	GetTitle(ctx context.Context, id string) (*models.Title, error)
}

var dueDateLayouts = []string{"2006-01-02", "02-01-2006"}

func parseDueDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	var err error
	for _, layout := range dueDateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid due date %q, expected yyyy-mm-dd or dd-mm-yyyy", s)
}

// parseTitles reads invoice lines written as "id:price;id:price".
func parseTitles(s string) ([]models.InvoiceTitle, error) {
	var titles []models.InvoiceTitle
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, price, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("invalid title line %q, expected id:price", part)
		}
		p, err := decimal.NewFromString(strings.TrimSpace(price))
		if err != nil || p.IsNegative() {
			return nil, fmt.Errorf("invalid price in title line %q", part)
		}
		titles = append(titles, models.InvoiceTitle{TitleID: strings.TrimSpace(id), Price: p})
	}
	return titles, nil
}

func (h *ReconciliationHandler) CreateInvoice(c *gin.Context) {
	var payload struct {
		InvoiceNumber string                `json:"invoice_number"` // optional
		CustomerName  string                `json:"customer_name"`
		CustomerEmail string                `json:"customer_email"`
		Amount        decimal.Decimal       `json:"amount"`
		PaymentRef    string                `json:"payment_ref"`
		Status        string                `json:"status"`
		Titles        []models.InvoiceTitle `json:"titles"`
		DueDate       string                `json:"due_date"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	dueDate, err := parseDueDate(payload.DueDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	invoice, created, err := h.service.CreateInvoice(c.Request.Context(), service.InvoiceInput{
		InvoiceNumber: payload.InvoiceNumber,
		CustomerName:  payload.CustomerName,
		CustomerEmail: payload.CustomerEmail,
		Amount:        payload.Amount,
		PaymentRef:    payload.PaymentRef,
		Status:        payload.Status,
		Titles:        payload.Titles,
		DueDate:       dueDate,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !created {
		c.JSON(http.StatusConflict, gin.H{"error": "invoice number already exists"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "invoice created", "invoice": invoice})
}

// UploadInvoices imports invoices from a CSV file with a header row. Rows
// that cannot be imported are skipped and reported.
func (h *ReconciliationHandler) UploadInvoices(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}
	logger := h.logger.With(zap.String("file", header.Filename))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	firstLine, _, _ := bytes.Cut(data, []byte("\n"))
	if !bytes.Contains(firstLine, []byte(",")) && bytes.Contains(firstLine, []byte("\t")) {
		reader.Comma = '\t'
	}

	headerRow, err := reader.Read()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read CSV header"})
		return
	}
	columns := make(map[string]int, len(headerRow))
	for i, name := range headerRow {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"customer_name", "amount", "payment_ref"} {
		if _, ok := columns[required]; !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing column " + required})
			return
		}
	}

	inserted := 0
	var skipped []gin.H
	for rowNum := 2; ; rowNum++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil {
			err = h.importInvoice(c.Request.Context(), columns, record)
		}
		if err != nil {
			logger.Warn("Skipping invoice row", zap.Int("row", rowNum), zap.Error(err))
			skipped = append(skipped, gin.H{"row": rowNum, "error": err.Error()})
			continue
		}
		inserted++
	}

	logger.Info("Invoices imported", zap.Int("inserted", inserted), zap.Int("skipped", len(skipped)))
	c.JSON(http.StatusOK, gin.H{
		"file":           header.Filename,
		"invoices_added": inserted,
		"skipped":        skipped,
	})
}

func (h *ReconciliationHandler) importInvoice(ctx context.Context, columns map[string]int, record []string) error {
	field := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	amount, err := decimal.NewFromString(field("amount"))
	if err != nil {
		return fmt.Errorf("invalid amount %q", field("amount"))
	}
	dueDate, err := parseDueDate(field("due_date"))
	if err != nil {
		return err
	}
	titles, err := parseTitles(field("titles"))
	if err != nil {
		return err
	}

	_, created, err := h.service.CreateInvoice(ctx, service.InvoiceInput{
		InvoiceNumber: field("invoice_number"),
		CustomerName:  field("customer_name"),
		CustomerEmail: field("customer_email"),
		Amount:        amount,
		PaymentRef:    field("payment_ref"),
		Status:        field("status"),
		Titles:        titles,
		DueDate:       dueDate,
	})
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("invoice %s already exists", field("invoice_number"))
	}
	return nil
}

// SearchInvoices lists invoices for manual matching. Query parameters: q
// (customer, number or reference), amount and status (repeatable).
func (h *ReconciliationHandler) SearchInvoices(c *gin.Context) {
	var amount *decimal.Decimal
	if raw := c.Query("amount"); raw != "" {
		a, err := decimal.NewFromString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		amount = &a
	}

	invoices, err := h.service.SearchInvoices(c.Request.Context(), c.Query("q"), amount, c.QueryArray("status"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": invoices})
}

func (h *ReconciliationHandler) UpsertTitle(c *gin.Context) {
	var payload struct {
		ID               string   `json:"id"`
		Name             string   `json:"name"`
		ContractAddress  string   `json:"contract_address"`
		StakeholderNodes []string `json:"stakeholder_nodes"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || payload.ID == "" || payload.ContractAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id and contract_address are required"})
		return
	}

	title := &models.Title{
		ID:               payload.ID,
		Name:             payload.Name,
		ContractAddress:  payload.ContractAddress,
		StakeholderNodes: datatypes.NewJSONSlice(payload.StakeholderNodes),
		CreatedAt:        time.Now(),
	}
	if err := h.titles.UpsertTitle(c.Request.Context(), title); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "title saved", "title": title})
}

func (h *ReconciliationHandler) GetTitle(c *gin.Context) {
	title, err := h.titles.GetTitle(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, title)
}

func (h *ReconciliationHandler) UpsertQuorumNode(c *gin.Context) {
	var payload struct {
		Address    string `json:"address"`
		PrivateFor string `json:"private_for"`
		OrgName    string `json:"org_name"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || payload.Address == "" || payload.PrivateFor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address and private_for are required"})
		return
	}

	node := &models.QuorumNode{
		Address:    payload.Address,
		PrivateFor: payload.PrivateFor,
		OrgName:    payload.OrgName,
		CreatedAt:  time.Now(),
	}
	if err := h.titles.UpsertQuorumNode(c.Request.Context(), node); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "quorum node saved", "node": node})
}
