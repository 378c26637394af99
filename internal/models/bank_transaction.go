package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	TxStatusMatched       = "matched"
	TxStatusUnmatched     = "unmatched"
	TxStatusPayoutFailed  = "payout_failed"
	TxStatusDuplicate     = "duplicate_match"
	TxStatusManualMatched = "manual_matched"
	TxStatusConfirmed     = "confirmed"
	TxStatusExternal      = "external"
)

// BankTransaction is a credit movement read from a statement file, with
// the outcome of its reconciliation.
type BankTransaction struct {
	ID               uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	UploadBatchID    uuid.UUID                   `gorm:"index" json:"upload_batch_id"`
	AccountID        string                      `gorm:"index" json:"account_id"`
	Currency         string                      `json:"currency"`
	TransactionDate  time.Time                   `gorm:"column:transaction_date" json:"transaction_date"`
	ValueDate        time.Time                   `json:"value_date"`
	Description      string                      `json:"description"`
	Amount           decimal.Decimal             `gorm:"type:numeric(20,2);index" json:"amount"`
	OperationCode    string                      `json:"operation_code"`
	OperationNumber  string                      `json:"operation_number"`
	ReferenceNumber  string                      `json:"reference_number"`
	References       datatypes.JSONSlice[string] `json:"references"`
	SourceLine       int                         `json:"source_line"`
	Status           string                      `gorm:"index" json:"status"`
	MatchedInvoiceID *uuid.UUID                  `json:"matched_invoice_id"`
	MatchDetails     datatypes.JSON              `json:"match_details"`
	CreatedAt        time.Time                   `json:"created_at"`
}
