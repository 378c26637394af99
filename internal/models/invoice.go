package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	InvoiceStatusDue  = "due"
	InvoiceStatusPaid = "paid"
)

// InvoiceTitle is one line of an invoice: the share of the price that goes
// to a title's contract.
type InvoiceTitle struct {
	TitleID string          `json:"title_id"`
	Price   decimal.Decimal `json:"price"`
}

type Invoice struct {
	ID            uuid.UUID                         `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceNumber string                            `gorm:"uniqueIndex" json:"invoice_number"`
	CustomerName  string                            `gorm:"index" json:"customer_name"`
	CustomerEmail string                            `json:"customer_email"`
	Amount        decimal.Decimal                   `gorm:"type:numeric(20,2);index" json:"amount"`
	PaymentRef    string                            `gorm:"index" json:"payment_ref"`
	Status        string                            `gorm:"index" json:"status"`
	Titles        datatypes.JSONSlice[InvoiceTitle] `json:"titles"`
	TxHashProofs  datatypes.JSONSlice[string]       `json:"tx_hash_proofs"`
	DueDate       time.Time                         `json:"due_date"`
	PaidAt        *time.Time                        `json:"paid_at"`
	CreatedAt     time.Time                         `json:"created_at"`
}
