package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AuditActionConfirm     = "confirm"
	AuditActionReject      = "reject"
	AuditActionManualMatch = "manual_match"
	AuditActionExternal    = "external"
	AuditActionBulkConfirm = "bulk_confirm"
)

type MatchAuditLog struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID   uuid.UUID  `gorm:"index" json:"transaction_id"`
	Action          string     `json:"action"`
	PreviousStatus  string     `json:"previous_status"`
	PreviousInvoice *uuid.UUID `json:"previous_invoice"`
	NewInvoice      *uuid.UUID `json:"new_invoice"`
	PerformedBy     string     `json:"performed_by"`
	Reason          string     `json:"reason"`
	CreatedAt       time.Time  `json:"created_at"`
}
