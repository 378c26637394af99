package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
)

type ReconciliationBatch struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Filename          string     `json:"filename"`
	Source            string     `json:"source"`
	AccountCount      int        `json:"account_count"`
	TotalTransactions int        `json:"total_transactions"`
	ProcessedCount    int        `json:"processed_count"`
	MatchedCount      int        `json:"matched_count"`
	PayoutFailedCount int        `json:"payout_failed_count"`
	DuplicateCount    int        `json:"duplicate_count"`
	UnmatchedCount    int        `json:"unmatched_count"`
	Status            string     `json:"status"`
	Error             string     `json:"error,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at"`
	CreatedAt         time.Time  `json:"created_at"`
}
