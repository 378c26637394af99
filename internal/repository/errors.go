package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrTitleNotFound      = errors.New("title not found")
	ErrQuorumNodeNotFound = errors.New("quorum node not found")
	ErrInvoiceNotDue      = errors.New("invoice is not due")
)

// notFound turns gorm's not-found error into ErrNotFound, keeping what was
// looked up in the message.
func notFound(err error, what string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return err
}
