package statement

import (
	"time"

	"github.com/shopspring/decimal"

	"fiat-reconciliation-backend/internal/cfonb"
)

// Balance is the state of an account before or after a statement.
type Balance struct {
	Account cfonb.AccountID
	Amount  decimal.Decimal
	Date    time.Time
}

// Movement is a credit or debit with the references collected from its
// detail records.
type Movement struct {
	CounterpartyLabel string              `json:"counterparty_label"`
	Amount            decimal.Decimal     `json:"amount"`
	IsCredit          bool                `json:"is_credit"`
	AccountingDate    time.Time           `json:"accounting_date"`
	ValueDate         time.Time           `json:"value_date"`
	OperationType     cfonb.OperationType `json:"operation_type"`
	OperationNumber   string              `json:"operation_number,omitempty"`
	References        []string            `json:"references"`
	Line              int                 `json:"line"`
}

// Account is the reconciled snapshot of one bank account.
type Account struct {
	ID         cfonb.AccountID `json:"id"`
	Currency   string          `json:"currency"`
	Balance    decimal.Decimal `json:"balance"`
	LastUpdate time.Time       `json:"last_update"`
	Movements  []Movement      `json:"movements"`
}

// Credits returns the incoming movements in statement order.
func (a Account) Credits() []Movement {
	var credits []Movement
	for _, m := range a.Movements {
		if m.IsCredit {
			credits = append(credits, m)
		}
	}
	return credits
}

func balanceOf(r *cfonb.BalanceRecord) Balance {
	return Balance{Account: r.Account, Amount: r.Amount, Date: r.Date}
}

func movementOf(r *cfonb.MovementRecord) Movement {
	return Movement{
		CounterpartyLabel: r.Label,
		Amount:            r.Amount,
		IsCredit:          r.IsCredit,
		AccountingDate:    r.AccountingDate,
		ValueDate:         r.ValueDate,
		OperationType:     r.Operation,
		OperationNumber:   r.OperationNumber,
		References:        []string{r.Reference},
		Line:              r.Line(),
	}
}
