// Package statement turns CFONB120 records into account snapshots and folds
// snapshots of the same account together.
package statement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fiat-reconciliation-backend/internal/cfonb"
)

type assemblyState int

const (
	expectOpen assemblyState = iota
	expectMovementOrClose
	expectDetailOrNext
	closed
)

// openMovement is the movement that following detail records attach to.
type openMovement struct {
	movement Movement
	control  string
	line     int
}

type assembler struct {
	state     assemblyState
	opening   Balance
	closing   Balance
	closeLine int
	currency  string
	current   *openMovement
	movements []Movement
}

// Assemble checks the structure of one statement (01, then 04 each followed
// by its 05 records, then 07) and returns the resulting account. The
// statement is rejected unless opening + movements == closing exactly.
func Assemble(records []cfonb.Record) (Account, error) {
	if len(records) == 0 {
		return Account{}, cfonb.RecordError(cfonb.ErrMalformedStatementStructure, 0, "empty statement")
	}

	a := &assembler{state: expectOpen}
	for _, rec := range records {
		if a.state == closed {
			return Account{}, cfonb.RecordError(cfonb.ErrMalformedStatementStructure, rec.Line(),
				fmt.Sprintf("%s after the closing balance", rec.Kind()))
		}
		if err := a.step(rec); err != nil {
			return Account{}, err
		}
	}
	if a.state != closed {
		return Account{}, cfonb.RecordError(cfonb.ErrMalformedStatementStructure, records[len(records)-1].Line(),
			"statement does not end with a closing balance")
	}

	return a.account()
}

func (a *assembler) step(rec cfonb.Record) error {
	switch a.state {
	case expectOpen:
		r, ok := rec.(*cfonb.BalanceRecord)
		if !ok || r.Kind() != cfonb.KindOpeningBalance {
			return cfonb.RecordError(cfonb.ErrMalformedStatementStructure, rec.Line(),
				fmt.Sprintf("statement must start with an opening balance, got %s", rec.Kind()))
		}
		a.opening = balanceOf(r)
		a.currency = r.Currency
		a.state = expectMovementOrClose
		return nil

	case expectMovementOrClose, expectDetailOrNext:
		switch r := rec.(type) {
		case *cfonb.MovementRecord:
			a.flush()
			a.current = &openMovement{movement: movementOf(r), control: r.Control, line: r.Line()}
			a.state = expectDetailOrNext
			return nil

		case *cfonb.DetailRecord:
			if a.state != expectDetailOrNext || a.current == nil {
				return cfonb.RecordError(cfonb.ErrOrphanDetailRecord, r.Line(), "no movement record precedes it")
			}
			if r.Control != a.current.control {
				return &cfonb.Error{
					Err:    cfonb.ErrOrphanDetailRecord,
					Line:   r.Line(),
					Field:  cfonb.ControlKey.Name,
					Raw:    r.Control,
					Detail: fmt.Sprintf("does not match movement at line %d (%q)", a.current.line, a.current.control),
				}
			}
			a.current.movement.References = append(a.current.movement.References, r.References()...)
			return nil

		case *cfonb.BalanceRecord:
			if r.Kind() != cfonb.KindClosingBalance {
				return cfonb.RecordError(cfonb.ErrMalformedStatementStructure, r.Line(), "opening balance inside a statement")
			}
			a.flush()
			a.closing = balanceOf(r)
			a.closeLine = r.Line()
			a.state = closed
			return nil
		}
	}

	return cfonb.RecordError(cfonb.ErrMalformedStatementStructure, rec.Line(), fmt.Sprintf("unexpected %s", rec.Kind()))
}

func (a *assembler) flush() {
	if a.current == nil {
		return
	}
	a.movements = append(a.movements, a.current.movement)
	a.current = nil
}

func (a *assembler) account() (Account, error) {
	if a.opening.Account != a.closing.Account {
		return Account{}, &cfonb.Error{
			Err:    cfonb.ErrAccountMismatch,
			Line:   a.closeLine,
			Raw:    string(a.closing.Account),
			Detail: fmt.Sprintf("opening balance is for %s", a.opening.Account),
		}
	}

	movementsTotal := Sum(a.movements)
	if total := a.opening.Amount.Add(movementsTotal); !total.Equal(a.closing.Amount) {
		return Account{}, &cfonb.Error{
			Err:  cfonb.ErrBalanceInvariantViolation,
			Line: a.closeLine,
			Raw:  string(a.closing.Account),
			Detail: fmt.Sprintf("opening %s + movements %s = %s, closing balance is %s",
				a.opening.Amount, movementsTotal, total, a.closing.Amount),
		}
	}

	movements := a.movements
	if movements == nil {
		movements = []Movement{}
	}
	return Account{
		ID:         a.closing.Account,
		Currency:   a.currency,
		Balance:    a.closing.Amount,
		LastUpdate: a.closing.Date,
		Movements:  movements,
	}, nil
}

// ParseStatement decodes the lines of one statement and assembles them.
func ParseStatement(lines []cfonb.Line, century int) (Account, error) {
	records := make([]cfonb.Record, 0, len(lines))
	for _, l := range lines {
		rec, err := cfonb.ParseRecord(l, century)
		if err != nil {
			return Account{}, err
		}
		records = append(records, rec)
	}
	return Assemble(records)
}

// ParseFile decodes every statement of a file. now is the reference time
// used to expand two-digit years. Any error aborts the whole file: a single
// corrupted statement means none of its balances can be trusted.
func ParseFile(content string, now time.Time) ([]Account, error) {
	century := cfonb.CenturyOf(now)
	statements := Split(cfonb.Lines(content))

	accounts := make([]Account, 0, len(statements))
	for i, lines := range statements {
		account, err := ParseStatement(lines, century)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i+1, err)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// Sum adds up the movement amounts.
func Sum(movements []Movement) decimal.Decimal {
	total := decimal.Zero
	for _, m := range movements {
		total = total.Add(m.Amount)
	}
	return total
}
