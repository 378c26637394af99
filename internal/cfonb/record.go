package cfonb

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Line is one 120-character record together with its position in the
// source file.
type Line struct {
	Number int
	Text   string
}

// Kind returns the record code of the line.
func (l Line) Kind() Kind { return Kind(recordCode.Slice(l.Text)) }

var recordCode = Field{Name: FieldRecordCode, Length: 2}

// Lines splits a statement file into records. Lines that are not exactly
// 120 characters long (typically trailing blank lines) are dropped; a
// trailing carriage return is ignored.
func Lines(content string) []Line {
	raw := strings.Split(content, "\n")
	lines := make([]Line, 0, len(raw))
	for i, text := range raw {
		text = strings.TrimSuffix(text, "\r")
		if recordWidth(text) != RecordLength {
			continue
		}
		lines = append(lines, Line{Number: i + 1, Text: text})
	}
	return lines
}

// Record is a decoded CFONB120 record: *BalanceRecord, *MovementRecord or
// *DetailRecord.
type Record interface {
	Kind() Kind
	Line() int
	record()
}

// BalanceRecord is an opening (01) or closing (07) balance.
type BalanceRecord struct {
	kind     Kind
	line     int
	Account  AccountID
	Currency string
	Date     time.Time
	Amount   decimal.Decimal
}

// MovementRecord is a single credit or debit (04).
type MovementRecord struct {
	line            int
	Account         AccountID
	Currency        string
	Operation       OperationType
	AccountingDate  time.Time
	ValueDate       time.Time
	Label           string
	OperationNumber string
	Amount          decimal.Decimal
	IsCredit        bool
	Reference       string
	Control         string
}

// DetailRecord carries supplementary information (05) for the movement
// whose control key it repeats.
type DetailRecord struct {
	line       int
	Qualifier  string
	Additional string
	Control    string
}

func (r *BalanceRecord) Kind() Kind { return r.kind }
func (r *BalanceRecord) Line() int { return r.line }
func (*BalanceRecord) record() {}
func (*MovementRecord) Kind() Kind { return KindMovement }
func (r *MovementRecord) Line() int { return r.line }
func (*MovementRecord) record() {}
func (*DetailRecord) Kind() Kind { return KindDetail }
func (r *DetailRecord) Line() int { return r.line }
func (*DetailRecord) record() {}

// References returns the pair appended to the movement's references.
func (r *DetailRecord) References() []string {
	return []string{r.Qualifier, r.Additional}
}

// ParseRecord decodes one line. century expands the two-digit years of the
// record dates (see DecodeDate).
func ParseRecord(line Line, century int) (Record, error) {
	if recordWidth(line.Text) != RecordLength {
		return nil, &Error{Err: ErrUnexpectedRecordType, Line: line.Number, Detail: "record is not 120 characters long"}
	}

	switch kind := line.Kind(); kind {
	case KindOpeningBalance, KindClosingBalance:
		return parseBalance(kind, line, century)
	case KindMovement:
		return parseMovement(line, century)
	case KindDetail:
		return parseDetail(line), nil
	default:
		return nil, &Error{Err: ErrUnexpectedRecordType, Line: line.Number, Field: FieldRecordCode, Raw: string(kind)}
	}
}

func parseBalance(kind Kind, line Line, century int) (*BalanceRecord, error) {
	f := fields(kind, line.Text)

	account, err := ComputeAccountID(f[FieldBankCode], f[FieldBranchCode], f[FieldAccountNumber])
	if err != nil {
		return nil, annotate(err, line.Number, FieldAccountNumber)
	}
	date, err := DecodeDate(f[FieldDate], century)
	if err != nil {
		return nil, annotate(err, line.Number, FieldDate)
	}
	amount, err := DecodeAmount(f[FieldAmount], f[FieldDecimalCount])
	if err != nil {
		return nil, annotate(err, line.Number, FieldAmount)
	}

	return &BalanceRecord{
		kind:     kind,
		line:     line.Number,
		Account:  account,
		Currency: f[FieldCurrency],
		Date:     date,
		Amount:   amount,
	}, nil
}

func parseMovement(line Line, century int) (*MovementRecord, error) {
	f := fields(KindMovement, line.Text)

	account, err := ComputeAccountID(f[FieldBankCode], f[FieldBranchCode], f[FieldAccountNumber])
	if err != nil {
		return nil, annotate(err, line.Number, FieldAccountNumber)
	}
	op, err := ParseOperationCode(f[FieldInterbankOpCode])
	if err != nil {
		return nil, annotate(err, line.Number, FieldInterbankOpCode)
	}
	accountingDate, err := DecodeDate(f[FieldDate], century)
	if err != nil {
		return nil, annotate(err, line.Number, FieldDate)
	}
	valueDate, err := DecodeDate(f[FieldValueDate], century)
	if err != nil {
		return nil, annotate(err, line.Number, FieldValueDate)
	}
	amount, err := DecodeAmount(f[FieldAmount], f[FieldDecimalCount])
	if err != nil {
		return nil, annotate(err, line.Number, FieldAmount)
	}

	// zero amounts count as credits
	isCredit := amount.Sign() >= 0
	if op.Credit != nil && *op.Credit != isCredit {
		return nil, &Error{
			Err:    ErrCreditDebitMismatch,
			Line:   line.Number,
			Field:  FieldAmount,
			Raw:    f[FieldAmount],
			Detail: "operation " + op.Code + " (" + op.Label + ") disagrees with the sign of " + amount.String(),
		}
	}

	return &MovementRecord{
		line:            line.Number,
		Account:         account,
		Currency:        f[FieldCurrency],
		Operation:       op,
		AccountingDate:  accountingDate,
		ValueDate:       valueDate,
		Label:           strings.TrimRight(f[FieldLabel], " "),
		OperationNumber: strings.TrimSpace(f[FieldOperationNumber]),
		Amount:          amount,
		IsCredit:        isCredit,
		Reference:       strings.TrimRight(f[FieldReference], " "),
		Control:         ControlKey.Slice(line.Text),
	}, nil
}

func parseDetail(line Line) *DetailRecord {
	f := fields(KindDetail, line.Text)
	return &DetailRecord{
		line:       line.Number,
		Qualifier:  strings.TrimRight(f[FieldQualifier], " "),
		Additional: strings.TrimRight(f[FieldAdditionalInfo], " "),
		Control:    ControlKey.Slice(line.Text),
	}
}
