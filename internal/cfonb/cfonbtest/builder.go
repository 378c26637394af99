// Package cfonbtest builds CFONB120 records for tests and fixtures.
package cfonbtest

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fiat-reconciliation-backend/internal/cfonb"
)

// Account holds the fields every record of a statement repeats.
type Account struct {
	Bank     string
	Branch   string
	Number   string
	Currency string
	Decimals int
}

// DefaultAccount is a plain EUR account with 2 decimals.
var DefaultAccount = Account{Bank: "30004", Branch: "00550", Number: "00012345678", Currency: "EUR", Decimals: 2}

// ID returns the computed account identifier, panicking on invalid fields.
func (a Account) ID() cfonb.AccountID {
	id, err := cfonb.ComputeAccountID(a.Bank, a.Branch, a.Number)
	if err != nil {
		panic(err)
	}
	return id
}

// Movement describes a 04 record. Empty fields get sensible defaults.
type Movement struct {
	OpCode          string
	InternalCode    string
	Date            time.Time
	ValueDate       time.Time
	Label           string
	OperationNumber string
	Amount          string
	Reference       string
}

// Balance renders an opening (01) or closing (07) balance record.
func Balance(kind cfonb.Kind, a Account, date time.Time, amount string) string {
	line := blank()
	put(line, kind, cfonb.FieldRecordCode, string(kind))
	putAccount(line, kind, a)
	put(line, kind, cfonb.FieldDate, cfonb.EncodeDate(date))
	put(line, kind, cfonb.FieldAmount, encodeAmount(amount, a.Decimals))
	return string(line)
}

// Opening is Balance(KindOpeningBalance, ...).
func Opening(a Account, date time.Time, amount string) string {
	return Balance(cfonb.KindOpeningBalance, a, date, amount)
}

// Closing is Balance(KindClosingBalance, ...).
func Closing(a Account, date time.Time, amount string) string {
	return Balance(cfonb.KindClosingBalance, a, date, amount)
}

// MovementLine renders a 04 record.
func MovementLine(a Account, m Movement) string {
	m = m.withDefaults()
	kind := cfonb.KindMovement
	line := blank()
	put(line, kind, cfonb.FieldRecordCode, string(kind))
	putAccount(line, kind, a)
	put(line, kind, cfonb.FieldInternalOpCode, m.InternalCode)
	put(line, kind, cfonb.FieldInterbankOpCode, m.OpCode)
	put(line, kind, cfonb.FieldDate, cfonb.EncodeDate(m.Date))
	put(line, kind, cfonb.FieldValueDate, cfonb.EncodeDate(m.ValueDate))
	put(line, kind, cfonb.FieldLabel, m.Label)
	put(line, kind, cfonb.FieldOperationNumber, m.OperationNumber)
	put(line, kind, cfonb.FieldAmount, encodeAmount(m.Amount, a.Decimals))
	put(line, kind, cfonb.FieldReference, m.Reference)
	return string(line)
}

// DetailLine renders a 05 record linked to the given movement.
func DetailLine(a Account, m Movement, qualifier, info string) string {
	m = m.withDefaults()
	kind := cfonb.KindDetail
	line := blank()
	put(line, kind, cfonb.FieldRecordCode, string(kind))
	putAccount(line, kind, a)
	put(line, kind, cfonb.FieldInternalOpCode, m.InternalCode)
	put(line, kind, cfonb.FieldInterbankOpCode, m.OpCode)
	put(line, kind, cfonb.FieldDate, cfonb.EncodeDate(m.Date))
	put(line, kind, cfonb.FieldQualifier, qualifier)
	put(line, kind, cfonb.FieldAdditionalInfo, info)
	return string(line)
}

// File joins records into a statement file with a trailing newline.
func File(records ...string) string {
	return strings.Join(records, "\n") + "\n"
}

func (m Movement) withDefaults() Movement {
	if m.OpCode == "" {
		m.OpCode = "05"
	}
	if m.InternalCode == "" {
		m.InternalCode = "0001"
	}
	if m.ValueDate.IsZero() {
		m.ValueDate = m.Date
	}
	if m.OperationNumber == "" {
		m.OperationNumber = "0000001"
	}
	return m
}

func blank() []byte {
	return []byte(strings.Repeat(" ", cfonb.RecordLength))
}

func putAccount(line []byte, kind cfonb.Kind, a Account) {
	put(line, kind, cfonb.FieldBankCode, a.Bank)
	put(line, kind, cfonb.FieldBranchCode, a.Branch)
	put(line, kind, cfonb.FieldCurrency, a.Currency)
	put(line, kind, cfonb.FieldDecimalCount, fmt.Sprint(a.Decimals))
	put(line, kind, cfonb.FieldAccountNumber, a.Number)
}

func put(line []byte, kind cfonb.Kind, name, value string) {
	for _, f := range cfonb.Layouts[kind] {
		if f.Name != name {
			continue
		}
		if len(value) > f.Length {
			panic(fmt.Sprintf("cfonbtest: %s %q longer than %d", name, value, f.Length))
		}
		copy(line[f.Offset:f.Offset+f.Length], value)
		return
	}
	panic(fmt.Sprintf("cfonbtest: no field %s in %s layout", name, kind))
}

func encodeAmount(amount string, decimals int) string {
	raw, err := cfonb.EncodeAmount(decimal.RequireFromString(amount), decimals)
	if err != nil {
		panic(err)
	}
	return raw
}
