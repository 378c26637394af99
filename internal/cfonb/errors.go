package cfonb

import (
	"errors"
	"fmt"
	"strings"
)

// Syntax errors abort decoding of the current record.
var (
	ErrMalformedDate              = errors.New("malformed date")
	ErrMalformedAmount            = errors.New("malformed amount")
	ErrInvalidIdentifierChar      = errors.New("invalid identifier character")
	ErrUnimplementedOperationCode = errors.New("unimplemented operation code")
	ErrMalformedOperationCode     = errors.New("malformed operation code")
	ErrUnexpectedRecordType       = errors.New("unexpected record type")
)

// Structural and invariant errors abort the whole statement.
var (
	ErrMalformedStatementStructure = errors.New("malformed statement structure")
	ErrOrphanDetailRecord          = errors.New("orphan detail record")
	ErrAccountMismatch             = errors.New("account mismatch")
	ErrCreditDebitMismatch         = errors.New("credit/debit mismatch")
	ErrBalanceInvariantViolation   = errors.New("balance invariant violation")
)

// Error locates a decoding failure in the source file. Err is always one of
// the sentinel errors above so callers can use errors.Is.
type Error struct {
	Err    error
	Line   int    // 1-based line number in the source file, 0 when unknown
	Field  string // record field name, empty for record-level failures
	Raw    string // offending substring
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " in field %s", e.Field)
	}
	if e.Raw != "" {
		fmt.Fprintf(&b, " (%q)", e.Raw)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(err error, raw, detail string) *Error {
	return &Error{Err: err, Raw: raw, Detail: detail}
}

// annotate fills in location data that the codecs do not know about.
func annotate(err error, line int, field string) error {
	var e *Error
	if errors.As(err, &e) {
		if e.Line == 0 {
			e.Line = line
		}
		if e.Field == "" {
			e.Field = field
		}
		return e
	}
	return &Error{Err: err, Line: line, Field: field}
}

// RecordError builds a located error for a whole record.
func RecordError(err error, line int, detail string) error {
	return &Error{Err: err, Line: line, Detail: detail}
}
