package cfonb

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AmountLength is the width of every amount field.
const AmountLength = 14

// CenturyOf returns the century prefix used to expand two-digit years,
// e.g. 20 for 2026.
func CenturyOf(t time.Time) int {
	return t.Year() / 100
}

// DecodeDate parses a DDMMYY date. The format only carries two year digits,
// so the year is expanded with the given century: dates more than about
// fifty years away from the reference time cannot be told apart.
func DecodeDate(raw string, century int) (time.Time, error) {
	if len(raw) != 6 || !isDigits(raw) {
		return time.Time{}, newError(ErrMalformedDate, raw, "expected 6 digits DDMMYY")
	}

	day, _ := strconv.Atoi(raw[0:2])
	month, _ := strconv.Atoi(raw[2:4])
	yy, _ := strconv.Atoi(raw[4:6])
	year := century*100 + yy

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalises out-of-range values, so 310220 would become 2 March.
	if date.Day() != day || int(date.Month()) != month || date.Year() != year {
		return time.Time{}, newError(ErrMalformedDate, raw, fmt.Sprintf("%04d-%02d-%02d is not a calendar date", year, month, day))
	}
	return date, nil
}

// EncodeDate is the inverse of DecodeDate.
func EncodeDate(t time.Time) string {
	return t.Format("020106")
}

// sign/overflow codes, indexed by the digit they carry
const (
	positiveCodes = "{ABCDEFGHI"
	negativeCodes = "}JKLMNOPQR"
)

// DecodeAmount decodes a 14-character amount field. decimals is the
// one-character decimal count of the record (1 or 2). The last character of
// raw is a code carrying both the sign and the last decimal digit, so
// "0000000001234Q" with 2 decimals is -123.48.
func DecodeAmount(raw, decimals string) (decimal.Decimal, error) {
	if len(raw) != AmountLength {
		return decimal.Zero, newError(ErrMalformedAmount, raw, fmt.Sprintf("expected %d characters", AmountLength))
	}
	n, err := strconv.Atoi(decimals)
	if err != nil || n < 1 || n > 2 {
		return decimal.Zero, &Error{Err: ErrMalformedAmount, Field: "decimal count", Raw: decimals, Detail: "must be 1 or 2"}
	}

	integerPart := raw[:AmountLength-n]
	decimalDigits := raw[AmountLength-n : AmountLength-1]
	code := raw[AmountLength-1]

	if !isDigits(integerPart) {
		return decimal.Zero, newError(ErrMalformedAmount, raw, "integer part "+strconv.Quote(integerPart)+" is not numeric")
	}
	if !isDigits(decimalDigits) {
		return decimal.Zero, newError(ErrMalformedAmount, raw, "decimal digits "+strconv.Quote(decimalDigits)+" are not numeric")
	}

	negative := false
	last := strings.IndexByte(positiveCodes, code)
	if last < 0 {
		last = strings.IndexByte(negativeCodes, code)
		negative = true
	}
	if last < 0 {
		return decimal.Zero, newError(ErrMalformedAmount, raw, fmt.Sprintf("unknown sign code %q", code))
	}

	coefficient, err := strconv.ParseInt(integerPart+decimalDigits+strconv.Itoa(last), 10, 64)
	if err != nil {
		return decimal.Zero, newError(ErrMalformedAmount, raw, err.Error())
	}
	if negative {
		coefficient = -coefficient
	}
	return decimal.New(coefficient, int32(-n)), nil
}

// EncodeAmount renders d as a 14-character amount field with the given
// decimal count. It is the inverse of DecodeAmount and is mostly used to
// build statement files.
func EncodeAmount(d decimal.Decimal, decimals int) (string, error) {
	if decimals < 1 || decimals > 2 {
		return "", fmt.Errorf("%w: decimal count %d must be 1 or 2", ErrMalformedAmount, decimals)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return "", fmt.Errorf("%w: %s has more than %d decimals", ErrMalformedAmount, d, decimals)
	}
	coefficient := scaled.Abs().BigInt().String()
	if len(coefficient) > AmountLength {
		return "", fmt.Errorf("%w: %s does not fit in %d digits", ErrMalformedAmount, d, AmountLength)
	}
	coefficient = strings.Repeat("0", AmountLength-len(coefficient)) + coefficient

	last := coefficient[AmountLength-1] - '0'
	codes := positiveCodes
	if d.Sign() < 0 {
		codes = negativeCodes
	}
	return coefficient[:AmountLength-1] + string(codes[last]), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
