package cfonb

import "unicode/utf8"

// RecordLength is the fixed width of every CFONB120 record.
const RecordLength = 120

// Kind is the two-character record code at the start of each record.
type Kind string

const (
	KindOpeningBalance Kind = "01"
	KindMovement       Kind = "04"
	KindDetail         Kind = "05"
	KindClosingBalance Kind = "07"
)

func (k Kind) String() string {
	switch k {
	case KindOpeningBalance:
		return "opening balance (01)"
	case KindMovement:
		return "movement (04)"
	case KindDetail:
		return "movement detail (05)"
	case KindClosingBalance:
		return "closing balance (07)"
	}
	return "unknown (" + string(k) + ")"
}

// Field is a fixed character range inside a record.
type Field struct {
	Name   string
	Offset int
	Length int
}

// Slice cuts the field out of a full record. Offsets count characters, so
// records carrying accented letters are cut at the same columns as plain
// ASCII ones.
func (f Field) Slice(record string) string {
	if len(record) == RecordLength {
		return record[f.Offset : f.Offset+f.Length]
	}
	return string([]rune(record)[f.Offset : f.Offset+f.Length])
}

// recordWidth is the width of a record in characters.
func recordWidth(text string) int {
	return utf8.RuneCountInString(text)
}

// Field names shared by the layouts.
const (
	FieldRecordCode       = "record code"
	FieldBankCode         = "bank code"
	FieldInternalOpCode   = "internal operation code"
	FieldBranchCode       = "branch code"
	FieldCurrency         = "currency"
	FieldDecimalCount     = "decimal count"
	FieldAccountNumber    = "account number"
	FieldInterbankOpCode  = "interbank operation code"
	FieldDate             = "date"
	FieldRejectionCode    = "rejection code"
	FieldValueDate        = "value date"
	FieldLabel            = "label"
	FieldOperationNumber  = "operation number"
	FieldExonerationIndex = "exoneration index"
	FieldUnavailability   = "unavailability index"
	FieldAmount           = "amount"
	FieldReference        = "reference"
	FieldQualifier        = "qualifier"
	FieldAdditionalInfo   = "additional information"
)

var balanceLayout = []Field{
	{FieldRecordCode, 0, 2},
	{FieldBankCode, 2, 5},
	{"reserved 1", 7, 4},
	{FieldBranchCode, 11, 5},
	{FieldCurrency, 16, 3},
	{FieldDecimalCount, 19, 1},
	{"reserved 2", 20, 1},
	{FieldAccountNumber, 21, 11},
	{"reserved 3", 32, 2},
	{FieldDate, 34, 6},
	{"reserved 4", 40, 50},
	{FieldAmount, 90, 14},
	{"reserved 5", 104, 16},
}

// Layouts describes every known record kind. Offsets are 0-based.
var Layouts = map[Kind][]Field{
	KindOpeningBalance: balanceLayout,
	KindClosingBalance: balanceLayout,
	KindMovement: {
		{FieldRecordCode, 0, 2},
		{FieldBankCode, 2, 5},
		{FieldInternalOpCode, 7, 4},
		{FieldBranchCode, 11, 5},
		{FieldCurrency, 16, 3},
		{FieldDecimalCount, 19, 1},
		{"reserved 1", 20, 1},
		{FieldAccountNumber, 21, 11},
		{FieldInterbankOpCode, 32, 2},
		{FieldDate, 34, 6},
		{FieldRejectionCode, 40, 2},
		{FieldValueDate, 42, 6},
		{FieldLabel, 48, 31},
		{"reserved 2", 79, 2},
		{FieldOperationNumber, 81, 7},
		{FieldExonerationIndex, 88, 1},
		{FieldUnavailability, 89, 1},
		{FieldAmount, 90, 14},
		{FieldReference, 104, 16},
	},
	KindDetail: {
		{FieldRecordCode, 0, 2},
		{FieldBankCode, 2, 5},
		{FieldInternalOpCode, 7, 4},
		{FieldBranchCode, 11, 5},
		{FieldCurrency, 16, 3},
		{FieldDecimalCount, 19, 1},
		{"reserved 1", 20, 1},
		{FieldAccountNumber, 21, 11},
		{FieldInterbankOpCode, 32, 2},
		{FieldDate, 34, 6},
		{"reserved 2", 40, 5},
		{FieldQualifier, 45, 3},
		{FieldAdditionalInfo, 48, 70},
		{"reserved 3", 118, 2},
	},
}

// ControlKey is the part of a movement that its detail records repeat:
// bank, internal operation code, branch, currency, decimal count, account,
// interbank operation code and date.
var ControlKey = Field{"control key", 2, 38}

// fields slices every named field of a record of the given kind.
func fields(kind Kind, record string) map[string]string {
	layout := Layouts[kind]
	out := make(map[string]string, len(layout))
	for _, f := range layout {
		out[f.Name] = f.Slice(record)
	}
	return out
}
