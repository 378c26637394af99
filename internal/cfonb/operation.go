package cfonb

import "fmt"

// OperationType is the decoded interbank operation code of a movement.
// Credit is nil when the code can be either a credit or a debit, in which
// case the sign of the amount decides.
type OperationType struct {
	Code   string `json:"code"`
	Label  string `json:"label"`
	Credit *bool  `json:"credit,omitempty"`
}

func direction(credit bool) *bool { return &credit }

// operationTypes lists the interbank codes this service knows how to handle.
// Add a line here to support a new code; unknown codes are rejected.
var operationTypes = map[string]OperationType{
	"05": {Label: "payment received", Credit: direction(true)},
	"06": {Label: "payment sent", Credit: direction(false)},
	"14": {Label: "treasury payment sent", Credit: direction(false)},
	"41": {Label: "payment sent/received to/from abroad"},
}

// validOperationCode reports whether code is in 01-99, A1-A6 or B1-B6.
func validOperationCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	if isDigits(code) {
		return code != "00"
	}
	return (code[0] == 'A' || code[0] == 'B') && code[1] >= '1' && code[1] <= '6'
}

// ParseOperationCode maps an interbank operation code to its type.
func ParseOperationCode(code string) (OperationType, error) {
	if !validOperationCode(code) {
		return OperationType{}, newError(ErrMalformedOperationCode, code, "codes range from 01 to 99, A1 to A6 and B1 to B6")
	}
	op, ok := operationTypes[code]
	if !ok {
		return OperationType{}, newError(ErrUnimplementedOperationCode, code, fmt.Sprintf("code %s is valid but has no mapping", code))
	}
	op.Code = code
	return op, nil
}
