package cfonb

import (
	"fmt"
	"strconv"
)

// AccountID identifies a bank account: bank code, branch code, account
// number and the two-digit RIB key computed from them.
type AccountID string

// ribDigits maps letters to digits the way French RIB keys expect.
var ribDigits = map[byte]byte{
	'A': '1', 'J': '1',
	'B': '2', 'K': '2', 'S': '2',
	'C': '3', 'L': '3', 'T': '3',
	'D': '4', 'M': '4', 'U': '4',
	'E': '5', 'N': '5', 'V': '5',
	'F': '6', 'O': '6', 'W': '6',
	'G': '7', 'P': '7', 'X': '7',
	'H': '8', 'Q': '8', 'Y': '8',
	'I': '9', 'R': '9', 'Z': '9',
}

func ribNumber(field, value string) (int64, error) {
	digits := make([]byte, len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c >= '0' && c <= '9':
			digits[i] = c
		case c >= 'A' && c <= 'Z':
			digits[i] = ribDigits[c]
		default:
			return 0, &Error{Err: ErrInvalidIdentifierChar, Field: field, Raw: value, Detail: fmt.Sprintf("character %q at position %d", c, i)}
		}
	}
	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0, &Error{Err: ErrInvalidIdentifierChar, Field: field, Raw: value, Detail: err.Error()}
	}
	return n, nil
}

// RIBKey computes 97 - ((bank*89 + branch*15 + account*3) mod 97).
func RIBKey(bankCode, branchCode, accountNumber string) (int, error) {
	bank, err := ribNumber("bank code", bankCode)
	if err != nil {
		return 0, err
	}
	branch, err := ribNumber("branch code", branchCode)
	if err != nil {
		return 0, err
	}
	account, err := ribNumber("account number", accountNumber)
	if err != nil {
		return 0, err
	}
	sum := (bank*89 + branch*15 + account*3) % 97
	return int(97 - sum), nil
}

// ComputeAccountID builds the account identifier of a record.
func ComputeAccountID(bankCode, branchCode, accountNumber string) (AccountID, error) {
	key, err := RIBKey(bankCode, branchCode, accountNumber)
	if err != nil {
		return "", err
	}
	return AccountID(fmt.Sprintf("%s%s%s%02d", bankCode, branchCode, accountNumber, key)), nil
}
