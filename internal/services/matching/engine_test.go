package matching

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiat-reconciliation-backend/internal/cfonb"
	"fiat-reconciliation-backend/internal/statement"
)

func credit(label, amount string, refs ...string) statement.Movement {
	d := decimal.RequireFromString(amount)
	return statement.Movement{
		CounterpartyLabel: label,
		Amount:            d,
		IsCredit:          d.Sign() >= 0,
		References:        refs,
	}
}

func payment(id, from, amount, ref string) ExpectedPayment {
	return ExpectedPayment{InvoiceID: id, FromParty: from, Amount: decimal.RequireFromString(amount), Reference: ref}
}

func TestMatchPayment(t *testing.T) {
	p := payment("inv-1", "ACME", "100.00", "INV-42")

	tests := []struct {
		name     string
		movement statement.Movement
		want     bool
	}{
		{"all criteria", credit("VIR ACME CORP", "100", "X", "LIB", "PAY INV-42 JAN"), true},
		{"amount differs by a cent", credit("VIR ACME CORP", "100.01", "INV-42"), false},
		{"label without payer", credit("VIR ACM CORP", "100", "INV-42"), false},
		{"label is case sensitive", credit("vir acme corp", "100", "INV-42"), false},
		{"no reference", credit("VIR ACME CORP", "100", "INV-4", "REF"), false},
		{"debit", statement.Movement{CounterpartyLabel: "ACME", Amount: decimal.RequireFromString("100"), References: []string{"INV-42"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchPayment(p, tt.movement))
		})
	}
}

func TestExplain(t *testing.T) {
	d := Explain(payment("inv-1", "ACME", "100", "INV-42"), credit("VIR ACME", "99", "INV-42"))
	assert.Equal(t, Details{Credit: true, Amount: false, FromParty: true, Reference: true}, d)
	assert.False(t, d.OK())
}

func TestMatchAccountFirstMatchWins(t *testing.T) {
	account := statement.Account{
		ID:        "ACC",
		Movements: []statement.Movement{credit("VIR ACME", "50", "INV-1")},
	}
	expected := []ExpectedPayment{
		payment("first", "ACME", "50", "INV-1"),
		payment("second", "ACME", "50", "INV-1"),
	}

	for i := 0; i < 20; i++ {
		res := MatchAccount(account, expected)
		require.Len(t, res.Results, 1)
		assert.Equal(t, Matched, res.Results[0].Outcome)
		assert.Equal(t, "first", res.Results[0].Payment.InvoiceID)
	}
}

func TestMatchAccountReusesExpectedPayments(t *testing.T) {
	account := statement.Account{
		ID: "ACC",
		Movements: []statement.Movement{
			credit("VIR ACME", "50", "INV-1"),
			credit("VIR ACME", "50", "INV-1"),
		},
	}
	res := MatchAccount(account, []ExpectedPayment{payment("only", "ACME", "50", "INV-1")})

	require.Len(t, res.Results, 2)
	for _, r := range res.Results {
		assert.Equal(t, Matched, r.Outcome)
		assert.Equal(t, "only", r.Payment.InvoiceID)
	}
}

func TestMatchAccountIgnoresDebits(t *testing.T) {
	account := statement.Account{
		ID: "ACC",
		Movements: []statement.Movement{
			credit("FRAIS", "-3.50", "FEE"),
			credit("UNKNOWN SENDER", "12", "???"),
			credit("VIR ACME", "50", "INV-1"),
		},
	}
	res := MatchAccount(account, []ExpectedPayment{payment("inv", "ACME", "50", "INV-1")})

	require.Len(t, res.Results, 2)
	assert.Equal(t, Unmatched, res.Results[0].Outcome)
	assert.Nil(t, res.Results[0].Payment)
	assert.Equal(t, "UNKNOWN SENDER", res.Results[0].Movement.CounterpartyLabel)
	assert.Equal(t, Matched, res.Results[1].Outcome)
	assert.Equal(t, cfonb.AccountID("ACC"), res.Results[1].AccountID)
}

func TestMatchAccountEmptyPayerMatchesAnyLabel(t *testing.T) {
	account := statement.Account{ID: "ACC", Movements: []statement.Movement{credit("", "10", "R1")}}
	res := MatchAccount(account, []ExpectedPayment{payment("inv", "", "10", "R1")})
	assert.Equal(t, Matched, res.Results[0].Outcome)
}

func TestMatchAccountsKeepsEveryUnmatchedCredit(t *testing.T) {
	var accounts []statement.Account
	credits := 0
	for i := 0; i < 40; i++ {
		a := statement.Account{ID: cfonb.AccountID(fmt.Sprintf("ACC%02d", i))}
		for j := 0; j <= i%5; j++ {
			a.Movements = append(a.Movements,
				credit("SENDER", fmt.Sprintf("%d.%02d", i, j), fmt.Sprintf("R%d-%d", i, j)),
				credit("BANK", "-1", "FEE"),
			)
			credits++
		}
		accounts = append(accounts, a)
	}
	expected := []ExpectedPayment{payment("inv", "SENDER", "3.01", "R3-1")}

	results, err := MatchAccounts(context.Background(), accounts, expected, 4)
	require.NoError(t, err)
	require.Len(t, results, len(accounts))

	for i, ar := range results {
		assert.Equal(t, accounts[i].ID, ar.AccountID)
		assert.Len(t, ar.Results, len(accounts[i].Credits()))
	}
	matched, unmatched := Summary(results)
	assert.Equal(t, 1, matched)
	assert.Equal(t, credits-1, unmatched)
}

func TestMatchAccountsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := MatchAccounts(ctx, []statement.Account{{ID: "ACC"}}, nil, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
