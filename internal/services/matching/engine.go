// Package matching pairs incoming bank credits with the payments we expect
// to receive.
package matching

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"fiat-reconciliation-backend/internal/cfonb"
	"fiat-reconciliation-backend/internal/statement"
)

// ExpectedPayment is a payment we are waiting for, typically a due invoice.
type ExpectedPayment struct {
	InvoiceID string          `json:"invoice_id"`
	FromParty string          `json:"from_party"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

type Outcome string

const (
	Matched   Outcome = "matched"
	Unmatched Outcome = "unmatched"
)

// Result is the outcome for one credit movement. Payment is nil when the
// movement is unmatched.
type Result struct {
	Outcome   Outcome            `json:"outcome"`
	AccountID cfonb.AccountID    `json:"account_id"`
	Movement  statement.Movement `json:"movement"`
	Payment   *ExpectedPayment   `json:"payment,omitempty"`
}

// AccountResults holds the results of one account in movement order.
type AccountResults struct {
	AccountID cfonb.AccountID `json:"account_id"`
	Results   []Result        `json:"results"`
}

// Details records which criteria a movement meets for a given payment.
// It is stored next to matched transactions and manual matches.
type Details struct {
	Credit    bool `json:"credit"`
	Amount    bool `json:"amount"`
	FromParty bool `json:"from_party"`
	Reference bool `json:"reference"`
}

// OK reports whether every criterion holds.
func (d Details) OK() bool {
	return d.Credit && d.Amount && d.FromParty && d.Reference
}

// Explain evaluates each matching criterion separately.
func Explain(expected ExpectedPayment, m statement.Movement) Details {
	d := Details{
		Credit:    m.IsCredit,
		Amount:    m.Amount.Equal(expected.Amount),
		FromParty: strings.Contains(m.CounterpartyLabel, expected.FromParty),
	}
	for _, ref := range m.References {
		if strings.Contains(ref, expected.Reference) {
			d.Reference = true
			break
		}
	}
	return d
}

// MatchPayment reports whether the movement settles the expected payment:
// a credit of exactly the expected amount, whose label contains the payer
// and one of whose references contains the payment reference.
func MatchPayment(expected ExpectedPayment, m statement.Movement) bool {
	return Explain(expected, m).OK()
}

// MatchAccount matches every credit of the account against expected, in
// movement order. For each credit the first matching payment in list order
// wins. A payment stays in the pool once matched, so it can settle more
// than one credit; callers decide what to do with such repeats.
func MatchAccount(account statement.Account, expected []ExpectedPayment) AccountResults {
	credits := account.Credits()
	out := AccountResults{AccountID: account.ID, Results: make([]Result, 0, len(credits))}

	for _, m := range credits {
		res := Result{Outcome: Unmatched, AccountID: account.ID, Movement: m}
		for i := range expected {
			if MatchPayment(expected[i], m) {
				p := expected[i]
				res.Outcome = Matched
				res.Payment = &p
				break
			}
		}
		out.Results = append(out.Results, res)
	}
	return out
}

// MatchAccounts runs MatchAccount for every account, at most workers at a
// time (no limit when workers <= 0). expected is shared read-only between
// workers. Results are indexed like accounts.
func MatchAccounts(ctx context.Context, accounts []statement.Account, expected []ExpectedPayment, workers int) ([]AccountResults, error) {
	results := make([]AccountResults, len(accounts))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := range accounts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = MatchAccount(accounts[i], expected)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Summary counts outcomes across accounts.
func Summary(results []AccountResults) (matched, unmatched int) {
	for _, ar := range results {
		for _, r := range ar.Results {
			if r.Outcome == Matched {
				matched++
			} else {
				unmatched++
			}
		}
	}
	return matched, unmatched
}
