package statement

import (
	"errors"
	"fmt"

	"fiat-reconciliation-backend/internal/cfonb"
)

var (
	ErrHeterogeneousAccountGroup = errors.New("heterogeneous account group")
	ErrEmptyAccountGroup         = errors.New("empty account group")
)

// Group is every snapshot of one account, in encounter order.
type Group struct {
	ID       cfonb.AccountID
	Accounts []Account
}

// GroupByAccount splits snapshots by account id. Groups come out in the
// order their account was first seen.
func GroupByAccount(accounts []Account) []Group {
	index := make(map[cfonb.AccountID]int)
	var groups []Group
	for _, a := range accounts {
		i, ok := index[a.ID]
		if !ok {
			i = len(groups)
			index[a.ID] = i
			groups = append(groups, Group{ID: a.ID})
		}
		groups[i].Accounts = append(groups[i].Accounts, a)
	}
	return groups
}

// Merge folds snapshots of the same account into one. Movements are
// concatenated in order; balance and last update come from the snapshot
// with the latest date, the earliest such snapshot on ties. Balances are
// not re-validated across snapshots: only per-statement checks are
// meaningful when statements arrive out of order.
func Merge(group []Account) (Account, error) {
	if len(group) == 0 {
		return Account{}, ErrEmptyAccountGroup
	}

	first := group[0]
	merged := Account{
		ID:         first.ID,
		Currency:   first.Currency,
		Balance:    first.Balance,
		LastUpdate: first.LastUpdate,
		Movements:  make([]Movement, 0, len(first.Movements)),
	}
	for _, a := range group {
		if a.ID != merged.ID {
			return Account{}, fmt.Errorf("%w: cannot merge %s into %s", ErrHeterogeneousAccountGroup, a.ID, merged.ID)
		}
		merged.Movements = append(merged.Movements, a.Movements...)
		if a.LastUpdate.After(merged.LastUpdate) {
			merged.Balance = a.Balance
			merged.LastUpdate = a.LastUpdate
		}
	}
	return merged, nil
}

// MergeAccounts groups snapshots by account and merges each group.
func MergeAccounts(accounts []Account) ([]Account, error) {
	groups := GroupByAccount(accounts)
	merged := make([]Account, 0, len(groups))
	for _, g := range groups {
		a, err := Merge(g.Accounts)
		if err != nil {
			return nil, err
		}
		merged = append(merged, a)
	}
	return merged, nil
}
