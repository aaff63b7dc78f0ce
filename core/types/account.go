package types

import "math/big"

// Account holds the per-identity ledger entries: tickets owned outright and
// the currency balance. Both are created lazily on first write; a zero account
// is indistinguishable from one that was never touched.
type Account struct {
	Tickets uint64   `json:"tickets"`
	Balance *big.Int `json:"balance"`
}

// NewAccount returns an empty account with a non-nil balance.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}

// Normalize ensures the balance pointer is non-nil so arithmetic never has to
// nil-check. Returns the receiver for chaining.
func (a *Account) Normalize() *Account {
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	return a
}

// Clone returns a deep copy so callers can stage mutations without touching
// the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := &Account{Tickets: a.Tickets, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}
