package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds per-venue balance and margin state. It is a pure
// projection of AccountState events from the venue.
type Account struct {
	ID           AccountID
	Currency     Currency
	Balance      decimal.Decimal
	MarginUsed   decimal.Decimal
	MarginFree   decimal.Decimal
	IsMarginCall bool
	UpdatedAt    time.Time
}

// NewAccount creates an empty account for a venue.
func NewAccount(id AccountID, currency Currency) *Account {
	return &Account{ID: id, Currency: currency}
}

// Update replaces the account state from a venue snapshot.
func (a *Account) Update(balance, marginUsed, marginFree decimal.Decimal, marginCall bool, ts time.Time) {
	a.Balance = balance
	a.MarginUsed = marginUsed
	a.MarginFree = marginFree
	a.IsMarginCall = marginCall
	a.UpdatedAt = ts
}
