// Package types defines the margin ledger's entities (component G),
// grounded on the teacher's x/perpetual/types.Account (Balance,
// LockedMargin, CanAfford/AvailableBalance) and
// x/perpetual/types.MarginMode, re-expressed in money.Tinybar instead of
// math.LegacyDec since accounts hold HBAR, not share or contract
// quantities (see DESIGN.md for the tinybar-vs-decimal rationale).
package types

import "github.com/openalpha/simulacrum/pkg/money"

// Mode is an account's margin mode.
type Mode int

const (
	ModeIsolated Mode = iota
	ModeCross
)

func (m Mode) String() string {
	if m == ModeCross {
		return "CROSS"
	}
	return "ISOLATED"
}

// Account is one trader's margin ledger entry.
type Account struct {
	Owner        string
	Mode         Mode
	Balance      money.Tinybar // deposited funds, free or locked
	LockedMargin money.Tinybar // portion of Balance reserved against open positions
}

// AvailableBalance is the portion of Balance free for new margin locks.
func (a *Account) AvailableBalance() money.Tinybar {
	return a.Balance.Sub(a.LockedMargin)
}

// EffectiveEquity is balance plus every open position's unrealized PnL,
// the quantity margin-health checks compare against maintenance margin
// (spec 4.5).
func (a *Account) EffectiveEquity(unrealizedPnL money.Tinybar) money.Tinybar {
	return a.Balance.Add(unrealizedPnL)
}

// CanAfford reports whether amount fits within the account's free balance.
func (a *Account) CanAfford(amount money.Tinybar) bool {
	return a.AvailableBalance() >= amount
}

// NewAccount returns a freshly created, zero-balance account.
func NewAccount(owner string, mode Mode) *Account {
	return &Account{Owner: owner, Mode: mode, Balance: money.Zero, LockedMargin: money.Zero}
}
