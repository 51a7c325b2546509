// Package keeper implements the margin ledger (component G). Grounded on
// the teacher's x/perpetual/keeper margin.go/margin_mode.go calculations,
// re-centered on money.Tinybar balances rather than position-specific
// math.LegacyDec margin math, which belongs to x/perpetual here.
package keeper

import (
	"sync"

	"cosmossdk.io/log"
	"github.com/openalpha/simulacrum/internal/apperr"
	"github.com/openalpha/simulacrum/pkg/money"
	"github.com/openalpha/simulacrum/x/margin/types"
)

// entry pairs an account with the mutex that guards mutations to it, so
// two accounts can be locked independently (spec 5: "finer-grained
// per-account locking for the margin ledger").
type entry struct {
	mu      sync.Mutex
	account *types.Account
}

// Keeper owns every trader's margin account.
type Keeper struct {
	accounts sync.Map // string (owner) -> *entry
	logger   log.Logger
}

// New constructs an empty Keeper.
func New(logger log.Logger) *Keeper {
	return &Keeper{logger: logger.With("module", "x/margin")}
}

// entryFor returns the account entry for owner, auto-creating it in
// ISOLATED mode on first reference (spec 4.5: "unknown accounts are
// created lazily with a zero balance").
func (k *Keeper) entryFor(owner string) *entry {
	if e, ok := k.accounts.Load(owner); ok {
		return e.(*entry)
	}
	e := &entry{account: types.NewAccount(owner, types.ModeIsolated)}
	actual, _ := k.accounts.LoadOrStore(owner, e)
	return actual.(*entry)
}

// Balance returns a snapshot of owner's account.
func (k *Keeper) Balance(owner string) types.Account {
	e := k.entryFor(owner)
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.account
}

// Deposit credits owner's free balance.
func (k *Keeper) Deposit(owner string, amount money.Tinybar) (types.Account, error) {
	if !amount.IsPositive() {
		return types.Account{}, apperr.New(apperr.Validation, "deposit amount must be positive")
	}
	e := k.entryFor(owner)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.account.Balance = e.account.Balance.Add(amount)
	return *e.account, nil
}

// Withdraw debits owner's free balance. Fails INSUFFICIENT_FUNDS if the
// requested amount exceeds what is not locked as margin.
func (k *Keeper) Withdraw(owner string, amount money.Tinybar) (types.Account, error) {
	if !amount.IsPositive() {
		return types.Account{}, apperr.New(apperr.Validation, "withdrawal amount must be positive")
	}
	e := k.entryFor(owner)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.account.CanAfford(amount) {
		return types.Account{}, apperr.Newf(apperr.InsufficientFunds, "owner %s has %s free, requested %s", owner, e.account.AvailableBalance(), amount)
	}
	e.account.Balance = e.account.Balance.Sub(amount)
	return *e.account, nil
}

// Lock reserves amount of owner's free balance as margin against an open
// position. Fails INSUFFICIENT_MARGIN if free balance is insufficient.
func (k *Keeper) Lock(owner string, amount money.Tinybar) (types.Account, error) {
	if !amount.IsPositive() {
		return types.Account{}, apperr.New(apperr.Validation, "lock amount must be positive")
	}
	e := k.entryFor(owner)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.account.CanAfford(amount) {
		return types.Account{}, apperr.Newf(apperr.InsufficientMargin, "owner %s has %s free, requires %s", owner, e.account.AvailableBalance(), amount)
	}
	e.account.LockedMargin = e.account.LockedMargin.Add(amount)
	return *e.account, nil
}

// Release frees previously locked margin, clamping at zero so a release
// larger than what remains locked (e.g. after a liquidation already
// consumed part of it) never drives LockedMargin negative.
func (k *Keeper) Release(owner string, amount money.Tinybar) (types.Account, error) {
	if !amount.IsPositive() {
		return types.Account{}, apperr.New(apperr.Validation, "release amount must be positive")
	}
	e := k.entryFor(owner)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.account.LockedMargin = money.ClampNonNegative(e.account.LockedMargin.Sub(amount))
	return *e.account, nil
}

// ApplyPnL credits or debits owner's free balance by a realized PnL or
// funding amount (negative for a debit). Unlike Withdraw this bypasses
// the CanAfford check: realized losses can take balance negative
// (spec 4.5 "negative balances are permitted transiently, resolved by
// liquidation") pending the liquidation cascade making the account whole.
func (k *Keeper) ApplyPnL(owner string, delta money.Tinybar) types.Account {
	e := k.entryFor(owner)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.account.Balance = e.account.Balance.Add(delta)
	return *e.account
}

// SetMode switches owner between ISOLATED and CROSS margin accounting.
func (k *Keeper) SetMode(owner string, mode types.Mode) types.Account {
	e := k.entryFor(owner)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.account.Mode = mode
	return *e.account
}

// All returns a snapshot of every account, keyed by owner, for
// internal/snapshot to persist.
func (k *Keeper) All() map[string]types.Account {
	out := make(map[string]types.Account)
	k.accounts.Range(func(key, value interface{}) bool {
		e := value.(*entry)
		e.mu.Lock()
		out[key.(string)] = *e.account
		e.mu.Unlock()
		return true
	})
	return out
}

// Restore replaces every account wholesale from a previously snapshotted
// set, used by internal/snapshot's restore path.
func (k *Keeper) Restore(accounts map[string]types.Account) {
	k.accounts.Range(func(owner, _ interface{}) bool {
		k.accounts.Delete(owner)
		return true
	})
	for owner, acct := range accounts {
		cp := acct
		k.accounts.Store(owner, &entry{account: &cp})
	}
}

// EffectiveEquity returns owner's balance plus the supplied unrealized
// PnL, the quantity margin-health checks compare against maintenance
// margin (spec 4.5). The caller (x/liquidation's CROSS-margin check)
// supplies unrealizedPnL, summed across the account's open positions.
func (k *Keeper) EffectiveEquity(owner string, unrealizedPnL money.Tinybar) money.Tinybar {
	e := k.entryFor(owner)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.EffectiveEquity(unrealizedPnL)
}
