// Package keeper implements the insurance fund (component K): deposit and
// query only, with debits exclusively reserved for the liquidation cascade
// (component J). Grounded on the teacher's clearinghouse liquidation.go
// insurance-fund-share accounting, generalized into its own ledger instead
// of a TODO'd keeper field.
package keeper

import (
	"sync"

	"cosmossdk.io/log"
	"github.com/openalpha/simulacrum/internal/apperr"
	"github.com/openalpha/simulacrum/pkg/money"
	"github.com/openalpha/simulacrum/x/insurance/types"
)

// Keeper owns one reserve fund per market, all guarded by a single mutex
// (spec 5: "insurance fund is a single section; it is only touched inside
// the liquidation engine").
type Keeper struct {
	mu     sync.Mutex
	funds  map[string]*types.Fund
	logger log.Logger
}

// New constructs an empty Keeper.
func New(logger log.Logger) *Keeper {
	return &Keeper{
		funds:  make(map[string]*types.Fund),
		logger: logger.With("module", "x/insurance"),
	}
}

func (k *Keeper) fundFor(marketID string) *types.Fund {
	f, ok := k.funds[marketID]
	if !ok {
		f = &types.Fund{}
		k.funds[marketID] = f
	}
	return f
}

// All returns a snapshot of every market's fund, for internal/snapshot
// to persist.
func (k *Keeper) All() map[string]types.Fund {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[string]types.Fund, len(k.funds))
	for marketID, f := range k.funds {
		out[marketID] = *f
	}
	return out
}

// Restore replaces every fund wholesale, used by internal/snapshot's
// restore path.
func (k *Keeper) Restore(funds map[string]types.Fund) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.funds = make(map[string]*types.Fund, len(funds))
	for marketID, f := range funds {
		cp := f
		k.funds[marketID] = &cp
	}
}

// Balance returns a snapshot of marketID's fund.
func (k *Keeper) Balance(marketID string) types.Fund {
	k.mu.Lock()
	defer k.mu.Unlock()
	return *k.fundFor(marketID)
}

// Deposit credits marketID's fund, e.g. from a liquidation penalty's
// insurance-fund share.
func (k *Keeper) Deposit(marketID string, amount money.Tinybar) (types.Fund, error) {
	if !amount.IsPositive() {
		return types.Fund{}, apperr.New(apperr.Validation, "insurance deposit must be positive")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	f := k.fundFor(marketID)
	f.Balance = f.Balance.Add(amount)
	f.TotalDeposits = f.TotalDeposits.Add(amount)
	return *f, nil
}

// Absorb debits up to amount from marketID's fund to cover a liquidation
// deficit, returning however much was actually absorbed (the fund balance
// can never go negative - spec 4.8 tier 2: "debit min(deficit,
// fund.balance)"). The caller (component J) treats the shortfall between
// amount and the return value as the residual for tier 3.
func (k *Keeper) Absorb(marketID string, amount money.Tinybar) money.Tinybar {
	if amount <= 0 {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	f := k.fundFor(marketID)
	absorbed := amount
	if absorbed > f.Balance {
		absorbed = f.Balance
	}
	if absorbed <= 0 {
		return 0
	}
	f.Balance = f.Balance.Sub(absorbed)
	f.TotalPayouts = f.TotalPayouts.Add(absorbed)
	return absorbed
}
