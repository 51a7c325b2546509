// Package keeper implements the mark-price oracle (component F). It has
// no dedicated teacher file - the teacher's oracle.go is a multi-exchange
// weighted-median/EMA feed with no analogue here - so the precedence
// mechanics below are grounded directly on spec 4.4, while the
// PriceInfo/event-publish shape follows the teacher's
// x/perpetual/keeper price-update style (store latest, emit an event).
package keeper

import (
	"sync"

	"cosmossdk.io/log"
	"github.com/openalpha/simulacrum/internal/apperr"
	"github.com/openalpha/simulacrum/internal/clock"
	"github.com/openalpha/simulacrum/internal/eventbus"
	"github.com/openalpha/simulacrum/x/markprice/types"
)

// Inputs is every candidate price source for one market, in descending
// precedence (spec 4.4: LMSR_CURVE > CLOB_MID > CLOB_LAST_FILL >
// INITIAL). A nil pointer means that source has no current value.
type Inputs struct {
	LMSRCurve   *float64
	CLOBMid     *float64
	CLOBLastFill *float64
	Initial     float64
}

// Keeper holds the latest mark price for every market.
type Keeper struct {
	mu     sync.RWMutex
	prices map[string]types.PriceInfo
	bus    *eventbus.Bus
	clock  clock.Clock
	logger log.Logger
}

// New constructs an empty Keeper.
func New(bus *eventbus.Bus, clk clock.Clock, logger log.Logger) *Keeper {
	return &Keeper{
		prices: make(map[string]types.PriceInfo),
		bus:    bus,
		clock:  clk,
		logger: logger.With("module", "x/markprice"),
	}
}

// Refresh recomputes marketID's mark price from in, publishing
// mark.updated when the price or its source changed.
func (k *Keeper) Refresh(marketID string, in Inputs) types.PriceInfo {
	price, source := resolve(in)

	k.mu.Lock()
	prev, existed := k.prices[marketID]
	info := types.PriceInfo{MarketID: marketID, Price: price, Source: source, UpdatedAt: k.clock.Now()}
	k.prices[marketID] = info
	k.mu.Unlock()

	if !existed || prev.Price != price || prev.Source != source {
		k.bus.Publish("mark.updated", types.MarkUpdatedEvent{MarketID: marketID, Price: price, Source: source})
	}
	return info
}

func resolve(in Inputs) (float64, types.Source) {
	if in.LMSRCurve != nil {
		return *in.LMSRCurve, types.SourceLMSRCurve
	}
	if in.CLOBMid != nil {
		return *in.CLOBMid, types.SourceCLOBMid
	}
	if in.CLOBLastFill != nil {
		return *in.CLOBLastFill, types.SourceCLOBLastFill
	}
	return in.Initial, types.SourceInitial
}

// All returns every market's latest known mark price, for
// internal/snapshot to persist.
func (k *Keeper) All() map[string]types.PriceInfo {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]types.PriceInfo, len(k.prices))
	for marketID, info := range k.prices {
		out[marketID] = info
	}
	return out
}

// Restore replaces every market's mark price wholesale, used by
// internal/snapshot's restore path. It does not publish mark.updated -
// a restore is not a price change a subscriber should react to.
func (k *Keeper) Restore(prices map[string]types.PriceInfo) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.prices = make(map[string]types.PriceInfo, len(prices))
	for marketID, info := range prices {
		k.prices[marketID] = info
	}
}

// Get returns the latest known mark price for marketID.
func (k *Keeper) Get(marketID string) (types.PriceInfo, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	info, ok := k.prices[marketID]
	if !ok {
		return types.PriceInfo{}, apperr.Newf(apperr.NotFound, "no mark price for market %s", marketID)
	}
	return info, nil
}
