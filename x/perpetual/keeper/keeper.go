// Package keeper implements perpetual futures positions (component H)
// and funding settlement (component I), grounded on the teacher's
// x/perpetual/keeper position.go (open/reduce/close position mechanics)
// and funding.go (rate computation, per-position crediting loop).
package keeper

import (
	"fmt"
	"sync"

	"cosmossdk.io/log"
	"github.com/openalpha/simulacrum/internal/apperr"
	"github.com/openalpha/simulacrum/internal/clock"
	"github.com/openalpha/simulacrum/internal/eventbus"
	"github.com/openalpha/simulacrum/pkg/money"
	marginkeeper "github.com/openalpha/simulacrum/x/margin/keeper"
	markpricekeeper "github.com/openalpha/simulacrum/x/markprice/keeper"
	"github.com/openalpha/simulacrum/x/perpetual/types"
)

// FundingDampingFactor and the rate bounds reproduce the teacher's
// DefaultFundingConfig (funding.go), scaled to this engine's float64
// mark/index prices instead of math.LegacyDec.
const (
	fundingDampingFactor = 0.05
	fundingMaxRate       = 0.005
	fundingMinRate       = -0.005
)

func positionKey(trader, marketID string) string {
	return trader + "|" + marketID
}

// Keeper owns every open position and each market's funding history.
type Keeper struct {
	mu        sync.RWMutex
	positions map[string]*types.Position
	funding   map[string][]types.FundingRecord

	margin    *marginkeeper.Keeper
	markPrice *markpricekeeper.Keeper
	bus       *eventbus.Bus
	clock     clock.Clock
	logger    log.Logger
}

// New constructs an empty Keeper.
func New(margin *marginkeeper.Keeper, markPrice *markpricekeeper.Keeper, bus *eventbus.Bus, clk clock.Clock, logger log.Logger) *Keeper {
	return &Keeper{
		positions: make(map[string]*types.Position),
		funding:   make(map[string][]types.FundingRecord),
		margin:    margin,
		markPrice: markPrice,
		bus:       bus,
		clock:     clk,
		logger:    logger.With("module", "x/perpetual"),
	}
}

// OpenPosition opens or adds to trader's position in marketID. Required
// margin (notional/leverage) is locked from the margin ledger before the
// position is recorded.
func (k *Keeper) OpenPosition(trader, marketID string, side types.Side, size, price, leverage float64) (*types.Position, error) {
	if size <= 0 {
		return nil, apperr.New(apperr.Validation, "position size must be positive")
	}
	if leverage <= 0 {
		return nil, apperr.New(apperr.Validation, "leverage must be positive")
	}
	notional := money.FromHbar(size * price)
	requiredMargin := notional.MulFrac(1 / leverage)

	if _, err := k.margin.Lock(trader, requiredMargin); err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	key := positionKey(trader, marketID)
	now := k.clock.Now()
	existing, ok := k.positions[key]
	if !ok {
		p := &types.Position{
			Trader:     trader,
			MarketID:   marketID,
			Side:       side,
			Size:       size,
			EntryPrice: price,
			Leverage:   leverage,
			Margin:     requiredMargin,
			OpenedAt:   now,
			UpdatedAt:  now,
		}
		k.positions[key] = p
		cp := *p
		return &cp, nil
	}

	if existing.Side != side {
		return nil, apperr.Newf(apperr.StateConflict, "position %s is %s, cannot add %s size without closing first", key, existing.Side, side)
	}
	totalValue := existing.Size*existing.EntryPrice + size*price
	newSize := existing.Size + size
	existing.EntryPrice = totalValue / newSize
	existing.Size = newSize
	existing.Margin = existing.Margin.Add(requiredMargin)
	existing.UpdatedAt = now
	cp := *existing
	return &cp, nil
}

// Get returns a snapshot of trader's position in marketID, or NOT_FOUND.
func (k *Keeper) Get(trader, marketID string) (*types.Position, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	p, ok := k.positions[positionKey(trader, marketID)]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "no open position for %s in %s", trader, marketID)
	}
	cp := *p
	return &cp, nil
}

// ByMarket returns every open position in marketID.
func (k *Keeper) ByMarket(marketID string) []*types.Position {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var out []*types.Position
	for _, p := range k.positions {
		if p.MarketID == marketID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// ByTrader returns every open position owned by trader, across all
// markets (grounded on the teacher's GetPositionsByTrader, used here to
// sum unrealized PnL for the CROSS-margin underwater test in
// x/liquidation).
func (k *Keeper) ByTrader(trader string) []*types.Position {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var out []*types.Position
	for _, p := range k.positions {
		if p.Trader == trader {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// RefreshPosition recomputes a position's unrealized PnL and maintenance
// margin against the market's current mark price (spec 4.5: queried by
// the liquidation sweep and by account-health API reads).
func (k *Keeper) RefreshPosition(trader, marketID string) (*Health, error) {
	k.mu.RLock()
	p, ok := k.positions[positionKey(trader, marketID)]
	k.mu.RUnlock()
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "no open position for %s in %s", trader, marketID)
	}

	mark, err := k.markPrice.Get(marketID)
	if err != nil {
		return nil, err
	}

	unrealized := p.UnrealizedPnL(mark.Price)
	maintenance := p.MaintenanceMargin(mark.Price)
	equity := p.Margin.Add(unrealized)

	return &Health{
		Position:          *p,
		MarkPrice:         mark.Price,
		UnrealizedPnL:     unrealized,
		MaintenanceMargin: maintenance,
		Equity:            equity,
		Healthy:           equity >= maintenance,
	}, nil
}

// Health is a point-in-time margin-health snapshot of one position.
type Health struct {
	Position          types.Position
	MarkPrice         float64
	UnrealizedPnL     money.Tinybar
	MaintenanceMargin money.Tinybar
	Equity            money.Tinybar
	Healthy           bool
}

// ClosePosition fully closes trader's position in marketID at exitPrice,
// realizing PnL into the margin ledger and releasing the locked margin.
func (k *Keeper) ClosePosition(trader, marketID string, exitPrice float64) (money.Tinybar, error) {
	k.mu.Lock()
	p, ok := k.positions[positionKey(trader, marketID)]
	if !ok {
		k.mu.Unlock()
		return 0, apperr.Newf(apperr.NotFound, "no open position for %s in %s", trader, marketID)
	}
	delete(k.positions, positionKey(trader, marketID))
	k.mu.Unlock()

	realized := p.UnrealizedPnL(exitPrice)
	k.margin.ApplyPnL(trader, realized)
	if _, err := k.margin.Release(trader, p.Margin); err != nil {
		return 0, err
	}
	return realized, nil
}

// ApplyLiquidationSlice reduces a position by fraction (0,1] at execPrice,
// realizing that slice's PnL and releasing its share of locked margin.
// This is the only entry point the liquidation cascade (component J) and
// ADL (its tier 3) are permitted to use to mutate a position - every
// other mutator requires the position owner's own order flow.
func (k *Keeper) ApplyLiquidationSlice(trader, marketID string, fraction, execPrice float64) (money.Tinybar, error) {
	if fraction <= 0 || fraction > 1 {
		return 0, apperr.New(apperr.Validation, "liquidation fraction must be in (0, 1]")
	}

	k.mu.Lock()
	p, ok := k.positions[positionKey(trader, marketID)]
	if !ok {
		k.mu.Unlock()
		return 0, apperr.Newf(apperr.NotFound, "no open position for %s in %s", trader, marketID)
	}

	sliceSize := p.Size * fraction
	sliceMargin := p.Margin.MulFrac(fraction)

	diff := execPrice - p.EntryPrice
	if p.Side == types.SideShort {
		diff = -diff
	}
	realized := money.FromHbar(diff * sliceSize)

	p.Size -= sliceSize
	p.Margin = p.Margin.Sub(sliceMargin)
	p.UpdatedAt = k.clock.Now()
	fullyClosed := p.Size <= 0
	if fullyClosed {
		delete(k.positions, positionKey(trader, marketID))
	}
	k.mu.Unlock()

	k.margin.ApplyPnL(trader, realized)
	if _, err := k.margin.Release(trader, sliceMargin); err != nil {
		return 0, err
	}
	return realized, nil
}

// FundingRate computes the current funding rate for marketID from its
// mark/index spread, damped and clamped per the teacher's
// CalculateFundingRate (funding.go). This engine has no independent
// index feed, so the mark price doubles as the index reference.
func (k *Keeper) FundingRate(markPrice, indexPrice float64) float64 {
	if indexPrice == 0 {
		return 0
	}
	rate := fundingDampingFactor * (markPrice - indexPrice) / indexPrice
	if rate > fundingMaxRate {
		return fundingMaxRate
	}
	if rate < fundingMinRate {
		return fundingMinRate
	}
	return rate
}

// SettleFunding applies one funding interval's payments to every open
// position in marketID: longs pay when rate is positive, shorts receive,
// and vice versa (spec 4.4/4.5). A single position's payment failing
// (e.g. an internal apperr bug) is logged and published as
// funding_error without aborting the rest of the sweep (spec's "a
// partial sweep beats a stuck one" design note).
func (k *Keeper) SettleFunding(marketID string, markPrice, indexPrice float64) types.FundingRecord {
	rate := k.FundingRate(markPrice, indexPrice)
	now := k.clock.Now()
	record := types.FundingRecord{MarketID: marketID, Rate: rate, MarkPrice: markPrice, IndexPrice: indexPrice, SettledAt: now}

	for _, p := range k.ByMarket(marketID) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					k.logger.Error("funding settlement panicked", "trader", p.Trader, "market_id", marketID, "panic", r)
					k.bus.Publish("funding_error", fmt.Sprintf("trader=%s market=%s panic=%v", p.Trader, marketID, r))
				}
			}()
			notional := money.FromHbar(p.Size * markPrice)
			payment := notional.MulFrac(rate)
			if p.Side == types.SideLong {
				payment = -payment
			}
			k.margin.ApplyPnL(p.Trader, payment)
			if payment < 0 {
				record.TotalPaid += -payment
			} else {
				record.TotalOwed += payment
			}
		}()
	}

	k.mu.Lock()
	k.funding[marketID] = append(k.funding[marketID], record)
	k.mu.Unlock()

	k.bus.Publish("funding.settled", record)
	return record
}

// AllPositions returns every open position across every market and
// trader, for internal/snapshot to persist.
func (k *Keeper) AllPositions() []*types.Position {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]*types.Position, 0, len(k.positions))
	for _, p := range k.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// RestorePositions replaces every open position wholesale, used by
// internal/snapshot's restore path.
func (k *Keeper) RestorePositions(positions []*types.Position) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.positions = make(map[string]*types.Position, len(positions))
	for _, p := range positions {
		cp := *p
		k.positions[positionKey(p.Trader, p.MarketID)] = &cp
	}
}

// AllFunding returns every market's funding history, for
// internal/snapshot to persist.
func (k *Keeper) AllFunding() map[string][]types.FundingRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string][]types.FundingRecord, len(k.funding))
	for marketID, records := range k.funding {
		out[marketID] = append([]types.FundingRecord(nil), records...)
	}
	return out
}

// RestoreFunding replaces every market's funding history wholesale, used
// by internal/snapshot's restore path.
func (k *Keeper) RestoreFunding(funding map[string][]types.FundingRecord) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.funding = make(map[string][]types.FundingRecord, len(funding))
	for marketID, records := range funding {
		k.funding[marketID] = append([]types.FundingRecord(nil), records...)
	}
}

// FundingHistory returns the most recent funding records for marketID,
// newest first, limited to n (spec's supplemented funding-rate-history
// query).
func (k *Keeper) FundingHistory(marketID string, n int) []types.FundingRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()
	all := k.funding[marketID]
	if len(all) <= n {
		out := make([]types.FundingRecord, len(all))
		for i := range all {
			out[i] = all[len(all)-1-i]
		}
		return out
	}
	out := make([]types.FundingRecord, n)
	for i := 0; i < n; i++ {
		out[i] = all[len(all)-1-i]
	}
	return out
}
