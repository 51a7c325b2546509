// Package keeper implements the three-tier liquidation cascade (component
// J), grounded on the teacher's x/clearinghouse/keeper liquidation.go
// (tier-1 market close and penalty mechanics) and adl.go (ranking and
// walking opposing positions), re-composed into the spec's exact
// tier-1/insurance/tier-3 sequence instead of the teacher's single-tier
// ExecuteLiquidation plus a separately-triggered ADL pass.
package keeper

import (
	"math"
	"sort"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/openalpha/simulacrum/internal/apperr"
	"github.com/openalpha/simulacrum/internal/clock"
	"github.com/openalpha/simulacrum/internal/eventbus"
	"github.com/openalpha/simulacrum/internal/idgen"
	"github.com/openalpha/simulacrum/pkg/money"
	insurancekeeper "github.com/openalpha/simulacrum/x/insurance/keeper"
	marginkeeper "github.com/openalpha/simulacrum/x/margin/keeper"
	margintypes "github.com/openalpha/simulacrum/x/margin/types"
	markpricekeeper "github.com/openalpha/simulacrum/x/markprice/keeper"
	perpetualkeeper "github.com/openalpha/simulacrum/x/perpetual/keeper"
	perpetualtypes "github.com/openalpha/simulacrum/x/perpetual/types"
	"github.com/openalpha/simulacrum/x/liquidation/types"
)

// partialThresholdHbar is the notional above which a liquidation closes
// only a fraction of the position instead of the whole thing (spec 4.8's
// "partial-first rule").
const partialThresholdHbar = 100

// adlMinSliceFraction and adlMaxSliceFraction bound the fraction of an
// ADL candidate's position closed to realize one tier-3 step, per spec
// 4.8: "slice fraction = clamp(take / candidate.unrealizedPnl, 0.01, 1.0)".
const (
	adlMinSliceFraction = 0.01
	adlMaxSliceFraction = 1.0
)

// dustSize is the remaining position size below which a sliced position
// is swept fully closed rather than left open with a negligible residual
// (spec 4.8: "if remaining size <= 1e-4, mark candidate CLOSED").
const dustSize = 1e-4

// Keeper drives the liquidation cascade and keeps its append-only event
// log. It is the only component permitted to mutate another trader's
// position by force, and does so exclusively through
// perpetual.Keeper.ApplyLiquidationSlice.
type Keeper struct {
	mu     sync.Mutex // serializes cascades so one market never runs two overlapping cascades
	events map[string][]types.Event

	perpetual *perpetualkeeper.Keeper
	margin    *marginkeeper.Keeper
	markPrice *markpricekeeper.Keeper
	insurance *insurancekeeper.Keeper
	bus       *eventbus.Bus
	clock     clock.Clock
	logger    log.Logger

	// onCascadeComplete is invoked once, synchronously, after a cascade's
	// mutations are all applied (spec 4.8: "snapshot (M) is invoked once
	// at the end"). Wired to internal/snapshot.Store.Snapshot by the
	// composition root; nil is safe and a no-op in tests.
	onCascadeComplete func()
}

// New constructs an empty Keeper.
func New(
	perpetual *perpetualkeeper.Keeper,
	margin *marginkeeper.Keeper,
	markPrice *markpricekeeper.Keeper,
	insurance *insurancekeeper.Keeper,
	bus *eventbus.Bus,
	clk clock.Clock,
	logger log.Logger,
) *Keeper {
	return &Keeper{
		events:    make(map[string][]types.Event),
		perpetual: perpetual,
		margin:    margin,
		markPrice: markPrice,
		insurance: insurance,
		bus:       bus,
		clock:     clk,
		logger:    logger.With("module", "x/liquidation"),
	}
}

// SetSnapshotHook wires the function invoked once at the end of every
// completed cascade.
func (k *Keeper) SetSnapshotHook(fn func()) {
	k.onCascadeComplete = fn
}

// IsUnderwater applies spec 4.8's underwater test: ISOLATED accounts
// compare their own margin plus this position's unrealized PnL against
// this position's maintenance margin; CROSS accounts compare their whole
// account's effective equity against this position's maintenance margin.
func (k *Keeper) IsUnderwater(trader, marketID string) (bool, error) {
	health, err := k.perpetual.RefreshPosition(trader, marketID)
	if err != nil {
		return false, err
	}
	acct := k.margin.Balance(trader)
	if acct.Mode == margintypes.ModeCross {
		equity := k.crossAccountEquity(trader)
		return equity < health.MaintenanceMargin, nil
	}
	return health.Equity < health.MaintenanceMargin, nil
}

// crossAccountEquity sums unrealized PnL across every open position a
// CROSS-mode trader holds, each marked at its own market's current price,
// then folds it into the margin ledger's effective equity.
func (k *Keeper) crossAccountEquity(trader string) money.Tinybar {
	var totalUnrealized money.Tinybar
	for _, p := range k.perpetual.ByTrader(trader) {
		mark, err := k.markPrice.Get(p.MarketID)
		if err != nil {
			continue
		}
		totalUnrealized = totalUnrealized.Add(p.UnrealizedPnL(mark.Price))
	}
	return k.margin.EffectiveEquity(trader, totalUnrealized)
}

// Liquidate runs the full tier-1/tier-2/tier-3 cascade against trader's
// position in marketID. Callers must already know the position is
// underwater (via IsUnderwater or a sweep); Liquidate itself does not
// re-check health so a deliberate admin-triggered liquidation is possible
// for testing, matching the teacher's TriggerLiquidation entry point.
func (k *Keeper) Liquidate(trader, marketID string) ([]types.Event, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	pos, err := k.perpetual.Get(trader, marketID)
	if err != nil {
		return nil, err
	}
	mark, err := k.markPrice.Get(marketID)
	if err != nil {
		return nil, err
	}

	fraction := 1.0
	notional := pos.Notional(mark.Price)
	if notional.ToHbar() > partialThresholdHbar {
		fraction = 0.2
	}

	var produced []types.Event

	// Tier 1: market close.
	sliceMargin := pos.Margin.MulFrac(fraction)
	realized, err := k.perpetual.ApplyLiquidationSlice(trader, marketID, fraction, mark.Price)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "liquidation tier 1 failed")
	}
	loss := money.Max(0, -realized)
	now := k.clock.Now()
	ev := types.Event{
		ID:             idgen.New("liq"),
		PositionTrader: trader,
		MarketID:       marketID,
		Tier:           types.Tier1MarketClose,
		SizeClosed:     pos.Size * fraction,
		LossHbar:       loss,
		Timestamp:      now,
	}

	// Tier 2: insurance fund backstop.
	deficit := loss.Sub(sliceMargin)
	remaining := money.Zero
	if deficit.IsPositive() {
		absorbed := k.insurance.Absorb(marketID, deficit)
		if absorbed.IsPositive() {
			k.margin.ApplyPnL(trader, absorbed)
			ev.Tier = types.Tier2InsuranceBackstop
			ev.InsuranceFundDelta = -absorbed
		}
		remaining = deficit.Sub(absorbed)
	}
	produced = append(produced, ev)

	// Tier 3: auto-deleverage against opposing profitable positions.
	if remaining.IsPositive() {
		tier3, unresolved := k.runADL(marketID, pos.Side.Opposite(), remaining, mark.Price, now)
		produced = append(produced, tier3...)
		if unresolved.IsPositive() {
			k.bus.Publish("socialized_loss_shortfall", map[string]interface{}{
				"market_id": marketID,
				"trader":    trader,
				"shortfall": unresolved,
			})
		}
	}

	k.appendEvents(marketID, produced)

	for _, e := range produced {
		k.bus.Publish("liquidation.executed", e)
	}

	if k.onCascadeComplete != nil {
		k.onCascadeComplete()
	}
	return produced, nil
}

// runADL walks opposing, profitable positions in descending
// (unrealizedPnl*leverage) order, ties broken by earliest open time,
// closing slices to realize remaining's shortfall. It returns the
// tier-3 events produced and whatever portion of remaining could not be
// covered (spec 4.8: "if still >0, emit socialized_loss_shortfall").
func (k *Keeper) runADL(marketID string, opposingSide perpetualtypes.Side, remaining money.Tinybar, markPrice float64, now time.Time) ([]types.Event, money.Tinybar) {
	candidates := k.rankADLCandidates(marketID, opposingSide, markPrice)
	var events []types.Event

	for _, c := range candidates {
		if remaining <= 0 {
			break
		}
		if !c.UnrealizedPnL.IsPositive() {
			continue
		}
		take := money.Min(remaining, c.UnrealizedPnL)
		sliceFraction := clampFraction(take.ToHbar()/c.UnrealizedPnL.ToHbar(), adlMinSliceFraction, adlMaxSliceFraction)

		beforeSize := 0.0
		if p, err := k.perpetual.Get(c.Trader, marketID); err == nil {
			beforeSize = p.Size
		}

		if _, err := k.perpetual.ApplyLiquidationSlice(c.Trader, marketID, sliceFraction, markPrice); err != nil {
			k.logger.Error("adl slice failed", "trader", c.Trader, "market_id", marketID, "error", err)
			continue
		}
		// The ADL'd trader does not keep the realized gain this slice
		// would otherwise have paid them; clawing it back is what covers
		// the underwater trader's shortfall.
		k.margin.ApplyPnL(c.Trader, -take)

		if remainingPos, err := k.perpetual.Get(c.Trader, marketID); err == nil && remainingPos.Size > 0 && remainingPos.Size <= dustSize {
			_, _ = k.perpetual.ApplyLiquidationSlice(c.Trader, marketID, 1.0, markPrice)
		}

		events = append(events, types.Event{
			ID:             idgen.New("liq"),
			PositionTrader: c.Trader,
			MarketID:       marketID,
			Tier:           types.Tier3AutoDeleverage,
			SizeClosed:     beforeSize * sliceFraction,
			LossHbar:       take,
			Timestamp:      now,
		})
		remaining = remaining.Sub(take)
	}

	return events, remaining
}

// rankADLCandidates returns every OPEN position in marketID on
// opposingSide with positive unrealized PnL, ranked descending by
// unrealizedPnl*leverage, ties broken by earliest openedAt.
func (k *Keeper) rankADLCandidates(marketID string, opposingSide perpetualtypes.Side, markPrice float64) []types.ADLCandidate {
	var out []types.ADLCandidate
	for _, p := range k.perpetual.ByMarket(marketID) {
		if p.Side != opposingSide {
			continue
		}
		pnl := p.UnrealizedPnL(markPrice)
		if !pnl.IsPositive() {
			continue
		}
		out = append(out, types.ADLCandidate{
			Trader:        p.Trader,
			MarketID:      p.MarketID,
			UnrealizedPnL: pnl,
			Leverage:      p.Leverage,
			OpenedAt:      p.OpenedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].Score(), out[j].Score()
		if si != sj {
			return si > sj
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func clampFraction(f, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, f))
}

func (k *Keeper) appendEvents(marketID string, events []types.Event) {
	if len(events) == 0 {
		return
	}
	k.events[marketID] = append(k.events[marketID], events...)
}

// AllEvents returns every market's liquidation event log, for
// internal/snapshot to persist.
func (k *Keeper) AllEvents() map[string][]types.Event {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[string][]types.Event, len(k.events))
	for marketID, events := range k.events {
		out[marketID] = append([]types.Event(nil), events...)
	}
	return out
}

// RestoreEvents replaces every market's event log wholesale, used by
// internal/snapshot's restore path.
func (k *Keeper) RestoreEvents(events map[string][]types.Event) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.events = make(map[string][]types.Event, len(events))
	for marketID, evs := range events {
		k.events[marketID] = append([]types.Event(nil), evs...)
	}
}

// GetLiquidations returns marketID's liquidation events, optionally
// filtered by trader, newest first, limited to n (spec's supplemented
// GetLiquidations(marketID, accountID, limit) read query).
func (k *Keeper) GetLiquidations(marketID, trader string, n int) []types.Event {
	k.mu.Lock()
	defer k.mu.Unlock()
	all := k.events[marketID]
	var filtered []types.Event
	for i := len(all) - 1; i >= 0; i-- {
		if trader != "" && all[i].PositionTrader != trader {
			continue
		}
		filtered = append(filtered, all[i])
		if n > 0 && len(filtered) >= n {
			break
		}
	}
	return filtered
}

// GetADLRankings is a read-only projection of the current ADL ranking for
// marketID's positions on opposingSide, without executing anything
// (spec's supplemented GetADLRankings query).
func (k *Keeper) GetADLRankings(marketID string, opposingSide perpetualtypes.Side, markPrice float64, n int) []types.ADLCandidate {
	k.mu.Lock()
	defer k.mu.Unlock()
	ranked := k.rankADLCandidates(marketID, opposingSide, markPrice)
	if n > 0 && len(ranked) > n {
		return ranked[:n]
	}
	return ranked
}

// SweepMarket checks every open position in marketID for the underwater
// condition and liquidates those that qualify (spec 4.8: "trigger: ...
// on demand via a sweep"). Driven by the background ticker in the
// composition root.
func (k *Keeper) SweepMarket(marketID string) {
	for _, p := range k.perpetual.ByMarket(marketID) {
		underwater, err := k.IsUnderwater(p.Trader, marketID)
		if err != nil || !underwater {
			continue
		}
		if _, err := k.Liquidate(p.Trader, marketID); err != nil {
			k.logger.Error("liquidation sweep failed", "trader", p.Trader, "market_id", marketID, "error", err)
		}
	}
}
