// Package engine is the composition root (spec section 2's data flow):
// it wires every component (C through M) together, enforces the
// cross-component preconditions no single keeper has enough visibility
// to check on its own (the HIGH_LIQUIDITY seed-order rule, spec 4.1),
// and drives the background ticker that settles funding, sweeps
// liquidations, and auto-resolves expired dispute windows in a fixed,
// ascending-market-id order (spec section 5).
//
// The teacher has no equivalent file: a Cosmos app wires its keepers in
// app.go, at startup, once, then lets ABCI's BeginBlock/EndBlock drive
// every subsequent cross-module call. This engine has no block context,
// so Engine plays app.go's wiring role and BeginBlock/EndBlock's ticker
// role in one place, grounded on the teacher's app.go module-keeper
// wiring order (market/clearinghouse/oracle depend on bank/auth being
// constructed first) generalized to this engine's dependency graph.
package engine

import (
	"context"
	"sort"
	"strconv"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"github.com/openalpha/simulacrum/internal/apperr"
	"github.com/openalpha/simulacrum/internal/clock"
	"github.com/openalpha/simulacrum/internal/config"
	"github.com/openalpha/simulacrum/internal/eventbus"
	"github.com/openalpha/simulacrum/internal/ledger"
	"github.com/openalpha/simulacrum/internal/snapshot"
	"github.com/openalpha/simulacrum/pkg/money"
	insurancekeeper "github.com/openalpha/simulacrum/x/insurance/keeper"
	liquidationkeeper "github.com/openalpha/simulacrum/x/liquidation/keeper"
	liquidationtypes "github.com/openalpha/simulacrum/x/liquidation/types"
	lmsrkeeper "github.com/openalpha/simulacrum/x/lmsr/keeper"
	marginkeeper "github.com/openalpha/simulacrum/x/margin/keeper"
	marketkeeper "github.com/openalpha/simulacrum/x/market/keeper"
	markettypes "github.com/openalpha/simulacrum/x/market/types"
	markpricekeeper "github.com/openalpha/simulacrum/x/markprice/keeper"
	orderbookkeeper "github.com/openalpha/simulacrum/x/orderbook/keeper"
	orderbooktypes "github.com/openalpha/simulacrum/x/orderbook/types"
	perpetualkeeper "github.com/openalpha/simulacrum/x/perpetual/keeper"
	perpetualtypes "github.com/openalpha/simulacrum/x/perpetual/types"
)

// SeedOrder is one resting order a HIGH_LIQUIDITY market must be created
// with (spec 4.1: "at least one bid-side and one ask-side seed order
// across outcomes").
type SeedOrder struct {
	Outcome string
	Trader  string
	Side    orderbooktypes.Side
	Price   float64
	Qty     float64
}

// Engine owns every component and is the only thing callers outside
// x/* and internal/* talk to.
type Engine struct {
	cfg    *config.Config
	logger log.Logger
	clock  clock.Clock
	bus    *eventbus.Bus

	Market      *marketkeeper.Registry
	LMSR        *lmsrkeeper.Keeper
	Orderbook   *orderbookkeeper.Keeper
	Margin      *marginkeeper.Keeper
	Perpetual   *perpetualkeeper.Keeper
	MarkPrice   *markpricekeeper.Keeper
	Insurance   *insurancekeeper.Keeper
	Liquidation *liquidationkeeper.Keeper
	Outbox      *ledger.Outbox
	Snapshot    *snapshot.Store

	stopTicker chan struct{}
	tickerDone chan struct{}
}

// New constructs every component, wires them together, and restores
// persisted state from cfg's STATE_DIR if PersistState is on. The
// config's MaxLeverage cap is enforced by OpenPosition.
func New(cfg *config.Config, port ledger.Port, logger log.Logger) (*Engine, error) {
	clk := clock.Real{}
	bus := eventbus.New(logger)

	market := marketkeeper.New(clk, logger)
	lmsr := lmsrkeeper.New()
	orderbook := orderbookkeeper.New(clk, logger)
	margin := marginkeeper.New(logger)
	markPrice := markpricekeeper.New(bus, clk, logger)
	perpetual := perpetualkeeper.New(margin, markPrice, bus, clk, logger)
	insurance := insurancekeeper.New(logger)
	liquidation := liquidationkeeper.New(perpetual, margin, markPrice, insurance, bus, clk, logger)
	outbox := ledger.NewOutbox(port, logger, 5, bus.Publish)
	orderbook.SetEffects(outbox)

	store, err := snapshot.New(cfg.StateDir, snapshot.Deps{
		Market:      market,
		LMSR:        lmsr,
		Orderbook:   orderbook,
		Margin:      margin,
		Perpetual:   perpetual,
		MarkPrice:   markPrice,
		Insurance:   insurance,
		Liquidation: liquidation,
		Outbox:      outbox,
	}, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		logger:      logger.With("module", "engine"),
		clock:       clk,
		bus:         bus,
		Market:      market,
		LMSR:        lmsr,
		Orderbook:   orderbook,
		Margin:      margin,
		Perpetual:   perpetual,
		MarkPrice:   markPrice,
		Insurance:   insurance,
		Liquidation: liquidation,
		Outbox:      outbox,
		Snapshot:    store,
	}
	liquidation.SetSnapshotHook(e.maybeSnapshot)

	if cfg.PersistState {
		store.Restore()
	}

	return e, nil
}

// Bus returns the engine's event bus, for transports (api/ws) that need
// to subscribe to the domain events Engine publishes.
func (e *Engine) Bus() *eventbus.Bus {
	return e.bus
}

func (e *Engine) maybeSnapshot() {
	if !e.cfg.PersistState {
		return
	}
	if err := e.Snapshot.Snapshot(); err != nil {
		e.logger.Error("snapshot failed", "error", err)
	}
}

// CreateMarket validates and creates a market, then for HIGH_LIQUIDITY
// regimes enforces spec 4.1's seed-order precondition and submits the
// seed orders before returning - the registry itself cannot check this
// since it has no visibility into the order book (see
// x/market/keeper/registry.go's Create doc comment).
func (e *Engine) CreateMarket(in markettypes.CreateInput, seeds []SeedOrder) (*markettypes.Market, error) {
	if in.Regime == markettypes.HighLiquidity {
		var hasBid, hasAsk bool
		for _, s := range seeds {
			if s.Side == orderbooktypes.SideBuy {
				hasBid = true
			}
			if s.Side == orderbooktypes.SideSell {
				hasAsk = true
			}
		}
		if !hasBid || !hasAsk {
			return nil, apperr.New(apperr.Validation, "a HIGH_LIQUIDITY market requires at least one bid-side and one ask-side seed order")
		}
	}

	m, err := e.Market.Create(in)
	if err != nil {
		return nil, err
	}

	switch m.Regime {
	case markettypes.LowLiquidity:
		if err := e.LMSR.InitCurve(m.ID, in.LMSRLiquidityB, m.Outcomes); err != nil {
			return nil, err
		}
	case markettypes.HighLiquidity:
		e.Orderbook.InitBook(m.ID, orderbookkeeper.STPCancelResting, orderbookkeeper.FeeConfig{
			EscrowAccount: m.EscrowAccount,
			TakerFeeRate:  m.TakerFeeRate,
			MakerFeeRate:  m.MakerFeeRate,
		})
		for _, s := range seeds {
			if _, err := e.Orderbook.SubmitOrder(m.ID, s.Trader, s.Side, orderbooktypes.OrderTypeLimit, decFromFloat(s.Price), decFromFloat(s.Qty)); err != nil {
				return nil, apperr.Wrap(apperr.Internal, err, "seed order rejected after market creation")
			}
		}
		e.refreshCLOBMark(m.ID)
	}

	e.maybeSnapshot()
	return m, nil
}

// SubmitOrder matches an order against marketID's book and refreshes the
// mark price from the resulting book state (spec 4.4: CLOB_MID takes
// precedence over CLOB_LAST_FILL, both below LMSR_CURVE).
func (e *Engine) SubmitOrder(marketID, trader string, side orderbooktypes.Side, orderType orderbooktypes.OrderType, price, qty float64) (*orderbooktypes.MatchResult, error) {
	result, err := e.Orderbook.SubmitOrder(marketID, trader, side, orderType, decFromFloat(price), decFromFloat(qty))
	if err != nil {
		return nil, err
	}
	for _, trade := range result.Trades {
		e.bus.Publish("orderbook.trade", trade)
	}
	e.refreshCLOBMark(marketID)
	e.maybeSnapshot()
	return result, nil
}

// CancelOrder cancels a resting order.
func (e *Engine) CancelOrder(marketID, orderID string) (*orderbooktypes.Order, error) {
	order, err := e.Orderbook.CancelOrder(marketID, orderID)
	if err != nil {
		return nil, err
	}
	e.refreshCLOBMark(marketID)
	e.maybeSnapshot()
	return order, nil
}

// refreshCLOBMark recomputes marketID's mark price from its book's
// current top of book: CLOB_MID when both sides are populated,
// otherwise the oracle is not refreshed, so the market keeps its
// previous mark (or has none yet).
func (e *Engine) refreshCLOBMark(marketID string) {
	snap, err := e.Orderbook.Snapshot(marketID, 1)
	if err != nil {
		return
	}
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return
	}
	in := markpricekeeper.Inputs{}
	bid, _ := snap.Bids[0].Price.Float64()
	ask, _ := snap.Asks[0].Price.Float64()
	mid := (bid + ask) / 2
	in.CLOBMid = &mid
	e.MarkPrice.Refresh(marketID, in)
}

// BuyShares executes an LMSR trade and refreshes marketID's mark price
// from the curve's new price (spec 4.4: LMSR_CURVE is the top of the
// precedence chain).
func (e *Engine) BuyShares(marketID, outcome string, deltaShares float64, maxCostHbar money.Tinybar, maxPricePercent float64) (sharesAcquired float64, costHbar money.Tinybar, effectivePrice float64, err error) {
	sharesAcquired, costHbar, effectivePrice, err = e.LMSR.BuyShares(marketID, outcome, deltaShares, maxCostHbar, maxPricePercent)
	if err != nil {
		return 0, 0, 0, err
	}
	price := effectivePrice
	if prices, perr := e.LMSR.Prices(marketID); perr == nil {
		if p, ok := prices[outcome]; ok {
			price = p
		}
	}
	e.MarkPrice.Refresh(marketID, markpricekeeper.Inputs{LMSRCurve: &price})
	e.maybeSnapshot()
	return sharesAcquired, costHbar, effectivePrice, nil
}

// OpenPosition opens a perpetual position, capped by the engine's
// configured MAX_LEVERAGE (spec section 6).
func (e *Engine) OpenPosition(trader, marketID string, side perpetualtypes.Side, size, price, leverage float64) (*perpetualtypes.Position, error) {
	if e.cfg.MaxLeverage > 0 && leverage > float64(e.cfg.MaxLeverage) {
		return nil, apperr.Newf(apperr.Validation, "leverage %.2f exceeds the configured maximum of %d", leverage, e.cfg.MaxLeverage)
	}
	pos, err := e.Perpetual.OpenPosition(trader, marketID, side, size, price, leverage)
	if err != nil {
		return nil, err
	}
	e.maybeSnapshot()
	return pos, nil
}

// ClosePosition fully closes trader's position in marketID at the
// market's current mark price.
func (e *Engine) ClosePosition(trader, marketID string) (money.Tinybar, error) {
	mark, err := e.MarkPrice.Get(marketID)
	if err != nil {
		return 0, err
	}
	realized, err := e.Perpetual.ClosePosition(trader, marketID, mark.Price)
	if err != nil {
		return 0, err
	}
	e.maybeSnapshot()
	return realized, nil
}

// LiquidateNow runs the liquidation cascade against trader's position
// immediately, bypassing the underwater check - the admin-triggered
// entry point spec's supplemented surface calls for alongside the
// background sweep.
func (e *Engine) LiquidateNow(trader, marketID string) ([]liquidationtypes.Event, error) {
	events, err := e.Liquidation.Liquidate(trader, marketID)
	if err != nil {
		return nil, err
	}
	e.maybeSnapshot()
	return events, nil
}

// RecentLiquidations returns liquidation events across every market (or
// just marketID, if non-empty), newest first, capped at limit - the
// engine-level merge GET /derivatives/liquidations needs since the
// keeper's own GetLiquidations is scoped to a single market.
func (e *Engine) RecentLiquidations(marketID, trader string, limit int) []liquidationtypes.Event {
	var all []liquidationtypes.Event
	if marketID != "" {
		all = e.Liquidation.GetLiquidations(marketID, trader, 0)
	} else {
		for _, events := range e.Liquidation.AllEvents() {
			for _, ev := range events {
				if trader != "" && ev.PositionTrader != trader {
					continue
				}
				all = append(all, ev)
			}
		}
		sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Transition advances a market's lifecycle status.
func (e *Engine) Transition(marketID string, newStatus markettypes.Status, resolvedOutcome string) (*markettypes.Market, error) {
	m, err := e.Market.Transition(marketID, newStatus, resolvedOutcome)
	if err != nil {
		return nil, err
	}
	e.maybeSnapshot()
	return m, nil
}

// Start launches the background ticker that settles funding, sweeps
// liquidations, and auto-resolves expired dispute windows, visiting
// markets in ascending id order each round (spec section 5: "acquires
// per-market sections in a fixed order... to preclude deadlock").
func (e *Engine) Start(ctx context.Context) {
	e.stopTicker = make(chan struct{})
	e.tickerDone = make(chan struct{})

	go e.run(ctx)
}

// Stop signals the ticker to exit and waits for it to do so.
func (e *Engine) Stop() {
	if e.stopTicker == nil {
		return
	}
	close(e.stopTicker)
	<-e.tickerDone
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.tickerDone)

	fundingInterval := e.cfg.FundingInterval
	if fundingInterval <= 0 {
		fundingInterval = time.Hour
	}
	sweepInterval := e.cfg.LiquidationSweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Second
	}

	fundingTicker := time.NewTicker(fundingInterval)
	sweepTicker := time.NewTicker(sweepInterval)
	defer fundingTicker.Stop()
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopTicker:
			return
		case <-fundingTicker.C:
			e.settleFundingRound()
		case <-sweepTicker.C:
			e.sweepRound()
		}
	}
}

// settleFundingRound settles one funding interval for every market that
// has both a mark price and an index reference, ascending by market id.
func (e *Engine) settleFundingRound() {
	for _, marketID := range e.sortedMarketIDs() {
		mark, err := e.MarkPrice.Get(marketID)
		if err != nil {
			continue
		}
		e.Perpetual.SettleFunding(marketID, mark.Price, mark.Price)
	}
	e.maybeSnapshot()
}

// sweepRound runs the liquidation sweep and dispute-window sweep,
// ascending by market id, draining the ledger-effect outbox afterward.
func (e *Engine) sweepRound() {
	for _, marketID := range e.sortedMarketIDs() {
		e.Liquidation.SweepMarket(marketID)
	}
	e.Market.SweepDisputeWindows()
	e.Outbox.Drain(context.Background())
	e.maybeSnapshot()
}

func (e *Engine) sortedMarketIDs() []string {
	markets := e.Market.List(markettypes.Filter{})
	ids := make([]string, 0, len(markets))
	for _, m := range markets {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids
}

// decFromFloat converts a JSON-decoded float into the fixed-point decimal
// the order book trades in, going through its decimal string form so the
// usual float64 rounding noise (e.g. 10.1 -> 10.099999999999998) never
// reaches the book.
func decFromFloat(f float64) math.LegacyDec {
	return math.LegacyMustNewDecFromStr(strconv.FormatFloat(f, 'f', -1, 64))
}
