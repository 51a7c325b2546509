// Package keeper implements the CLOB matcher (component E), grounded on
// the teacher's x/orderbook/keeper matching.go price-time-priority
// algorithm, re-expressed against the book/priceLevel types in this
// package (google/btree price levels, huandu/skiplist per-level FIFO)
// instead of the teacher's ctx-threaded, slice-based PriceLevel.
package keeper

import (
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"github.com/openalpha/simulacrum/internal/apperr"
	"github.com/openalpha/simulacrum/internal/clock"
	"github.com/openalpha/simulacrum/internal/idgen"
	"github.com/openalpha/simulacrum/internal/ledger"
	"github.com/openalpha/simulacrum/pkg/money"
	"github.com/openalpha/simulacrum/x/orderbook/types"
)

// Keeper owns every market's order book. Each book serializes its own
// matching under its own mutex (spec section 5: "single writer per
// market"), so two markets may match concurrently.
type Keeper struct {
	books   map[string]*book
	clock   clock.Clock
	logger  log.Logger
	effects *ledger.Outbox
}

// New constructs an empty Keeper.
func New(clk clock.Clock, logger log.Logger) *Keeper {
	return &Keeper{
		books:  make(map[string]*book),
		clock:  clk,
		logger: logger.With("module", "x/orderbook"),
	}
}

// SetEffects wires the ledger-effect outbox that every fill enqueues
// escrow-transfer and fee-transfer effects into (spec 4.3 step 4). Left
// nil, fills settle nothing outside the book - tests that don't care
// about ledger effects can skip calling it.
func (k *Keeper) SetEffects(outbox *ledger.Outbox) {
	k.effects = outbox
}

// InitBook creates the book for a new market if it does not already exist.
func (k *Keeper) InitBook(marketID string, stp STPPolicy, feeCfg FeeConfig) {
	if _, ok := k.books[marketID]; ok {
		return
	}
	k.books[marketID] = newBook(marketID, stp, feeCfg)
}

func (k *Keeper) bookFor(marketID string) (*book, error) {
	b, ok := k.books[marketID]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "no order book for market %s", marketID)
	}
	return b, nil
}

// Snapshot returns a depth-limited view of a market's book.
func (k *Keeper) Snapshot(marketID string, depth int) (types.BookSnapshot, error) {
	b, err := k.bookFor(marketID)
	if err != nil {
		return types.BookSnapshot{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot(depth), nil
}

// SubmitOrder matches an incoming order against the book and rests any
// unfilled remainder (limit orders only - an unfilled market order is
// cancelled, never rested, per spec 4.3).
func (k *Keeper) SubmitOrder(marketID, trader string, side types.Side, orderType types.OrderType, price math.LegacyDec, qty math.LegacyDec) (*types.MatchResult, error) {
	if !qty.IsPositive() {
		return nil, apperr.New(apperr.Validation, "order quantity must be positive")
	}
	if orderType == types.OrderTypeLimit && !price.IsPositive() {
		return nil, apperr.New(apperr.Validation, "limit orders require a positive price")
	}

	b, err := k.bookFor(marketID)
	if err != nil {
		return nil, err
	}

	order := &types.Order{
		ID:          idgen.New("ord"),
		MarketID:    marketID,
		Trader:      trader,
		Side:        side,
		Type:        orderType,
		Price:       price,
		Qty:         qty,
		FilledQty:   math.LegacyZeroDec(),
		Status:      types.StatusOpen,
		SubmittedAt: k.clock.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	result := k.match(b, order)

	if order.Type == types.OrderTypeLimit && order.IsActive() && order.RemainingQty().IsPositive() {
		b.insertResting(order)
	} else if order.Type == types.OrderTypeMarket && order.RemainingQty().IsPositive() {
		order.Status = types.StatusCancelled
	}

	return result, nil
}

// match walks the opposite side of the book in price-time priority,
// filling taker against the best-priced, oldest resting orders first.
// Fills always execute at the resting maker order's price (spec 4.3).
func (k *Keeper) match(b *book, taker *types.Order) *types.MatchResult {
	result := &types.MatchResult{
		Order:        taker,
		Trades:       make([]*types.Trade, 0),
		FilledQty:    math.LegacyZeroDec(),
		RemainingQty: taker.RemainingQty(),
		AvgPrice:     math.LegacyZeroDec(),
	}

	opposite := b.sideFor(taker.Side.Opposite())
	totalValue := math.LegacyZeroDec()
	now := k.clock.Now()

	var exhaustedLevels []math.LegacyDec

	opposite.iterate(func(level *priceLevel) bool {
		if taker.RemainingQty().IsZero() || !taker.IsActive() {
			return false
		}
		if !priceCompatible(taker, level.price) {
			return false
		}
		k.drainLevel(b, taker, level, result, &totalValue, now)
		if level.isEmpty() {
			exhaustedLevels = append(exhaustedLevels, level.price)
		}
		return taker.RemainingQty().IsPositive()
	})

	for _, p := range exhaustedLevels {
		opposite.removeLevel(p)
	}

	if result.FilledQty.IsPositive() {
		result.AvgPrice = totalValue.Quo(result.FilledQty)
	}
	result.RemainingQty = taker.RemainingQty()
	return result
}

// drainLevel matches taker against resting orders at level, oldest
// first, until the level is exhausted or taker is filled.
func (k *Keeper) drainLevel(b *book, taker *types.Order, level *priceLevel, result *types.MatchResult, totalValue *math.LegacyDec, now time.Time) {
	for taker.RemainingQty().IsPositive() {
		maker := level.front()
		if maker == nil {
			return
		}
		if !maker.IsActive() {
			level.removeEntry(maker.Sequence)
			continue
		}

		if b.stpPolicy != STPNone && maker.Trader == taker.Trader {
			switch b.stpPolicy {
			case STPCancelResting:
				makerRemaining := maker.RemainingQty()
				maker.Status = types.StatusCancelled
				level.remove(maker.Sequence, makerRemaining)
				delete(b.byID, maker.ID)
				delete(b.byIDPrice, maker.ID)
				continue
			case STPCancelTaker:
				taker.Status = types.StatusCancelled
				return
			}
		}

		matchQty := math.LegacyMinDec(taker.RemainingQty(), maker.RemainingQty())
		matchPrice := level.price

		taker.Fill(matchQty)
		maker.Fill(matchQty)
		level.qty = level.qty.Sub(matchQty)

		trade := &types.Trade{
			ID:           idgen.New("trd"),
			MarketID:     b.marketID,
			TakerOrderID: taker.ID,
			MakerOrderID: maker.ID,
			TakerTrader:  taker.Trader,
			MakerTrader:  maker.Trader,
			TakerSide:    taker.Side,
			Price:        matchPrice,
			Qty:          matchQty,
			ExecutedAt:   now,
		}
		result.Trades = append(result.Trades, trade)
		result.FilledQty = result.FilledQty.Add(matchQty)
		*totalValue = totalValue.Add(matchQty.Mul(matchPrice))

		k.emitFillEffects(b, taker, maker, matchQty, matchPrice)

		if maker.IsFilled() {
			level.removeEntry(maker.Sequence)
			delete(b.byID, maker.ID)
			delete(b.byIDPrice, maker.ID)
		}
	}
}

// emitFillEffects enqueues the escrow-transfer events spec 4.3 step 4
// requires on every fill - the buyer-to-seller notional transfer plus
// the maker/taker fee schedule (supplemented feature, grounded on the
// teacher's matching.go calculateFee) credited to the market's escrow
// account. A nil outbox (no SetEffects call) is a no-op, matching how
// unit tests that don't care about ledger effects construct the keeper.
func (k *Keeper) emitFillEffects(b *book, taker, maker *types.Order, matchQty, matchPrice math.LegacyDec) {
	if k.effects == nil {
		return
	}
	notionalHbar, err := matchQty.Mul(matchPrice).Float64()
	if err != nil {
		k.logger.Error("fill notional could not convert to float64", "error", err)
		return
	}

	buyer, seller := taker.Trader, maker.Trader
	if taker.Side == types.SideSell {
		buyer, seller = maker.Trader, taker.Trader
	}
	notional := money.FromHbar(notionalHbar)
	if notional.IsPositive() {
		k.effects.EnqueueTransfer(buyer, seller, notional)
	}

	escrow := b.feeCfg.EscrowAccount
	if escrow == "" {
		return
	}
	takerFee := money.FromHbar(notionalHbar * b.feeCfg.TakerFeeRate)
	if takerFee.IsPositive() {
		k.effects.EnqueueTransfer(taker.Trader, escrow, takerFee)
	}
	makerFee := money.FromHbar(notionalHbar * b.feeCfg.MakerFeeRate)
	if makerFee.IsPositive() {
		k.effects.EnqueueTransfer(maker.Trader, escrow, makerFee)
	}
}

func priceCompatible(taker *types.Order, levelPrice math.LegacyDec) bool {
	if taker.Type == types.OrderTypeMarket {
		return true
	}
	if taker.Side == types.SideBuy {
		return taker.Price.GTE(levelPrice)
	}
	return taker.Price.LTE(levelPrice)
}

// CancelOrder removes a resting order from its book. Already-filled or
// already-cancelled orders return STATE_CONFLICT.
func (k *Keeper) CancelOrder(marketID, orderID string) (*types.Order, error) {
	b, err := k.bookFor(marketID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.byID[orderID]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "order %s not found", orderID)
	}
	if !order.IsActive() {
		return nil, apperr.Newf(apperr.StateConflict, "order %s is not active", orderID)
	}

	remaining := order.RemainingQty()
	order.Status = types.StatusCancelled
	b.removeResting(order, remaining)

	cp := *order
	return &cp, nil
}
