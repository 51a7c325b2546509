package keeper

import (
	"sync"

	"cosmossdk.io/math"
	"github.com/openalpha/simulacrum/x/orderbook/types"
)

// STPPolicy controls what happens when a taker and a resting maker order
// on the same book belong to the same trader (spec 4.3's cross-prevention
// flag, grounded on the teacher's config-driven fee/policy fields on
// x/perpetual market params rather than a dedicated teacher file - the
// teacher's matcher never guards against self-trading).
type STPPolicy int

const (
	// STPNone allows self-trades to execute normally.
	STPNone STPPolicy = iota
	// STPCancelResting cancels the resting maker order and continues
	// matching the taker against the next level.
	STPCancelResting
	// STPCancelTaker cancels the remainder of the taker order outright.
	STPCancelTaker
)

// FeeConfig is the escrow destination and fee schedule a book charges on
// every fill (spec 4.3 step 4, supplemented maker/taker fee schedule
// grounded on the teacher's matching.go calculateFee). Rates are
// fractions of fill notional.
type FeeConfig struct {
	EscrowAccount string
	TakerFeeRate  float64
	MakerFeeRate  float64
}

// book is a single market's order book: two sides plus an index of every
// resting order by ID for O(1) cancellation lookups.
type book struct {
	mu        sync.Mutex
	marketID  string
	bids      *bookSide
	asks      *bookSide
	byID      map[string]*types.Order
	byIDPrice map[string]math.LegacyDec
	sequence  uint64
	stpPolicy STPPolicy
	feeCfg    FeeConfig
}

func newBook(marketID string, stp STPPolicy, feeCfg FeeConfig) *book {
	return &book{
		marketID:  marketID,
		bids:      newBookSide(true),
		asks:      newBookSide(false),
		byID:      make(map[string]*types.Order),
		byIDPrice: make(map[string]math.LegacyDec),
		stpPolicy: stp,
		feeCfg:    feeCfg,
	}
}

func (b *book) sideFor(side types.Side) *bookSide {
	if side == types.SideBuy {
		return b.bids
	}
	return b.asks
}

// insertResting adds order to its side's book, assigning it the next
// FIFO sequence number.
func (b *book) insertResting(o *types.Order) {
	b.sequence++
	o.Sequence = b.sequence
	level := b.sideFor(o.Side).getOrCreate(o.Price)
	level.add(o)
	b.byID[o.ID] = o
	b.byIDPrice[o.ID] = o.Price
}

// removeResting removes order from its price level, deleting the level
// entirely if it becomes empty. remainingBefore is the quantity to debit
// from the level's aggregate - the caller must capture it before further
// mutating order, since priceLevel.qty tracks aggregate remaining size.
func (b *book) removeResting(o *types.Order, remainingBefore math.LegacyDec) {
	price, ok := b.byIDPrice[o.ID]
	if !ok {
		return
	}
	side := b.sideFor(o.Side)
	level := side.get(price)
	if level == nil {
		return
	}
	level.remove(o.Sequence, remainingBefore)
	if level.isEmpty() {
		side.removeLevel(price)
	}
	delete(b.byID, o.ID)
	delete(b.byIDPrice, o.ID)
}

func (b *book) snapshot(depth int) types.BookSnapshot {
	return types.BookSnapshot{
		MarketID: b.marketID,
		Bids:     b.bids.snapshot(depth),
		Asks:     b.asks.snapshot(depth),
	}
}
