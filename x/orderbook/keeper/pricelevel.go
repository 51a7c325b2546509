package keeper

import (
	"cosmossdk.io/math"
	"github.com/google/btree"
	"github.com/huandu/skiplist"
	"github.com/openalpha/simulacrum/x/orderbook/types"
)

// priceLevel holds every resting order at a single price, FIFO by
// insertion sequence. A huandu/skiplist keyed by sequence gives O(log n)
// insert/remove while preserving ascending iteration order, the same
// role skiplist plays for the teacher's price-level tree (orderbook_v2.go)
// - here scoped to within-level FIFO rather than across price levels,
// since btree already owns the cross-level ordering (spec 4.3: "FIFO
// within a price level").
type priceLevel struct {
	price math.LegacyDec
	qty   math.LegacyDec
	list  *skiplist.SkipList // sequence(uint64) -> *types.Order
}

func newPriceLevel(price math.LegacyDec) *priceLevel {
	return &priceLevel{
		price: price,
		qty:   math.LegacyZeroDec(),
		list:  skiplist.New(skiplist.Uint64),
	}
}

func (l *priceLevel) add(o *types.Order) {
	l.list.Set(o.Sequence, o)
	l.qty = l.qty.Add(o.RemainingQty())
}

// removeEntry drops an order from the FIFO list without touching the
// level's aggregate quantity, for callers that have already debited it
// (the matching loop subtracts matchQty as each fill lands).
func (l *priceLevel) removeEntry(sequence uint64) {
	l.list.Remove(sequence)
}

// remove drops an order and debits its full remaining quantity from the
// level's aggregate, for callers removing an order that was never
// partially matched first (explicit cancel, self-trade prevention).
func (l *priceLevel) remove(sequence uint64, remainingBefore math.LegacyDec) {
	l.removeEntry(sequence)
	l.qty = l.qty.Sub(remainingBefore)
}

func (l *priceLevel) isEmpty() bool {
	return l.list.Len() == 0
}

// front returns the oldest resting order at this level, or nil.
func (l *priceLevel) front() *types.Order {
	el := l.list.Front()
	if el == nil {
		return nil
	}
	return el.Value.(*types.Order)
}

// priceLevelItem adapts priceLevel for google/btree ordering by price,
// following the teacher's orderbook_btree.go priceLevelItem pattern.
type priceLevelItem struct {
	price math.LegacyDec
	level *priceLevel
}

func (a *priceLevelItem) Less(than btree.Item) bool {
	return a.price.LT(than.(*priceLevelItem).price)
}

// bookSide is one side (bids or asks) of a single market's book.
type bookSide struct {
	tree *btree.BTree
	desc bool // true for bids (best = highest price), false for asks
}

const btreeDegree = 32

func newBookSide(desc bool) *bookSide {
	return &bookSide{tree: btree.New(btreeDegree), desc: desc}
}

func (s *bookSide) get(price math.LegacyDec) *priceLevel {
	item := s.tree.Get(&priceLevelItem{price: price})
	if item == nil {
		return nil
	}
	return item.(*priceLevelItem).level
}

func (s *bookSide) getOrCreate(price math.LegacyDec) *priceLevel {
	level := s.get(price)
	if level == nil {
		level = newPriceLevel(price)
		s.tree.ReplaceOrInsert(&priceLevelItem{price: price, level: level})
	}
	return level
}

func (s *bookSide) removeLevel(price math.LegacyDec) {
	s.tree.Delete(&priceLevelItem{price: price})
}

func (s *bookSide) best() *priceLevel {
	var item btree.Item
	if s.desc {
		item = s.tree.Max()
	} else {
		item = s.tree.Min()
	}
	if item == nil {
		return nil
	}
	return item.(*priceLevelItem).level
}

func (s *bookSide) len() int {
	return s.tree.Len()
}

// iterate walks levels in matching priority order (best price first),
// stopping when fn returns false.
func (s *bookSide) iterate(fn func(*priceLevel) bool) {
	visit := func(item btree.Item) bool { return fn(item.(*priceLevelItem).level) }
	if s.desc {
		s.tree.Descend(visit)
	} else {
		s.tree.Ascend(visit)
	}
}

func (s *bookSide) snapshot(depth int) []types.PriceLevelSnapshot {
	out := make([]types.PriceLevelSnapshot, 0, depth)
	s.iterate(func(l *priceLevel) bool {
		if len(out) >= depth {
			return false
		}
		out = append(out, types.PriceLevelSnapshot{Price: l.price, Qty: l.qty, Count: l.list.Len()})
		return true
	})
	return out
}
