package keeper

import (
	"github.com/openalpha/simulacrum/x/orderbook/types"
)

// Config returns marketID's self-trade-prevention policy and fee
// schedule, used by internal/snapshot to persist enough of a book's
// configuration to reconstruct it on restore.
func (k *Keeper) Config(marketID string) (STPPolicy, FeeConfig, error) {
	b, err := k.bookFor(marketID)
	if err != nil {
		return STPNone, FeeConfig{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stpPolicy, b.feeCfg, nil
}

// MarketIDs returns every market this keeper has an initialized book
// for, used by internal/snapshot to enumerate what to export.
func (k *Keeper) MarketIDs() []string {
	out := make([]string, 0, len(k.books))
	for marketID := range k.books {
		out = append(out, marketID)
	}
	return out
}

// ExportOrders returns every resting order on marketID's book, used by
// internal/snapshot to persist the book across a restart. Order is
// unspecified; RestoreOrders re-sorts by Sequence before reinserting.
func (k *Keeper) ExportOrders(marketID string) ([]*types.Order, error) {
	b, err := k.bookFor(marketID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*types.Order, 0, len(b.byID))
	for _, o := range b.byID {
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

// RestoreOrders rebuilds marketID's book from a previously exported order
// set, initializing the book first if needed. Orders are reinserted in
// ascending Sequence order so FIFO priority within each price level is
// preserved exactly as it was at snapshot time.
func (k *Keeper) RestoreOrders(marketID string, stp STPPolicy, feeCfg FeeConfig, orders []*types.Order) {
	k.InitBook(marketID, stp, feeCfg)
	b := k.books[marketID]

	b.mu.Lock()
	defer b.mu.Unlock()

	sorted := append([]*types.Order(nil), orders...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Sequence < sorted[j-1].Sequence; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	for _, o := range sorted {
		cp := *o
		level := b.sideFor(cp.Side).getOrCreate(cp.Price)
		level.add(&cp)
		b.byID[cp.ID] = &cp
		b.byIDPrice[cp.ID] = cp.Price
		if cp.Sequence > b.sequence {
			b.sequence = cp.Sequence
		}
	}
}
