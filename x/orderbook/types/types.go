// Package types defines the CLOB order book's entities (component E),
// grounded on the teacher's x/orderbook/types package with the proto
// enum-registration boilerplate dropped - this engine has no gogoproto
// wire format to register against.
package types

import (
	"time"

	"cosmossdk.io/math"
)

// Side is which side of the book an order rests on.
type Side int

const (
	SideUnspecified Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the side an incoming order of this side matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType selects limit-vs-market matching behavior.
type OrderType int

const (
	OrderTypeUnspecified OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
)

func (t OrderType) String() string {
	if t == OrderTypeMarket {
		return "MARKET"
	}
	return "LIMIT"
}

// Status is an order's lifecycle state.
type Status int

const (
	StatusUnspecified Status = iota
	StatusOpen
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNSPECIFIED"
	}
}

// Order is a single resting or incoming order (spec section 3).
type Order struct {
	ID          string
	MarketID    string
	Trader      string
	Side        Side
	Type        OrderType
	Price       math.LegacyDec // zero for market orders
	Qty         math.LegacyDec
	FilledQty   math.LegacyDec
	Status      Status
	Sequence    uint64 // assigned at insertion, breaks FIFO ties within a price level
	SubmittedAt time.Time
}

// RemainingQty is the order's unfilled quantity.
func (o *Order) RemainingQty() math.LegacyDec {
	return o.Qty.Sub(o.FilledQty)
}

// IsActive reports whether the order can still participate in matching.
func (o *Order) IsActive() bool {
	return o.Status == StatusOpen || o.Status == StatusPartiallyFilled
}

// IsFilled reports whether the order has no remaining quantity.
func (o *Order) IsFilled() bool {
	return o.Status == StatusFilled
}

// Fill records a partial or complete fill of qty against this order.
func (o *Order) Fill(qty math.LegacyDec) {
	o.FilledQty = o.FilledQty.Add(qty)
	if o.FilledQty.GTE(o.Qty) {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
}

// Trade is the immutable record of a single match between a taker order
// and a resting maker order.
type Trade struct {
	ID           string
	MarketID     string
	TakerOrderID string
	MakerOrderID string
	TakerTrader  string
	MakerTrader  string
	TakerSide    Side
	Price        math.LegacyDec // always the resting maker order's price
	Qty          math.LegacyDec
	ExecutedAt   time.Time
}

// PriceLevelSnapshot is a read-only view of a single price level, used for
// depth queries (spec's "query book depth" external interface).
type PriceLevelSnapshot struct {
	Price math.LegacyDec
	Qty   math.LegacyDec
	Count int
}

// BookSnapshot is a read-only depth-limited view of both sides of a book.
type BookSnapshot struct {
	MarketID string
	Bids     []PriceLevelSnapshot
	Asks     []PriceLevelSnapshot
}

// MatchResult is what SubmitOrder returns to the caller: the trades
// generated and what remains of the incoming order.
type MatchResult struct {
	Order        *Order
	Trades       []*Trade
	FilledQty    math.LegacyDec
	RemainingQty math.LegacyDec
	AvgPrice     math.LegacyDec
}
