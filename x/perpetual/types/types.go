// Package types defines the perpetual futures position book (component
// H) and funding settlement records (component I), grounded on the
// teacher's x/perpetual/types.Position and funding.go record shapes,
// re-expressed in money.Tinybar for margin/PnL and float64 for
// size/price/leverage (this engine's prices are plain floats, following
// x/markprice, not math.LegacyDec index prices).
package types

import (
	"time"

	"github.com/openalpha/simulacrum/pkg/money"
)

// Side is a position's direction.
type Side int

const (
	SideUnspecified Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	if s == SideShort {
		return "SHORT"
	}
	return "LONG"
}

// Opposite returns the side that closes a position of this side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Position is one trader's open exposure in one market.
type Position struct {
	Trader           string
	MarketID         string
	Side             Side
	Size             float64 // base-asset units
	EntryPrice       float64
	Leverage         float64
	Margin           money.Tinybar
	CumulativeFundingIndexAtOpen float64
	OpenedAt         time.Time
	UpdatedAt        time.Time
}

// UnrealizedPnL is (markPrice - entryPrice) * size, sign-flipped for shorts.
func (p *Position) UnrealizedPnL(markPrice float64) money.Tinybar {
	diff := markPrice - p.EntryPrice
	if p.Side == SideShort {
		diff = -diff
	}
	return money.FromHbar(diff * p.Size)
}

// Notional is the position's current dollar (HBAR) exposure.
func (p *Position) Notional(markPrice float64) money.Tinybar {
	return money.FromHbar(p.Size * markPrice)
}

// MaintenanceMarginRatio is the fraction of notional a position must
// hold as margin to stay healthy. Pinned per spec's design note:
// ratio(leverage) = max(0.005, 0.005*leverage).
func MaintenanceMarginRatio(leverage float64) float64 {
	r := 0.005 * leverage
	if r < 0.005 {
		return 0.005
	}
	return r
}

// MaintenanceMargin is the HBAR maintenance margin requirement at markPrice.
func (p *Position) MaintenanceMargin(markPrice float64) money.Tinybar {
	ratio := MaintenanceMarginRatio(p.Leverage)
	return money.FromHbar(p.Size * markPrice * ratio)
}

// Reduce shrinks the position by size, without touching margin - callers
// (close/liquidation) are responsible for releasing the margin that was
// proportional to the reduced size.
func (p *Position) Reduce(size float64) {
	p.Size -= size
}

// FundingRecord is a single market's funding settlement outcome (spec
// 4.4's funding history, supplementing the spec's named operations).
type FundingRecord struct {
	MarketID    string
	Rate        float64
	MarkPrice   float64
	IndexPrice  float64
	SettledAt   time.Time
	TotalPaid   money.Tinybar // sum of payments collected from payers
	TotalOwed   money.Tinybar // sum of payments credited to receivers
}
