// Package types defines the liquidation cascade's append-only event log
// (component J), grounded on the teacher's x/clearinghouse/types.Liquidation
// and LiquidationStatus, re-shaped around the spec's three numbered tiers
// instead of the teacher's single executed/failed/pending status.
package types

import (
	"time"

	"github.com/openalpha/simulacrum/pkg/money"
)

// Tier identifies which stage of the cascade produced an event.
type Tier int

const (
	Tier1MarketClose Tier = iota + 1
	Tier2InsuranceBackstop
	Tier3AutoDeleverage
)

func (t Tier) String() string {
	switch t {
	case Tier1MarketClose:
		return "MARKET_CLOSE"
	case Tier2InsuranceBackstop:
		return "INSURANCE_BACKSTOP"
	case Tier3AutoDeleverage:
		return "AUTO_DELEVERAGE"
	default:
		return "UNKNOWN"
	}
}

// Event is one append-only record of a liquidation cascade's outcome for
// one position (spec 4.8's "Record event(tier=1, loss)", later upgraded to
// tier=2 in place when the insurance fund is touched). ADL tier-3 slices
// against opposing positions append their own events rather than mutating
// the triggering position's event.
type Event struct {
	ID                 string
	PositionTrader     string
	MarketID           string
	Tier               Tier
	SizeClosed         float64
	LossHbar           money.Tinybar
	InsuranceFundDelta money.Tinybar
	Timestamp          time.Time
}

// ADLCandidate is one opposing position ranked for auto-deleveraging,
// grounded on the teacher's ADLPosition (clearinghouse/types/adl.go),
// re-scored directly by unrealizedPnl*leverage per spec 4.8 instead of the
// teacher's separate PnLPercent/ADLRanking fields.
type ADLCandidate struct {
	Trader        string
	MarketID      string
	UnrealizedPnL money.Tinybar
	Leverage      float64
	OpenedAt      time.Time
}

// Score is the descending sort key: unrealizedPnl * leverage.
func (c ADLCandidate) Score() float64 {
	return c.UnrealizedPnL.ToHbar() * c.Leverage
}
