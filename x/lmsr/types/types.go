// Package types defines the LMSR engine's curve state (component D).
package types

import "cosmossdk.io/math"

// CurveState is the LOW_LIQUIDITY market's scoring-rule curve: a
// liquidity parameter b and the outstanding shares held per outcome
// (spec section 3). Quantities are carried as math.LegacyDec - the
// teacher's own money/quantity type - since they are share counts, not
// HBAR; only the cost function's evaluation touches float64, and only
// internally (see keeper.Quote).
type CurveState struct {
	MarketID string
	B        math.LegacyDec
	Shares   map[string]math.LegacyDec // outcome -> q_i
}

// NewCurveState returns a curve initialized at q_i=0 for every outcome,
// which prices every outcome uniformly at 1/len(outcomes).
func NewCurveState(marketID string, b math.LegacyDec, outcomes []string) *CurveState {
	shares := make(map[string]math.LegacyDec, len(outcomes))
	for _, o := range outcomes {
		shares[o] = math.LegacyZeroDec()
	}
	return &CurveState{MarketID: marketID, B: b, Shares: shares}
}

// Clone returns a deep copy, used so Quote can evaluate hypothetical
// trades without mutating the live curve.
func (c *CurveState) Clone() *CurveState {
	shares := make(map[string]math.LegacyDec, len(c.Shares))
	for k, v := range c.Shares {
		shares[k] = v
	}
	return &CurveState{MarketID: c.MarketID, B: c.B, Shares: shares}
}
