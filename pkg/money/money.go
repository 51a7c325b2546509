// Package money implements the engine's fixed-point monetary type.
//
// All HBAR-denominated quantities that cross a persistence or interface
// boundary are carried as an integer count of tinybars (1 HBAR = 1e8
// tinybars) rather than as a floating-point or arbitrary-precision decimal.
// This makes conservation invariants exact instead of approximate: summing
// a slice of Tinybar values can never accumulate rounding error the way
// repeated decimal rounding would.
package money

import (
	"fmt"
	"math"
	"strconv"
)

// TinybarsPerHbar is the fixed-point scale: 1 HBAR = 1e8 tinybars.
const TinybarsPerHbar = 100_000_000

// Tinybar is a signed fixed-point HBAR amount. Positive values represent
// credits, negative values represent debits; most ledger quantities
// (balances, margin, fund reserves) are expected to stay non-negative but
// the type itself does not enforce that - callers validate at the boundary
// where a negative balance would violate an invariant.
type Tinybar int64

// Zero is the additive identity.
const Zero Tinybar = 0

// FromHbar converts a floating-point HBAR amount to Tinybar, rounding to
// the nearest tinybar. Only used at interface boundaries (e.g. parsing a
// request body) where the input did not already originate as a Tinybar.
func FromHbar(hbar float64) Tinybar {
	return Tinybar(math.Round(hbar * TinybarsPerHbar))
}

// ToHbar returns the amount as a floating-point HBAR value, for display or
// for feeding into the LMSR engine's float64 transcendental math.
func (t Tinybar) ToHbar() float64 {
	return float64(t) / TinybarsPerHbar
}

func (t Tinybar) Add(o Tinybar) Tinybar { return t + o }
func (t Tinybar) Sub(o Tinybar) Tinybar { return t - o }
func (t Tinybar) Neg() Tinybar          { return -t }

// MulFrac multiplies by a float64 fraction, rounding to nearest tinybar.
// Used for proportional scaling (partial liquidation fractions, ADL
// slices) where the fraction itself is not representable exactly as a
// Tinybar.
func (t Tinybar) MulFrac(frac float64) Tinybar {
	return Tinybar(math.Round(float64(t) * frac))
}

func (t Tinybar) IsZero() bool     { return t == 0 }
func (t Tinybar) IsPositive() bool { return t > 0 }
func (t Tinybar) IsNegative() bool { return t < 0 }

func (t Tinybar) GT(o Tinybar) bool  { return t > o }
func (t Tinybar) GTE(o Tinybar) bool { return t >= o }
func (t Tinybar) LT(o Tinybar) bool  { return t < o }
func (t Tinybar) LTE(o Tinybar) bool { return t <= o }

// Max returns the larger of two amounts.
func Max(a, b Tinybar) Tinybar {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of two amounts.
func Min(a, b Tinybar) Tinybar {
	if a < b {
		return a
	}
	return b
}

// ClampNonNegative returns t if positive, otherwise Zero. Used at the
// "clamped at zero on underflow" points the spec calls out explicitly
// (margin release on an over-realized loss).
func ClampNonNegative(t Tinybar) Tinybar {
	if t < 0 {
		return 0
	}
	return t
}

func (t Tinybar) String() string {
	sign := ""
	v := int64(t)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%08d", sign, v/TinybarsPerHbar, v%TinybarsPerHbar)
}

// Sum adds a slice of amounts; used by conservation-invariant tests.
func Sum(amounts ...Tinybar) Tinybar {
	var total Tinybar
	for _, a := range amounts {
		total += a
	}
	return total
}

// ParseTinybar parses the canonical decimal-string form produced by String.
func ParseTinybar(s string) (Tinybar, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("money: invalid tinybar string %q: %w", s, err)
	}
	return FromHbar(f), nil
}
