// Package keeper implements the LMSR engine (component D, spec section
// 4.2). The teacher's perp-dex has no scoring-rule AMM to generalize from
// - it only matches a central limit order book - so this package is
// grounded directly on spec's cost function C(q)=b*ln(Σexp(q_i/b)) and
// the log-sum-exp stabilization spec 4.2 requires explicitly, rather than
// on a teacher file.
package keeper

import (
	"fmt"
	"math"
	"sort"
	"sync"

	cosmosmath "cosmossdk.io/math"
	"github.com/openalpha/simulacrum/internal/apperr"
	"github.com/openalpha/simulacrum/pkg/money"
	"github.com/openalpha/simulacrum/x/lmsr/types"
)

// Keeper owns every LOW_LIQUIDITY market's curve state.
type Keeper struct {
	mu     sync.RWMutex
	curves map[string]*types.CurveState
}

// New constructs an empty Keeper.
func New() *Keeper {
	return &Keeper{curves: make(map[string]*types.CurveState)}
}

// InitCurve creates the curve for a new LOW_LIQUIDITY market.
func (k *Keeper) InitCurve(marketID string, b float64, outcomes []string) error {
	if b <= 0 {
		return apperr.New(apperr.Validation, "LMSR liquidity parameter b must be positive")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.curves[marketID] = types.NewCurveState(marketID, decFromFloat(b), outcomes)
	return nil
}

// decFromFloat converts a float64 to a math.LegacyDec at 8-decimal
// precision (tinybar precision). b and deltaShares are configuration
// values and trade sizes, never accumulators, so this string round-trip
// happening once per call is not a performance concern.
func decFromFloat(f float64) cosmosmath.LegacyDec {
	return cosmosmath.LegacyMustNewDecFromStr(fmt.Sprintf("%.8f", f))
}

// CurveSnapshot returns a read-only copy of a market's curve, or nil.
func (k *Keeper) CurveSnapshot(marketID string) *types.CurveState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	cs, ok := k.curves[marketID]
	if !ok {
		return nil
	}
	return cs.Clone()
}

// All returns a snapshot of every market's curve, for internal/snapshot
// to persist.
func (k *Keeper) All() map[string]*types.CurveState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]*types.CurveState, len(k.curves))
	for marketID, cs := range k.curves {
		out[marketID] = cs.Clone()
	}
	return out
}

// Restore replaces every curve wholesale, used by internal/snapshot's
// restore path.
func (k *Keeper) Restore(curves map[string]*types.CurveState) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.curves = make(map[string]*types.CurveState, len(curves))
	for marketID, cs := range curves {
		k.curves[marketID] = cs.Clone()
	}
}

// Prices returns the current price of every outcome; they sum to 1 within
// 1e-9 by construction (spec's testable LMSR-price-sum property).
func (k *Keeper) Prices(marketID string) (map[string]float64, error) {
	k.mu.RLock()
	cs, ok := k.curves[marketID]
	k.mu.RUnlock()
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "no LMSR curve for market %s", marketID)
	}
	return pricesOf(cs), nil
}

// Quote evaluates the cost of buying deltaShares of outcome, without
// mutating curve state. deltaShares may be negative to quote a sale.
func (k *Keeper) Quote(marketID, outcome string, deltaShares float64) (money.Tinybar, error) {
	k.mu.RLock()
	cs, ok := k.curves[marketID]
	k.mu.RUnlock()
	if !ok {
		return 0, apperr.Newf(apperr.NotFound, "no LMSR curve for market %s", marketID)
	}
	if _, ok := cs.Shares[outcome]; !ok {
		return 0, apperr.Newf(apperr.Validation, "unknown outcome %q", outcome)
	}
	if deltaShares == 0 {
		return 0, nil // spec boundary test: a no-op buy of Δ=0 returns cost=0
	}
	cost := quoteCost(cs, outcome, deltaShares)
	return money.FromHbar(cost), nil
}

// BuyShares executes a trade of deltaShares of outcome, guarded by a
// funds ceiling and a price-impact ceiling.
//
// spec 4.2 names buyShares(market, outcome, maxCostHbar, maxPricePercent)
// but its own failure modes ("PRICE_EXCEEDED if post-trade price exceeds
// maxPricePercent", "INSUFFICIENT_FUNDS if costHbar exceeds bettor
// balance") and the worked scenario ("buy 50 shares of outcome A") only
// make sense against a concrete trade size. We resolve this the same way
// every other order-submission operation in the spec pairs a quantity
// with a guard (submitOrder's qty+price, openPosition's size+leverage):
// deltaShares is an explicit parameter, and maxCostHbar/maxPricePercent
// are the guards the trade must satisfy — see DESIGN.md.
func (k *Keeper) BuyShares(marketID, outcome string, deltaShares float64, maxCostHbar money.Tinybar, maxPricePercent float64) (sharesAcquired float64, costHbar money.Tinybar, effectivePrice float64, err error) {
	if deltaShares == 0 {
		price, perr := k.priceOf(marketID, outcome)
		if perr != nil {
			return 0, 0, 0, perr
		}
		return 0, 0, price, nil
	}
	if deltaShares < 0 {
		return 0, 0, 0, apperr.New(apperr.Validation, "deltaShares must be positive")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	cs, ok := k.curves[marketID]
	if !ok {
		return 0, 0, 0, apperr.Newf(apperr.NotFound, "no LMSR curve for market %s", marketID)
	}
	if _, ok := cs.Shares[outcome]; !ok {
		return 0, 0, 0, apperr.Newf(apperr.Validation, "unknown outcome %q", outcome)
	}

	cost := quoteCost(cs, outcome, deltaShares)
	costTinybar := money.FromHbar(cost)

	trial := cs.Clone()
	trial.Shares[outcome] = trial.Shares[outcome].Add(decFromFloat(deltaShares))
	newPrice := pricesOf(trial)[outcome]

	if maxPricePercent > 0 && newPrice*100 > maxPricePercent {
		return 0, 0, 0, apperr.Newf(apperr.PriceExceeded, "post-trade price %.6f exceeds cap %.2f%%", newPrice, maxPricePercent)
	}
	if costTinybar > maxCostHbar {
		return 0, 0, 0, apperr.Newf(apperr.InsufficientFunds, "cost %s exceeds available balance %s", costTinybar, maxCostHbar)
	}

	cs.Shares[outcome] = trial.Shares[outcome]

	effective := cost / deltaShares
	return deltaShares, costTinybar, effective, nil
}

func (k *Keeper) priceOf(marketID, outcome string) (float64, error) {
	k.mu.RLock()
	cs, ok := k.curves[marketID]
	k.mu.RUnlock()
	if !ok {
		return 0, apperr.Newf(apperr.NotFound, "no LMSR curve for market %s", marketID)
	}
	p, ok := pricesOf(cs)[outcome]
	if !ok {
		return 0, apperr.Newf(apperr.Validation, "unknown outcome %q", outcome)
	}
	return p, nil
}

// quoteCost computes C(q') - C(q) for a hypothetical purchase of
// deltaShares of outcome, leaving cs untouched.
func quoteCost(cs *types.CurveState, outcome string, deltaShares float64) float64 {
	before := costOf(cs)
	trial := cs.Clone()
	trial.Shares[outcome] = trial.Shares[outcome].Add(decFromFloat(deltaShares))
	after := costOf(trial)
	return after - before
}

// costOf evaluates C(q) = b*ln(Σexp(q_i/b)) in stabilized log-sum-exp
// form (spec 4.2: "must compute in log-sum-exp form to avoid overflow for
// large q/b").
func costOf(cs *types.CurveState) float64 {
	b := toFloat(cs.B)
	ratios := ratiosOf(cs, b)

	m := ratios[0]
	for _, r := range ratios[1:] {
		if r > m {
			m = r
		}
	}
	sum := 0.0
	for _, r := range ratios {
		sum += math.Exp(r - m)
	}
	return b * (m + math.Log(sum))
}

// pricesOf returns price(o) = exp(q_o/b - m) / Σexp(q_k/b - m) for every
// outcome, using the same max-subtraction stabilization as costOf so the
// two never disagree about which term dominates.
func pricesOf(cs *types.CurveState) map[string]float64 {
	b := toFloat(cs.B)
	outcomes := sortedKeys(cs.Shares)
	ratios := ratiosOfOrdered(cs, b, outcomes)

	m := ratios[0]
	for _, r := range ratios[1:] {
		if r > m {
			m = r
		}
	}
	exps := make([]float64, len(ratios))
	sum := 0.0
	for i, r := range ratios {
		exps[i] = math.Exp(r - m)
		sum += exps[i]
	}

	out := make(map[string]float64, len(outcomes))
	for i, o := range outcomes {
		out[o] = exps[i] / sum
	}
	return out
}

func ratiosOf(cs *types.CurveState, b float64) []float64 {
	outcomes := sortedKeys(cs.Shares)
	return ratiosOfOrdered(cs, b, outcomes)
}

func ratiosOfOrdered(cs *types.CurveState, b float64, outcomes []string) []float64 {
	ratios := make([]float64, len(outcomes))
	for i, o := range outcomes {
		ratios[i] = toFloat(cs.Shares[o]) / b
	}
	return ratios
}

func sortedKeys(m map[string]cosmosmath.LegacyDec) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toFloat(d cosmosmath.LegacyDec) float64 {
	f, _ := d.Float64()
	return f
}
