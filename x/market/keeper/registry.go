// Package keeper implements the market registry (component C), grounded
// on the teacher's x/perpetual market bookkeeping (MarketID-keyed state,
// Status-gated transitions) generalized to the OPEN/CLOSED/RESOLVED/
// DISPUTED/SETTLED state machine spec section 4.1 names instead of the
// teacher's simpler IsActive boolean.
package keeper

import (
	"sync"

	"cosmossdk.io/log"
	"github.com/openalpha/simulacrum/internal/apperr"
	"github.com/openalpha/simulacrum/internal/clock"
	"github.com/openalpha/simulacrum/internal/idgen"
	"github.com/openalpha/simulacrum/x/market/types"
)

// Registry owns all Market records. Creation and transitions are
// serialized per spec section 5's single-writer model; reads return a
// copy taken under a read lock.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*types.Market
	clock   clock.Clock
	logger  log.Logger
}

// New constructs an empty Registry.
func New(clk clock.Clock, logger log.Logger) *Registry {
	return &Registry{
		markets: make(map[string]*types.Market),
		clock:   clk,
		logger:  logger.With("module", "x/market"),
	}
}

// Create validates and inserts a new OPEN market. Callers that need the
// HIGH_LIQUIDITY seed-order precondition (spec 4.1: "at least one bid-side
// and one ask-side seed order across outcomes") must check it before
// calling Create — the registry has no visibility into the order book, so
// enforcing it here would create a layering cycle; the composition root
// enforces it (see internal/engine).
func (r *Registry) Create(in types.CreateInput) (*types.Market, error) {
	if in.Question == "" || in.Creator == "" || in.EscrowAccount == "" {
		return nil, apperr.New(apperr.Validation, "question, creator and escrow account are required")
	}
	if len(in.Outcomes) < 2 {
		return nil, apperr.New(apperr.Validation, "a market needs at least two outcomes")
	}
	seen := make(map[string]bool, len(in.Outcomes))
	for _, o := range in.Outcomes {
		if o == "" || seen[o] {
			return nil, apperr.New(apperr.Validation, "outcomes must be non-empty and unique")
		}
		seen[o] = true
	}
	if !in.InitialFunding.IsPositive() {
		return nil, apperr.New(apperr.Validation, "initial funding must be positive")
	}
	if in.Regime == types.LowLiquidity && in.LMSRLiquidityB <= 0 {
		return nil, apperr.New(apperr.Validation, "LOW_LIQUIDITY markets require a positive LMSR liquidity parameter b")
	}

	takerFee := in.TakerFeeRate
	if takerFee <= 0 {
		takerFee = types.DefaultTakerFeeRate
	}
	makerFee := in.MakerFeeRate
	if makerFee <= 0 {
		makerFee = types.DefaultMakerFeeRate
	}

	now := r.clock.Now()
	m := &types.Market{
		ID:             idgen.New("mkt"),
		Question:       in.Question,
		Creator:        in.Creator,
		EscrowAccount:  in.EscrowAccount,
		CloseTime:      in.CloseTime,
		Status:         types.StatusOpen,
		Outcomes:       append([]string(nil), in.Outcomes...),
		Regime:         in.Regime,
		InitialFunding: in.InitialFunding,
		CreatedAt:      now,
		UpdatedAt:      now,
		TakerFeeRate:   takerFee,
		MakerFeeRate:   makerFee,
	}

	r.mu.Lock()
	r.markets[m.ID] = m
	r.mu.Unlock()

	r.logger.Info("market created", "market_id", m.ID, "regime", m.Regime.String())
	return m, nil
}

// Restore replaces every market wholesale from a previously snapshotted
// set, used by internal/snapshot's restore path - unlike Create, it
// bypasses validation and ID generation since the records already exist.
func (r *Registry) Restore(markets []*types.Market) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets = make(map[string]*types.Market, len(markets))
	for _, m := range markets {
		cp := *m
		r.markets[m.ID] = &cp
	}
}

// Get returns the market, or NOT_FOUND.
func (r *Registry) Get(id string) (*types.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "market %s not found", id)
	}
	cp := *m
	return &cp, nil
}

// List returns markets matching filter, newest first.
func (r *Registry) List(filter types.Filter) []*types.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Market, 0, len(r.markets))
	for _, m := range r.markets {
		if filter.Status != nil && m.Status != *filter.Status {
			continue
		}
		if filter.Regime != nil && m.Regime != *filter.Regime {
			continue
		}
		if filter.Creator != "" && m.Creator != filter.Creator {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sortByCreatedAtDesc(out)
	return out
}

func sortByCreatedAtDesc(markets []*types.Market) {
	for i := 1; i < len(markets); i++ {
		for j := i; j > 0 && markets[j].CreatedAt.After(markets[j-1].CreatedAt); j-- {
			markets[j], markets[j-1] = markets[j-1], markets[j]
		}
	}
}

// legalTransitions is the forward-only state machine from spec 4.1:
// OPEN -> CLOSED -> (RESOLVED | DISPUTED) -> SETTLED. DISPUTED may also
// advance to RESOLVED once the challenge window expires (handled by
// SweepDisputeWindows, not by an external caller of Transition).
var legalTransitions = map[types.Status][]types.Status{
	types.StatusOpen:     {types.StatusClosed},
	types.StatusClosed:   {types.StatusResolved, types.StatusDisputed},
	types.StatusDisputed: {types.StatusResolved},
	types.StatusResolved: {types.StatusSettled},
}

// Transition moves a market forward in its lifecycle. RESOLVED requires
// resolvedOutcome to be one of the market's outcomes. DISPUTED requires
// resolvedOutcome to carry the caller's self-attested outcome, captured
// as AttestedOutcome so SweepDisputeWindows can later auto-resolve to it
// instead of guessing (spec 4.1).
func (r *Registry) Transition(id string, newStatus types.Status, resolvedOutcome string) (*types.Market, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.markets[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "market %s not found", id)
	}

	allowed := legalTransitions[m.Status]
	ok = false
	for _, s := range allowed {
		if s == newStatus {
			ok = true
			break
		}
	}
	if !ok {
		return nil, apperr.Newf(apperr.StateConflict, "cannot transition market %s from %s to %s", id, m.Status, newStatus)
	}

	if newStatus == types.StatusResolved {
		if resolvedOutcome == "" || !m.HasOutcome(resolvedOutcome) {
			return nil, apperr.New(apperr.Validation, "resolvedOutcome must be one of the market's outcomes")
		}
		m.ResolvedOutcome = resolvedOutcome
	}
	if newStatus == types.StatusDisputed {
		if resolvedOutcome == "" || !m.HasOutcome(resolvedOutcome) {
			return nil, apperr.New(apperr.Validation, "a disputed transition must carry a self-attested outcome that is one of the market's outcomes")
		}
		m.AttestedOutcome = resolvedOutcome
		m.DisputeDeadline = r.clock.Now().Add(types.ChallengeWindow)
	}

	m.Status = newStatus
	m.UpdatedAt = r.clock.Now()

	r.logger.Info("market transitioned", "market_id", id, "status", newStatus.String())
	cp := *m
	return &cp, nil
}

// SweepDisputeWindows auto-advances any DISPUTED market whose challenge
// window has expired to RESOLVED using its self-attested outcome (spec
// 4.1). Driven by the same background ticker as funding/liquidation
// (spec's "fixed order, single scheduling primitive" design choice).
func (r *Registry) SweepDisputeWindows() []*types.Market {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var advanced []*types.Market
	for _, m := range r.markets {
		if m.Status == types.StatusDisputed && !now.Before(m.DisputeDeadline) {
			m.Status = types.StatusResolved
			m.UpdatedAt = now
			m.ResolvedOutcome = m.AttestedOutcome
			cp := *m
			advanced = append(advanced, &cp)
			r.logger.Info("dispute window expired, auto-resolved", "market_id", m.ID, "outcome", m.ResolvedOutcome)
		}
	}
	return advanced
}
