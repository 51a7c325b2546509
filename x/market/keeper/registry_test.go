package keeper

import (
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/openalpha/simulacrum/internal/apperr"
	"github.com/openalpha/simulacrum/internal/clock"
	"github.com/openalpha/simulacrum/pkg/money"
	"github.com/openalpha/simulacrum/x/market/types"
	"github.com/stretchr/testify/require"
)

func validInput() types.CreateInput {
	return types.CreateInput{
		Question:       "will it rain tomorrow",
		Creator:        "alice",
		EscrowAccount:  "mkt-escrow",
		Outcomes:       []string{"YES", "NO"},
		Regime:         types.LowLiquidity,
		InitialFunding: money.FromHbar(100),
		LMSRLiquidityB: 50,
	}
}

func TestCreateAssignsDefaultsAndOpenStatus(t *testing.T) {
	r := New(clock.NewFake(time.Now()), log.NewNopLogger())

	m, err := r.Create(validInput())
	require.NoError(t, err)
	require.NotEmpty(t, m.ID)
	require.Equal(t, types.StatusOpen, m.Status)
	require.Equal(t, types.DefaultTakerFeeRate, m.TakerFeeRate)
	require.Equal(t, types.DefaultMakerFeeRate, m.MakerFeeRate)
}

func TestCreateHonorsOverriddenFeeSchedule(t *testing.T) {
	r := New(clock.NewFake(time.Now()), log.NewNopLogger())

	in := validInput()
	in.TakerFeeRate = 0.01
	in.MakerFeeRate = 0.005
	m, err := r.Create(in)
	require.NoError(t, err)
	require.Equal(t, 0.01, m.TakerFeeRate)
	require.Equal(t, 0.005, m.MakerFeeRate)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	r := New(clock.NewFake(time.Now()), log.NewNopLogger())

	cases := []struct {
		name string
		in   types.CreateInput
	}{
		{"missing question", func() types.CreateInput { in := validInput(); in.Question = ""; return in }()},
		{"missing escrow", func() types.CreateInput { in := validInput(); in.EscrowAccount = ""; return in }()},
		{"one outcome", func() types.CreateInput { in := validInput(); in.Outcomes = []string{"YES"}; return in }()},
		{"duplicate outcome", func() types.CreateInput { in := validInput(); in.Outcomes = []string{"YES", "YES"}; return in }()},
		{"empty outcome label", func() types.CreateInput { in := validInput(); in.Outcomes = []string{"YES", ""}; return in }()},
		{"non-positive funding", func() types.CreateInput { in := validInput(); in.InitialFunding = 0; return in }()},
		{"low liquidity without b", func() types.CreateInput { in := validInput(); in.LMSRLiquidityB = 0; return in }()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Create(tc.in)
			require.Error(t, err)
			require.True(t, apperr.Is(err, apperr.Validation))
		})
	}
}

func TestGetReturnsNotFoundForUnknownMarket(t *testing.T) {
	r := New(clock.NewFake(time.Now()), log.NewNopLogger())
	_, err := r.Get("does-not-exist")
	require.True(t, apperr.Is(err, apperr.NotFound))
}

func TestGetReturnsACopyNotTheLiveRecord(t *testing.T) {
	r := New(clock.NewFake(time.Now()), log.NewNopLogger())
	m, err := r.Create(validInput())
	require.NoError(t, err)

	got, err := r.Get(m.ID)
	require.NoError(t, err)
	got.Question = "mutated"

	again, err := r.Get(m.ID)
	require.NoError(t, err)
	require.Equal(t, "will it rain tomorrow", again.Question)
}

func TestListFiltersByStatusRegimeAndCreator(t *testing.T) {
	r := New(clock.NewFake(time.Now()), log.NewNopLogger())

	open, err := r.Create(validInput())
	require.NoError(t, err)

	highLiq := validInput()
	highLiq.Creator = "bob"
	highLiq.Regime = types.HighLiquidity
	highLiq.LMSRLiquidityB = 0
	hl, err := r.Create(highLiq)
	require.NoError(t, err)

	_, err = r.Transition(hl.ID, types.StatusClosed, "")
	require.NoError(t, err)

	lowRegime := types.LowLiquidity
	byRegime := r.List(types.Filter{Regime: &lowRegime})
	require.Len(t, byRegime, 1)
	require.Equal(t, open.ID, byRegime[0].ID)

	byCreator := r.List(types.Filter{Creator: "bob"})
	require.Len(t, byCreator, 1)
	require.Equal(t, hl.ID, byCreator[0].ID)

	openStatus := types.StatusOpen
	byStatus := r.List(types.Filter{Status: &openStatus})
	require.Len(t, byStatus, 1)
	require.Equal(t, open.ID, byStatus[0].ID)
}

func TestListOrdersNewestFirst(t *testing.T) {
	clk := clock.NewFake(time.Now())
	r := New(clk, log.NewNopLogger())

	first, err := r.Create(validInput())
	require.NoError(t, err)
	clk.Advance(time.Minute)
	second, err := r.Create(validInput())
	require.NoError(t, err)

	all := r.List(types.Filter{})
	require.Len(t, all, 2)
	require.Equal(t, second.ID, all[0].ID)
	require.Equal(t, first.ID, all[1].ID)
}

func TestTransitionRejectsIllegalJumps(t *testing.T) {
	r := New(clock.NewFake(time.Now()), log.NewNopLogger())
	m, err := r.Create(validInput())
	require.NoError(t, err)

	_, err = r.Transition(m.ID, types.StatusSettled, "")
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.StateConflict))
}

func TestTransitionToResolvedRequiresAKnownOutcome(t *testing.T) {
	r := New(clock.NewFake(time.Now()), log.NewNopLogger())
	m, err := r.Create(validInput())
	require.NoError(t, err)
	_, err = r.Transition(m.ID, types.StatusClosed, "")
	require.NoError(t, err)

	_, err = r.Transition(m.ID, types.StatusResolved, "MAYBE")
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.Validation))

	resolved, err := r.Transition(m.ID, types.StatusResolved, "YES")
	require.NoError(t, err)
	require.Equal(t, "YES", resolved.ResolvedOutcome)
}

func TestTransitionToDisputedCapturesAttestedOutcomeAndDeadline(t *testing.T) {
	clk := clock.NewFake(time.Now())
	r := New(clk, log.NewNopLogger())
	m, err := r.Create(validInput())
	require.NoError(t, err)
	_, err = r.Transition(m.ID, types.StatusClosed, "")
	require.NoError(t, err)

	_, err = r.Transition(m.ID, types.StatusDisputed, "")
	require.Error(t, err, "a disputed transition without a self-attested outcome must be rejected")

	disputed, err := r.Transition(m.ID, types.StatusDisputed, "NO")
	require.NoError(t, err)
	require.Equal(t, "NO", disputed.AttestedOutcome)
	require.Empty(t, disputed.ResolvedOutcome)
	require.Equal(t, clk.Now().Add(types.ChallengeWindow), disputed.DisputeDeadline)
}

func TestSweepDisputeWindowsResolvesToTheAttestedOutcomeAfterExpiry(t *testing.T) {
	clk := clock.NewFake(time.Now())
	r := New(clk, log.NewNopLogger())
	m, err := r.Create(validInput())
	require.NoError(t, err)
	_, err = r.Transition(m.ID, types.StatusClosed, "")
	require.NoError(t, err)
	_, err = r.Transition(m.ID, types.StatusDisputed, "NO")
	require.NoError(t, err)

	require.Empty(t, r.SweepDisputeWindows(), "must not resolve before the challenge window elapses")
	got, err := r.Get(m.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusDisputed, got.Status)

	clk.Advance(types.ChallengeWindow + time.Second)
	advanced := r.SweepDisputeWindows()
	require.Len(t, advanced, 1)
	require.Equal(t, "NO", advanced[0].ResolvedOutcome)

	got, err = r.Get(m.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusResolved, got.Status)
	require.Equal(t, "NO", got.ResolvedOutcome)
}

func TestRestoreReplacesMarketsWholesale(t *testing.T) {
	r := New(clock.NewFake(time.Now()), log.NewNopLogger())
	m, err := r.Create(validInput())
	require.NoError(t, err)

	restored := &types.Market{
		ID:       "mkt_restored",
		Question: "restored from a snapshot",
		Status:   types.StatusResolved,
		Outcomes: []string{"A", "B"},
	}
	r.Restore([]*types.Market{restored})

	_, err = r.Get(m.ID)
	require.True(t, apperr.Is(err, apperr.NotFound), "restore must replace the old set, not merge into it")

	got, err := r.Get("mkt_restored")
	require.NoError(t, err)
	require.Equal(t, "restored from a snapshot", got.Question)
}
