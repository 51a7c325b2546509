package keeper

import (
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/openalpha/simulacrum/internal/clock"
	"github.com/openalpha/simulacrum/internal/eventbus"
	"github.com/openalpha/simulacrum/pkg/money"
	insurancekeeper "github.com/openalpha/simulacrum/x/insurance/keeper"
	"github.com/openalpha/simulacrum/x/liquidation/types"
	marginkeeper "github.com/openalpha/simulacrum/x/margin/keeper"
	markpricekeeper "github.com/openalpha/simulacrum/x/markprice/keeper"
	perpetualkeeper "github.com/openalpha/simulacrum/x/perpetual/keeper"
	perpetualtypes "github.com/openalpha/simulacrum/x/perpetual/types"
	"github.com/stretchr/testify/require"
)

type harness struct {
	liq       *Keeper
	perpetual *perpetualkeeper.Keeper
	margin    *marginkeeper.Keeper
	markPrice *markpricekeeper.Keeper
	insurance *insurancekeeper.Keeper
	clk       *clock.Fake
}

func newHarness() *harness {
	logger := log.NewNopLogger()
	clk := clock.NewFake(time.Now())
	bus := eventbus.New(logger)
	margin := marginkeeper.New(logger)
	mp := markpricekeeper.New(bus, clk, logger)
	perpetual := perpetualkeeper.New(margin, mp, bus, clk, logger)
	insurance := insurancekeeper.New(logger)
	liq := New(perpetual, margin, mp, insurance, bus, clk, logger)
	return &harness{liq: liq, perpetual: perpetual, margin: margin, markPrice: mp, insurance: insurance, clk: clk}
}

func (h *harness) setMark(marketID string, price float64) {
	h.markPrice.Refresh(marketID, markpricekeeper.Inputs{Initial: price})
}

func TestIsolatedUnderwaterTriggersLiquidation(t *testing.T) {
	h := newHarness()
	_, _ = h.margin.Deposit("alice", money.FromHbar(10))
	_, err := h.perpetual.OpenPosition("alice", "mkt_1", perpetualtypes.SideLong, 50, 0.50, 20)
	require.NoError(t, err)

	h.setMark("mkt_1", 0.42)

	underwater, err := h.liq.IsUnderwater("alice", "mkt_1")
	require.NoError(t, err)
	require.True(t, underwater)
}

func TestFullLiquidationTier1Only(t *testing.T) {
	h := newHarness()
	_, _ = h.margin.Deposit("alice", money.FromHbar(10))
	_, err := h.perpetual.OpenPosition("alice", "mkt_1", perpetualtypes.SideLong, 50, 0.50, 20)
	require.NoError(t, err)
	h.setMark("mkt_1", 0.42)

	events, err := h.liq.Liquidate("alice", "mkt_1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, types.Tier1MarketClose, events[0].Tier)

	_, err = h.perpetual.Get("alice", "mkt_1")
	require.Error(t, err) // notional at mark (50*0.42=21 <= 100) so fraction=1.0, fully closed
}

func TestPartialLiquidationAboveThreshold(t *testing.T) {
	h := newHarness()
	_, _ = h.margin.Deposit("alice", money.FromHbar(1000))
	// notional at mark = 500 * 0.5 = 250 > 100 HBAR -> partial fraction 0.2
	_, err := h.perpetual.OpenPosition("alice", "mkt_1", perpetualtypes.SideLong, 500, 1.0, 2)
	require.NoError(t, err)
	h.setMark("mkt_1", 0.5)

	events, err := h.liq.Liquidate("alice", "mkt_1")
	require.NoError(t, err)
	require.NotEmpty(t, events)

	pos, err := h.perpetual.Get("alice", "mkt_1")
	require.NoError(t, err)
	require.InDelta(t, 400, pos.Size, 1e-6) // 500 * (1-0.2)
}

func TestTier3ADLOrdering(t *testing.T) {
	h := newHarness()
	_, _ = h.margin.Deposit("alice", money.FromHbar(5))
	_, err := h.perpetual.OpenPosition("alice", "mkt_1", perpetualtypes.SideLong, 50, 1.0, 20)
	require.NoError(t, err)

	// Three opposing SHORT positions, profitable once price falls.
	_, _ = h.margin.Deposit("a", money.FromHbar(1000))
	_, _ = h.margin.Deposit("c", money.FromHbar(1000))
	_, _ = h.margin.Deposit("b", money.FromHbar(1000))
	_, err = h.perpetual.OpenPosition("a", "mkt_1", perpetualtypes.SideShort, 10, 1.0, 10)
	require.NoError(t, err)
	h.clk.Advance(time.Minute)
	_, err = h.perpetual.OpenPosition("c", "mkt_1", perpetualtypes.SideShort, 10, 1.2, 5)
	require.NoError(t, err)
	h.clk.Advance(time.Minute)
	_, err = h.perpetual.OpenPosition("b", "mkt_1", perpetualtypes.SideShort, 10, 1.25, 4)
	require.NoError(t, err)

	h.setMark("mkt_1", 0.7)

	ranked := h.liq.rankADLCandidates("mkt_1", perpetualtypes.SideShort, 0.7)
	require.True(t, len(ranked) >= 1)
	require.Equal(t, "a", ranked[0].Trader)
}

func TestSocializedLossShortfallPublishedWhenADLExhausted(t *testing.T) {
	h := newHarness()
	_, _ = h.margin.Deposit("alice", money.FromHbar(5))
	_, err := h.perpetual.OpenPosition("alice", "mkt_1", perpetualtypes.SideLong, 50, 1.0, 20)
	require.NoError(t, err)
	h.setMark("mkt_1", 0.5)

	var gotShortfall bool
	h.liq.bus.Subscribe("socialized_loss_shortfall", func(eventbus.Event) {
		gotShortfall = true
	})

	_, err = h.liq.Liquidate("alice", "mkt_1")
	require.NoError(t, err)
	require.True(t, gotShortfall)
}
