package keeper

import (
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/openalpha/simulacrum/internal/clock"
	"github.com/openalpha/simulacrum/internal/eventbus"
	marginkeeper "github.com/openalpha/simulacrum/x/margin/keeper"
	markpricekeeper "github.com/openalpha/simulacrum/x/markprice/keeper"
	"github.com/openalpha/simulacrum/pkg/money"
	"github.com/openalpha/simulacrum/x/perpetual/types"
	"github.com/stretchr/testify/require"
)

func newTestKeeper() (*Keeper, *marginkeeper.Keeper, *markpricekeeper.Keeper) {
	logger := log.NewNopLogger()
	clk := clock.NewFake(time.Now())
	bus := eventbus.New(logger)
	margin := marginkeeper.New(logger)
	mp := markpricekeeper.New(bus, clk, logger)
	return New(margin, mp, bus, clk, logger), margin, mp
}

func TestOpenPositionLocksProportionalMargin(t *testing.T) {
	k, margin, _ := newTestKeeper()
	_, _ = margin.Deposit("alice", money.FromHbar(1000))

	pos, err := k.OpenPosition("alice", "mkt_1", types.SideLong, 10, 100, 10)
	require.NoError(t, err)
	require.Equal(t, money.FromHbar(100), pos.Margin) // notional 1000 / 10x leverage

	acct := margin.Balance("alice")
	require.Equal(t, money.FromHbar(100), acct.LockedMargin)
}

func TestOpenPositionFailsWithoutEnoughMargin(t *testing.T) {
	k, margin, _ := newTestKeeper()
	_, _ = margin.Deposit("alice", money.FromHbar(10))

	_, err := k.OpenPosition("alice", "mkt_1", types.SideLong, 10, 100, 10)
	require.Error(t, err)
}

func TestClosePositionRealizesPnLAndReleasesMargin(t *testing.T) {
	k, margin, _ := newTestKeeper()
	_, _ = margin.Deposit("alice", money.FromHbar(1000))
	_, err := k.OpenPosition("alice", "mkt_1", types.SideLong, 10, 100, 10)
	require.NoError(t, err)

	realized, err := k.ClosePosition("alice", "mkt_1", 110)
	require.NoError(t, err)
	require.Equal(t, money.FromHbar(100), realized) // (110-100)*10

	acct := margin.Balance("alice")
	require.Equal(t, money.Zero, acct.LockedMargin)
	require.Equal(t, money.FromHbar(1100), acct.Balance)
}

func TestApplyLiquidationSliceReducesPositionProportionally(t *testing.T) {
	k, margin, _ := newTestKeeper()
	_, _ = margin.Deposit("alice", money.FromHbar(1000))
	_, err := k.OpenPosition("alice", "mkt_1", types.SideLong, 10, 100, 10)
	require.NoError(t, err)

	_, err = k.ApplyLiquidationSlice("alice", "mkt_1", 0.2, 90)
	require.NoError(t, err)

	pos, err := k.Get("alice", "mkt_1")
	require.NoError(t, err)
	require.InDelta(t, 8.0, pos.Size, 1e-9)
	require.Equal(t, money.FromHbar(80), pos.Margin)

	_ = margin.Balance("alice")
}

func TestFundingRateIsClampedAndDamped(t *testing.T) {
	k, _, _ := newTestKeeper()
	rate := k.FundingRate(110, 100)
	require.InDelta(t, 0.005, rate, 1e-9) // (0.05*10/100)=0.005, at the cap
}

func TestSettleFundingTransfersBetweenLongsAndShorts(t *testing.T) {
	k, margin, _ := newTestKeeper()
	_, _ = margin.Deposit("alice", money.FromHbar(1000))
	_, _ = margin.Deposit("bob", money.FromHbar(1000))
	_, err := k.OpenPosition("alice", "mkt_1", types.SideLong, 10, 100, 10)
	require.NoError(t, err)
	_, err = k.OpenPosition("bob", "mkt_1", types.SideShort, 10, 100, 10)
	require.NoError(t, err)

	record := k.SettleFunding("mkt_1", 110, 100)
	require.Greater(t, record.Rate, 0.0)

	aliceBalance := margin.Balance("alice").Balance
	bobBalance := margin.Balance("bob").Balance
	require.Less(t, aliceBalance, money.FromHbar(1000)) // long pays
	require.Greater(t, bobBalance, money.FromHbar(1000)) // short receives
}
