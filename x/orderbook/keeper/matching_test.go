package keeper

import (
	"testing"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"github.com/openalpha/simulacrum/internal/clock"
	"github.com/openalpha/simulacrum/internal/eventbus"
	"github.com/openalpha/simulacrum/internal/ledger"
	"github.com/openalpha/simulacrum/x/orderbook/types"
	"github.com/stretchr/testify/require"
)

func newTestKeeper() *Keeper {
	k := New(clock.NewFake(time.Now()), log.NewNopLogger())
	k.InitBook("mkt_1", STPNone, FeeConfig{})
	return k
}

func dec(s string) math.LegacyDec {
	return math.LegacyMustNewDecFromStr(s)
}

func TestLimitOrdersRestWhenUncrossed(t *testing.T) {
	k := newTestKeeper()

	res, err := k.SubmitOrder("mkt_1", "alice", types.SideBuy, types.OrderTypeLimit, dec("10.00"), dec("5"))
	require.NoError(t, err)
	require.Empty(t, res.Trades)

	snap, err := k.Snapshot("mkt_1", 10)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	require.True(t, snap.Bids[0].Qty.Equal(dec("5")))
}

func TestPriceTimePriorityFillsOldestFirst(t *testing.T) {
	k := newTestKeeper()

	_, err := k.SubmitOrder("mkt_1", "alice", types.SideSell, types.OrderTypeLimit, dec("10.00"), dec("5"))
	require.NoError(t, err)
	_, err = k.SubmitOrder("mkt_1", "bob", types.SideSell, types.OrderTypeLimit, dec("10.00"), dec("5"))
	require.NoError(t, err)

	res, err := k.SubmitOrder("mkt_1", "carol", types.SideBuy, types.OrderTypeLimit, dec("10.00"), dec("5"))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	require.Equal(t, "alice", res.Trades[0].MakerTrader)
}

func TestMarketOrderFillsAtRestingMakerPrice(t *testing.T) {
	k := newTestKeeper()

	_, err := k.SubmitOrder("mkt_1", "alice", types.SideSell, types.OrderTypeLimit, dec("10.00"), dec("5"))
	require.NoError(t, err)

	res, err := k.SubmitOrder("mkt_1", "bob", types.SideBuy, types.OrderTypeMarket, dec("0"), dec("5"))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	require.True(t, res.Trades[0].Price.Equal(dec("10.00")))
}

func TestUnfilledMarketOrderIsCancelledNotRested(t *testing.T) {
	k := newTestKeeper()

	res, err := k.SubmitOrder("mkt_1", "bob", types.SideBuy, types.OrderTypeMarket, dec("0"), dec("5"))
	require.NoError(t, err)
	require.Equal(t, types.StatusCancelled, res.Order.Status)

	snap, err := k.Snapshot("mkt_1", 10)
	require.NoError(t, err)
	require.Empty(t, snap.Bids)
}

func TestFillsEnqueueEscrowAndFeeTransfers(t *testing.T) {
	logger := log.NewNopLogger()
	port := ledger.NewInMemoryPort()
	bus := eventbus.New(logger)
	outbox := ledger.NewOutbox(port, logger, 3, bus.Publish)

	k := New(clock.NewFake(time.Now()), logger)
	k.SetEffects(outbox)
	k.InitBook("mkt_1", STPNone, FeeConfig{EscrowAccount: "mkt_1-escrow", TakerFeeRate: 0.01, MakerFeeRate: 0.005})

	_, err := k.SubmitOrder("mkt_1", "alice", types.SideSell, types.OrderTypeLimit, dec("10.00"), dec("5"))
	require.NoError(t, err)
	_, err = k.SubmitOrder("mkt_1", "bob", types.SideBuy, types.OrderTypeLimit, dec("10.00"), dec("5"))
	require.NoError(t, err)

	pending := outbox.Pending()
	require.Len(t, pending, 3) // notional transfer + taker fee + maker fee

	var sawNotional, sawTakerFee, sawMakerFee bool
	for _, eff := range pending {
		require.Equal(t, ledger.EffectTransfer, eff.Kind)
		switch {
		case eff.From == "bob" && eff.To == "alice":
			sawNotional = true
		case eff.From == "bob" && eff.To == "mkt_1-escrow":
			sawTakerFee = true
		case eff.From == "alice" && eff.To == "mkt_1-escrow":
			sawMakerFee = true
		}
	}
	require.True(t, sawNotional, "expected a buyer-to-seller notional transfer")
	require.True(t, sawTakerFee, "expected a taker fee transfer to escrow")
	require.True(t, sawMakerFee, "expected a maker fee transfer to escrow")
}

func TestCancelOrderRemovesFromBook(t *testing.T) {
	k := newTestKeeper()

	res, err := k.SubmitOrder("mkt_1", "alice", types.SideBuy, types.OrderTypeLimit, dec("10.00"), dec("5"))
	require.NoError(t, err)

	_, err = k.CancelOrder("mkt_1", res.Order.ID)
	require.NoError(t, err)

	_, err = k.CancelOrder("mkt_1", res.Order.ID)
	require.Error(t, err)
}
