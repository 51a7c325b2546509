package snapshot

import (
	"testing"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"github.com/openalpha/simulacrum/internal/clock"
	"github.com/openalpha/simulacrum/internal/eventbus"
	"github.com/openalpha/simulacrum/internal/ledger"
	"github.com/openalpha/simulacrum/pkg/money"
	insurancekeeper "github.com/openalpha/simulacrum/x/insurance/keeper"
	liquidationkeeper "github.com/openalpha/simulacrum/x/liquidation/keeper"
	lmsrkeeper "github.com/openalpha/simulacrum/x/lmsr/keeper"
	marginkeeper "github.com/openalpha/simulacrum/x/margin/keeper"
	marketkeeper "github.com/openalpha/simulacrum/x/market/keeper"
	markettypes "github.com/openalpha/simulacrum/x/market/types"
	markpricekeeper "github.com/openalpha/simulacrum/x/markprice/keeper"
	orderbookkeeper "github.com/openalpha/simulacrum/x/orderbook/keeper"
	orderbooktypes "github.com/openalpha/simulacrum/x/orderbook/types"
	perpetualkeeper "github.com/openalpha/simulacrum/x/perpetual/keeper"
	perpetualtypes "github.com/openalpha/simulacrum/x/perpetual/types"
	"github.com/stretchr/testify/require"
)

type rig struct {
	market      *marketkeeper.Registry
	lmsr        *lmsrkeeper.Keeper
	orderbook   *orderbookkeeper.Keeper
	margin      *marginkeeper.Keeper
	perpetual   *perpetualkeeper.Keeper
	markPrice   *markpricekeeper.Keeper
	insurance   *insurancekeeper.Keeper
	liquidation *liquidationkeeper.Keeper
	outbox      *ledger.Outbox
	store       *Store
}

func newRig(t *testing.T, dir string) *rig {
	t.Helper()
	logger := log.NewNopLogger()
	clk := clock.NewFake(time.Now())
	bus := eventbus.New(logger)

	market := marketkeeper.New(clk, logger)
	lmsr := lmsrkeeper.New()
	orderbook := orderbookkeeper.New(clk, logger)
	margin := marginkeeper.New(logger)
	markPrice := markpricekeeper.New(bus, clk, logger)
	perpetual := perpetualkeeper.New(margin, markPrice, bus, clk, logger)
	insurance := insurancekeeper.New(logger)
	liquidation := liquidationkeeper.New(perpetual, margin, markPrice, insurance, bus, clk, logger)
	port := ledger.NewInMemoryPort()
	outbox := ledger.NewOutbox(port, logger, 3, bus.Publish)

	store, err := New(dir, Deps{
		Market:      market,
		LMSR:        lmsr,
		Orderbook:   orderbook,
		Margin:      margin,
		Perpetual:   perpetual,
		MarkPrice:   markPrice,
		Insurance:   insurance,
		Liquidation: liquidation,
		Outbox:      outbox,
	}, logger)
	require.NoError(t, err)

	return &rig{
		market:      market,
		lmsr:        lmsr,
		orderbook:   orderbook,
		margin:      margin,
		perpetual:   perpetual,
		markPrice:   markPrice,
		insurance:   insurance,
		liquidation: liquidation,
		outbox:      outbox,
		store:       store,
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := newRig(t, dir)

	m, err := r.market.Create(markettypes.CreateInput{
		Question:       "will it rain",
		Creator:        "alice",
		EscrowAccount:  "mkt-escrow",
		Outcomes:       []string{"YES", "NO"},
		Regime:         markettypes.LowLiquidity,
		InitialFunding: money.FromHbar(100),
		LMSRLiquidityB: 50,
	})
	require.NoError(t, err)

	require.NoError(t, r.lmsr.InitCurve(m.ID, 50, m.Outcomes))
	_, _, _, err = r.lmsr.BuyShares(m.ID, "YES", 10, money.FromHbar(1000), 0)
	require.NoError(t, err)

	r.orderbook.InitBook("mkt_1", orderbookkeeper.STPCancelResting, orderbookkeeper.FeeConfig{
		EscrowAccount: "mkt-escrow", TakerFeeRate: 0.001, MakerFeeRate: 0.0005,
	})
	_, err = r.orderbook.SubmitOrder("mkt_1", "bob", orderbooktypes.SideBuy, orderbooktypes.OrderTypeLimit, math.LegacyMustNewDecFromStr("10.00"), math.LegacyMustNewDecFromStr("5"))
	require.NoError(t, err)

	_, err = r.margin.Deposit("alice", money.FromHbar(100))
	require.NoError(t, err)
	_, err = r.perpetual.OpenPosition("alice", "mkt_1", perpetualtypes.SideLong, 10, 1.0, 5)
	require.NoError(t, err)

	_, err = r.insurance.Deposit("mkt_1", money.FromHbar(20))
	require.NoError(t, err)

	r.markPrice.Refresh("mkt_1", markpricekeeper.Inputs{Initial: 1.05})

	r.outbox.EnqueueTransfer("bob", "alice", money.FromHbar(50))

	require.NoError(t, r.store.Snapshot())

	fresh := newRig(t, dir)
	fresh.store.Restore()

	restoredMarket, err := fresh.market.Get(m.ID)
	require.NoError(t, err)
	require.Equal(t, m.Question, restoredMarket.Question)

	curve := fresh.lmsr.CurveSnapshot(m.ID)
	require.NotNil(t, curve)
	original := r.lmsr.CurveSnapshot(m.ID)
	require.True(t, curve.Shares["YES"].Equal(original.Shares["YES"]))

	snap, err := fresh.orderbook.Snapshot("mkt_1", 10)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	require.True(t, snap.Bids[0].Qty.Equal(math.LegacyMustNewDecFromStr("5")))

	acct := fresh.margin.Balance("alice")
	require.Equal(t, r.margin.Balance("alice"), acct)

	pos, err := fresh.perpetual.Get("alice", "mkt_1")
	require.NoError(t, err)
	require.Equal(t, 10.0, pos.Size)

	fund := fresh.insurance.Balance("mkt_1")
	require.Equal(t, money.FromHbar(20), fund.Balance)

	price, err := fresh.markPrice.Get("mkt_1")
	require.NoError(t, err)
	require.Equal(t, 1.05, price.Price)

	require.Len(t, fresh.outbox.Pending(), 1)
}

func TestRestoreOnMissingDirToleratesFreshState(t *testing.T) {
	dir := t.TempDir()
	r := newRig(t, dir)

	require.NotPanics(t, func() {
		r.store.Restore()
	})

	require.Empty(t, r.market.List(markettypes.Filter{}))
}
