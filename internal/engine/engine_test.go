package engine

import (
	"context"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/openalpha/simulacrum/internal/config"
	"github.com/openalpha/simulacrum/internal/ledger"
	"github.com/openalpha/simulacrum/pkg/money"
	markettypes "github.com/openalpha/simulacrum/x/market/types"
	orderbooktypes "github.com/openalpha/simulacrum/x/orderbook/types"
	perpetualtypes "github.com/openalpha/simulacrum/x/perpetual/types"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := &config.Config{
		StateDir:     t.TempDir(),
		PersistState: true,
		MaxLeverage:  50,
	}
	eng, err := New(cfg, ledger.NewInMemoryPort(), log.NewNopLogger())
	require.NoError(t, err)
	return eng
}

func highLiquidityInput() markettypes.CreateInput {
	return markettypes.CreateInput{
		Question:       "will BTC close above 100k",
		Creator:        "alice",
		EscrowAccount:  "mkt-escrow",
		Outcomes:       []string{"YES", "NO"},
		Regime:         markettypes.HighLiquidity,
		InitialFunding: money.FromHbar(1000),
	}
}

func TestCreateMarketRejectsHighLiquidityWithoutTwoSidedSeeds(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.CreateMarket(highLiquidityInput(), []SeedOrder{
		{Outcome: "YES", Trader: "mm", Side: orderbooktypes.SideBuy, Price: 0.5, Qty: 10},
	})
	require.Error(t, err)
}

func TestFullLifecycleCreateSeedTradeMarginFundingClose(t *testing.T) {
	eng := newTestEngine(t)

	m, err := eng.CreateMarket(highLiquidityInput(), []SeedOrder{
		{Outcome: "YES", Trader: "mm", Side: orderbooktypes.SideBuy, Price: 0.49, Qty: 100},
		{Outcome: "YES", Trader: "mm", Side: orderbooktypes.SideSell, Price: 0.51, Qty: 100},
	})
	require.NoError(t, err)
	require.Equal(t, markettypes.StatusOpen, m.Status)

	// crossing order fills against the resting ask
	result, err := eng.SubmitOrder(m.ID, "bob", orderbooktypes.SideBuy, orderbooktypes.OrderTypeLimit, 0.51, 10)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	require.Equal(t, "bob", result.Trades[0].TakerTrader)

	mark, err := eng.MarkPrice.Get(m.ID)
	require.NoError(t, err)
	require.Greater(t, mark.Price, 0.0)

	// fund bob's margin account before opening a perpetual position
	_, err = eng.Margin.Deposit("bob", money.FromHbar(1000))
	require.NoError(t, err)

	pos, err := eng.OpenPosition("bob", m.ID, perpetualtypes.SideLong, 10, mark.Price, 5)
	require.NoError(t, err)
	require.Equal(t, perpetualtypes.SideLong, pos.Side)

	record := eng.Perpetual.SettleFunding(m.ID, mark.Price, mark.Price)
	require.Equal(t, m.ID, record.MarketID)

	realized, err := eng.ClosePosition("bob", m.ID)
	require.NoError(t, err)
	_ = realized

	_, err = eng.Perpetual.Get("bob", m.ID)
	require.Error(t, err, "position should be gone after close")
}

func TestOpenPositionRejectsLeverageAboveConfiguredMax(t *testing.T) {
	eng := newTestEngine(t)

	m, err := eng.CreateMarket(highLiquidityInput(), []SeedOrder{
		{Outcome: "YES", Trader: "mm", Side: orderbooktypes.SideBuy, Price: 0.49, Qty: 100},
		{Outcome: "YES", Trader: "mm", Side: orderbooktypes.SideSell, Price: 0.51, Qty: 100},
	})
	require.NoError(t, err)

	_, err = eng.Margin.Deposit("carol", money.FromHbar(1000))
	require.NoError(t, err)

	_, err = eng.OpenPosition("carol", m.ID, perpetualtypes.SideLong, 10, 0.5, 1000)
	require.Error(t, err)
}

func TestSnapshotRestoreRoundTripsMarketsThroughANewEngine(t *testing.T) {
	cfg := &config.Config{
		StateDir:     t.TempDir(),
		PersistState: true,
		MaxLeverage:  50,
	}

	eng1, err := New(cfg, ledger.NewInMemoryPort(), log.NewNopLogger())
	require.NoError(t, err)

	m, err := eng1.CreateMarket(highLiquidityInput(), []SeedOrder{
		{Outcome: "YES", Trader: "mm", Side: orderbooktypes.SideBuy, Price: 0.49, Qty: 100},
		{Outcome: "YES", Trader: "mm", Side: orderbooktypes.SideSell, Price: 0.51, Qty: 100},
	})
	require.NoError(t, err)
	require.NoError(t, eng1.Snapshot.Snapshot())

	eng2, err := New(cfg, ledger.NewInMemoryPort(), log.NewNopLogger())
	require.NoError(t, err)

	restored, err := eng2.Market.Get(m.ID)
	require.NoError(t, err)
	require.Equal(t, m.Question, restored.Question)

	snap, err := eng2.Orderbook.Snapshot(m.ID, 5)
	require.NoError(t, err)
	require.NotEmpty(t, snap.Bids)
	require.NotEmpty(t, snap.Asks)
}

func TestRecentLiquidationsIsEmptyWithoutLiquidations(t *testing.T) {
	eng := newTestEngine(t)
	events := eng.RecentLiquidations("", "", 10)
	require.Empty(t, events)
}

func TestStartAndStopTickerDoesNotPanic(t *testing.T) {
	eng := newTestEngine(t)
	eng.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	eng.Stop()
}
