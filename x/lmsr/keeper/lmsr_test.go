package keeper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuoteZeroDeltaIsFree(t *testing.T) {
	k := New()
	require.NoError(t, k.InitCurve("mkt_1", 100, []string{"YES", "NO"}))

	cost, err := k.Quote("mkt_1", "YES", 0)
	require.NoError(t, err)
	require.Zero(t, cost)
}

func TestInitialPricesAreUniform(t *testing.T) {
	k := New()
	require.NoError(t, k.InitCurve("mkt_1", 100, []string{"YES", "NO", "MAYBE"}))

	prices, err := k.Prices("mkt_1")
	require.NoError(t, err)

	sum := 0.0
	for _, p := range prices {
		require.InDelta(t, 1.0/3.0, p, 1e-9)
		sum += p
	}
	require.InDelta(t, 1.0, sum, 1e-9)
}

func TestBuySharesMovesPriceUp(t *testing.T) {
	k := New()
	require.NoError(t, k.InitCurve("mkt_1", 100, []string{"YES", "NO"}))

	shares, cost, effective, err := k.BuyShares("mkt_1", "YES", 50, 1_000_000_000_000, 0)
	require.NoError(t, err)
	require.Equal(t, 50.0, shares)
	require.Positive(t, cost)
	require.Positive(t, effective)

	prices, err := k.Prices("mkt_1")
	require.NoError(t, err)
	require.Greater(t, prices["YES"], prices["NO"])
}

func TestBuySharesRejectsPriceImpactBreach(t *testing.T) {
	k := New()
	require.NoError(t, k.InitCurve("mkt_1", 10, []string{"YES", "NO"}))

	_, _, _, err := k.BuyShares("mkt_1", "YES", 500, 1_000_000_000_000, 60)
	require.Error(t, err)
}

func TestBuySharesRejectsInsufficientFunds(t *testing.T) {
	k := New()
	require.NoError(t, k.InitCurve("mkt_1", 100, []string{"YES", "NO"}))

	_, _, _, err := k.BuyShares("mkt_1", "YES", 50, 1, 0)
	require.Error(t, err)
}

func TestQuoteUnknownMarket(t *testing.T) {
	k := New()
	_, err := k.Quote("does-not-exist", "YES", 10)
	require.Error(t, err)
}
