package keeper

import (
	"testing"

	"cosmossdk.io/log"
	"github.com/openalpha/simulacrum/pkg/money"
	"github.com/stretchr/testify/require"
)

func TestDepositAccumulatesBalance(t *testing.T) {
	k := New(log.NewNopLogger())
	_, err := k.Deposit("mkt_1", money.FromHbar(50))
	require.NoError(t, err)
	f, err := k.Deposit("mkt_1", money.FromHbar(25))
	require.NoError(t, err)
	require.Equal(t, money.FromHbar(75), f.Balance)
	require.Equal(t, money.FromHbar(75), f.TotalDeposits)
}

func TestAbsorbClampsAtAvailableBalance(t *testing.T) {
	k := New(log.NewNopLogger())
	_, _ = k.Deposit("mkt_1", money.FromHbar(10))

	absorbed := k.Absorb("mkt_1", money.FromHbar(30))
	require.Equal(t, money.FromHbar(10), absorbed)

	f := k.Balance("mkt_1")
	require.Equal(t, money.Zero, f.Balance)
	require.Equal(t, money.FromHbar(10), f.TotalPayouts)
}

func TestAbsorbOnEmptyFundReturnsZero(t *testing.T) {
	k := New(log.NewNopLogger())
	require.Equal(t, money.Zero, k.Absorb("mkt_1", money.FromHbar(5)))
}

func TestBalanceInvariantHoldsAcrossOperations(t *testing.T) {
	k := New(log.NewNopLogger())
	_, _ = k.Deposit("mkt_1", money.FromHbar(100))
	k.Absorb("mkt_1", money.FromHbar(40))
	_, _ = k.Deposit("mkt_1", money.FromHbar(20))

	f := k.Balance("mkt_1")
	require.Equal(t, f.TotalDeposits.Sub(f.TotalPayouts), f.Balance)
}
