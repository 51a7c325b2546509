package keeper

import (
	"testing"

	"cosmossdk.io/log"
	"github.com/openalpha/simulacrum/pkg/money"
	"github.com/stretchr/testify/require"
)

func TestDepositAndWithdraw(t *testing.T) {
	k := New(log.NewNopLogger())

	_, err := k.Deposit("alice", money.FromHbar(100))
	require.NoError(t, err)

	acct, err := k.Withdraw("alice", money.FromHbar(40))
	require.NoError(t, err)
	require.Equal(t, money.FromHbar(60), acct.Balance)
}

func TestWithdrawMoreThanFreeBalanceFails(t *testing.T) {
	k := New(log.NewNopLogger())
	_, _ = k.Deposit("alice", money.FromHbar(10))

	_, err := k.Withdraw("alice", money.FromHbar(20))
	require.Error(t, err)
}

func TestLockReservesAgainstFreeBalance(t *testing.T) {
	k := New(log.NewNopLogger())
	_, _ = k.Deposit("alice", money.FromHbar(100))

	acct, err := k.Lock("alice", money.FromHbar(30))
	require.NoError(t, err)
	require.Equal(t, money.FromHbar(70), acct.AvailableBalance())

	_, err = k.Withdraw("alice", money.FromHbar(80))
	require.Error(t, err)
}

func TestReleaseClampsAtZero(t *testing.T) {
	k := New(log.NewNopLogger())
	_, _ = k.Deposit("alice", money.FromHbar(100))
	_, _ = k.Lock("alice", money.FromHbar(10))

	acct, err := k.Release("alice", money.FromHbar(50))
	require.NoError(t, err)
	require.Equal(t, money.Zero, acct.LockedMargin)
}

func TestUnknownAccountAutoCreatesAtZero(t *testing.T) {
	k := New(log.NewNopLogger())
	acct := k.Balance("bob")
	require.Equal(t, money.Zero, acct.Balance)
}

func TestApplyPnLAllowsNegativeBalance(t *testing.T) {
	k := New(log.NewNopLogger())
	acct := k.ApplyPnL("alice", money.FromHbar(-5))
	require.True(t, acct.Balance.IsNegative())
}
