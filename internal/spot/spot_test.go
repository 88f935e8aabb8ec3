package spot_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/spot"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/testutil"
	"VAMMLedger/internal/types"
)

func TestDepositScalesByCumulativeInterest(t *testing.T) {
	s := testutil.NewState(t)
	alice := uuid.New()
	tx := s.Begin(testutil.Clock(1))

	res, err := spot.Deposit(tx, alice, 0, 0, 10_000_000, true)
	require.NoError(t, err)
	assert.True(t, res.UserCreated)
	assert.Equal(t, 10*fp.SpotBalancePrecision, res.ScaledDelta)

	u, err := tx.User(state.UserKey{Authority: alice})
	require.NoError(t, err)
	pos, ok := u.SpotPosition(0)
	require.True(t, ok)
	m, err := tx.SpotMarket(0)
	require.NoError(t, err)
	tokens, err := m.TokenAmount(pos.ScaledBalance, pos.BalanceType)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), tokens)
	assert.Equal(t, int64(10_000_000), m.VaultAmount)
	assert.Len(t, tx.Journals(), 1)

	stats, err := tx.UserStats(alice)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), stats.NumberOfSubAccounts)
}

func TestDepositAccountRules(t *testing.T) {
	s := testutil.NewState(t)
	alice := uuid.New()
	tx := s.Begin(testutil.Clock(1))

	_, err := spot.Deposit(tx, alice, 0, 0, 1, false)
	assert.ErrorIs(t, err, types.ErrAccountNotFound)

	_, err = spot.Deposit(tx, alice, 0, 0, 1, true)
	require.NoError(t, err)
	_, err = spot.Deposit(tx, alice, 0, 0, 1, true)
	assert.ErrorIs(t, err, types.ErrAccountAlreadyExists)

	_, err = spot.Deposit(tx, alice, 0, 9, 1, false)
	assert.ErrorIs(t, err, types.ErrInvalidMarketIndex)

	_, err = spot.Deposit(tx, alice, 0, 0, 0, false)
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
}

func TestWithdrawOpensBorrowAgainstCollateral(t *testing.T) {
	s := testutil.NewState(t)
	alice, bob := uuid.New(), uuid.New()
	tx := s.Begin(testutil.Clock(1))

	_, err := spot.Deposit(tx, alice, 0, 0, 1_000_000_000, true) // 1000 USDC
	require.NoError(t, err)
	_, err = spot.Deposit(tx, bob, 0, 1, 10_000_000_000, true) // 10 SOL
	require.NoError(t, err)

	got, err := spot.Withdraw(tx, alice, 0, 1, 1_000_000_000, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000), got)

	u, err := tx.User(state.UserKey{Authority: alice})
	require.NoError(t, err)
	pos, ok := u.SpotPosition(1)
	require.True(t, ok)
	assert.Equal(t, state.SpotBalanceBorrow, pos.BalanceType)

	sol, err := tx.SpotMarket(1)
	require.NoError(t, err)
	assert.Equal(t, int64(9_000_000_000), sol.VaultAmount)
	require.NoError(t, spot.ValidateVault(sol))

	_, err = spot.Withdraw(tx, alice, 0, 1, 20_000_000_000, false)
	assert.ErrorIs(t, err, types.ErrWithdrawalLimitExceeded)
}

func TestWithdrawRejectsUndercollateralizedBorrow(t *testing.T) {
	s := testutil.NewState(t)
	alice, bob := uuid.New(), uuid.New()
	tx := s.Begin(testutil.Clock(1))

	_, err := spot.Deposit(tx, alice, 0, 0, 100_000_000, true) // 100 USDC
	require.NoError(t, err)
	_, err = spot.Deposit(tx, bob, 0, 1, 10_000_000_000, true)
	require.NoError(t, err)

	// 1 SOL at 100 with a 1.2 liability weight needs 120 USDC.
	_, err = spot.Withdraw(tx, alice, 0, 1, 1_000_000_000, false)
	assert.ErrorIs(t, err, types.ErrInsufficientCollateral)
}

func TestReduceOnlyWithdrawClampsToDeposit(t *testing.T) {
	s := testutil.NewState(t)
	alice := uuid.New()
	tx := s.Begin(testutil.Clock(1))

	_, err := spot.Deposit(tx, alice, 0, 0, 5_000_000, true)
	require.NoError(t, err)
	got, err := spot.Withdraw(tx, alice, 0, 0, 8_000_000, true)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), got)

	u, err := tx.User(state.UserKey{Authority: alice})
	require.NoError(t, err)
	_, ok := u.SpotPosition(0)
	assert.False(t, ok, "flat balance frees the slot")

	_, err = spot.Withdraw(tx, alice, 0, 0, 1, true)
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
}

func TestDepositRepaysBorrowFirst(t *testing.T) {
	m := testutil.QuoteSpotMarket()
	pos := &state.SpotPosition{}

	require.NoError(t, spot.UpdateBalance(&m, pos, spot.DirectionWithdraw, 3_000_000))
	assert.Equal(t, state.SpotBalanceBorrow, pos.BalanceType)
	assert.Equal(t, pos.ScaledBalance, m.BorrowBalance)

	require.NoError(t, spot.UpdateBalance(&m, pos, spot.DirectionDeposit, 5_000_000))
	assert.Equal(t, state.SpotBalanceDeposit, pos.BalanceType)
	assert.Zero(t, m.BorrowBalance)
	tokens, err := m.TokenAmount(pos.ScaledBalance, pos.BalanceType)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), tokens)
}

func TestUpdateInterestGrowsBorrowFasterThanDeposit(t *testing.T) {
	m := testutil.SolSpotMarket(1)
	depositor, borrower := &state.SpotPosition{}, &state.SpotPosition{}
	require.NoError(t, spot.UpdateBalance(&m, depositor, spot.DirectionDeposit, 10_000_000_000))
	require.NoError(t, spot.UpdateBalance(&m, borrower, spot.DirectionWithdraw, 1_000_000_000))

	require.NoError(t, spot.UpdateInterest(&m, m.LastInterestTs+fp.OneYearSeconds))
	assert.Greater(t, m.CumulativeBorrowInterest, m.CumulativeDepositInterest)
	assert.Greater(t, m.CumulativeDepositInterest, fp.SpotCumulativeInterestPrecision)

	before := m.CumulativeBorrowInterest
	require.NoError(t, spot.UpdateInterest(&m, m.LastInterestTs-10))
	assert.Equal(t, before, m.CumulativeBorrowInterest, "clock going backwards accrues nothing")

	m.VaultAmount = 9_000_000_000
	require.NoError(t, spot.ValidateVault(&m))
}

func TestPoolBalances(t *testing.T) {
	m := testutil.QuoteSpotMarket()
	var pool state.PoolBalance

	require.NoError(t, spot.PoolDeposit(&m, &pool, 7_000_000))
	held, err := spot.PoolTokens(&m, &pool)
	require.NoError(t, err)
	assert.Equal(t, int64(7_000_000), held)

	assert.ErrorIs(t, spot.PoolWithdraw(&m, &pool, 8_000_000), types.ErrWithdrawalLimitExceeded)
	require.NoError(t, spot.PoolWithdraw(&m, &pool, 7_000_000))
	assert.Zero(t, pool.ScaledBalance)
	assert.Zero(t, m.DepositBalance)
}
