package insurance_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VAMMLedger/internal/insurance"
	"VAMMLedger/internal/ledger"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/testutil"
	"VAMMLedger/internal/types"
)

func newStaker(t *testing.T) (*state.Tx, uuid.UUID) {
	t.Helper()
	s := testutil.NewState(t)
	tx := s.Begin(testutil.Clock(1))
	alice := uuid.New()
	_, err := tx.InitializeUser(alice, 0)
	require.NoError(t, err)
	require.NoError(t, insurance.Initialize(tx, alice, 0))
	return tx, alice
}

func TestStakeRequestRemoveRoundTrip(t *testing.T) {
	tx, alice := newStaker(t)
	tx.Config().InsuranceFundUnstakingPeriod = 0

	added, err := insurance.Add(tx, alice, 0, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), added.SharesDelta, "empty fund mints 1:1")
	assert.Equal(t, int64(1_000_000), added.StakedQuote)

	_, err = insurance.RequestRemove(tx, alice, 0, 1_000_000)
	require.NoError(t, err)
	removed, err := insurance.Remove(tx, alice, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), removed.Amount)
	assert.Zero(t, removed.StakedQuote)
	assert.Zero(t, removed.SharesAfter)

	m, err := tx.SpotMarket(0)
	require.NoError(t, err)
	assert.Zero(t, m.InsuranceFund.VaultAmount)
	assert.Zero(t, m.InsuranceFund.TotalShares)

	key := ledger.InsuranceFundVault(0)
	assert.Zero(t, ledger.NetChange(tx.Journals(), key))
}

func TestInitializeTwiceFails(t *testing.T) {
	tx, alice := newStaker(t)
	assert.ErrorIs(t, insurance.Initialize(tx, alice, 0), types.ErrAccountAlreadyExists)
	assert.ErrorIs(t, insurance.Initialize(tx, alice, 9), types.ErrInvalidMarketIndex)
	assert.ErrorIs(t, insurance.Initialize(tx, uuid.New(), 0), types.ErrAccountNotFound)
}

func TestRemoveWaitsForUnstakingPeriod(t *testing.T) {
	tx, alice := newStaker(t)
	tx.Config().InsuranceFundUnstakingPeriod = 100

	_, err := insurance.Remove(tx, alice, 0)
	assert.ErrorIs(t, err, types.ErrNoWithdrawRequest)

	_, err = insurance.Add(tx, alice, 0, 500)
	require.NoError(t, err)
	_, err = insurance.RequestRemove(tx, alice, 0, 501)
	assert.ErrorIs(t, err, types.ErrWithdrawalLimitExceeded)
	_, err = insurance.RequestRemove(tx, alice, 0, 200)
	require.NoError(t, err)

	_, err = insurance.Add(tx, alice, 0, 1)
	assert.ErrorIs(t, err, types.ErrWithdrawRequestInProgress)
	_, err = insurance.RequestRemove(tx, alice, 0, 1)
	assert.ErrorIs(t, err, types.ErrWithdrawRequestInProgress)

	tx.Clock.UnixTimestamp += 99
	_, err = insurance.Remove(tx, alice, 0)
	assert.ErrorIs(t, err, types.ErrCooldownActive)

	tx.Clock.UnixTimestamp++
	removed, err := insurance.Remove(tx, alice, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(200), removed.Amount)
	assert.Equal(t, int64(300), removed.SharesAfter)
}

func TestCancelRequest(t *testing.T) {
	tx, alice := newStaker(t)
	assert.ErrorIs(t, insurance.CancelRequest(tx, alice, 0), types.ErrNoWithdrawRequest)

	_, err := insurance.Add(tx, alice, 0, 500)
	require.NoError(t, err)
	_, err = insurance.RequestRemove(tx, alice, 0, 500)
	require.NoError(t, err)
	require.NoError(t, insurance.CancelRequest(tx, alice, 0))
	_, err = insurance.Add(tx, alice, 0, 100)
	require.NoError(t, err)
}

func TestDrawnFundPaysLessOnRemove(t *testing.T) {
	tx, alice := newStaker(t)
	tx.Config().InsuranceFundUnstakingPeriod = 0
	_, err := insurance.Add(tx, alice, 0, 1_000)
	require.NoError(t, err)
	_, err = insurance.RequestRemove(tx, alice, 0, 1_000)
	require.NoError(t, err)

	quote, err := tx.SpotMarket(0)
	require.NoError(t, err)
	perp, err := tx.PerpMarket(0)
	require.NoError(t, err)
	covered, err := insurance.Cover(tx, quote, perp, 400)
	require.NoError(t, err)
	assert.Equal(t, int64(400), covered)
	assert.Equal(t, int64(400), perp.TotalInsuranceDraw)
	assert.Equal(t, int64(400), quote.VaultAmount)

	removed, err := insurance.Remove(tx, alice, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(600), removed.Amount)

	covered, err = insurance.Cover(tx, quote, perp, 10)
	require.NoError(t, err)
	assert.Zero(t, covered, "fund is empty")
}

func TestStakeIntoDrainedFundIsRejected(t *testing.T) {
	tx, alice := newStaker(t)
	_, err := insurance.Add(tx, alice, 0, 1_000_000)
	require.NoError(t, err)

	quote, err := tx.SpotMarket(0)
	require.NoError(t, err)
	perp, err := tx.PerpMarket(0)
	require.NoError(t, err)
	covered, err := insurance.Cover(tx, quote, perp, 5_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), covered)
	require.True(t, quote.InsuranceFund.Depleted())

	bob := uuid.New()
	_, err = tx.InitializeUser(bob, 0)
	require.NoError(t, err)
	require.NoError(t, insurance.Initialize(tx, bob, 0))
	_, err = insurance.Add(tx, bob, 0, 1_000_000)
	require.ErrorIs(t, err, types.ErrInsuranceFundDepleted)
	assert.Zero(t, quote.InsuranceFund.VaultAmount)
	assert.Equal(t, int64(1_000_000), quote.InsuranceFund.TotalShares)
}

func TestStakeIntoDrawnFundMintsAtSharePrice(t *testing.T) {
	tx, alice := newStaker(t)
	_, err := insurance.Add(tx, alice, 0, 1_000_000)
	require.NoError(t, err)

	quote, err := tx.SpotMarket(0)
	require.NoError(t, err)
	perp, err := tx.PerpMarket(0)
	require.NoError(t, err)
	_, err = insurance.Cover(tx, quote, perp, 500_000)
	require.NoError(t, err)

	bob := uuid.New()
	_, err = tx.InitializeUser(bob, 0)
	require.NoError(t, err)
	require.NoError(t, insurance.Initialize(tx, bob, 0))
	added, err := insurance.Add(tx, bob, 0, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), added.SharesDelta)

	value, err := quote.InsuranceFund.AmountForShares(added.SharesAfter)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), value)
}
