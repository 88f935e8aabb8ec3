package position_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/position"
	"VAMMLedger/internal/spot"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/testutil"
	"VAMMLedger/internal/types"
)

func fundedTx(t *testing.T, usdc int64, users ...uuid.UUID) (*state.State, *state.Tx) {
	t.Helper()
	s := testutil.NewState(t)
	tx := s.Begin(testutil.Clock(1))
	for _, u := range users {
		_, err := spot.Deposit(tx, u, 0, 0, usdc, true)
		require.NoError(t, err)
	}
	return s, tx
}

func TestOpenThenCloseLong(t *testing.T) {
	alice := uuid.New()
	_, tx := fundedTx(t, 10_000_000, alice)

	fill, err := position.Open(tx, alice, 0, state.Long, 10*fp.BasePrecision, 0)
	require.NoError(t, err)
	assert.Equal(t, 10*fp.BasePrecision, fill.BaseAfter)
	assert.Negative(t, fill.QuoteAfter, "long pays quote")
	assert.Positive(t, fill.Fee)

	m, err := tx.PerpMarket(0)
	require.NoError(t, err)
	assert.Equal(t, 10*fp.BasePrecision, m.AMM.BaseAssetAmountLong)
	assert.Equal(t, 10*fp.BasePrecision, m.AMM.BaseAssetAmountWithAmm)
	assert.Equal(t, fill.Fee, m.AMM.TotalFee)

	stats, err := tx.UserStats(alice)
	require.NoError(t, err)
	assert.Equal(t, fill.Fee, stats.FeesPaid)

	closed, err := position.Close(tx, alice, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, state.Short, closed.Direction)
	assert.Zero(t, closed.BaseAfter)
	assert.Negative(t, closed.QuoteAfter, "round trip loses fees and spread")
	assert.Zero(t, m.AMM.BaseAssetAmountLong)
	assert.Zero(t, m.AMM.BaseAssetAmountWithAmm)
	require.NoError(t, m.AMM.CheckInvariant())

	_, err = position.Close(tx, alice, 0, 0)
	assert.ErrorIs(t, err, types.ErrPositionNotFound)
}

func TestOpenRejectsInvalidSizes(t *testing.T) {
	alice := uuid.New()
	_, tx := fundedTx(t, 10_000_000, alice)

	_, err := position.Open(tx, alice, 0, state.Long, testutil.StepSize+1, 0)
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
	_, err = position.Open(tx, alice, 0, state.Long, 0, 0)
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
	_, err = position.Open(tx, alice, 0, state.Long, testutil.StepSize, 3)
	assert.ErrorIs(t, err, types.ErrInvalidMarketIndex)
}

func TestOpenRequiresInitialMargin(t *testing.T) {
	alice := uuid.New()
	_, tx := fundedTx(t, 10_000_000, alice)

	// 100 base at 1.0 with a 20% initial ratio needs 20 USDC.
	_, err := position.Open(tx, alice, 0, state.Short, 100*fp.BasePrecision, 0)
	assert.ErrorIs(t, err, types.ErrInsufficientCollateral)
}

func TestIncreasesRisk(t *testing.T) {
	assert.True(t, position.IncreasesRisk(0, 5))
	assert.True(t, position.IncreasesRisk(5, 6))
	assert.True(t, position.IncreasesRisk(5, -1))
	assert.False(t, position.IncreasesRisk(5, 3))
	assert.False(t, position.IncreasesRisk(-5, 0))
}

func TestSettleFundingMovesFeePool(t *testing.T) {
	m := testutil.PerpMarket(0)
	pos := &state.PerpPosition{BaseAssetAmount: fp.BasePrecision}
	m.AMM.CumulativeFundingRate = 1_000_000 // 0.001 per unit

	paid, err := position.SettleFunding(pos, &m)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), paid)
	assert.Equal(t, int64(-1_000), pos.QuoteAssetAmount)
	assert.Equal(t, m.AMM.CumulativeFundingRate, pos.LastCumulativeFundingRate)
	assert.Equal(t, int64(1_000), m.AMM.TotalFeeMinusDistributions)

	paid, err = position.SettleFunding(pos, &m)
	require.NoError(t, err)
	assert.Zero(t, paid, "already settled")
}

func TestSettlePnlMovesLossesToPoolAndPaysWinners(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	s, tx := fundedTx(t, 100_000_000, alice, bob)

	_, err := position.Open(tx, alice, 0, state.Long, 10*fp.BasePrecision, 0)
	require.NoError(t, err)
	_, err = position.Open(tx, bob, 0, state.Short, 10*fp.BasePrecision, 0)
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	tx = s.Begin(testutil.Clock(2))
	tx.PutFeed(testutil.PrelaunchPrice(testutil.PerpOracle, 900_000, testutil.StartSlot+2))

	// Bob is up but the pool is empty: nothing to pay yet.
	res, err := position.SettlePnl(tx, bob, 0, 0)
	require.NoError(t, err)
	assert.Positive(t, res.UnrealizedPnl)
	assert.Zero(t, res.Settled)

	loss, err := position.SettlePnl(tx, alice, 0, 0)
	require.NoError(t, err)
	assert.Negative(t, loss.Settled)
	assert.Equal(t, loss.UnrealizedPnl, loss.Settled)

	gain, err := position.SettlePnl(tx, bob, 0, 0)
	require.NoError(t, err)
	assert.Positive(t, gain.Settled)
	assert.LessOrEqual(t, gain.Settled, -loss.Settled)

	quote, err := tx.SpotMarket(0)
	require.NoError(t, err)
	assert.Equal(t, int64(200_000_000), quote.VaultAmount, "settlement never moves vault tokens")
	require.NoError(t, spot.ValidateVault(quote))
}
