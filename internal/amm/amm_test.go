package amm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VAMMLedger/internal/amm"
	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/testutil"
	"VAMMLedger/internal/types"
)

func TestSwapRoundsInFavourOfAmm(t *testing.T) {
	m := testutil.PerpMarket(0)
	a := &m.AMM

	long, err := amm.CalculateSwap(a, state.Long, fp.BasePrecision)
	require.NoError(t, err)
	short, err := amm.CalculateSwap(a, state.Short, fp.BasePrecision)
	require.NoError(t, err)

	assert.Equal(t, fp.BasePrecision, long.BaseDelta)
	assert.Equal(t, -fp.BasePrecision, short.BaseDelta)
	assert.Greater(t, long.QuoteAmount, short.QuoteAmount, "buying costs more than selling returns")
	assert.Negative(t, long.QuoteDelta())
	assert.Positive(t, short.QuoteDelta())

	require.NoError(t, amm.ApplySwap(a, long))
	require.NoError(t, a.CheckInvariant())
	assert.Equal(t, fp.BasePrecision, a.BaseAssetAmountWithAmm)

	price, err := a.ReservePrice()
	require.NoError(t, err)
	assert.Greater(t, price, fp.PricePrecision)
}

func TestSwapRejectsBadSizes(t *testing.T) {
	m := testutil.PerpMarket(0)
	_, err := amm.CalculateSwap(&m.AMM, state.Long, 0)
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
	_, err = amm.CalculateSwap(&m.AMM, state.Long, m.AMM.BaseAssetReserve)
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
}

func TestDistributeFeeSplitsLpShare(t *testing.T) {
	m := testutil.PerpMarket(0)
	a := &m.AMM
	a.UserLpShares = a.SqrtK / 2

	require.NoError(t, amm.DistributeFee(a, 1_000_000))
	assert.Equal(t, int64(1_000_000), a.TotalFee)
	assert.Equal(t, int64(500_000), a.TotalFeeMinusDistributions)
	assert.Positive(t, a.QuoteAssetAmountPerLp)
}

func TestUpdateKPreservesPrice(t *testing.T) {
	s := testutil.NewState(t)
	tx := s.Begin(testutil.Clock(1))
	m, err := tx.PerpMarket(0)
	require.NoError(t, err)

	newK := m.AMM.SqrtK * 105 / 100
	up, err := amm.UpdateK(tx, m, newK)
	require.NoError(t, err)
	assert.Equal(t, newK, m.AMM.SqrtK)
	assert.Equal(t, up.OldPrice, up.NewPrice)
	assert.Zero(t, up.Cost, "no open interest, nothing to pay")
	require.NoError(t, m.AMM.CheckInvariant())

	_, err = amm.UpdateK(tx, m, newK*2)
	assert.ErrorIs(t, err, types.ErrInvalidCurveUpdate)
}

func TestUpdateKChargesFeePoolWithOpenInterest(t *testing.T) {
	s := testutil.NewState(t)
	tx := s.Begin(testutil.Clock(1))
	m, err := tx.PerpMarket(0)
	require.NoError(t, err)

	sw, err := amm.CalculateSwap(&m.AMM, state.Long, 100*fp.BasePrecision)
	require.NoError(t, err)
	require.NoError(t, amm.ApplySwap(&m.AMM, sw))

	// Deeper liquidity lets the net long exit with less slippage, which
	// costs the protocol. The empty fee pool cannot pay for it.
	_, err = amm.UpdateK(tx, m, m.AMM.SqrtK*105/100)
	assert.ErrorIs(t, err, types.ErrInvalidCurveUpdate)

	m.AMM.TotalFeeMinusDistributions = 1_000_000_000
	up, err := amm.UpdateK(tx, m, m.AMM.SqrtK*105/100)
	require.NoError(t, err)
	assert.Positive(t, up.Cost)
	assert.Equal(t, 1_000_000_000-up.Cost, m.AMM.TotalFeeMinusDistributions)
}

func TestRepegRequiresFreshOracleInBand(t *testing.T) {
	s := testutil.NewState(t)
	tx := s.Begin(testutil.Clock(1))
	tx.PutFeed(testutil.PrelaunchPrice(testutil.PerpOracle, 1_070_000, testutil.StartSlot+1))
	m, err := tx.PerpMarket(0)
	require.NoError(t, err)

	up, err := amm.Repeg(tx, m, 1_050_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_050_000), m.AMM.PegMultiplier)
	assert.Equal(t, int64(1_050_000), up.NewPrice)

	_, err = amm.Repeg(tx, m, 1_300_000)
	assert.ErrorIs(t, err, types.ErrInvalidCurveUpdate, "step too large")

	stale := s.Begin(testutil.Clock(50))
	m, err = stale.PerpMarket(0)
	require.NoError(t, err)
	_, err = amm.Repeg(stale, m, 1_050_000)
	assert.ErrorIs(t, err, types.ErrStaleOracle)
}

func TestRepegRejectsPriceOutsideOracleBand(t *testing.T) {
	s := testutil.NewState(t)
	tx := s.Begin(testutil.Clock(1))
	tx.PutFeed(testutil.PrelaunchPrice(testutil.PerpOracle, 800_000, testutil.StartSlot+1))
	m, err := tx.PerpMarket(0)
	require.NoError(t, err)

	_, err = amm.Repeg(tx, m, 1_050_000)
	assert.ErrorIs(t, err, types.ErrInvalidCurveUpdate)
}

func TestUpdateAMMAdvancesSlotAndBooksFunding(t *testing.T) {
	s := testutil.NewState(t)

	// Same slot as the last update still advances.
	tx := s.Begin(testutil.Clock(0))
	m, err := tx.PerpMarket(0)
	require.NoError(t, err)
	before := m.AMM.LastUpdateSlot
	up, err := amm.UpdateAMM(tx, m)
	require.NoError(t, err)
	assert.Greater(t, m.AMM.LastUpdateSlot, before)
	assert.False(t, up.Applied)

	// Push the mark above the oracle and wait a funding period.
	sw, err := amm.CalculateSwap(&m.AMM, state.Long, 1_000*fp.BasePrecision)
	require.NoError(t, err)
	require.NoError(t, amm.ApplySwap(&m.AMM, sw))
	tx.Clock = state.Clock{Slot: testutil.StartSlot + 5, UnixTimestamp: testutil.StartTs + fp.OneHourSeconds}
	tx.PutFeed(testutil.PrelaunchPrice(testutil.PerpOracle, fp.PricePrecision, testutil.StartSlot+5))

	up, err = amm.UpdateAMM(tx, m)
	require.NoError(t, err)
	assert.True(t, up.Applied)
	assert.Positive(t, up.FundingRate, "longs pay when mark is above oracle")
	assert.Equal(t, up.FundingRate, m.AMM.CumulativeFundingRate)
	assert.Equal(t, testutil.StartTs+fp.OneHourSeconds, m.AMM.LastFundingRateTs)
	assert.Equal(t, sw.NewBaseReserve, m.AMM.BaseAssetReserve, "reserves untouched")
}

func TestUpdateAMMSkipsFundingOnStaleOracle(t *testing.T) {
	s := testutil.NewState(t)
	tx := s.Begin(state.Clock{Slot: testutil.StartSlot + 500, UnixTimestamp: testutil.StartTs + 2*fp.OneHourSeconds})
	m, err := tx.PerpMarket(0)
	require.NoError(t, err)

	up, err := amm.UpdateAMM(tx, m)
	require.NoError(t, err)
	assert.True(t, up.OracleSkipped)
	assert.False(t, up.Applied)
	assert.Equal(t, testutil.StartSlot+500, m.AMM.LastUpdateSlot)
}
