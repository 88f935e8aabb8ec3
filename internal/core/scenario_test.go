package core_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VAMMLedger/internal/event"
	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/spot"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/transition"
	"VAMMLedger/internal/types"
)

func TestScenario_DepositTradeAndClose(t *testing.T) {
	h := newMarketsCore(t)
	trader := uuid.New()

	r := h.mustApply(trader, transition.MustNew(transition.KindDeposit, &transition.Deposit{
		Amount: 10 * usdcScale, InitializeUser: true,
	}))
	require.Len(t, r.Events, 1)
	assert.Equal(t, event.KindSpotTransfer, r.Events[0].Kind)
	payload := r.Events[0].Payload.(event.SpotTransfer)
	assert.True(t, payload.UserCreated)
	assert.Equal(t, 10*fp.SpotBalancePrecision, payload.ScaledDelta)

	h.mustApply(trader, open(state.Long, 10*fp.BasePrecision))
	pos, err := h.user(trader, 0).PerpPosition(0)
	require.NoError(t, err)
	assert.Equal(t, 10*fp.BasePrecision, pos.BaseAssetAmount)
	assert.Negative(t, pos.QuoteAssetAmount)

	m := h.perpMarket(0)
	assert.Equal(t, 10*fp.BasePrecision, m.AMM.BaseAssetAmountWithAmm)
	assert.Positive(t, m.AMM.TotalFeeMinusDistributions)

	r = h.mustApply(trader, transition.MustNew(transition.KindClosePosition, &transition.ClosePosition{}))
	assert.Equal(t, event.KindFill, r.Events[0].Kind)
	pos, err = h.user(trader, 0).PerpPosition(0)
	require.NoError(t, err)
	assert.Zero(t, pos.BaseAssetAmount)
	assert.Negative(t, pos.QuoteAssetAmount, "round trip pays fees")

	// Realize the loss into the deposit; the freed slot is released.
	h.mustApply(trader, transition.MustNew(transition.KindSettlePnl, &transition.SettlePnl{}))
	_, err = h.user(trader, 0).PerpPosition(0)
	assert.ErrorIs(t, err, types.ErrPositionNotFound)
	sp, ok := h.user(trader, 0).SpotPosition(0)
	require.True(t, ok)
	assert.Less(t, sp.ScaledBalance, 10*fp.SpotBalancePrecision)

	quote, ok := h.core.State().SpotMarket(0)
	require.True(t, ok)
	require.NoError(t, spot.ValidateVault(quote))
	require.NoError(t, h.core.ValidateGlobalBalance())

	h.mustApply(trader, transition.MustNew(transition.KindWithdraw, &transition.Withdraw{Amount: 5 * usdcScale}))
	quote, _ = h.core.State().SpotMarket(0)
	assert.Equal(t, 5*usdcScale, quote.VaultAmount)
}

func TestScenario_OverLeveragedOpenRejected(t *testing.T) {
	h := newMarketsCore(t)
	trader := uuid.New()
	h.fund(trader, 1*usdcScale)

	_, err := h.apply(trader, open(state.Long, 100*fp.BasePrecision))
	assert.ErrorIs(t, err, types.ErrInsufficientCollateral)
	_, err = h.user(trader, 0).PerpPosition(0)
	assert.ErrorIs(t, err, types.ErrPositionNotFound)
}

func TestScenario_CurveAdministration(t *testing.T) {
	h := newMarketsCore(t)

	newK := h.perpMarket(0).AMM.SqrtK * 105 / 100
	r := h.mustApply(admin, transition.MustNew(transition.KindUpdateK, &transition.UpdateK{SqrtK: newK}))
	assert.Equal(t, event.KindCurve, r.Events[0].Kind)
	assert.Equal(t, newK, h.perpMarket(0).AMM.SqrtK)

	// Beyond the per-update step limit.
	_, err := h.apply(admin, transition.MustNew(transition.KindUpdateK, &transition.UpdateK{SqrtK: newK * 2}))
	assert.ErrorIs(t, err, types.ErrInvalidCurveUpdate)

	h.setPrice(1_050_000)
	h.mustApply(admin, transition.MustNew(transition.KindRepegCurve, &transition.RepegCurve{Peg: 1_050_000}))
	m := h.perpMarket(0)
	assert.Equal(t, int64(1_050_000), m.AMM.PegMultiplier)
	price, err := m.AMM.ReservePrice()
	require.NoError(t, err)
	assert.InDelta(t, 1_050_000, price, 2)

	// A peg far from the oracle is outside the repeg band.
	_, err = h.apply(admin, transition.MustNew(transition.KindRepegCurve, &transition.RepegCurve{Peg: 1_150_000}))
	assert.ErrorIs(t, err, types.ErrInvalidCurveUpdate)
}

func TestScenario_LiquidityCooldown(t *testing.T) {
	h := newMarketsCore(t)
	maker := uuid.New()
	h.fund(maker, 100*usdcScale)
	sqrtK := h.perpMarket(0).AMM.SqrtK

	add := transition.MustNew(transition.KindAddLiquidity, &transition.AddLiquidity{NShares: 100 * stepSize})
	remove := transition.MustNew(transition.KindRemoveLiquidity, &transition.RemoveLiquidity{NShares: 100 * stepSize})

	h.mustApply(maker, add)
	m := h.perpMarket(0)
	assert.Equal(t, sqrtK+100*stepSize, m.AMM.SqrtK)
	assert.Equal(t, 100*stepSize, m.AMM.UserLpShares)

	_, err := h.apply(maker, remove)
	assert.ErrorIs(t, err, types.ErrCooldownActive)

	h.mustApply(admin, transition.MustNew(transition.KindUpdateLpCooldownTime, &transition.UpdateLpCooldownTime{Slots: 0}))
	r := h.mustApply(maker, remove)
	assert.Equal(t, event.KindLiquidity, r.Events[0].Kind)
	m = h.perpMarket(0)
	assert.Equal(t, sqrtK, m.AMM.SqrtK)
	assert.Zero(t, m.AMM.UserLpShares)

	_, err = h.apply(maker, transition.MustNew(transition.KindAddLiquidity, &transition.AddLiquidity{NShares: stepSize + 1}))
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
}

func TestScenario_LpAbsorbsTakerFlowAndKeeperSettles(t *testing.T) {
	h := newMarketsCore(t)
	maker, taker, keeper := uuid.New(), uuid.New(), uuid.New()
	h.fund(maker, 1_000*usdcScale)
	h.fund(taker, 100*usdcScale)
	shares := h.perpMarket(0).AMM.SqrtK / 10

	h.mustApply(maker, transition.MustNew(transition.KindAddLiquidity, &transition.AddLiquidity{NShares: shares - shares%stepSize}))
	h.mustApply(taker, open(state.Long, 50*fp.BasePrecision))

	r := h.mustApply(keeper, transition.MustNew(transition.KindSettleLp, &transition.SettleLp{Authority: maker}))
	require.Len(t, r.Events, 1)
	require.NotNil(t, r.Events[0].Authority)
	assert.Equal(t, maker, *r.Events[0].Authority)

	pos, err := h.user(maker, 0).PerpPosition(0)
	require.NoError(t, err)
	assert.Negative(t, pos.BaseAssetAmount, "the lp takes the other side of the long")
	assert.Equal(t, h.perpMarket(0).AMM.BaseAssetAmountWithAmm, 50*fp.BasePrecision+pos.BaseAssetAmount)
}

func TestScenario_KeeperFunding(t *testing.T) {
	h := newMarketsCore(t)
	keeper, trader := uuid.New(), uuid.New()
	h.fund(trader, 100*usdcScale)
	h.mustApply(trader, open(state.Long, 100*fp.BasePrecision))

	before := h.perpMarket(0).AMM
	r := h.mustApply(keeper, transition.MustNew(transition.KindUpdateAMM, &transition.UpdateAMM{MarketIndexes: []uint16{0}}))
	require.Len(t, r.Events, 1)
	assert.Equal(t, event.KindFunding, r.Events[0].Kind)
	after := h.perpMarket(0).AMM
	assert.Greater(t, after.LastUpdateSlot, before.LastUpdateSlot)
	assert.Equal(t, before.CumulativeFundingRate, after.CumulativeFundingRate, "no period elapsed")

	// An hour later with a fresh oracle below mark, longs pay.
	h.skew += fp.OneHourSeconds
	h.setPrice(fp.PricePrecision)
	h.mustApply(keeper, transition.MustNew(transition.KindUpdateAMM, &transition.UpdateAMM{MarketIndexes: []uint16{0}}))
	after = h.perpMarket(0).AMM
	assert.Positive(t, after.CumulativeFundingRate)
	assert.Equal(t, before.LastFundingRateTs+fp.OneHourSeconds, after.LastFundingRateTs)

	// A stale oracle skips funding but still advances the market.
	h.skew += fp.OneHourSeconds
	h.n += 500
	slot := h.perpMarket(0).AMM.LastUpdateSlot
	h.mustApply(keeper, transition.MustNew(transition.KindUpdateAMM, &transition.UpdateAMM{MarketIndexes: []uint16{0}}))
	stale := h.perpMarket(0).AMM
	assert.Greater(t, stale.LastUpdateSlot, slot)
	assert.Equal(t, after.CumulativeFundingRate, stale.CumulativeFundingRate)

	_, err := h.apply(keeper, transition.MustNew(transition.KindUpdateAMM, &transition.UpdateAMM{}))
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestScenario_InsuranceFundStakeLifecycle(t *testing.T) {
	h := newMarketsCore(t)
	staker := uuid.New()
	h.fund(staker, 10*usdcScale)

	_, err := h.apply(staker, transition.MustNew(transition.KindAddInsuranceFundStake, &transition.AddInsuranceFundStake{Amount: usdcScale}))
	assert.ErrorIs(t, err, types.ErrAccountNotFound)

	h.mustApply(staker, transition.MustNew(transition.KindInitializeInsuranceFundStake, &transition.InitializeInsuranceFundStake{}))
	h.mustApply(staker, transition.MustNew(transition.KindAddInsuranceFundStake, &transition.AddInsuranceFundStake{Amount: usdcScale}))
	stats, ok := h.core.State().UserStats(staker)
	require.True(t, ok)
	assert.Equal(t, usdcScale, stats.IfStakedQuoteAssetAmount)

	h.mustApply(staker, transition.MustNew(transition.KindRequestRemoveInsuranceFundStake, &transition.RequestRemoveInsuranceFundStake{Amount: usdcScale}))
	_, err = h.apply(staker, transition.MustNew(transition.KindRemoveInsuranceFundStake, &transition.RemoveInsuranceFundStake{}))
	assert.ErrorIs(t, err, types.ErrCooldownActive)

	h.mustApply(staker, transition.MustNew(transition.KindCancelRequestRemoveInsuranceFundStake, &transition.CancelRequestRemoveInsuranceFundStake{}))
	_, err = h.apply(staker, transition.MustNew(transition.KindRemoveInsuranceFundStake, &transition.RemoveInsuranceFundStake{}))
	assert.ErrorIs(t, err, types.ErrNoWithdrawRequest)

	h.mustApply(admin, transition.MustNew(transition.KindUpdateInsuranceFundUnstakingPeriod, &transition.UpdateInsuranceFundUnstakingPeriod{Seconds: 0}))
	h.mustApply(staker, transition.MustNew(transition.KindRequestRemoveInsuranceFundStake, &transition.RequestRemoveInsuranceFundStake{Amount: usdcScale}))
	r := h.mustApply(staker, transition.MustNew(transition.KindRemoveInsuranceFundStake, &transition.RemoveInsuranceFundStake{}))
	assert.Equal(t, event.KindStake, r.Events[0].Kind)

	stats, _ = h.core.State().UserStats(staker)
	assert.Zero(t, stats.IfStakedQuoteAssetAmount)
	quote, _ := h.core.State().SpotMarket(0)
	assert.Zero(t, quote.InsuranceFund.VaultAmount)
	require.NoError(t, h.core.ValidateGlobalBalance())
}

func TestScenario_PartialLiquidation(t *testing.T) {
	h := newMarketsCore(t)
	target, liquidator := uuid.New(), uuid.New()
	h.fund(target, 10*usdcScale)
	h.fund(liquidator, 100*usdcScale)
	h.mustApply(target, open(state.Short, 30*fp.BasePrecision))

	liquidate := func(max int64) transition.Instruction {
		return transition.MustNew(transition.KindLiquidatePerp, &transition.LiquidatePerp{
			TargetAuthority: target, MaxBaseAmount: max,
		})
	}

	_, err := h.apply(liquidator, liquidate(3*fp.BasePrecision))
	assert.ErrorIs(t, err, types.ErrLiquidationNotAllowed)

	h.setPrice(1_500_000)
	r := h.mustApply(liquidator, liquidate(3*fp.BasePrecision))
	assert.NoError(t, r.BadDebt)
	require.Len(t, r.Events, 1)
	assert.Equal(t, event.KindLiquidation, r.Events[0].Kind)

	tpos, err := h.user(target, 0).PerpPosition(0)
	require.NoError(t, err)
	assert.Equal(t, -27*fp.BasePrecision, tpos.BaseAssetAmount)
	lpos, err := h.user(liquidator, 0).PerpPosition(0)
	require.NoError(t, err)
	assert.Equal(t, -3*fp.BasePrecision, lpos.BaseAssetAmount)
	assert.Equal(t, state.StatusPartiallyLiquidated, h.user(target, 0).Status)
	assert.Equal(t, -30*fp.BasePrecision, h.perpMarket(0).AMM.BaseAssetAmountWithAmm)
}

func TestScenario_RecoveredAccountReturnsToHealthy(t *testing.T) {
	h := newMarketsCore(t)
	target, liquidator := uuid.New(), uuid.New()
	h.fund(target, 10*usdcScale)
	h.fund(liquidator, 100*usdcScale)
	h.mustApply(target, open(state.Short, 30*fp.BasePrecision))

	h.setPrice(1_500_000)
	h.mustApply(liquidator, transition.MustNew(transition.KindLiquidatePerp, &transition.LiquidatePerp{
		TargetAuthority: target, MaxBaseAmount: 3 * fp.BasePrecision,
	}))
	require.Equal(t, state.StatusPartiallyLiquidated, h.user(target, 0).Status)

	h.mustApply(target, transition.MustNew(transition.KindDeposit, &transition.Deposit{
		MarketIndex: 0,
		Amount:      100 * usdcScale,
	}))
	assert.Equal(t, state.StatusHealthy, h.user(target, 0).Status)
	require.NoError(t, h.core.ValidateGlobalBalance())
}

func TestScenario_BankruptcyReportsBadDebt(t *testing.T) {
	h := newMarketsCore(t)
	target, liquidator := uuid.New(), uuid.New()
	h.fund(target, 10*usdcScale)
	h.fund(liquidator, 200*usdcScale)
	h.mustApply(target, open(state.Short, 40*fp.BasePrecision))

	h.setPrice(1_500_000)
	r := h.mustApply(liquidator, transition.MustNew(transition.KindLiquidatePerp, &transition.LiquidatePerp{
		TargetAuthority: target, MaxBaseAmount: 40 * fp.BasePrecision,
	}))
	require.Error(t, r.BadDebt)
	assert.True(t, errors.Is(r.BadDebt, types.ErrBadDebt))

	var reported *event.BadDebt
	for _, ev := range r.Events {
		if ev.Kind == event.KindBadDebt {
			bd := ev.Payload.(event.BadDebt)
			reported = &bd
		}
	}
	require.NotNil(t, reported, "bad debt is published as its own event")
	assert.Equal(t, target, reported.Target)
	assert.Positive(t, reported.Amount)
	assert.Equal(t, h.perpMarket(0).TotalBadDebt, reported.TotalBadDebt)

	u := h.user(target, 0)
	assert.Equal(t, state.StatusHealthy, u.Status)
	_, err := u.PerpPosition(0)
	assert.ErrorIs(t, err, types.ErrPositionNotFound)

	quote, _ := h.core.State().SpotMarket(0)
	require.NoError(t, spot.ValidateVault(quote))
	require.NoError(t, h.core.ValidateGlobalBalance())
}

func TestScenario_BadDebtFromEveryLiquidationIsReported(t *testing.T) {
	h := newMarketsCore(t)
	first, second, liquidator := uuid.New(), uuid.New(), uuid.New()
	h.fund(first, 10*usdcScale)
	h.fund(second, 10*usdcScale)
	h.fund(liquidator, 500*usdcScale)
	h.mustApply(first, open(state.Short, 40*fp.BasePrecision))
	h.mustApply(second, open(state.Short, 40*fp.BasePrecision))

	h.setPrice(1_500_000)
	liquidate := func(target uuid.UUID) transition.Instruction {
		return transition.MustNew(transition.KindLiquidatePerp, &transition.LiquidatePerp{
			TargetAuthority: target, MaxBaseAmount: 40 * fp.BasePrecision,
		})
	}
	r := h.mustApply(liquidator, liquidate(first), liquidate(second))

	var reported int
	for _, ev := range r.Events {
		if ev.Kind == event.KindBadDebt {
			reported++
		}
	}
	require.Equal(t, 2, reported)
	require.Error(t, r.BadDebt)
	assert.True(t, errors.Is(r.BadDebt, types.ErrBadDebt))
	joined, ok := r.BadDebt.(interface{ Unwrap() []error })
	require.True(t, ok)
	assert.Len(t, joined.Unwrap(), 2, "one error per liquidation that left bad debt")
}

func TestScenario_UserBaseMatchesMarket(t *testing.T) {
	h := newMarketsCore(t)
	a, b := uuid.New(), uuid.New()
	h.fund(a, 50*usdcScale)
	h.fund(b, 50*usdcScale)
	h.mustApply(a, open(state.Long, 20*fp.BasePrecision))
	h.mustApply(b, open(state.Short, 5*fp.BasePrecision))

	var total int64
	h.core.State().AscendUsers(func(u *state.UserAccount) bool {
		for _, p := range u.PerpPositions {
			total += p.BaseAssetAmount
		}
		return true
	})
	assert.Equal(t, h.perpMarket(0).AMM.BaseAssetAmountWithAmm, total)
	assert.Equal(t, 15*fp.BasePrecision, total)
}
