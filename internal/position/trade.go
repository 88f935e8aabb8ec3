package position

import (
	errorsmod "cosmossdk.io/errors"
	"github.com/google/uuid"

	"VAMMLedger/internal/amm"
	"VAMMLedger/internal/margin"
	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// Fill is the outcome of one trade against the AMM.
type Fill struct {
	MarketIndex     uint16
	Direction       state.PositionDirection
	BaseDelta       int64
	QuoteDelta      int64 // after fee
	Fee             int64
	FundingPaid     int64
	BaseAfter       int64
	QuoteAfter      int64
	ReservePriceNow int64
}

// Open trades baseAmount in direction for the subaccount. Trades that grow
// or flip the position must leave the account above initial margin.
func Open(tx *state.Tx, authority uuid.UUID, subAccountID uint16, dir state.PositionDirection, baseAmount int64, marketIndex uint16) (Fill, error) {
	m, err := tx.PerpMarket(marketIndex)
	if err != nil {
		return Fill{}, err
	}
	if baseAmount <= 0 || baseAmount%m.AMM.OrderStepSize != 0 {
		return Fill{}, errorsmod.Wrapf(types.ErrInvalidAmount,
			"base amount %d must be a positive multiple of step %d", baseAmount, m.AMM.OrderStepSize)
	}
	u, err := tx.User(state.UserKey{Authority: authority, SubAccountID: subAccountID})
	if err != nil {
		return Fill{}, err
	}
	return trade(tx, u, m, dir, baseAmount)
}

// Close unwinds the full base position with an opposite trade. The realized
// quote stays on the position until pnl is settled.
func Close(tx *state.Tx, authority uuid.UUID, subAccountID, marketIndex uint16) (Fill, error) {
	m, err := tx.PerpMarket(marketIndex)
	if err != nil {
		return Fill{}, err
	}
	u, err := tx.User(state.UserKey{Authority: authority, SubAccountID: subAccountID})
	if err != nil {
		return Fill{}, err
	}
	pos, err := u.PerpPosition(marketIndex)
	if err != nil {
		return Fill{}, err
	}
	if !pos.IsOpen() {
		return Fill{}, errorsmod.Wrapf(types.ErrPositionNotFound, "no open base in market %d", marketIndex)
	}
	dir := state.Short
	if pos.BaseAssetAmount < 0 {
		dir = state.Long
	}
	return trade(tx, u, m, dir, fp.Abs(pos.BaseAssetAmount))
}

func trade(tx *state.Tx, u *state.UserAccount, m *state.PerpMarket, dir state.PositionDirection, baseAmount int64) (Fill, error) {
	fill := Fill{MarketIndex: m.MarketIndex, Direction: dir}
	pos, err := u.ForcePerpPosition(m.MarketIndex)
	if err != nil {
		return fill, err
	}
	if fill.FundingPaid, err = SettleFunding(pos, m); err != nil {
		return fill, err
	}

	swap, err := amm.CalculateSwap(&m.AMM, dir, baseAmount)
	if err != nil {
		return fill, err
	}
	if err := amm.ApplySwap(&m.AMM, swap); err != nil {
		return fill, err
	}

	fee, err := fp.MulDiv(swap.QuoteAmount, tx.Config().Fees.TakerFee, fp.PercentagePrecision, fp.RoundUp)
	if err != nil {
		return fill, types.Overflow(err, "taker fee")
	}
	if err := amm.DistributeFee(&m.AMM, fee); err != nil {
		return fill, err
	}

	before := pos.BaseAssetAmount
	fill.BaseDelta = swap.BaseDelta
	fill.QuoteDelta = swap.QuoteDelta() - fee
	fill.Fee = fee
	ApplyFill(pos, m, fill.BaseDelta, fill.QuoteDelta)
	fill.BaseAfter = pos.BaseAssetAmount
	fill.QuoteAfter = pos.QuoteAssetAmount
	if fill.ReservePriceNow, err = m.AMM.ReservePrice(); err != nil {
		return fill, types.Overflow(err, "reserve price")
	}

	stats, err := tx.UserStats(u.Authority)
	if err != nil {
		return fill, err
	}
	stats.FeesPaid += fee
	stats.TakerVolume += swap.QuoteAmount

	if IncreasesRisk(before, pos.BaseAssetAmount) {
		if err := margin.RequireInitial(tx, u); err != nil {
			return fill, err
		}
	}
	return fill, nil
}
