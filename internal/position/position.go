// Package position applies perp trades to user positions: funding
// settlement, opening and closing against the AMM, and pnl settlement into
// the quote spot market.
package position

import (
	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// SettleFunding charges the position for every funding rate booked since
// its last snapshot. What users pay the AMM earns, so the payment also moves
// the fee pool.
func SettleFunding(pos *state.PerpPosition, m *state.PerpMarket) (int64, error) {
	payment, err := fp.ComputeFundingPayment(pos.BaseAssetAmount, m.AMM.CumulativeFundingRate, pos.LastCumulativeFundingRate)
	if err != nil {
		return 0, types.Overflow(err, "funding payment")
	}
	pos.QuoteAssetAmount -= payment
	pos.LastCumulativeFundingRate = m.AMM.CumulativeFundingRate
	m.AMM.TotalFeeMinusDistributions += payment
	return payment, nil
}

// ApplyFill books a signed base/quote change on a position and keeps the
// market's long and short open-interest totals in step.
func ApplyFill(pos *state.PerpPosition, m *state.PerpMarket, baseDelta, quoteDelta int64) {
	before := pos.BaseAssetAmount
	pos.BaseAssetAmount += baseDelta
	pos.QuoteAssetAmount += quoteDelta

	a := &m.AMM
	if before > 0 {
		a.BaseAssetAmountLong -= before
	} else {
		a.BaseAssetAmountShort -= before
	}
	if after := pos.BaseAssetAmount; after > 0 {
		a.BaseAssetAmountLong += after
	} else {
		a.BaseAssetAmountShort += after
	}
}

// IncreasesRisk reports whether moving from before to after grows the
// absolute exposure or flips its side.
func IncreasesRisk(before, after int64) bool {
	if after == 0 {
		return false
	}
	if before == 0 || fp.Sign(before) != fp.Sign(after) {
		return true
	}
	return fp.Abs(after) > fp.Abs(before)
}
