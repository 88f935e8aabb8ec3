// Package amm prices trades on a perp market's virtual constant-product
// curve and owns every mutation of its reserves, peg and funding.
package amm

import (
	errorsmod "cosmossdk.io/errors"

	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// Swap is a priced trade against the curve, not yet applied.
type Swap struct {
	Direction state.PositionDirection
	// BaseDelta is the taker's signed base change.
	BaseDelta int64
	// QuoteAmount is the unsigned quote paid (long) or received (short).
	QuoteAmount int64

	NewBaseReserve  int64
	NewQuoteReserve int64
}

// QuoteDelta is the taker's signed quote change before fees.
func (s Swap) QuoteDelta() int64 {
	if s.Direction == state.Long {
		return -s.QuoteAmount
	}
	return s.QuoteAmount
}

// CalculateSwap prices baseAmount in direction. A long takes base out of
// the curve and a short puts it in. Cost rounds up and proceeds round
// down, so rounding always favours the AMM.
func CalculateSwap(a *state.AMM, dir state.PositionDirection, baseAmount int64) (Swap, error) {
	if baseAmount <= 0 {
		return Swap{}, errorsmod.Wrapf(types.ErrInvalidAmount, "swap size must be > 0, got %d", baseAmount)
	}
	s := Swap{Direction: dir}
	if dir == state.Long {
		if baseAmount >= a.BaseAssetReserve {
			return Swap{}, errorsmod.Wrapf(types.ErrInvalidAmount, "long %d exhausts base reserve %d", baseAmount, a.BaseAssetReserve)
		}
		s.NewBaseReserve = a.BaseAssetReserve - baseAmount
		s.BaseDelta = baseAmount
	} else {
		next, err := fp.CheckedAdd(a.BaseAssetReserve, baseAmount)
		if err != nil {
			return Swap{}, types.Overflow(err, "base reserve")
		}
		s.NewBaseReserve = next
		s.BaseDelta = -baseAmount
	}

	q, err := fp.QuoteReserveFor(a.SqrtK, s.NewBaseReserve)
	if err != nil {
		return Swap{}, types.Overflow(err, "quote reserve")
	}
	s.NewQuoteReserve = q

	if dir == state.Long {
		s.QuoteAmount, err = fp.QuoteAmount(q-a.QuoteAssetReserve, a.PegMultiplier, fp.RoundUp)
	} else {
		s.QuoteAmount, err = fp.QuoteAmount(a.QuoteAssetReserve-q, a.PegMultiplier, fp.RoundDown)
	}
	if err != nil {
		return Swap{}, types.Overflow(err, "swap quote")
	}
	return s, nil
}

// ApplySwap commits a priced swap to the curve and accrues the AMM side of
// the trade to LP per-share accumulators.
func ApplySwap(a *state.AMM, s Swap) error {
	a.BaseAssetReserve = s.NewBaseReserve
	a.QuoteAssetReserve = s.NewQuoteReserve
	a.BaseAssetAmountWithAmm += s.BaseDelta

	ammQuote := s.QuoteAmount
	if s.Direction == state.Short {
		ammQuote = -ammQuote
	}
	return accruePerLp(a, -s.BaseDelta, ammQuote)
}

// DistributeFee books a taker fee. The LP-owned fraction of the curve
// (user_lp_shares / sqrt_k) accrues to LPs; the rest joins the fee pool.
func DistributeFee(a *state.AMM, fee int64) error {
	if fee <= 0 {
		return nil
	}
	perShare, err := fp.MulDiv(fee, fp.AmmReservePrecision, a.SqrtK, fp.RoundDown)
	if err != nil {
		return types.Overflow(err, "fee per lp")
	}
	lpFee, err := fp.MulDiv(perShare, a.UserLpShares, fp.AmmReservePrecision, fp.RoundDown)
	if err != nil {
		return types.Overflow(err, "lp fee")
	}
	a.QuoteAssetAmountPerLp += perShare
	a.TotalFee += fee
	a.TotalFeeMinusDistributions += fee - lpFee
	return nil
}

func accruePerLp(a *state.AMM, ammBase, ammQuote int64) error {
	if a.UserLpShares == 0 {
		return nil
	}
	base, err := fp.MulDiv(ammBase, fp.AmmReservePrecision, a.SqrtK, fp.RoundDown)
	if err != nil {
		return types.Overflow(err, "base per lp")
	}
	quote, err := fp.MulDiv(ammQuote, fp.AmmReservePrecision, a.SqrtK, fp.RoundDown)
	if err != nil {
		return types.Overflow(err, "quote per lp")
	}
	a.BaseAssetAmountPerLp += base
	a.QuoteAssetAmountPerLp += quote
	return nil
}

// ScaleSqrtK moves the curve to newSqrtK with both reserves scaled by
// new/old, which keeps the reserve price within rounding.
func ScaleSqrtK(a *state.AMM, newSqrtK int64) error {
	if newSqrtK <= 0 {
		return errorsmod.Wrapf(types.ErrInvalidCurveUpdate, "sqrt_k must be > 0, got %d", newSqrtK)
	}
	newBase, err := fp.ScaleReserve(a.BaseAssetReserve, newSqrtK, a.SqrtK, fp.RoundDown)
	if err != nil {
		return types.Overflow(err, "scaled base reserve")
	}
	if newBase <= 0 {
		return errorsmod.Wrapf(types.ErrInvalidCurveUpdate, "sqrt_k %d empties base reserve", newSqrtK)
	}
	newQuote, err := fp.QuoteReserveFor(newSqrtK, newBase)
	if err != nil {
		return types.Overflow(err, "scaled quote reserve")
	}
	a.BaseAssetReserve = newBase
	a.QuoteAssetReserve = newQuote
	a.SqrtK = newSqrtK
	return nil
}
