package amm

import (
	errorsmod "cosmossdk.io/errors"

	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/oracle"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// priceToleranceMicros is how far (in PercentagePrecision) a k update may
// move the reserve price through rounding alone.
const priceToleranceMicros = 10

// CurveUpdate reports the outcome of an admin curve change. Cost is in
// QuotePrecision and is charged to the fee pool; negative means the
// protocol gained.
type CurveUpdate struct {
	MarketIndex uint16
	OldSqrtK    int64
	NewSqrtK    int64
	OldPeg      int64
	NewPeg      int64
	OldPrice    int64
	NewPrice    int64
	Cost        int64
}

// UpdateK resizes the curve to newSqrtK at an unchanged price.
func UpdateK(tx *state.Tx, m *state.PerpMarket, newSqrtK int64) (CurveUpdate, error) {
	a := &m.AMM
	up := CurveUpdate{MarketIndex: m.MarketIndex, OldSqrtK: a.SqrtK, NewSqrtK: newSqrtK, OldPeg: a.PegMultiplier, NewPeg: a.PegMultiplier}
	if newSqrtK <= 0 {
		return up, errorsmod.Wrapf(types.ErrInvalidCurveUpdate, "sqrt_k must be > 0, got %d", newSqrtK)
	}
	if newSqrtK < a.UserLpShares {
		return up, errorsmod.Wrapf(types.ErrInvalidCurveUpdate, "sqrt_k %d below outstanding lp shares %d", newSqrtK, a.UserLpShares)
	}
	if err := checkStep("sqrt_k", a.SqrtK, newSqrtK, tx.Config().Curve.MaxKChange); err != nil {
		return up, err
	}

	var err error
	if up.OldPrice, err = a.ReservePrice(); err != nil {
		return up, types.Overflow(err, "reserve price")
	}
	before, err := terminalQuoteDelta(a)
	if err != nil {
		return up, err
	}

	next := *a
	if err := ScaleSqrtK(&next, newSqrtK); err != nil {
		return up, err
	}
	if up.NewPrice, err = next.ReservePrice(); err != nil {
		return up, types.Overflow(err, "reserve price")
	}
	tolerance := fp.Max(1, fp.MustMulDiv(up.OldPrice, priceToleranceMicros, fp.PercentagePrecision, fp.RoundDown))
	if fp.Abs(up.NewPrice-up.OldPrice) > tolerance {
		return up, errorsmod.Wrapf(types.ErrInvalidCurveUpdate, "price moved from %d to %d", up.OldPrice, up.NewPrice)
	}
	if next.BaseAssetReserve <= fp.Max(0, -next.BaseAssetAmountWithAmm) {
		return up, errorsmod.Wrapf(types.ErrInvalidCurveUpdate,
			"base reserve %d cannot absorb net short %d", next.BaseAssetReserve, -next.BaseAssetAmountWithAmm)
	}
	after, err := terminalQuoteDelta(&next)
	if err != nil {
		return up, err
	}
	if up.Cost, err = fp.QuoteAmount(after-before, a.PegMultiplier, fp.RoundUp); err != nil {
		return up, types.Overflow(err, "k update cost")
	}
	if err := chargeFeePool(&next, up.Cost); err != nil {
		return up, err
	}
	*a = next
	return up, nil
}

// Repeg moves the peg to newPeg. The oracle must be fresh enough for AMM
// use and the resulting price must land within the repeg band around it.
func Repeg(tx *state.Tx, m *state.PerpMarket, newPeg int64) (CurveUpdate, error) {
	a := &m.AMM
	up := CurveUpdate{MarketIndex: m.MarketIndex, OldSqrtK: a.SqrtK, NewSqrtK: a.SqrtK, OldPeg: a.PegMultiplier, NewPeg: newPeg}
	if newPeg <= 0 {
		return up, errorsmod.Wrapf(types.ErrInvalidCurveUpdate, "peg must be > 0, got %d", newPeg)
	}
	pd, err := tx.ValidOraclePrice(m.Oracle, oracle.ForAmm)
	if err != nil {
		return up, err
	}
	limits := tx.Config().Curve
	if err := checkStep("peg", a.PegMultiplier, newPeg, limits.MaxPegChange); err != nil {
		return up, err
	}

	if up.OldPrice, err = a.ReservePrice(); err != nil {
		return up, types.Overflow(err, "reserve price")
	}
	if up.NewPrice, err = fp.ReservePrice(a.BaseAssetReserve, a.QuoteAssetReserve, newPeg); err != nil {
		return up, types.Overflow(err, "reserve price")
	}
	band, err := fp.MulDiv(fp.Abs(up.NewPrice-pd.Price), fp.PercentagePrecision, pd.Price, fp.RoundUp)
	if err != nil {
		return up, types.Overflow(err, "oracle band")
	}
	if band > limits.RepegOracleBand {
		return up, errorsmod.Wrapf(types.ErrInvalidCurveUpdate,
			"repegged price %d is %d ppm from oracle %d (band %d)", up.NewPrice, band, pd.Price, limits.RepegOracleBand)
	}

	delta, err := terminalQuoteDelta(a)
	if err != nil {
		return up, err
	}
	if up.Cost, err = fp.MulDiv(delta, newPeg-a.PegMultiplier, fp.AmmTimesPegToQuotePrecisionRatio, fp.RoundUp); err != nil {
		return up, types.Overflow(err, "repeg cost")
	}
	next := *a
	if err := chargeFeePool(&next, up.Cost); err != nil {
		return up, err
	}
	next.PegMultiplier = newPeg
	next.LastOraclePrice = pd.Price
	*a = next
	return up, nil
}

// terminalQuoteDelta is the quote reserve users would draw by closing
// their net position: Q - ceil(k^2 / (B + net)).
func terminalQuoteDelta(a *state.AMM) (int64, error) {
	terminalBase := a.BaseAssetReserve + a.BaseAssetAmountWithAmm
	if terminalBase <= 0 {
		return 0, errorsmod.Wrapf(types.ErrInvalidCurveUpdate, "net position %d exceeds base reserve", a.BaseAssetAmountWithAmm)
	}
	q, err := fp.QuoteReserveFor(a.SqrtK, terminalBase)
	if err != nil {
		return 0, types.Overflow(err, "terminal quote reserve")
	}
	return a.QuoteAssetReserve - q, nil
}

func chargeFeePool(a *state.AMM, cost int64) error {
	if cost > 0 && cost > a.TotalFeeMinusDistributions {
		return errorsmod.Wrapf(types.ErrInvalidCurveUpdate,
			"curve update costs %d, fee pool holds %d", cost, a.TotalFeeMinusDistributions)
	}
	a.TotalFeeMinusDistributions -= cost
	return nil
}

func checkStep(name string, old, next, max int64) error {
	change, err := fp.MulDiv(fp.Abs(next-old), fp.PercentagePrecision, old, fp.RoundUp)
	if err != nil {
		return types.Overflow(err, name+" step")
	}
	if change > max {
		return errorsmod.Wrapf(types.ErrInvalidCurveUpdate, "%s change %d ppm exceeds %d", name, change, max)
	}
	return nil
}
