// Package liquidation transfers under-collateralized perp exposure to
// liquidators and resolves bankrupt accounts against the configured loss
// absorbers.
package liquidation

import (
	errorsmod "cosmossdk.io/errors"

	"VAMMLedger/internal/margin"
	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/oracle"
	"VAMMLedger/internal/position"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// Request names the two parties and bounds the transfer.
type Request struct {
	Liquidator    state.UserKey
	Target        state.UserKey
	MarketIndex   uint16
	MaxBaseAmount int64
}

// Result reports one liquidation call.
type Result struct {
	MarketIndex      uint16
	OraclePrice      int64
	Discount         int64 // PercentagePrecision
	BaseTransferred  int64 // unsigned
	QuoteTransferred int64 // unsigned, paid by the side taking on the long
	HealthBefore     int64
	HealthAfter      int64
	StatusAfter      state.LiquidationStatus
	Bankruptcy       *Bankruptcy
	// BadDebt wraps types.ErrBadDebt when a loss was left unabsorbed.
	// The liquidation still commits.
	BadDebt error `json:"-"`
}

// LiquidatePerp moves up to MaxBaseAmount of the target's position in the
// market to the liquidator at a discount to the oracle price, stopping
// once the target is back above maintenance margin. A target left flat with
// a negative quote and negative collateral is resolved as bankrupt.
func LiquidatePerp(tx *state.Tx, req Request) (Result, error) {
	res := Result{MarketIndex: req.MarketIndex}
	m, err := tx.PerpMarket(req.MarketIndex)
	if err != nil {
		return res, err
	}
	if req.Liquidator == req.Target {
		return res, errorsmod.Wrap(types.ErrInvalidParameter, "an account cannot liquidate itself")
	}
	if req.MaxBaseAmount <= 0 {
		return res, errorsmod.Wrapf(types.ErrInvalidAmount, "max base amount must be > 0, got %d", req.MaxBaseAmount)
	}
	pd, err := tx.ValidOraclePrice(m.Oracle, oracle.ForMargin)
	if err != nil {
		return res, err
	}
	res.OraclePrice = pd.Price

	target, err := tx.User(req.Target)
	if err != nil {
		return res, err
	}
	liquidator, err := tx.User(req.Liquidator)
	if err != nil {
		return res, err
	}
	pos, err := target.PerpPosition(req.MarketIndex)
	if err != nil {
		return res, err
	}
	if _, err := position.SettleFunding(pos, m); err != nil {
		return res, err
	}

	before, err := margin.Calculate(tx, target, state.MarginMaintenance)
	if err != nil {
		return res, err
	}
	res.HealthBefore = before.HealthRatio()
	if before.MeetsRequirement() {
		return res, errorsmod.Wrapf(types.ErrLiquidationNotAllowed,
			"collateral %d covers maintenance requirement %d", before.TotalCollateral, before.MarginRequirement)
	}
	if target.Status == state.StatusHealthy {
		if err := target.TransitionTo(state.StatusLiquidatable); err != nil {
			return res, err
		}
	}

	if pos.IsOpen() {
		if err := transfer(tx, &res, req, m, target, liquidator, pos, before, pd.Price); err != nil {
			return res, err
		}
	} else if !isBankrupt(pos, before) {
		return res, errorsmod.Wrapf(types.ErrPositionNotFound, "no open base in market %d", req.MarketIndex)
	}

	after, err := margin.Calculate(tx, target, state.MarginMaintenance)
	if err != nil {
		return res, err
	}
	if isBankrupt(pos, after) {
		if err := target.TransitionTo(state.StatusBankrupt); err != nil {
			return res, err
		}
		if res.Bankruptcy, err = resolveBankruptcy(tx, m, target, pos); err != nil {
			return res, err
		}
		if res.Bankruptcy.BadDebt > 0 {
			res.BadDebt = errorsmod.Wrapf(types.ErrBadDebt,
				"market %d: %d of %d loss unabsorbed", m.MarketIndex, res.Bankruptcy.BadDebt, res.Bankruptcy.Loss)
		}
		if after, err = margin.Calculate(tx, target, state.MarginMaintenance); err != nil {
			return res, err
		}
	}

	res.HealthAfter = after.HealthRatio()
	next := state.StatusPartiallyLiquidated
	if after.MeetsRequirement() || target.Status == state.StatusBankrupt {
		next = state.StatusHealthy
	}
	if err := target.TransitionTo(next); err != nil {
		return res, err
	}
	res.StatusAfter = target.Status
	return res, nil
}

func transfer(
	tx *state.Tx,
	res *Result,
	req Request,
	m *state.PerpMarket,
	target, liquidator *state.UserAccount,
	pos *state.PerpPosition,
	calc margin.Calculation,
	price int64,
) error {
	discount := EffectiveDiscount(tx.Config().Liquidation.LiquidatorDiscount, m.MarginRatioMaintenance, calc)
	res.Discount = discount

	size, err := TransferSize(calc, price, m.MarginRatioMaintenance, discount)
	if err != nil {
		return err
	}
	limit := fp.Min(fp.Abs(pos.BaseAssetAmount), req.MaxBaseAmount)
	size = fp.Min(fp.RoundUpToStep(fp.Min(size, limit), m.AMM.OrderStepSize), limit)
	if size <= 0 {
		return errorsmod.Wrap(types.ErrInvalidAmount, "nothing to transfer")
	}

	targetLong := pos.BaseAssetAmount > 0
	quote, err := transferQuote(size, price, discount, targetLong)
	if err != nil {
		return err
	}

	lpos, err := liquidator.ForcePerpPosition(m.MarketIndex)
	if err != nil {
		return err
	}
	if _, err := position.SettleFunding(lpos, m); err != nil {
		return err
	}
	if targetLong {
		position.ApplyFill(pos, m, -size, quote)
		position.ApplyFill(lpos, m, size, -quote)
	} else {
		position.ApplyFill(pos, m, size, -quote)
		position.ApplyFill(lpos, m, -size, quote)
	}
	res.BaseTransferred = size
	res.QuoteTransferred = quote

	return margin.RequireInitial(tx, liquidator)
}

// EffectiveDiscount caps the configured discount at mr * C / R so that the
// transfer cannot lower the target's health ratio. With no positive
// collateral there is nothing to give away.
func EffectiveDiscount(configured, maintenanceRatio int64, calc margin.Calculation) int64 {
	if calc.TotalCollateral <= 0 || calc.MarginRequirement <= 0 {
		return 0
	}
	mr := maintenanceRatio * (fp.PercentagePrecision / fp.MarginPrecision)
	ceiling, err := fp.MulDiv(mr, calc.TotalCollateral, calc.MarginRequirement, fp.RoundDown)
	if err != nil {
		return 0
	}
	return fp.Max(0, fp.Min(configured, ceiling))
}

// TransferSize is the base amount that restores maintenance health:
// (R - C) / (P * (mr - d)), rounded up.
func TransferSize(calc margin.Calculation, price, maintenanceRatio, discount int64) (int64, error) {
	deficit := calc.MarginRequirement - calc.TotalCollateral
	if deficit <= 0 {
		return 0, nil
	}
	net := maintenanceRatio*(fp.PercentagePrecision/fp.MarginPrecision) - discount
	if net <= 0 || price <= 0 {
		return 0, errorsmod.Wrapf(types.ErrInvalidParameter, "discount %d leaves no margin relief", discount)
	}
	denom, err := fp.MulDiv(price, net, 1, fp.RoundDown)
	if err != nil {
		return 0, types.Overflow(err, "liquidation denominator")
	}
	size, err := fp.MulDiv(deficit, fp.BasePrecision*fp.PercentagePrecision, denom, fp.RoundUp)
	if err != nil {
		return 0, types.Overflow(err, "liquidation size")
	}
	return size, nil
}

// transferQuote prices size at P*(1-d) when the target sells and P*(1+d)
// when it buys, rounding in the target's favour.
func transferQuote(size, price, discount int64, targetSells bool) (int64, error) {
	mode, factor := fp.RoundDown, fp.PercentagePrecision+discount
	if targetSells {
		mode, factor = fp.RoundUp, fp.PercentagePrecision-discount
	}
	notional, err := fp.BaseNotional(size, price, mode)
	if err != nil {
		return 0, types.Overflow(err, "liquidation notional")
	}
	q, err := fp.MulDiv(notional, factor, fp.PercentagePrecision, mode)
	if err != nil {
		return 0, types.Overflow(err, "liquidation quote")
	}
	return q, nil
}

func isBankrupt(pos *state.PerpPosition, calc margin.Calculation) bool {
	return !pos.IsOpen() && pos.LpShares == 0 && pos.QuoteAssetAmount < 0 && calc.TotalCollateral < 0
}
