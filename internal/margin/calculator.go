// Package margin computes cross-margin collateral and requirements for a
// user account from spot balances and perp positions.
package margin

import (
	"math"

	errorsmod "cosmossdk.io/errors"

	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/oracle"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// Calculation is the margin picture of one account at one margin kind.
// All amounts are in QuotePrecision.
type Calculation struct {
	Kind              state.MarginKind
	TotalCollateral   int64
	MarginRequirement int64
	UnrealizedPnl     int64
	// NumPerpLiabilities counts perp positions contributing to the requirement.
	NumPerpLiabilities int
}

// HealthRatio is max(collateral, 0) / requirement in MarginPrecision.
// With no requirement the account cannot be unhealthy: MaxInt64.
func (c Calculation) HealthRatio() int64 {
	if c.MarginRequirement <= 0 {
		return math.MaxInt64
	}
	if c.TotalCollateral <= 0 {
		return 0
	}
	r, err := fp.MulDiv(c.TotalCollateral, fp.MarginPrecision, c.MarginRequirement, fp.RoundDown)
	if err != nil {
		return math.MaxInt64
	}
	return r
}

// MeetsRequirement reports health ratio >= 1.0.
func (c Calculation) MeetsRequirement() bool {
	return c.TotalCollateral >= c.MarginRequirement
}

// FreeCollateral is collateral above the requirement, floored at zero.
func (c Calculation) FreeCollateral() int64 {
	return fp.Max(c.TotalCollateral-c.MarginRequirement, 0)
}

// Calculate computes the account's margin at kind. Every oracle involved
// must pass the margin staleness and confidence checks.
func Calculate(tx *state.Tx, u *state.UserAccount, kind state.MarginKind) (Calculation, error) {
	calc := Calculation{Kind: kind}

	for i := range u.SpotPositions {
		sp := &u.SpotPositions[i]
		if sp.IsAvailable() {
			continue
		}
		m, err := tx.SpotMarket(sp.MarketIndex)
		if err != nil {
			return calc, err
		}
		pd, err := tx.ValidOraclePrice(m.Oracle, oracle.ForMargin)
		if err != nil {
			return calc, errorsmod.Wrapf(err, "spot market %d", m.MarketIndex)
		}
		tokens, err := m.TokenAmount(sp.ScaledBalance, sp.BalanceType)
		if err != nil {
			return calc, types.Overflow(err, "spot token amount")
		}
		if sp.BalanceType == state.SpotBalanceDeposit {
			value, err := fp.TokenValue(tokens, m.Decimals, pd.Price, fp.RoundDown)
			if err != nil {
				return calc, types.Overflow(err, "spot asset value")
			}
			weighted, err := fp.MulDiv(value, m.AssetWeight(kind), fp.SpotWeightPrecision, fp.RoundDown)
			if err != nil {
				return calc, types.Overflow(err, "spot asset weight")
			}
			calc.TotalCollateral += weighted
		} else {
			value, err := fp.TokenValue(tokens, m.Decimals, pd.Price, fp.RoundUp)
			if err != nil {
				return calc, types.Overflow(err, "spot liability value")
			}
			weighted, err := fp.MulDiv(value, m.LiabilityWeight(kind), fp.SpotWeightPrecision, fp.RoundUp)
			if err != nil {
				return calc, types.Overflow(err, "spot liability weight")
			}
			calc.MarginRequirement += weighted
		}
	}

	for i := range u.PerpPositions {
		pp := &u.PerpPositions[i]
		if pp.IsAvailable() {
			continue
		}
		m, err := tx.PerpMarket(pp.MarketIndex)
		if err != nil {
			return calc, err
		}
		pd, err := tx.ValidOraclePrice(m.Oracle, oracle.ForMargin)
		if err != nil {
			return calc, errorsmod.Wrapf(err, "perp market %d", m.MarketIndex)
		}
		pnl, err := UnrealizedPnl(pp, m, pd.Price)
		if err != nil {
			return calc, err
		}
		calc.UnrealizedPnl += pnl
		calc.TotalCollateral += pnl

		req, err := PositionRequirement(pp, m, pd.Price, kind)
		if err != nil {
			return calc, err
		}
		if req > 0 {
			calc.MarginRequirement += req
			calc.NumPerpLiabilities++
		}
	}

	return calc, nil
}

// UnrealizedPnl marks a position at price: base value + quote - pending funding.
func UnrealizedPnl(pp *state.PerpPosition, m *state.PerpMarket, price int64) (int64, error) {
	value, err := fp.BaseNotional(pp.BaseAssetAmount, price, fp.RoundDown)
	if err != nil {
		return 0, types.Overflow(err, "base value")
	}
	funding, err := fp.ComputeFundingPayment(pp.BaseAssetAmount, m.AMM.CumulativeFundingRate, pp.LastCumulativeFundingRate)
	if err != nil {
		return 0, types.Overflow(err, "pending funding")
	}
	return value + pp.QuoteAssetAmount - funding, nil
}

// PositionRequirement is (|base| + lp_shares) * price * margin_ratio.
// LP shares are charged as if fully converted into base.
func PositionRequirement(pp *state.PerpPosition, m *state.PerpMarket, price int64, kind state.MarginKind) (int64, error) {
	exposure := fp.Abs(pp.BaseAssetAmount) + pp.LpShares
	if exposure == 0 {
		return 0, nil
	}
	notional, err := fp.BaseNotional(exposure, price, fp.RoundUp)
	if err != nil {
		return 0, types.Overflow(err, "position notional")
	}
	req, err := fp.MulDiv(notional, m.MarginRatio(kind), fp.MarginPrecision, fp.RoundUp)
	if err != nil {
		return 0, types.Overflow(err, "position requirement")
	}
	return req, nil
}

// RequireInitial fails with ErrInsufficientCollateral when the account would
// sit below its initial margin requirement.
func RequireInitial(tx *state.Tx, u *state.UserAccount) error {
	calc, err := Calculate(tx, u, state.MarginInitial)
	if err != nil {
		return err
	}
	if !calc.MeetsRequirement() {
		return errorsmod.Wrapf(types.ErrInsufficientCollateral,
			"collateral %d below initial requirement %d", calc.TotalCollateral, calc.MarginRequirement)
	}
	return nil
}

// IsLiquidatable reports maintenance health below 1.0.
func IsLiquidatable(tx *state.Tx, u *state.UserAccount) (bool, Calculation, error) {
	calc, err := Calculate(tx, u, state.MarginMaintenance)
	if err != nil {
		return false, calc, err
	}
	return !calc.MeetsRequirement(), calc, nil
}
