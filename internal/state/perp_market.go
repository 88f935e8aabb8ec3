package state

import (
	"fmt"

	errorsmod "cosmossdk.io/errors"

	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/types"
)

// AMM is the virtual constant-product curve behind a perp market.
// Reserves are in AmmReservePrecision, peg in PegPrecision.
type AMM struct {
	BaseAssetReserve  int64
	QuoteAssetReserve int64
	SqrtK             int64
	PegMultiplier     int64
	LastUpdateSlot    uint64
	OrderStepSize     int64

	FundingPeriod         int64
	LastFundingRateTs     int64
	LastFundingRate       int64
	CumulativeFundingRate int64
	LastOraclePrice       int64

	// BaseAssetAmountWithAmm is the users' net base position; the AMM holds
	// its negation.
	BaseAssetAmountWithAmm int64
	BaseAssetAmountLong    int64
	BaseAssetAmountShort   int64

	UserLpShares          int64
	BaseAssetAmountPerLp  int64
	QuoteAssetAmountPerLp int64

	TotalFee                   int64
	TotalFeeMinusDistributions int64
}

// ReservePrice is quote * peg / base, in PricePrecision.
func (a *AMM) ReservePrice() (int64, error) {
	return fp.ReservePrice(a.BaseAssetReserve, a.QuoteAssetReserve, a.PegMultiplier)
}

// CheckInvariant verifies quote == ceil(sqrt_k^2 / base). That pins
// isqrt(base*quote) to sqrt_k while base <= 2*sqrt_k; past that skew the
// ceiling alone can lift isqrt(base*quote) to sqrt_k+1, and the curve form
// stays authoritative.
func (a *AMM) CheckInvariant() error {
	want, err := fp.QuoteReserveFor(a.SqrtK, a.BaseAssetReserve)
	if err != nil {
		return types.Overflow(err, "amm invariant")
	}
	if want != a.QuoteAssetReserve {
		return errorsmod.Wrapf(types.ErrInvariantViolation,
			"quote reserve %d off curve (sqrt_k=%d base=%d want=%d)",
			a.QuoteAssetReserve, a.SqrtK, a.BaseAssetReserve, want)
	}
	return nil
}

// PoolBalance is a spot deposit owned by a market rather than a user.
type PoolBalance struct {
	ScaledBalance int64
}

// PerpMarket is one perpetual contract.
type PerpMarket struct {
	MarketIndex            uint16
	Oracle                 OracleRef
	QuoteSpotMarketIndex   uint16
	MarginRatioInitial     int64 // MarginPrecision
	MarginRatioMaintenance int64 // MarginPrecision

	AMM AMM

	// PnlPool holds realized losses until winners settle against it.
	PnlPool            PoolBalance
	TotalBadDebt       int64
	TotalInsuranceDraw int64
	TotalFeePoolDraw   int64
}

// MarginRatio returns the ratio for the requested margin kind.
func (m *PerpMarket) MarginRatio(kind MarginKind) int64 {
	if kind == MarginInitial {
		return m.MarginRatioInitial
	}
	return m.MarginRatioMaintenance
}

// Validate checks the static parameters of a perp market.
func (m *PerpMarket) Validate() error {
	if m.MarginRatioMaintenance <= 0 {
		return fmt.Errorf("margin_ratio_maintenance must be > 0, got %d", m.MarginRatioMaintenance)
	}
	if m.MarginRatioInitial <= m.MarginRatioMaintenance {
		return fmt.Errorf("margin_ratio_initial (%d) must be > maintenance (%d)", m.MarginRatioInitial, m.MarginRatioMaintenance)
	}
	if m.MarginRatioInitial > fp.MarginPrecision {
		return fmt.Errorf("margin_ratio_initial must be <= %d, got %d", fp.MarginPrecision, m.MarginRatioInitial)
	}
	if m.AMM.PegMultiplier <= 0 {
		return fmt.Errorf("peg_multiplier must be > 0")
	}
	if m.AMM.OrderStepSize <= 0 {
		return fmt.Errorf("order_step_size must be > 0")
	}
	if m.AMM.FundingPeriod <= 0 {
		return fmt.Errorf("funding_period must be > 0")
	}
	return nil
}
