package state

import (
	"fmt"

	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/oracle"
	"VAMMLedger/internal/types"
)

// QuoteSpotMarketIndex is the market every perp settles pnl in.
const QuoteSpotMarketIndex uint16 = 0

// OracleRef points a market at a feed and pins the expected encoding.
type OracleRef struct {
	Key    types.Symbol
	Source oracle.Source
}

// MarginKind selects initial or maintenance parameters.
type MarginKind uint8

const (
	MarginInitial MarginKind = iota
	MarginMaintenance
)

func (k MarginKind) String() string {
	if k == MarginInitial {
		return "initial"
	}
	return "maintenance"
}

// SpotMarket is one interest-bearing token market. Balances are scaled:
// tokens = scaled * cumulative_interest / 10^(19 - decimals).
type SpotMarket struct {
	MarketIndex uint16
	Mint        types.Symbol
	Decimals    uint32
	Oracle      OracleRef

	OptimalUtilization int64
	OptimalBorrowRate  int64
	MaxBorrowRate      int64

	InitialAssetWeight         int64
	MaintenanceAssetWeight     int64
	InitialLiabilityWeight     int64
	MaintenanceLiabilityWeight int64

	CumulativeDepositInterest int64
	CumulativeBorrowInterest  int64
	DepositBalance            int64
	BorrowBalance             int64
	LastInterestTs            int64

	// VaultAmount is the token amount held for depositors. It mirrors the
	// system:spot_vault ledger account.
	VaultAmount int64

	InsuranceFund InsuranceFund
}

// RateCurve returns the market's borrow-rate curve.
func (m *SpotMarket) RateCurve() fp.RateCurve {
	return fp.RateCurve{
		OptimalUtilization: m.OptimalUtilization,
		OptimalBorrowRate:  m.OptimalBorrowRate,
		MaxBorrowRate:      m.MaxBorrowRate,
	}
}

// DepositTokens returns the total deposited token amount.
func (m *SpotMarket) DepositTokens() (int64, error) {
	return fp.ScaledToToken(m.DepositBalance, m.Decimals, m.CumulativeDepositInterest, fp.RoundDown)
}

// BorrowTokens returns the total borrowed token amount.
func (m *SpotMarket) BorrowTokens() (int64, error) {
	return fp.ScaledToToken(m.BorrowBalance, m.Decimals, m.CumulativeBorrowInterest, fp.RoundUp)
}

// TokenAmount converts a position's scaled balance into tokens, rounding
// against the holder.
func (m *SpotMarket) TokenAmount(scaled int64, kind SpotBalanceType) (int64, error) {
	if kind == SpotBalanceBorrow {
		return fp.ScaledToToken(scaled, m.Decimals, m.CumulativeBorrowInterest, fp.RoundUp)
	}
	return fp.ScaledToToken(scaled, m.Decimals, m.CumulativeDepositInterest, fp.RoundDown)
}

// AssetWeight returns the collateral weight for deposits.
func (m *SpotMarket) AssetWeight(kind MarginKind) int64 {
	if kind == MarginInitial {
		return m.InitialAssetWeight
	}
	return m.MaintenanceAssetWeight
}

// LiabilityWeight returns the requirement weight for borrows.
func (m *SpotMarket) LiabilityWeight(kind MarginKind) int64 {
	if kind == MarginInitial {
		return m.InitialLiabilityWeight
	}
	return m.MaintenanceLiabilityWeight
}

// Validate checks the static parameters of a spot market.
func (m *SpotMarket) Validate() error {
	if m.Decimals == 0 || m.Decimals > 18 {
		return fmt.Errorf("decimals must be in [1, 18], got %d", m.Decimals)
	}
	if m.OptimalUtilization <= 0 || m.OptimalUtilization > fp.SpotUtilizationPrecision {
		return fmt.Errorf("optimal_utilization must be in (0, %d], got %d", fp.SpotUtilizationPrecision, m.OptimalUtilization)
	}
	if m.OptimalBorrowRate < 0 || m.MaxBorrowRate < m.OptimalBorrowRate {
		return fmt.Errorf("borrow rates must satisfy 0 <= optimal (%d) <= max (%d)", m.OptimalBorrowRate, m.MaxBorrowRate)
	}
	if m.InitialAssetWeight < 0 || m.InitialAssetWeight > fp.SpotWeightPrecision {
		return fmt.Errorf("initial_asset_weight must be in [0, %d], got %d", fp.SpotWeightPrecision, m.InitialAssetWeight)
	}
	if m.MaintenanceAssetWeight < m.InitialAssetWeight || m.MaintenanceAssetWeight > fp.SpotWeightPrecision {
		return fmt.Errorf("maintenance_asset_weight must be in [initial, %d], got %d", fp.SpotWeightPrecision, m.MaintenanceAssetWeight)
	}
	if m.MaintenanceLiabilityWeight < fp.SpotWeightPrecision {
		return fmt.Errorf("maintenance_liability_weight must be >= %d, got %d", fp.SpotWeightPrecision, m.MaintenanceLiabilityWeight)
	}
	if m.InitialLiabilityWeight < m.MaintenanceLiabilityWeight {
		return fmt.Errorf("initial_liability_weight (%d) must be >= maintenance (%d)", m.InitialLiabilityWeight, m.MaintenanceLiabilityWeight)
	}
	return nil
}

// InsuranceFund holds the staked backstop of one spot market. Shares are
// minted against VaultAmount; a draw lowers the value of every share.
type InsuranceFund struct {
	VaultAmount int64
	TotalShares int64
	UserShares  int64
	TotalDrawn  int64
}

// SharesForAmount converts a stake into newly minted shares. Shares are
// minted 1:1 only into a fund with no shares outstanding; a fund drained
// to zero with shares left has no price to mint at.
func (f *InsuranceFund) SharesForAmount(amount int64) (int64, error) {
	if f.TotalShares == 0 {
		return amount, nil
	}
	if f.Depleted() {
		return 0, fmt.Errorf("insurance fund vault is empty with %d shares outstanding", f.TotalShares)
	}
	return fp.MulDiv(amount, f.TotalShares, f.VaultAmount, fp.RoundDown)
}

// Depleted reports a fund whose vault was drawn to zero while shares remain.
func (f *InsuranceFund) Depleted() bool {
	return f.VaultAmount == 0 && f.TotalShares > 0
}

// SharesForWithdraw returns the shares that must be burned to withdraw amount.
func (f *InsuranceFund) SharesForWithdraw(amount int64) (int64, error) {
	if f.VaultAmount == 0 {
		return 0, fmt.Errorf("insurance fund vault is empty")
	}
	return fp.MulDiv(amount, f.TotalShares, f.VaultAmount, fp.RoundUp)
}

// AmountForShares values shares at the current vault.
func (f *InsuranceFund) AmountForShares(shares int64) (int64, error) {
	if f.TotalShares == 0 {
		return 0, nil
	}
	return fp.MulDiv(shares, f.VaultAmount, f.TotalShares, fp.RoundDown)
}

// ComputeCoverage returns how much the fund can cover.
// If the fund is insufficient, returns the partial amount and the remaining deficit.
func (f *InsuranceFund) ComputeCoverage(deficit int64) (covered int64, remaining int64) {
	if f.VaultAmount >= deficit {
		return deficit, 0
	}
	return f.VaultAmount, deficit - f.VaultAmount
}
