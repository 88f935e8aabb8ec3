package state

import (
	"fmt"

	"github.com/google/uuid"

	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/oracle"
)

// DrawdownSource is one pool a bankrupt account's loss may be drawn from.
type DrawdownSource uint8

const (
	DrawdownNone DrawdownSource = iota
	DrawdownInsuranceFund
	DrawdownFeePool
)

func (d DrawdownSource) String() string {
	switch d {
	case DrawdownInsuranceFund:
		return "insurance_fund"
	case DrawdownFeePool:
		return "fee_pool"
	case DrawdownNone:
		return "none"
	}
	return "unknown"
}

// ParseDrawdownSource maps a config name onto a DrawdownSource.
func ParseDrawdownSource(s string) (DrawdownSource, error) {
	switch s {
	case "insurance_fund":
		return DrawdownInsuranceFund, nil
	case "fee_pool":
		return DrawdownFeePool, nil
	case "none", "":
		return DrawdownNone, nil
	}
	return DrawdownNone, fmt.Errorf("unknown drawdown source %q", s)
}

// FeeStructure is the taker fee schedule, in PercentagePrecision.
type FeeStructure struct {
	TakerFee int64
}

// LiquidationConfig controls liquidation pricing and loss absorption.
type LiquidationConfig struct {
	// LiquidatorDiscount is the price concession given to the liquidator, in PercentagePrecision.
	LiquidatorDiscount int64
	// DrawdownOrder lists the pools drawn, in order, to cover a bankrupt loss.
	DrawdownOrder [2]DrawdownSource
}

// CurveLimits bound admin curve changes, in PercentagePrecision.
type CurveLimits struct {
	MaxKChange      int64
	MaxPegChange    int64
	RepegOracleBand int64
}

// GlobalConfig is the single deployment-wide record. Handlers receive it
// through the transaction; only admin transitions mutate it.
type GlobalConfig struct {
	Admin                        uuid.UUID
	OracleAuthority              uuid.UUID
	LpCooldownSlots              uint64
	InsuranceFundUnstakingPeriod int64 // seconds
	Fees                         FeeStructure
	Liquidation                  LiquidationConfig
	GuardRails                   oracle.GuardRails
	Curve                        CurveLimits
	NumberOfSpotMarkets          uint16
	NumberOfPerpMarkets          uint16
}

// DefaultGlobalConfig returns production defaults for a new deployment.
func DefaultGlobalConfig(admin uuid.UUID) GlobalConfig {
	return GlobalConfig{
		Admin:                        admin,
		OracleAuthority:              admin,
		LpCooldownSlots:              0,
		InsuranceFundUnstakingPeriod: 13 * 24 * 3600,
		Fees:                         FeeStructure{TakerFee: 1_000}, // 10 bps
		Liquidation: LiquidationConfig{
			LiquidatorDiscount: 25_000, // 2.5%
			DrawdownOrder:      [2]DrawdownSource{DrawdownInsuranceFund, DrawdownFeePool},
		},
		GuardRails: oracle.DefaultGuardRails(),
		Curve: CurveLimits{
			MaxKChange:      100_000,
			MaxPegChange:    100_000,
			RepegOracleBand: 100_000,
		},
	}
}

// IsAdmin reports whether signer holds the admin key.
func (g *GlobalConfig) IsAdmin(signer uuid.UUID) bool {
	return signer == g.Admin
}

// CanUpdateOracle reports whether signer may push oracle readings.
func (g *GlobalConfig) CanUpdateOracle(signer uuid.UUID) bool {
	return signer == g.Admin || (g.OracleAuthority != uuid.Nil && signer == g.OracleAuthority)
}

// Validate checks that every parameter is within its valid range.
func (g *GlobalConfig) Validate() error {
	if g.Admin == uuid.Nil {
		return fmt.Errorf("admin must be set")
	}
	if g.InsuranceFundUnstakingPeriod < 0 {
		return fmt.Errorf("insurance_fund_unstaking_period must be >= 0, got %d", g.InsuranceFundUnstakingPeriod)
	}
	if g.Fees.TakerFee < 0 || g.Fees.TakerFee >= fp.PercentagePrecision {
		return fmt.Errorf("taker_fee must be in [0, %d), got %d", fp.PercentagePrecision, g.Fees.TakerFee)
	}
	if g.Liquidation.LiquidatorDiscount < 0 || g.Liquidation.LiquidatorDiscount >= fp.PercentagePrecision {
		return fmt.Errorf("liquidator_discount must be in [0, %d), got %d", fp.PercentagePrecision, g.Liquidation.LiquidatorDiscount)
	}
	seen := map[DrawdownSource]bool{}
	for _, src := range g.Liquidation.DrawdownOrder {
		if src == DrawdownNone {
			continue
		}
		if src > DrawdownFeePool {
			return fmt.Errorf("unknown drawdown source %d", src)
		}
		if seen[src] {
			return fmt.Errorf("drawdown source %s listed twice", src)
		}
		seen[src] = true
	}
	if g.GuardRails.MaxSlotsStaleForAmm == 0 || g.GuardRails.MaxSlotsStaleForMargin == 0 {
		return fmt.Errorf("oracle staleness bounds must be > 0")
	}
	if g.GuardRails.ConfidenceIntervalMaxSize < 0 {
		return fmt.Errorf("confidence_interval_max_size must be >= 0")
	}
	limits := []struct {
		name string
		v    int64
	}{
		{"max_k_change", g.Curve.MaxKChange},
		{"max_peg_change", g.Curve.MaxPegChange},
		{"repeg_oracle_band", g.Curve.RepegOracleBand},
	}
	for _, l := range limits {
		if l.v <= 0 || l.v > fp.PercentagePrecision {
			return fmt.Errorf("%s must be in (0, %d], got %d", l.name, fp.PercentagePrecision, l.v)
		}
	}
	return nil
}
