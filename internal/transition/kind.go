// Package transition defines the instruction batches the ledger accepts:
// their wire format, the authority each instruction requires and the
// records each one reads or writes.
package transition

import (
	errorsmod "cosmossdk.io/errors"

	"VAMMLedger/internal/types"
)

// Kind discriminates instructions. The wire form is the snake_case name.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInitializeSpotMarket
	KindInitializePerpMarket
	KindUpdateK
	KindRepegCurve
	KindUpdateLpCooldownTime
	KindUpdateInsuranceFundUnstakingPeriod
	KindUpdateFeeStructure
	KindUpdateLiquidationConfig
	KindUpdateOracleGuardRails
	KindUpdateAdmin
	KindSetOraclePrice
	KindInitializeUser
	KindDeposit
	KindWithdraw
	KindOpenPosition
	KindClosePosition
	KindAddLiquidity
	KindRemoveLiquidity
	KindSettleLp
	KindSettlePnl
	KindUpdateAMM
	KindInitializeInsuranceFundStake
	KindAddInsuranceFundStake
	KindRequestRemoveInsuranceFundStake
	KindCancelRequestRemoveInsuranceFundStake
	KindRemoveInsuranceFundStake
	KindLiquidatePerp
)

// Category is the authority class an instruction runs under. Ingestion
// routes each category on its own subject.
type Category uint8

const (
	CategoryAdmin Category = iota
	CategoryUser
	CategoryKeeper
	CategoryOracle
)

func (c Category) String() string {
	switch c {
	case CategoryAdmin:
		return "admin"
	case CategoryUser:
		return "user"
	case CategoryKeeper:
		return "keeper"
	case CategoryOracle:
		return "oracle"
	}
	return "unknown"
}

// ParseCategory maps a subject token onto a Category.
func ParseCategory(s string) (Category, error) {
	for _, c := range []Category{CategoryAdmin, CategoryUser, CategoryKeeper, CategoryOracle} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, errorsmod.Wrapf(types.ErrInvalidParameter, "unknown category %q", s)
}

type kindInfo struct {
	name     string
	category Category
	params   func() any
}

var kinds = map[Kind]kindInfo{
	KindInitializeSpotMarket:                  {"initialize_spot_market", CategoryAdmin, func() any { return new(InitializeSpotMarket) }},
	KindInitializePerpMarket:                  {"initialize_perp_market", CategoryAdmin, func() any { return new(InitializePerpMarket) }},
	KindUpdateK:                               {"update_k", CategoryAdmin, func() any { return new(UpdateK) }},
	KindRepegCurve:                            {"repeg_curve", CategoryAdmin, func() any { return new(RepegCurve) }},
	KindUpdateLpCooldownTime:                  {"update_lp_cooldown_time", CategoryAdmin, func() any { return new(UpdateLpCooldownTime) }},
	KindUpdateInsuranceFundUnstakingPeriod:    {"update_insurance_fund_unstaking_period", CategoryAdmin, func() any { return new(UpdateInsuranceFundUnstakingPeriod) }},
	KindUpdateFeeStructure:                    {"update_fee_structure", CategoryAdmin, func() any { return new(UpdateFeeStructure) }},
	KindUpdateLiquidationConfig:               {"update_liquidation_config", CategoryAdmin, func() any { return new(UpdateLiquidationConfig) }},
	KindUpdateOracleGuardRails:                {"update_oracle_guard_rails", CategoryAdmin, func() any { return new(UpdateOracleGuardRails) }},
	KindUpdateAdmin:                           {"update_admin", CategoryAdmin, func() any { return new(UpdateAdmin) }},
	KindSetOraclePrice:                        {"set_oracle_price", CategoryOracle, func() any { return new(SetOraclePrice) }},
	KindInitializeUser:                        {"initialize_user", CategoryUser, func() any { return new(InitializeUser) }},
	KindDeposit:                               {"deposit", CategoryUser, func() any { return new(Deposit) }},
	KindWithdraw:                              {"withdraw", CategoryUser, func() any { return new(Withdraw) }},
	KindOpenPosition:                          {"open_position", CategoryUser, func() any { return new(OpenPosition) }},
	KindClosePosition:                         {"close_position", CategoryUser, func() any { return new(ClosePosition) }},
	KindAddLiquidity:                          {"add_liquidity", CategoryUser, func() any { return new(AddLiquidity) }},
	KindRemoveLiquidity:                       {"remove_liquidity", CategoryUser, func() any { return new(RemoveLiquidity) }},
	KindSettleLp:                              {"settle_lp", CategoryKeeper, func() any { return new(SettleLp) }},
	KindSettlePnl:                             {"settle_pnl", CategoryUser, func() any { return new(SettlePnl) }},
	KindUpdateAMM:                             {"update_amm", CategoryKeeper, func() any { return new(UpdateAMM) }},
	KindInitializeInsuranceFundStake:          {"initialize_insurance_fund_stake", CategoryUser, func() any { return new(InitializeInsuranceFundStake) }},
	KindAddInsuranceFundStake:                 {"add_insurance_fund_stake", CategoryUser, func() any { return new(AddInsuranceFundStake) }},
	KindRequestRemoveInsuranceFundStake:       {"request_remove_insurance_fund_stake", CategoryUser, func() any { return new(RequestRemoveInsuranceFundStake) }},
	KindCancelRequestRemoveInsuranceFundStake: {"cancel_request_remove_insurance_fund_stake", CategoryUser, func() any { return new(CancelRequestRemoveInsuranceFundStake) }},
	KindRemoveInsuranceFundStake:              {"remove_insurance_fund_stake", CategoryUser, func() any { return new(RemoveInsuranceFundStake) }},
	KindLiquidatePerp:                         {"liquidate_perp", CategoryKeeper, func() any { return new(LiquidatePerp) }},
}

var kindsByName = func() map[string]Kind {
	out := make(map[string]Kind, len(kinds))
	for k, info := range kinds {
		out[info.name] = k
	}
	return out
}()

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return "unknown"
}

// Category returns the authority class of k.
func (k Kind) Category() Category {
	return kinds[k].category
}

// ParseKind maps a wire name onto a Kind.
func ParseKind(name string) (Kind, error) {
	if k, ok := kindsByName[name]; ok {
		return k, nil
	}
	return KindUnknown, errorsmod.Wrapf(types.ErrUnknownInstruction, "%q", name)
}

// Kinds lists every known kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := KindInitializeSpotMarket; k <= KindLiquidatePerp; k++ {
		out = append(out, k)
	}
	return out
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kinds[k]; !ok {
		return nil, errorsmod.Wrapf(types.ErrUnknownInstruction, "kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
