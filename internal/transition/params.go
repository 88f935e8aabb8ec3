package transition

import (
	"github.com/google/uuid"

	"VAMMLedger/internal/oracle"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// Instruction parameters. Amounts are integers in the precision of the
// field they feed: token base units for deposits, BasePrecision for perp
// sizes, PegPrecision for pegs and so on.

type InitializeSpotMarket struct {
	Mint                       types.Symbol  `json:"mint"`
	Decimals                   uint32        `json:"decimals"`
	Oracle                     types.Symbol  `json:"oracle"`
	OracleSource               oracle.Source `json:"oracle_source"`
	OptimalUtilization         int64         `json:"optimal_utilization"`
	OptimalBorrowRate          int64         `json:"optimal_borrow_rate"`
	MaxBorrowRate              int64         `json:"max_borrow_rate"`
	InitialAssetWeight         int64         `json:"initial_asset_weight"`
	MaintenanceAssetWeight     int64         `json:"maintenance_asset_weight"`
	InitialLiabilityWeight     int64         `json:"initial_liability_weight"`
	MaintenanceLiabilityWeight int64         `json:"maintenance_liability_weight"`
}

type InitializePerpMarket struct {
	MarketIndex            uint16        `json:"market_index"`
	Oracle                 types.Symbol  `json:"oracle"`
	OracleSource           oracle.Source `json:"oracle_source"`
	BaseAssetReserve       int64         `json:"base_asset_reserve"`
	QuoteAssetReserve      int64         `json:"quote_asset_reserve"`
	PegMultiplier          int64         `json:"peg_multiplier"`
	FundingPeriod          int64         `json:"funding_period"`
	MarginRatioInitial     int64         `json:"margin_ratio_initial"`
	MarginRatioMaintenance int64         `json:"margin_ratio_maintenance"`
	OrderStepSize          int64         `json:"order_step_size"`
}

type UpdateK struct {
	MarketIndex uint16 `json:"market_index"`
	SqrtK       int64  `json:"sqrt_k"`
}

type RepegCurve struct {
	MarketIndex uint16 `json:"market_index"`
	Peg         int64  `json:"peg"`
}

type UpdateLpCooldownTime struct {
	Slots uint64 `json:"slots"`
}

type UpdateInsuranceFundUnstakingPeriod struct {
	Seconds int64 `json:"seconds"`
}

type UpdateFeeStructure struct {
	TakerFee int64 `json:"taker_fee"`
}

type UpdateLiquidationConfig struct {
	LiquidatorDiscount int64    `json:"liquidator_discount"`
	DrawdownOrder      []string `json:"drawdown_order"`
}

type UpdateOracleGuardRails struct {
	MaxSlotsStaleForAmm       uint64 `json:"max_slots_stale_for_amm"`
	MaxSlotsStaleForMargin    uint64 `json:"max_slots_stale_for_margin"`
	ConfidenceIntervalMaxSize int64  `json:"confidence_interval_max_size"`
	MaxKChange                int64  `json:"max_k_change"`
	MaxPegChange              int64  `json:"max_peg_change"`
	RepegOracleBand           int64  `json:"repeg_oracle_band"`
}

type UpdateAdmin struct {
	NewAdmin        uuid.UUID  `json:"new_admin"`
	OracleAuthority *uuid.UUID `json:"oracle_authority,omitempty"`
}

// SetOraclePrice pushes a reading. Which fields apply depends on the
// source: pyth uses price/confidence/expo, switchboard price/confidence/scale,
// prelaunch price/max_price. A zero publish slot means the batch clock.
type SetOraclePrice struct {
	Oracle      types.Symbol  `json:"oracle"`
	Source      oracle.Source `json:"source"`
	Price       int64         `json:"price"`
	Confidence  int64         `json:"confidence"`
	Expo        int32         `json:"expo"`
	Scale       uint32        `json:"scale"`
	MaxPrice    int64         `json:"max_price"`
	PublishSlot uint64        `json:"publish_slot"`
}

type InitializeUser struct {
	SubAccountID uint16 `json:"sub_account_id"`
}

type Deposit struct {
	SubAccountID   uint16 `json:"sub_account_id"`
	MarketIndex    uint16 `json:"market_index"`
	Amount         int64  `json:"amount"`
	InitializeUser bool   `json:"initialize_user"`
}

type Withdraw struct {
	SubAccountID uint16 `json:"sub_account_id"`
	MarketIndex  uint16 `json:"market_index"`
	Amount       int64  `json:"amount"`
	ReduceOnly   bool   `json:"reduce_only"`
}

type OpenPosition struct {
	SubAccountID uint16                  `json:"sub_account_id"`
	Direction    state.PositionDirection `json:"direction"`
	BaseAmount   int64                   `json:"base_amount"`
	MarketIndex  uint16                  `json:"market_index"`
}

type ClosePosition struct {
	SubAccountID uint16 `json:"sub_account_id"`
	MarketIndex  uint16 `json:"market_index"`
}

type AddLiquidity struct {
	SubAccountID uint16 `json:"sub_account_id"`
	NShares      int64  `json:"n_shares"`
	MarketIndex  uint16 `json:"market_index"`
}

type RemoveLiquidity struct {
	SubAccountID uint16 `json:"sub_account_id"`
	NShares      int64  `json:"n_shares"`
	MarketIndex  uint16 `json:"market_index"`
}

// SettleLp is permissionless: any keeper may settle any account.
type SettleLp struct {
	Authority    uuid.UUID `json:"authority"`
	SubAccountID uint16    `json:"sub_account_id"`
	MarketIndex  uint16    `json:"market_index"`
}

type SettlePnl struct {
	SubAccountID uint16 `json:"sub_account_id"`
	MarketIndex  uint16 `json:"market_index"`
}

type UpdateAMM struct {
	MarketIndexes []uint16 `json:"market_indexes"`
}

type InitializeInsuranceFundStake struct {
	MarketIndex uint16 `json:"market_index"`
}

type AddInsuranceFundStake struct {
	MarketIndex uint16 `json:"market_index"`
	Amount      int64  `json:"amount"`
}

type RequestRemoveInsuranceFundStake struct {
	MarketIndex uint16 `json:"market_index"`
	Amount      int64  `json:"amount"`
}

type CancelRequestRemoveInsuranceFundStake struct {
	MarketIndex uint16 `json:"market_index"`
}

type RemoveInsuranceFundStake struct {
	MarketIndex uint16 `json:"market_index"`
}

// LiquidatePerp is signed by the liquidator, who acts from SubAccountID.
type LiquidatePerp struct {
	SubAccountID       uint16    `json:"sub_account_id"`
	TargetAuthority    uuid.UUID `json:"target_authority"`
	TargetSubAccountID uint16    `json:"target_sub_account_id"`
	MarketIndex        uint16    `json:"market_index"`
	MaxBaseAmount      int64     `json:"max_base_amount"`
}
