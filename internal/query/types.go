package query

import (
	"github.com/google/uuid"

	"VAMMLedger/internal/state"
)

// OracleResponse names a market's price feed.
type OracleResponse struct {
	Key    string `json:"key,omitempty"`
	Source string `json:"source"`
}

func oracleOf(ref state.OracleRef) OracleResponse {
	out := OracleResponse{Source: ref.Source.String()}
	if !ref.Key.IsZero() {
		out.Key = ref.Key.String()
	}
	return out
}

// StateResponse is the global view of the ledger.
type StateResponse struct {
	AsOfSequence int64       `json:"as_of_sequence"`
	StateHash    string      `json:"state_hash"`
	Clock        state.Clock `json:"clock"`

	Admin                        uuid.UUID `json:"admin"`
	OracleAuthority              uuid.UUID `json:"oracle_authority"`
	LpCooldownSlots              uint64    `json:"lp_cooldown_slots"`
	InsuranceFundUnstakingPeriod int64     `json:"insurance_fund_unstaking_period"`
	TakerFee                     int64     `json:"taker_fee"`
	LiquidatorDiscount           int64     `json:"liquidator_discount"`
	DrawdownOrder                []string  `json:"drawdown_order"`
	NumberOfSpotMarkets          uint16    `json:"number_of_spot_markets"`
	NumberOfPerpMarkets          uint16    `json:"number_of_perp_markets"`

	Vaults []BalanceResponse `json:"vaults"`
}

// InsuranceFundResponse is a spot market's insurance fund.
type InsuranceFundResponse struct {
	VaultAmount int64 `json:"vault_amount"`
	TotalShares int64 `json:"total_shares"`
	UserShares  int64 `json:"user_shares"`
	TotalDrawn  int64 `json:"total_drawn"`
}

// SpotMarketResponse is one spot market.
type SpotMarketResponse struct {
	AsOfSequence int64          `json:"as_of_sequence"`
	MarketIndex  uint16         `json:"market_index"`
	Mint         string         `json:"mint"`
	Decimals     uint32         `json:"decimals"`
	Oracle       OracleResponse `json:"oracle"`

	OptimalUtilization int64 `json:"optimal_utilization"`
	OptimalBorrowRate  int64 `json:"optimal_borrow_rate"`
	MaxBorrowRate      int64 `json:"max_borrow_rate"`

	InitialAssetWeight         int64 `json:"initial_asset_weight"`
	MaintenanceAssetWeight     int64 `json:"maintenance_asset_weight"`
	InitialLiabilityWeight     int64 `json:"initial_liability_weight"`
	MaintenanceLiabilityWeight int64 `json:"maintenance_liability_weight"`

	CumulativeDepositInterest int64 `json:"cumulative_deposit_interest"`
	CumulativeBorrowInterest  int64 `json:"cumulative_borrow_interest"`
	DepositBalance            int64 `json:"deposit_balance"`
	BorrowBalance             int64 `json:"borrow_balance"`
	DepositTokens             int64 `json:"deposit_tokens"`
	BorrowTokens              int64 `json:"borrow_tokens"`
	LastInterestTs            int64 `json:"last_interest_ts"`
	VaultAmount               int64 `json:"vault_amount"`

	InsuranceFund InsuranceFundResponse `json:"insurance_fund"`
}

func spotMarketOf(m *state.SpotMarket, seq int64) (*SpotMarketResponse, error) {
	deposits, err := m.DepositTokens()
	if err != nil {
		return nil, err
	}
	borrows, err := m.BorrowTokens()
	if err != nil {
		return nil, err
	}
	return &SpotMarketResponse{
		AsOfSequence:               seq,
		MarketIndex:                m.MarketIndex,
		Mint:                       m.Mint.String(),
		Decimals:                   m.Decimals,
		Oracle:                     oracleOf(m.Oracle),
		OptimalUtilization:         m.OptimalUtilization,
		OptimalBorrowRate:          m.OptimalBorrowRate,
		MaxBorrowRate:              m.MaxBorrowRate,
		InitialAssetWeight:         m.InitialAssetWeight,
		MaintenanceAssetWeight:     m.MaintenanceAssetWeight,
		InitialLiabilityWeight:     m.InitialLiabilityWeight,
		MaintenanceLiabilityWeight: m.MaintenanceLiabilityWeight,
		CumulativeDepositInterest:  m.CumulativeDepositInterest,
		CumulativeBorrowInterest:   m.CumulativeBorrowInterest,
		DepositBalance:             m.DepositBalance,
		BorrowBalance:              m.BorrowBalance,
		DepositTokens:              deposits,
		BorrowTokens:               borrows,
		LastInterestTs:             m.LastInterestTs,
		VaultAmount:                m.VaultAmount,
		InsuranceFund: InsuranceFundResponse{
			VaultAmount: m.InsuranceFund.VaultAmount,
			TotalShares: m.InsuranceFund.TotalShares,
			UserShares:  m.InsuranceFund.UserShares,
			TotalDrawn:  m.InsuranceFund.TotalDrawn,
		},
	}, nil
}

// AMMResponse is the virtual curve of a perp market.
type AMMResponse struct {
	BaseAssetReserve  int64  `json:"base_asset_reserve"`
	QuoteAssetReserve int64  `json:"quote_asset_reserve"`
	SqrtK             int64  `json:"sqrt_k"`
	PegMultiplier     int64  `json:"peg_multiplier"`
	ReservePrice      int64  `json:"reserve_price"`
	LastUpdateSlot    uint64 `json:"last_update_slot"`
	OrderStepSize     int64  `json:"order_step_size"`

	FundingPeriod         int64 `json:"funding_period"`
	LastFundingRateTs     int64 `json:"last_funding_rate_ts"`
	LastFundingRate       int64 `json:"last_funding_rate"`
	CumulativeFundingRate int64 `json:"cumulative_funding_rate"`
	LastOraclePrice       int64 `json:"last_oracle_price"`

	BaseAssetAmountWithAmm int64 `json:"base_asset_amount_with_amm"`
	BaseAssetAmountLong    int64 `json:"base_asset_amount_long"`
	BaseAssetAmountShort   int64 `json:"base_asset_amount_short"`

	UserLpShares          int64 `json:"user_lp_shares"`
	BaseAssetAmountPerLp  int64 `json:"base_asset_amount_per_lp"`
	QuoteAssetAmountPerLp int64 `json:"quote_asset_amount_per_lp"`

	TotalFee                   int64 `json:"total_fee"`
	TotalFeeMinusDistributions int64 `json:"total_fee_minus_distributions"`
}

// PerpMarketResponse is one perp market.
type PerpMarketResponse struct {
	AsOfSequence           int64          `json:"as_of_sequence"`
	MarketIndex            uint16         `json:"market_index"`
	Oracle                 OracleResponse `json:"oracle"`
	QuoteSpotMarketIndex   uint16         `json:"quote_spot_market_index"`
	MarginRatioInitial     int64          `json:"margin_ratio_initial"`
	MarginRatioMaintenance int64          `json:"margin_ratio_maintenance"`
	AMM                    AMMResponse    `json:"amm"`
	PnlPoolScaledBalance   int64          `json:"pnl_pool_scaled_balance"`
	TotalBadDebt           int64          `json:"total_bad_debt"`
	TotalInsuranceDraw     int64          `json:"total_insurance_draw"`
	TotalFeePoolDraw       int64          `json:"total_fee_pool_draw"`
}

func perpMarketOf(m *state.PerpMarket, seq int64) (*PerpMarketResponse, error) {
	price, err := m.AMM.ReservePrice()
	if err != nil {
		return nil, err
	}
	a := m.AMM
	return &PerpMarketResponse{
		AsOfSequence:           seq,
		MarketIndex:            m.MarketIndex,
		Oracle:                 oracleOf(m.Oracle),
		QuoteSpotMarketIndex:   m.QuoteSpotMarketIndex,
		MarginRatioInitial:     m.MarginRatioInitial,
		MarginRatioMaintenance: m.MarginRatioMaintenance,
		AMM: AMMResponse{
			BaseAssetReserve:           a.BaseAssetReserve,
			QuoteAssetReserve:          a.QuoteAssetReserve,
			SqrtK:                      a.SqrtK,
			PegMultiplier:              a.PegMultiplier,
			ReservePrice:               price,
			LastUpdateSlot:             a.LastUpdateSlot,
			OrderStepSize:              a.OrderStepSize,
			FundingPeriod:              a.FundingPeriod,
			LastFundingRateTs:          a.LastFundingRateTs,
			LastFundingRate:            a.LastFundingRate,
			CumulativeFundingRate:      a.CumulativeFundingRate,
			LastOraclePrice:            a.LastOraclePrice,
			BaseAssetAmountWithAmm:     a.BaseAssetAmountWithAmm,
			BaseAssetAmountLong:        a.BaseAssetAmountLong,
			BaseAssetAmountShort:       a.BaseAssetAmountShort,
			UserLpShares:               a.UserLpShares,
			BaseAssetAmountPerLp:       a.BaseAssetAmountPerLp,
			QuoteAssetAmountPerLp:      a.QuoteAssetAmountPerLp,
			TotalFee:                   a.TotalFee,
			TotalFeeMinusDistributions: a.TotalFeeMinusDistributions,
		},
		PnlPoolScaledBalance: m.PnlPool.ScaledBalance,
		TotalBadDebt:         m.TotalBadDebt,
		TotalInsuranceDraw:   m.TotalInsuranceDraw,
		TotalFeePoolDraw:     m.TotalFeePoolDraw,
	}, nil
}

// SpotPositionResponse is one occupied spot slot.
type SpotPositionResponse struct {
	MarketIndex   uint16 `json:"market_index"`
	BalanceType   string `json:"balance_type"`
	ScaledBalance int64  `json:"scaled_balance"`
	TokenAmount   int64  `json:"token_amount"`
}

// PerpPositionResponse is one occupied perp slot.
type PerpPositionResponse struct {
	MarketIndex               uint16 `json:"market_index"`
	BaseAssetAmount           int64  `json:"base_asset_amount"`
	QuoteAssetAmount          int64  `json:"quote_asset_amount"`
	LpShares                  int64  `json:"lp_shares"`
	LastBaseAssetAmountPerLp  int64  `json:"last_base_asset_amount_per_lp"`
	LastQuoteAssetAmountPerLp int64  `json:"last_quote_asset_amount_per_lp"`
	LastCumulativeFundingRate int64  `json:"last_cumulative_funding_rate"`
}

// UserResponse is one margin account with its health at both margin kinds.
type UserResponse struct {
	AsOfSequence  int64                  `json:"as_of_sequence"`
	Authority     uuid.UUID              `json:"authority"`
	SubAccountID  uint16                 `json:"sub_account_id"`
	Status        string                 `json:"status"`
	LastAddLpSlot uint64                 `json:"last_add_lp_slot"`
	SpotPositions []SpotPositionResponse `json:"spot_positions"`
	PerpPositions []PerpPositionResponse `json:"perp_positions"`
	Initial       *HealthResponse        `json:"initial,omitempty"`
	Maintenance   *HealthResponse        `json:"maintenance,omitempty"`
	// HealthError is set when health could not be computed, e.g. a stale oracle.
	HealthError string `json:"health_error,omitempty"`
}

// UserStatsResponse aggregates one authority's subaccounts.
type UserStatsResponse struct {
	AsOfSequence             int64     `json:"as_of_sequence"`
	Authority                uuid.UUID `json:"authority"`
	NumberOfSubAccounts      uint16    `json:"number_of_sub_accounts"`
	IfStakedQuoteAssetAmount int64     `json:"if_staked_quote_asset_amount"`
	FeesPaid                 int64     `json:"fees_paid"`
	TakerVolume              int64     `json:"taker_volume"`
}

func userStatsOf(s *state.UserStats, seq int64) *UserStatsResponse {
	return &UserStatsResponse{
		AsOfSequence:             seq,
		Authority:                s.Authority,
		NumberOfSubAccounts:      s.NumberOfSubAccounts,
		IfStakedQuoteAssetAmount: s.IfStakedQuoteAssetAmount,
		FeesPaid:                 s.FeesPaid,
		TakerVolume:              s.TakerVolume,
	}
}

// StakeResponse is one insurance fund stake with its current value.
type StakeResponse struct {
	AsOfSequence              int64     `json:"as_of_sequence"`
	Authority                 uuid.UUID `json:"authority"`
	MarketIndex               uint16    `json:"market_index"`
	IfShares                  int64     `json:"if_shares"`
	StakeValue                int64     `json:"stake_value"`
	LastWithdrawRequestShares int64     `json:"last_withdraw_request_shares"`
	LastWithdrawRequestAmount int64     `json:"last_withdraw_request_amount"`
	LastWithdrawRequestTs     int64     `json:"last_withdraw_request_ts"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	CheckedThrough   int64             `json:"checked_through"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
