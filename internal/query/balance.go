package query

import (
	"VAMMLedger/internal/core"
	"VAMMLedger/internal/margin"
	"VAMMLedger/internal/projection"
	"VAMMLedger/internal/state"
)

// BalanceResponse is one vault ledger account.
type BalanceResponse struct {
	Account string `json:"account"`
	AssetID uint16 `json:"asset_id"`
	Balance int64  `json:"balance"`
	// AsOfSequence is the projection watermark for projected balances.
	AsOfSequence int64 `json:"as_of_sequence,omitempty"`
}

func vaultsOf(entries []core.BalanceEntry) []BalanceResponse {
	out := make([]BalanceResponse, len(entries))
	for i, e := range entries {
		out[i] = BalanceResponse{
			Account: e.Account.AccountPath(),
			AssetID: uint16(e.Account.AssetID),
			Balance: e.Balance,
		}
	}
	return out
}

func projectedOf(rows []projection.BalanceRow) []BalanceResponse {
	out := make([]BalanceResponse, len(rows))
	for i, r := range rows {
		out[i] = BalanceResponse{
			Account:      r.AccountPath,
			AssetID:      r.AssetID,
			Balance:      r.Balance,
			AsOfSequence: r.LastSequence,
		}
	}
	return out
}

// HealthResponse is an account's margin picture at one margin kind.
// Amounts are in quote precision; the ratio in margin precision.
type HealthResponse struct {
	TotalCollateral    int64 `json:"total_collateral"`
	MarginRequirement  int64 `json:"margin_requirement"`
	UnrealizedPnl      int64 `json:"unrealized_pnl"`
	FreeCollateral     int64 `json:"free_collateral"`
	HealthRatio        int64 `json:"health_ratio"`
	MeetsRequirement   bool  `json:"meets_requirement"`
	NumPerpLiabilities int   `json:"num_perp_liabilities"`
}

func healthOf(c margin.Calculation) *HealthResponse {
	return &HealthResponse{
		TotalCollateral:    c.TotalCollateral,
		MarginRequirement:  c.MarginRequirement,
		UnrealizedPnl:      c.UnrealizedPnl,
		FreeCollateral:     c.FreeCollateral(),
		HealthRatio:        c.HealthRatio(),
		MeetsRequirement:   c.MeetsRequirement(),
		NumPerpLiabilities: c.NumPerpLiabilities,
	}
}

// userOf renders an account read through tx. Health is computed against
// the oracles as of tx's clock; the tx is never committed.
func userOf(tx *state.Tx, u *state.UserAccount, seq int64) (*UserResponse, error) {
	out := &UserResponse{
		AsOfSequence:  seq,
		Authority:     u.Authority,
		SubAccountID:  u.SubAccountID,
		Status:        u.Status.String(),
		LastAddLpSlot: u.LastAddLpSlot,
		SpotPositions: []SpotPositionResponse{},
		PerpPositions: []PerpPositionResponse{},
	}
	for i := range u.SpotPositions {
		sp := &u.SpotPositions[i]
		if sp.IsAvailable() {
			continue
		}
		m, err := tx.SpotMarket(sp.MarketIndex)
		if err != nil {
			return nil, err
		}
		tokens, err := m.TokenAmount(sp.ScaledBalance, sp.BalanceType)
		if err != nil {
			return nil, err
		}
		out.SpotPositions = append(out.SpotPositions, SpotPositionResponse{
			MarketIndex:   sp.MarketIndex,
			BalanceType:   sp.BalanceType.String(),
			ScaledBalance: sp.ScaledBalance,
			TokenAmount:   tokens,
		})
	}
	for i := range u.PerpPositions {
		pp := &u.PerpPositions[i]
		if pp.IsAvailable() {
			continue
		}
		out.PerpPositions = append(out.PerpPositions, PerpPositionResponse{
			MarketIndex:               pp.MarketIndex,
			BaseAssetAmount:           pp.BaseAssetAmount,
			QuoteAssetAmount:          pp.QuoteAssetAmount,
			LpShares:                  pp.LpShares,
			LastBaseAssetAmountPerLp:  pp.LastBaseAssetAmountPerLp,
			LastQuoteAssetAmountPerLp: pp.LastQuoteAssetAmountPerLp,
			LastCumulativeFundingRate: pp.LastCumulativeFundingRate,
		})
	}

	initial, err := margin.Calculate(tx, u, state.MarginInitial)
	if err != nil {
		out.HealthError = err.Error()
		return out, nil
	}
	maintenance, err := margin.Calculate(tx, u, state.MarginMaintenance)
	if err != nil {
		out.HealthError = err.Error()
		return out, nil
	}
	out.Initial = healthOf(initial)
	out.Maintenance = healthOf(maintenance)
	return out, nil
}
