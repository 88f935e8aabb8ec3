package liquidation

import (
	"VAMMLedger/internal/insurance"
	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/position"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// Bankruptcy reports how a bankrupt position's loss was absorbed.
type Bankruptcy struct {
	Loss          int64
	FromDeposit   int64
	FromInsurance int64
	FromFeePool   int64
	BadDebt       int64
}

// resolveBankruptcy clears a flat position's negative quote: first from the
// target's own quote deposit, then from each configured pool in order. What
// remains is recorded as bad debt and the position is wiped.
func resolveBankruptcy(tx *state.Tx, m *state.PerpMarket, u *state.UserAccount, pos *state.PerpPosition) (*Bankruptcy, error) {
	quote, err := tx.SpotMarket(m.QuoteSpotMarketIndex)
	if err != nil {
		return nil, err
	}
	b := &Bankruptcy{Loss: -pos.QuoteAssetAmount}
	remaining := b.Loss

	if sp, ok := u.SpotPosition(quote.MarketIndex); ok && sp.BalanceType == state.SpotBalanceDeposit {
		held, err := quote.TokenAmount(sp.ScaledBalance, sp.BalanceType)
		if err != nil {
			return nil, types.Overflow(err, "quote deposit")
		}
		if b.FromDeposit = fp.Min(remaining, held); b.FromDeposit > 0 {
			if err := position.Transfer(quote, m, u, -b.FromDeposit); err != nil {
				return nil, err
			}
			remaining -= b.FromDeposit
		}
	}

	for _, src := range tx.Config().Liquidation.DrawdownOrder {
		if remaining == 0 {
			break
		}
		switch src {
		case state.DrawdownInsuranceFund:
			covered, err := insurance.Cover(tx, quote, m, remaining)
			if err != nil {
				return nil, err
			}
			b.FromInsurance += covered
			pos.QuoteAssetAmount += covered
			remaining -= covered
		case state.DrawdownFeePool:
			drawn := fp.Min(remaining, fp.Max(m.AMM.TotalFeeMinusDistributions, 0))
			m.AMM.TotalFeeMinusDistributions -= drawn
			m.TotalFeePoolDraw += drawn
			b.FromFeePool += drawn
			pos.QuoteAssetAmount += drawn
			remaining -= drawn
		}
	}

	if remaining > 0 {
		b.BadDebt = remaining
		m.TotalBadDebt += remaining
		pos.QuoteAssetAmount += remaining
	}
	return b, nil
}
