package position

import (
	"github.com/google/uuid"

	"VAMMLedger/internal/margin"
	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/oracle"
	"VAMMLedger/internal/spot"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// PnlSettlement reports the quote moved between a position and the user's
// quote spot balance.
type PnlSettlement struct {
	MarketIndex   uint16
	UnrealizedPnl int64
	Settled       int64
}

// SettlePnl realizes a position's pnl into the quote spot market. Gains are
// paid from the market's pnl pool and bounded by what it holds; losses are
// taken from the user's quote deposit and bounded by it.
func SettlePnl(tx *state.Tx, authority uuid.UUID, subAccountID, marketIndex uint16) (PnlSettlement, error) {
	res := PnlSettlement{MarketIndex: marketIndex}
	m, err := tx.PerpMarket(marketIndex)
	if err != nil {
		return res, err
	}
	u, err := tx.User(state.UserKey{Authority: authority, SubAccountID: subAccountID})
	if err != nil {
		return res, err
	}
	pos, err := u.PerpPosition(marketIndex)
	if err != nil {
		return res, err
	}
	quote, err := tx.SpotMarket(m.QuoteSpotMarketIndex)
	if err != nil {
		return res, err
	}
	if err := spot.UpdateInterest(quote, tx.Clock.UnixTimestamp); err != nil {
		return res, err
	}
	if _, err := SettleFunding(pos, m); err != nil {
		return res, err
	}
	pd, err := tx.ValidOraclePrice(m.Oracle, oracle.ForMargin)
	if err != nil {
		return res, err
	}
	if res.UnrealizedPnl, err = margin.UnrealizedPnl(pos, m, pd.Price); err != nil {
		return res, err
	}

	switch pnl := res.UnrealizedPnl; {
	case pnl > 0:
		pool, err := spot.PoolTokens(quote, &m.PnlPool)
		if err != nil {
			return res, types.Overflow(err, "pnl pool")
		}
		res.Settled = fp.Min(pnl, pool)
	case pnl < 0:
		held := int64(0)
		if sp, ok := u.SpotPosition(quote.MarketIndex); ok && sp.BalanceType == state.SpotBalanceDeposit {
			if held, err = quote.TokenAmount(sp.ScaledBalance, sp.BalanceType); err != nil {
				return res, types.Overflow(err, "quote deposit")
			}
		}
		res.Settled = -fp.Min(-pnl, held)
	}
	if res.Settled == 0 {
		return res, nil
	}
	if err := Transfer(quote, m, u, res.Settled); err != nil {
		return res, err
	}
	return res, nil
}

// Transfer moves amount quote between the market's pnl pool and the user's
// quote balance, adjusting the position's quote by the opposite amount so
// that total value is unchanged. Positive pays the user.
func Transfer(quote *state.SpotMarket, m *state.PerpMarket, u *state.UserAccount, amount int64) error {
	pos, err := u.ForcePerpPosition(m.MarketIndex)
	if err != nil {
		return err
	}
	sp, err := u.ForceSpotPosition(quote.MarketIndex)
	if err != nil {
		return err
	}
	if amount > 0 {
		if err := spot.PoolWithdraw(quote, &m.PnlPool, amount); err != nil {
			return err
		}
		if err := spot.UpdateBalance(quote, sp, spot.DirectionDeposit, amount); err != nil {
			return err
		}
	} else {
		if err := spot.UpdateBalance(quote, sp, spot.DirectionWithdraw, -amount); err != nil {
			return err
		}
		if err := spot.PoolDeposit(quote, &m.PnlPool, -amount); err != nil {
			return err
		}
	}
	pos.QuoteAssetAmount -= amount
	return nil
}
