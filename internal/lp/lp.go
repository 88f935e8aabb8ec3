// Package lp issues and redeems LP shares against a perp market's curve and
// settles each share's pro-rata slice of the trading flow into positions.
package lp

import (
	errorsmod "cosmossdk.io/errors"
	"github.com/google/uuid"

	"VAMMLedger/internal/amm"
	"VAMMLedger/internal/margin"
	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/position"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// Settlement is the flow realized into an LP's position.
type Settlement struct {
	MarketIndex uint16
	Shares      int64
	BaseDelta   int64
	QuoteDelta  int64
}

// Change reports an add or remove.
type Change struct {
	Settlement
	SharesDelta int64
	SharesAfter int64
	SqrtKAfter  int64
}

// Add mints nShares to the subaccount, deepening the curve by the same
// amount at an unchanged price.
func Add(tx *state.Tx, authority uuid.UUID, subAccountID uint16, nShares int64, marketIndex uint16) (Change, error) {
	m, err := tx.PerpMarket(marketIndex)
	if err != nil {
		return Change{}, err
	}
	if err := checkShares(m, nShares); err != nil {
		return Change{}, err
	}
	u, err := tx.User(state.UserKey{Authority: authority, SubAccountID: subAccountID})
	if err != nil {
		return Change{}, err
	}
	pos, err := u.ForcePerpPosition(marketIndex)
	if err != nil {
		return Change{}, err
	}
	st, err := settle(pos, m)
	if err != nil {
		return Change{}, err
	}

	a := &m.AMM
	if err := amm.ScaleSqrtK(a, a.SqrtK+nShares); err != nil {
		return Change{}, err
	}
	pos.LpShares += nShares
	a.UserLpShares += nShares
	u.LastAddLpSlot = tx.Clock.Slot

	if err := margin.RequireInitial(tx, u); err != nil {
		return Change{}, err
	}
	return Change{Settlement: st, SharesDelta: nShares, SharesAfter: pos.LpShares, SqrtKAfter: a.SqrtK}, nil
}

// Remove burns nShares once the cooldown since the account's last add has
// passed. Outstanding flow is settled first.
func Remove(tx *state.Tx, authority uuid.UUID, subAccountID uint16, nShares int64, marketIndex uint16) (Change, error) {
	m, err := tx.PerpMarket(marketIndex)
	if err != nil {
		return Change{}, err
	}
	u, err := tx.User(state.UserKey{Authority: authority, SubAccountID: subAccountID})
	if err != nil {
		return Change{}, err
	}
	pos, err := u.PerpPosition(marketIndex)
	if err != nil {
		return Change{}, err
	}
	if pos.LpShares == 0 {
		return Change{}, errorsmod.Wrapf(types.ErrPositionNotFound, "no lp shares in market %d", marketIndex)
	}

	cooldown := tx.Config().LpCooldownSlots
	if elapsed := slotsSince(tx.Clock.Slot, u.LastAddLpSlot); elapsed < cooldown {
		return Change{}, errorsmod.Wrapf(types.ErrCooldownActive,
			"%d of %d slots elapsed since last add", elapsed, cooldown)
	}
	if err := checkShares(m, nShares); err != nil {
		return Change{}, err
	}
	if nShares > pos.LpShares {
		return Change{}, errorsmod.Wrapf(types.ErrInvalidAmount, "remove %d shares, hold %d", nShares, pos.LpShares)
	}

	st, err := settle(pos, m)
	if err != nil {
		return Change{}, err
	}
	a := &m.AMM
	if err := amm.ScaleSqrtK(a, a.SqrtK-nShares); err != nil {
		return Change{}, err
	}
	pos.LpShares -= nShares
	a.UserLpShares -= nShares
	return Change{Settlement: st, SharesDelta: -nShares, SharesAfter: pos.LpShares, SqrtKAfter: a.SqrtK}, nil
}

// Settle realizes an LP's outstanding flow. Anyone may call it.
func Settle(tx *state.Tx, authority uuid.UUID, subAccountID, marketIndex uint16) (Settlement, error) {
	m, err := tx.PerpMarket(marketIndex)
	if err != nil {
		return Settlement{}, err
	}
	u, err := tx.User(state.UserKey{Authority: authority, SubAccountID: subAccountID})
	if err != nil {
		return Settlement{}, err
	}
	pos, err := u.PerpPosition(marketIndex)
	if err != nil {
		return Settlement{}, err
	}
	if pos.LpShares == 0 {
		return Settlement{}, errorsmod.Wrapf(types.ErrPositionNotFound, "no lp shares in market %d", marketIndex)
	}
	return settle(pos, m)
}

// settle moves (per_lp_now - per_lp_last) * shares into the position, books
// the base against the AMM's users and resets the basis.
func settle(pos *state.PerpPosition, m *state.PerpMarket) (Settlement, error) {
	st := Settlement{MarketIndex: m.MarketIndex, Shares: pos.LpShares}
	if _, err := position.SettleFunding(pos, m); err != nil {
		return st, err
	}
	a := &m.AMM
	if pos.LpShares > 0 {
		var err error
		st.BaseDelta, err = fp.MulDiv(a.BaseAssetAmountPerLp-pos.LastBaseAssetAmountPerLp, pos.LpShares, fp.AmmReservePrecision, fp.RoundDown)
		if err != nil {
			return st, types.Overflow(err, "lp base")
		}
		st.QuoteDelta, err = fp.MulDiv(a.QuoteAssetAmountPerLp-pos.LastQuoteAssetAmountPerLp, pos.LpShares, fp.AmmReservePrecision, fp.RoundDown)
		if err != nil {
			return st, types.Overflow(err, "lp quote")
		}
		position.ApplyFill(pos, m, st.BaseDelta, st.QuoteDelta)
		a.BaseAssetAmountWithAmm += st.BaseDelta
	}
	pos.LastBaseAssetAmountPerLp = a.BaseAssetAmountPerLp
	pos.LastQuoteAssetAmountPerLp = a.QuoteAssetAmountPerLp
	return st, nil
}

func checkShares(m *state.PerpMarket, n int64) error {
	if n <= 0 || n%m.AMM.OrderStepSize != 0 {
		return errorsmod.Wrapf(types.ErrInvalidAmount,
			"lp shares %d must be a positive multiple of step %d", n, m.AMM.OrderStepSize)
	}
	return nil
}

func slotsSince(now, then uint64) uint64 {
	if now < then {
		return 0
	}
	return now - then
}
