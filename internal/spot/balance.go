// Package spot implements the interest-bearing spot ledger: lazy interest
// accrual, scaled balances, and the deposit and withdraw transitions.
package spot

import (
	errorsmod "cosmossdk.io/errors"

	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// Direction is the side of a balance update.
type Direction uint8

const (
	DirectionDeposit Direction = iota
	DirectionWithdraw
)

func (d Direction) String() string {
	if d == DirectionWithdraw {
		return "withdraw"
	}
	return "deposit"
}

// UpdateInterest accrues the market's cumulative factors up to now.
// A clock at or before the last accrual is a no-op.
func UpdateInterest(m *state.SpotMarket, now int64) error {
	elapsed := now - m.LastInterestTs
	if elapsed <= 0 {
		return nil
	}
	deposits, err := m.DepositTokens()
	if err != nil {
		return types.Overflow(err, "deposit tokens")
	}
	borrows, err := m.BorrowTokens()
	if err != nil {
		return types.Overflow(err, "borrow tokens")
	}
	acc, err := fp.AccrueInterest(m.RateCurve(), m.CumulativeDepositInterest, m.CumulativeBorrowInterest, deposits, borrows, elapsed)
	if err != nil {
		return types.Overflow(err, "interest accrual")
	}
	m.CumulativeDepositInterest = acc.CumulativeDepositInterest
	m.CumulativeBorrowInterest = acc.CumulativeBorrowInterest
	m.LastInterestTs = now
	return nil
}

// UpdateBalance moves amount tokens into or out of a position. A deposit
// repays an outstanding borrow before it grows the deposit; a withdraw
// draws the deposit down before it opens a borrow. Rounding always goes
// against the position holder.
func UpdateBalance(m *state.SpotMarket, pos *state.SpotPosition, dir Direction, amount int64) error {
	if amount < 0 {
		return errorsmod.Wrapf(types.ErrInvalidAmount, "negative balance update %d", amount)
	}
	if amount == 0 {
		return nil
	}
	if pos.ScaledBalance == 0 {
		pos.BalanceType = state.SpotBalanceDeposit
		if dir == DirectionWithdraw {
			pos.BalanceType = state.SpotBalanceBorrow
		}
	}

	reducing := (dir == DirectionDeposit && pos.BalanceType == state.SpotBalanceBorrow) ||
		(dir == DirectionWithdraw && pos.BalanceType == state.SpotBalanceDeposit)
	if reducing {
		remaining, err := reduce(m, pos, amount)
		if err != nil {
			return err
		}
		amount = remaining
		if amount == 0 {
			return nil
		}
		pos.BalanceType = state.SpotBalanceDeposit
		if dir == DirectionWithdraw {
			pos.BalanceType = state.SpotBalanceBorrow
		}
	}
	return grow(m, pos, amount)
}

// reduce shrinks the position toward zero and returns the tokens left over
// once it is flat.
func reduce(m *state.SpotMarket, pos *state.SpotPosition, amount int64) (int64, error) {
	held, err := m.TokenAmount(pos.ScaledBalance, pos.BalanceType)
	if err != nil {
		return 0, types.Overflow(err, "position tokens")
	}
	if amount >= held {
		subtractScaled(m, pos.BalanceType, pos.ScaledBalance)
		pos.ScaledBalance = 0
		return amount - held, nil
	}

	// Repaying a borrow rounds the scaled reduction down; drawing a deposit
	// rounds it up.
	cum, mode := m.CumulativeBorrowInterest, fp.RoundDown
	if pos.BalanceType == state.SpotBalanceDeposit {
		cum, mode = m.CumulativeDepositInterest, fp.RoundUp
	}
	scaled, err := fp.TokenToScaled(amount, m.Decimals, cum, mode)
	if err != nil {
		return 0, types.Overflow(err, "scaled reduction")
	}
	scaled = fp.Min(scaled, pos.ScaledBalance)
	pos.ScaledBalance -= scaled
	subtractScaled(m, pos.BalanceType, scaled)
	return 0, nil
}

func grow(m *state.SpotMarket, pos *state.SpotPosition, amount int64) error {
	if pos.BalanceType == state.SpotBalanceDeposit {
		scaled, err := fp.TokenToScaled(amount, m.Decimals, m.CumulativeDepositInterest, fp.RoundDown)
		if err != nil {
			return types.Overflow(err, "scaled deposit")
		}
		pos.ScaledBalance += scaled
		m.DepositBalance += scaled
		return nil
	}
	scaled, err := fp.TokenToScaled(amount, m.Decimals, m.CumulativeBorrowInterest, fp.RoundUp)
	if err != nil {
		return types.Overflow(err, "scaled borrow")
	}
	pos.ScaledBalance += scaled
	m.BorrowBalance += scaled
	return nil
}

func subtractScaled(m *state.SpotMarket, kind state.SpotBalanceType, scaled int64) {
	if kind == state.SpotBalanceBorrow {
		m.BorrowBalance -= scaled
		return
	}
	m.DepositBalance -= scaled
}

// PoolTokens returns the tokens a market-owned pool holds.
func PoolTokens(m *state.SpotMarket, p *state.PoolBalance) (int64, error) {
	return fp.ScaledToToken(p.ScaledBalance, m.Decimals, m.CumulativeDepositInterest, fp.RoundDown)
}

// PoolDeposit credits amount tokens to a pool. Pools are counted in the
// market's deposit total like any other depositor.
func PoolDeposit(m *state.SpotMarket, p *state.PoolBalance, amount int64) error {
	if amount <= 0 {
		return nil
	}
	scaled, err := fp.TokenToScaled(amount, m.Decimals, m.CumulativeDepositInterest, fp.RoundDown)
	if err != nil {
		return types.Overflow(err, "pool deposit")
	}
	p.ScaledBalance += scaled
	m.DepositBalance += scaled
	return nil
}

// PoolWithdraw debits amount tokens from a pool.
func PoolWithdraw(m *state.SpotMarket, p *state.PoolBalance, amount int64) error {
	if amount <= 0 {
		return nil
	}
	held, err := PoolTokens(m, p)
	if err != nil {
		return types.Overflow(err, "pool tokens")
	}
	if amount > held {
		return errorsmod.Wrapf(types.ErrWithdrawalLimitExceeded, "pool holds %d, need %d", held, amount)
	}
	scaled, err := fp.TokenToScaled(amount, m.Decimals, m.CumulativeDepositInterest, fp.RoundUp)
	if err != nil {
		return types.Overflow(err, "pool withdraw")
	}
	scaled = fp.Min(scaled, p.ScaledBalance)
	p.ScaledBalance -= scaled
	m.DepositBalance -= scaled
	return nil
}

// ValidateVault checks that net deposits never exceed the tokens the vault holds.
func ValidateVault(m *state.SpotMarket) error {
	deposits, err := m.DepositTokens()
	if err != nil {
		return types.Overflow(err, "deposit tokens")
	}
	borrows, err := m.BorrowTokens()
	if err != nil {
		return types.Overflow(err, "borrow tokens")
	}
	if deposits-borrows > m.VaultAmount {
		return errorsmod.Wrapf(types.ErrInvariantViolation,
			"spot market %d: deposits %d - borrows %d exceed vault %d", m.MarketIndex, deposits, borrows, m.VaultAmount)
	}
	return nil
}
