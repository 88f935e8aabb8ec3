package spot

import (
	errorsmod "cosmossdk.io/errors"
	"github.com/google/uuid"

	"VAMMLedger/internal/ledger"
	"VAMMLedger/internal/margin"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// DepositResult reports what a deposit did to the position.
type DepositResult struct {
	UserCreated bool
	ScaledDelta int64
}

// Deposit moves amount tokens from the authority's wallet into the market's
// vault and credits the subaccount. With initializeUser set the subaccount
// is created and must not already exist.
func Deposit(tx *state.Tx, authority uuid.UUID, subAccountID, marketIndex uint16, amount int64, initializeUser bool) (DepositResult, error) {
	var res DepositResult
	m, err := tx.SpotMarket(marketIndex)
	if err != nil {
		return res, err
	}
	if amount <= 0 {
		return res, errorsmod.Wrapf(types.ErrInvalidAmount, "deposit amount must be > 0, got %d", amount)
	}

	var u *state.UserAccount
	if initializeUser {
		if u, err = tx.InitializeUser(authority, subAccountID); err != nil {
			return res, err
		}
		res.UserCreated = true
	} else if u, err = tx.User(state.UserKey{Authority: authority, SubAccountID: subAccountID}); err != nil {
		return res, err
	}

	if err := UpdateInterest(m, tx.Clock.UnixTimestamp); err != nil {
		return res, err
	}
	pos, err := u.ForceSpotPosition(marketIndex)
	if err != nil {
		return res, err
	}
	before := signedScaled(pos)
	if err := UpdateBalance(m, pos, DirectionDeposit, amount); err != nil {
		return res, err
	}
	res.ScaledDelta = signedScaled(pos) - before

	m.VaultAmount += amount
	tx.RecordJournal(ledger.SpotDeposit(ledger.AssetID(marketIndex), amount))
	return res, nil
}

// Withdraw pays amount tokens out of the vault. Past the deposit the rest
// becomes a borrow, unless reduceOnly clamps the amount to the deposit.
// The account must still meet initial margin afterwards.
func Withdraw(tx *state.Tx, authority uuid.UUID, subAccountID, marketIndex uint16, amount int64, reduceOnly bool) (int64, error) {
	m, err := tx.SpotMarket(marketIndex)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, errorsmod.Wrapf(types.ErrInvalidAmount, "withdraw amount must be > 0, got %d", amount)
	}
	u, err := tx.User(state.UserKey{Authority: authority, SubAccountID: subAccountID})
	if err != nil {
		return 0, err
	}
	if err := UpdateInterest(m, tx.Clock.UnixTimestamp); err != nil {
		return 0, err
	}

	pos, err := u.ForceSpotPosition(marketIndex)
	if err != nil {
		return 0, err
	}
	if reduceOnly {
		held := int64(0)
		if pos.BalanceType == state.SpotBalanceDeposit {
			if held, err = m.TokenAmount(pos.ScaledBalance, pos.BalanceType); err != nil {
				return 0, types.Overflow(err, "deposit tokens")
			}
		}
		if held < amount {
			amount = held
		}
		if amount == 0 {
			return 0, errorsmod.Wrap(types.ErrInvalidAmount, "reduce-only withdraw with no deposit")
		}
	}

	if m.VaultAmount < amount {
		return 0, errorsmod.Wrapf(types.ErrWithdrawalLimitExceeded, "vault holds %d, requested %d", m.VaultAmount, amount)
	}
	if err := UpdateBalance(m, pos, DirectionWithdraw, amount); err != nil {
		return 0, err
	}
	deposits, err := m.DepositTokens()
	if err != nil {
		return 0, types.Overflow(err, "deposit tokens")
	}
	borrows, err := m.BorrowTokens()
	if err != nil {
		return 0, types.Overflow(err, "borrow tokens")
	}
	if borrows > deposits {
		return 0, errorsmod.Wrapf(types.ErrWithdrawalLimitExceeded, "borrows %d would exceed deposits %d", borrows, deposits)
	}

	m.VaultAmount -= amount
	tx.RecordJournal(ledger.SpotWithdrawal(ledger.AssetID(marketIndex), amount))

	if err := margin.RequireInitial(tx, u); err != nil {
		return 0, err
	}
	return amount, nil
}

func signedScaled(pos *state.SpotPosition) int64 {
	if pos.BalanceType == state.SpotBalanceBorrow {
		return -pos.ScaledBalance
	}
	return pos.ScaledBalance
}
