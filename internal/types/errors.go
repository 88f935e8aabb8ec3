package types

import (
	"errors"

	errorsmod "cosmossdk.io/errors"
)

// Codespace for every ledger error.
const Codespace = "vamm"

var (
	ErrInvalidMarketIndex        = errorsmod.Register(Codespace, 2, "invalid market index")
	ErrInsufficientCollateral    = errorsmod.Register(Codespace, 3, "insufficient collateral")
	ErrStaleOracle               = errorsmod.Register(Codespace, 4, "stale oracle")
	ErrCooldownActive            = errorsmod.Register(Codespace, 5, "cooldown active")
	ErrInvalidCurveUpdate        = errorsmod.Register(Codespace, 6, "invalid curve update")
	ErrUnauthorizedAdmin         = errorsmod.Register(Codespace, 7, "unauthorized admin")
	ErrWithdrawalLimitExceeded   = errorsmod.Register(Codespace, 8, "withdrawal limit exceeded")
	ErrLiquidationNotAllowed     = errorsmod.Register(Codespace, 9, "liquidation not allowed")
	ErrAccountAlreadyExists      = errorsmod.Register(Codespace, 10, "account already exists")
	ErrPositionNotFound          = errorsmod.Register(Codespace, 11, "position not found")
	ErrBadDebt                   = errorsmod.Register(Codespace, 12, "bad debt")
	ErrAccountNotFound           = errorsmod.Register(Codespace, 13, "account not found")
	ErrInvalidAmount             = errorsmod.Register(Codespace, 14, "invalid amount")
	ErrInvalidOracle             = errorsmod.Register(Codespace, 15, "invalid oracle")
	ErrMaxNumberOfPositions      = errorsmod.Register(Codespace, 16, "max number of positions")
	ErrWithdrawRequestInProgress = errorsmod.Register(Codespace, 17, "withdraw request in progress")
	ErrNoWithdrawRequest         = errorsmod.Register(Codespace, 18, "no withdraw request")
	ErrClockRegression           = errorsmod.Register(Codespace, 19, "clock regression")
	ErrInvariantViolation        = errorsmod.Register(Codespace, 20, "invariant violation")
	ErrMathOverflow              = errorsmod.Register(Codespace, 21, "math overflow")
	ErrUnknownInstruction        = errorsmod.Register(Codespace, 22, "unknown instruction")
	ErrInvalidParameter          = errorsmod.Register(Codespace, 23, "invalid parameter")
	ErrInsuranceFundDepleted     = errorsmod.Register(Codespace, 24, "insurance fund depleted")
)

// CodeUnregistered is what Code reports for errors outside the codespace.
const CodeUnregistered uint32 = 1

// Code returns the registered ABCI-style code of err, or CodeUnregistered.
func Code(err error) uint32 {
	if err == nil {
		return 0
	}
	_, code, _ := errorsmod.ABCIInfo(err, false)
	return code
}

// IsBadDebt reports whether err carries a bad-debt outcome.
func IsBadDebt(err error) bool {
	return errors.Is(err, ErrBadDebt)
}

// Overflow wraps an arithmetic failure into ErrMathOverflow with context.
func Overflow(err error, what string) error {
	if err == nil {
		return nil
	}
	return errorsmod.Wrapf(ErrMathOverflow, "%s: %v", what, err)
}
