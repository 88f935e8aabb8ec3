package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"VAMMLedger/internal/core"
	"VAMMLedger/internal/query"
	"VAMMLedger/internal/types"
)

// grpcCodes maps registered ledger errors onto gRPC status codes.
var grpcCodes = map[error]codes.Code{
	types.ErrInvalidMarketIndex:        codes.InvalidArgument,
	types.ErrInvalidAmount:             codes.InvalidArgument,
	types.ErrInvalidOracle:             codes.InvalidArgument,
	types.ErrInvalidParameter:          codes.InvalidArgument,
	types.ErrInvalidCurveUpdate:        codes.InvalidArgument,
	types.ErrUnknownInstruction:        codes.InvalidArgument,
	types.ErrAccountNotFound:           codes.NotFound,
	types.ErrPositionNotFound:          codes.NotFound,
	types.ErrAccountAlreadyExists:      codes.AlreadyExists,
	types.ErrUnauthorizedAdmin:         codes.PermissionDenied,
	types.ErrInsufficientCollateral:    codes.FailedPrecondition,
	types.ErrStaleOracle:               codes.FailedPrecondition,
	types.ErrCooldownActive:            codes.FailedPrecondition,
	types.ErrWithdrawalLimitExceeded:   codes.FailedPrecondition,
	types.ErrLiquidationNotAllowed:     codes.FailedPrecondition,
	types.ErrMaxNumberOfPositions:      codes.FailedPrecondition,
	types.ErrWithdrawRequestInProgress: codes.FailedPrecondition,
	types.ErrNoWithdrawRequest:         codes.FailedPrecondition,
	types.ErrInsuranceFundDepleted:     codes.FailedPrecondition,
	types.ErrClockRegression:           codes.FailedPrecondition,
	types.ErrBadDebt:                   codes.FailedPrecondition,
	types.ErrInvariantViolation:        codes.Internal,
	types.ErrMathOverflow:              codes.Internal,
}

// toStatus converts err into a gRPC status error. Errors that already
// carry a status pass through.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, core.ErrSequencerStopped),
		errors.Is(err, query.ErrProjectionsUnavailable):
		return codes.Unavailable
	}
	for sentinel, code := range grpcCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return codes.Internal
}
