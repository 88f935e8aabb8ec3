package state

import (
	errorsmod "cosmossdk.io/errors"
	"github.com/google/uuid"

	"VAMMLedger/internal/types"
)

// InitializeUser creates a subaccount and, on first use, the authority's stats.
func (tx *Tx) InitializeUser(authority uuid.UUID, subAccountID uint16) (*UserAccount, error) {
	if authority == uuid.Nil {
		return nil, errorsmod.Wrap(types.ErrInvalidParameter, "authority must be set")
	}
	key := UserKey{Authority: authority, SubAccountID: subAccountID}
	if tx.HasUser(key) {
		return nil, errorsmod.Wrapf(types.ErrAccountAlreadyExists, "user %s/%d", authority, subAccountID)
	}
	stats, err := tx.UserStats(authority)
	if err != nil {
		stats = tx.InsertUserStats(UserStats{Authority: authority})
	}
	stats.NumberOfSubAccounts++
	return tx.InsertUser(UserAccount{Authority: authority, SubAccountID: subAccountID}), nil
}
