package ledger

import (
	"fmt"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeSystem AccountScope = iota
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// System sub-types
	SubTypeSpotVault AccountSubType = iota
	SubTypeInsuranceFund

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AssetID is the spot market index of the token being moved.
type AssetID uint16

// AccountKey is the in-memory key for balance tracking.
type AccountKey struct {
	Scope   AccountScope
	SubType AccountSubType
	AssetID AssetID
}

// SpotVault holds every token deposited into a spot market.
func SpotVault(asset AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeSystem, SubType: SubTypeSpotVault, AssetID: asset}
}

// InsuranceFundVault holds the staked tokens of a spot market's insurance fund.
func InsuranceFundVault(asset AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeSystem, SubType: SubTypeInsuranceFund, AssetID: asset}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, asset AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, SubType: subType, AssetID: asset}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%d", k.subTypeName(), k.AssetID)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%d", k.subTypeName(), k.AssetID)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeSpotVault:
		return "spot_vault"
	case SubTypeInsuranceFund:
		return "insurance_fund"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}
