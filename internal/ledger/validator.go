package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidatePending checks pending journals before they are stamped.
func (v *InvariantValidator) ValidatePending(journals []Journal) error {
	for _, j := range journals {
		if err := j.validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateVault verifies that committed balance plus pending journals equals
// the amount the market record claims to hold.
func (v *InvariantValidator) ValidateVault(key AccountKey, pending []Journal, recorded int64) error {
	expected := v.tracker.GetBalance(key) + NetChange(pending, key)
	if expected != recorded {
		return fmt.Errorf("%s: ledger holds %d, record holds %d", key.AccountPath(), expected, recorded)
	}
	if expected < 0 {
		return fmt.Errorf("%s: negative balance %d", key.AccountPath(), expected)
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			return fmt.Errorf("global balance for asset %d is non-zero: %d", assetID, total)
		}
	}

	return nil
}
