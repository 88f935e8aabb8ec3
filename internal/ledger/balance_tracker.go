package ledger

import (
	"fmt"
	"sort"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SpotVaultBalance returns the tokens held for a spot market.
func (bt *BalanceTracker) SpotVaultBalance(asset AssetID) int64 {
	return bt.GetBalance(SpotVault(asset))
}

// InsuranceFundBalance returns the tokens staked in a market's insurance fund.
func (bt *BalanceTracker) InsuranceFundBalance(asset AssetID) int64 {
	return bt.GetBalance(InsuranceFundVault(asset))
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Set overwrites one balance. Used when restoring from a snapshot.
func (bt *BalanceTracker) Set(key AccountKey, balance int64) {
	bt.balances[key] = balance
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Keys returns every tracked account in a stable order.
func (bt *BalanceTracker) Keys() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for k := range bt.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.AssetID != b.AssetID {
			return a.AssetID < b.AssetID
		}
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		return a.SubType < b.SubType
	})
	return keys
}
