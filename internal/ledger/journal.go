package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeSpotDeposit JournalType = iota
	JournalTypeSpotWithdrawal
	JournalTypeInsuranceStake
	JournalTypeInsuranceUnstake
	JournalTypeInsuranceCover
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeSpotDeposit:
		return "spot_deposit"
	case JournalTypeSpotWithdrawal:
		return "spot_withdrawal"
	case JournalTypeInsuranceStake:
		return "insurance_stake"
	case JournalTypeInsuranceUnstake:
		return "insurance_unstake"
	case JournalTypeInsuranceCover:
		return "insurance_cover"
	}
	return "unknown"
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of the source batch
	Sequence      int64       // Global batch sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Token amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Clock unix timestamp of the batch
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// NewBatch stamps pending journals with the identifiers assigned at commit.
func NewBatch(eventRef string, sequence, timestamp int64, journals []Journal) *Batch {
	b := &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, len(journals)),
	}
	for i, j := range journals {
		j.JournalID = uuid.New()
		j.BatchID = b.BatchID
		j.EventRef = eventRef
		j.Sequence = sequence
		j.Timestamp = timestamp
		b.Journals[i] = j
	}
	return b
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount from credit to debit, so every entry balances on its own.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if err := j.validate(); err != nil {
			return err
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
	}

	return nil
}

func (j Journal) validate() error {
	if j.Amount <= 0 {
		return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
	}
	if j.DebitAccount == j.CreditAccount {
		return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
	}
	if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
		return fmt.Errorf("journal %s moves asset %d between accounts of another asset", j.JournalID, j.AssetID)
	}
	return nil
}

// NetChange returns the signed effect of the batch on one account.
func NetChange(journals []Journal, key AccountKey) int64 {
	var delta int64
	for _, j := range journals {
		if j.DebitAccount == key {
			delta += j.Amount
		}
		if j.CreditAccount == key {
			delta -= j.Amount
		}
	}
	return delta
}
