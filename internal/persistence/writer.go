package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"VAMMLedger/internal/core"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes batches and journals to Postgres using multi-row
// INSERTs. Writes are idempotent on the primary keys, so a retried flush
// that partly landed before is safe.
type EventLogWriter struct{}

// BatchRow is a row in event_log.batches.
type BatchRow struct {
	Sequence      int64
	BatchID       string
	Signer        string
	Slot          uint64
	UnixTimestamp int64
	Payload       []byte
	Events        []byte
	StateHash     []byte
	PrevHash      []byte
}

// JournalRow is a row in event_log.journal.
type JournalRow struct {
	JournalID     string
	LedgerBatchID string
	BatchID       string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   string
	UnixTimestamp int64
}

func NewEventLogWriter() *EventLogWriter {
	return &EventLogWriter{}
}

// RowsFromOutput flattens one core output into its log rows.
func RowsFromOutput(out core.CoreOutput) (BatchRow, []JournalRow, error) {
	env := out.Envelope
	events, err := json.Marshal(env.Events)
	if err != nil {
		return BatchRow{}, nil, fmt.Errorf("marshal events seq=%d: %w", env.Sequence, err)
	}
	payload := []byte(env.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	row := BatchRow{
		Sequence:      env.Sequence,
		BatchID:       env.IdempotencyKey,
		Signer:        env.Signer.String(),
		Slot:          env.Clock.Slot,
		UnixTimestamp: env.Clock.UnixTimestamp,
		Payload:       payload,
		Events:        events,
		StateHash:     env.StateHash[:],
		PrevHash:      env.PrevHash[:],
	}
	if out.Batch == nil {
		return row, nil, nil
	}
	journals := make([]JournalRow, 0, len(out.Batch.Journals))
	for _, j := range out.Batch.Journals {
		journals = append(journals, JournalRow{
			JournalID:     j.JournalID.String(),
			LedgerBatchID: j.BatchID.String(),
			BatchID:       j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			AssetID:       uint16(j.AssetID),
			Amount:        j.Amount,
			JournalType:   j.JournalType.String(),
			UnixTimestamp: j.Timestamp,
		})
	}
	return row, journals, nil
}

// WriteBatches inserts rows into event_log.batches.
func (w *EventLogWriter) WriteBatches(ctx context.Context, db execer, rows []BatchRow) error {
	if len(rows) == 0 {
		return nil
	}
	const cols = 9
	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*cols)
	for i, r := range rows {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			r.Sequence, r.BatchID, r.Signer, int64(r.Slot), r.UnixTimestamp,
			r.Payload, r.Events, r.StateHash, r.PrevHash,
		)
	}
	query := `INSERT INTO event_log.batches
		(sequence, batch_id, signer, slot, unix_timestamp, payload, events, state_hash, prev_hash)
		VALUES ` + strings.Join(values, ", ") + ` ON CONFLICT (sequence) DO NOTHING`
	_, err := db.ExecContext(ctx, query, args...)
	return err
}

// WriteJournals inserts rows into event_log.journal.
func (w *EventLogWriter) WriteJournals(ctx context.Context, db execer, rows []JournalRow) error {
	if len(rows) == 0 {
		return nil
	}
	const cols = 10
	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*cols)
	for i, j := range rows {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.LedgerBatchID, j.BatchID, j.Sequence,
			j.DebitAccount, j.CreditAccount, int32(j.AssetID), j.Amount,
			j.JournalType, j.UnixTimestamp,
		)
	}
	query := `INSERT INTO event_log.journal
		(journal_id, ledger_batch_id, batch_id, sequence, debit_account, credit_account, asset_id, amount, journal_type, unix_timestamp)
		VALUES ` + strings.Join(values, ", ") + ` ON CONFLICT (journal_id) DO NOTHING`
	_, err := db.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($n+1, ..., $n+cols)".
func placeholders(offset, cols int) string {
	var b strings.Builder
	b.WriteByte('(')
	for c := 1; c <= cols; c++ {
		if c > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", offset+c)
	}
	b.WriteByte(')')
	return b.String()
}
