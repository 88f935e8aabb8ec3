package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VAMMLedger/internal/core"
	"VAMMLedger/internal/event"
	"VAMMLedger/internal/observability"
	"VAMMLedger/internal/state"
)

// SnapshotManager writes full-state snapshots to Postgres and reads the
// event log back for recovery.
type SnapshotManager struct {
	db      *sql.DB
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// Snapshot is every committed record plus the core checkpoint at one
// sequence.
type Snapshot struct {
	ID         uuid.UUID
	Records    []state.Record
	Checkpoint core.Checkpoint
}

type snapshotRecord struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

// SnapshotSource reads a consistent record set and checkpoint.
type SnapshotSource func() ([]state.Record, core.Checkpoint, error)

func NewSnapshotManager(db *sql.DB, metrics *observability.Metrics) *SnapshotManager {
	return &SnapshotManager{db: db, metrics: metrics, logger: observability.NewLogger("snapshot")}
}

// Save persists a snapshot. It is unverified until a recovery replays
// from it and lands on the logged hash.
func (sm *SnapshotManager) Save(ctx context.Context, records []state.Record, cp core.Checkpoint) error {
	start := time.Now()
	rows := make([]snapshotRecord, len(records))
	for i, r := range records {
		rows[i] = snapshotRecord{Key: r.Key, Value: r.Value}
	}
	recData, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal snapshot records: %w", err)
	}
	cpData, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots (snapshot_id, sequence, state_hash, records, checkpoint)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), cp.Sequence, cp.StateHash[:], recData, cpData)
	if err != nil {
		return fmt.Errorf("insert snapshot seq=%d: %w", cp.Sequence, err)
	}

	if sm.metrics != nil {
		sm.metrics.SnapshotTaken.Inc()
		sm.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		sm.metrics.SnapshotSizeBytes.Set(float64(len(recData) + len(cpData)))
		sm.metrics.SnapshotLastSeq.Set(float64(cp.Sequence))
	}
	sm.logger.Info().Int64("sequence", cp.Sequence).Int("records", len(records)).Msg("snapshot saved")
	return nil
}

// LoadLatest returns the newest snapshot whose hash agrees with the event
// log at its sequence, or nil when there is none.
func (sm *SnapshotManager) LoadLatest(ctx context.Context) (*Snapshot, error) {
	var (
		id              uuid.UUID
		recData, cpData []byte
	)
	err := sm.db.QueryRowContext(ctx, `
		SELECT s.snapshot_id, s.records, s.checkpoint
		FROM event_log.snapshots s
		JOIN event_log.batches b ON b.sequence = s.sequence AND b.state_hash = s.state_hash
		ORDER BY s.sequence DESC, s.created_at DESC
		LIMIT 1
	`).Scan(&id, &recData, &cpData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var rows []snapshotRecord
	if err := json.Unmarshal(recData, &rows); err != nil {
		return nil, fmt.Errorf("decode snapshot records: %w", err)
	}
	snap := &Snapshot{ID: id, Records: make([]state.Record, len(rows))}
	for i, r := range rows {
		snap.Records[i] = state.Record{Key: r.Key, Value: r.Value}
	}
	if err := json.Unmarshal(cpData, &snap.Checkpoint); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return snap, nil
}

// MarkVerified flags a snapshot once a replay from it reached the log head.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, id uuid.UUID) error {
	_, err := sm.db.ExecContext(ctx, `UPDATE event_log.snapshots SET verified = TRUE WHERE snapshot_id = $1`, id)
	return err
}

// LoadBatchesFrom reads logged batches with sequence >= from, in order.
func (sm *SnapshotManager) LoadBatchesFrom(ctx context.Context, from int64, limit int) ([]*event.EventEnvelope, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, batch_id, signer, slot, unix_timestamp, payload, state_hash, prev_hash
		FROM event_log.batches
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*event.EventEnvelope
	for rows.Next() {
		var (
			env                 event.EventEnvelope
			signer              string
			slot                int64
			payload             []byte
			stateHash, prevHash []byte
		)
		if err := rows.Scan(&env.Sequence, &env.IdempotencyKey, &signer, &slot, &env.Clock.UnixTimestamp,
			&payload, &stateHash, &prevHash); err != nil {
			return nil, err
		}
		if env.Signer, err = uuid.Parse(signer); err != nil {
			return nil, fmt.Errorf("batch %d signer: %w", env.Sequence, err)
		}
		env.Clock.Slot = uint64(slot)
		env.Payload = json.RawMessage(payload)
		if len(stateHash) != 32 || len(prevHash) != 32 {
			return nil, fmt.Errorf("batch %d: malformed hash", env.Sequence)
		}
		copy(env.StateHash[:], stateHash)
		copy(env.PrevHash[:], prevHash)
		out = append(out, &env)
	}
	return out, rows.Err()
}

// LatestSequence returns the highest logged sequence, or -1 when the log
// is empty.
func (sm *SnapshotManager) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.batches`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// Run saves a snapshot each time trigger reports a sequence at least
// interval past the last one saved.
func (sm *SnapshotManager) Run(ctx context.Context, interval int64, trigger <-chan int64, source SnapshotSource) error {
	last := int64(-1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case seq := <-trigger:
			if seq-last < interval {
				continue
			}
			records, cp, err := source()
			if err != nil {
				sm.logger.Error().Err(err).Msg("read snapshot source")
				continue
			}
			if err := sm.Save(ctx, records, cp); err != nil {
				sm.logger.Error().Err(err).Msg("save snapshot")
				continue
			}
			last = cp.Sequence
		}
	}
}
