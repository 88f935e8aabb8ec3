// Package recovery rebuilds the in-memory ledger on startup: from the
// LevelDB record store when it is usable, else from the newest verified
// Postgres snapshot, else from genesis, then replays the event log tail.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VAMMLedger/internal/config"
	"VAMMLedger/internal/core"
	"VAMMLedger/internal/event"
	"VAMMLedger/internal/observability"
	"VAMMLedger/internal/persistence"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/store"
)

// ReplayPageSize is how many logged batches are read per query.
const ReplayPageSize = 1000

// Source names where a start came from.
type Source string

const (
	SourceStore    Source = "store"
	SourceSnapshot Source = "snapshot"
	SourceGenesis  Source = "genesis"
)

// EventLog is the part of the Postgres event log recovery reads.
type EventLog interface {
	LoadLatest(ctx context.Context) (*persistence.Snapshot, error)
	LoadBatchesFrom(ctx context.Context, from int64, limit int) ([]*event.EventEnvelope, error)
	LatestSequence(ctx context.Context) (int64, error)
	MarkVerified(ctx context.Context, id uuid.UUID) error
}

// Start is the state a core is built from, plus the checkpoint that goes
// with it. Checkpoint is nil for a genesis start.
type Start struct {
	State      *state.State
	Checkpoint *core.Checkpoint
	Source     Source
	SnapshotID uuid.UUID
}

// Recoverer runs the startup sequence.
type Recoverer struct {
	store   *store.RecordStore
	log     EventLog
	genesis *config.Genesis
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func New(rs *store.RecordStore, log EventLog, genesis *config.Genesis, metrics *observability.Metrics) *Recoverer {
	return &Recoverer{
		store:   rs,
		log:     log,
		genesis: genesis,
		metrics: metrics,
		logger:  observability.NewLogger("recovery"),
	}
}

// Load picks the starting point. A store that is ahead of the event log
// holds batches that never became durable and is discarded; the snapshot
// path rewrites the store so it matches the restored state.
func (r *Recoverer) Load(ctx context.Context) (*Start, error) {
	head, err := r.log.LatestSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("read event log head: %w", err)
	}

	records, cp, err := r.store.Load()
	switch {
	case errors.Is(err, store.ErrEmpty):
		r.logger.Info().Msg("record store empty")
	case err != nil:
		return nil, fmt.Errorf("load record store: %w", err)
	case cp.Sequence > head:
		r.logger.Warn().Int64("store_sequence", cp.Sequence).Int64("log_head", head).
			Msg("record store is ahead of the event log, discarding it")
	default:
		st, err := state.Load(records)
		if err != nil {
			return nil, fmt.Errorf("decode record store: %w", err)
		}
		r.logger.Info().Int64("sequence", cp.Sequence).Msg("starting from record store")
		return &Start{State: st, Checkpoint: &cp, Source: SourceStore}, nil
	}

	snap, err := r.log.LoadLatest(ctx)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		st, err := state.Load(snap.Records)
		if err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", snap.ID, err)
		}
		if err := r.store.Reset(snap.Records, snap.Checkpoint); err != nil {
			return nil, fmt.Errorf("seed store from snapshot: %w", err)
		}
		r.logger.Info().Int64("sequence", snap.Checkpoint.Sequence).Str("snapshot_id", snap.ID.String()).
			Msg("starting from snapshot")
		cp := snap.Checkpoint
		return &Start{State: st, Checkpoint: &cp, Source: SourceSnapshot, SnapshotID: snap.ID}, nil
	}

	if r.genesis == nil {
		return nil, errors.New("no record store, snapshot or genesis to start from")
	}
	cfg, err := r.genesis.GlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	r.logger.Info().Msg("starting from genesis")
	return &Start{State: state.New(cfg), Source: SourceGenesis}, nil
}

// Prepare aligns a freshly built core with its start: a checkpoint is
// restored, a genesis state is written to the empty store so store
// outputs always land on a full record set.
func (r *Recoverer) Prepare(c *core.DeterministicCore, start *Start) error {
	if start.Checkpoint != nil {
		c.Restore(*start.Checkpoint)
		return nil
	}
	records, err := c.State().Records()
	if err != nil {
		return fmt.Errorf("encode genesis records: %w", err)
	}
	return r.store.Reset(records, c.Checkpoint())
}

// Replay applies every logged batch after the core's position, in pages,
// and returns how many were applied. Workers draining the store and
// projection channels must already be running.
func (r *Recoverer) Replay(ctx context.Context, c *core.DeterministicCore) (int, error) {
	start := time.Now()
	n := 0
	for {
		page, err := r.log.LoadBatchesFrom(ctx, c.GetSequence(), ReplayPageSize)
		if err != nil {
			return n, fmt.Errorf("load batches from %d: %w", c.GetSequence(), err)
		}
		for _, env := range page {
			if err := c.Replay(env); err != nil {
				return n, err
			}
			n++
		}
		if len(page) < ReplayPageSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
	}
	if r.metrics != nil {
		r.metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	if n > 0 {
		r.logger.Info().Int("batches", n).Int64("sequence", c.GetSequence()-1).
			Dur("took", time.Since(start)).Msg("event log replayed")
	}
	return n, nil
}

// Finish marks a snapshot start verified once replay reached the head.
func (r *Recoverer) Finish(ctx context.Context, start *Start) error {
	if start.Source != SourceSnapshot {
		return nil
	}
	return r.log.MarkVerified(ctx, start.SnapshotID)
}

// ApplyGenesis applies the genesis batch to a core that has never
// committed anything. It returns false when there was nothing to do.
func (r *Recoverer) ApplyGenesis(c *core.DeterministicCore) (bool, error) {
	if r.genesis == nil || c.GetSequence() > 0 {
		return false, nil
	}
	b, err := r.genesis.Batch()
	if err != nil {
		return false, fmt.Errorf("genesis batch: %w", err)
	}
	payload, err := b.Marshal()
	if err != nil {
		return false, err
	}
	receipt, err := c.ApplyBatch(b, payload)
	if err != nil {
		return false, fmt.Errorf("apply genesis: %w", err)
	}
	r.logger.Info().Int64("sequence", receipt.Sequence).Int("instructions", len(b.Instructions)).
		Msg("genesis applied")
	return true, nil
}

// DryRun applies the genesis batch to a throwaway core and returns the
// receipt, proving the file produces a valid ledger.
func DryRun(g *config.Genesis) (*core.Receipt, error) {
	cfg, err := g.GlobalConfig()
	if err != nil {
		return nil, err
	}
	b, err := g.Batch()
	if err != nil {
		return nil, err
	}
	payload, err := b.Marshal()
	if err != nil {
		return nil, err
	}
	logger := zerolog.Nop()
	c, err := core.NewDeterministicCore(state.New(cfg), core.Options{StrictInvariants: true, Logger: &logger})
	if err != nil {
		return nil, err
	}
	return c.ApplyBatch(b, payload)
}
