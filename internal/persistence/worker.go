package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"VAMMLedger/internal/core"
	"VAMMLedger/internal/observability"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends on that channel blocking, so if this worker falls behind
// the core stalls and no batch is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	input        <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	// OnFlushed is called with the last sequence of every durable flush.
	OnFlushed func(sequence int64)
}

func NewPersistenceWorker(
	db *sql.DB,
	input <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *PersistenceWorker {
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(),
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		maxBackoff:   30 * time.Second,
		metrics:      metrics,
		logger:       observability.NewLogger("persistence"),
	}
}

type pending struct {
	batches  []BatchRow
	journals []JournalRow
}

func (p *pending) reset() {
	p.batches = p.batches[:0]
	p.journals = p.journals[:0]
}

// Run batches incoming outputs and flushes when the group is full or the
// flush timeout expires. Blocks until ctx is cancelled or the channel
// closes; either way what is buffered gets written first.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	buf := &pending{
		batches:  make([]BatchRow, 0, pw.batchSize),
		journals: make([]JournalRow, 0, pw.batchSize*2),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			pw.drain(buf)
			return pw.finalFlush(buf)

		case out, ok := <-pw.input:
			if !ok {
				return pw.finalFlush(buf)
			}
			if err := pw.add(buf, out); err != nil {
				return err
			}
			if len(buf.batches) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, buf); err != nil {
					return pw.finalFlush(buf)
				}
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(buf.batches) > 0 {
				if err := pw.flushWithRetry(ctx, buf); err != nil {
					return pw.finalFlush(buf)
				}
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

func (pw *PersistenceWorker) add(buf *pending, out core.CoreOutput) error {
	row, journals, err := RowsFromOutput(out)
	if err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("encode").Inc()
		}
		return err
	}
	buf.batches = append(buf.batches, row)
	buf.journals = append(buf.journals, journals...)
	return nil
}

// drain moves whatever the core already queued into buf.
func (pw *PersistenceWorker) drain(buf *pending) {
	for {
		select {
		case out, ok := <-pw.input:
			if !ok {
				return
			}
			if err := pw.add(buf, out); err != nil {
				pw.logger.Error().Err(err).Msg("dropping unencodable output on shutdown")
			}
		default:
			return
		}
	}
}

// flushWithRetry retries with exponential backoff until the write lands or
// ctx ends. It never drops a group.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, buf *pending) error {
	err := retry.Do(
		func() error { return pw.flush(ctx, buf) },
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(100*time.Millisecond),
		retry.MaxDelay(pw.maxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			pw.logger.Warn().Err(err).Uint("attempt", n+1).Int("batches", len(buf.batches)).Msg("persistence flush failed, retrying")
		}),
	)
	if err != nil {
		return err
	}
	buf.reset()
	return nil
}

// finalFlush makes one last bounded attempt at shutdown.
func (pw *PersistenceWorker) finalFlush(buf *pending) error {
	if len(buf.batches) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pw.flush(ctx, buf); err != nil {
		pw.logger.Error().Err(err).Int("batches", len(buf.batches)).Msg("final flush failed")
		return fmt.Errorf("final flush: %w", err)
	}
	buf.reset()
	return nil
}

func (pw *PersistenceWorker) flush(ctx context.Context, buf *pending) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteBatches(ctx, tx, buf.batches); err != nil {
		pw.countError("write_batches")
		return err
	}
	if err := pw.writer.WriteJournals(ctx, tx, buf.journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	last := buf.batches[len(buf.batches)-1].Sequence
	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchesWritten.Add(float64(len(buf.batches)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(buf.journals)))
		pw.metrics.PersistLastSequence.Set(float64(last))
	}
	if pw.OnFlushed != nil {
		pw.OnFlushed(last)
	}
	return nil
}

func (pw *PersistenceWorker) countError(op string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(op).Inc()
	}
}
