package store

import (
	"context"

	"github.com/rs/zerolog"

	"VAMMLedger/internal/core"
	"VAMMLedger/internal/observability"
)

// Worker drains the core's store channel into LevelDB. A write failure
// stops the worker: the store would otherwise fall silently behind the
// core, and the event log can rebuild it on the next start.
type Worker struct {
	store   *RecordStore
	input   <-chan core.CoreOutput
	metrics *observability.Metrics
	logger  zerolog.Logger

	// OnCommit is called after each output is durable in the store.
	OnCommit func(cp core.Checkpoint)
}

func NewWorker(s *RecordStore, input <-chan core.CoreOutput, metrics *observability.Metrics) *Worker {
	return &Worker{
		store:   s,
		input:   input,
		metrics: metrics,
		logger:  observability.NewLogger("store"),
	}
}

// Run processes outputs until ctx ends or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return w.drain()
		case out, ok := <-w.input:
			if !ok {
				return nil
			}
			if err := w.apply(out); err != nil {
				return err
			}
		}
	}
}

// drain writes whatever the core already queued before shutdown.
func (w *Worker) drain() error {
	for {
		select {
		case out, ok := <-w.input:
			if !ok {
				return nil
			}
			if err := w.apply(out); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (w *Worker) apply(out core.CoreOutput) error {
	if err := w.store.Apply(out); err != nil {
		if w.metrics != nil {
			w.metrics.StoreErrors.Inc()
		}
		w.logger.Error().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("store write failed")
		return err
	}
	if w.metrics != nil {
		w.metrics.StoreWrites.Inc()
	}
	if w.OnCommit != nil {
		w.OnCommit(CheckpointOf(out))
	}
	return nil
}
