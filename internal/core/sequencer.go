package core

import (
	"context"
	"errors"

	"VAMMLedger/internal/observability"
	"VAMMLedger/internal/transition"
)

// ErrSequencerStopped is returned to callers once Run has exited.
var ErrSequencerStopped = errors.New("sequencer stopped")

// Sequencer owns the core goroutine. Ingestion sources submit batches and
// the query API reads state through it, so the core itself needs no lock.
type Sequencer struct {
	core     *DeterministicCore
	requests chan request
	stopped  chan struct{}
	metrics  *observability.Metrics
}

type request struct {
	batch   *transition.Batch
	payload []byte
	view    func(*DeterministicCore) error
	done    chan response
}

type response struct {
	receipt *Receipt
	err     error
}

func NewSequencer(c *DeterministicCore, queueSize int, metrics *observability.Metrics) *Sequencer {
	return &Sequencer{
		core:     c,
		requests: make(chan request, queueSize),
		stopped:  make(chan struct{}),
		metrics:  metrics,
	}
}

// Run serves requests in arrival order until ctx ends.
func (s *Sequencer) Run(ctx context.Context) error {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-s.requests:
			if s.metrics != nil {
				s.metrics.ChannelSize.WithLabelValues("sequencer").Set(float64(len(s.requests)))
			}
			var res response
			if req.view != nil {
				res.err = req.view(s.core)
			} else {
				res.receipt, res.err = s.core.ApplyBatch(req.batch, req.payload)
			}
			req.done <- res
		}
	}
}

// Submit applies a batch and waits for its receipt. payload is the wire
// form to log; nil re-encodes the batch.
func (s *Sequencer) Submit(ctx context.Context, b *transition.Batch, payload []byte) (*Receipt, error) {
	res, err := s.do(ctx, request{batch: b, payload: payload})
	if err != nil {
		return nil, err
	}
	return res.receipt, res.err
}

// View runs fn on the core goroutine. fn must not retain the state.
func (s *Sequencer) View(ctx context.Context, fn func(*DeterministicCore) error) error {
	res, err := s.do(ctx, request{view: fn})
	if err != nil {
		return err
	}
	return res.err
}

func (s *Sequencer) do(ctx context.Context, req request) (response, error) {
	req.done = make(chan response, 1)
	select {
	case s.requests <- req:
	case <-s.stopped:
		return response{}, ErrSequencerStopped
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	// once queued the request will be served, unless Run exits first
	select {
	case res := <-req.done:
		return res, nil
	case <-s.stopped:
		select {
		case res := <-req.done:
			return res, nil
		default:
			return response{}, ErrSequencerStopped
		}
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}
