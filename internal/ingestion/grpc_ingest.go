package ingestion

import (
	"context"
	"encoding/hex"

	"github.com/rs/zerolog"

	"VAMMLedger/internal/event"
	"VAMMLedger/internal/observability"
	"VAMMLedger/internal/transition"
)

// GRPCIngestService accepts batches over RPC and HTTP. It is meant for
// admin work and manual injection; NATS carries the bulk traffic.
type GRPCIngestService struct {
	submitter Submitter
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// SubmitResult is the receipt returned to RPC callers.
type SubmitResult struct {
	Sequence  int64         `json:"sequence"`
	StateHash string        `json:"state_hash,omitempty"`
	PrevHash  string        `json:"prev_hash,omitempty"`
	Duplicate bool          `json:"duplicate"`
	Events    []event.Event `json:"events,omitempty"`
	// BadDebt is set when a liquidation committed with an unabsorbed loss.
	BadDebt string `json:"bad_debt,omitempty"`
}

func NewGRPCIngestService(submitter Submitter, metrics *observability.Metrics) *GRPCIngestService {
	return &GRPCIngestService{
		submitter: submitter,
		metrics:   metrics,
		logger:    observability.NewLogger("grpc-ingest"),
	}
}

// SubmitBatch decodes a wire batch and applies it.
func (s *GRPCIngestService) SubmitBatch(ctx context.Context, data []byte) (*SubmitResult, error) {
	b, err := transition.Parse(data)
	if err != nil {
		s.reject("parse", err)
		return nil, err
	}
	category, err := b.Category()
	if err != nil {
		s.reject("mixed_category", err)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IngestReceived.WithLabelValues("grpc", category.String()).Inc()
	}

	receipt, err := s.submitter.Submit(ctx, b, data)
	if err != nil {
		s.reject("rejected", err)
		return nil, err
	}
	if receipt.Duplicate {
		return &SubmitResult{Duplicate: true}, nil
	}
	res := &SubmitResult{
		Sequence:  receipt.Sequence,
		StateHash: hex.EncodeToString(receipt.StateHash[:]),
		PrevHash:  hex.EncodeToString(receipt.PrevHash[:]),
		Events:    receipt.Events,
	}
	if receipt.BadDebt != nil {
		res.BadDebt = receipt.BadDebt.Error()
	}
	return res, nil
}

func (s *GRPCIngestService) reject(reason string, err error) {
	if s.metrics != nil {
		s.metrics.IngestRejected.WithLabelValues("grpc", reason).Inc()
	}
	s.logger.Debug().Err(err).Str("reason", reason).Msg("batch rejected")
}
