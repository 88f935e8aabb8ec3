package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"VAMMLedger/internal/core"
	"VAMMLedger/internal/observability"
	"VAMMLedger/internal/transition"
	"VAMMLedger/internal/types"
)

// Submitter applies a batch on the core goroutine.
type Submitter interface {
	Submit(ctx context.Context, b *transition.Batch, payload []byte) (*core.Receipt, error)
}

// NATSSubscriber consumes batches from JetStream and submits them to the
// core, one durable consumer per category.
type NATSSubscriber struct {
	js        jetstream.JetStream
	submitter Submitter
	metrics   *observability.Metrics
	logger    zerolog.Logger
	consumers []jetstream.ConsumeContext
}

// SubjectConfig binds one category subject to its durable consumer.
type SubjectConfig struct {
	Subject      string
	Category     transition.Category
	ConsumerName string
	StreamName   string
}

// BatchStream holds every inbound subject.
const BatchStream = "VAMM_BATCHES"

// DefaultSubjects returns one consumer per category.
func DefaultSubjects() []SubjectConfig {
	var out []SubjectConfig
	for _, c := range []transition.Category{
		transition.CategoryAdmin,
		transition.CategoryUser,
		transition.CategoryKeeper,
		transition.CategoryOracle,
	} {
		out = append(out, SubjectConfig{
			Subject:      fmt.Sprintf("%s.%s.>", BatchSubjectPrefix, c),
			Category:     c,
			ConsumerName: "ledger-" + c.String(),
			StreamName:   BatchStream,
		})
	}
	return out
}

func NewNATSSubscriber(js jetstream.JetStream, submitter Submitter, metrics *observability.Metrics) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		submitter: submitter,
		metrics:   metrics,
		logger:    observability.NewLogger("nats-ingest"),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			ns.handle(ctx, msg)
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}
		ns.consumers = append(ns.consumers, cc)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

// Outcome is what the subscriber does with a message.
type Outcome int

const (
	OutcomeAck  Outcome = iota // applied or already applied
	OutcomeTerm                // can never apply; stop redelivery
	OutcomeNak                 // transient; redeliver
)

// Classify maps a Submit result onto a delivery outcome. Registered domain
// errors are deterministic, so redelivering the batch cannot help.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeAck
	case errors.Is(err, core.ErrSequencerStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return OutcomeNak
	case types.Code(err) != types.CodeUnregistered:
		return OutcomeTerm
	default:
		return OutcomeNak
	}
}

func (ns *NATSSubscriber) handle(ctx context.Context, msg jetstream.Msg) {
	b, err := ParseMessage(msg.Subject(), msg.Data())
	if err != nil {
		ns.reject("parse", err, msg.Subject())
		msg.Term()
		return
	}
	category, _ := b.Category()
	if ns.metrics != nil {
		ns.metrics.IngestReceived.WithLabelValues("nats", category.String()).Inc()
	}

	receipt, err := ns.submitter.Submit(ctx, b, msg.Data())
	switch Classify(err) {
	case OutcomeAck:
		msg.Ack()
		if receipt.Duplicate {
			ns.logger.Debug().Str("batch_id", b.IdempotencyKey()).Msg("duplicate batch acked")
		}
	case OutcomeTerm:
		ns.reject("rejected", err, msg.Subject())
		msg.Term()
	case OutcomeNak:
		ns.logger.Warn().Err(err).Str("batch_id", b.IdempotencyKey()).Msg("batch not applied, will redeliver")
		msg.Nak()
	}
}

func (ns *NATSSubscriber) reject(reason string, err error, subject string) {
	if ns.metrics != nil {
		ns.metrics.IngestRejected.WithLabelValues("nats", reason).Inc()
	}
	ns.logger.Warn().Err(err).Str("subject", subject).Str("reason", reason).Msg("batch rejected")
}

// EnsureStreams creates the inbound batch stream if it doesn't exist.
// The stream uses FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      BatchStream,
		Subjects:  []string{BatchSubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", BatchStream, err)
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("vammledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
