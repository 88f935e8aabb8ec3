package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"VAMMLedger/internal/core"
	"VAMMLedger/internal/event"
	"VAMMLedger/internal/observability"
)

// OutboundStream holds every published ledger event.
const OutboundStream = "VAMM_LEDGER_EVENTS"

// Publisher is the slice of jetstream.JetStream the outbound path needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes each committed event to
// vamm.ledger.events.{kind}[.{market}] for downstream consumers.
type OutboundPublisher struct {
	js      Publisher
	input   <-chan core.CoreOutput
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// PublishedEvent is the outbound message body.
type PublishedEvent struct {
	Sequence      int64       `json:"sequence"`
	BatchID       string      `json:"batch_id"`
	Slot          uint64      `json:"slot"`
	UnixTimestamp int64       `json:"unix_timestamp"`
	StateHash     string      `json:"state_hash"`
	Event         event.Event `json:"event"`
}

func NewOutboundPublisher(js Publisher, input <-chan core.CoreOutput, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:      js,
		input:   input,
		metrics: metrics,
		logger:  observability.NewLogger("publisher"),
	}
}

// Run publishes until ctx ends or the channel closes. Failures are logged
// and counted; consumers can always read the event log instead.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case out, ok := <-op.input:
			if !ok {
				return nil
			}
			for i, msg := range Messages(out.Envelope) {
				if err := op.publish(ctx, msg, i); err != nil {
					if op.metrics != nil {
						op.metrics.PublishDrops.Inc()
					}
					op.logger.Warn().Err(err).Int64("sequence", msg.Sequence).Msg("outbound publish failed")
				}
			}
		}
	}
}

// Messages builds the outbound bodies for one envelope, in event order.
func Messages(env *event.EventEnvelope) []PublishedEvent {
	out := make([]PublishedEvent, len(env.Events))
	for i, ev := range env.Events {
		out[i] = PublishedEvent{
			Sequence:      env.Sequence,
			BatchID:       env.IdempotencyKey,
			Slot:          env.Clock.Slot,
			UnixTimestamp: env.Clock.UnixTimestamp,
			StateHash:     hex.EncodeToString(env.StateHash[:]),
			Event:         ev,
		}
	}
	return out
}

func (op *OutboundPublisher) publish(ctx context.Context, msg PublishedEvent, index int) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// the msg id lets JetStream drop a republish of the same event
	_, err = op.js.Publish(ctx, msg.Event.Subject(), data,
		jetstream.WithMsgID(fmt.Sprintf("%d-%d", msg.Sequence, index)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       OutboundStream,
		Subjects:   []string{event.SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
