package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	errorsmod "cosmossdk.io/errors"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VAMMLedger/internal/core"
	"VAMMLedger/internal/event"
	"VAMMLedger/internal/ingestion"
	"VAMMLedger/internal/oracle"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/testutil"
	"VAMMLedger/internal/transition"
	"VAMMLedger/internal/types"
)

func wireBatch(t *testing.T, ins ...transition.Instruction) []byte {
	t.Helper()
	b := &transition.Batch{
		BatchID:      uuid.New(),
		Signer:       testutil.Admin,
		Clock:        testutil.Clock(1),
		Instructions: ins,
	}
	data, err := b.Marshal()
	require.NoError(t, err)
	return data
}

func priceUpdate() transition.Instruction {
	return transition.MustNew(transition.KindSetOraclePrice, &transition.SetOraclePrice{
		Oracle: testutil.PerpOracle,
		Source: oracle.SourcePrelaunch,
		Price:  1_000_000,
	})
}

func updateAMM() transition.Instruction {
	return transition.MustNew(transition.KindUpdateAMM, &transition.UpdateAMM{MarketIndexes: []uint16{0}})
}

// ============================================================================
// Subjects
// ============================================================================

func TestSubjectCategory(t *testing.T) {
	cases := []struct {
		subject string
		want    transition.Category
		wantErr bool
	}{
		{"vamm.batches.admin.x", transition.CategoryAdmin, false},
		{"vamm.batches.user.abc.def", transition.CategoryUser, false},
		{"vamm.batches.keeper", transition.CategoryKeeper, false},
		{"vamm.batches.oracle.feed", transition.CategoryOracle, false},
		{"vamm.batches.root.x", 0, true},
		{"perp.trades.x", 0, true},
		{"vamm.batchesuser.x", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.subject, func(t *testing.T) {
			got, err := ingestion.SubjectCategory(tc.subject)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBatchSubject_RoundTripsCategory(t *testing.T) {
	subject := ingestion.BatchSubject(transition.CategoryKeeper, testutil.Admin.String())
	got, err := ingestion.SubjectCategory(subject)
	require.NoError(t, err)
	assert.Equal(t, transition.CategoryKeeper, got)
}

// ============================================================================
// ParseMessage
// ============================================================================

func TestParseMessage_MatchingCategory(t *testing.T) {
	b, err := ingestion.ParseMessage("vamm.batches.oracle.perp", wireBatch(t, priceUpdate()))
	require.NoError(t, err)
	require.Len(t, b.Instructions, 1)
	assert.Equal(t, transition.KindSetOraclePrice, b.Instructions[0].Kind)
}

func TestParseMessage_SubjectCategoryMismatch(t *testing.T) {
	_, err := ingestion.ParseMessage("vamm.batches.user.x", wireBatch(t, priceUpdate()))
	require.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestParseMessage_MixedBatchRejected(t *testing.T) {
	_, err := ingestion.ParseMessage("vamm.batches.oracle.x", wireBatch(t, priceUpdate(), updateAMM()))
	require.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestParseMessage_UnknownInstructionType(t *testing.T) {
	data := []byte(`{"batch_id":"` + uuid.NewString() + `","signer":"` + testutil.Admin.String() +
		`","clock":{"slot":1,"unix_timestamp":1},"instructions":[{"type":"place_perp_order","params":{}}]}`)
	_, err := ingestion.ParseMessage("vamm.batches.user.x", data)
	require.Error(t, err)
}

func TestParseMessage_Garbage(t *testing.T) {
	_, err := ingestion.ParseMessage("vamm.batches.user.x", []byte("not json"))
	require.Error(t, err)
}

// ============================================================================
// Delivery outcome
// ============================================================================

func TestClassify(t *testing.T) {
	assert.Equal(t, ingestion.OutcomeAck, ingestion.Classify(nil))
	assert.Equal(t, ingestion.OutcomeTerm, ingestion.Classify(errorsmod.Wrap(types.ErrInsufficientCollateral, "open")))
	assert.Equal(t, ingestion.OutcomeTerm, ingestion.Classify(types.ErrClockRegression))
	assert.Equal(t, ingestion.OutcomeNak, ingestion.Classify(core.ErrSequencerStopped))
	assert.Equal(t, ingestion.OutcomeNak, ingestion.Classify(context.Canceled))
	assert.Equal(t, ingestion.OutcomeNak, ingestion.Classify(errors.New("connection reset")))
}

// ============================================================================
// RPC ingest
// ============================================================================

type fakeSubmitter struct {
	got     *transition.Batch
	receipt *core.Receipt
	err     error
}

func (f *fakeSubmitter) Submit(_ context.Context, b *transition.Batch, _ []byte) (*core.Receipt, error) {
	f.got = b
	return f.receipt, f.err
}

func TestSubmitBatch_ReturnsReceipt(t *testing.T) {
	sub := &fakeSubmitter{receipt: &core.Receipt{Sequence: 7, StateHash: [32]byte{0xab}}}
	svc := ingestion.NewGRPCIngestService(sub, nil)

	res, err := svc.SubmitBatch(context.Background(), wireBatch(t, priceUpdate()))
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Sequence)
	assert.Equal(t, "ab", res.StateHash[:2])
	assert.False(t, res.Duplicate)
	require.NotNil(t, sub.got)
}

func TestSubmitBatch_SurfacesBadDebt(t *testing.T) {
	sub := &fakeSubmitter{receipt: &core.Receipt{BadDebt: errorsmod.Wrap(types.ErrBadDebt, "market 0")}}
	res, err := ingestion.NewGRPCIngestService(sub, nil).SubmitBatch(context.Background(), wireBatch(t, priceUpdate()))
	require.NoError(t, err)
	assert.Contains(t, res.BadDebt, "bad debt")
}

func TestSubmitBatch_RejectsMixedCategory(t *testing.T) {
	sub := &fakeSubmitter{}
	_, err := ingestion.NewGRPCIngestService(sub, nil).SubmitBatch(context.Background(), wireBatch(t, priceUpdate(), updateAMM()))
	require.ErrorIs(t, err, types.ErrInvalidParameter)
	assert.Nil(t, sub.got)
}

// ============================================================================
// Outbound
// ============================================================================

type recordingPublisher struct {
	subjects []string
	bodies   [][]byte
}

func (r *recordingPublisher) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	r.subjects = append(r.subjects, subject)
	r.bodies = append(r.bodies, data)
	return &jetstream.PubAck{}, nil
}

func TestOutboundPublisher_PublishesEveryEventOnItsSubject(t *testing.T) {
	market := uint16(3)
	env := &event.EventEnvelope{
		Sequence:       9,
		IdempotencyKey: uuid.NewString(),
		Clock:          state.Clock{Slot: 5, UnixTimestamp: 50},
		Events: []event.Event{
			event.New(event.KindOracle, event.OracleUpdate{Price: 1}),
			event.New(event.KindFunding, map[string]int{"rate": 1}).ForMarket(market),
		},
	}
	input := make(chan core.CoreOutput, 1)
	input <- core.CoreOutput{Envelope: env}
	close(input)

	pub := &recordingPublisher{}
	require.NoError(t, ingestion.NewOutboundPublisher(pub, input, nil).Run(context.Background()))

	assert.Equal(t, []string{"vamm.ledger.events.oracle", "vamm.ledger.events.funding.3"}, pub.subjects)
	var msg ingestion.PublishedEvent
	require.NoError(t, json.Unmarshal(pub.bodies[1], &msg))
	assert.Equal(t, int64(9), msg.Sequence)
	assert.Equal(t, env.IdempotencyKey, msg.BatchID)
	assert.Equal(t, event.KindFunding, msg.Event.Kind)
	require.NotNil(t, msg.Event.Market)
	assert.Equal(t, market, *msg.Event.Market)
}
