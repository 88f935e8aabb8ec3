package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VAMMLedger/internal/core"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/testutil"
	"VAMMLedger/internal/transition"
)

func startSequencer(t *testing.T, h *harness) (*core.Sequencer, context.CancelFunc) {
	t.Helper()
	seq := core.NewSequencer(h.core, 16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		seq.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return seq, cancel
}

func TestSequencer_SerializesConcurrentSubmits(t *testing.T) {
	h := newMarketsCore(t)
	seq, _ := startSequencer(t, h)
	before := h.core.GetSequence()

	const n = 20
	clock := testutil.Clock(h.n + 1)
	users := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range users {
		users[i] = uuid.New()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = seq.Submit(context.Background(), &transition.Batch{
				BatchID: uuid.New(),
				Signer:  users[i],
				// one shared clock: equal clocks are not a regression
				Clock: clock,
				Instructions: []transition.Instruction{
					transition.MustNew(transition.KindDeposit, &transition.Deposit{Amount: usdcScale, InitializeUser: true}),
				},
			}, nil)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	var after int64
	var found int
	require.NoError(t, seq.View(context.Background(), func(c *core.DeterministicCore) error {
		after = c.GetSequence()
		for _, u := range users {
			if _, ok := c.State().User(state.UserKey{Authority: u}); ok {
				found++
			}
		}
		return nil
	}))
	assert.Equal(t, before+n, after)
	assert.Equal(t, n, found)
}

func TestSequencer_ReturnsBatchErrors(t *testing.T) {
	h := newMarketsCore(t)
	seq, _ := startSequencer(t, h)

	_, err := seq.Submit(context.Background(), h.batch(uuid.New(), initPerpMarket(5)), nil)
	require.Error(t, err)
}

func TestSequencer_StoppedRejectsWork(t *testing.T) {
	h := newTestCore(t)
	seq, cancel := startSequencer(t, h)
	cancel()

	require.Eventually(t, func() bool {
		err := seq.View(context.Background(), func(*core.DeterministicCore) error { return nil })
		return err == core.ErrSequencerStopped
	}, time.Second, 10*time.Millisecond)
}
