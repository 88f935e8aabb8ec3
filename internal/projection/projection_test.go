package projection_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VAMMLedger/internal/amm"
	"VAMMLedger/internal/core"
	"VAMMLedger/internal/event"
	"VAMMLedger/internal/liquidation"
	"VAMMLedger/internal/persistence"
	"VAMMLedger/internal/projection"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/testutil"
	"VAMMLedger/internal/transition"
)

func envelope(seq int64, events ...event.Event) *event.EventEnvelope {
	for i := range events {
		events[i].Instruction = i
	}
	return &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: uuid.NewString(),
		Clock:          state.Clock{Slot: 10, UnixTimestamp: 1_700_000_100},
		Events:         events,
	}
}

// ============================================================================
// Funding rows
// ============================================================================

func TestFundingRows_OnlyAppliedUpdates(t *testing.T) {
	booked := amm.FundingUpdate{
		MarketIndex:           1,
		Slot:                  10,
		Timestamp:             1_700_000_100,
		MarkPrice:             1_010_000,
		OraclePrice:           1_000_000,
		FundingRate:           416,
		CumulativeFundingRate: 832,
		Applied:               true,
	}
	refreshed := amm.FundingUpdate{MarketIndex: 2, Slot: 10}
	skipped := amm.FundingUpdate{MarketIndex: 3, Slot: 10, OracleSkipped: true}

	env := envelope(4,
		event.New(event.KindFunding, booked).ForMarket(1),
		event.New(event.KindFunding, refreshed).ForMarket(2),
		event.New(event.KindFunding, &skipped).ForMarket(3),
		event.New(event.KindOracle, event.OracleUpdate{Price: 1}),
	)

	rows := projection.FundingRows(env)
	require.Len(t, rows, 1)
	r := rows[0]
	assert.Equal(t, uint16(1), r.MarketIndex)
	assert.Equal(t, int64(4), r.Sequence)
	assert.Equal(t, uint64(10), r.Slot)
	assert.Equal(t, int64(416), r.FundingRate)
	assert.Equal(t, int64(832), r.CumulativeFundingRate)
	assert.Equal(t, int64(1_010_000), r.MarkPrice)
}

func TestFundingRows_PointerPayload(t *testing.T) {
	up := &amm.FundingUpdate{MarketIndex: 0, Applied: true, FundingRate: -5}
	rows := projection.FundingRows(envelope(0, event.New(event.KindFunding, up).ForMarket(0)))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(-5), rows[0].FundingRate)
}

// ============================================================================
// Liquidation rows
// ============================================================================

func TestLiquidationRows_ScopedToTarget(t *testing.T) {
	target := uuid.New()
	res := liquidation.Result{
		MarketIndex:      0,
		OraclePrice:      1_500_000,
		BaseTransferred:  3_000_000_000,
		QuoteTransferred: 4_400_000,
		StatusAfter:      state.StatusPartiallyLiquidated,
	}
	env := envelope(9,
		event.New(event.KindOracle, event.OracleUpdate{Price: 1_500_000}),
		event.New(event.KindLiquidation, res).ForMarket(0).ForUser(target, 2),
	)

	rows := projection.LiquidationRows(env)
	require.Len(t, rows, 1)
	r := rows[0]
	assert.Equal(t, int64(9), r.Sequence)
	assert.Equal(t, 1, r.Instruction)
	assert.Equal(t, target, r.TargetAuthority)
	assert.Equal(t, uint16(2), r.TargetSubAccount)
	assert.Equal(t, "PartiallyLiquidated", r.StatusAfter)
	assert.Equal(t, int64(3_000_000_000), r.BaseTransferred)
	assert.Zero(t, r.BadDebt)
	assert.Equal(t, env.Clock.UnixTimestamp, r.UnixTimestamp)
}

func TestLiquidationRows_CarriesBadDebt(t *testing.T) {
	res := liquidation.Result{
		StatusAfter: state.StatusHealthy,
		Bankruptcy:  &liquidation.Bankruptcy{Loss: 900, FromDeposit: 100, BadDebt: 800},
		BadDebt:     errors.New("bad debt"),
	}
	rows := projection.LiquidationRows(envelope(1, event.New(event.KindLiquidation, res).ForMarket(0).ForUser(uuid.New(), 0)))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(800), rows[0].BadDebt)
}

func TestLiquidationRows_SkipsUnscopedEvents(t *testing.T) {
	rows := projection.LiquidationRows(envelope(1, event.New(event.KindLiquidation, liquidation.Result{}).ForMarket(0)))
	assert.Empty(t, rows)
}

// ============================================================================
// Postgres integration
// ============================================================================

func setupDB(t *testing.T) *sql.DB {
	db, cleanup := testutil.SetupTestDB(t, func(db *sql.DB) error {
		return persistence.NewMigrator(db, persistence.Migrations()).Up(context.Background())
	})
	t.Cleanup(cleanup)
	return db
}

// runDeposits applies n deposits for one user and returns every output.
func runDeposits(t *testing.T, n int) []core.CoreOutput {
	t.Helper()
	ch := make(chan core.CoreOutput, n)
	logger := zerolog.Nop()
	c, err := core.NewDeterministicCore(testutil.NewState(t), core.Options{Logger: &logger, ProjectionChan: ch})
	require.NoError(t, err)

	user := uuid.New()
	for i := 0; i < n; i++ {
		_, err := c.ApplyBatch(&transition.Batch{
			BatchID: uuid.New(),
			Signer:  user,
			Clock:   testutil.Clock(uint64(i + 1)),
			Instructions: []transition.Instruction{transition.MustNew(transition.KindDeposit, &transition.Deposit{
				Amount:         1_000_000,
				InitializeUser: i == 0,
			})},
		}, nil)
		require.NoError(t, err)
	}
	close(ch)
	var outs []core.CoreOutput
	for o := range ch {
		outs = append(outs, o)
	}
	return outs
}

func feed(outs []core.CoreOutput) <-chan core.CoreOutput {
	ch := make(chan core.CoreOutput, len(outs))
	for _, o := range outs {
		ch <- o
	}
	close(ch)
	return ch
}

func balanceOf(t *testing.T, db *sql.DB, path string) int64 {
	t.Helper()
	rows, err := projection.QueryBalances(context.Background(), db)
	require.NoError(t, err)
	for _, r := range rows {
		if r.AccountPath == path {
			return r.Balance
		}
	}
	t.Fatalf("no projected balance for %s", path)
	return 0
}

func TestProjectionWorker_SelfHealsAfterDrop(t *testing.T) {
	db := setupDB(t)
	outs := runDeposits(t, 3)

	// the middle output was dropped on the way in
	require.NoError(t, projection.NewProjectionWorker(db, feed([]core.CoreOutput{outs[0], outs[2]}), nil).Run(context.Background()))

	assert.Equal(t, int64(3_000_000), balanceOf(t, db, "system:spot_vault:0"))
	assert.Equal(t, int64(-3_000_000), balanceOf(t, db, "external:deposits:0"))

	seq, err := projection.LoadWatermark(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)
}

func TestProjectionWorker_SkipsAtOrBelowWatermark(t *testing.T) {
	db := setupDB(t)
	outs := runDeposits(t, 2)
	require.NoError(t, projection.NewProjectionWorker(db, feed(outs), nil).Run(context.Background()))

	// a stale output replayed after restart must not roll balances back
	require.NoError(t, projection.NewProjectionWorker(db, feed(outs[:1]), nil).Run(context.Background()))
	assert.Equal(t, int64(2_000_000), balanceOf(t, db, "system:spot_vault:0"))
}

func TestRebuildBalances_MatchesLiveProjection(t *testing.T) {
	db := setupDB(t)
	outs := runDeposits(t, 3)

	require.NoError(t, persistence.NewPersistenceWorker(db, feed(outs), 10, time.Millisecond, nil).Run(context.Background()))
	require.NoError(t, projection.RebuildBalances(context.Background(), db))

	assert.Equal(t, int64(3_000_000), balanceOf(t, db, "system:spot_vault:0"))
	assert.Equal(t, int64(-3_000_000), balanceOf(t, db, "external:deposits:0"))
}
