package state_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VAMMLedger/internal/ledger"
	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/oracle"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

func newTestState(t *testing.T) *state.State {
	t.Helper()
	s := state.New(state.DefaultGlobalConfig(uuid.New()))
	tx := s.Begin(state.Clock{Slot: 1, UnixTimestamp: 100})
	tx.InsertSpotMarket(state.SpotMarket{
		MarketIndex:               0,
		Mint:                      types.MustSymbol("USDC"),
		Decimals:                  6,
		Oracle:                    state.OracleRef{Source: oracle.SourceQuoteAsset},
		CumulativeDepositInterest: 10_000_000_000,
		CumulativeBorrowInterest:  10_000_000_000,
	})
	_, err := tx.Commit()
	require.NoError(t, err)
	return s
}

func TestTxDiscardLeavesStateUntouched(t *testing.T) {
	s := newTestState(t)

	tx := s.Begin(state.Clock{Slot: 2})
	m, err := tx.SpotMarket(0)
	require.NoError(t, err)
	m.VaultAmount = 999
	tx.InsertUser(state.UserAccount{Authority: uuid.New()})
	// tx dropped without Commit

	committed, ok := s.SpotMarket(0)
	require.True(t, ok)
	assert.Zero(t, committed.VaultAmount)
	count := 0
	s.AscendUsers(func(*state.UserAccount) bool { count++; return true })
	assert.Zero(t, count)
}

func TestTxCommitReturnsOnlyChangedRecords(t *testing.T) {
	s := newTestState(t)

	tx := s.Begin(state.Clock{Slot: 2})
	_, err := tx.SpotMarket(0) // read only
	require.NoError(t, err)
	changes, err := tx.Commit()
	require.NoError(t, err)
	assert.Empty(t, changes)

	tx = s.Begin(state.Clock{Slot: 3})
	m, err := tx.SpotMarket(0)
	require.NoError(t, err)
	m.VaultAmount = 5
	changes, err = tx.Commit()
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, state.SpotMarketKey(0), changes[0].Key)

	committed, _ := s.SpotMarket(0)
	assert.Equal(t, int64(5), committed.VaultAmount)
}

func TestMissingRecordsReportTypedErrors(t *testing.T) {
	s := newTestState(t)
	tx := s.Begin(state.Clock{})

	_, err := tx.SpotMarket(7)
	assert.ErrorIs(t, err, types.ErrInvalidMarketIndex)
	_, err = tx.PerpMarket(0)
	assert.ErrorIs(t, err, types.ErrInvalidMarketIndex)
	_, err = tx.User(state.UserKey{Authority: uuid.New()})
	assert.ErrorIs(t, err, types.ErrAccountNotFound)
	_, err = tx.Feed(types.MustSymbol("SOL"))
	assert.ErrorIs(t, err, types.ErrInvalidOracle)
}

func TestRecordsRoundTrip(t *testing.T) {
	s := newTestState(t)
	authority := uuid.New()

	tx := s.Begin(state.Clock{Slot: 5})
	u := tx.InsertUser(state.UserAccount{Authority: authority, SubAccountID: 3})
	pos, err := u.ForcePerpPosition(0)
	require.NoError(t, err)
	pos.BaseAssetAmount = -42
	tx.InsertStake(state.InsuranceFundStake{Authority: authority, IfShares: 10})
	tx.InsertUserStats(state.UserStats{Authority: authority, NumberOfSubAccounts: 1})
	tx.PutFeed(oracle.Feed{Key: types.MustSymbol("SOL-USD"), Reading: oracle.PythReading{Price: 123, Expo: -2, PublishSlot: 5}})
	tx.PutFeed(oracle.Feed{Key: types.MustSymbol("SB"), Reading: oracle.SwitchboardReading{Mantissa: 7, Scale: 1}})
	_, err = tx.Commit()
	require.NoError(t, err)

	records, err := s.Records()
	require.NoError(t, err)
	restored, err := state.Load(records)
	require.NoError(t, err)

	again, err := restored.Records()
	require.NoError(t, err)
	assert.Equal(t, records, again)

	got, ok := restored.User(state.UserKey{Authority: authority, SubAccountID: 3})
	require.True(t, ok)
	p, err := got.PerpPosition(0)
	require.NoError(t, err)
	assert.Equal(t, int64(-42), p.BaseAssetAmount)

	feed, ok := restored.Feed(types.MustSymbol("SOL-USD"))
	require.True(t, ok)
	pd, err := feed.PriceData(5)
	require.NoError(t, err)
	assert.Equal(t, int64(1_230_000), pd.Price)
}

func TestPositionSlots(t *testing.T) {
	u := &state.UserAccount{}

	_, err := u.PerpPosition(0)
	assert.ErrorIs(t, err, types.ErrPositionNotFound, "empty slot is not a position")

	for i := 0; i < state.MaxPerpPositions; i++ {
		p, err := u.ForcePerpPosition(uint16(i))
		require.NoError(t, err)
		p.BaseAssetAmount = 1
	}
	_, err = u.ForcePerpPosition(99)
	assert.ErrorIs(t, err, types.ErrMaxNumberOfPositions)

	// Flattening a position frees its slot.
	p, err := u.PerpPosition(3)
	require.NoError(t, err)
	p.BaseAssetAmount = 0
	p, err = u.ForcePerpPosition(99)
	require.NoError(t, err)
	assert.Equal(t, uint16(99), p.MarketIndex)
}

func TestLiquidationStatusTransitions(t *testing.T) {
	u := &state.UserAccount{}
	require.NoError(t, u.TransitionTo(state.StatusLiquidatable))
	require.NoError(t, u.TransitionTo(state.StatusPartiallyLiquidated))
	require.NoError(t, u.TransitionTo(state.StatusPartiallyLiquidated))
	require.NoError(t, u.TransitionTo(state.StatusBankrupt))
	assert.ErrorIs(t, u.TransitionTo(state.StatusLiquidatable), types.ErrInvariantViolation)
	require.NoError(t, u.TransitionTo(state.StatusHealthy))

	assert.False(t, state.StatusHealthy.CanTransitionTo(state.StatusBankrupt))
}

func TestJournalsStayInTx(t *testing.T) {
	s := newTestState(t)
	tx := s.Begin(state.Clock{})
	tx.RecordJournal(ledger.SpotDeposit(0, 10))
	assert.Len(t, tx.Journals(), 1)
	assert.Empty(t, s.Begin(state.Clock{}).Journals())
}

func TestGlobalConfigValidate(t *testing.T) {
	cfg := state.DefaultGlobalConfig(uuid.New())
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Liquidation.DrawdownOrder = [2]state.DrawdownSource{state.DrawdownFeePool, state.DrawdownFeePool}
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Curve.MaxKChange = 0
	assert.Error(t, bad.Validate())
}

func TestAMMCheckInvariant_CurveFormAtEverySkew(t *testing.T) {
	cases := []struct {
		name      string
		base      int64
		wantQuote int64
		wantRoot  int64
	}{
		{"balanced", 1_000, 1_000, 1_000},
		{"base under 2k", 1_500, 667, 1_000},
		{"base over 2k divides evenly", 5_000, 200, 1_000},
		{"base over 2k rounds root up", 3_001, 334, 1_001},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := state.AMM{SqrtK: 1_000, BaseAssetReserve: tc.base, QuoteAssetReserve: tc.wantQuote}
			require.NoError(t, a.CheckInvariant())

			root, err := fp.SqrtK(a.BaseAssetReserve, a.QuoteAssetReserve)
			require.NoError(t, err)
			assert.Equal(t, tc.wantRoot, root)

			a.QuoteAssetReserve++
			assert.ErrorIs(t, a.CheckInvariant(), types.ErrInvariantViolation)
			a.QuoteAssetReserve -= 2
			assert.ErrorIs(t, a.CheckInvariant(), types.ErrInvariantViolation)
		})
	}
}
