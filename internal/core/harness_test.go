package core_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"VAMMLedger/internal/core"
	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/oracle"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/testutil"
	"VAMMLedger/internal/transition"
	"VAMMLedger/internal/types"
)

var (
	admin     = testutil.Admin
	perpFeed  = testutil.PerpOracle
	stepSize  = testutil.StepSize
	usdcScale = int64(1_000_000)
)

// harness drives a core with a clock that advances one slot and one
// second per batch.
type harness struct {
	t       *testing.T
	core    *core.DeterministicCore
	persist chan core.CoreOutput
	n       uint64
	// skew is added to every timestamp from here on.
	skew int64
}

// newTestCore creates a core on an empty state with buffered channels and
// no DB checker.
func newTestCore(t *testing.T) *harness {
	t.Helper()
	persist := make(chan core.CoreOutput, 1024)
	logger := zerolog.Nop()
	c, err := core.NewDeterministicCore(state.New(state.DefaultGlobalConfig(admin)), core.Options{
		StrictInvariants: true,
		Logger:           &logger,
		PersistChan:      persist,
	})
	require.NoError(t, err)
	return &harness{t: t, core: c, persist: persist}
}

// batch builds the next batch without applying it.
func (h *harness) batch(signer uuid.UUID, ins ...transition.Instruction) *transition.Batch {
	h.n++
	clock := testutil.Clock(h.n)
	clock.UnixTimestamp += h.skew
	return &transition.Batch{
		BatchID:      uuid.New(),
		Signer:       signer,
		Clock:        clock,
		Instructions: ins,
	}
}

func (h *harness) apply(signer uuid.UUID, ins ...transition.Instruction) (*core.Receipt, error) {
	return h.core.ApplyBatch(h.batch(signer, ins...), nil)
}

func (h *harness) mustApply(signer uuid.UUID, ins ...transition.Instruction) *core.Receipt {
	h.t.Helper()
	r, err := h.apply(signer, ins...)
	require.NoError(h.t, err)
	require.False(h.t, r.Duplicate)
	return r
}

func (h *harness) user(authority uuid.UUID, sub uint16) *state.UserAccount {
	h.t.Helper()
	u, ok := h.core.State().User(state.UserKey{Authority: authority, SubAccountID: sub})
	require.True(h.t, ok, "user %s/%d", authority, sub)
	return u
}

func (h *harness) perpMarket(idx uint16) *state.PerpMarket {
	h.t.Helper()
	m, ok := h.core.State().PerpMarket(idx)
	require.True(h.t, ok)
	return m
}

func (h *harness) setPrice(price int64) {
	h.t.Helper()
	h.mustApply(admin, transition.MustNew(transition.KindSetOraclePrice, &transition.SetOraclePrice{
		Oracle: perpFeed,
		Source: oracle.SourcePrelaunch,
		Price:  price,
	}))
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func initQuoteMarket() transition.Instruction {
	return transition.MustNew(transition.KindInitializeSpotMarket, &transition.InitializeSpotMarket{
		Mint:                       types.MustSymbol("USDC"),
		Decimals:                   6,
		OracleSource:               oracle.SourceQuoteAsset,
		OptimalUtilization:         800_000,
		OptimalBorrowRate:          100_000,
		MaxBorrowRate:              1_000_000,
		InitialAssetWeight:         fp.SpotWeightPrecision,
		MaintenanceAssetWeight:     fp.SpotWeightPrecision,
		InitialLiabilityWeight:     fp.SpotWeightPrecision,
		MaintenanceLiabilityWeight: fp.SpotWeightPrecision,
	})
}

func initSolMarket() transition.Instruction {
	return transition.MustNew(transition.KindInitializeSpotMarket, &transition.InitializeSpotMarket{
		Mint:                       types.MustSymbol("SOL"),
		Decimals:                   9,
		Oracle:                     testutil.SolOracle,
		OracleSource:               oracle.SourcePyth,
		OptimalUtilization:         700_000,
		OptimalBorrowRate:          50_000,
		MaxBorrowRate:              500_000,
		InitialAssetWeight:         8_000,
		MaintenanceAssetWeight:     9_000,
		InitialLiabilityWeight:     12_000,
		MaintenanceLiabilityWeight: 11_000,
	})
}

func initPerpMarket(idx uint16) transition.Instruction {
	return transition.MustNew(transition.KindInitializePerpMarket, &transition.InitializePerpMarket{
		MarketIndex:            idx,
		Oracle:                 perpFeed,
		OracleSource:           oracle.SourcePrelaunch,
		BaseAssetReserve:       testutil.InitialReserve,
		QuoteAssetReserve:      testutil.InitialReserve,
		PegMultiplier:          fp.PegPrecision,
		FundingPeriod:          fp.OneHourSeconds,
		MarginRatioInitial:     2_000,
		MarginRatioMaintenance: 500,
		OrderStepSize:          stepSize,
	})
}

// newMarketsCore returns a core with USDC, SOL and perp market 0 at price 1.0.
func newMarketsCore(t *testing.T) *harness {
	t.Helper()
	h := newTestCore(t)
	h.mustApply(admin, initQuoteMarket(), initSolMarket(), initPerpMarket(0))
	h.setPrice(fp.PricePrecision)
	return h
}

// fund creates subaccount 0 for authority with amount USDC.
func (h *harness) fund(authority uuid.UUID, amount int64) {
	h.t.Helper()
	h.mustApply(authority, transition.MustNew(transition.KindDeposit, &transition.Deposit{
		MarketIndex:    0,
		Amount:         amount,
		InitializeUser: true,
	}))
}

func open(dir state.PositionDirection, base int64) transition.Instruction {
	return transition.MustNew(transition.KindOpenPosition, &transition.OpenPosition{Direction: dir, BaseAmount: base})
}
