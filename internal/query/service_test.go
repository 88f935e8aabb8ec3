package query_test

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VAMMLedger/internal/core"
	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/query"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/testutil"
	"VAMMLedger/internal/transition"
	"VAMMLedger/internal/types"
)

// directReader runs views on the calling goroutine.
type directReader struct{ core *core.DeterministicCore }

func (r directReader) View(_ context.Context, fn func(*core.DeterministicCore) error) error {
	return fn(r.core)
}

type fixture struct {
	t    *testing.T
	core *core.DeterministicCore
	svc  *query.QueryService
	n    uint64
}

func newTestService(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	c, err := core.NewDeterministicCore(testutil.NewState(t), core.Options{Logger: &logger})
	require.NoError(t, err)
	return &fixture{t: t, core: c, svc: query.NewQueryService(directReader{c}, nil)}
}

func (f *fixture) apply(signer uuid.UUID, ins ...transition.Instruction) {
	f.t.Helper()
	f.n++
	_, err := f.core.ApplyBatch(&transition.Batch{
		BatchID:      uuid.New(),
		Signer:       signer,
		Clock:        testutil.Clock(f.n),
		Instructions: ins,
	}, nil)
	require.NoError(f.t, err)
}

func deposit(amount int64, init bool) transition.Instruction {
	return transition.MustNew(transition.KindDeposit, &transition.Deposit{Amount: amount, InitializeUser: init})
}

// ============================================================================
// Live state
// ============================================================================

func TestGetState_GenesisSequence(t *testing.T) {
	f := newTestService(t)
	st, err := f.svc.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(-1), st.AsOfSequence)
	assert.Equal(t, testutil.Admin, st.Admin)
	assert.Equal(t, uint16(2), st.NumberOfSpotMarkets)
	assert.Equal(t, []string{"insurance_fund", "fee_pool"}, st.DrawdownOrder)
	assert.Empty(t, st.Vaults)
}

func TestGetState_ReportsVaults(t *testing.T) {
	f := newTestService(t)
	f.apply(uuid.New(), deposit(2_000_000, true))

	st, err := f.svc.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.AsOfSequence)
	assert.Equal(t, testutil.Clock(1), st.Clock)

	vaults := map[string]int64{}
	for _, v := range st.Vaults {
		vaults[v.Account] = v.Balance
	}
	assert.Equal(t, int64(2_000_000), vaults["system:spot_vault:0"])
	assert.Equal(t, int64(-2_000_000), vaults["external:deposits:0"])
}

func TestGetSpotMarket(t *testing.T) {
	f := newTestService(t)
	f.apply(uuid.New(), deposit(2_000_000, true))

	m, err := f.svc.GetSpotMarket(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "USDC", m.Mint)
	assert.Equal(t, int64(2_000_000), m.VaultAmount)
	assert.Equal(t, int64(2_000_000), m.DepositTokens)

	_, err = f.svc.GetSpotMarket(context.Background(), 9)
	assert.ErrorIs(t, err, types.ErrInvalidMarketIndex)
}

func TestGetPerpMarket_ReservePrice(t *testing.T) {
	f := newTestService(t)
	m, err := f.svc.GetPerpMarket(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, fp.PricePrecision, m.AMM.ReservePrice)
	assert.Equal(t, testutil.InitialReserve, m.AMM.SqrtK)
	assert.Equal(t, "PERP-0", m.Oracle.Key)

	_, err = f.svc.GetPerpMarket(context.Background(), 1)
	assert.ErrorIs(t, err, types.ErrInvalidMarketIndex)
}

func TestGetUser_HealthWithoutPositions(t *testing.T) {
	f := newTestService(t)
	user := uuid.New()
	f.apply(user, deposit(10_000_000, true))

	u, err := f.svc.GetUser(context.Background(), user, 0)
	require.NoError(t, err)
	assert.Empty(t, u.HealthError)
	require.Len(t, u.SpotPositions, 1)
	assert.Equal(t, "deposit", u.SpotPositions[0].BalanceType)
	assert.Equal(t, int64(10_000_000), u.SpotPositions[0].TokenAmount)
	assert.Empty(t, u.PerpPositions)

	require.NotNil(t, u.Maintenance)
	assert.Zero(t, u.Maintenance.MarginRequirement)
	assert.Equal(t, int64(math.MaxInt64), u.Maintenance.HealthRatio)
	assert.True(t, u.Maintenance.MeetsRequirement)
}

func TestGetUser_HealthWithPerpPosition(t *testing.T) {
	f := newTestService(t)
	user := uuid.New()
	f.apply(user, deposit(100_000_000, true))
	f.apply(user, transition.MustNew(transition.KindOpenPosition, &transition.OpenPosition{
		Direction: state.Long, BaseAmount: 10 * fp.BasePrecision,
	}))

	u, err := f.svc.GetUser(context.Background(), user, 0)
	require.NoError(t, err)
	require.Len(t, u.PerpPositions, 1)
	assert.Equal(t, 10*fp.BasePrecision, u.PerpPositions[0].BaseAssetAmount)

	require.NotNil(t, u.Initial)
	require.NotNil(t, u.Maintenance)
	assert.Equal(t, 1, u.Maintenance.NumPerpLiabilities)
	assert.Positive(t, u.Maintenance.MarginRequirement)
	assert.Greater(t, u.Initial.MarginRequirement, u.Maintenance.MarginRequirement)
	assert.True(t, u.Maintenance.MeetsRequirement)
}

func TestGetUser_Missing(t *testing.T) {
	f := newTestService(t)
	_, err := f.svc.GetUser(context.Background(), uuid.New(), 0)
	assert.ErrorIs(t, err, types.ErrAccountNotFound)
}

func TestGetUserStats(t *testing.T) {
	f := newTestService(t)
	user := uuid.New()
	f.apply(user, deposit(1_000_000, true))

	s, err := f.svc.GetUserStats(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), s.NumberOfSubAccounts)

	_, err = f.svc.GetUserStats(context.Background(), uuid.New())
	assert.ErrorIs(t, err, types.ErrAccountNotFound)
}

func TestGetInsuranceFundStake_ValuedAtSharePrice(t *testing.T) {
	f := newTestService(t)
	staker := uuid.New()
	f.apply(staker, deposit(5_000_000, true))
	f.apply(staker, transition.MustNew(transition.KindInitializeInsuranceFundStake, &transition.InitializeInsuranceFundStake{}))
	f.apply(staker, transition.MustNew(transition.KindAddInsuranceFundStake, &transition.AddInsuranceFundStake{Amount: 1_000_000}))

	s, err := f.svc.GetInsuranceFundStake(context.Background(), staker, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), s.IfShares)
	assert.Equal(t, int64(1_000_000), s.StakeValue)
	assert.Zero(t, s.LastWithdrawRequestShares)

	_, err = f.svc.GetInsuranceFundStake(context.Background(), staker, 1)
	assert.ErrorIs(t, err, types.ErrAccountNotFound)
}

func TestListMarketsAndOracles(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	spots, err := f.svc.ListSpotMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, spots, 2)
	assert.Equal(t, uint16(0), spots[0].MarketIndex)
	assert.Equal(t, uint16(1), spots[1].MarketIndex)

	perps, err := f.svc.ListPerpMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, perps, 1)
	assert.Equal(t, "prelaunch", perps[0].Oracle.Source)

	feeds, err := f.svc.ListOracles(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	byKey := map[string]query.FeedResponse{}
	for _, fd := range feeds {
		byKey[fd.Key] = fd
	}
	assert.Equal(t, fp.PricePrecision, byKey[testutil.PerpOracle.String()].Price)
	assert.Equal(t, 100*fp.PricePrecision, byKey[testutil.SolOracle.String()].Price)
	assert.Equal(t, "pyth", byKey[testutil.SolOracle.String()].Source)
	assert.Empty(t, byKey[testutil.SolOracle.String()].Error)
}

func TestListInsuranceFundStakes_OnlyTheAuthority(t *testing.T) {
	f := newTestService(t)
	staker, other := uuid.New(), uuid.New()
	for _, a := range []uuid.UUID{staker, other} {
		f.apply(a, deposit(5_000_000, true))
		f.apply(a, transition.MustNew(transition.KindInitializeInsuranceFundStake, &transition.InitializeInsuranceFundStake{}))
	}
	f.apply(staker, transition.MustNew(transition.KindAddInsuranceFundStake, &transition.AddInsuranceFundStake{Amount: 2_000_000}))

	stakes, err := f.svc.ListInsuranceFundStakes(context.Background(), staker)
	require.NoError(t, err)
	require.Len(t, stakes, 1)
	assert.Equal(t, staker, stakes[0].Authority)
	assert.Equal(t, int64(2_000_000), stakes[0].StakeValue)

	none, err := f.svc.ListInsuranceFundStakes(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}

// ============================================================================
// Projections
// ============================================================================

func TestHistory_WithoutDatabase(t *testing.T) {
	f := newTestService(t)
	_, err := f.svc.GetFundingHistory(context.Background(), 0, 10)
	assert.ErrorIs(t, err, query.ErrProjectionsUnavailable)
	_, err = f.svc.GetLiquidationHistory(context.Background(), uuid.New(), 0, 10)
	assert.ErrorIs(t, err, query.ErrProjectionsUnavailable)
	_, err = f.svc.VerifyIntegrity(context.Background())
	assert.ErrorIs(t, err, query.ErrProjectionsUnavailable)
}
