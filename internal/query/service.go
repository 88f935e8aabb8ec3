package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"

	errorsmod "cosmossdk.io/errors"
	"github.com/google/uuid"

	"VAMMLedger/internal/core"
	"VAMMLedger/internal/projection"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// ErrProjectionsUnavailable is returned by history queries when the
// service runs without a database.
var ErrProjectionsUnavailable = errors.New("projections unavailable")

// DefaultHistoryLimit caps history queries that pass no limit.
const DefaultHistoryLimit = 100

// StateReader runs fn against the live core between batches.
type StateReader interface {
	View(ctx context.Context, fn func(*core.DeterministicCore) error) error
}

// QueryService answers reads. Live records come from the core through
// the sequencer, so every answer is consistent as of one sequence.
// History comes from the Postgres projections.
type QueryService struct {
	reader StateReader
	db     *sql.DB
}

// NewQueryService builds a service. db may be nil, in which case the
// history queries fail with ErrProjectionsUnavailable.
func NewQueryService(reader StateReader, db *sql.DB) *QueryService {
	return &QueryService{reader: reader, db: db}
}

// lastApplied is the sequence of the last committed batch, -1 at genesis.
func lastApplied(c *core.DeterministicCore) int64 {
	return c.GetSequence() - 1
}

// GetState returns global configuration, the clock and the vault ledger.
func (qs *QueryService) GetState(ctx context.Context) (*StateResponse, error) {
	var out *StateResponse
	err := qs.reader.View(ctx, func(c *core.DeterministicCore) error {
		cfg := c.State().Config
		clock, _ := c.LastClock()
		hash := c.GetStateHash()
		out = &StateResponse{
			AsOfSequence:                 lastApplied(c),
			StateHash:                    hex.EncodeToString(hash[:]),
			Clock:                        clock,
			Admin:                        cfg.Admin,
			OracleAuthority:              cfg.OracleAuthority,
			LpCooldownSlots:              cfg.LpCooldownSlots,
			InsuranceFundUnstakingPeriod: cfg.InsuranceFundUnstakingPeriod,
			TakerFee:                     cfg.Fees.TakerFee,
			LiquidatorDiscount:           cfg.Liquidation.LiquidatorDiscount,
			NumberOfSpotMarkets:          cfg.NumberOfSpotMarkets,
			NumberOfPerpMarkets:          cfg.NumberOfPerpMarkets,
			Vaults:                       vaultsOf(c.Balances()),
		}
		for _, d := range cfg.Liquidation.DrawdownOrder {
			if d != state.DrawdownNone {
				out.DrawdownOrder = append(out.DrawdownOrder, d.String())
			}
		}
		return nil
	})
	return out, err
}

// GetSpotMarket returns one spot market.
func (qs *QueryService) GetSpotMarket(ctx context.Context, idx uint16) (*SpotMarketResponse, error) {
	var out *SpotMarketResponse
	err := qs.reader.View(ctx, func(c *core.DeterministicCore) error {
		m, ok := c.State().SpotMarket(idx)
		if !ok {
			return errorsmod.Wrapf(types.ErrInvalidMarketIndex, "spot market %d", idx)
		}
		var err error
		out, err = spotMarketOf(m, lastApplied(c))
		return err
	})
	return out, err
}

// GetPerpMarket returns one perp market.
func (qs *QueryService) GetPerpMarket(ctx context.Context, idx uint16) (*PerpMarketResponse, error) {
	var out *PerpMarketResponse
	err := qs.reader.View(ctx, func(c *core.DeterministicCore) error {
		m, ok := c.State().PerpMarket(idx)
		if !ok {
			return errorsmod.Wrapf(types.ErrInvalidMarketIndex, "perp market %d", idx)
		}
		var err error
		out, err = perpMarketOf(m, lastApplied(c))
		return err
	})
	return out, err
}

// GetUser returns an account with its initial and maintenance health.
func (qs *QueryService) GetUser(ctx context.Context, authority uuid.UUID, sub uint16) (*UserResponse, error) {
	var out *UserResponse
	err := qs.reader.View(ctx, func(c *core.DeterministicCore) error {
		clock, _ := c.LastClock()
		tx := c.State().Begin(clock)
		u, err := tx.User(state.UserKey{Authority: authority, SubAccountID: sub})
		if err != nil {
			return err
		}
		out, err = userOf(tx, u, lastApplied(c))
		return err
	})
	return out, err
}

// GetUserStats returns an authority's aggregate counters.
func (qs *QueryService) GetUserStats(ctx context.Context, authority uuid.UUID) (*UserStatsResponse, error) {
	var out *UserStatsResponse
	err := qs.reader.View(ctx, func(c *core.DeterministicCore) error {
		s, ok := c.State().UserStats(authority)
		if !ok {
			return errorsmod.Wrapf(types.ErrAccountNotFound, "user stats %s", authority)
		}
		out = userStatsOf(s, lastApplied(c))
		return nil
	})
	return out, err
}

// GetInsuranceFundStake returns a stake valued at the fund's current share price.
func (qs *QueryService) GetInsuranceFundStake(ctx context.Context, authority uuid.UUID, market uint16) (*StakeResponse, error) {
	var out *StakeResponse
	err := qs.reader.View(ctx, func(c *core.DeterministicCore) error {
		s, ok := c.State().Stake(state.StakeKey{Authority: authority, MarketIndex: market})
		if !ok {
			return errorsmod.Wrapf(types.ErrAccountNotFound, "insurance fund stake %s/%d", authority, market)
		}
		var err error
		out, err = stakeOf(c.State(), s, lastApplied(c))
		return err
	})
	return out, err
}

func stakeOf(st *state.State, s *state.InsuranceFundStake, seq int64) (*StakeResponse, error) {
	m, ok := st.SpotMarket(s.MarketIndex)
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrInvalidMarketIndex, "spot market %d", s.MarketIndex)
	}
	value, err := m.InsuranceFund.AmountForShares(s.IfShares)
	if err != nil {
		return nil, err
	}
	return &StakeResponse{
		AsOfSequence:              seq,
		Authority:                 s.Authority,
		MarketIndex:               s.MarketIndex,
		IfShares:                  s.IfShares,
		StakeValue:                value,
		LastWithdrawRequestShares: s.LastWithdrawRequestShares,
		LastWithdrawRequestAmount: s.LastWithdrawRequestAmount,
		LastWithdrawRequestTs:     s.LastWithdrawRequestTs,
	}, nil
}

// --- Projections ---

// GetFundingHistory returns a market's booked funding periods, newest first.
func (qs *QueryService) GetFundingHistory(ctx context.Context, market uint16, limit int) ([]projection.FundingRow, error) {
	if qs.db == nil {
		return nil, ErrProjectionsUnavailable
	}
	return projection.QueryFunding(ctx, qs.db, market, clampLimit(limit))
}

// GetLiquidationHistory returns an account's liquidations, newest first.
func (qs *QueryService) GetLiquidationHistory(ctx context.Context, authority uuid.UUID, sub uint16, limit int) ([]projection.LiquidationRow, error) {
	if qs.db == nil {
		return nil, ErrProjectionsUnavailable
	}
	return projection.QueryLiquidations(ctx, qs.db, authority, sub, clampLimit(limit))
}

// GetProjectedBalances returns the vault ledger as projected to Postgres.
func (qs *QueryService) GetProjectedBalances(ctx context.Context) ([]BalanceResponse, error) {
	if qs.db == nil {
		return nil, ErrProjectionsUnavailable
	}
	rows, err := projection.QueryBalances(ctx, qs.db)
	if err != nil {
		return nil, err
	}
	return projectedOf(rows), nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > DefaultHistoryLimit {
		return DefaultHistoryLimit
	}
	return limit
}

// --- Admin APIs ---

// VerifyIntegrity checks the event log's hash chain and that the
// projected ledger nets to zero per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	if qs.db == nil {
		return nil, ErrProjectionsUnavailable
	}
	report := &IntegrityReport{CheckedThrough: -1}

	if err := qs.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), -1) FROM event_log.batches`,
	).Scan(&report.CheckedThrough); err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT b1.sequence
		FROM event_log.batches b1
		JOIN event_log.batches b2 ON b2.sequence = b1.sequence - 1
		WHERE b1.prev_hash <> b2.state_hash
		ORDER BY b1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) <> 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()
	for balanceRows.Next() {
		var (
			assetID int32
			total   int64
		)
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   uint16(assetID),
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}
