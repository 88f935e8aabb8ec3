package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"VAMMLedger/internal/core"
	"VAMMLedger/internal/observability"
)

// WatermarkName is the projections.watermark row this worker owns.
const WatermarkName = "main"

// ProjectionWorker updates the read-side tables from committed outputs.
// Its channel drops on full, so every table is written so that a later
// output or a rebuild from the event log repairs a gap.
type ProjectionWorker struct {
	db      *sql.DB
	input   <-chan core.CoreOutput
	metrics *observability.Metrics
	logger  zerolog.Logger
	lastSeq int64
}

func NewProjectionWorker(db *sql.DB, input <-chan core.CoreOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:      db,
		input:   input,
		metrics: metrics,
		logger:  observability.NewLogger("projection"),
		lastSeq: -1,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	seq, err := LoadWatermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq = seq

	for {
		select {
		case <-ctx.Done():
			return nil
		case out, ok := <-pw.input:
			if !ok {
				return nil
			}
			if out.Envelope.Sequence <= pw.lastSeq {
				continue
			}
			if err := pw.process(ctx, out); err != nil {
				if pw.metrics != nil {
					pw.metrics.ProjectionErrors.WithLabelValues("all").Inc()
				}
				pw.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("projection update failed")
				continue
			}
			pw.lastSeq = out.Envelope.Sequence
		}
	}
}

func (pw *ProjectionWorker) process(ctx context.Context, out core.CoreOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := out.Envelope.Sequence
	steps := []struct {
		name string
		fn   func() error
	}{
		{"balances", func() error { return UpsertBalances(ctx, tx, out.Balances, seq) }},
		{"funding_history", func() error { return InsertFunding(ctx, tx, FundingRows(out.Envelope)) }},
		{"liquidation_history", func() error { return InsertLiquidations(ctx, tx, LiquidationRows(out.Envelope)) }},
		{"watermark", func() error { return setWatermark(ctx, tx, seq) }},
	}
	for _, s := range steps {
		start := time.Now()
		if err := s.fn(); err != nil {
			if pw.metrics != nil {
				pw.metrics.ProjectionErrors.WithLabelValues(s.name).Inc()
			}
			return fmt.Errorf("%s: %w", s.name, err)
		}
		if pw.metrics != nil {
			pw.metrics.ProjectionUpdateDur.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
		}
	}
	return tx.Commit()
}

// UpsertBalances writes the full vault ledger as of seq. Balances are
// absolute, so a dropped output is repaired by the next one.
func UpsertBalances(ctx context.Context, tx *sql.Tx, balances []core.BalanceEntry, seq int64) error {
	for _, b := range balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (account_path)
			DO UPDATE SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
			WHERE projections.balances.last_sequence < EXCLUDED.last_sequence
		`, b.Account.AccountPath(), int32(b.Account.AssetID), b.Balance, seq); err != nil {
			return err
		}
	}
	return nil
}

func setWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`, WatermarkName, seq)
	return err
}

// LoadWatermark returns the last projected sequence, or -1.
func LoadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection = $1`, WatermarkName,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

// RebuildBalances recomputes projections.balances from the journal. The
// ledger is debit-positive: debits add, credits subtract.
func RebuildBalances(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `TRUNCATE projections.balances`); err != nil {
		return fmt.Errorf("truncate balances: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT account_path, asset_id, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset_id, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account, asset_id, -amount, sequence FROM event_log.journal
		) moves
		GROUP BY account_path, asset_id
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}
	return tx.Commit()
}

// BalanceRow is one projected vault ledger account.
type BalanceRow struct {
	AccountPath  string `json:"account_path"`
	AssetID      uint16 `json:"asset_id"`
	Balance      int64  `json:"balance"`
	LastSequence int64  `json:"last_sequence"`
}

// QueryBalances returns the projected ledger ordered by account path.
func QueryBalances(ctx context.Context, db *sql.DB) ([]BalanceRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT account_path, asset_id, balance, last_sequence
		FROM projections.balances
		ORDER BY account_path
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceRow
	for rows.Next() {
		var (
			r     BalanceRow
			asset int32
		)
		if err := rows.Scan(&r.AccountPath, &asset, &r.Balance, &r.LastSequence); err != nil {
			return nil, err
		}
		r.AssetID = uint16(asset)
		out = append(out, r)
	}
	return out, rows.Err()
}
