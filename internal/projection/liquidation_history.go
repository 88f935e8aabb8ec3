package projection

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"VAMMLedger/internal/event"
	"VAMMLedger/internal/liquidation"
)

// LiquidationRow is one committed perp liquidation.
type LiquidationRow struct {
	Sequence         int64     `json:"sequence"`
	Instruction      int       `json:"instruction"`
	MarketIndex      uint16    `json:"market_index"`
	TargetAuthority  uuid.UUID `json:"target_authority"`
	TargetSubAccount uint16    `json:"target_sub_account"`
	OraclePrice      int64     `json:"oracle_price"`
	BaseTransferred  int64     `json:"base_transferred"`
	QuoteTransferred int64     `json:"quote_transferred"`
	StatusAfter      string    `json:"status_after"`
	BadDebt          int64     `json:"bad_debt"`
	UnixTimestamp    int64     `json:"unix_timestamp"`
}

// LiquidationRows extracts liquidations from an envelope. The event is
// scoped to the liquidated account.
func LiquidationRows(env *event.EventEnvelope) []LiquidationRow {
	var rows []LiquidationRow
	for _, ev := range env.Events {
		if ev.Kind != event.KindLiquidation || ev.Authority == nil || ev.SubAccountID == nil {
			continue
		}
		res, ok := liquidationPayload(ev.Payload)
		if !ok {
			continue
		}
		row := LiquidationRow{
			Sequence:         env.Sequence,
			Instruction:      ev.Instruction,
			MarketIndex:      res.MarketIndex,
			TargetAuthority:  *ev.Authority,
			TargetSubAccount: *ev.SubAccountID,
			OraclePrice:      res.OraclePrice,
			BaseTransferred:  res.BaseTransferred,
			QuoteTransferred: res.QuoteTransferred,
			StatusAfter:      res.StatusAfter.String(),
			UnixTimestamp:    env.Clock.UnixTimestamp,
		}
		if res.Bankruptcy != nil {
			row.BadDebt = res.Bankruptcy.BadDebt
		}
		rows = append(rows, row)
	}
	return rows
}

func liquidationPayload(p any) (liquidation.Result, bool) {
	switch v := p.(type) {
	case liquidation.Result:
		return v, true
	case *liquidation.Result:
		if v != nil {
			return *v, true
		}
	}
	return liquidation.Result{}, false
}

// InsertLiquidations appends rows, ignoring ones already projected.
func InsertLiquidations(ctx context.Context, tx *sql.Tx, rows []LiquidationRow) error {
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.liquidation_history
				(sequence, instruction, market_index, target_authority, target_sub_account,
				 oracle_price, base_transferred, quote_transferred, status_after, bad_debt, unix_timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (sequence, instruction) DO NOTHING
		`, r.Sequence, r.Instruction, int32(r.MarketIndex), r.TargetAuthority, int32(r.TargetSubAccount),
			r.OraclePrice, r.BaseTransferred, r.QuoteTransferred, r.StatusAfter, r.BadDebt, r.UnixTimestamp); err != nil {
			return err
		}
	}
	return nil
}

// QueryLiquidations returns an account's liquidations, newest first.
func QueryLiquidations(ctx context.Context, db *sql.DB, authority uuid.UUID, sub uint16, limit int) ([]LiquidationRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, instruction, market_index, target_authority, target_sub_account,
		       oracle_price, base_transferred, quote_transferred, status_after, bad_debt, unix_timestamp
		FROM projections.liquidation_history
		WHERE target_authority = $1 AND target_sub_account = $2
		ORDER BY sequence DESC, instruction DESC
		LIMIT $3
	`, authority, int32(sub), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LiquidationRow
	for rows.Next() {
		var (
			r       LiquidationRow
			market  int32
			subAcct int32
		)
		if err := rows.Scan(&r.Sequence, &r.Instruction, &market, &r.TargetAuthority, &subAcct,
			&r.OraclePrice, &r.BaseTransferred, &r.QuoteTransferred, &r.StatusAfter, &r.BadDebt, &r.UnixTimestamp); err != nil {
			return nil, err
		}
		r.MarketIndex = uint16(market)
		r.TargetSubAccount = uint16(subAcct)
		out = append(out, r)
	}
	return out, rows.Err()
}
