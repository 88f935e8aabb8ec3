package projection

import (
	"context"
	"database/sql"

	"VAMMLedger/internal/amm"
	"VAMMLedger/internal/event"
)

// FundingRow is one booked funding period of a perp market.
type FundingRow struct {
	MarketIndex           uint16 `json:"market_index"`
	Sequence              int64  `json:"sequence"`
	Slot                  uint64 `json:"slot"`
	UnixTimestamp         int64  `json:"unix_timestamp"`
	MarkPrice             int64  `json:"mark_price"`
	OraclePrice           int64  `json:"oracle_price"`
	FundingRate           int64  `json:"funding_rate"`
	CumulativeFundingRate int64  `json:"cumulative_funding_rate"`
}

// FundingRows extracts the funding updates that booked a rate. Updates
// that only refreshed the market are not history.
func FundingRows(env *event.EventEnvelope) []FundingRow {
	var rows []FundingRow
	for _, ev := range env.Events {
		if ev.Kind != event.KindFunding {
			continue
		}
		up, ok := fundingPayload(ev.Payload)
		if !ok || !up.Applied {
			continue
		}
		rows = append(rows, FundingRow{
			MarketIndex:           up.MarketIndex,
			Sequence:              env.Sequence,
			Slot:                  up.Slot,
			UnixTimestamp:         up.Timestamp,
			MarkPrice:             up.MarkPrice,
			OraclePrice:           up.OraclePrice,
			FundingRate:           up.FundingRate,
			CumulativeFundingRate: up.CumulativeFundingRate,
		})
	}
	return rows
}

func fundingPayload(p any) (amm.FundingUpdate, bool) {
	switch v := p.(type) {
	case amm.FundingUpdate:
		return v, true
	case *amm.FundingUpdate:
		if v != nil {
			return *v, true
		}
	}
	return amm.FundingUpdate{}, false
}

// InsertFunding appends rows, ignoring ones already projected.
func InsertFunding(ctx context.Context, tx *sql.Tx, rows []FundingRow) error {
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.funding_history
				(market_index, sequence, slot, unix_timestamp, mark_price, oracle_price, funding_rate, cumulative_funding_rate)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (market_index, sequence) DO NOTHING
		`, int32(r.MarketIndex), r.Sequence, int64(r.Slot), r.UnixTimestamp,
			r.MarkPrice, r.OraclePrice, r.FundingRate, r.CumulativeFundingRate); err != nil {
			return err
		}
	}
	return nil
}

// QueryFunding returns a market's funding history, newest first.
func QueryFunding(ctx context.Context, db *sql.DB, market uint16, limit int) ([]FundingRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT market_index, sequence, slot, unix_timestamp, mark_price, oracle_price, funding_rate, cumulative_funding_rate
		FROM projections.funding_history
		WHERE market_index = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, int32(market), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FundingRow
	for rows.Next() {
		var (
			r    FundingRow
			idx  int32
			slot int64
		)
		if err := rows.Scan(&idx, &r.Sequence, &slot, &r.UnixTimestamp,
			&r.MarkPrice, &r.OraclePrice, &r.FundingRate, &r.CumulativeFundingRate); err != nil {
			return nil, err
		}
		r.MarketIndex = uint16(idx)
		r.Slot = uint64(slot)
		out = append(out, r)
	}
	return out, rows.Err()
}
