package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresIdempotencyChecker is the second dedup tier: it asks the event
// log whether a batch id was ever committed.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db, timeout: 500 * time.Millisecond}
}

// IsDuplicate reports whether batchID is already in event_log.batches.
func (pic *PostgresIdempotencyChecker) IsDuplicate(batchID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx,
		`SELECT 1 FROM event_log.batches WHERE batch_id = $1 LIMIT 1`, batchID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentBatchIDs returns the last n committed batch ids, oldest first,
// for warming the in-memory tier after a restart.
func (pic *PostgresIdempotencyChecker) RecentBatchIDs(ctx context.Context, n int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT batch_id FROM (
			SELECT batch_id, sequence FROM event_log.batches ORDER BY sequence DESC LIMIT $1
		) recent ORDER BY sequence ASC`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0, n)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
