package core

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// IdempotencyChecker implements two-tier deduplication of batch ids
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *lru.Cache

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics *IdempotencyMetrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(batchID string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) (*IdempotencyChecker, error) {
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("idempotency lru: %w", err)
	}
	return &IdempotencyChecker{
		lru:       cache,
		dbChecker: dbChecker,
		metrics:   &IdempotencyMetrics{},
	}, nil
}

// IsDuplicate checks if a batch has been committed (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(batchID string) bool {
	// Tier 1: LRU check (hot path)
	if ic.lru.Contains(batchID) {
		ic.metrics.LRUHits++
		return true
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(batchID)
		if err != nil {
			// a DB outage must not stall the core: assume new
			ic.metrics.Tier2Errors++
			return false
		}
		if isDup {
			ic.metrics.PostgresHits++
			ic.lru.Add(batchID, struct{}{})
			return true
		}
	}

	return false
}

// MarkProcessed adds key to LRU after commit
func (ic *IdempotencyChecker) MarkProcessed(batchID string) {
	ic.lru.Add(batchID, struct{}{})
}

// Warm loads recently committed ids, oldest first.
func (ic *IdempotencyChecker) Warm(batchIDs []string) {
	for _, id := range batchIDs {
		ic.lru.Add(id, struct{}{})
	}
}

// Keys returns the cached ids, oldest first.
func (ic *IdempotencyChecker) Keys() []string {
	keys := ic.lru.Keys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if s, ok := k.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Metrics returns a copy of the dedup counters.
func (ic *IdempotencyChecker) Metrics() IdempotencyMetrics {
	return *ic.metrics
}

// IdempotencyMetrics counts duplicates by tier.
// Not thread-safe: only accessed from the single-threaded core.
type IdempotencyMetrics struct {
	LRUHits      int64
	PostgresHits int64
	Tier2Errors  int64
}
