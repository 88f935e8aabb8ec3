package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger.
type Metrics struct {
	// --- Core processing ---
	CoreBatchesApplied      *prometheus.CounterVec
	CoreBatchesRejected     *prometheus.CounterVec
	CoreBatchDuration       *prometheus.HistogramVec
	CoreInstructionsApplied *prometheus.CounterVec
	CoreJournals            *prometheus.CounterVec
	CoreStateHashDur        prometheus.Histogram
	CoreSequence            prometheus.Gauge
	CoreInvariantFailures   *prometheus.CounterVec

	// --- Risk ---
	FundingUpdates      *prometheus.CounterVec
	FundingSkipped      *prometheus.CounterVec
	LiquidationsTotal   *prometheus.CounterVec
	BankruptciesTotal   *prometheus.CounterVec
	BadDebtTotal        *prometheus.CounterVec
	InsuranceDrawTotal  *prometheus.CounterVec
	InsuranceFundVault  *prometheus.GaugeVec
	SpotVaultAmount     *prometheus.GaugeVec
	PerpOpenInterest    *prometheus.GaugeVec
	PerpFeePool         *prometheus.GaugeVec

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	ClockRegressions      prometheus.Counter

	// --- Ingestion ---
	IngestReceived *prometheus.CounterVec
	IngestRejected *prometheus.CounterVec

	// --- Persistence ---
	PersistBatchesWritten  prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge
	StoreWrites            prometheus.Counter
	StoreErrors            prometheus.Counter

	// --- Snapshot & recovery ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayBatchesTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Projections ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionErrors    *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers every metric on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.05,
	}
	ioBuckets := prometheus.ExponentialBuckets(0.0005, 2, 12)

	return &Metrics{
		CoreBatchesApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_core_batches_applied_total",
			Help: "Batches committed by the core",
		}, []string{"category"}),

		CoreBatchesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_core_batches_rejected_total",
			Help: "Batches rejected (duplicate, clock, instruction error)",
		}, []string{"reason"}),

		CoreBatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vamm_core_batch_apply_duration_seconds",
			Help:    "Time to apply one batch in the core",
			Buckets: latencyBuckets,
		}, []string{"category"}),

		CoreInstructionsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_core_instructions_applied_total",
			Help: "Instructions applied inside committed batches",
		}, []string{"type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_core_journals_generated_total",
			Help: "Vault journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vamm_core_state_hash_duration_seconds",
			Help:    "Time to digest and hash a batch's changed records",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vamm_core_sequence",
			Help: "Next sequence the core will assign",
		}),

		CoreInvariantFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_core_invariant_failures_total",
			Help: "Batches aborted by a post-apply invariant check",
		}, []string{"check"}),

		FundingUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_funding_updates_total",
			Help: "Funding rate updates booked by update_amm",
		}, []string{"market"}),

		FundingSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_funding_skipped_total",
			Help: "update_amm calls that skipped funding on an unusable oracle",
		}, []string{"market"}),

		LiquidationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_liquidations_total",
			Help: "Perp liquidations by resulting account status",
		}, []string{"market", "status"}),

		BankruptciesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_bankruptcies_total",
			Help: "Bankrupt positions resolved",
		}, []string{"market"}),

		BadDebtTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_bad_debt_quote_total",
			Help: "Quote amount recorded as bad debt",
		}, []string{"market"}),

		InsuranceDrawTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_insurance_draw_quote_total",
			Help: "Quote drawn from insurance funds to cover bankruptcies",
		}, []string{"market"}),

		InsuranceFundVault: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vamm_insurance_fund_vault",
			Help: "Insurance fund vault amount per spot market",
		}, []string{"market"}),

		SpotVaultAmount: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vamm_spot_vault_amount",
			Help: "Tokens held for depositors per spot market",
		}, []string{"market"}),

		PerpOpenInterest: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vamm_perp_open_interest",
			Help: "Base open interest per perp market and side",
		}, []string{"market", "side"}),

		PerpFeePool: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vamm_perp_fee_pool",
			Help: "total_fee_minus_distributions per perp market",
		}, []string{"market"}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vamm_channel_size",
			Help: "Current buffered items in each output channel",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_projection_drops_total",
			Help: "Outputs dropped on a full non-blocking channel",
		}, []string{"channel"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "vamm_publish_drops_total",
			Help: "Outbound events that failed to publish",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "vamm_persist_backpressure_total",
			Help: "Times the core blocked on a full persist channel",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_idempotency_duplicates_total",
			Help: "Duplicate batches detected by tier",
		}, []string{"tier"}),

		ClockRegressions: f.NewCounter(prometheus.CounterOpts{
			Name: "vamm_clock_regressions_total",
			Help: "Batches rejected for a clock that went backwards",
		}),

		IngestReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_ingest_batches_received_total",
			Help: "Batches received from ingestion sources",
		}, []string{"source", "category"}),

		IngestRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_ingest_batches_rejected_total",
			Help: "Batches rejected before reaching the core",
		}, []string{"source", "reason"}),

		PersistBatchesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "vamm_persist_batches_written_total",
			Help: "Batches written to the event log",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "vamm_persist_journals_written_total",
			Help: "Journal rows written to the event log",
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vamm_persist_flush_duration_seconds",
			Help:    "Time to flush one group of batches to Postgres",
			Buckets: ioBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_persist_errors_total",
			Help: "Persistence errors by operation",
		}, []string{"op"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "vamm_persist_retries_total",
			Help: "Flush retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vamm_persist_last_sequence",
			Help: "Last sequence durably written to the event log",
		}),

		StoreWrites: f.NewCounter(prometheus.CounterOpts{
			Name: "vamm_store_writes_total",
			Help: "Record batches written to the LevelDB store",
		}),

		StoreErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "vamm_store_errors_total",
			Help: "LevelDB store write failures",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "vamm_snapshot_taken_total",
			Help: "State snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vamm_snapshot_duration_seconds",
			Help:    "Time to write one snapshot",
			Buckets: ioBuckets,
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "vamm_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "vamm_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayBatchesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "vamm_replay_batches_total",
			Help: "Batches replayed during recovery",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "vamm_replay_duration_seconds",
			Help: "Duration of the last recovery replay",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vamm_projection_update_duration_seconds",
			Help:    "Time to update a projection table",
			Buckets: ioBuckets,
		}, []string{"projection"}),

		ProjectionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_projection_errors_total",
			Help: "Projection update failures",
		}, []string{"projection"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vamm_query_requests_total",
			Help: "Query API requests by method and status code",
		}, []string{"method", "code"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vamm_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: latencyBuckets,
		}, []string{"method"}),
	}
}
