package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/rs/zerolog"

	"VAMMLedger/internal/event"
	"VAMMLedger/internal/ledger"
	"VAMMLedger/internal/liquidation"
	"VAMMLedger/internal/observability"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/transition"
	"VAMMLedger/internal/types"
)

// DefaultIdempotencyCapacity is the LRU size when Options leaves it unset.
const DefaultIdempotencyCapacity = 1_000_000

// DeterministicCore is the single-threaded batch processor. It owns the
// committed state; every other component sees it only through CoreOutput.
type DeterministicCore struct {
	state          *state.State
	sequence       int64
	hasher         *StateHasher
	balanceTracker *ledger.BalanceTracker
	validator      *ledger.InvariantValidator
	idempotency    *IdempotencyChecker
	clock          *ClockValidator
	strict         bool
	replaying      bool

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
	publishChan    chan<- CoreOutput
	storeChan      chan<- CoreOutput
}

// CoreOutput is everything downstream workers need from one committed batch.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
	// Records are the changed fixed-layout records, in key order.
	Records []state.Record
	// Balances is the full vault ledger after the batch.
	Balances []BalanceEntry
}

// BalanceEntry is one vault ledger account and its balance.
type BalanceEntry struct {
	Account ledger.AccountKey `json:"account"`
	Balance int64             `json:"balance"`
}

// Receipt is what the submitter learns about its batch.
type Receipt struct {
	Sequence  int64
	StateHash [32]byte
	PrevHash  [32]byte
	Events    []event.Event
	Duplicate bool
	// BadDebt joins one types.ErrBadDebt per liquidation in the batch that
	// left a loss unabsorbed. The batch still committed.
	BadDebt error
}

// Options wires the core to its collaborators. Nil channels are skipped.
type Options struct {
	StartSequence       int64
	StrictInvariants    bool
	IdempotencyCapacity int
	DBChecker           DBIdempotencyChecker
	Metrics             *observability.Metrics
	Logger              *zerolog.Logger

	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput
	PublishChan    chan<- CoreOutput
	StoreChan      chan<- CoreOutput
}

func NewDeterministicCore(st *state.State, opts Options) (*DeterministicCore, error) {
	capacity := opts.IdempotencyCapacity
	if capacity <= 0 {
		capacity = DefaultIdempotencyCapacity
	}
	idem, err := NewIdempotencyChecker(capacity, opts.DBChecker)
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger("core")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	tracker := ledger.NewBalanceTracker()
	return &DeterministicCore{
		state:          st,
		sequence:       opts.StartSequence,
		hasher:         NewStateHasher(),
		balanceTracker: tracker,
		validator:      ledger.NewInvariantValidator(tracker),
		idempotency:    idem,
		clock:          NewClockValidator(),
		strict:         opts.StrictInvariants,
		metrics:        opts.Metrics,
		logger:         logger,
		persistChan:    opts.PersistChan,
		projectionChan: opts.ProjectionChan,
		publishChan:    opts.PublishChan,
		storeChan:      opts.StoreChan,
	}, nil
}

// ApplyBatch is the main processing pipeline. payload is the wire form of
// the batch written to the event log; nil re-encodes b. Any error leaves the
// committed state untouched.
func (c *DeterministicCore) ApplyBatch(b *transition.Batch, payload []byte) (*Receipt, error) {
	start := time.Now()

	// Step 1: envelope validation
	if err := b.Validate(); err != nil {
		c.reject("invalid", err)
		return nil, err
	}
	category, err := b.Category()
	if err != nil {
		c.reject("mixed_category", err)
		return nil, err
	}

	// Step 2: idempotency (two-tier). Replayed batches are in the log by
	// definition, so tier 2 would flag every one of them.
	if !c.replaying {
		before := c.idempotency.Metrics()
		if c.idempotency.IsDuplicate(b.IdempotencyKey()) {
			tier := "lru"
			if c.idempotency.Metrics().PostgresHits > before.PostgresHits {
				tier = "postgres"
			}
			if c.metrics != nil {
				c.metrics.IdempotencyDuplicates.WithLabelValues(tier).Inc()
			}
			c.reject("duplicate", nil)
			return &Receipt{Duplicate: true}, nil
		}
	}

	// Step 3: clock must not run backwards
	if err := c.clock.Check(b.Clock); err != nil {
		if c.metrics != nil {
			c.metrics.ClockRegressions.Inc()
		}
		c.reject("clock_regression", err)
		return nil, err
	}

	if payload == nil {
		if payload, err = b.Marshal(); err != nil {
			return nil, fmt.Errorf("encode batch: %w", err)
		}
	}

	// Step 4: dispatch every instruction on one overlay
	tx := c.state.Begin(b.Clock)
	bc := &batchContext{tx: tx, signer: b.Signer}
	var events []event.Event
	for i, in := range b.Instructions {
		bc.index = i
		evs, err := c.dispatch(bc, in)
		if err != nil {
			err = errorsmod.Wrapf(err, "instruction %d (%s)", i, in.Kind)
			c.reject(rejectReason(err), err)
			return nil, err
		}
		for _, ev := range evs {
			ev.Instruction = i
			events = append(events, ev)
		}
	}
	tx.ReleaseEmptySlots()
	if err := liquidation.RefreshStatus(tx); err != nil {
		c.reject("invariant", err)
		return nil, err
	}

	// Step 5: invariants on the overlay, before anything is written
	if err := c.checkInvariants(tx); err != nil {
		c.reject("invariant", err)
		c.logger.Error().Err(err).Str("batch_id", b.IdempotencyKey()).Msg("invariant violated, batch discarded")
		return nil, err
	}
	if err := c.validator.ValidatePending(tx.Journals()); err != nil {
		err = errorsmod.Wrap(types.ErrInvariantViolation, err.Error())
		c.reject("invariant", err)
		return nil, err
	}

	// Step 6: commit; nothing below may fail on the domain's account
	records, err := tx.Commit()
	if err != nil {
		c.logger.Error().Err(err).Str("batch_id", b.IdempotencyKey()).Msg("commit failed")
		return nil, fmt.Errorf("commit: %w", err)
	}

	sequence := c.sequence
	batch := ledger.NewBatch(b.IdempotencyKey(), sequence, b.Clock.UnixTimestamp, tx.Journals())
	if len(batch.Journals) > 0 {
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: validated journals rejected by tracker: %v", err))
		}
	}

	// Step 7: hash chain over the changed records
	hashStart := time.Now()
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(sequence, DigestRecords(records))
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:       sequence,
		IdempotencyKey: b.IdempotencyKey(),
		Signer:         b.Signer,
		Clock:          b.Clock,
		Payload:        json.RawMessage(payload),
		Events:         events,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	c.sequence++

	// Step 8: emit
	c.emit(CoreOutput{Envelope: envelope, Batch: batch, Records: records, Balances: c.Balances()})

	// Step 9: bookkeeping
	c.idempotency.MarkProcessed(b.IdempotencyKey())
	c.clock.Advance(b.Clock)

	receipt := &Receipt{Sequence: sequence, StateHash: stateHash, PrevHash: prevHash, Events: events}
	for _, bd := range bc.badDebts {
		receipt.BadDebt = errors.Join(receipt.BadDebt, bd.err)
		c.logger.Error().
			Err(bd.err).
			Int64("sequence", sequence).
			Uint16("market", bd.market).
			Int64("amount", bd.amount).
			Msg("bad debt recorded")
	}
	c.observe(category, b, bc, tx, start)
	return receipt, nil
}

// emit sends one output downstream. Persistence and the store block to
// apply backpressure; projections and the publisher drop on full.
func (c *DeterministicCore) emit(out CoreOutput) {
	if c.persistChan != nil && !c.replaying {
		select {
		case c.persistChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- out
		}
	}
	if c.storeChan != nil {
		c.storeChan <- out
	}
	c.offer(c.projectionChan, out, "projection")
	if !c.replaying {
		c.offer(c.publishChan, out, "publish")
	}
}

func (c *DeterministicCore) offer(ch chan<- CoreOutput, out CoreOutput, name string) {
	if ch == nil {
		return
	}
	select {
	case ch <- out:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.WithLabelValues(name).Inc()
		}
	}
}

func (c *DeterministicCore) reject(reason string, err error) {
	if c.metrics != nil {
		c.metrics.CoreBatchesRejected.WithLabelValues(reason).Inc()
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("reason", reason).Msg("batch rejected")
	}
}

// rejectReason labels a rejection by its registered error code.
func rejectReason(err error) string {
	code := types.Code(err)
	if code == types.CodeUnregistered {
		return "internal"
	}
	return "code_" + strconv.FormatUint(uint64(code), 10)
}

func (c *DeterministicCore) observe(category transition.Category, b *transition.Batch, bc *batchContext, tx *state.Tx, start time.Time) {
	if c.metrics == nil {
		return
	}
	m := c.metrics
	cat := category.String()
	m.CoreBatchesApplied.WithLabelValues(cat).Inc()
	m.CoreBatchDuration.WithLabelValues(cat).Observe(time.Since(start).Seconds())
	m.CoreSequence.Set(float64(c.sequence))
	for _, in := range b.Instructions {
		m.CoreInstructionsApplied.WithLabelValues(in.Kind.String()).Inc()
	}
	for _, j := range tx.Journals() {
		m.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
	}
	for _, f := range bc.fundings {
		market := strconv.Itoa(int(f.MarketIndex))
		if f.Applied {
			m.FundingUpdates.WithLabelValues(market).Inc()
		}
		if f.OracleSkipped {
			m.FundingSkipped.WithLabelValues(market).Inc()
		}
	}
	for _, l := range bc.liquidations {
		market := strconv.Itoa(int(l.MarketIndex))
		m.LiquidationsTotal.WithLabelValues(market, l.StatusAfter.String()).Inc()
		if l.Bankruptcy != nil {
			m.BankruptciesTotal.WithLabelValues(market).Inc()
			m.InsuranceDrawTotal.WithLabelValues(market).Add(float64(l.Bankruptcy.FromInsurance))
			m.BadDebtTotal.WithLabelValues(market).Add(float64(l.Bankruptcy.BadDebt))
		}
	}
	for _, idx := range tx.TouchedSpotMarkets() {
		if sm, ok := c.state.SpotMarket(idx); ok {
			market := strconv.Itoa(int(idx))
			m.SpotVaultAmount.WithLabelValues(market).Set(float64(sm.VaultAmount))
			m.InsuranceFundVault.WithLabelValues(market).Set(float64(sm.InsuranceFund.VaultAmount))
		}
	}
	for _, idx := range tx.TouchedPerpMarkets() {
		if pm, ok := c.state.PerpMarket(idx); ok {
			market := strconv.Itoa(int(idx))
			m.PerpOpenInterest.WithLabelValues(market, "long").Set(float64(pm.AMM.BaseAssetAmountLong))
			m.PerpOpenInterest.WithLabelValues(market, "short").Set(float64(-pm.AMM.BaseAssetAmountShort))
			m.PerpFeePool.WithLabelValues(market).Set(float64(pm.AMM.TotalFeeMinusDistributions))
		}
	}
}

// --- Recovery & snapshot methods ---

// Checkpoint is the core's bookkeeping beside the records: enough to
// resume the sequence, hash chain, clock and vault ledger.
type Checkpoint struct {
	Sequence        int64          `json:"sequence"` // last applied
	StateHash       [32]byte       `json:"state_hash"`
	Clock           state.Clock    `json:"clock"`
	ClockStarted    bool           `json:"clock_started"`
	Balances        []BalanceEntry `json:"balances"`
	IdempotencyKeys []string       `json:"idempotency_keys,omitempty"`
}

// Checkpoint captures the current bookkeeping.
func (c *DeterministicCore) Checkpoint() Checkpoint {
	clock, started := c.clock.Last()
	return Checkpoint{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Clock:           clock,
		ClockStarted:    started,
		Balances:        c.Balances(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
}

// Restore resumes from a checkpoint taken alongside the current state.
func (c *DeterministicCore) Restore(cp Checkpoint) {
	c.sequence = cp.Sequence + 1
	c.hasher.SetPrevHash(cp.StateHash)
	if cp.ClockStarted {
		c.clock.Restore(cp.Clock)
	}
	for _, e := range cp.Balances {
		c.balanceTracker.Set(e.Account, e.Balance)
	}
	c.idempotency.Warm(cp.IdempotencyKeys)
	if c.metrics != nil {
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}
}

// Replay re-applies a logged batch during recovery and checks that it
// lands on the logged hash. Outputs still reach the store and projections
// but are not persisted or published again.
func (c *DeterministicCore) Replay(env *event.EventEnvelope) error {
	b, err := transition.Parse(env.Payload)
	if err != nil {
		return fmt.Errorf("replay %d: %w", env.Sequence, err)
	}
	if env.Sequence != c.sequence {
		return fmt.Errorf("replay %d: core expects sequence %d", env.Sequence, c.sequence)
	}
	if env.PrevHash != c.hasher.GetPrevHash() {
		return fmt.Errorf("replay %d: hash chain broken", env.Sequence)
	}
	c.replaying = true
	defer func() { c.replaying = false }()
	receipt, err := c.ApplyBatch(b, env.Payload)
	if err != nil {
		return fmt.Errorf("replay %d: %w", env.Sequence, err)
	}
	if receipt.Duplicate {
		return fmt.Errorf("replay %d: batch %s already applied", env.Sequence, env.IdempotencyKey)
	}
	if receipt.StateHash != env.StateHash {
		return fmt.Errorf("replay %d: state hash mismatch", env.Sequence)
	}
	if c.metrics != nil {
		c.metrics.ReplayBatchesTotal.Inc()
	}
	return nil
}

// WarmLRU loads recent batch ids into the dedup cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.Warm(keys)
}

// Balances returns the vault ledger in a stable order.
func (c *DeterministicCore) Balances() []BalanceEntry {
	keys := c.balanceTracker.Keys()
	out := make([]BalanceEntry, len(keys))
	for i, k := range keys {
		out[i] = BalanceEntry{Account: k, Balance: c.balanceTracker.GetBalance(k)}
	}
	return out
}

// ValidateGlobalBalance checks that every asset nets to zero across the ledger.
func (c *DeterministicCore) ValidateGlobalBalance() error {
	return c.validator.ValidateGlobalBalance()
}

// State returns the committed state. Only the core goroutine may touch it.
func (c *DeterministicCore) State() *state.State { return c.state }

// GetSequence returns the next sequence the core will assign.
func (c *DeterministicCore) GetSequence() int64 { return c.sequence }

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte { return c.hasher.GetPrevHash() }

// LastClock returns the clock of the last committed batch.
func (c *DeterministicCore) LastClock() (state.Clock, bool) { return c.clock.Last() }
