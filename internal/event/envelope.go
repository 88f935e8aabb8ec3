package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"VAMMLedger/internal/state"
)

// Kind discriminates outbound events. It is also the subject token.
type Kind string

const (
	KindMarket        Kind = "market"
	KindConfig        Kind = "config"
	KindOracle        Kind = "oracle"
	KindAccount       Kind = "account"
	KindSpotTransfer  Kind = "spot_transfer"
	KindFill          Kind = "fill"
	KindPnlSettlement Kind = "pnl_settlement"
	KindLiquidity     Kind = "liquidity"
	KindFunding       Kind = "funding"
	KindCurve         Kind = "curve"
	KindStake         Kind = "stake"
	KindLiquidation   Kind = "liquidation"
	KindBadDebt       Kind = "bad_debt"
)

// Event is one observable outcome of an instruction.
type Event struct {
	Kind         Kind       `json:"kind"`
	Instruction  int        `json:"instruction"`
	Market       *uint16    `json:"market,omitempty"`
	Authority    *uuid.UUID `json:"authority,omitempty"`
	SubAccountID *uint16    `json:"sub_account_id,omitempty"`
	Payload      any        `json:"payload"`
}

// EventEnvelope wraps every committed batch in the log.
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Batch id from upstream
	IdempotencyKey string

	Signer uuid.UUID
	Clock  state.Clock

	// Wire form of the batch, replayed on recovery
	Payload json.RawMessage

	Events []Event

	// SHA-256 of state AFTER applying this batch
	StateHash [32]byte

	// Previous batch's state hash (chain integrity)
	PrevHash [32]byte
}

// Timestamp is the batch clock. The core never reads the wall clock.
func (e *EventEnvelope) Timestamp() time.Time {
	return time.Unix(e.Clock.UnixTimestamp, 0).UTC()
}

// Markets returns the markets named by the envelope's events, deduplicated
// in first-seen order.
func (e *EventEnvelope) Markets() []uint16 {
	seen := map[uint16]bool{}
	var out []uint16
	for _, ev := range e.Events {
		if ev.Market != nil && !seen[*ev.Market] {
			seen[*ev.Market] = true
			out = append(out, *ev.Market)
		}
	}
	return out
}
