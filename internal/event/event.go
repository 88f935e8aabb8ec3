// Package event describes what the ledger reports after committing a
// batch: the envelope written to the event log and the per-instruction
// events published downstream.
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// SubjectPrefix is the root of every outbound subject.
const SubjectPrefix = "vamm.ledger.events"

// Subject returns vamm.ledger.events.{kind}[.{market}].
func (e Event) Subject() string {
	subject := fmt.Sprintf("%s.%s", SubjectPrefix, e.Kind)
	if e.Market != nil {
		subject = fmt.Sprintf("%s.%d", subject, *e.Market)
	}
	return subject
}

// ForMarket scopes the event to a market.
func (e Event) ForMarket(idx uint16) Event {
	e.Market = &idx
	return e
}

// ForUser scopes the event to an account.
func (e Event) ForUser(authority uuid.UUID, sub uint16) Event {
	e.Authority = &authority
	e.SubAccountID = &sub
	return e
}

// ForAuthority scopes the event to an authority without a subaccount.
func (e Event) ForAuthority(authority uuid.UUID) Event {
	e.Authority = &authority
	return e
}

// New builds an unscoped event.
func New(kind Kind, payload any) Event {
	return Event{Kind: kind, Payload: payload}
}

// SpotTransfer reports a deposit or withdrawal.
type SpotTransfer struct {
	Direction   string `json:"direction"`
	Amount      int64  `json:"amount"`
	ScaledDelta int64  `json:"scaled_delta,omitempty"`
	UserCreated bool   `json:"user_created,omitempty"`
}

// ConfigChange reports an admin parameter update.
type ConfigChange struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// OracleUpdate reports a pushed reading.
type OracleUpdate struct {
	Oracle string `json:"oracle"`
	Source string `json:"source"`
	Price  int64  `json:"price"`
	Slot   uint64 `json:"slot"`
}

// BadDebt is published on its own subject whenever a liquidation leaves a
// loss unabsorbed.
type BadDebt struct {
	Target       uuid.UUID `json:"target"`
	SubAccountID uint16    `json:"sub_account_id"`
	Amount       int64     `json:"amount"`
	TotalBadDebt int64     `json:"total_bad_debt"`
	Reason       string    `json:"reason"`
}
