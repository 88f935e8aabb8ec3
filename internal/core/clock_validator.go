package core

import (
	errorsmod "cosmossdk.io/errors"

	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// ClockValidator rejects batches whose clock runs backwards. Slot and
// timestamp may repeat (several batches per slot) but never decrease.
// Not thread-safe: only the core goroutine touches it.
type ClockValidator struct {
	last    state.Clock
	started bool
	metrics *ClockMetrics
}

func NewClockValidator() *ClockValidator {
	return &ClockValidator{metrics: &ClockMetrics{}}
}

// Check validates next against the last committed clock without advancing.
func (v *ClockValidator) Check(next state.Clock) error {
	if !v.started {
		return nil
	}
	if next.Slot < v.last.Slot {
		v.metrics.SlotRegressions++
		return errorsmod.Wrapf(types.ErrClockRegression, "slot %d after %d", next.Slot, v.last.Slot)
	}
	if next.UnixTimestamp < v.last.UnixTimestamp {
		v.metrics.TimestampRegressions++
		return errorsmod.Wrapf(types.ErrClockRegression, "timestamp %d after %d", next.UnixTimestamp, v.last.UnixTimestamp)
	}
	return nil
}

// Advance records the clock of a committed batch.
func (v *ClockValidator) Advance(c state.Clock) {
	v.last = c
	v.started = true
}

// Last returns the clock of the last committed batch.
func (v *ClockValidator) Last() (state.Clock, bool) {
	return v.last, v.started
}

// Restore sets the clock after recovery.
func (v *ClockValidator) Restore(c state.Clock) {
	v.Advance(c)
}

func (v *ClockValidator) Metrics() ClockMetrics { return *v.metrics }

// ClockMetrics counts rejected clocks.
type ClockMetrics struct {
	SlotRegressions      int64
	TimestampRegressions int64
}
