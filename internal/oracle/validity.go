package oracle

import (
	errorsmod "cosmossdk.io/errors"

	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/types"
)

// GuardRails bound how old and how uncertain a reading may be.
type GuardRails struct {
	MaxSlotsStaleForAmm    uint64
	MaxSlotsStaleForMargin uint64
	// ConfidenceIntervalMaxSize is confidence/price in PercentagePrecision.
	ConfidenceIntervalMaxSize int64
}

// DefaultGuardRails are used when genesis leaves them unset.
func DefaultGuardRails() GuardRails {
	return GuardRails{
		MaxSlotsStaleForAmm:       10,
		MaxSlotsStaleForMargin:    120,
		ConfidenceIntervalMaxSize: 20_000,
	}
}

// Purpose selects which staleness bound applies.
type Purpose uint8

const (
	ForAmm Purpose = iota
	ForMargin
)

// Validate checks a reading against the guard rails at clockSlot.
func (g GuardRails) Validate(pd PriceData, clockSlot uint64, purpose Purpose) error {
	if pd.Price <= 0 {
		return errorsmod.Wrapf(types.ErrInvalidOracle, "non-positive price %d", pd.Price)
	}
	if g.ConfidenceIntervalMaxSize > 0 && pd.Confidence > 0 {
		band, err := fp.MulDiv(pd.Confidence, fp.PercentagePrecision, pd.Price, fp.RoundUp)
		if err != nil || band > g.ConfidenceIntervalMaxSize {
			return errorsmod.Wrapf(types.ErrInvalidOracle, "confidence %d too wide for price %d", pd.Confidence, pd.Price)
		}
	}
	maxStale := g.MaxSlotsStaleForAmm
	if purpose == ForMargin {
		maxStale = g.MaxSlotsStaleForMargin
	}
	if clockSlot > pd.Slot && clockSlot-pd.Slot > maxStale {
		return errorsmod.Wrapf(types.ErrStaleOracle, "reading at slot %d, clock at %d, max delay %d", pd.Slot, clockSlot, maxStale)
	}
	return nil
}
