package amm

import (
	"errors"

	fp "VAMMLedger/internal/math"
	"VAMMLedger/internal/oracle"
	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// FundingUpdate reports what UpdateAMM did to one market.
type FundingUpdate struct {
	MarketIndex           uint16
	Slot                  uint64
	Timestamp             int64
	MarkPrice             int64
	OraclePrice           int64
	FundingRate           int64
	CumulativeFundingRate int64
	// Applied is set when at least one funding period elapsed and a rate was booked.
	Applied bool
	// OracleSkipped is set when the oracle was unusable and funding was skipped.
	OracleSkipped bool
}

// UpdateAMM refreshes a market without touching its reserves. The update
// slot always advances strictly. Funding is booked once per call when at
// least one period has elapsed and the oracle is fit for AMM use; an unfit
// oracle skips funding rather than failing.
func UpdateAMM(tx *state.Tx, m *state.PerpMarket) (FundingUpdate, error) {
	a := &m.AMM
	now := tx.Clock.UnixTimestamp
	up := FundingUpdate{MarketIndex: m.MarketIndex, Timestamp: now}

	a.LastUpdateSlot = max(tx.Clock.Slot, a.LastUpdateSlot+1)
	up.Slot = a.LastUpdateSlot

	mark, err := a.ReservePrice()
	if err != nil {
		return up, types.Overflow(err, "reserve price")
	}
	up.MarkPrice = mark
	up.CumulativeFundingRate = a.CumulativeFundingRate

	pd, err := tx.ValidOraclePrice(m.Oracle, oracle.ForAmm)
	if err != nil {
		if errors.Is(err, types.ErrStaleOracle) || errors.Is(err, types.ErrInvalidOracle) {
			up.OracleSkipped = true
			return up, nil
		}
		return up, err
	}
	a.LastOraclePrice = pd.Price
	up.OraclePrice = pd.Price

	periods := fp.ElapsedFundingPeriods(now, a.LastFundingRateTs, a.FundingPeriod)
	if periods < 1 {
		return up, nil
	}
	rate, err := fp.ComputeFundingRate(mark, pd.Price)
	if err != nil {
		return up, types.Overflow(err, "funding rate")
	}
	if a.CumulativeFundingRate, err = fp.CheckedAdd(a.CumulativeFundingRate, rate); err != nil {
		return up, types.Overflow(err, "cumulative funding")
	}
	a.LastFundingRate = rate
	a.LastFundingRateTs += periods * a.FundingPeriod

	up.FundingRate = rate
	up.CumulativeFundingRate = a.CumulativeFundingRate
	up.Applied = true
	return up, nil
}
