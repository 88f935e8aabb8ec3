package math

// ComputeFundingRate returns the per-period funding rate in FundingRatePrecision.
// Positive when the AMM trades above the oracle: longs pay shorts.
func ComputeFundingRate(markPrice, oraclePrice int64) (int64, error) {
	return MulDiv(markPrice-oraclePrice, FundingRateBuffer, 24, RoundDown)
}

// ComputeFundingPayment returns what a position owes for a cumulative rate
// move. Positive = user pays, negative = user receives. Rounds toward +inf,
// so the protocol never pays out rounding dust.
func ComputeFundingPayment(baseAssetAmount, cumulativeNow, cumulativeLast int64) (int64, error) {
	delta := cumulativeNow - cumulativeLast
	if delta == 0 || baseAssetAmount == 0 {
		return 0, nil
	}
	return MulDiv(baseAssetAmount, delta, FundingPaymentPrecision, RoundUp)
}

// ElapsedFundingPeriods returns how many whole periods passed since lastTs.
func ElapsedFundingPeriods(now, lastTs, period int64) int64 {
	if period <= 0 || now <= lastTs {
		return 0
	}
	return (now - lastTs) / period
}
