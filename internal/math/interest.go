package math

// RateCurve is a two-slope utilization curve. All fields are in
// SpotUtilizationPrecision / SpotRatePrecision.
type RateCurve struct {
	OptimalUtilization int64
	OptimalBorrowRate  int64
	MaxBorrowRate      int64
}

// Utilization returns borrow / deposit in SpotUtilizationPrecision, capped at 100%.
func Utilization(depositTokens, borrowTokens int64) (int64, error) {
	if borrowTokens <= 0 {
		return 0, nil
	}
	if depositTokens <= 0 {
		return SpotUtilizationPrecision, nil
	}
	u, err := MulDiv(borrowTokens, SpotUtilizationPrecision, depositTokens, RoundDown)
	if err != nil {
		return 0, err
	}
	return Min(u, SpotUtilizationPrecision), nil
}

// BorrowRate returns the annualized borrow rate for a utilization.
func (c RateCurve) BorrowRate(utilization int64) (int64, error) {
	if utilization <= 0 {
		return 0, nil
	}
	if c.OptimalUtilization <= 0 {
		return c.MaxBorrowRate, nil
	}
	if utilization <= c.OptimalUtilization {
		return MulDiv(c.OptimalBorrowRate, utilization, c.OptimalUtilization, RoundDown)
	}
	span := SpotUtilizationPrecision - c.OptimalUtilization
	if span <= 0 {
		return c.MaxBorrowRate, nil
	}
	extra, err := MulDiv(c.MaxBorrowRate-c.OptimalBorrowRate, utilization-c.OptimalUtilization, span, RoundDown)
	if err != nil {
		return 0, err
	}
	return c.OptimalBorrowRate + extra, nil
}

// InterestAccrual is the outcome of accruing one interval.
type InterestAccrual struct {
	CumulativeDepositInterest int64
	CumulativeBorrowInterest  int64
	BorrowRate                int64
}

// AccrueInterest grows both cumulative factors over elapsed seconds.
// Borrow growth rounds up and deposit growth rounds down, so interest paid
// by borrowers always covers interest owed to depositors.
func AccrueInterest(
	curve RateCurve,
	cumDeposit, cumBorrow int64,
	depositTokens, borrowTokens int64,
	elapsed int64,
) (InterestAccrual, error) {
	out := InterestAccrual{CumulativeDepositInterest: cumDeposit, CumulativeBorrowInterest: cumBorrow}
	if elapsed <= 0 || borrowTokens <= 0 || depositTokens <= 0 {
		return out, nil
	}

	util, err := Utilization(depositTokens, borrowTokens)
	if err != nil {
		return out, err
	}
	rate, err := curve.BorrowRate(util)
	if err != nil {
		return out, err
	}
	out.BorrowRate = rate

	borrowInterest, err := MulDiv(rate, elapsed, OneYearSeconds, RoundDown)
	if err != nil {
		return out, err
	}
	if borrowInterest == 0 {
		return out, nil
	}
	depositInterest, err := MulDiv(borrowInterest, borrowTokens, depositTokens, RoundDown)
	if err != nil {
		return out, err
	}

	borrowDelta, err := MulDiv(cumBorrow, borrowInterest, SpotRatePrecision, RoundDown)
	if err != nil {
		return out, err
	}
	if out.CumulativeBorrowInterest, err = CheckedAdd(cumBorrow, borrowDelta+1); err != nil {
		return out, err
	}

	depositDelta, err := MulDiv(cumDeposit, depositInterest, SpotRatePrecision, RoundDown)
	if err != nil {
		return out, err
	}
	if out.CumulativeDepositInterest, err = CheckedAdd(cumDeposit, depositDelta); err != nil {
		return out, err
	}
	return out, nil
}

// SpotPrecisionIncrease is 10^(19 - decimals).
func SpotPrecisionIncrease(decimals uint32) int64 {
	return Pow10(19 - int(decimals))
}

// TokenToScaled converts a token amount to a scaled balance at a cumulative factor.
func TokenToScaled(amount int64, decimals uint32, cumulative int64, mode RoundingMode) (int64, error) {
	return MulDiv(amount, SpotPrecisionIncrease(decimals), cumulative, mode)
}

// ScaledToToken converts a scaled balance back to tokens.
func ScaledToToken(scaled int64, decimals uint32, cumulative int64, mode RoundingMode) (int64, error) {
	return MulDiv(scaled, cumulative, SpotPrecisionIncrease(decimals), mode)
}

// TokenValue converts a token amount into quote units at an oracle price.
func TokenValue(amount int64, decimals uint32, price int64, mode RoundingMode) (int64, error) {
	return MulDiv(amount, price, Pow10(int(decimals)), mode)
}
