package math_test

import (
	stdmath "math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fp "VAMMLedger/internal/math"
)

func TestMulDivRounding(t *testing.T) {
	cases := []struct {
		name    string
		a, b, c int64
		mode    fp.RoundingMode
		want    int64
	}{
		{"exact", 10, 10, 4, fp.RoundDown, 25},
		{"floor positive", 7, 1, 2, fp.RoundDown, 3},
		{"ceil positive", 7, 1, 2, fp.RoundUp, 4},
		{"floor negative", -7, 1, 2, fp.RoundDown, -4},
		{"ceil negative", -7, 1, 2, fp.RoundUp, -3},
		{"half even down", 5, 1, 2, fp.RoundHalfEven, 2},
		{"half even up", 7, 1, 2, fp.RoundHalfEven, 4},
		{"negative divisor", 7, 1, -2, fp.RoundDown, -4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := fp.MulDiv(tc.a, tc.b, tc.c, tc.mode)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMulDivOverflowAndZero(t *testing.T) {
	_, err := fp.MulDiv(stdmath.MaxInt64, 4, 1, fp.RoundDown)
	assert.ErrorIs(t, err, fp.ErrOverflow)

	_, err = fp.MulDiv(1, 1, 0, fp.RoundDown)
	assert.Error(t, err)

	// Wide intermediate that fits once divided.
	got, err := fp.MulDiv(stdmath.MaxInt64, 4, 8, fp.RoundDown)
	require.NoError(t, err)
	assert.Equal(t, int64(stdmath.MaxInt64/2), got)
}

func TestCheckedArithmetic(t *testing.T) {
	_, err := fp.CheckedAdd(stdmath.MaxInt64, 1)
	assert.ErrorIs(t, err, fp.ErrOverflow)
	_, err = fp.CheckedSub(stdmath.MinInt64, 1)
	assert.ErrorIs(t, err, fp.ErrOverflow)

	v, err := fp.CheckedAdd(-5, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), v)
}

func TestStepRounding(t *testing.T) {
	assert.Equal(t, int64(200), fp.RoundUpToStep(101, 100))
	assert.Equal(t, int64(100), fp.RoundUpToStep(100, 100))
	assert.Equal(t, int64(100), fp.RoundDownToStep(199, 100))
}

func TestCurveInvariant(t *testing.T) {
	base := int64(5_000_000_000_000)
	sqrtK, err := fp.SqrtK(base, base)
	require.NoError(t, err)
	assert.Equal(t, base, sqrtK)

	// Taking base out of the pool raises the quote reserve, rounded up.
	newBase := base - 10*fp.AmmReservePrecision
	q, err := fp.QuoteReserveFor(sqrtK, newBase)
	require.NoError(t, err)
	assert.Greater(t, q, base)

	k2, err := fp.SqrtK(newBase, q)
	require.NoError(t, err)
	assert.Equal(t, sqrtK, k2, "ceil(k^2/B) stays on the curve")
}

func TestReservePrice(t *testing.T) {
	price, err := fp.ReservePrice(5_000_000_000_000, 5_000_000_000_000, fp.PegPrecision)
	require.NoError(t, err)
	assert.Equal(t, fp.PricePrecision, price)

	price, err = fp.ReservePrice(5_000_000_000_000, 5_000_000_000_000, 1_050_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_050_000), price)
}

func TestSpotScaling(t *testing.T) {
	// 10 tokens at 6 decimals with an untouched factor.
	scaled, err := fp.TokenToScaled(10*fp.QuotePrecision, 6, fp.SpotCumulativeInterestPrecision, fp.RoundDown)
	require.NoError(t, err)
	assert.Equal(t, 10*fp.SpotBalancePrecision, scaled)

	tokens, err := fp.ScaledToToken(scaled, 6, fp.SpotCumulativeInterestPrecision, fp.RoundDown)
	require.NoError(t, err)
	assert.Equal(t, 10*fp.QuotePrecision, tokens)

	value, err := fp.TokenValue(2*fp.BasePrecision, 9, 1_500_000, fp.RoundDown)
	require.NoError(t, err)
	assert.Equal(t, int64(3_000_000), value)
}

func TestBorrowRateCurve(t *testing.T) {
	curve := fp.RateCurve{
		OptimalUtilization: 500_000,
		OptimalBorrowRate:  100_000,
		MaxBorrowRate:      1_000_000,
	}
	r, err := curve.BorrowRate(250_000)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), r)

	r, err = curve.BorrowRate(500_000)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), r)

	r, err = curve.BorrowRate(fp.SpotUtilizationPrecision)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), r)
}

func TestAccrueInterestMonotone(t *testing.T) {
	curve := fp.RateCurve{OptimalUtilization: 500_000, OptimalBorrowRate: 100_000, MaxBorrowRate: 1_000_000}
	cum := fp.SpotCumulativeInterestPrecision

	acc, err := fp.AccrueInterest(curve, cum, cum, 100_000_000, 50_000_000, fp.OneYearSeconds/12)
	require.NoError(t, err)
	assert.Greater(t, acc.CumulativeBorrowInterest, cum)
	assert.Greater(t, acc.CumulativeDepositInterest, cum)
	assert.GreaterOrEqual(t, acc.CumulativeBorrowInterest, acc.CumulativeDepositInterest)

	// Nothing borrowed: factors unchanged.
	acc, err = fp.AccrueInterest(curve, cum, cum, 100_000_000, 0, fp.OneYearSeconds)
	require.NoError(t, err)
	assert.Equal(t, cum, acc.CumulativeBorrowInterest)
	assert.Equal(t, cum, acc.CumulativeDepositInterest)
}

func TestFunding(t *testing.T) {
	rate, err := fp.ComputeFundingRate(1_024_000, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), rate)

	// Long one base unit pays rate/1e3 in quote.
	pay, err := fp.ComputeFundingPayment(fp.BasePrecision, rate, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), pay)

	pay, err = fp.ComputeFundingPayment(-fp.BasePrecision, rate, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(-1_000), pay)

	assert.Equal(t, int64(2), fp.ElapsedFundingPeriods(7300, 0, 3600))
}
