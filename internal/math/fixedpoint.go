package math

import (
	"errors"
	"math/big"
	"sync"
)

// Precision constants. Every amount in the ledger is an integer in one of
// these scales; converting between them always goes through MulDiv.
const (
	PricePrecision      int64 = 1_000_000
	PegPrecision        int64 = 1_000_000
	QuotePrecision      int64 = 1_000_000
	AmmReservePrecision int64 = 1_000_000_000
	BasePrecision             = AmmReservePrecision

	// reserve delta (1e9) * peg (1e6) / quote (1e6)
	AmmTimesPegToQuotePrecisionRatio int64 = 1_000_000_000
	AmmToQuotePrecisionRatio         int64 = 1_000

	SpotBalancePrecision            int64 = 1_000_000_000
	SpotCumulativeInterestPrecision int64 = 10_000_000_000
	SpotWeightPrecision             int64 = 10_000
	SpotUtilizationPrecision        int64 = 1_000_000
	SpotRatePrecision               int64 = 1_000_000

	MarginPrecision     int64 = 10_000
	PercentagePrecision int64 = 1_000_000

	FundingRateBuffer       int64 = 1_000
	FundingRatePrecision          = PricePrecision * FundingRateBuffer
	FundingPaymentPrecision       = FundingRatePrecision * AmmToQuotePrecisionRatio

	OneYearSeconds int64 = 31_536_000
	OneHourSeconds int64 = 3_600
)

// ErrOverflow is returned when an intermediate result does not fit in int64.
var ErrOverflow = errors.New("fixed-point overflow")

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown                         // toward negative infinity
	RoundUp                           // toward positive infinity
)

// MulDiv computes a*b/c without intermediate overflow.
func MulDiv(a, b, c int64, mode RoundingMode) (int64, error) {
	if c == 0 {
		return 0, errors.New("fixed-point division by zero")
	}
	num := getInt128()
	defer putInt128(num)
	num.SetInt64(a)
	tmp := getInt128()
	defer putInt128(tmp)
	tmp.SetInt64(b)
	num.Mul(num, tmp)
	return divideInt128(num, c, mode)
}

// MustMulDiv is MulDiv for call sites whose operands are bounded by
// construction. It panics on overflow.
func MustMulDiv(a, b, c int64, mode RoundingMode) int64 {
	v, err := MulDiv(a, b, c, mode)
	if err != nil {
		panic(err)
	}
	return v
}

// divideInt128 performs numerator / denominator with rounding.
func divideInt128(numerator *big.Int, denominator int64, mode RoundingMode) (int64, error) {
	denom := getInt128()
	defer putInt128(denom)
	denom.SetInt64(denominator)
	negDenom := denominator < 0
	if negDenom {
		denom.Neg(denom)
	}

	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	num := getInt128()
	defer putInt128(num)
	num.Set(numerator)
	if negDenom {
		num.Neg(num)
	}

	// Euclidean: remainder is always >= 0, so quotient is the floor.
	quotient.DivMod(num, denom, remainder)

	if remainder.Sign() != 0 {
		switch mode {
		case RoundUp:
			quotient.Add(quotient, big.NewInt(1))
		case RoundHalfEven:
			twice := getInt128()
			twice.Lsh(remainder, 1)
			cmp := twice.Cmp(denom)
			putInt128(twice)
			if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
				quotient.Add(quotient, big.NewInt(1))
			}
		}
	}

	if !quotient.IsInt64() {
		return 0, ErrOverflow
	}
	return quotient.Int64(), nil
}

// Abs returns |v|.
func Abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Sign returns -1, 0 or 1.
func Sign(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// Min returns the smaller of a and b.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b int64) (int64, error) {
	c := a + b
	if (c > a) != (b > 0) {
		return 0, ErrOverflow
	}
	return c, nil
}

// CheckedSub returns a-b or ErrOverflow.
func CheckedSub(a, b int64) (int64, error) {
	c := a - b
	if (c < a) != (b > 0) {
		return 0, ErrOverflow
	}
	return c, nil
}

// RoundUpToStep rounds |v| up to the next multiple of step.
func RoundUpToStep(v, step int64) int64 {
	if step <= 0 {
		return v
	}
	if r := v % step; r != 0 {
		return v + step - r
	}
	return v
}

// RoundDownToStep truncates v to a multiple of step.
func RoundDownToStep(v, step int64) int64 {
	if step <= 0 {
		return v
	}
	return v - v%step
}

// Pow10 returns 10^n for 0 <= n <= 18.
func Pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
