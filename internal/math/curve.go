package math

import (
	"github.com/holiman/uint256"
)

// Reserve math runs in 256 bits: sqrt_k squared easily exceeds 64 bits.

func u256(v int64) *uint256.Int {
	return new(uint256.Int).SetUint64(uint64(v))
}

func toInt64(v *uint256.Int) (int64, error) {
	if !v.IsUint64() || v.Uint64() > uint64(1<<63-1) {
		return 0, ErrOverflow
	}
	return int64(v.Uint64()), nil
}

// SqrtK returns floor(sqrt(base * quote)).
func SqrtK(base, quote int64) (int64, error) {
	if base <= 0 || quote <= 0 {
		return 0, ErrOverflow
	}
	k := new(uint256.Int).Mul(u256(base), u256(quote))
	return toInt64(new(uint256.Int).Sqrt(k))
}

// QuoteReserveFor returns ceil(sqrtK^2 / base): the quote reserve that keeps
// the curve on sqrtK for the given base reserve.
func QuoteReserveFor(sqrtK, base int64) (int64, error) {
	if base <= 0 || sqrtK <= 0 {
		return 0, ErrOverflow
	}
	k := new(uint256.Int).Mul(u256(sqrtK), u256(sqrtK))
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(k, u256(base), r)
	if !r.IsZero() {
		q.AddUint64(q, 1)
	}
	return toInt64(q)
}

// ScaleReserve returns reserve * num / den, rounded as requested.
func ScaleReserve(reserve, num, den int64, mode RoundingMode) (int64, error) {
	if den <= 0 || reserve < 0 || num < 0 {
		return 0, ErrOverflow
	}
	p := new(uint256.Int).Mul(u256(reserve), u256(num))
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(p, u256(den), r)
	if mode == RoundUp && !r.IsZero() {
		q.AddUint64(q, 1)
	}
	return toInt64(q)
}

// ReservePrice returns quote * peg / base in PricePrecision.
func ReservePrice(base, quote, peg int64) (int64, error) {
	if base <= 0 {
		return 0, ErrOverflow
	}
	return MulDiv(quote, peg, base, RoundDown)
}

// QuoteAmount converts a quote-reserve delta into quote units at the given peg.
func QuoteAmount(reserveDelta, peg int64, mode RoundingMode) (int64, error) {
	return MulDiv(reserveDelta, peg, AmmTimesPegToQuotePrecisionRatio, mode)
}

// BaseNotional returns base * price / BasePrecision in quote units.
func BaseNotional(base, price int64, mode RoundingMode) (int64, error) {
	return MulDiv(base, price, BasePrecision, mode)
}
