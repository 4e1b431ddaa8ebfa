package entities

import "math/bits"

// BasisPoints is the denominator for every percentage in the plan (10000 = 100%)
const BasisPoints int64 = 10000

// PercentOf returns amount * bps / 10000, rounded down
func PercentOf(amount, bps int64) int64 {
	return MulDiv(amount, bps, BasisPoints)
}

// MulDiv returns a*b/c rounded down without overflowing the intermediate product.
// Negative inputs and a zero divisor yield 0.
func MulDiv(a, b, c int64) int64 {
	if a <= 0 || b <= 0 || c <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(c) {
		// quotient would not fit in 64 bits
		return 1<<63 - 1
	}
	quo, _ := bits.Div64(hi, lo, uint64(c))
	if quo > 1<<63-1 {
		return 1<<63 - 1
	}
	return int64(quo)
}
