// Package fullmath provides 256-bit multiply-then-divide with a full
// 512-bit intermediate product, matching the EVM FullMath library
// bit-for-bit including its rounding-down behavior.
package fullmath

import "github.com/holiman/uint256"

var (
	maxUint256 = new(uint256.Int).Not(new(uint256.Int))
	one        = uint256.NewInt(1)
	two        = uint256.NewInt(2)
	three      = uint256.NewInt(3)
)

// MulDiv returns floor(a*b/denominator) exactly, even when a*b exceeds
// 256 bits. Panics when denominator is zero or the quotient does not fit
// in 256 bits.
func MulDiv(a, b, denominator *uint256.Int) *uint256.Int {
	if denominator.IsZero() {
		panic("fullmath: division by zero")
	}

	// 512-bit product as two 256-bit words: [prod1, prod0] = a*b.
	// prod1 is recovered from the product mod 2^256-1 vs mod 2^256.
	mm := new(uint256.Int).MulMod(a, b, maxUint256)
	prod0 := new(uint256.Int).Mul(a, b)
	prod1 := new(uint256.Int).Sub(mm, prod0)
	if mm.Lt(prod0) {
		prod1.Sub(prod1, one)
	}

	if prod1.IsZero() {
		return new(uint256.Int).Div(prod0, denominator)
	}
	if !denominator.Gt(prod1) {
		panic("fullmath: mulDiv overflow")
	}

	// Make [prod1, prod0] divisible by the denominator.
	remainder := new(uint256.Int).MulMod(a, b, denominator)
	if remainder.Gt(prod0) {
		prod1.Sub(prod1, one)
	}
	prod0.Sub(prod0, remainder)

	// Factor powers of two out of the denominator.
	d := new(uint256.Int).Set(denominator)
	twos := new(uint256.Int).Neg(d)
	twos.And(twos, d)
	d.Div(d, twos)
	prod0.Div(prod0, twos)

	// Shift the low bits of prod1 into prod0. flip is 2^256/twos; it
	// wraps to zero for an odd denominator, where prod1's bits are not
	// needed once we multiply by the modular inverse.
	flip := new(uint256.Int).Neg(twos)
	flip.Div(flip, twos)
	flip.Add(flip, one)
	prod0.Or(prod0, new(uint256.Int).Mul(prod1, flip))

	// Newton-Raphson inverse of d modulo 2^256. The seed is correct to
	// four bits; each step doubles the correct bits.
	inv := new(uint256.Int).Mul(d, three)
	inv.Xor(inv, two)
	step := new(uint256.Int)
	for i := 0; i < 6; i++ {
		step.Mul(d, inv)
		step.Sub(two, step)
		inv.Mul(inv, step)
	}
	return new(uint256.Int).Mul(prod0, inv)
}

// MulDivRoundingUp returns ceil(a*b/denominator) with the same overflow
// semantics as MulDiv.
func MulDivRoundingUp(a, b, denominator *uint256.Int) *uint256.Int {
	result := MulDiv(a, b, denominator)
	if !new(uint256.Int).MulMod(a, b, denominator).IsZero() {
		if result.Eq(maxUint256) {
			panic("fullmath: mulDiv overflow")
		}
		result.Add(result, one)
	}
	return result
}
