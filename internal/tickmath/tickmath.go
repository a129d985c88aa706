// Package tickmath converts between concentrated-liquidity ticks and
// Q64.96 square-root prices. A tick t corresponds to sqrt(1.0001^t).
package tickmath

import (
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// MinTick is the minimum tick usable on any pool.
	MinTick = -887272
	// MaxTick is the maximum tick usable on any pool.
	MaxTick = -MinTick
)

var (
	q32 = uint256.NewInt(1 << 32)
	one = uint256.NewInt(1)

	maxUint256 = new(uint256.Int).Not(new(uint256.Int))

	// MinSqrtRatio is the sqrt ratio at MinTick.
	MinSqrtRatio = uint256.NewInt(4295128739)
	// MaxSqrtRatio is the sqrt ratio at MaxTick.
	MaxSqrtRatio = mustFromDecimal("1461446703485210103287273052203988822378723970342")

	magicSqrt10001 = mustFromHex("0x3627A301D71055774C85")
	magicTickLow   = mustFromHex("0x28F6481AB7F045A5AF012A19D003AAA")
	magicTickHigh  = mustFromHex("0xDB2DF09E81959A81455E260799A0632F")

	// sqrt(1.0001)^(2^i) factors as Q128.128, for i = 0..19.
	ratioFactors = []string{
		"0xfffcb933bd6fad37aa2d162d1a594001",
		"0xfff97272373d413259a46990580e213a",
		"0xfff2e50f5f656932ef12357cf3c7fdcc",
		"0xffe5caca7e10e4e61c3624eaa0941cd0",
		"0xffcb9843d60f6159c9db58835c926644",
		"0xff973b41fa98c081472e6896dfb254c0",
		"0xff2ea16466c96a3843ec78b326b52861",
		"0xfe5dee046a99a2a811c461f1969c3053",
		"0xfcbe86c7900a88aedcffc83b479aa3a4",
		"0xf987a7253ac413176f2b074cf7815e54",
		"0xf3392b0822b70005940c7a398e4b70f3",
		"0xe7159475a2c29b7443b29c7fa6e889d9",
		"0xd097f3bdfd2022b8845ad8f792aa5825",
		"0xa9f746462d870fdf8a65dc1f90e061e5",
		"0x70d869a156d2a1b890bb3df62baf32f7",
		"0x31be135f97d08fd981231505542fcfa6",
		"0x9aa508b5b7a84e1c677de54f3e99bc9",
		"0x5d6af8dedb81196699c329225ee604",
		"0x2216e584f5fa1ea926041bedfe98",
		"0x48a170391f7dc42444e8fa2",
	}
)

// TickSpacings maps pool fee tiers (in hundredths of a bip) to tick spacing.
var TickSpacings = map[uint32]int{
	500:   10,
	3000:  60,
	10000: 200,
}

// SqrtRatioAtTick returns sqrt(1.0001^tick) as a Q64.96. Panics outside
// [MinTick, MaxTick].
func SqrtRatioAtTick(tick int) *uint256.Int {
	absTick := tick
	if tick < 0 {
		absTick = -tick
	}
	if absTick > MaxTick {
		panic("tickmath: tick out of range")
	}

	var ratio *uint256.Int
	if absTick&1 != 0 {
		ratio = mustFromHex(ratioFactors[0])
	} else {
		ratio = mustFromHex("0x100000000000000000000000000000000")
	}
	for i := 1; i < len(ratioFactors); i++ {
		if absTick&(1<<i) != 0 {
			ratio = mulShift(ratio, ratioFactors[i])
		}
	}
	if tick > 0 {
		ratio = new(uint256.Int).Div(maxUint256, ratio)
	}

	// Round up from Q128.128 to Q64.96.
	out := new(uint256.Int).Div(ratio, q32)
	if !new(uint256.Int).Mod(ratio, q32).IsZero() {
		out.Add(out, one)
	}
	return out
}

// TickAtSqrtRatio returns the greatest tick whose sqrt ratio is <=
// sqrtRatioX96. Panics when the ratio is outside [MinSqrtRatio, MaxSqrtRatio).
func TickAtSqrtRatio(sqrtRatioX96 *uint256.Int) int {
	if sqrtRatioX96.Cmp(MinSqrtRatio) < 0 || sqrtRatioX96.Cmp(MaxSqrtRatio) >= 0 {
		panic("tickmath: sqrt ratio out of range")
	}

	sqrtRatioX128 := new(uint256.Int).Lsh(sqrtRatioX96, 32)
	msb := uint(sqrtRatioX128.BitLen() - 1)

	var r *uint256.Int
	if msb >= 128 {
		r = new(uint256.Int).Rsh(sqrtRatioX128, msb-127)
	} else {
		r = new(uint256.Int).Lsh(sqrtRatioX128, 127-msb)
	}

	log2 := new(uint256.Int).Lsh(
		new(uint256.Int).Sub(uint256.NewInt(uint64(msb)), uint256.NewInt(128)), 64)

	for i := 0; i < 14; i++ {
		r = new(uint256.Int).Rsh(new(uint256.Int).Mul(r, r), 127)
		f := new(uint256.Int).Rsh(r, 128)
		log2.Or(log2, new(uint256.Int).Lsh(f, uint(63-i)))
		r.Rsh(r, uint(f.Uint64()))
	}

	logSqrt10001 := new(uint256.Int).Mul(log2, magicSqrt10001)

	tickLow := int(int64(new(uint256.Int).Rsh(
		new(uint256.Int).Sub(logSqrt10001, magicTickLow), 128).Uint64()))
	tickHigh := int(int64(new(uint256.Int).Rsh(
		new(uint256.Int).Add(logSqrt10001, magicTickHigh), 128).Uint64()))

	if tickLow == tickHigh {
		return tickLow
	}
	if SqrtRatioAtTick(tickHigh).Cmp(sqrtRatioX96) <= 0 {
		return tickHigh
	}
	return tickLow
}

// FloorToSpacing rounds a tick down to a multiple of spacing.
func FloorToSpacing(tick, spacing int) int {
	if spacing <= 0 {
		return tick
	}
	floored := tick / spacing
	if tick < 0 && tick%spacing != 0 {
		floored--
	}
	return floored * spacing
}

// CeilToSpacing rounds a tick up to a multiple of spacing.
func CeilToSpacing(tick, spacing int) int {
	if spacing <= 0 {
		return tick
	}
	ceiled := tick / spacing
	if tick > 0 && tick%spacing != 0 {
		ceiled++
	}
	return ceiled * spacing
}

func mulShift(val *uint256.Int, factor string) *uint256.Int {
	f := mustFromHex(factor)
	return new(uint256.Int).Rsh(new(uint256.Int).Mul(val, f), 128)
}

func mustFromHex(s string) *uint256.Int {
	v, err := uint256.FromHex(s)
	if err != nil {
		panic(err)
	}
	return v
}

func mustFromDecimal(s string) *uint256.Int {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("tickmath: bad decimal constant")
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		panic("tickmath: constant overflows uint256")
	}
	return v
}
