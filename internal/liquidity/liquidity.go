// Package liquidity converts between concentrated-liquidity amounts and
// liquidity, and between 1e18-scaled pair prices and Q64.96 sqrt ratios.
//
// Orientation: token0 is asset B, token1 is asset A, so a 1e18-scaled
// price (A per B) is the pool's token1/token0 price.
package liquidity

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/Gridix/gridix-core/internal/fullmath"
	"github.com/Gridix/gridix-core/internal/tickmath"
)

var (
	q96        = new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	priceScale = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(18))

	ErrZeroPrice = errors.New("liquidity: zero price")
)

// SqrtRatioFromPrice converts a 1e18-scaled price into a Q64.96 sqrt
// ratio: floor(sqrt(price * 2^192 / 1e18)).
func SqrtRatioFromPrice(price *uint256.Int) (*uint256.Int, error) {
	if price == nil || price.IsZero() {
		return nil, ErrZeroPrice
	}
	v := new(big.Int).Lsh(price.ToBig(), 192)
	v.Quo(v, priceScale.ToBig())
	v.Sqrt(v)
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, errors.New("liquidity: price out of range")
	}
	return out, nil
}

// TickForPrice returns the tick whose range contains the 1e18-scaled price.
func TickForPrice(price *uint256.Int) (int, error) {
	ratio, err := SqrtRatioFromPrice(price)
	if err != nil {
		return 0, err
	}
	if ratio.Cmp(tickmath.MinSqrtRatio) < 0 {
		return tickmath.MinTick, nil
	}
	if ratio.Cmp(tickmath.MaxSqrtRatio) >= 0 {
		return tickmath.MaxTick - 1, nil
	}
	return tickmath.TickAtSqrtRatio(ratio), nil
}

// LiquidityForAmount0 computes the liquidity a given token0 amount
// provides over [sqrtA, sqrtB].
func LiquidityForAmount0(sqrtA, sqrtB, amount0 *uint256.Int) *uint256.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	intermediate := fullmath.MulDiv(sqrtA, sqrtB, q96)
	return fullmath.MulDiv(amount0, intermediate, new(uint256.Int).Sub(sqrtB, sqrtA))
}

// LiquidityForAmount1 computes the liquidity a given token1 amount
// provides over [sqrtA, sqrtB].
func LiquidityForAmount1(sqrtA, sqrtB, amount1 *uint256.Int) *uint256.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	return fullmath.MulDiv(amount1, q96, new(uint256.Int).Sub(sqrtB, sqrtA))
}

// LiquidityForAmounts computes the maximum liquidity both amounts can fund
// at the current sqrt ratio.
func LiquidityForAmounts(sqrtCur, sqrtA, sqrtB, amount0, amount1 *uint256.Int) *uint256.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	switch {
	case sqrtCur.Cmp(sqrtA) <= 0:
		return LiquidityForAmount0(sqrtA, sqrtB, amount0)
	case sqrtCur.Cmp(sqrtB) < 0:
		l0 := LiquidityForAmount0(sqrtCur, sqrtB, amount0)
		l1 := LiquidityForAmount1(sqrtA, sqrtCur, amount1)
		if l0.Cmp(l1) < 0 {
			return l0
		}
		return l1
	default:
		return LiquidityForAmount1(sqrtA, sqrtB, amount1)
	}
}

// Amount0ForLiquidity returns the token0 amount a position of the given
// liquidity represents over [sqrtA, sqrtB], rounding down:
// L * 2^96 * (sqrtB - sqrtA) / (sqrtB * sqrtA).
func Amount0ForLiquidity(sqrtA, sqrtB, liq *uint256.Int) *uint256.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	numerator1 := new(uint256.Int).Lsh(liq, 96)
	numerator2 := new(uint256.Int).Sub(sqrtB, sqrtA)
	out := fullmath.MulDiv(numerator1, numerator2, sqrtB)
	return out.Div(out, sqrtA)
}

// Amount1ForLiquidity returns the token1 amount over [sqrtA, sqrtB],
// rounding down: L * (sqrtB - sqrtA) / 2^96.
func Amount1ForLiquidity(sqrtA, sqrtB, liq *uint256.Int) *uint256.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	return fullmath.MulDiv(liq, new(uint256.Int).Sub(sqrtB, sqrtA), q96)
}

// AmountsForLiquidity returns the token amounts a position currently
// represents: all token0 below the range, all token1 above it, split
// inside it.
func AmountsForLiquidity(sqrtCur, sqrtA, sqrtB, liq *uint256.Int) (amount0, amount1 *uint256.Int) {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	switch {
	case sqrtCur.Cmp(sqrtA) <= 0:
		return Amount0ForLiquidity(sqrtA, sqrtB, liq), new(uint256.Int)
	case sqrtCur.Cmp(sqrtB) < 0:
		return Amount0ForLiquidity(sqrtCur, sqrtB, liq), Amount1ForLiquidity(sqrtA, sqrtCur, liq)
	default:
		return new(uint256.Int), Amount1ForLiquidity(sqrtA, sqrtB, liq)
	}
}
