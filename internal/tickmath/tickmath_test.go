package tickmath

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqrtRatioAtTickKnownValues(t *testing.T) {
	q96 := new(uint256.Int).Lsh(uint256.NewInt(1), 96)

	assert.Equal(t, q96.Dec(), SqrtRatioAtTick(0).Dec(), "tick 0 must be 2^96")
	assert.Equal(t, MinSqrtRatio.Dec(), SqrtRatioAtTick(MinTick).Dec())
	assert.Equal(t, MaxSqrtRatio.Dec(), SqrtRatioAtTick(MaxTick).Dec())
}

func TestSqrtRatioAtTickMonotonic(t *testing.T) {
	ticks := []int{MinTick, -887000, -100000, -5000, -1, 0, 1, 5000, 100000, 887000, MaxTick}
	for i := 1; i < len(ticks); i++ {
		lo := SqrtRatioAtTick(ticks[i-1])
		hi := SqrtRatioAtTick(ticks[i])
		require.True(t, lo.Cmp(hi) < 0, "ratio at %d must be below ratio at %d", ticks[i-1], ticks[i])
	}
}

func TestSqrtRatioAtTickPanicsOutOfRange(t *testing.T) {
	assert.Panics(t, func() { SqrtRatioAtTick(MaxTick + 1) })
	assert.Panics(t, func() { SqrtRatioAtTick(MinTick - 1) })
}

func TestTickAtSqrtRatioRoundTrip(t *testing.T) {
	for _, tick := range []int{MinTick, -700000, -120001, -60, -1, 0, 1, 60, 120001, 700000, MaxTick - 1} {
		ratio := SqrtRatioAtTick(tick)
		require.Equal(t, tick, TickAtSqrtRatio(ratio), "round trip tick %d", tick)

		// A ratio strictly between tick and tick+1 must floor to tick.
		next := SqrtRatioAtTick(tick + 1)
		mid := new(uint256.Int).Add(ratio, next)
		mid.Rsh(mid, 1)
		require.Equal(t, tick, TickAtSqrtRatio(mid), "midpoint above tick %d", tick)
	}
}

func TestTickAtSqrtRatioPanicsOutOfRange(t *testing.T) {
	below := new(uint256.Int).Sub(MinSqrtRatio, uint256.NewInt(1))
	assert.Panics(t, func() { TickAtSqrtRatio(below) })
	assert.Panics(t, func() { TickAtSqrtRatio(MaxSqrtRatio) })
}

func TestSpacingRounding(t *testing.T) {
	assert.Equal(t, 120, FloorToSpacing(125, 60))
	assert.Equal(t, -180, FloorToSpacing(-125, 60))
	assert.Equal(t, 120, FloorToSpacing(120, 60))
	assert.Equal(t, 180, CeilToSpacing(125, 60))
	assert.Equal(t, -120, CeilToSpacing(-125, 60))
	assert.Equal(t, -120, CeilToSpacing(-120, 60))
}
