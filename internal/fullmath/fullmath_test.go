package fullmath

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refMulDiv(a, b, d *uint256.Int) (*big.Int, bool) {
	prod := new(big.Int).Mul(a.ToBig(), b.ToBig())
	q := prod.Quo(prod, d.ToBig())
	return q, q.BitLen() <= 256
}

func randomInt(r *rand.Rand, maxBits int) *uint256.Int {
	bits := 1 + r.Intn(maxBits)
	buf := make([]byte, (bits+7)/8)
	r.Read(buf)
	out := new(uint256.Int).SetBytes(buf)
	if out.IsZero() {
		out.SetUint64(1)
	}
	return out
}

func TestMulDivSmallValues(t *testing.T) {
	cases := []struct {
		a, b, d, want uint64
	}{
		{6, 7, 2, 21},
		{7, 7, 2, 24}, // truncates
		{0, 5, 3, 0},
		{1000, 1000, 1, 1000000},
		{5, 5, 26, 0},
	}
	for _, tc := range cases {
		got := MulDiv(uint256.NewInt(tc.a), uint256.NewInt(tc.b), uint256.NewInt(tc.d))
		assert.Equal(t, tc.want, got.Uint64(), "MulDiv(%d,%d,%d)", tc.a, tc.b, tc.d)
	}
}

func TestMulDivOverflowingIntermediate(t *testing.T) {
	// a*b needs 512 bits but the quotient fits.
	a := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	b := new(uint256.Int).Lsh(uint256.NewInt(3), 200)
	d := new(uint256.Int).Lsh(uint256.NewInt(1), 180)

	want, ok := refMulDiv(a, b, d)
	require.True(t, ok)
	got := MulDiv(a, b, d)
	assert.Equal(t, want.String(), got.ToBig().String())
}

func TestMulDivMatchesBigIntReference(t *testing.T) {
	r := rand.New(rand.NewSource(0x9dd5))
	for i := 0; i < 5000; i++ {
		a := randomInt(r, 256)
		b := randomInt(r, 256)
		d := randomInt(r, 256)
		want, fits := refMulDiv(a, b, d)
		if !fits {
			assert.Panics(t, func() { MulDiv(a, b, d) })
			continue
		}
		got := MulDiv(a, b, d)
		require.Equal(t, want.String(), got.ToBig().String(),
			"MulDiv(%s, %s, %s)", a.Dec(), b.Dec(), d.Dec())
	}
}

func TestMulDivRoundingUp(t *testing.T) {
	got := MulDivRoundingUp(uint256.NewInt(7), uint256.NewInt(7), uint256.NewInt(2))
	assert.Equal(t, uint64(25), got.Uint64())

	// Exact division must not round.
	got = MulDivRoundingUp(uint256.NewInt(6), uint256.NewInt(7), uint256.NewInt(2))
	assert.Equal(t, uint64(21), got.Uint64())
}

func TestMulDivRoundingUpMatchesBigIntReference(t *testing.T) {
	r := rand.New(rand.NewSource(0x517e))
	for i := 0; i < 2000; i++ {
		a := randomInt(r, 192)
		b := randomInt(r, 192)
		d := randomInt(r, 200)
		prod := new(big.Int).Mul(a.ToBig(), b.ToBig())
		want, rem := new(big.Int).QuoRem(prod, d.ToBig(), new(big.Int))
		if rem.Sign() != 0 {
			want.Add(want, big.NewInt(1))
		}
		if want.BitLen() > 256 {
			continue
		}
		got := MulDivRoundingUp(a, b, d)
		require.Equal(t, want.String(), got.ToBig().String())
	}
}

func TestMulDivPanicsOnZeroDenominator(t *testing.T) {
	assert.Panics(t, func() {
		MulDiv(uint256.NewInt(1), uint256.NewInt(1), uint256.NewInt(0))
	})
}

func TestMulDivPanicsOnQuotientOverflow(t *testing.T) {
	assert.Panics(t, func() {
		MulDiv(maxUint256, maxUint256, uint256.NewInt(1))
	})
}
