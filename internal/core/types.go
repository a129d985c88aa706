package core

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Status is the lifecycle state of a grid strategy. Transitions are
// monotonic: Inactive -> Active -> Closed, or Inactive -> Closed directly.
type Status string

const (
	StatusInactive Status = "INACTIVE"
	StatusActive   Status = "ACTIVE"
	StatusClosed   Status = "CLOSED"
)

// Token identifies an asset held or traded by a strategy.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// Pair is the two assets a grid strategy trades between. Prices are
// quoted as units of A per one unit of B, scaled by PriceScale.
type Pair struct {
	A Token
	B Token
}

const (
	// SlippageScale is the denominator for slippage tolerances:
	// 20000/100000 == 20%.
	SlippageScale = 100_000
	// MaxSlippage caps the owner-settable slippage tolerance at 20%.
	MaxSlippage = 20_000
	// MaxDefaultSlippage caps the registry-wide default at 2%; individual
	// strategies may opt in to a wider bound via SetSlippage.
	MaxDefaultSlippage = 2_000
	// SwapFeeScale is the basis-point denominator for the protocol swap fee.
	SwapFeeScale = 10_000
	// MaxSwapFeeBp caps the protocol swap fee at 10 bp.
	MaxSwapFeeBp = 10
)

// PriceScale returns the fixed-point price unit (1e18).
func PriceScale() *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(18))
}

// ValueAt returns the asset-A value of the combined balances at price p:
// balA + balB*p/1e18, truncating.
func ValueAt(balA, balB, p *uint256.Int) *uint256.Int {
	v := new(uint256.Int).Mul(balB, p)
	v.Div(v, PriceScale())
	return v.Add(v, balA)
}

// MinOut applies a slippage tolerance to a theoretical swap output:
// out*(SlippageScale-slippage)/SlippageScale, truncating.
func MinOut(theoretical *uint256.Int, slippage uint64) *uint256.Int {
	if slippage > MaxSlippage {
		slippage = MaxSlippage
	}
	out := new(uint256.Int).Mul(theoretical, uint256.NewInt(SlippageScale-slippage))
	return out.Div(out, uint256.NewInt(SlippageScale))
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
