// Package grid holds the immutable configuration of a grid strategy:
// a price range split into equal-width cells.
package grid

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrInvalidRange     = errors.New("grid: lower price must be below upper price")
	ErrZeroGridCount    = errors.New("grid: grid count must be positive")
	ErrDegenerateCell   = errors.New("grid: cell width must be positive")
	ErrMissingTrigger   = errors.New("grid: trigger price required")
	ErrTriggerOutOfBand = errors.New("grid: trigger price outside range")
)

// Scheme is fixed at creation; only TotalInvestment is rewritten, once,
// by the strategy at activation.
type Scheme struct {
	LowerPrice *uint256.Int
	UpperPrice *uint256.Int
	GridCount  uint64

	// TotalInvestment is asset-A-denominated capital committed.
	TotalInvestment *uint256.Int
	// ExtraTokenBAmount is supplemental asset-B capital contributed at
	// creation (simple-swap variant).
	ExtraTokenBAmount *uint256.Int
	// TriggerPrice gates which side must be non-zero before activation.
	TriggerPrice *uint256.Int
}

// New validates and normalizes a scheme. Nil amounts become zero.
func New(lower, upper *uint256.Int, gridCount uint64, totalInvestment, extraTokenB, trigger *uint256.Int) (Scheme, error) {
	s := Scheme{
		LowerPrice:        clone(lower),
		UpperPrice:        clone(upper),
		GridCount:         gridCount,
		TotalInvestment:   clone(totalInvestment),
		ExtraTokenBAmount: clone(extraTokenB),
		TriggerPrice:      clone(trigger),
	}
	if s.LowerPrice.IsZero() || s.LowerPrice.Cmp(s.UpperPrice) >= 0 {
		return Scheme{}, ErrInvalidRange
	}
	if s.GridCount == 0 {
		return Scheme{}, ErrZeroGridCount
	}
	if s.GridPrice().IsZero() {
		return Scheme{}, ErrDegenerateCell
	}
	if s.TriggerPrice.IsZero() {
		return Scheme{}, ErrMissingTrigger
	}
	if s.TriggerPrice.Cmp(s.LowerPrice) < 0 || s.TriggerPrice.Cmp(s.UpperPrice) > 0 {
		return Scheme{}, ErrTriggerOutOfBand
	}
	return s, nil
}

// GridPrice is the cell width: (upper - lower) / gridCount, truncating.
func (s Scheme) GridPrice() *uint256.Int {
	width := new(uint256.Int).Sub(s.UpperPrice, s.LowerPrice)
	return width.Div(width, uint256.NewInt(s.GridCount))
}

// Contains reports whether p lies inside [lower, upper].
func (s Scheme) Contains(p *uint256.Int) bool {
	return p.Cmp(s.LowerPrice) >= 0 && p.Cmp(s.UpperPrice) <= 0
}

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
