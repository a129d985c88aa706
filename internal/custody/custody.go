// Package custody is the boundary to the concentrated-liquidity position
// manager: it mints fee-bearing ranged positions from plain balances and
// later unwinds them, identified only by an opaque handle.
package custody

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrUnknownHandle   = errors.New("custody: unknown position handle")
	ErrDeadlineElapsed = errors.New("custody: deadline elapsed")
	ErrBelowMinimum    = errors.New("custody: minted amounts below minimum")
)

// Handle opaquely identifies a ranged position.
type Handle uint64

// MintRequest funds a position over [TickLower, TickUpper]. Amounts are in
// pair terms: A is token1, B is token0.
type MintRequest struct {
	AmountADesired *uint256.Int
	AmountBDesired *uint256.Int
	AmountAMin     *uint256.Int
	AmountBMin     *uint256.Int
	TickLower      int
	TickUpper      int
	Payer          common.Address
	Deadline       time.Time
}

// PositionCustody mints and unwinds ranged positions.
type PositionCustody interface {
	Mint(ctx context.Context, req MintRequest) (Handle, *uint256.Int, *uint256.Int, error)
	// WithdrawAll burns the position's full liquidity and collects accrued
	// yield, returning both as plain (amountA, amountB) balances.
	WithdrawAll(ctx context.Context, h Handle) (*uint256.Int, *uint256.Int, error)
	// PositionAmounts values the position at the current pool price without
	// touching it. Read-only, for inspection.
	PositionAmounts(ctx context.Context, h Handle) (*uint256.Int, *uint256.Int, error)
}
