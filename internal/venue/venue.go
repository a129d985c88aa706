// Package venue is the swap-execution boundary: a router exchanges one
// asset for another under a minimum-output bound.
package venue

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientOutput means the execution result fell below the
	// caller's minimum-out bound.
	ErrInsufficientOutput = errors.New("venue: insufficient output amount")
	// ErrDeadlineElapsed means the request's deadline passed before execution.
	ErrDeadlineElapsed = errors.New("venue: deadline elapsed")
	// ErrUnknownPair means the venue has no route for the token pair.
	ErrUnknownPair = errors.New("venue: unknown pair")
)

// SwapRequest is a one-directional exchange of TokenIn for TokenOut.
type SwapRequest struct {
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *uint256.Int
	MinAmountOut *uint256.Int
	Payer        common.Address
	Recipient    common.Address
	Deadline     time.Time
}

// SwapVenue executes swaps. The strategy core depends only on this
// interface, never on a concrete router.
type SwapVenue interface {
	Swap(ctx context.Context, req SwapRequest) (*uint256.Int, error)
}
