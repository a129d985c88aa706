package core

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Events are audit/telemetry records, never control flow. Sinks must not
// fail a strategy operation.

type StrategyActivated struct {
	Strategy common.Address
	Price    *uint256.Int
	BalanceA *uint256.Int
	BalanceB *uint256.Int
	At       time.Time
}

type RebalanceExecuted struct {
	Strategy common.Address
	Price    *uint256.Int
	AmountIn *uint256.Int
	// AmountOut is net of execution and swap fees.
	AmountOut *uint256.Int
	BalanceA  *uint256.Int
	BalanceB  *uint256.Int
	At        time.Time
}

type StrategyTerminated struct {
	Strategy  common.Address
	Price     *uint256.Int
	RefundedA *uint256.Int
	RefundedB *uint256.Int
	At        time.Time
}

type SlippageUpdated struct {
	Strategy common.Address
	Old, New uint64
	At       time.Time
}

type PositionMinted struct {
	Strategy             common.Address
	Handle               uint64
	TickLower, TickUpper int
	AmountA, AmountB     *uint256.Int
	At                   time.Time
}

type LiquidityRemoved struct {
	Strategy         common.Address
	Handle           uint64
	AmountA, AmountB *uint256.Int
	At               time.Time
}

// EventSink receives strategy events.
type EventSink interface {
	Emit(event any)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(any) {}
