package logger

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Gridix/gridix-core/internal/core"
)

// EventSink logs strategy events as structured records. It implements
// core.EventSink and never fails the emitting operation.
type EventSink struct {
	log *zap.SugaredLogger
}

func NewEventSink(log *zap.SugaredLogger) *EventSink {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &EventSink{log: log}
}

func (s *EventSink) Emit(event any) {
	switch e := event.(type) {
	case core.StrategyActivated:
		s.log.Infow("strategy activated",
			"strategy", e.Strategy.Hex(), "price", e.Price,
			"balance_a", e.BalanceA, "balance_b", e.BalanceB)
	case core.RebalanceExecuted:
		s.log.Infow("rebalance executed",
			"strategy", e.Strategy.Hex(), "price", e.Price,
			"amount_in", e.AmountIn, "amount_out", e.AmountOut,
			"balance_a", e.BalanceA, "balance_b", e.BalanceB)
	case core.StrategyTerminated:
		s.log.Infow("strategy terminated",
			"strategy", e.Strategy.Hex(), "price", e.Price,
			"refunded_a", e.RefundedA, "refunded_b", e.RefundedB)
	case core.SlippageUpdated:
		s.log.Infow("slippage updated",
			"strategy", e.Strategy.Hex(), "old", e.Old, "new", e.New)
	case core.PositionMinted:
		s.log.Infow("position minted",
			"strategy", e.Strategy.Hex(), "handle", e.Handle,
			"tick_lower", e.TickLower, "tick_upper", e.TickUpper,
			"amount_a", e.AmountA, "amount_b", e.AmountB)
	case core.LiquidityRemoved:
		s.log.Infow("liquidity removed",
			"strategy", e.Strategy.Hex(), "handle", e.Handle,
			"amount_a", e.AmountA, "amount_b", e.AmountB)
	default:
		s.log.Debugw("event", "type", fmt.Sprintf("%T", event))
	}
}
