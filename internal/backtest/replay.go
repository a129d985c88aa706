package backtest

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/Gridix/gridix-core/internal/oracle"
)

// Sweeper is the crank surface a replay drives. One sweep per tick.
type Sweeper interface {
	Sweep(ctx context.Context)
}

// Replay pushes each recorded tick into the pool and sweeps the crank,
// so strategies activate, rebalance, and terminate exactly as they would
// against a live feed emitting the same prices.
type Replay struct {
	Feed    Feed
	Pool    *oracle.SimPool
	Sweeper Sweeper
	// ToEngine converts a human-quoted tick price to the engine's
	// fixed-point scale.
	ToEngine func(decimal.Decimal) (*uint256.Int, error)
}

type Result struct {
	Ticks      int
	Skipped    int
	StartTime  time.Time
	EndTime    time.Time
	StartPrice decimal.Decimal
	EndPrice   decimal.Decimal
}

func (r *Replay) Run(ctx context.Context) (Result, error) {
	var result Result
	defer r.Feed.Close()
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		tick, err := r.Feed.Next()
		if errors.Is(err, io.EOF) {
			return result, nil
		}
		if err != nil {
			return result, err
		}
		price, err := r.ToEngine(tick.Price)
		if err != nil {
			result.Skipped++
			continue
		}
		r.Pool.SetPrice(price)
		r.Sweeper.Sweep(ctx)

		if result.Ticks == 0 {
			result.StartTime = tick.Time
			result.StartPrice = tick.Price
		}
		result.Ticks++
		result.EndTime = tick.Time
		result.EndPrice = tick.Price
	}
}
