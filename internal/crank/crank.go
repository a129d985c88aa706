// Package crank drives strategies the way permissionless keeper bots
// would on-chain: it periodically tries to activate inactive grids and
// rebalance active ones, collecting the execution fee for its caller.
package crank

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Gridix/gridix-core/internal/core"
	"github.com/Gridix/gridix-core/internal/oracle"
	"github.com/Gridix/gridix-core/internal/safety"
	"github.com/Gridix/gridix-core/internal/store"
	"github.com/Gridix/gridix-core/internal/strategy"
)

// Source yields the strategies to drive. The registry implements it.
type Source interface {
	Strategies() []strategy.Strategy
}

type Config struct {
	// Interval between sweeps. Zero means the default 5s.
	Interval time.Duration
	// Caller is the keeper identity credited with execution fees.
	Caller common.Address
}

type Crank struct {
	src      Source
	breaker  *safety.Breaker
	store    *store.Store
	log      *zap.SugaredLogger
	interval time.Duration
	caller   common.Address
	// wake triggers an immediate sweep, e.g. from a price feed tick.
	wake chan struct{}

	startedAt time.Time
}

func New(src Source, breaker *safety.Breaker, st *store.Store, log *zap.SugaredLogger, cfg Config) *Crank {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Crank{
		src:      src,
		breaker:  breaker,
		store:    st,
		log:      log,
		interval: interval,
		caller:   cfg.Caller,
		wake:     make(chan struct{}, 1),
	}
}

// Wake schedules an immediate sweep. Safe to call from any goroutine;
// coalesces when a sweep is already pending.
func (c *Crank) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// WatchFeed wakes the crank on every pushed price update. Runs until the
// feed channel closes or ctx is done.
func (c *Crank) WatchFeed(ctx context.Context, updates <-chan oracle.PriceUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			c.Wake()
		}
	}
}

// Run sweeps all strategies on every tick until ctx is cancelled.
func (c *Crank) Run(ctx context.Context) error {
	c.startedAt = time.Now().UTC()
	c.saveStatus("running", "")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.saveStatus("stopped", "")
			return ctx.Err()
		case <-ticker.C:
		case <-c.wake:
		}
		c.Sweep(ctx)
	}
}

// Sweep visits every strategy once. Guard failures are the expected
// steady state of speculative cranking and only get debug logs; oracle
// failures feed the breaker.
func (c *Crank) Sweep(ctx context.Context) {
	if c.breaker != nil {
		if err := c.breaker.AllowOracle(); err != nil {
			c.log.Debugw("sweep skipped", "reason", err)
			c.saveStatus("degraded", err.Error())
			return
		}
	}

	var lastErr string
	for _, st := range c.src.Strategies() {
		if err := c.drive(ctx, st); err != nil {
			lastErr = err.Error()
		}
		if ctx.Err() != nil {
			return
		}
	}
	state := "running"
	if lastErr != "" {
		state = "degraded"
	}
	c.saveStatus(state, lastErr)
}

func (c *Crank) drive(ctx context.Context, st strategy.Strategy) error {
	switch st.Status() {
	case core.StatusInactive:
		err := st.Activate(ctx, c.caller)
		return c.classify(st, "activate", err)
	case core.StatusActive:
		need, err := st.CheckRebalanceNeeded(ctx)
		if err != nil {
			return c.classify(st, "check", err)
		}
		if !need {
			return nil
		}
		err = st.Rebalance(ctx, c.caller)
		return c.classify(st, "rebalance", err)
	default:
		return nil
	}
}

// classify maps an operation error to its log level and breaker circuit.
func (c *Crank) classify(st strategy.Strategy, op string, err error) error {
	id := st.ID().Hex()
	switch {
	case err == nil:
		if c.breaker != nil {
			_ = c.breaker.RecordOracle(nil)
		}
		return nil
	case errors.Is(err, core.ErrNotEnoughMovement),
		errors.Is(err, core.ErrNotActive),
		errors.Is(err, core.ErrClosed),
		errors.Is(err, core.ErrNoMargin):
		// Expected under speculative cranking; retried next sweep.
		c.log.Debugw("guard failure", "strategy", id, "op", op, "err", err)
		return nil
	case errors.Is(err, oracle.ErrNoPool):
		c.log.Errorw("oracle failure", "strategy", id, "op", op, "err", err)
		if c.breaker != nil {
			if trip := c.breaker.RecordOracle(err); trip != nil {
				return trip
			}
		}
		return err
	default:
		c.log.Warnw("operation failed", "strategy", id, "op", op, "err", err)
		return err
	}
}

func (c *Crank) saveStatus(state, lastErr string) {
	if c.store == nil {
		return
	}
	err := c.store.SaveRuntimeStatus(store.RuntimeStatus{
		Mode:       "crank",
		PID:        os.Getpid(),
		State:      state,
		Strategies: len(c.src.Strategies()),
		StartedAt:  c.startedAt,
		LastError:  lastErr,
	})
	if err != nil {
		c.log.Warnw("runtime status persist failed", "err", err)
	}
}
