// Package safety trips circuit breakers around the external boundaries
// of the crank daemon: oracle reads, venue swaps and custody calls.
// Consecutive failures open a circuit; after a cooldown one probe call is
// let through, and a success closes it again.
package safety

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/Gridix/gridix-core/internal/custody"
	"github.com/Gridix/gridix-core/internal/venue"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type circuitState string

const (
	circuitClosed   circuitState = "closed"
	circuitOpen     circuitState = "open"
	circuitHalfOpen circuitState = "half_open"
)

const (
	defaultCooldown          = 30 * time.Second
	defaultHalfOpenSuccesses = 1
)

type circuit struct {
	name            string
	maxFailures     int
	failures        int
	state           circuitState
	openedAt        time.Time
	openErr         error
	halfOpenSuccess int
}

type Breaker struct {
	enabled bool

	mu      sync.Mutex
	oracle  circuit
	swap    circuit
	custody circuit

	cooldown          time.Duration
	halfOpenSuccesses int

	log *zap.SugaredLogger
}

func NewBreaker(enabled bool, maxOracle, maxSwap, maxCustody int, log *zap.SugaredLogger) *Breaker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Breaker{
		enabled:           enabled,
		oracle:            circuit{name: "oracle", maxFailures: maxOracle, state: circuitClosed},
		swap:              circuit{name: "swap", maxFailures: maxSwap, state: circuitClosed},
		custody:           circuit{name: "custody", maxFailures: maxCustody, state: circuitClosed},
		cooldown:          defaultCooldown,
		halfOpenSuccesses: defaultHalfOpenSuccesses,
		log:               log,
	}
}

// SetRecovery tunes the open->half-open cooldown and how many half-open
// probes must succeed before a circuit closes.
func (b *Breaker) SetRecovery(cooldown time.Duration, halfOpenSuccesses int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if halfOpenSuccesses < 1 {
		halfOpenSuccesses = defaultHalfOpenSuccesses
	}
	b.cooldown = cooldown
	b.halfOpenSuccesses = halfOpenSuccesses
}

func (b *Breaker) RecordOracle(err error) error  { return b.record(&b.oracle, err) }
func (b *Breaker) RecordSwap(err error) error    { return b.record(&b.swap, err) }
func (b *Breaker) RecordCustody(err error) error { return b.record(&b.custody, err) }

// AllowOracle reports whether an oracle call may proceed, moving an open
// circuit to half-open once the cooldown has elapsed.
func (b *Breaker) AllowOracle() error  { return b.allow(&b.oracle) }
func (b *Breaker) AllowSwap() error    { return b.allow(&b.swap) }
func (b *Breaker) AllowCustody() error { return b.allow(&b.custody) }

// CooldownRemaining reports how long the oracle circuit stays open.
func (b *Breaker) CooldownRemaining() time.Duration {
	if b == nil || !b.enabled {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.oracle.state != circuitOpen {
		return 0
	}
	elapsed := time.Since(b.oracle.openedAt)
	if elapsed >= b.cooldown {
		return 0
	}
	return b.cooldown - elapsed
}

func (b *Breaker) allow(c *circuit) error {
	if b == nil || !b.enabled {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.state != circuitOpen {
		return nil
	}
	if time.Now().UTC().Sub(c.openedAt) < b.cooldown {
		if c.openErr != nil {
			return c.openErr
		}
		return fmt.Errorf("%w: %s circuit is open", ErrCircuitOpen, c.name)
	}
	c.state = circuitHalfOpen
	c.halfOpenSuccess = 0
	c.failures = 0
	c.openErr = nil
	b.log.Infow("circuit half-open", "action", c.name, "cooldown", b.cooldown)
	return nil
}

func (b *Breaker) record(c *circuit, err error) error {
	if b == nil || !b.enabled || c.maxFailures < 1 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch c.state {
		case circuitHalfOpen:
			c.halfOpenSuccess++
			if c.halfOpenSuccess >= b.halfOpenSuccesses {
				b.log.Infow("circuit recovered", "action", c.name, "previous_failures", c.failures)
				c.state = circuitClosed
				c.failures = 0
				c.openErr = nil
				c.openedAt = time.Time{}
				c.halfOpenSuccess = 0
			}
		case circuitClosed:
			c.failures = 0
		}
		return nil
	}

	switch c.state {
	case circuitOpen:
		if c.openErr == nil {
			c.openErr = fmt.Errorf("%w: %s circuit is open", ErrCircuitOpen, c.name)
		}
		return c.openErr
	case circuitHalfOpen:
		return b.tripLocked(c, err, "half_open_probe_failed")
	}

	c.failures++
	if c.failures < c.maxFailures {
		if c.failures == c.maxFailures-1 {
			b.log.Warnw("circuit near trip",
				"action", c.name, "consecutive_failures", c.failures,
				"threshold", c.maxFailures, "last_error", err.Error())
		}
		return nil
	}
	return b.tripLocked(c, err, "consecutive_failures")
}

func (b *Breaker) tripLocked(c *circuit, err error, reason string) error {
	c.state = circuitOpen
	c.openedAt = time.Now().UTC()
	c.halfOpenSuccess = 0
	c.openErr = fmt.Errorf("%w: %s failed %d consecutive times, cooldown=%s, reason=%s, last error: %v",
		ErrCircuitOpen, c.name, c.failures, b.cooldown, reason, err)
	b.log.Errorw("circuit tripped",
		"action", c.name, "consecutive_failures", c.failures,
		"threshold", c.maxFailures, "reason", reason, "last_error", err.Error())
	return c.openErr
}

// GuardedVenue runs swaps through the breaker: calls are refused while
// the swap circuit is open, and every outcome feeds the failure count.
type GuardedVenue struct {
	inner   venue.SwapVenue
	breaker *Breaker
}

func NewGuardedVenue(inner venue.SwapVenue, breaker *Breaker) *GuardedVenue {
	return &GuardedVenue{inner: inner, breaker: breaker}
}

func (v *GuardedVenue) Swap(ctx context.Context, req venue.SwapRequest) (*uint256.Int, error) {
	if err := v.breaker.AllowSwap(); err != nil {
		return nil, err
	}
	out, err := v.inner.Swap(ctx, req)
	if trip := v.breaker.RecordSwap(err); trip != nil {
		return out, trip
	}
	return out, err
}

// GuardedCustody wraps position custody the same way.
type GuardedCustody struct {
	inner   custody.PositionCustody
	breaker *Breaker
}

func NewGuardedCustody(inner custody.PositionCustody, breaker *Breaker) *GuardedCustody {
	return &GuardedCustody{inner: inner, breaker: breaker}
}

func (g *GuardedCustody) Mint(ctx context.Context, req custody.MintRequest) (custody.Handle, *uint256.Int, *uint256.Int, error) {
	if err := g.breaker.AllowCustody(); err != nil {
		return 0, nil, nil, err
	}
	h, a, bAmt, err := g.inner.Mint(ctx, req)
	if trip := g.breaker.RecordCustody(err); trip != nil {
		return h, a, bAmt, trip
	}
	return h, a, bAmt, err
}

func (g *GuardedCustody) WithdrawAll(ctx context.Context, h custody.Handle) (*uint256.Int, *uint256.Int, error) {
	if err := g.breaker.AllowCustody(); err != nil {
		return nil, nil, err
	}
	a, bAmt, err := g.inner.WithdrawAll(ctx, h)
	if trip := g.breaker.RecordCustody(err); trip != nil {
		return a, bAmt, trip
	}
	return a, bAmt, err
}

func (g *GuardedCustody) PositionAmounts(ctx context.Context, h custody.Handle) (*uint256.Int, *uint256.Int, error) {
	// Read-only; never counted against the circuit.
	return g.inner.PositionAmounts(ctx, h)
}
