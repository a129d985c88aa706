// Package strategy implements the grid strategy core: a price range split
// into cells, with capital rebalanced between the two assets every time
// the price crosses a full cell. Two variants share one lifecycle: the
// simple-swap grid holds plain balances, the ranged grid deploys them as
// concentrated-liquidity positions.
package strategy

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/Gridix/gridix-core/internal/accounting"
	"github.com/Gridix/gridix-core/internal/asset"
	"github.com/Gridix/gridix-core/internal/core"
	"github.com/Gridix/gridix-core/internal/custody"
	"github.com/Gridix/gridix-core/internal/oracle"
	"github.com/Gridix/gridix-core/internal/store"
	"github.com/Gridix/gridix-core/internal/venue"
)

// venueDeadline bounds how long a swap or mint request stays valid.
const venueDeadline = time.Minute

// Strategy is the lifecycle surface shared by both grid variants. The
// crank drives Activate/Rebalance; only the owner terminates.
type Strategy interface {
	ID() common.Address
	Owner() common.Address
	Status() core.Status
	Activate(ctx context.Context, caller common.Address) error
	Rebalance(ctx context.Context, caller common.Address) error
	TerminateByOwner(ctx context.Context, caller common.Address) error
	CheckRebalanceNeeded(ctx context.Context) (bool, error)
}

// FeeConfig carries the registry-level fee settings a strategy reads at
// rebalance time. ExecutionFee is a flat, per-token amount paid to the
// crank caller; SwapFeeBp is the protocol take on rebalanced value.
type FeeConfig struct {
	Sink         common.Address
	ExecutionFee map[common.Address]*uint256.Int
	SwapFeeBp    uint64
}

// FeeSource yields the current fee settings. The registry implements it
// so owner-side fee updates reach running strategies without rewiring.
type FeeSource interface {
	Fees() FeeConfig
}

// StaticFees is a fixed FeeSource for tests and single-strategy setups.
type StaticFees FeeConfig

func (s StaticFees) Fees() FeeConfig { return FeeConfig(s) }

func (f FeeConfig) executionFeeFor(token common.Address) *uint256.Int {
	if f.ExecutionFee == nil {
		return new(uint256.Int)
	}
	fee, ok := f.ExecutionFee[token]
	if !ok || fee == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(fee)
}

// Deps bundles the collaborators injected into every strategy instance.
// Custody is only required by the ranged variant.
type Deps struct {
	Oracle    oracle.PriceOracle
	Venue     venue.SwapVenue
	Custody   custody.PositionCustody
	Vault     asset.Vault
	Fees      FeeSource
	Notifier  accounting.Notifier
	Events    core.EventSink
	Persister store.Persister
	Clock     core.Clock
	Log       *zap.SugaredLogger
}

func (d Deps) withDefaults() Deps {
	if d.Fees == nil {
		d.Fees = StaticFees{}
	}
	if d.Notifier == nil {
		d.Notifier = accounting.NopNotifier{}
	}
	if d.Events == nil {
		d.Events = core.NopSink{}
	}
	if d.Clock == nil {
		d.Clock = core.SystemClock{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	return d
}

// notifyFees reports a fee event to the accounting service. Strictly
// best-effort: the notifier's error (if any) is logged and swallowed.
func notifyFees(ctx context.Context, d Deps, owner, token common.Address, value *uint256.Int) {
	if value == nil || value.IsZero() {
		return
	}
	if err := d.Notifier.Notify(ctx, owner, token, value); err != nil {
		d.Log.Warnw("accounting notify failed", "owner", owner.Hex(), "err", err)
	}
}

func persistSnapshot(d Deps, snap store.Snapshot) {
	if d.Persister == nil {
		return
	}
	if err := d.Persister.SaveSnapshot(snap); err != nil {
		d.Log.Warnw("snapshot persist failed", "strategy", snap.Strategy, "err", err)
	}
}

func recordRebalance(d Deps, rec store.RebalanceRecord) {
	if d.Persister == nil {
		return
	}
	if err := d.Persister.AppendRebalance(rec); err != nil {
		d.Log.Warnw("rebalance record failed", "strategy", rec.Strategy, "err", err)
	}
}

// minOrBalance clamps a fee amount to what the holder can actually pay.
func minOrBalance(fee, balance *uint256.Int) *uint256.Int {
	if fee.Cmp(balance) > 0 {
		return new(uint256.Int).Set(balance)
	}
	return new(uint256.Int).Set(fee)
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
