package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Gridix/gridix-core/internal/asset"
	"github.com/Gridix/gridix-core/internal/core"
	"github.com/Gridix/gridix-core/internal/custody"
	"github.com/Gridix/gridix-core/internal/grid"
	"github.com/Gridix/gridix-core/internal/oracle"
	"github.com/Gridix/gridix-core/internal/venue"
)

type rangedFixture struct {
	pool    *oracle.SimPool
	vault   *asset.MemoryVault
	custody *custody.SimCustody
	grid    *RangedGrid
}

func newRangedFixture(t *testing.T, price, trigger *uint256.Int, fees FeeConfig) *rangedFixture {
	t.Helper()
	pair := testPair()
	pool := oracle.NewSimPool(addrTokenA, addrTokenB, 3000, price)
	vault := asset.NewMemoryVault()
	router := venue.NewSimRouter(pair, pool, vault, 0)
	cust := custody.NewSimCustody(pair, pool, vault)

	scheme, err := grid.New(e18(1000), e18(2000), 10, e18(1000), nil, trigger)
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	g, err := NewRangedGrid(addrGrid, addrOwner, pair, scheme, 500, 60, Deps{
		Oracle:  pool,
		Venue:   router,
		Custody: cust,
		Vault:   vault,
		Fees:    StaticFees(fees),
	})
	if err != nil {
		t.Fatalf("NewRangedGrid: %v", err)
	}
	vault.Mint(addrTokenA, addrGrid, e18(1000))
	return &rangedFixture{pool: pool, vault: vault, custody: cust, grid: g}
}

func TestRangedGridActivation(t *testing.T) {
	f := newRangedFixture(t, e18(1500), e18(1500), FeeConfig{})
	ctx := context.Background()

	if err := f.grid.Activate(ctx, addrCrank); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if got := f.grid.Status(); got != core.StatusActive {
		t.Fatalf("status = %s, want ACTIVE", got)
	}
	// anchor = P - gridPrice/2 = 1500 - 50.
	if got := f.grid.Anchor(); got.Cmp(e18(1450)) != 0 {
		t.Fatalf("anchor = %s, want 1450e18", got.Dec())
	}

	lower, upper := f.grid.Positions()
	if lower == 0 {
		t.Fatal("lower position was not minted")
	}
	if upper != 0 {
		t.Fatal("upper position minted with no B capital")
	}

	// Nearly all A capital went into the lower position.
	amountA, amountB, err := f.custody.PositionAmounts(ctx, lower)
	if err != nil {
		t.Fatalf("PositionAmounts: %v", err)
	}
	if amountA.Cmp(e18(990)) < 0 {
		t.Fatalf("position holds %s A, want ~1000e18", amountA.Dec())
	}
	if !amountB.IsZero() {
		t.Fatalf("position below price holds B: %s", amountB.Dec())
	}
}

func TestRangedGridActivationNoMargin(t *testing.T) {
	// Price 1100 puts the anchor at 1050, inside the one-cell margin
	// above the lower bound.
	f := newRangedFixture(t, e18(1100), e18(1100), FeeConfig{})
	err := f.grid.Activate(context.Background(), addrCrank)
	if !errors.Is(err, core.ErrNoMargin) {
		t.Fatalf("err = %v, want ErrNoMargin", err)
	}
	if got := f.grid.Status(); got != core.StatusInactive {
		t.Fatalf("status = %s, want INACTIVE", got)
	}

	// Near the top: anchor+2 cells would poke past the upper bound.
	f = newRangedFixture(t, e18(1900), e18(1900), FeeConfig{})
	err = f.grid.Activate(context.Background(), addrCrank)
	if !errors.Is(err, core.ErrNoMargin) {
		t.Fatalf("err = %v, want ErrNoMargin", err)
	}
}

func TestRangedGridRebalanceUp(t *testing.T) {
	f := newRangedFixture(t, e18(1500), e18(1500), FeeConfig{})
	ctx := context.Background()
	if err := f.grid.Activate(ctx, addrCrank); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	oldLower, _ := f.grid.Positions()

	// 1650 is exactly anchor+2 cells: still inside the hold band.
	f.pool.SetPrice(e18(1650))
	if err := f.grid.Rebalance(ctx, addrCrank); !errors.Is(err, core.ErrNotEnoughMovement) {
		t.Fatalf("at 1650: err = %v, want ErrNotEnoughMovement", err)
	}

	f.pool.SetPrice(e18(1700))
	if err := f.grid.Rebalance(ctx, addrCrank); err != nil {
		t.Fatalf("Rebalance: %v", err)
	}
	// Up-move re-anchors one cell under the new price.
	if got := f.grid.Anchor(); got.Cmp(e18(1600)) != 0 {
		t.Fatalf("anchor = %s, want 1600e18", got.Dec())
	}
	lower, _ := f.grid.Positions()
	if lower == 0 || lower == oldLower {
		t.Fatalf("lower position not re-minted: %d -> %d", oldLower, lower)
	}
}

func TestRangedGridRebalanceDown(t *testing.T) {
	f := newRangedFixture(t, e18(1500), e18(1500), FeeConfig{})
	ctx := context.Background()
	if err := f.grid.Activate(ctx, addrCrank); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	// 1360 is above anchor-gridPrice (1350): inside the hold band.
	f.pool.SetPrice(e18(1360))
	if err := f.grid.Rebalance(ctx, addrCrank); !errors.Is(err, core.ErrNotEnoughMovement) {
		t.Fatalf("at 1360: err = %v, want ErrNotEnoughMovement", err)
	}

	f.pool.SetPrice(e18(1300))
	if err := f.grid.Rebalance(ctx, addrCrank); err != nil {
		t.Fatalf("Rebalance: %v", err)
	}
	// Down-move re-anchors at the new price.
	if got := f.grid.Anchor(); got.Cmp(e18(1300)) != 0 {
		t.Fatalf("anchor = %s, want 1300e18", got.Dec())
	}
	// At 1300 the old [1000, 1450] position was partly converted into B,
	// so both sides redeploy.
	lower, upper := f.grid.Positions()
	if lower == 0 {
		t.Fatal("lower position missing after down-move")
	}
	if upper == 0 {
		t.Fatal("upper position missing after down-move")
	}
}

func TestRangedGridRebalanceFeesOnGrownSide(t *testing.T) {
	fees := FeeConfig{
		Sink:         addrSink,
		ExecutionFee: map[common.Address]*uint256.Int{addrTokenA: e18(1)},
		SwapFeeBp:    10,
	}
	f := newRangedFixture(t, e18(1500), e18(1500), fees)
	ctx := context.Background()
	if err := f.grid.Activate(ctx, addrCrank); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	// 1% accrued yield makes the withdrawn A side exceed its deposit.
	f.custody.SetYield(100)
	f.pool.SetPrice(e18(1700))
	if err := f.grid.Rebalance(ctx, addrCrank); err != nil {
		t.Fatalf("Rebalance: %v", err)
	}

	if got := f.vault.BalanceOf(addrTokenA, addrCrank); got.Cmp(e18(1)) != 0 {
		t.Fatalf("caller execution fee = %s, want 1e18", got.Dec())
	}
	if got := f.vault.BalanceOf(addrTokenA, addrSink); got.IsZero() {
		t.Fatal("sink received no swap fee on grown side")
	}
}

// flakyCustody fails the nth Mint call and delegates everything else.
type flakyCustody struct {
	custody.PositionCustody
	calls    int
	failCall int
}

func (c *flakyCustody) Mint(ctx context.Context, req custody.MintRequest) (custody.Handle, *uint256.Int, *uint256.Int, error) {
	c.calls++
	if c.calls == c.failCall {
		return 0, nil, nil, errors.New("position manager rejected mint")
	}
	return c.PositionCustody.Mint(ctx, req)
}

func TestRangedGridRebalanceMintFailureRetries(t *testing.T) {
	pair := testPair()
	pool := oracle.NewSimPool(addrTokenA, addrTokenB, 3000, e18(1500))
	vault := asset.NewMemoryVault()
	router := venue.NewSimRouter(pair, pool, vault, 0)
	flaky := &flakyCustody{PositionCustody: custody.NewSimCustody(pair, pool, vault)}

	scheme, err := grid.New(e18(1000), e18(2000), 10, e18(1000), nil, e18(1500))
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	g, err := NewRangedGrid(addrGrid, addrOwner, pair, scheme, 500, 60, Deps{
		Oracle:  pool,
		Venue:   router,
		Custody: flaky,
		Vault:   vault,
		Fees:    StaticFees(FeeConfig{Sink: addrSink, SwapFeeBp: 10}),
	})
	if err != nil {
		t.Fatalf("NewRangedGrid: %v", err)
	}
	vault.Mint(addrTokenA, addrGrid, e18(1000))
	ctx := context.Background()
	if err := g.Activate(ctx, addrCrank); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	// The up-move withdraws the lower position and re-mints it one cell
	// under the new price; make that mint fail.
	flaky.failCall = flaky.calls + 1
	pool.SetPrice(e18(1700))
	if err := g.Rebalance(ctx, addrCrank); err == nil {
		t.Fatal("Rebalance succeeded through a failing mint")
	}
	if got := g.Status(); got != core.StatusActive {
		t.Fatalf("status = %s, want ACTIVE", got)
	}
	// The anchor must not advance, or the withdrawn balance would idle
	// until the price moved another full cell.
	if got := g.Anchor(); got.Cmp(e18(1450)) != 0 {
		t.Fatalf("anchor after failed mint = %s, want 1450e18", got.Dec())
	}
	if need, err := g.CheckRebalanceNeeded(ctx); err != nil || !need {
		t.Fatalf("CheckRebalanceNeeded = %v, %v; want true", need, err)
	}

	// The next sweep redeploys the withdrawn balance. No holdings grew
	// across the failure, so the sink must collect nothing.
	if err := g.Rebalance(ctx, addrCrank); err != nil {
		t.Fatalf("retry Rebalance: %v", err)
	}
	if got := g.Anchor(); got.Cmp(e18(1600)) != 0 {
		t.Fatalf("anchor after retry = %s, want 1600e18", got.Dec())
	}
	if lower, _ := g.Positions(); lower == 0 {
		t.Fatal("lower position missing after retry")
	}
	if got := vault.BalanceOf(addrTokenA, addrSink); !got.IsZero() {
		t.Fatalf("sink charged %s A with no growth", got.Dec())
	}
}

func TestRangedGridForceTermination(t *testing.T) {
	f := newRangedFixture(t, e18(1500), e18(1500), FeeConfig{})
	ctx := context.Background()
	if err := f.grid.Activate(ctx, addrCrank); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	f.pool.SetPrice(e18(2500))
	if err := f.grid.Rebalance(ctx, addrCrank); err != nil {
		t.Fatalf("Rebalance: %v", err)
	}
	if got := f.grid.Status(); got != core.StatusClosed {
		t.Fatalf("status = %s, want CLOSED", got)
	}
	lower, upper := f.grid.Positions()
	if lower != 0 || upper != 0 {
		t.Fatalf("positions survived termination: %d, %d", lower, upper)
	}
	if got := f.vault.BalanceOf(addrTokenA, addrOwner); got.IsZero() {
		t.Fatal("owner received nothing")
	}
	if got := f.vault.BalanceOf(addrTokenA, addrGrid); !got.IsZero() {
		t.Fatalf("strategy kept %s A after termination", got.Dec())
	}
}

func TestRangedGridTerminateInactiveRefund(t *testing.T) {
	f := newRangedFixture(t, e18(1500), e18(1500), FeeConfig{})
	ctx := context.Background()

	if err := f.grid.TerminateByOwner(ctx, addrCrank); !errors.Is(err, core.ErrNotOwner) {
		t.Fatalf("non-owner: err = %v, want ErrNotOwner", err)
	}
	if err := f.grid.TerminateByOwner(ctx, addrOwner); err != nil {
		t.Fatalf("TerminateByOwner: %v", err)
	}
	if got := f.grid.Status(); got != core.StatusClosed {
		t.Fatalf("status = %s, want CLOSED", got)
	}
	if got := f.vault.BalanceOf(addrTokenA, addrOwner); got.Cmp(e18(1000)) != 0 {
		t.Fatalf("owner refund = %s, want 1000e18", got.Dec())
	}
	if err := f.grid.TerminateByOwner(ctx, addrOwner); !errors.Is(err, core.ErrClosed) {
		t.Fatalf("second terminate: err = %v, want ErrClosed", err)
	}
}

func TestRangedGridRequiresCustody(t *testing.T) {
	pair := testPair()
	scheme, err := grid.New(e18(1000), e18(2000), 10, e18(1000), nil, e18(1500))
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	_, err = NewRangedGrid(addrGrid, addrOwner, pair, scheme, 500, 60, Deps{
		Oracle: oracle.NewSimPool(addrTokenA, addrTokenB, 3000, e18(1500)),
		Vault:  asset.NewMemoryVault(),
	})
	if err == nil {
		t.Fatal("expected constructor to reject missing custody")
	}
}
