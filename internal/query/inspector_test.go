package query

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Gridix/gridix-core/internal/asset"
	"github.com/Gridix/gridix-core/internal/core"
	"github.com/Gridix/gridix-core/internal/custody"
	"github.com/Gridix/gridix-core/internal/grid"
	"github.com/Gridix/gridix-core/internal/oracle"
	"github.com/Gridix/gridix-core/internal/strategy"
	"github.com/Gridix/gridix-core/internal/venue"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	owner  = common.HexToAddress("0x0000000000000000000000000000000000000031")
	gridID = common.HexToAddress("0x0000000000000000000000000000000000000032")
	keeper = common.HexToAddress("0x0000000000000000000000000000000000000033")
)

func e18(n uint64) *uint256.Int {
	v := uint256.NewInt(n)
	return v.Mul(v, core.PriceScale())
}

type fixture struct {
	pool      *oracle.SimPool
	vault     *asset.MemoryVault
	custody   *custody.SimCustody
	inspector *Inspector
	pair      core.Pair
}

func newFixture(t *testing.T, price *uint256.Int) *fixture {
	t.Helper()
	pair := core.Pair{
		A: core.Token{Address: tokenA, Symbol: "USDX", Decimals: 18},
		B: core.Token{Address: tokenB, Symbol: "WETH", Decimals: 18},
	}
	pool := oracle.NewSimPool(tokenA, tokenB, 3000, price)
	vault := asset.NewMemoryVault()
	cust := custody.NewSimCustody(pair, pool, vault)
	return &fixture{
		pool:      pool,
		vault:     vault,
		custody:   cust,
		inspector: NewInspector(vault, pool, cust),
		pair:      pair,
	}
}

func (f *fixture) newSwapGrid(t *testing.T) *strategy.SwapGrid {
	t.Helper()
	scheme, err := grid.New(e18(1000), e18(2000), 10, e18(1000), nil, e18(1500))
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	g, err := strategy.NewSwapGrid(gridID, owner, f.pair, scheme, 500, strategy.Deps{
		Oracle: f.pool,
		Venue:  venue.NewSimRouter(f.pair, f.pool, f.vault, 0),
		Vault:  f.vault,
	})
	if err != nil {
		t.Fatalf("NewSwapGrid: %v", err)
	}
	f.vault.Mint(tokenA, gridID, e18(1000))
	return g
}

func TestReportSwapGrid(t *testing.T) {
	f := newFixture(t, e18(1500))
	g := f.newSwapGrid(t)
	ctx := context.Background()
	if err := g.Activate(ctx, keeper); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	rep, err := f.inspector.Report(ctx, g)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if rep.Variant != "swap" || rep.Status != core.StatusActive {
		t.Fatalf("variant/status = %s/%s", rep.Variant, rep.Status)
	}
	if rep.CurrentPrice == nil || rep.CurrentPrice.Cmp(e18(1500)) != 0 {
		t.Fatalf("current price = %v, want 1500e18", rep.CurrentPrice)
	}
	if rep.BalanceA.Token.Decimals != 18 || rep.BalanceA.Amount.Cmp(e18(500)) != 0 {
		t.Fatalf("balance A = %s", rep.BalanceA.Amount.Dec())
	}
	if rep.BalanceB.Amount.IsZero() {
		t.Fatal("balance B should be non-zero after activation split")
	}
	if rep.Anchor != nil || rep.LowerPosition != nil {
		t.Fatal("swap variant report carries ranged fields")
	}
}

func TestReportRangedGridPositions(t *testing.T) {
	f := newFixture(t, e18(1500))
	scheme, err := grid.New(e18(1000), e18(2000), 10, e18(1000), nil, e18(1500))
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	g, err := strategy.NewRangedGrid(gridID, owner, f.pair, scheme, 500, 60, strategy.Deps{
		Oracle:  f.pool,
		Venue:   venue.NewSimRouter(f.pair, f.pool, f.vault, 0),
		Custody: f.custody,
		Vault:   f.vault,
	})
	if err != nil {
		t.Fatalf("NewRangedGrid: %v", err)
	}
	f.vault.Mint(tokenA, gridID, e18(1000))
	ctx := context.Background()
	if err := g.Activate(ctx, keeper); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	rep, err := f.inspector.Report(ctx, g)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if rep.Variant != "ranged" {
		t.Fatalf("variant = %s, want ranged", rep.Variant)
	}
	if rep.Anchor == nil || rep.Anchor.Cmp(e18(1450)) != 0 {
		t.Fatalf("anchor = %v, want 1450e18", rep.Anchor)
	}
	if rep.LowerPosition == nil {
		t.Fatal("lower position missing from report")
	}
	if rep.LowerPosition.AmountA.Cmp(e18(990)) < 0 {
		t.Fatalf("lower position A = %s, want ~1000e18", rep.LowerPosition.AmountA.Dec())
	}
	if rep.UpperPosition != nil {
		t.Fatal("upper position reported with no B capital")
	}
}

func TestCanActivateMirrorsGuard(t *testing.T) {
	f := newFixture(t, e18(1500))
	g := f.newSwapGrid(t)
	ctx := context.Background()

	if ok, err := f.inspector.CanActivate(ctx, g); err != nil || !ok {
		t.Fatalf("in range at trigger: ok=%v err=%v, want true", ok, err)
	}

	// Above trigger with no B-side capital: the guard refuses.
	f.pool.SetPrice(e18(1600))
	if ok, err := f.inspector.CanActivate(ctx, g); err != nil || ok {
		t.Fatalf("above trigger: ok=%v err=%v, want false", ok, err)
	}

	// Out of range entirely.
	f.pool.SetPrice(e18(2500))
	if ok, err := f.inspector.CanActivate(ctx, g); err != nil || ok {
		t.Fatalf("out of range: ok=%v err=%v, want false", ok, err)
	}

	// Once active the predicate is false by status.
	f.pool.SetPrice(e18(1500))
	if err := g.Activate(ctx, keeper); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if ok, err := f.inspector.CanActivate(ctx, g); err != nil || ok {
		t.Fatalf("active strategy: ok=%v err=%v, want false", ok, err)
	}
}

func TestBestPoolPicksDeepest(t *testing.T) {
	f := newFixture(t, e18(1500))
	shallow := oracle.NewSimPool(tokenA, tokenB, 500, e18(1500))
	shallow.SetLiquidity(uint256.NewInt(10))
	deep := oracle.NewSimPool(tokenA, tokenB, 3000, e18(1500))
	deep.SetLiquidity(uint256.NewInt(1000))

	best, err := f.inspector.BestPool([]oracle.Pool{shallow, deep})
	if err != nil {
		t.Fatalf("BestPool: %v", err)
	}
	if best.FeeTier() != 3000 {
		t.Fatalf("best fee tier = %d, want 3000", best.FeeTier())
	}
	if _, err := f.inspector.BestPool(nil); err == nil {
		t.Fatal("expected error with no candidate pools")
	}
}
