package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Gridix/gridix-core/internal/core"
	"github.com/Gridix/gridix-core/internal/custody"
	"github.com/Gridix/gridix-core/internal/grid"
	"github.com/Gridix/gridix-core/internal/liquidity"
	"github.com/Gridix/gridix-core/internal/store"
	"github.com/Gridix/gridix-core/internal/tickmath"
)

// RangedGrid is the concentrated-liquidity grid variant. Instead of a
// plain balance split it keeps capital deployed as two ranged positions
// around an anchor price:
//
//	lower position  [lowerPrice, anchor]        funded in asset A
//	upper position  [anchor+gridPrice, upper]   funded in asset B
//
// A rebalance withdraws both positions, charges fees on the side whose
// amount grew since the last deployment, re-anchors, and re-mints.
type RangedGrid struct {
	id    common.Address
	owner common.Address
	pair  core.Pair
	deps  Deps

	mu          chanMutex
	scheme      grid.Scheme
	status      core.Status
	anchor      *uint256.Int
	lastPrice   *uint256.Int
	slippage    uint64
	tickSpacing int

	lowerPos custody.Handle
	upperPos custody.Handle
	// depositA/depositB are what went into the live positions at the last
	// mint; the delta against the withdrawn amounts is the fee base.
	depositA *uint256.Int
	depositB *uint256.Int
}

func NewRangedGrid(id, owner common.Address, pair core.Pair, scheme grid.Scheme, slippage uint64, tickSpacing int, deps Deps) (*RangedGrid, error) {
	if slippage > core.MaxSlippage {
		return nil, core.ErrSlippageTooHigh
	}
	if deps.Custody == nil {
		return nil, errors.New("strategy: position custody required for ranged grid")
	}
	if tickSpacing <= 0 {
		tickSpacing = tickmath.TickSpacings[3000]
	}
	return &RangedGrid{
		id:          id,
		owner:       owner,
		pair:        pair,
		deps:        deps.withDefaults(),
		mu:          newChanMutex(),
		scheme:      scheme,
		status:      core.StatusInactive,
		anchor:      new(uint256.Int),
		lastPrice:   new(uint256.Int),
		slippage:    slippage,
		tickSpacing: tickSpacing,
		depositA:    new(uint256.Int),
		depositB:    new(uint256.Int),
	}, nil
}

func (g *RangedGrid) ID() common.Address    { return g.id }
func (g *RangedGrid) Owner() common.Address { return g.owner }
func (g *RangedGrid) Pair() core.Pair       { return g.pair }

func (g *RangedGrid) Status() core.Status {
	if err := g.mu.lock(context.Background()); err != nil {
		return g.status
	}
	defer g.mu.unlock()
	return g.status
}

func (g *RangedGrid) Scheme() grid.Scheme {
	if err := g.mu.lock(context.Background()); err != nil {
		return g.scheme
	}
	defer g.mu.unlock()
	return g.scheme
}

func (g *RangedGrid) Anchor() *uint256.Int {
	if err := g.mu.lock(context.Background()); err != nil {
		return cloneInt(g.anchor)
	}
	defer g.mu.unlock()
	return cloneInt(g.anchor)
}

func (g *RangedGrid) LastPrice() *uint256.Int {
	if err := g.mu.lock(context.Background()); err != nil {
		return cloneInt(g.lastPrice)
	}
	defer g.mu.unlock()
	return cloneInt(g.lastPrice)
}

func (g *RangedGrid) Slippage() uint64 {
	if err := g.mu.lock(context.Background()); err != nil {
		return g.slippage
	}
	defer g.mu.unlock()
	return g.slippage
}

// Positions returns the live position handles (zero when not deployed).
func (g *RangedGrid) Positions() (custody.Handle, custody.Handle) {
	if err := g.mu.lock(context.Background()); err != nil {
		return g.lowerPos, g.upperPos
	}
	defer g.mu.unlock()
	return g.lowerPos, g.upperPos
}

// Activate anchors the grid just below the current price and deploys
// both balances as ranged positions. Callable by anyone; silently
// returns when the range or trigger-side preconditions are not met, but
// fails loudly when the anchor would sit too close to a range boundary.
func (g *RangedGrid) Activate(ctx context.Context, caller common.Address) error {
	if err := g.mu.lock(ctx); err != nil {
		return err
	}
	defer g.mu.unlock()

	switch g.status {
	case core.StatusClosed:
		return core.ErrClosed
	case core.StatusActive:
		return nil
	}

	price, err := g.deps.Oracle.Price(ctx, g.pair.A.Address, g.pair.B.Address)
	if err != nil {
		return fmt.Errorf("activate %s: %w", g.id.Hex(), err)
	}
	if !g.scheme.Contains(price) {
		return nil
	}
	if g.scheme.TotalInvestment.IsZero() && price.Cmp(g.scheme.TriggerPrice) < 0 {
		return nil
	}
	if g.scheme.ExtraTokenBAmount.IsZero() && price.Cmp(g.scheme.TriggerPrice) > 0 {
		return nil
	}

	gridPrice := g.scheme.GridPrice()
	halfCell := new(uint256.Int).Rsh(gridPrice, 1)
	if price.Cmp(halfCell) <= 0 {
		return core.ErrNoMargin
	}
	anchor := new(uint256.Int).Sub(price, halfCell)
	if err := g.checkAnchorMargin(anchor, gridPrice); err != nil {
		return err
	}

	g.anchor = anchor
	if err := g.mintPositionsLocked(ctx, price); err != nil {
		g.anchor = new(uint256.Int)
		return fmt.Errorf("activate %s: %w", g.id.Hex(), err)
	}

	balA := g.deps.Vault.BalanceOf(g.pair.A.Address, g.id)
	balB := g.deps.Vault.BalanceOf(g.pair.B.Address, g.id)
	g.status = core.StatusActive
	g.lastPrice = cloneInt(price)
	g.scheme.TotalInvestment = core.ValueAt(
		new(uint256.Int).Add(balA, g.depositA),
		new(uint256.Int).Add(balB, g.depositB),
		price,
	)

	g.deps.Log.Infow("ranged grid activated",
		"strategy", g.id.Hex(), "price", price.Dec(), "anchor", g.anchor.Dec(),
		"lower_pos", uint64(g.lowerPos), "upper_pos", uint64(g.upperPos))
	g.deps.Events.Emit(core.StrategyActivated{
		Strategy: g.id,
		Price:    cloneInt(price),
		BalanceA: balA,
		BalanceB: balB,
		At:       g.deps.Clock.Now(),
	})
	persistSnapshot(g.deps, g.snapshotLocked(balA, balB))
	return nil
}

// checkAnchorMargin requires a full spare cell below the anchor and two
// above it, so both positions fit inside the range with room to shift.
func (g *RangedGrid) checkAnchorMargin(anchor, gridPrice *uint256.Int) error {
	lowerBound := new(uint256.Int).Add(g.scheme.LowerPrice, gridPrice)
	if anchor.Cmp(lowerBound) <= 0 {
		return core.ErrNoMargin
	}
	upperNeed := new(uint256.Int).Lsh(gridPrice, 1)
	upperNeed.Add(anchor, upperNeed)
	if upperNeed.Cmp(g.scheme.UpperPrice) >= 0 {
		return core.ErrNoMargin
	}
	return nil
}

// Rebalance re-anchors the grid after the price escapes the hold band
// [anchor-gridPrice, anchor+2·gridPrice], or terminates when it has left
// the range entirely.
func (g *RangedGrid) Rebalance(ctx context.Context, caller common.Address) error {
	if err := g.mu.lock(ctx); err != nil {
		return err
	}
	defer g.mu.unlock()

	if g.status != core.StatusActive {
		return core.ErrNotActive
	}
	price, err := g.deps.Oracle.Price(ctx, g.pair.A.Address, g.pair.B.Address)
	if err != nil {
		return fmt.Errorf("rebalance %s: %w", g.id.Hex(), err)
	}
	if !g.scheme.Contains(price) {
		return g.terminateLocked(ctx, price)
	}

	gridPrice := g.scheme.GridPrice()
	up, down := g.movement(price, gridPrice)
	if !up && !down {
		return core.ErrNotEnoughMovement
	}

	withdrawnA, withdrawnB, err := g.withdrawPositionsLocked(ctx)
	if err != nil {
		return fmt.Errorf("rebalance %s: %w", g.id.Hex(), err)
	}

	// Fees come out of the side whose holdings grew since the last mint.
	direction := "down"
	grownToken := g.pair.B.Address
	growth := sub0(withdrawnB, g.depositB)
	if up {
		direction = "up"
		grownToken = g.pair.A.Address
		growth = sub0(withdrawnA, g.depositA)
	}
	execFee, swapFee, err := g.chargeFeesLocked(caller, grownToken, growth)
	if err != nil {
		return fmt.Errorf("rebalance %s: %w", g.id.Hex(), err)
	}
	totalFee := new(uint256.Int).Add(execFee, swapFee)
	notifyFees(ctx, g.deps, g.owner, grownToken, totalFee)

	prevAnchor := g.anchor
	if up {
		g.anchor = new(uint256.Int).Sub(price, gridPrice)
	} else {
		g.anchor = cloneInt(price)
	}
	if err := g.mintPositionsLocked(ctx, price); err != nil {
		// A failed redeploy keeps the prior anchor, so the next sweep
		// still sees the move and retries from the withdrawn balances.
		g.anchor = prevAnchor
		return fmt.Errorf("rebalance %s: %w", g.id.Hex(), err)
	}
	g.lastPrice = cloneInt(price)

	balA := g.deps.Vault.BalanceOf(g.pair.A.Address, g.id)
	balB := g.deps.Vault.BalanceOf(g.pair.B.Address, g.id)
	g.deps.Log.Infow("ranged grid rebalanced",
		"strategy", g.id.Hex(), "direction", direction, "price", price.Dec(),
		"anchor", g.anchor.Dec(), "exec_fee", execFee.Dec(), "swap_fee", swapFee.Dec())
	g.deps.Events.Emit(core.RebalanceExecuted{
		Strategy:  g.id,
		Price:     cloneInt(price),
		AmountIn:  growth,
		AmountOut: totalFee,
		BalanceA:  balA,
		BalanceB:  balB,
		At:        g.deps.Clock.Now(),
	})
	recordRebalance(g.deps, store.RebalanceRecord{
		Strategy:     g.id.Hex(),
		Direction:    direction,
		Price:        price.Dec(),
		AmountIn:     growth.Dec(),
		AmountOut:    totalFee.Dec(),
		ExecutionFee: execFee.Dec(),
		SwapFee:      swapFee.Dec(),
		Caller:       caller.Hex(),
		At:           g.deps.Clock.Now(),
	})
	persistSnapshot(g.deps, g.snapshotLocked(balA, balB))
	return nil
}

// movement classifies the price against the hold band around the anchor.
func (g *RangedGrid) movement(price, gridPrice *uint256.Int) (up, down bool) {
	upBound := new(uint256.Int).Lsh(gridPrice, 1)
	upBound.Add(g.anchor, upBound)
	if price.Cmp(upBound) > 0 {
		return true, false
	}
	if g.anchor.Cmp(gridPrice) > 0 {
		downBound := new(uint256.Int).Sub(g.anchor, gridPrice)
		if price.Cmp(downBound) < 0 {
			return false, true
		}
	}
	return false, false
}

func (g *RangedGrid) chargeFeesLocked(caller, token common.Address, growth *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	fees := g.deps.Fees.Fees()

	swapFee := new(uint256.Int).Mul(growth, uint256.NewInt(fees.SwapFeeBp))
	swapFee.Div(swapFee, uint256.NewInt(core.SwapFeeScale))
	execFee := fees.executionFeeFor(token)

	bal := g.deps.Vault.BalanceOf(token, g.id)
	execFee = minOrBalance(execFee, bal)
	if err := g.deps.Vault.Transfer(token, g.id, caller, execFee); err != nil {
		return nil, nil, err
	}
	bal.Sub(bal, execFee)
	swapFee = minOrBalance(swapFee, bal)
	if err := g.deps.Vault.Transfer(token, g.id, fees.Sink, swapFee); err != nil {
		return nil, nil, err
	}
	return execFee, swapFee, nil
}

func (g *RangedGrid) TerminateByOwner(ctx context.Context, caller common.Address) error {
	if err := g.mu.lock(ctx); err != nil {
		return err
	}
	defer g.mu.unlock()

	if caller != g.owner {
		return core.ErrNotOwner
	}
	switch g.status {
	case core.StatusClosed:
		return core.ErrClosed
	case core.StatusInactive:
		return g.terminateLocked(ctx, nil)
	}
	price, err := g.deps.Oracle.Price(ctx, g.pair.A.Address, g.pair.B.Address)
	if err != nil {
		return fmt.Errorf("terminate %s: %w", g.id.Hex(), err)
	}
	return g.terminateLocked(ctx, price)
}

func (g *RangedGrid) terminateLocked(ctx context.Context, price *uint256.Int) error {
	if g.status == core.StatusActive {
		if _, _, err := g.withdrawPositionsLocked(ctx); err != nil {
			return fmt.Errorf("terminate %s: %w", g.id.Hex(), err)
		}
	}

	balA := g.deps.Vault.BalanceOf(g.pair.A.Address, g.id)
	balB := g.deps.Vault.BalanceOf(g.pair.B.Address, g.id)
	if err := g.deps.Vault.Transfer(g.pair.A.Address, g.id, g.owner, balA); err != nil {
		return fmt.Errorf("terminate %s: %w", g.id.Hex(), err)
	}
	if err := g.deps.Vault.Transfer(g.pair.B.Address, g.id, g.owner, balB); err != nil {
		return fmt.Errorf("terminate %s: %w", g.id.Hex(), err)
	}
	g.status = core.StatusClosed

	g.deps.Log.Infow("ranged grid terminated",
		"strategy", g.id.Hex(), "refund_a", balA.Dec(), "refund_b", balB.Dec())
	g.deps.Events.Emit(core.StrategyTerminated{
		Strategy:  g.id,
		Price:     cloneInt(price),
		RefundedA: balA,
		RefundedB: balB,
		At:        g.deps.Clock.Now(),
	})
	persistSnapshot(g.deps, g.snapshotLocked(new(uint256.Int), new(uint256.Int)))
	return nil
}

func (g *RangedGrid) SetSlippage(caller common.Address, slippage uint64) error {
	if err := g.mu.lock(context.Background()); err != nil {
		return err
	}
	defer g.mu.unlock()

	if caller != g.owner {
		return core.ErrNotOwner
	}
	if slippage > core.MaxSlippage {
		return core.ErrSlippageTooHigh
	}
	old := g.slippage
	g.slippage = slippage
	g.deps.Events.Emit(core.SlippageUpdated{
		Strategy: g.id, Old: old, New: slippage, At: g.deps.Clock.Now(),
	})
	return nil
}

func (g *RangedGrid) CheckRebalanceNeeded(ctx context.Context) (bool, error) {
	if err := g.mu.lock(ctx); err != nil {
		return false, err
	}
	defer g.mu.unlock()

	if g.status != core.StatusActive {
		return false, nil
	}
	price, err := g.deps.Oracle.Price(ctx, g.pair.A.Address, g.pair.B.Address)
	if err != nil {
		return false, err
	}
	if !g.scheme.Contains(price) {
		return true, nil
	}
	up, down := g.movement(price, g.scheme.GridPrice())
	return up || down, nil
}

// withdrawPositionsLocked unwinds both live positions back into plain
// balances. Handles are cleared per position as each withdrawal lands,
// so a failure midway never leaves a handle pointing at burned liquidity.
func (g *RangedGrid) withdrawPositionsLocked(ctx context.Context) (*uint256.Int, *uint256.Int, error) {
	totalA := new(uint256.Int)
	totalB := new(uint256.Int)
	for _, h := range []*custody.Handle{&g.lowerPos, &g.upperPos} {
		if *h == 0 {
			continue
		}
		amountA, amountB, err := g.deps.Custody.WithdrawAll(ctx, *h)
		if err != nil {
			return nil, nil, err
		}
		g.deps.Events.Emit(core.LiquidityRemoved{
			Strategy: g.id,
			Handle:   uint64(*h),
			AmountA:  amountA,
			AmountB:  amountB,
			At:       g.deps.Clock.Now(),
		})
		totalA.Add(totalA, amountA)
		totalB.Add(totalB, amountB)
		*h = 0
	}
	return totalA, totalB, nil
}

// mintPositionsLocked deploys the current balances as the two ranged
// positions around the anchor. A side with no balance (or a range that
// collapses after tick rounding) is skipped; its handle stays zero.
// Deposit baselines are rewritten only as each mint lands, so a failure
// partway leaves them matching whatever is actually deployed.
func (g *RangedGrid) mintPositionsLocked(ctx context.Context, price *uint256.Int) error {
	tickCur, err := liquidity.TickForPrice(price)
	if err != nil {
		return err
	}
	gridPrice := g.scheme.GridPrice()
	upperStart := new(uint256.Int).Add(g.anchor, gridPrice)

	tickRangeLower, err := liquidity.TickForPrice(g.scheme.LowerPrice)
	if err != nil {
		return err
	}
	tickAnchor, err := liquidity.TickForPrice(g.anchor)
	if err != nil {
		return err
	}
	tickUpperStart, err := liquidity.TickForPrice(upperStart)
	if err != nil {
		return err
	}
	tickRangeUpper, err := liquidity.TickForPrice(g.scheme.UpperPrice)
	if err != nil {
		return err
	}

	// Lower position holds pure asset A, so its top tick must stay at or
	// below the current tick.
	loTL := tickmath.FloorToSpacing(tickRangeLower, g.tickSpacing)
	loTU := tickmath.FloorToSpacing(tickAnchor, g.tickSpacing)
	if lim := tickmath.FloorToSpacing(tickCur, g.tickSpacing); loTU > lim {
		loTU = lim
	}
	balA := g.deps.Vault.BalanceOf(g.pair.A.Address, g.id)
	if loTU > loTL && !balA.IsZero() {
		h, usedA, _, err := g.deps.Custody.Mint(ctx, custody.MintRequest{
			AmountADesired: balA,
			AmountAMin:     core.MinOut(balA, g.slippage),
			TickLower:      loTL,
			TickUpper:      loTU,
			Payer:          g.id,
			Deadline:       g.deps.Clock.Now().Add(venueDeadline),
		})
		if err != nil {
			return err
		}
		g.lowerPos = h
		g.depositA = cloneInt(usedA)
		g.deps.Events.Emit(core.PositionMinted{
			Strategy:  g.id,
			Handle:    uint64(h),
			TickLower: loTL,
			TickUpper: loTU,
			AmountA:   usedA,
			AmountB:   new(uint256.Int),
			At:        g.deps.Clock.Now(),
		})
	} else {
		g.depositA = new(uint256.Int)
	}

	// Upper position holds pure asset B; its bottom tick must clear the
	// current tick.
	upTL := tickmath.CeilToSpacing(tickUpperStart, g.tickSpacing)
	upTU := tickmath.CeilToSpacing(tickRangeUpper, g.tickSpacing)
	if floor := tickmath.CeilToSpacing(tickCur+1, g.tickSpacing); upTL < floor {
		upTL = floor
	}
	balB := g.deps.Vault.BalanceOf(g.pair.B.Address, g.id)
	if upTU > upTL && !balB.IsZero() {
		h, _, usedB, err := g.deps.Custody.Mint(ctx, custody.MintRequest{
			AmountBDesired: balB,
			AmountBMin:     core.MinOut(balB, g.slippage),
			TickLower:      upTL,
			TickUpper:      upTU,
			Payer:          g.id,
			Deadline:       g.deps.Clock.Now().Add(venueDeadline),
		})
		if err != nil {
			return err
		}
		g.upperPos = h
		g.depositB = cloneInt(usedB)
		g.deps.Events.Emit(core.PositionMinted{
			Strategy:  g.id,
			Handle:    uint64(h),
			TickLower: upTL,
			TickUpper: upTU,
			AmountA:   new(uint256.Int),
			AmountB:   usedB,
			At:        g.deps.Clock.Now(),
		})
	} else {
		g.depositB = new(uint256.Int)
	}
	return nil
}

func (g *RangedGrid) snapshotLocked(balA, balB *uint256.Int) store.Snapshot {
	return store.Snapshot{
		Variant:         "ranged",
		Strategy:        g.id.Hex(),
		Owner:           g.owner.Hex(),
		Pair:            g.pair.A.Symbol + "/" + g.pair.B.Symbol,
		Status:          string(g.status),
		LowerPrice:      g.scheme.LowerPrice.Dec(),
		UpperPrice:      g.scheme.UpperPrice.Dec(),
		GridPrice:       g.scheme.GridPrice().Dec(),
		TriggerPrice:    g.scheme.TriggerPrice.Dec(),
		TotalInvestment: g.scheme.TotalInvestment.Dec(),
		ExtraTokenB:     g.scheme.ExtraTokenBAmount.Dec(),
		LastPrice:       g.lastPrice.Dec(),
		Anchor:          g.anchor.Dec(),
		LowerPosition:   uint64(g.lowerPos),
		UpperPosition:   uint64(g.upperPos),
		BalanceA:        balA.Dec(),
		BalanceB:        balB.Dec(),
		Slippage:        g.slippage,
		UpdatedAt:       g.deps.Clock.Now(),
	}
}

// sub0 is a floored subtraction: max(a-b, 0).
func sub0(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}
