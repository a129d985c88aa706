package strategy

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Gridix/gridix-core/internal/core"
	"github.com/Gridix/gridix-core/internal/fullmath"
	"github.com/Gridix/gridix-core/internal/grid"
	"github.com/Gridix/gridix-core/internal/store"
	"github.com/Gridix/gridix-core/internal/venue"
)

// SwapGrid is the simple-swap grid variant: it holds plain balances of
// both assets and swaps a proportional slice through the venue each time
// the price crosses a full grid cell.
//
// All balance reads happen before any external call, and strategy state
// is mutated only after every external call has succeeded.
type SwapGrid struct {
	id    common.Address
	owner common.Address
	pair  core.Pair
	deps  Deps

	// mu serializes all operations on this instance.
	mu        chanMutex
	scheme    grid.Scheme
	status    core.Status
	lastPrice *uint256.Int
	slippage  uint64
}

// chanMutex is a context-aware mutex: Rebalance and Activate honor ctx
// cancellation while waiting for the instance lock.
type chanMutex chan struct{}

func newChanMutex() chanMutex { return make(chanMutex, 1) }

func (m chanMutex) lock(ctx context.Context) error {
	select {
	case m <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m chanMutex) unlock() { <-m }

func NewSwapGrid(id, owner common.Address, pair core.Pair, scheme grid.Scheme, slippage uint64, deps Deps) (*SwapGrid, error) {
	if slippage > core.MaxSlippage {
		return nil, core.ErrSlippageTooHigh
	}
	return &SwapGrid{
		id:        id,
		owner:     owner,
		pair:      pair,
		deps:      deps.withDefaults(),
		mu:        newChanMutex(),
		scheme:    scheme,
		status:    core.StatusInactive,
		lastPrice: new(uint256.Int),
		slippage:  slippage,
	}, nil
}

func (g *SwapGrid) ID() common.Address    { return g.id }
func (g *SwapGrid) Owner() common.Address { return g.owner }
func (g *SwapGrid) Pair() core.Pair       { return g.pair }

func (g *SwapGrid) Status() core.Status {
	if err := g.mu.lock(context.Background()); err != nil {
		return g.status
	}
	defer g.mu.unlock()
	return g.status
}

func (g *SwapGrid) Scheme() grid.Scheme {
	if err := g.mu.lock(context.Background()); err != nil {
		return g.scheme
	}
	defer g.mu.unlock()
	return g.scheme
}

func (g *SwapGrid) LastPrice() *uint256.Int {
	if err := g.mu.lock(context.Background()); err != nil {
		return cloneInt(g.lastPrice)
	}
	defer g.mu.unlock()
	return cloneInt(g.lastPrice)
}

func (g *SwapGrid) Slippage() uint64 {
	if err := g.mu.lock(context.Background()); err != nil {
		return g.slippage
	}
	defer g.mu.unlock()
	return g.slippage
}

// Activate arms the grid once the market price is inside the range and
// the trigger-side capital condition holds. Callable by anyone; returns
// nil without acting when preconditions are not met, so crank bots can
// call speculatively.
func (g *SwapGrid) Activate(ctx context.Context, caller common.Address) error {
	if err := g.mu.lock(ctx); err != nil {
		return err
	}
	defer g.mu.unlock()

	switch g.status {
	case core.StatusClosed:
		return core.ErrClosed
	case core.StatusActive:
		// Already armed; never double-deploy.
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

	balA := g.deps.Vault.BalanceOf(g.pair.A.Address, g.id)
	balB := g.deps.Vault.BalanceOf(g.pair.B.Address, g.id)

	// Target: hold asset A in linear proportion to the price's position
	// inside the range.
	total := core.ValueAt(balA, balB, price)
	span := new(uint256.Int).Sub(g.scheme.UpperPrice, g.scheme.LowerPrice)
	aboveLower := new(uint256.Int).Sub(price, g.scheme.LowerPrice)
	needA := fullmath.MulDiv(total, aboveLower, span)

	switch balA.Cmp(needA) {
	case 1:
		amountIn := new(uint256.Int).Sub(balA, needA)
		if _, err := g.swapLocked(ctx, g.pair.A.Address, g.pair.B.Address, amountIn, price); err != nil {
			return fmt.Errorf("activate %s: %w", g.id.Hex(), err)
		}
	case -1:
		deficit := new(uint256.Int).Sub(needA, balA)
		amountIn := new(uint256.Int).Mul(deficit, core.PriceScale())
		amountIn.Div(amountIn, price)
		if amountIn.Cmp(balB) > 0 {
			amountIn.Set(balB)
		}
		if _, err := g.swapLocked(ctx, g.pair.B.Address, g.pair.A.Address, amountIn, price); err != nil {
			return fmt.Errorf("activate %s: %w", g.id.Hex(), err)
		}
	}

	balA = g.deps.Vault.BalanceOf(g.pair.A.Address, g.id)
	balB = g.deps.Vault.BalanceOf(g.pair.B.Address, g.id)
	g.status = core.StatusActive
	g.lastPrice = cloneInt(price)
	g.scheme.TotalInvestment = core.ValueAt(balA, balB, price)

	g.deps.Log.Infow("grid activated",
		"strategy", g.id.Hex(), "price", price.Dec(),
		"balance_a", balA.Dec(), "balance_b", balB.Dec())
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

// Rebalance swaps a proportional slice after the price crosses a full
// grid cell, or terminates the grid when the price has left the range.
// Callable by anyone; the caller earns the execution fee.
func (g *SwapGrid) Rebalance(ctx context.Context, caller common.Address) error {
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
	up := price.Cmp(g.lastPrice) > 0
	var diff *uint256.Int
	if up {
		diff = new(uint256.Int).Sub(price, g.lastPrice)
	} else {
		diff = new(uint256.Int).Sub(g.lastPrice, price)
	}
	if diff.Cmp(gridPrice) <= 0 {
		return core.ErrNotEnoughMovement
	}

	balA := g.deps.Vault.BalanceOf(g.pair.A.Address, g.id)
	balB := g.deps.Vault.BalanceOf(g.pair.B.Address, g.id)

	// Moving up converts B into A across the crossed cells; moving down
	// converts A into B. The denominator is the distance from lastPrice
	// to the range edge the move heads toward.
	var amountIn, out *uint256.Int
	var direction string
	if up {
		direction = "up"
		denom := new(uint256.Int).Sub(g.scheme.UpperPrice, g.lastPrice)
		amountIn = fullmath.MulDiv(balB, diff, denom)
		out, err = g.swapLocked(ctx, g.pair.B.Address, g.pair.A.Address, amountIn, price)
	} else {
		direction = "down"
		denom := new(uint256.Int).Sub(g.lastPrice, g.scheme.LowerPrice)
		amountIn = fullmath.MulDiv(balA, diff, denom)
		out, err = g.swapLocked(ctx, g.pair.A.Address, g.pair.B.Address, amountIn, price)
	}
	if err != nil {
		return fmt.Errorf("rebalance %s: %w", g.id.Hex(), err)
	}

	execFee, swapFee, err := g.chargeFeesLocked(caller, price, out, up)
	if err != nil {
		return fmt.Errorf("rebalance %s: %w", g.id.Hex(), err)
	}
	g.lastPrice = cloneInt(price)

	totalFee := new(uint256.Int).Add(execFee, swapFee)
	notifyFees(ctx, g.deps, g.owner, g.pair.A.Address, totalFee)

	balA = g.deps.Vault.BalanceOf(g.pair.A.Address, g.id)
	balB = g.deps.Vault.BalanceOf(g.pair.B.Address, g.id)
	g.deps.Log.Infow("grid rebalanced",
		"strategy", g.id.Hex(), "direction", direction, "price", price.Dec(),
		"amount_in", amountIn.Dec(), "amount_out", out.Dec(),
		"exec_fee", execFee.Dec(), "swap_fee", swapFee.Dec())
	g.deps.Events.Emit(core.RebalanceExecuted{
		Strategy:  g.id,
		Price:     cloneInt(price),
		AmountIn:  amountIn,
		AmountOut: out,
		BalanceA:  balA,
		BalanceB:  balB,
		At:        g.deps.Clock.Now(),
	})
	recordRebalance(g.deps, store.RebalanceRecord{
		Strategy:     g.id.Hex(),
		Direction:    direction,
		Price:        price.Dec(),
		AmountIn:     amountIn.Dec(),
		AmountOut:    out.Dec(),
		ExecutionFee: execFee.Dec(),
		SwapFee:      swapFee.Dec(),
		Caller:       caller.Hex(),
		At:           g.deps.Clock.Now(),
	})
	persistSnapshot(g.deps, g.snapshotLocked(balA, balB))
	return nil
}

// chargeFeesLocked pays the crank caller and the protocol sink out of the
// asset-A balance: a flat execution fee plus SwapFeeBp of the rebalanced
// value. Fees are clamped to the available balance.
func (g *SwapGrid) chargeFeesLocked(caller common.Address, price, out *uint256.Int, up bool) (*uint256.Int, *uint256.Int, error) {
	fees := g.deps.Fees.Fees()

	outValueA := cloneInt(out)
	if !up {
		// Down-moves pay out in asset B; fee base is its A-value at P.
		outValueA.Mul(outValueA, price)
		outValueA.Div(outValueA, core.PriceScale())
	}
	swapFee := new(uint256.Int).Mul(outValueA, uint256.NewInt(fees.SwapFeeBp))
	swapFee.Div(swapFee, uint256.NewInt(core.SwapFeeScale))
	execFee := fees.executionFeeFor(g.pair.A.Address)

	balA := g.deps.Vault.BalanceOf(g.pair.A.Address, g.id)
	execFee = minOrBalance(execFee, balA)
	if err := g.deps.Vault.Transfer(g.pair.A.Address, g.id, caller, execFee); err != nil {
		return nil, nil, err
	}
	balA.Sub(balA, execFee)
	swapFee = minOrBalance(swapFee, balA)
	if err := g.deps.Vault.Transfer(g.pair.A.Address, g.id, fees.Sink, swapFee); err != nil {
		return nil, nil, err
	}
	return execFee, swapFee, nil
}

// TerminateByOwner closes the grid. While Inactive it refunds without
// ever trading; while Active it unwinds at the current price first.
func (g *SwapGrid) TerminateByOwner(ctx context.Context, caller common.Address) error {
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

// terminateLocked performs boundary-exit conversion (Active only, price
// known and outside the range), refunds everything to the owner and
// closes the grid.
func (g *SwapGrid) terminateLocked(ctx context.Context, price *uint256.Int) error {
	if g.status == core.StatusActive && price != nil {
		if price.Cmp(g.scheme.UpperPrice) > 0 {
			balB := g.deps.Vault.BalanceOf(g.pair.B.Address, g.id)
			if _, err := g.swapLocked(ctx, g.pair.B.Address, g.pair.A.Address, balB, price); err != nil {
				return fmt.Errorf("terminate %s: %w", g.id.Hex(), err)
			}
		} else if price.Cmp(g.scheme.LowerPrice) < 0 {
			balA := g.deps.Vault.BalanceOf(g.pair.A.Address, g.id)
			if _, err := g.swapLocked(ctx, g.pair.A.Address, g.pair.B.Address, balA, price); err != nil {
				return fmt.Errorf("terminate %s: %w", g.id.Hex(), err)
			}
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

	g.deps.Log.Infow("grid terminated",
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

// SetSlippage updates the owner's slippage tolerance. Owner-only,
// capped at MaxSlippage.
func (g *SwapGrid) SetSlippage(caller common.Address, slippage uint64) error {
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

// CheckRebalanceNeeded reports whether Rebalance would act: false unless
// Active and the price has crossed a full grid cell (or left the range).
func (g *SwapGrid) CheckRebalanceNeeded(ctx context.Context) (bool, error) {
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
	var diff *uint256.Int
	if price.Cmp(g.lastPrice) > 0 {
		diff = new(uint256.Int).Sub(price, g.lastPrice)
	} else {
		diff = new(uint256.Int).Sub(g.lastPrice, price)
	}
	return diff.Cmp(g.scheme.GridPrice()) > 0, nil
}

// swapLocked executes one venue swap from this strategy's balance with
// the slippage-derived minimum-output bound. A zero amountIn is a no-op.
func (g *SwapGrid) swapLocked(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, price *uint256.Int) (*uint256.Int, error) {
	if amountIn == nil || amountIn.IsZero() {
		return new(uint256.Int), nil
	}
	theoretical := new(uint256.Int)
	if tokenIn == g.pair.B.Address {
		theoretical.Mul(amountIn, price)
		theoretical.Div(theoretical, core.PriceScale())
	} else {
		theoretical.Mul(amountIn, core.PriceScale())
		theoretical.Div(theoretical, price)
	}
	return g.deps.Venue.Swap(ctx, venue.SwapRequest{
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     amountIn,
		MinAmountOut: core.MinOut(theoretical, g.slippage),
		Payer:        g.id,
		Recipient:    g.id,
		Deadline:     g.deps.Clock.Now().Add(venueDeadline),
	})
}

func (g *SwapGrid) snapshotLocked(balA, balB *uint256.Int) store.Snapshot {
	return store.Snapshot{
		Variant:         "swap",
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
		BalanceA:        balA.Dec(),
		BalanceB:        balB.Dec(),
		Slippage:        g.slippage,
		UpdatedAt:       g.deps.Clock.Now(),
	}
}
