// Package query is the read-only inspection layer: it aggregates
// strategy state, live balances and position amounts for operators and
// the inspect CLI, without ever mutating a strategy.
package query

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Gridix/gridix-core/internal/asset"
	"github.com/Gridix/gridix-core/internal/core"
	"github.com/Gridix/gridix-core/internal/custody"
	"github.com/Gridix/gridix-core/internal/grid"
	"github.com/Gridix/gridix-core/internal/oracle"
	"github.com/Gridix/gridix-core/internal/strategy"
)

// gridView is what both strategy variants expose for inspection.
type gridView interface {
	strategy.Strategy
	Pair() core.Pair
	Scheme() grid.Scheme
	LastPrice() *uint256.Int
	Slippage() uint64
}

// Balance pairs an amount with its token metadata so callers can render
// it with the right number of decimals.
type Balance struct {
	Token  core.Token
	Amount *uint256.Int
}

// PositionView is the live composition of one ranged position.
type PositionView struct {
	Handle  custody.Handle
	AmountA *uint256.Int
	AmountB *uint256.Int
}

// Report is one strategy's full read-only state.
type Report struct {
	Strategy     common.Address
	Owner        common.Address
	Variant      string
	Status       core.Status
	Scheme       grid.Scheme
	CurrentPrice *uint256.Int
	LastPrice    *uint256.Int
	Slippage     uint64
	BalanceA     Balance
	BalanceB     Balance

	// Ranged variant only.
	Anchor        *uint256.Int
	LowerPosition *PositionView
	UpperPosition *PositionView
}

type Inspector struct {
	vault   asset.Vault
	oracle  oracle.PriceOracle
	custody custody.PositionCustody
}

func NewInspector(vault asset.Vault, po oracle.PriceOracle, pc custody.PositionCustody) *Inspector {
	return &Inspector{vault: vault, oracle: po, custody: pc}
}

// Report assembles the read-only state of one strategy. A failing oracle
// leaves CurrentPrice nil rather than failing the whole report.
func (i *Inspector) Report(ctx context.Context, st strategy.Strategy) (Report, error) {
	view, ok := st.(gridView)
	if !ok {
		return Report{}, core.ErrNotActive
	}
	pair := view.Pair()
	rep := Report{
		Strategy:  view.ID(),
		Owner:     view.Owner(),
		Variant:   "swap",
		Status:    view.Status(),
		Scheme:    view.Scheme(),
		LastPrice: view.LastPrice(),
		Slippage:  view.Slippage(),
		BalanceA:  Balance{Token: pair.A, Amount: i.vault.BalanceOf(pair.A.Address, view.ID())},
		BalanceB:  Balance{Token: pair.B, Amount: i.vault.BalanceOf(pair.B.Address, view.ID())},
	}
	if price, err := i.oracle.Price(ctx, pair.A.Address, pair.B.Address); err == nil {
		rep.CurrentPrice = price
	}

	if ranged, ok := st.(*strategy.RangedGrid); ok {
		rep.Variant = "ranged"
		rep.Anchor = ranged.Anchor()
		lower, upper := ranged.Positions()
		rep.LowerPosition = i.positionView(ctx, lower)
		rep.UpperPosition = i.positionView(ctx, upper)
	}
	return rep, nil
}

func (i *Inspector) positionView(ctx context.Context, h custody.Handle) *PositionView {
	if h == 0 || i.custody == nil {
		return nil
	}
	amountA, amountB, err := i.custody.PositionAmounts(ctx, h)
	if err != nil {
		return nil
	}
	return &PositionView{Handle: h, AmountA: amountA, AmountB: amountB}
}

// CanActivate mirrors the activation guard without acting: Inactive
// status, price inside the range, and the trigger-side capital condition.
func (i *Inspector) CanActivate(ctx context.Context, st strategy.Strategy) (bool, error) {
	view, ok := st.(gridView)
	if !ok {
		return false, nil
	}
	if view.Status() != core.StatusInactive {
		return false, nil
	}
	pair := view.Pair()
	price, err := i.oracle.Price(ctx, pair.A.Address, pair.B.Address)
	if err != nil {
		return false, err
	}
	scheme := view.Scheme()
	if !scheme.Contains(price) {
		return false, nil
	}
	if scheme.TotalInvestment.IsZero() && price.Cmp(scheme.TriggerPrice) < 0 {
		return false, nil
	}
	if scheme.ExtraTokenBAmount.IsZero() && price.Cmp(scheme.TriggerPrice) > 0 {
		return false, nil
	}
	return true, nil
}

// BestPool picks the deepest market among the fee-tier candidates.
func (i *Inspector) BestPool(pools []oracle.Pool) (oracle.Pool, error) {
	return oracle.MostLiquidPool(pools)
}
