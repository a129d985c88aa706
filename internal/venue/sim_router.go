package venue

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Gridix/gridix-core/internal/asset"
	"github.com/Gridix/gridix-core/internal/core"
	"github.com/Gridix/gridix-core/internal/oracle"
)

// SimRouter executes swaps for one pair at the oracle spot price with a
// configurable venue fee. All division truncates, matching on-chain
// router behavior: rounding always biases against the trader.
type SimRouter struct {
	pair   core.Pair
	oracle oracle.PriceOracle
	vault  *asset.MemoryVault
	// feeBp is the venue's own take, in 1/10000.
	feeBp uint64
	clock core.Clock
}

func NewSimRouter(pair core.Pair, po oracle.PriceOracle, vault *asset.MemoryVault, feeBp uint64) *SimRouter {
	return &SimRouter{pair: pair, oracle: po, vault: vault, feeBp: feeBp, clock: core.SystemClock{}}
}

// SetClock overrides the deadline clock. Test helper.
func (r *SimRouter) SetClock(c core.Clock) { r.clock = c }

func (r *SimRouter) Swap(ctx context.Context, req SwapRequest) (*uint256.Int, error) {
	if !req.Deadline.IsZero() && r.clock.Now().After(req.Deadline) {
		return nil, ErrDeadlineElapsed
	}
	price, err := r.oracle.Price(ctx, r.pair.A.Address, r.pair.B.Address)
	if err != nil {
		return nil, err
	}

	var out *uint256.Int
	switch {
	case req.TokenIn == r.pair.B.Address && req.TokenOut == r.pair.A.Address:
		out = new(uint256.Int).Mul(req.AmountIn, price)
		out.Div(out, core.PriceScale())
	case req.TokenIn == r.pair.A.Address && req.TokenOut == r.pair.B.Address:
		out = new(uint256.Int).Mul(req.AmountIn, core.PriceScale())
		out.Div(out, price)
	default:
		return nil, ErrUnknownPair
	}

	if r.feeBp > 0 {
		fee := new(uint256.Int).Mul(out, uint256.NewInt(r.feeBp))
		fee.Div(fee, uint256.NewInt(core.SwapFeeScale))
		out.Sub(out, fee)
	}
	if req.MinAmountOut != nil && out.Cmp(req.MinAmountOut) < 0 {
		return nil, ErrInsufficientOutput
	}

	routerAddr := common.Address{}
	if err := r.vault.Transfer(req.TokenIn, req.Payer, routerAddr, req.AmountIn); err != nil {
		return nil, err
	}
	r.vault.Mint(req.TokenOut, req.Recipient, out)
	return out, nil
}

// Deadline builds a deadline n seconds from now against the router clock.
func (r *SimRouter) Deadline(seconds int64) time.Time {
	return r.clock.Now().Add(time.Duration(seconds) * time.Second)
}
