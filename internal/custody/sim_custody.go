package custody

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Gridix/gridix-core/internal/asset"
	"github.com/Gridix/gridix-core/internal/core"
	"github.com/Gridix/gridix-core/internal/liquidity"
	"github.com/Gridix/gridix-core/internal/oracle"
	"github.com/Gridix/gridix-core/internal/tickmath"
)

// SimCustody prices positions with tick/liquidity math at the oracle spot
// price. Yield accrual is modeled as a flat rate on the withdrawn amounts.
type SimCustody struct {
	pair   core.Pair
	oracle oracle.PriceOracle
	vault  *asset.MemoryVault
	clock  core.Clock

	mu         sync.Mutex
	nextHandle uint64
	positions  map[Handle]*simPosition
	// yieldBp accrues on withdrawal, in 1/10000 of principal.
	yieldBp uint64
}

type simPosition struct {
	owner                common.Address
	tickLower, tickUpper int
	liquidity            *uint256.Int
	// depositA/depositB is the principal pulled from the payer at mint,
	// still sitting at the custody address until withdrawal.
	depositA, depositB *uint256.Int
}

func NewSimCustody(pair core.Pair, po oracle.PriceOracle, vault *asset.MemoryVault) *SimCustody {
	return &SimCustody{
		pair:       pair,
		oracle:     po,
		vault:      vault,
		clock:      core.SystemClock{},
		nextHandle: 1,
		positions:  make(map[Handle]*simPosition),
	}
}

func (c *SimCustody) SetClock(clock core.Clock) { c.clock = clock }

// SetYield configures the flat yield rate credited on withdrawal.
func (c *SimCustody) SetYield(bp uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.yieldBp = bp
}

func (c *SimCustody) Mint(ctx context.Context, req MintRequest) (Handle, *uint256.Int, *uint256.Int, error) {
	if !req.Deadline.IsZero() && c.clock.Now().After(req.Deadline) {
		return 0, nil, nil, ErrDeadlineElapsed
	}
	sqrtCur, err := c.currentSqrtRatio(ctx)
	if err != nil {
		return 0, nil, nil, err
	}
	sqrtLower := tickmath.SqrtRatioAtTick(req.TickLower)
	sqrtUpper := tickmath.SqrtRatioAtTick(req.TickUpper)

	// token0 = B, token1 = A.
	liq := liquidity.LiquidityForAmounts(sqrtCur, sqrtLower, sqrtUpper,
		orZero(req.AmountBDesired), orZero(req.AmountADesired))
	usedB, usedA := liquidity.AmountsForLiquidity(sqrtCur, sqrtLower, sqrtUpper, liq)

	if req.AmountAMin != nil && usedA.Cmp(req.AmountAMin) < 0 {
		return 0, nil, nil, ErrBelowMinimum
	}
	if req.AmountBMin != nil && usedB.Cmp(req.AmountBMin) < 0 {
		return 0, nil, nil, ErrBelowMinimum
	}

	custodyAddr := c.address()
	if err := c.vault.Transfer(c.pair.A.Address, req.Payer, custodyAddr, usedA); err != nil {
		return 0, nil, nil, err
	}
	if err := c.vault.Transfer(c.pair.B.Address, req.Payer, custodyAddr, usedB); err != nil {
		return 0, nil, nil, err
	}

	c.mu.Lock()
	h := Handle(c.nextHandle)
	c.nextHandle++
	c.positions[h] = &simPosition{
		owner:     req.Payer,
		tickLower: req.TickLower,
		tickUpper: req.TickUpper,
		liquidity: liq,
		depositA:  new(uint256.Int).Set(usedA),
		depositB:  new(uint256.Int).Set(usedB),
	}
	c.mu.Unlock()
	return h, usedA, usedB, nil
}

func (c *SimCustody) WithdrawAll(ctx context.Context, h Handle) (*uint256.Int, *uint256.Int, error) {
	c.mu.Lock()
	pos, ok := c.positions[h]
	if ok {
		delete(c.positions, h)
	}
	yieldBp := c.yieldBp
	c.mu.Unlock()
	if !ok {
		return nil, nil, ErrUnknownHandle
	}

	amountA, amountB, err := c.valuePosition(ctx, pos)
	if err != nil {
		// Withdrawal must not lose the position on a transient oracle
		// failure; put it back.
		c.mu.Lock()
		c.positions[h] = pos
		c.mu.Unlock()
		return nil, nil, err
	}
	if yieldBp > 0 {
		addYield(amountA, yieldBp)
		addYield(amountB, yieldBp)
	}

	if err := c.settle(c.pair.A.Address, pos.owner, amountA, pos.depositA); err != nil {
		return nil, nil, err
	}
	if err := c.settle(c.pair.B.Address, pos.owner, amountB, pos.depositB); err != nil {
		return nil, nil, err
	}
	return amountA, amountB, nil
}

// settle pays out amount against the principal held for the position.
// Only the delta is minted (repricing gains, accrued yield) or burned
// (repricing losses), so the simulated supply shifts by the position's
// actual PnL rather than inflating by the principal on every withdrawal.
func (c *SimCustody) settle(token, owner common.Address, amount, deposit *uint256.Int) error {
	custodyAddr := c.address()
	switch amount.Cmp(deposit) {
	case 1:
		c.vault.Mint(token, custodyAddr, new(uint256.Int).Sub(amount, deposit))
	case -1:
		if err := c.vault.Burn(token, custodyAddr, new(uint256.Int).Sub(deposit, amount)); err != nil {
			return err
		}
	}
	return c.vault.Transfer(token, custodyAddr, owner, amount)
}

func (c *SimCustody) PositionAmounts(ctx context.Context, h Handle) (*uint256.Int, *uint256.Int, error) {
	c.mu.Lock()
	pos, ok := c.positions[h]
	c.mu.Unlock()
	if !ok {
		return nil, nil, ErrUnknownHandle
	}
	return c.valuePosition(ctx, pos)
}

func (c *SimCustody) valuePosition(ctx context.Context, pos *simPosition) (*uint256.Int, *uint256.Int, error) {
	sqrtCur, err := c.currentSqrtRatio(ctx)
	if err != nil {
		return nil, nil, err
	}
	sqrtLower := tickmath.SqrtRatioAtTick(pos.tickLower)
	sqrtUpper := tickmath.SqrtRatioAtTick(pos.tickUpper)
	amountB, amountA := liquidity.AmountsForLiquidity(sqrtCur, sqrtLower, sqrtUpper, pos.liquidity)
	return amountA, amountB, nil
}

func (c *SimCustody) currentSqrtRatio(ctx context.Context) (*uint256.Int, error) {
	price, err := c.oracle.Price(ctx, c.pair.A.Address, c.pair.B.Address)
	if err != nil {
		return nil, err
	}
	return liquidity.SqrtRatioFromPrice(price)
}

func (c *SimCustody) address() common.Address {
	return common.BytesToAddress([]byte("sim-custody"))
}

func addYield(amount *uint256.Int, bp uint64) {
	y := new(uint256.Int).Mul(amount, uint256.NewInt(bp))
	y.Div(y, uint256.NewInt(core.SwapFeeScale))
	amount.Add(amount, y)
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
