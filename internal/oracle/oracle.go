// Package oracle provides the spot-price boundary of the strategy core:
// an AMM pool quotes the exchange rate between the two held assets.
package oracle

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrNoPool is fatal for the calling operation: no market exists for the
// pair. Never retried internally.
var ErrNoPool = errors.New("oracle: no pool for pair")

// PriceOracle quotes units of assetA per one unit of assetB, scaled 1e18.
type PriceOracle interface {
	Price(ctx context.Context, assetA, assetB common.Address) (*uint256.Int, error)
}

// FeeTiers are the pool fee tiers scanned when selecting a market,
// in hundredths of a bip.
var FeeTiers = []uint32{500, 3000, 10000}

// Pool is one fee-tier market for a pair.
type Pool interface {
	PriceOracle
	FeeTier() uint32
	Liquidity() *uint256.Int
}

// MostLiquidPool returns the deepest pool among the given candidates.
// Semantically this mirrors the activation eligibility read path: a pair
// with no pool at any tier cannot activate.
func MostLiquidPool(pools []Pool) (Pool, error) {
	var best Pool
	for _, p := range pools {
		if p == nil {
			continue
		}
		if best == nil || p.Liquidity().Cmp(best.Liquidity()) > 0 {
			best = p
		}
	}
	if best == nil {
		return nil, ErrNoPool
	}
	return best, nil
}

// SimPool is a settable pool used by the simulated venue and by tests.
type SimPool struct {
	mu        sync.RWMutex
	assetA    common.Address
	assetB    common.Address
	price     *uint256.Int
	liquidity *uint256.Int
	feeTier   uint32
}

func NewSimPool(assetA, assetB common.Address, feeTier uint32, price *uint256.Int) *SimPool {
	p := &SimPool{
		assetA:    assetA,
		assetB:    assetB,
		feeTier:   feeTier,
		price:     new(uint256.Int),
		liquidity: new(uint256.Int),
	}
	if price != nil {
		p.price.Set(price)
	}
	return p
}

func (p *SimPool) Price(_ context.Context, assetA, assetB common.Address) (*uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if assetA != p.assetA || assetB != p.assetB || p.price.IsZero() {
		return nil, ErrNoPool
	}
	return new(uint256.Int).Set(p.price), nil
}

func (p *SimPool) SetPrice(price *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.price.Set(price)
}

func (p *SimPool) SetLiquidity(liquidity *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.liquidity.Set(liquidity)
}

func (p *SimPool) FeeTier() uint32 { return p.feeTier }

func (p *SimPool) Liquidity() *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(uint256.Int).Set(p.liquidity)
}
