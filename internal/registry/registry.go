// Package registry is the control plane above the strategy instances:
// it whitelists tradable assets, owns the protocol fee settings, and
// creates funded strategy instances with deterministic addresses.
package registry

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/Gridix/gridix-core/internal/core"
	"github.com/Gridix/gridix-core/internal/grid"
	"github.com/Gridix/gridix-core/internal/strategy"
	"github.com/Gridix/gridix-core/internal/tickmath"
)

var ErrUnknownStrategy = errors.New("registry: unknown strategy")

// Config seeds the registry at construction. There is no implicit global
// state: everything a strategy reads at runtime flows through here.
type Config struct {
	Owner           common.Address
	FeeSink         common.Address
	DefaultSlippage uint64
	SwapFeeBp       uint64
	Whitelist       []common.Address
}

// CreateParams are the owner-supplied scheme parameters for one grid.
type CreateParams struct {
	Pair            core.Pair
	LowerPrice      *uint256.Int
	UpperPrice      *uint256.Int
	GridCount       uint64
	TotalInvestment *uint256.Int
	ExtraTokenB     *uint256.Int
	TriggerPrice    *uint256.Int
	// FeeTier selects the tick spacing for the ranged variant; zero
	// defaults to the 0.3% tier.
	FeeTier uint32
}

type Registry struct {
	mu              sync.RWMutex
	owner           common.Address
	feeSink         common.Address
	defaultSlippage uint64
	swapFeeBp       uint64
	execFee         map[common.Address]*uint256.Int
	whitelist       map[common.Address]bool
	nonce           uint64
	strategies      map[common.Address]strategy.Strategy

	deps strategy.Deps
}

func New(cfg Config, deps strategy.Deps) (*Registry, error) {
	if cfg.SwapFeeBp > core.MaxSwapFeeBp {
		return nil, core.ErrSwapFeeTooHigh
	}
	if cfg.DefaultSlippage > core.MaxDefaultSlippage {
		return nil, core.ErrSlippageTooHigh
	}
	if deps.Vault == nil {
		return nil, errors.New("registry: vault required")
	}
	r := &Registry{
		owner:           cfg.Owner,
		feeSink:         cfg.FeeSink,
		defaultSlippage: cfg.DefaultSlippage,
		swapFeeBp:       cfg.SwapFeeBp,
		execFee:         make(map[common.Address]*uint256.Int),
		whitelist:       make(map[common.Address]bool),
		strategies:      make(map[common.Address]strategy.Strategy),
		deps:            deps,
	}
	for _, token := range cfg.Whitelist {
		r.whitelist[token] = true
	}
	// Strategies read fees through the registry so later updates apply
	// without rewiring.
	r.deps.Fees = r
	return r, nil
}

// Fees implements strategy.FeeSource.
func (r *Registry) Fees() strategy.FeeConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fees := strategy.FeeConfig{
		Sink:         r.feeSink,
		SwapFeeBp:    r.swapFeeBp,
		ExecutionFee: make(map[common.Address]*uint256.Int, len(r.execFee)),
	}
	for token, amount := range r.execFee {
		fees.ExecutionFee[token] = new(uint256.Int).Set(amount)
	}
	return fees
}

func (r *Registry) SetSwapFee(caller common.Address, bp uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return core.ErrNotOwner
	}
	if bp > core.MaxSwapFeeBp {
		return core.ErrSwapFeeTooHigh
	}
	r.swapFeeBp = bp
	return nil
}

func (r *Registry) SetExecutionFee(caller, token common.Address, amount *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return core.ErrNotOwner
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	r.execFee[token] = new(uint256.Int).Set(amount)
	return nil
}

func (r *Registry) SetDefaultSlippage(caller common.Address, slippage uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return core.ErrNotOwner
	}
	if slippage > core.MaxDefaultSlippage {
		return core.ErrSlippageTooHigh
	}
	r.defaultSlippage = slippage
	return nil
}

func (r *Registry) SetWhitelisted(caller, token common.Address, allowed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return core.ErrNotOwner
	}
	if allowed {
		r.whitelist[token] = true
	} else {
		delete(r.whitelist, token)
	}
	return nil
}

func (r *Registry) IsWhitelisted(token common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.whitelist[token]
}

// CreateSwapGrid validates the scheme, derives the strategy address,
// moves the owner's capital to it and registers the instance.
func (r *Registry) CreateSwapGrid(ctx context.Context, owner common.Address, params CreateParams) (*strategy.SwapGrid, error) {
	scheme, id, err := r.prepare(owner, params)
	if err != nil {
		return nil, err
	}
	g, err := strategy.NewSwapGrid(id, owner, params.Pair, scheme, r.slippage(), r.deps)
	if err != nil {
		return nil, err
	}
	if err := r.fund(owner, id, params); err != nil {
		return nil, err
	}
	r.register(g)
	return g, nil
}

func (r *Registry) CreateRangedGrid(ctx context.Context, owner common.Address, params CreateParams) (*strategy.RangedGrid, error) {
	scheme, id, err := r.prepare(owner, params)
	if err != nil {
		return nil, err
	}
	spacing := tickmath.TickSpacings[params.FeeTier]
	g, err := strategy.NewRangedGrid(id, owner, params.Pair, scheme, r.slippage(), spacing, r.deps)
	if err != nil {
		return nil, err
	}
	if err := r.fund(owner, id, params); err != nil {
		return nil, err
	}
	r.register(g)
	return g, nil
}

func (r *Registry) prepare(owner common.Address, params CreateParams) (grid.Scheme, common.Address, error) {
	if !r.IsWhitelisted(params.Pair.A.Address) || !r.IsWhitelisted(params.Pair.B.Address) {
		return grid.Scheme{}, common.Address{}, core.ErrNotWhitelisted
	}
	scheme, err := grid.New(params.LowerPrice, params.UpperPrice, params.GridCount,
		params.TotalInvestment, params.ExtraTokenB, params.TriggerPrice)
	if err != nil {
		return grid.Scheme{}, common.Address{}, err
	}
	if scheme.TotalInvestment.IsZero() && scheme.ExtraTokenBAmount.IsZero() {
		return grid.Scheme{}, common.Address{}, errors.New("registry: no capital committed")
	}

	r.mu.Lock()
	nonce := r.nonce
	r.nonce++
	r.mu.Unlock()
	return scheme, deriveAddress(owner, params.Pair, nonce), nil
}

// fund moves the committed capital from the owner to the strategy address.
func (r *Registry) fund(owner, id common.Address, params CreateParams) error {
	if err := r.deps.Vault.Transfer(params.Pair.A.Address, owner, id, params.TotalInvestment); err != nil {
		return fmt.Errorf("registry: fund asset A: %w", err)
	}
	if err := r.deps.Vault.Transfer(params.Pair.B.Address, owner, id, params.ExtraTokenB); err != nil {
		return fmt.Errorf("registry: fund asset B: %w", err)
	}
	return nil
}

func (r *Registry) register(g strategy.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[g.ID()] = g
}

func (r *Registry) Strategy(id common.Address) (strategy.Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.strategies[id]
	if !ok {
		return nil, ErrUnknownStrategy
	}
	return g, nil
}

// Strategies returns all registered instances, for the crank loop.
func (r *Registry) Strategies() []strategy.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]strategy.Strategy, 0, len(r.strategies))
	for _, g := range r.strategies {
		out = append(out, g)
	}
	return out
}

func (r *Registry) slippage() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultSlippage
}

// deriveAddress builds a deterministic strategy address from the owner,
// the pair and a creation nonce.
func deriveAddress(owner common.Address, pair core.Pair, nonce uint64) common.Address {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	hash := crypto.Keccak256(owner.Bytes(), pair.A.Address.Bytes(), pair.B.Address.Bytes(), buf[:])
	return common.BytesToAddress(hash[12:])
}
