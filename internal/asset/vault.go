// Package asset abstracts ERC20-style balance custody. The strategy core
// never moves value directly; it asks the vault.
package asset

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrInsufficientBalance = errors.New("asset: insufficient balance")

// Vault exposes the token transfer/balance primitives the strategy core
// depends on.
type Vault interface {
	BalanceOf(token, holder common.Address) *uint256.Int
	Transfer(token, from, to common.Address, amount *uint256.Int) error
}

// MemoryVault is an in-process vault used by the simulated venue/custody
// and by tests.
type MemoryVault struct {
	mu       sync.Mutex
	balances map[common.Address]map[common.Address]*uint256.Int
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{balances: make(map[common.Address]map[common.Address]*uint256.Int)}
}

func (v *MemoryVault) BalanceOf(token, holder common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.balanceLocked(token, holder))
}

func (v *MemoryVault) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	bal := v.balanceLocked(token, from)
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	v.balanceLocked(token, to).Add(v.balanceLocked(token, to), amount)
	return nil
}

// Mint credits a balance out of thin air. Test and bootstrap helper.
func (v *MemoryVault) Mint(token, holder common.Address, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	bal := v.balanceLocked(token, holder)
	bal.Add(bal, amount)
}

// Burn debits a balance. Counterpart of Mint for the simulated venues.
func (v *MemoryVault) Burn(token, holder common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	bal := v.balanceLocked(token, holder)
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	return nil
}

func (v *MemoryVault) balanceLocked(token, holder common.Address) *uint256.Int {
	holders, ok := v.balances[token]
	if !ok {
		holders = make(map[common.Address]*uint256.Int)
		v.balances[token] = holders
	}
	bal, ok := holders[holder]
	if !ok {
		bal = new(uint256.Int)
		holders[holder] = bal
	}
	return bal
}
