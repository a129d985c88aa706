// Package accounting forwards value-changed notifications to an external
// benefit/accounting service. Delivery is strictly best-effort: a failed
// or dropped notification must never affect a strategy operation.
package accounting

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Notifier delivers one fee/value event.
type Notifier interface {
	Notify(ctx context.Context, owner, token common.Address, value *uint256.Int) error
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, common.Address, common.Address, *uint256.Int) error {
	return nil
}
