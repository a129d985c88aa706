package core

import "errors"

// Guard failures abort the call with no state mutation. They are expected
// under the permissionless crank model and safe to retry later.
var (
	// ErrNotActive indicates an operation that requires an active grid.
	ErrNotActive = errors.New("grid not active")
	// ErrClosed indicates the strategy has been terminated; Closed is terminal.
	ErrClosed = errors.New("grid closed")
	// ErrNotEnoughMovement indicates the price has not crossed a full grid cell.
	ErrNotEnoughMovement = errors.New("not enough movement")
	// ErrNoMargin indicates activation would place the anchor too close to a
	// range boundary to fit both ranged positions.
	ErrNoMargin = errors.New("extreme price: no margin")
	// ErrSlippageTooHigh indicates a slippage setting above MaxSlippage.
	ErrSlippageTooHigh = errors.New("slippage above cap")
	// ErrSwapFeeTooHigh indicates a swap fee rate above MaxSwapFeeBp.
	ErrSwapFeeTooHigh = errors.New("swap fee above cap")
	// ErrNotOwner indicates an owner-only operation invoked by someone else.
	ErrNotOwner = errors.New("caller is not strategy owner")
	// ErrNotWhitelisted indicates a token the registry does not allow.
	ErrNotWhitelisted = errors.New("asset not whitelisted")
)
