package config

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Decimal struct {
	decimal.Decimal
}

func (d *Decimal) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("decimal must be a scalar")
	}
	if value.Value == "" {
		d.Decimal = decimal.Zero
		return nil
	}
	dec, err := decimal.NewFromString(value.Value)
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", value.Value, err)
	}
	d.Decimal = dec
	return nil
}

func (d Decimal) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Scaled converts the decimal to an integer amount in the token's base
// units. The shifted value must be a non-negative integer that fits in
// 256 bits.
func (d Decimal) Scaled(decimals uint8) (*uint256.Int, error) {
	shifted := d.Shift(int32(decimals))
	if shifted.IsNegative() {
		return nil, fmt.Errorf("amount %s must be >= 0", d.String())
	}
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", d.String(), decimals)
	}
	v, overflow := uint256.FromBig(shifted.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %s does not fit in 256 bits", d.String())
	}
	return v, nil
}

// Price converts the decimal to the engine's fixed-point price scale
// (18 decimal places).
func (d Decimal) Price() (*uint256.Int, error) {
	return d.Scaled(18)
}
