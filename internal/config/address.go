package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

type Address struct {
	common.Address
}

func (a *Address) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("address must be a scalar")
	}
	if value.Value == "" {
		a.Address = common.Address{}
		return nil
	}
	if !common.IsHexAddress(value.Value) {
		return fmt.Errorf("invalid address %q", value.Value)
	}
	a.Address = common.HexToAddress(value.Value)
	return nil
}

func (a Address) MarshalYAML() (interface{}, error) {
	return a.Hex(), nil
}

func (a Address) IsZero() bool {
	return a.Address == (common.Address{})
}
