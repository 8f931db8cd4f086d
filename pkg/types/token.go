package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NativePlaceholder is the pseudo-address some routers use for the native asset
const NativePlaceholder = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// Token identifies an asset on a specific chain
type Token struct {
	Address  string `json:"address"`
	ChainID  int64  `json:"chainId"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
	Name     string `json:"name,omitempty"`
}

// IsNative reports whether the token is the chain's native asset
func (t Token) IsNative() bool {
	if t.Address == "" {
		return true
	}
	if strings.EqualFold(t.Address, NativePlaceholder) {
		return true
	}
	return common.HexToAddress(t.Address) == (common.Address{})
}

// HexAddress returns the contract address, zero for the native asset
func (t Token) HexAddress() common.Address {
	if t.IsNative() {
		return common.Address{}
	}
	return common.HexToAddress(t.Address)
}

func (t Token) validate() error {
	if t.ChainID <= 0 {
		return fmt.Errorf("token %s has no chain id", t.Symbol)
	}
	if t.Address != "" && !common.IsHexAddress(t.Address) {
		return fmt.Errorf("token %s has invalid address %q", t.Symbol, t.Address)
	}
	return nil
}

// ParseAmount parses a base-unit integer amount
func ParseAmount(amount string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %s", amount)
	}
	return value, nil
}

// FormatAmount renders a base-unit amount in whole token units
func FormatAmount(amount string, decimals int32) string {
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return amount
	}
	return decimal.NewFromBigInt(value, -decimals).String()
}

// ToBaseUnits converts a human readable amount into base units
func ToBaseUnits(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return d.Shift(decimals).BigInt(), nil
}
