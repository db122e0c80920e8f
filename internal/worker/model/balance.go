package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenBalance 用户在 savings vault 中持有的某个代币
type TokenBalance struct {
	Token     common.Address `json:"token"`
	Symbol    string         `json:"symbol"`
	Decimals  uint8          `json:"decimals"`
	AmountRaw *big.Int       `json:"amount_raw"`
}

// IsZero nil 也视为 0
func (b TokenBalance) IsZero() bool {
	return b.AmountRaw == nil || b.AmountRaw.Sign() == 0
}

// ActiveBalances 过滤掉余额为 0 的代币，只用于展示
func ActiveBalances(balances []TokenBalance) []TokenBalance {
	active := make([]TokenBalance, 0, len(balances))
	for _, b := range balances {
		if b.IsZero() {
			continue
		}
		active = append(active, b)
	}
	return active
}
