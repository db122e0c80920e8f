package getonchaininfo

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// 获取 savings 面板需要的 ERC20 元数据

var (
	decimalsMethodID = []byte{0x31, 0x3c, 0xe5, 0x67} // decimals()
	symbolMethodID   = []byte{0x95, 0xd8, 0x9b, 0x41} // symbol()
)

// TokenMetadata ERC20 代币的 symbol 与精度
type TokenMetadata struct {
	Symbol   string
	Decimals uint8
}

// GetTokenMetadata 并发查询多个代币的 decimals / symbol，返回部分成功的结果和错误集合
func GetTokenMetadata(
	ctx context.Context,
	caller ethereum.ContractCaller,
	tokens []common.Address, // 要查询的ERC20代币合约地址列表
) (map[common.Address]TokenMetadata, error) {
	result := make(map[common.Address]TokenMetadata, len(tokens))
	var wg sync.WaitGroup
	var mu sync.Mutex
	errCh := make(chan error, len(tokens))

	for _, tokenAddr := range tokens {
		wg.Add(1)
		go func(token common.Address) {
			defer wg.Done()

			decimals, err := callDecimals(ctx, caller, token)
			if err != nil {
				errCh <- err
				return
			}
			// symbol 拿不到不影响精度计算
			symbol, err := callSymbol(ctx, caller, token)
			if err != nil {
				symbol = ""
			}

			// 安全写入结果
			mu.Lock()
			result[token] = TokenMetadata{Symbol: symbol, Decimals: decimals}
			mu.Unlock()
		}(tokenAddr)
	}

	// 等待所有查询完成
	wg.Wait()
	close(errCh)

	var errors []error
	for e := range errCh {
		errors = append(errors, e)
	}
	if len(errors) > 0 {
		return result, fmt.Errorf("%d token metadata queries failed, first error: %w", len(errors), errors[0])
	}
	return result, nil
}

func callDecimals(ctx context.Context, caller ethereum.ContractCaller, token common.Address) (uint8, error) {
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: decimalsMethodID}, nil)
	if err != nil {
		return 0, fmt.Errorf("call decimals failed for %s: %w", token.Hex(), err)
	}
	return ParseDecimalsResult(out)
}

func callSymbol(ctx context.Context, caller ethereum.ContractCaller, token common.Address) (string, error) {
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: symbolMethodID}, nil)
	if err != nil {
		return "", fmt.Errorf("call symbol failed for %s: %w", token.Hex(), err)
	}
	return ParseSymbolResult(out)
}

// ParseDecimalsResult 解析 decimals() 返回值
func ParseDecimalsResult(data []byte) (uint8, error) {
	if len(data) < 32 {
		return 0, fmt.Errorf("invalid decimals data length: %d", len(data))
	}
	v := new(big.Int).SetBytes(data[len(data)-32:])
	if !v.IsUint64() || v.Uint64() > 77 {
		return 0, fmt.Errorf("decimals out of range: %s", v)
	}
	return uint8(v.Uint64()), nil
}

// ParseSymbolResult 兼容 string 和 bytes32 两种 symbol 返回
func ParseSymbolResult(data []byte) (string, error) {
	switch {
	case len(data) == 32:
		return strings.TrimSpace(string(bytes.TrimRight(data, "\x00"))), nil
	case len(data) >= 64:
		offset := new(big.Int).SetBytes(data[:32])
		if !offset.IsUint64() || offset.Uint64()+32 > uint64(len(data)) {
			return "", fmt.Errorf("invalid symbol offset")
		}
		start := offset.Uint64()
		length := new(big.Int).SetBytes(data[start : start+32])
		if !length.IsUint64() || start+32+length.Uint64() > uint64(len(data)) {
			return "", fmt.Errorf("invalid symbol length")
		}
		return string(data[start+32 : start+32+length.Uint64()]), nil
	default:
		return "", fmt.Errorf("invalid symbol data length: %d", len(data))
	}
}
