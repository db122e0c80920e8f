package contract

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const vaultABI = `[
  {"type":"function","name":"getUserSavings","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],
   "outputs":[{"name":"tokens","type":"address[]"},{"name":"amounts","type":"uint256[]"}]},
  {"type":"function","name":"calculateWithdrawalAmount","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"netAmount","type":"uint256"},{"name":"penalty","type":"uint256"}]},
  {"type":"function","name":"earlyWithdrawalPenaltyBps","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

var parsedVaultABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(vaultABI))
	if err != nil {
		panic(fmt.Sprintf("parse vault abi: %v", err))
	}
	return parsed
}()

// Vault savings vault 的只读调用
type Vault struct {
	address common.Address
	caller  ethereum.ContractCaller
}

func NewVault(address common.Address, caller ethereum.ContractCaller) *Vault {
	return &Vault{address: address, caller: caller}
}

func (v *Vault) Address() common.Address {
	return v.address
}

func (v *Vault) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsedVaultABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := v.caller.CallContract(ctx, ethereum.CallMsg{To: &v.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsedVaultABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// GetUserSavings 用户在 vault 中的代币和数量
func (v *Vault) GetUserSavings(ctx context.Context, user common.Address) ([]common.Address, []*big.Int, error) {
	values, err := v.call(ctx, "getUserSavings", user)
	if err != nil {
		return nil, nil, err
	}
	if len(values) != 2 {
		return nil, nil, fmt.Errorf("getUserSavings: unexpected %d outputs", len(values))
	}
	tokens, ok := values[0].([]common.Address)
	if !ok {
		return nil, nil, fmt.Errorf("getUserSavings: unexpected tokens type %T", values[0])
	}
	amounts, ok := values[1].([]*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("getUserSavings: unexpected amounts type %T", values[1])
	}
	if len(tokens) != len(amounts) {
		return nil, nil, fmt.Errorf("getUserSavings: %d tokens but %d amounts", len(tokens), len(amounts))
	}
	return tokens, amounts, nil
}

// CalculateWithdrawalAmount 合约计算的到账金额和罚金
func (v *Vault) CalculateWithdrawalAmount(ctx context.Context, user, token common.Address, amount *big.Int) (netAmount, penalty *big.Int, err error) {
	values, err := v.call(ctx, "calculateWithdrawalAmount", user, token, amount)
	if err != nil {
		return nil, nil, err
	}
	if len(values) != 2 {
		return nil, nil, fmt.Errorf("calculateWithdrawalAmount: unexpected %d outputs", len(values))
	}
	netAmount, ok1 := values[0].(*big.Int)
	penalty, ok2 := values[1].(*big.Int)
	if !ok1 || !ok2 {
		return nil, nil, fmt.Errorf("calculateWithdrawalAmount: unexpected output types")
	}
	return netAmount, penalty, nil
}

// EarlyWithdrawalPenaltyBps 当前的提前提现费率
func (v *Vault) EarlyWithdrawalPenaltyBps(ctx context.Context, user, token common.Address) (uint64, error) {
	values, err := v.call(ctx, "earlyWithdrawalPenaltyBps", user, token)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("earlyWithdrawalPenaltyBps: unexpected %d outputs", len(values))
	}
	bps, ok := values[0].(*big.Int)
	if !ok || !bps.IsUint64() {
		return 0, fmt.Errorf("earlyWithdrawalPenaltyBps: invalid output %v", values[0])
	}
	return bps.Uint64(), nil
}
