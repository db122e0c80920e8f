package withdrawal

import (
	"errors"
	"fmt"
	"math/big"

	"oneseed-engine/internal/worker/model"
	"oneseed-engine/pkg/utils"
)

// MaxPenaltyBps 100%
const MaxPenaltyBps uint64 = 10000

var (
	ErrInvalidPenaltyRate = errors.New("invalid penalty rate")
	ErrInvalidAmount      = errors.New("invalid amount")
)

var maxBps = new(big.Int).SetUint64(MaxPenaltyBps)

// CalculatePenalty penalty = floor(amount * rate / 10000)，net = amount - penalty，全程整数
func CalculatePenalty(amountRaw *big.Int, penaltyRateBps uint64) (penaltyRaw, netAmountRaw *big.Int, err error) {
	if penaltyRateBps > MaxPenaltyBps {
		return nil, nil, fmt.Errorf("%w: %d bps", ErrInvalidPenaltyRate, penaltyRateBps)
	}
	if amountRaw == nil || amountRaw.Sign() < 0 {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amountRaw)
	}

	penaltyRaw = new(big.Int).Mul(amountRaw, new(big.Int).SetUint64(penaltyRateBps))
	penaltyRaw.Quo(penaltyRaw, maxBps)
	netAmountRaw = new(big.Int).Sub(amountRaw, penaltyRaw)
	return penaltyRaw, netAmountRaw, nil
}

// NewRequest 构造提现请求，amount 不能超过余额。amount 为 0 的请求可以存在，但不能进入预览
func NewRequest(balance model.TokenBalance, amountRaw *big.Int, penaltyRateBps uint64) (model.WithdrawalRequest, error) {
	if amountRaw == nil || amountRaw.Sign() < 0 {
		return model.WithdrawalRequest{}, fmt.Errorf("%w: %v", ErrInvalidAmount, amountRaw)
	}
	if amountRaw.Cmp(utils.BigOrZero(balance.AmountRaw)) > 0 {
		return model.WithdrawalRequest{}, fmt.Errorf("%w: %s exceeds balance %s", ErrInvalidAmount, amountRaw, utils.BigOrZero(balance.AmountRaw))
	}
	penalty, net, err := CalculatePenalty(amountRaw, penaltyRateBps)
	if err != nil {
		return model.WithdrawalRequest{}, err
	}
	return model.WithdrawalRequest{
		ID:             RequestID(balance),
		Token:          balance.Token,
		Symbol:         balance.Symbol,
		Decimals:       balance.Decimals,
		AmountRaw:      new(big.Int).Set(amountRaw),
		PenaltyRateBps: penaltyRateBps,
		PenaltyRaw:     penalty,
		NetAmountRaw:   net,
	}, nil
}

// RequestID 每个代币一个请求
func RequestID(balance model.TokenBalance) string {
	return utils.CanonicalAddress(balance.Token)
}
