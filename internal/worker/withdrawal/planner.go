package withdrawal

import (
	"errors"
	"fmt"
	"math/big"

	"oneseed-engine/internal/worker/config"
	"oneseed-engine/internal/worker/model"
	"oneseed-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidGasConfig = errors.New("gas per batched tx must be lower than gas per individual tx")
	ErrEmptyPlan        = errors.New("no withdrawal with a positive amount selected")
)

var weiPerGwei = decimal.New(1, 9)

// Planner 把选中的提现请求合成一个批量计划，不做任何链上交互
type Planner struct {
	gasPerIndividualTx uint64
	gasPerBatchedTx    uint64
	gasPriceWei        *big.Int
}

func NewPlanner(cfg config.EstimateConfig) (*Planner, error) {
	if cfg.GasPerBatchedTx >= cfg.GasPerIndividualTx {
		return nil, fmt.Errorf("%w: batched=%d individual=%d", ErrInvalidGasConfig, cfg.GasPerBatchedTx, cfg.GasPerIndividualTx)
	}
	return &Planner{
		gasPerIndividualTx: cfg.GasPerIndividualTx,
		gasPerBatchedTx:    cfg.GasPerBatchedTx,
		gasPriceWei:        decimal.NewFromFloat(cfg.AssumedGasPriceGwei).Mul(weiPerGwei).Floor().BigInt(),
	}, nil
}

// Build 汇总计划，amount 为 0 的请求不进入计划
func (p *Planner) Build(requests []model.WithdrawalRequest) (model.BatchWithdrawalPlan, error) {
	plan := model.BatchWithdrawalPlan{
		Items:             make([]model.WithdrawalRequest, 0, len(requests)),
		TotalAmountRaw:    new(big.Int),
		TotalPenaltyRaw:   new(big.Int),
		TotalNetAmountRaw: new(big.Int),
	}
	for _, req := range requests {
		if req.AmountRaw == nil || req.AmountRaw.Sign() == 0 {
			continue
		}
		// 重新计算，不信任请求里缓存的派生字段
		penalty, net, err := CalculatePenalty(req.AmountRaw, req.PenaltyRateBps)
		if err != nil {
			return model.BatchWithdrawalPlan{}, fmt.Errorf("request %s: %w", req.ID, err)
		}
		item := req
		item.AmountRaw = new(big.Int).Set(req.AmountRaw)
		item.PenaltyRaw = penalty
		item.NetAmountRaw = net

		plan.Items = append(plan.Items, item)
		plan.TotalAmountRaw.Add(plan.TotalAmountRaw, item.AmountRaw)
		plan.TotalPenaltyRaw.Add(plan.TotalPenaltyRaw, penalty)
		plan.TotalNetAmountRaw.Add(plan.TotalNetAmountRaw, net)
	}
	if plan.IsEmpty() {
		return model.BatchWithdrawalPlan{}, ErrEmptyPlan
	}

	n := uint64(len(plan.Items))
	plan.EstimatedGasUnitsIndividual = n * p.gasPerIndividualTx
	plan.EstimatedGasUnitsBatched = n * p.gasPerBatchedTx
	plan.EstimatedGasUnitsSaved = plan.EstimatedGasUnitsIndividual - plan.EstimatedGasUnitsBatched
	plan.EstimatedGasSavingsRaw = new(big.Int).Mul(new(big.Int).SetUint64(plan.EstimatedGasUnitsSaved), p.gasPriceWei)
	return plan, nil
}

// Candidate 一个可提现代币和它的罚金费率
type Candidate struct {
	Balance        model.TokenBalance
	PenaltyRateBps uint64
}

// FullRequest 默认提现全部余额
func (c Candidate) FullRequest() (model.WithdrawalRequest, error) {
	return NewRequest(c.Balance, utils.BigOrZero(c.Balance.AmountRaw), c.PenaltyRateBps)
}
