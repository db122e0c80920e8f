package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// WithdrawalRequest 用户对单个代币的提现意图
type WithdrawalRequest struct {
	ID             string         `json:"id"` // 代币地址小写
	Token          common.Address `json:"token"`
	Symbol         string         `json:"symbol"`
	Decimals       uint8          `json:"decimals"`
	AmountRaw      *big.Int       `json:"amount_raw"`
	PenaltyRateBps uint64         `json:"penalty_rate_bps"`
	PenaltyRaw     *big.Int       `json:"penalty_raw"`
	NetAmountRaw   *big.Int       `json:"net_amount_raw"`
}

// BatchWithdrawalPlan 一次确认/提交使用的不可变快照
type BatchWithdrawalPlan struct {
	Items                       []WithdrawalRequest `json:"items"`
	TotalAmountRaw              *big.Int            `json:"total_amount_raw"`
	TotalPenaltyRaw             *big.Int            `json:"total_penalty_raw"`
	TotalNetAmountRaw           *big.Int            `json:"total_net_amount_raw"`
	EstimatedGasUnitsIndividual uint64              `json:"estimated_gas_units_individual"`
	EstimatedGasUnitsBatched    uint64              `json:"estimated_gas_units_batched"`
	EstimatedGasUnitsSaved      uint64              `json:"estimated_gas_units_saved"`
	EstimatedGasSavingsRaw      *big.Int            `json:"estimated_gas_savings_raw"` // wei
}

// IsEmpty 空计划
func (p BatchWithdrawalPlan) IsEmpty() bool {
	return len(p.Items) == 0
}

// Clone 深拷贝，调用方修改返回值不会影响原请求
func (r WithdrawalRequest) Clone() WithdrawalRequest {
	r.AmountRaw = cloneBig(r.AmountRaw)
	r.PenaltyRaw = cloneBig(r.PenaltyRaw)
	r.NetAmountRaw = cloneBig(r.NetAmountRaw)
	return r
}

// Clone 深拷贝 Items 和所有金额
func (p BatchWithdrawalPlan) Clone() BatchWithdrawalPlan {
	if p.Items != nil {
		items := make([]WithdrawalRequest, len(p.Items))
		for i, item := range p.Items {
			items[i] = item.Clone()
		}
		p.Items = items
	}
	p.TotalAmountRaw = cloneBig(p.TotalAmountRaw)
	p.TotalPenaltyRaw = cloneBig(p.TotalPenaltyRaw)
	p.TotalNetAmountRaw = cloneBig(p.TotalNetAmountRaw)
	p.EstimatedGasSavingsRaw = cloneBig(p.EstimatedGasSavingsRaw)
	return p
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// PlanState 提现流程状态
type PlanState string

const (
	PlanBuilding   PlanState = "building"
	PlanPreviewing PlanState = "previewing"
	PlanSubmitting PlanState = "submitting"
	PlanCompleted  PlanState = "completed"
	PlanFailed     PlanState = "failed"
)

// SubmissionReceipt 外部提交成功后的结果
type SubmissionReceipt struct {
	TxHash string              `json:"tx_hash"`
	Plan   BatchWithdrawalPlan `json:"plan"`
}
