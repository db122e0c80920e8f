package model

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Kind 事件类型，每种类型对应一个独立的日志查询
type Kind string

const (
	KindSave           Kind = "save"
	KindWithdraw       Kind = "withdraw"
	KindDCA            Kind = "dca"
	KindStrategyUpdate Kind = "strategy_update"
	KindSlippage       Kind = "slippage"
)

// ActivityKinds 出现在账本里的类型，slippage 只进入执行质量分析
var ActivityKinds = []Kind{KindSave, KindWithdraw, KindDCA, KindStrategyUpdate}

// AnalyticsKinds 执行质量分析查询的类型
var AnalyticsKinds = []Kind{KindSlippage, KindDCA}

func (k Kind) String() string {
	return string(k)
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// ActivityItem 归一化后的链上事件，创建后不再修改
type ActivityItem struct {
	ID               string          `json:"id"` // tx hash + log index
	Kind             Kind            `json:"kind"`
	User             common.Address  `json:"user"`
	Token            *common.Address `json:"token,omitempty"` // strategy 类事件没有 token
	Symbol           string          `json:"symbol,omitempty"`
	Decimals         uint8           `json:"decimals"`
	AmountRaw        *big.Int        `json:"amount_raw"`
	AmountDecimal    decimal.Decimal `json:"amount_decimal"`
	AmountKnown      bool            `json:"amount_known"`
	CounterToken     *common.Address `json:"counter_token,omitempty"` // DCA 目标币
	CounterAmountRaw *big.Int        `json:"counter_amount_raw,omitempty"`
	TimestampSeconds uint64          `json:"timestamp"`
	BlockNumber      uint64          `json:"block_number"`
	LogIndex         uint            `json:"log_index"`
	TxHash           string          `json:"tx_hash"`
	Status           Status          `json:"status"`
	Description      string          `json:"description"`
}

// ActivityID 组合 id，跨所有事件类型唯一
func ActivityID(txHash string, logIndex uint) string {
	return fmt.Sprintf("%s:%d", txHash, logIndex)
}

// LedgerView 一次拉取后的账本快照，Partial 表示部分类型拉取失败
type LedgerView struct {
	User        common.Address `json:"user"`
	Items       []ActivityItem `json:"items"`
	FromBlock   uint64         `json:"from_block"`
	ToBlock     uint64         `json:"to_block"`
	FetchedAt   int64          `json:"fetched_at"`
	Partial     bool           `json:"partial"`
	FailedKinds []Kind         `json:"failed_kinds,omitempty"`
}
