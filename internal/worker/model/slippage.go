package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// SlippageRecord 一次执行质量事件
type SlippageRecord struct {
	ID                 string          `json:"id"`
	TxHash             string          `json:"tx_hash"`
	FromToken          common.Address  `json:"from_token"`
	ToToken            common.Address  `json:"to_token"`
	ExpectedAmountRaw  *big.Int        `json:"expected_amount_raw"`
	ActualAmountRaw    *big.Int        `json:"actual_amount_raw"`
	SlippagePercentage decimal.Decimal `json:"slippage_percentage"`
	Undefined          bool            `json:"undefined"` // expected 为 0 时没有意义
	TimestampSeconds   uint64          `json:"timestamp"`
	AmountKnown        bool            `json:"amount_known"`
}

type AlertLevel string

const (
	AlertNone     AlertLevel = ""
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

type SlippageAlert struct {
	Level              AlertLevel      `json:"level"`
	RecordID           string          `json:"record_id"`
	TxHash             string          `json:"tx_hash"`
	SlippagePercentage decimal.Decimal `json:"slippage_percentage"`
	Message            string          `json:"message"`
	TimestampSeconds   uint64          `json:"timestamp"`
}

// SlippageStats 只统计 Undefined=false 的记录
type SlippageStats struct {
	Count         int             `json:"count"`
	DefinedCount  int             `json:"defined_count"`
	Average       decimal.Decimal `json:"average"`
	Min           decimal.Decimal `json:"min"`
	Max           decimal.Decimal `json:"max"`
	WarningCount  int             `json:"warning_count"`
	CriticalCount int             `json:"critical_count"`
}

type DCAStats struct {
	Executions     int                       `json:"executions"`
	VolumeByToken  map[common.Address]string `json:"volume_by_token"` // from token -> 原始数量
	LastExecutedAt uint64                    `json:"last_executed_at"`
}

// SlippageReport 执行质量分析结果
type SlippageReport struct {
	User        common.Address   `json:"user"`
	Records     []SlippageRecord `json:"records"`
	Alerts      []SlippageAlert  `json:"alerts"`
	Stats       SlippageStats    `json:"stats"`
	DCA         DCAStats         `json:"dca"`
	Partial     bool             `json:"partial"`
	FailedKinds []Kind           `json:"failed_kinds,omitempty"`
}
