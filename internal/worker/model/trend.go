package model

import (
	"github.com/shopspring/decimal"
)

type TrendMetric string

const (
	TrendAmount TrendMetric = "amount"
	TrendCount  TrendMetric = "count"
)

// TrendSeries 固定长度的分桶序列，Values 归一化到 [0,100]，从旧到新排列
type TrendSeries struct {
	Metric     TrendMetric       `json:"metric"`
	Kind       Kind              `json:"kind"`
	Days       int               `json:"days"`
	BucketDays decimal.Decimal   `json:"bucket_days"`
	Values     []float64         `json:"values"`
	RawValues  []decimal.Decimal `json:"raw_values"`
}

// MonthlyDelta 本月与上月对比
type MonthlyDelta struct {
	Kind       Kind             `json:"kind"`
	Current    decimal.Decimal  `json:"current"`
	Previous   decimal.Decimal  `json:"previous"`
	Delta      decimal.Decimal  `json:"delta"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"` // 上月为 0 时没有百分比
	Positive   bool             `json:"positive"`
	Text       string           `json:"text"`
}

// Estimate 推算值，不是账本事实
type Estimate struct {
	Label      string          `json:"label"`
	ValueUSD   decimal.Decimal `json:"value_usd"`
	IsEstimate bool            `json:"is_estimate"`
	Basis      string          `json:"basis"`
}

// Dashboard 面板快照
type Dashboard struct {
	Ledger          LedgerView               `json:"ledger"`
	SavedThisMonth  MonthlyDelta             `json:"saved_this_month"`
	WithdrawnMonth  MonthlyDelta             `json:"withdrawn_this_month"`
	SavingsTrend    TrendSeries              `json:"savings_trend"`
	ActivityTrend   TrendSeries              `json:"activity_trend"`
	TotalsByKind    map[Kind]decimal.Decimal `json:"totals_by_kind"`
	CountsByKind    map[Kind]int             `json:"counts_by_kind"`
	GasSavings      Estimate                 `json:"gas_savings"`
	GeneratedAtUnix int64                    `json:"generated_at"`
}
