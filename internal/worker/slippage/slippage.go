package slippage

import (
	"cmp"
	"fmt"
	"math/big"
	"slices"

	"oneseed-engine/internal/worker/config"
	"oneseed-engine/internal/worker/model"
	"oneseed-engine/internal/worker/monitor"
	"oneseed-engine/pkg/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var bpsDenominator = big.NewInt(10000)

// AlertThresholds 告警阈值，单位是百分比
type AlertThresholds struct {
	Warning  decimal.Decimal
	Critical decimal.Decimal
}

func ThresholdsFromConfig(cfg config.SlippageConfig) AlertThresholds {
	return AlertThresholds{
		Warning:  decimal.NewFromFloat(cfg.WarningPct),
		Critical: decimal.NewFromFloat(cfg.CriticalPct),
	}
}

// Level 严格大于阈值才告警
func (t AlertThresholds) Level(pct decimal.Decimal) model.AlertLevel {
	switch {
	case pct.GreaterThan(t.Critical):
		return model.AlertCritical
	case pct.GreaterThan(t.Warning):
		return model.AlertWarning
	}
	return model.AlertNone
}

// Percentage 先按整数算 bps 再除以 100；expected 为 0 时返回 (0, true)
func Percentage(expected, actual *big.Int) (decimal.Decimal, bool) {
	if expected == nil || expected.Sign() == 0 {
		return decimal.Zero, true
	}
	diff := new(big.Int).Sub(expected, utils.BigOrZero(actual))
	bps := diff.Mul(diff, bpsDenominator)
	bps.Quo(bps, expected)
	return decimal.NewFromBigInt(bps, -2), false
}

// NewRecord 从解码后的事件生成记录
func NewRecord(ev model.SlippageEvent, meta model.LogMeta) model.SlippageRecord {
	pct, undefined := Percentage(ev.ExpectedAmount, ev.ActualAmount)
	return model.SlippageRecord{
		ID:                 model.ActivityID(meta.TxHash, meta.LogIndex),
		TxHash:             meta.TxHash,
		FromToken:          ev.FromToken,
		ToToken:            ev.ToToken,
		ExpectedAmountRaw:  utils.BigOrZero(ev.ExpectedAmount),
		ActualAmountRaw:    utils.BigOrZero(ev.ActualAmount),
		SlippagePercentage: pct,
		Undefined:          undefined,
		TimestampSeconds:   meta.TimestampSeconds,
		AmountKnown:        true,
	}
}

// DegradedRecord 日志解码失败时的占位记录，不参与统计
func DegradedRecord(meta model.LogMeta) model.SlippageRecord {
	return model.SlippageRecord{
		ID:                 model.ActivityID(meta.TxHash, meta.LogIndex),
		TxHash:             meta.TxHash,
		ExpectedAmountRaw:  new(big.Int),
		ActualAmountRaw:    new(big.Int),
		SlippagePercentage: decimal.Zero,
		Undefined:          true,
		TimestampSeconds:   meta.TimestampSeconds,
	}
}

// Analyze 生成执行质量报告，records 和 dca 都是本轮已归一化的结果
func Analyze(user common.Address, records []model.SlippageRecord, dca []model.ActivityItem, thresholds AlertThresholds) model.SlippageReport {
	sorted := dedupe(records)
	slices.SortStableFunc(sorted, func(a, b model.SlippageRecord) int {
		if c := cmp.Compare(b.TimestampSeconds, a.TimestampSeconds); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	report := model.SlippageReport{
		User:    user,
		Records: sorted,
		Alerts:  make([]model.SlippageAlert, 0),
		Stats:   model.SlippageStats{Count: len(sorted), Average: decimal.Zero, Min: decimal.Zero, Max: decimal.Zero},
		DCA:     DCAStatistics(dca),
	}

	sum := decimal.Zero
	for _, r := range sorted {
		if r.Undefined {
			continue
		}
		pct := r.SlippagePercentage
		if report.Stats.DefinedCount == 0 {
			report.Stats.Min, report.Stats.Max = pct, pct
		} else {
			report.Stats.Min = decimal.Min(report.Stats.Min, pct)
			report.Stats.Max = decimal.Max(report.Stats.Max, pct)
		}
		report.Stats.DefinedCount++
		sum = sum.Add(pct)

		level := thresholds.Level(pct)
		if level == model.AlertNone {
			continue
		}
		switch level {
		case model.AlertCritical:
			report.Stats.CriticalCount++
		case model.AlertWarning:
			report.Stats.WarningCount++
		}
		monitor.SlippageAlerts.WithLabelValues(string(level)).Inc()
		report.Alerts = append(report.Alerts, model.SlippageAlert{
			Level:              level,
			RecordID:           r.ID,
			TxHash:             r.TxHash,
			SlippagePercentage: pct,
			Message:            fmt.Sprintf("%s slippage %s%% exceeds threshold", level, pct.StringFixed(2)),
			TimestampSeconds:   r.TimestampSeconds,
		})
	}
	if report.Stats.DefinedCount > 0 {
		report.Stats.Average = sum.Div(decimal.NewFromInt(int64(report.Stats.DefinedCount))).Round(2)
	}
	return report
}

// DCAStatistics 执行次数、每个源代币累计数量、最后执行时间
func DCAStatistics(items []model.ActivityItem) model.DCAStats {
	volumes := make(map[common.Address]*big.Int)
	stats := model.DCAStats{VolumeByToken: make(map[common.Address]string)}
	for _, item := range items {
		if item.Kind != model.KindDCA {
			continue
		}
		stats.Executions++
		stats.LastExecutedAt = max(stats.LastExecutedAt, item.TimestampSeconds)
		if item.Token == nil || !item.AmountKnown {
			continue
		}
		v, ok := volumes[*item.Token]
		if !ok {
			v = new(big.Int)
			volumes[*item.Token] = v
		}
		v.Add(v, utils.BigOrZero(item.AmountRaw))
	}
	for token, v := range volumes {
		stats.VolumeByToken[token] = v.String()
	}
	return stats
}

func dedupe(records []model.SlippageRecord) []model.SlippageRecord {
	out := make([]model.SlippageRecord, 0, len(records))
	seen := make(map[string]int, len(records))
	for _, r := range records {
		if idx, ok := seen[r.ID]; ok {
			out[idx] = r
			continue
		}
		seen[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}
