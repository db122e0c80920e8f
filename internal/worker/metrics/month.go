package metrics

import (
	"time"

	"oneseed-engine/internal/worker/model"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MonthlyComparison 按 loc 所在日历月汇总本月和上月某类型的金额
func MonthlyComparison(items []model.ActivityItem, kind model.Kind, now time.Time, loc *time.Location) model.MonthlyDelta {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	curStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	prevStart := curStart.AddDate(0, -1, 0)
	nextStart := curStart.AddDate(0, 1, 0)

	current, previous := decimal.Zero, decimal.Zero
	for _, item := range items {
		if item.Kind != kind {
			continue
		}
		ts := time.Unix(int64(item.TimestampSeconds), 0).In(loc)
		switch {
		case !ts.Before(curStart) && ts.Before(nextStart):
			current = current.Add(item.AmountDecimal)
		case !ts.Before(prevStart) && ts.Before(curStart):
			previous = previous.Add(item.AmountDecimal)
		}
	}

	text, pct, positive := FormatDelta(current, previous)
	return model.MonthlyDelta{
		Kind:       kind,
		Current:    current,
		Previous:   previous,
		Delta:      current.Sub(previous),
		Percentage: pct,
		Positive:   positive,
		Text:       text,
	}
}

// FormatDelta 上月为 0 时不算百分比：都为 0 显示 "0"，否则显示本月绝对值
func FormatDelta(current, previous decimal.Decimal) (string, *decimal.Decimal, bool) {
	if previous.IsZero() {
		if current.IsZero() {
			return "0", nil, true
		}
		return signed(current) + current.StringFixed(2), nil, current.IsPositive()
	}

	pct := current.Sub(previous).Div(previous.Abs()).Mul(hundred).Round(2)
	return signed(pct) + pct.StringFixed(2) + "%", &pct, !pct.IsNegative()
}

func signed(d decimal.Decimal) string {
	if d.IsNegative() {
		return ""
	}
	return "+"
}
