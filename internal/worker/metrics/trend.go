package metrics

import (
	"time"

	"oneseed-engine/internal/worker/model"

	"github.com/shopspring/decimal"
)

const secondsPerDay = 86400

// Trend 把最近 days 天的记录分到 buckets 个等宽桶里，Values 从旧到新。kind 为空时统计全部类型
func Trend(items []model.ActivityItem, kind model.Kind, metric model.TrendMetric, now time.Time, days, buckets int) model.TrendSeries {
	if days <= 0 {
		days = 30
	}
	if buckets <= 0 {
		buckets = 12
	}
	bucketDays := decimal.NewFromInt(int64(days)).Div(decimal.NewFromInt(int64(buckets)))
	raw := make([]decimal.Decimal, buckets)
	for i := range raw {
		raw[i] = decimal.Zero
	}

	nowSec := now.Unix()
	oldest := nowSec - int64(days)*secondsPerDay
	for _, item := range items {
		if kind != "" && item.Kind != kind {
			continue
		}
		ts := int64(item.TimestampSeconds)
		if ts < oldest {
			continue
		}
		idx := 0
		if ts < nowSec {
			daysAgo := decimal.NewFromInt(nowSec - ts).Div(decimal.NewFromInt(secondsPerDay))
			idx = int(daysAgo.Div(bucketDays).Floor().IntPart())
		}
		idx = min(max(idx, 0), buckets-1)

		// idx 0 是最近的桶，输出时放在最后
		pos := buckets - 1 - idx
		switch metric {
		case model.TrendCount:
			raw[pos] = raw[pos].Add(decimal.NewFromInt(1))
		default:
			raw[pos] = raw[pos].Add(item.AmountDecimal)
		}
	}

	return model.TrendSeries{
		Metric:     metric,
		Kind:       kind,
		Days:       days,
		BucketDays: bucketDays,
		Values:     Normalize(raw),
		RawValues:  raw,
	}
}

// Normalize 按 max(series, 1) 缩放到 [0,100]，全 0 序列保持全 0
func Normalize(series []decimal.Decimal) []float64 {
	peak := decimal.NewFromInt(1)
	for _, v := range series {
		if v.GreaterThan(peak) {
			peak = v
		}
	}
	values := make([]float64, len(series))
	for i, v := range series {
		if v.IsNegative() {
			continue
		}
		values[i] = v.Div(peak).Mul(hundred).Round(2).InexactFloat64()
	}
	return values
}
