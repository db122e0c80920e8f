package ledger

import (
	"cmp"
	"slices"

	"oneseed-engine/internal/worker/model"
	activityutils "oneseed-engine/pkg/utils/activity_utils"
)

// Aggregate 合并多个类型的记录：按 id 去重，时间倒序，同一时间按 id 升序
func Aggregate(items ...[]model.ActivityItem) []model.ActivityItem {
	total := 0
	for _, batch := range items {
		total += len(batch)
	}
	merged := make([]model.ActivityItem, 0, total)
	for _, batch := range items {
		merged = append(merged, batch...)
	}

	merged = activityutils.DeduplicateActivities(merged)
	slices.SortStableFunc(merged, compareItems)
	return merged
}

func compareItems(a, b model.ActivityItem) int {
	if c := cmp.Compare(b.TimestampSeconds, a.TimestampSeconds); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Filter 按类型过滤，保持顺序
func Filter(items []model.ActivityItem, kinds ...model.Kind) []model.ActivityItem {
	out := make([]model.ActivityItem, 0, len(items))
	for _, item := range items {
		if slices.Contains(kinds, item.Kind) {
			out = append(out, item)
		}
	}
	return out
}

// CountByKind 每种类型的记录数
func CountByKind(items []model.ActivityItem) map[model.Kind]int {
	counts := make(map[model.Kind]int)
	for _, item := range items {
		counts[item.Kind]++
	}
	return counts
}
