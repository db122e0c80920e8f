package activityutils

import (
	"oneseed-engine/internal/worker/model"
)

// DeduplicateActivities 根据 id(tx hash + log index) 去重，后出现的覆盖先出现的，保持首次出现的位置
func DeduplicateActivities(items []model.ActivityItem) []model.ActivityItem {
	deduplicated := make([]model.ActivityItem, 0, len(items))
	seen := make(map[string]int, len(items))
	for _, item := range items {
		if idx, ok := seen[item.ID]; ok {
			deduplicated[idx] = item
			continue
		}
		seen[item.ID] = len(deduplicated)
		deduplicated = append(deduplicated, item)
	}
	return deduplicated
}
