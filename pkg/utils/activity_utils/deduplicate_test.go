package activityutils

import (
	"testing"

	"oneseed-engine/internal/worker/model"

	"github.com/stretchr/testify/assert"
)

func TestDeduplicateActivities(t *testing.T) {
	items := []model.ActivityItem{
		{ID: "0xa:0", Description: "first"},
		{ID: "0xb:1"},
		{ID: "0xa:0", Description: "replayed"},
		{ID: "0xa:1"},
	}
	out := DeduplicateActivities(items)
	assert.Len(t, out, 3)
	assert.Equal(t, "0xa:0", out[0].ID)
	assert.Equal(t, "replayed", out[0].Description)
	assert.Equal(t, "0xa:1", out[2].ID)

	// 幂等
	assert.Equal(t, out, DeduplicateActivities(out))
	assert.Empty(t, DeduplicateActivities(nil))
}
