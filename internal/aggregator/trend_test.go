package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lingokit/accuracyd/pkg/models"
)

func TestUpdateTrendDirection(t *testing.T) {
	a := New(nil)

	cases := []struct {
		name       string
		curr, prev int
		want       models.TrendDirection
	}{
		{"big gain", 80, 70, models.TrendImproving},
		{"big loss", 60, 70, models.TrendDeclining},
		{"small gain", 74, 70, models.TrendStable},
		{"small loss", 66, 70, models.TrendStable},
		{"exactly at delta", 75, 70, models.TrendStable},
		{"flat", 70, 70, models.TrendStable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := a.UpdateTrend(nil, tc.curr, tc.prev, 10)
			assert.Equal(t, tc.want, got.Direction)
		})
	}
}

func TestUpdateTrendConfidenceGrowsWithHistory(t *testing.T) {
	a := New(nil)

	low := a.UpdateTrend(nil, 70, 70, 1)
	mid := a.UpdateTrend(nil, 70, 70, 100)
	high := a.UpdateTrend(nil, 70, 70, 100000)

	assert.GreaterOrEqual(t, low.Confidence, 0.1, "confidence floor")
	assert.Greater(t, mid.Confidence, low.Confidence)
	assert.LessOrEqual(t, high.Confidence, 0.95, "confidence cap")
}

func TestUpdateTrendRecentAverageEMA(t *testing.T) {
	a := New(nil)

	seeded := a.UpdateTrend(nil, 60, 0, 1)
	assert.InDelta(t, 60, seeded.RecentAverage, 1e-9, "first observation seeds the average")

	prev := &models.Trend{Direction: models.TrendStable, Confidence: 0.5, RecentAverage: 60}
	next := a.UpdateTrend(prev, 80, 60, 10)
	// alpha 0.3: 0.3*80 + 0.7*60 = 66
	assert.InDelta(t, 66, next.RecentAverage, 1e-9)
}
