package aggregator

import (
	"math"

	"github.com/lingokit/accuracyd/pkg/models"
)

// UpdateTrend folds one more observation into a user's trend state. prev may
// be nil for a user with no history; the returned trend is then seeded from
// the current observation.
func (a *Aggregator) UpdateTrend(prev *models.Trend, currOverall, prevOverall, messageCount int) models.Trend {
	cfg := a.cfg

	direction := models.TrendStable
	delta := currOverall - prevOverall
	switch {
	case delta > cfg.TrendDelta:
		direction = models.TrendImproving
	case delta < -cfg.TrendDelta:
		direction = models.TrendDeclining
	}

	// More history means a more trustworthy trend signal.
	confidence := 1 - math.Exp(-float64(messageCount)/cfg.TrendConfidenceScale)
	confidence = clampFloat(confidence, cfg.TrendConfidenceFloor, cfg.TrendConfidenceCap)

	recent := float64(currOverall)
	if prev != nil && prev.RecentAverage > 0 {
		recent = cfg.EMAAlpha*float64(currOverall) + (1-cfg.EMAAlpha)*prev.RecentAverage
	}

	return models.Trend{
		Direction:     direction,
		Confidence:    confidence,
		RecentAverage: recent,
	}
}
