package aggregator

import (
	"math"

	"github.com/lingokit/accuracyd/pkg/models"
)

// Weights are the blend coefficients for one aggregation call. They always
// sum to 1 and are recomputed per call, never persisted.
type Weights struct {
	Historical float64 `json:"historical"`
	Current    float64 `json:"current"`
}

// Aggregator blends a new message's scores into a user's historical profile
// using adaptive, deviation-aware weights and anti-amplification clamping.
type Aggregator struct {
	cfg *Config
}

// New creates an aggregator. A nil config selects the production tuning.
func New(cfg *Config) *Aggregator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Aggregator{cfg: cfg}
}

// ComputeWeights derives the historical/current blend for one call.
//
// A brand-new user (messageCount 0) gets historical weight 0 so their profile
// equals the first message's scores exactly. Otherwise the baseline weight
// gains inertia with history, reacts to the current message's quality, and is
// cut hard when the message deviates sharply from the recent trend average.
func (a *Aggregator) ComputeWeights(current models.AccuracySnapshot, messageCount int, trend *models.Trend) Weights {
	cfg := a.cfg

	if messageCount <= 0 {
		return Weights{Historical: 0, Current: 1}
	}

	hist := cfg.BaselineHistorical + float64(messageCount)*cfg.HistoricalGrowth
	if hist > cfg.HistoricalCeiling {
		hist = cfg.HistoricalCeiling
	}

	// Poor messages lean on history for stability, good ones get tracked
	// more responsively. The contribution of this rule is bounded.
	overall := float64(current.Overall)
	if current.Overall < cfg.PoorQualityThreshold {
		span := float64(cfg.PoorQualityThreshold)
		adj := cfg.QualityAdjustMin + (span-overall)/span*(cfg.QualityAdjustMax-cfg.QualityAdjustMin)
		hist += clampFloat(adj, cfg.QualityAdjustMin, cfg.QualityAdjustMax)
	} else if current.Overall > cfg.GoodQualityThreshold {
		span := 100 - float64(cfg.GoodQualityThreshold)
		adj := cfg.QualityAdjustMin + (overall-float64(cfg.GoodQualityThreshold))/span*(cfg.QualityAdjustMax-cfg.QualityAdjustMin)
		hist -= clampFloat(adj, cfg.QualityAdjustMin, cfg.QualityAdjustMax)
	}

	if trend != nil {
		// Sharp swings away from the recent average must be tracked, not
		// smoothed away.
		deviation := math.Abs(overall - trend.RecentAverage)
		switch {
		case deviation > cfg.DeviationHigh:
			hist *= 1 - cfg.DeviationHighCut
		case deviation > cfg.DeviationMid:
			hist *= 1 - cfg.DeviationMidCut
		}

		if trend.Confidence > cfg.TrendConfidenceGate {
			switch trend.Direction {
			case models.TrendDeclining:
				hist *= 1 - cfg.DecliningCut
			case models.TrendImproving:
				hist *= 1 + cfg.ImprovingBoost
			}
		}
	}

	hist = clampFloat(hist, cfg.HistoricalFloor, cfg.HistoricalCeiling)
	return Weights{Historical: hist, Current: 1 - hist}
}

// Aggregate blends the current message snapshot with the previous aggregate.
// messageCount is the number of messages already aggregated (0 for a new
// user). Malformed inputs have been coerced to [0,100] at the boundary, so
// the blend itself never fails.
func (a *Aggregator) Aggregate(current, previous models.AccuracySnapshot, messageCount int, trend *models.Trend, stats *models.Statistics) models.AccuracySnapshot {
	cfg := a.cfg

	current.Clamp()
	previous.Clamp()

	if messageCount <= 0 {
		// Cold start: nothing to blend with.
		out := current
		out.AdjustedOverall = a.applyErrorPenalty(out.Overall, stats)
		return out
	}

	w := a.ComputeWeights(current, messageCount, trend)

	var out models.AccuracySnapshot
	for _, c := range models.Categories {
		curr := float64(current.Get(c))
		prev := float64(previous.Get(c))
		blended := a.blendCategory(curr, prev, w, cfg.Responsiveness[c])
		blended = a.clampAmplification(blended, curr, prev, float64(cfg.CategoryMargin))
		blended = a.smoothDecline(blended, prev, messageCount)
		out.Set(c, models.CoerceScore(blended))
	}

	out.Overall = a.recomputeOverall(out, previous, current)
	out.AdjustedOverall = a.applyErrorPenalty(out.Overall, stats)
	return out
}

// blendCategory tilts the global weights by the category's responsiveness
// before blending. More responsive categories favor the current message.
func (a *Aggregator) blendCategory(curr, prev float64, w Weights, responsiveness float64) float64 {
	if responsiveness <= 0 {
		responsiveness = 0.5
	}
	cw := w.Current * responsiveness
	hw := w.Historical * (1 - responsiveness)
	total := cw + hw
	if total <= 0 {
		return curr
	}
	return (prev*hw + curr*cw) / total
}

// clampAmplification enforces the core invariant: a blended value never
// exceeds the larger of its two inputs by more than the margin. Sequential
// blending must not drift a score above anything that was actually observed.
func (a *Aggregator) clampAmplification(blended, curr, prev, margin float64) float64 {
	limit := math.Max(curr, prev) + margin
	if blended > limit {
		return limit
	}
	return blended
}

// smoothDecline applies the asymmetric correction: declines sharper than the
// threshold move most of the way toward the drop, scaled logarithmically with
// history so a drop against a long track record is trusted as real.
// Improvements are taken as-is and never boosted.
func (a *Aggregator) smoothDecline(blended, prev float64, messageCount int) float64 {
	cfg := a.cfg
	drop := prev - blended
	if drop <= cfg.DeclineThreshold {
		return blended
	}
	factor := cfg.DeclineBase + math.Log(1+float64(messageCount))/cfg.DeclineLogDivisor
	if factor > cfg.DeclineCap {
		factor = cfg.DeclineCap
	}
	// Move factor of the way from prev toward the blended drop; never
	// overshoot past the blended value itself.
	return prev - drop*factor
}

// recomputeOverall rebuilds overall as a fixed weighted sum across the
// blended categories, penalizing volatile categories, then applies the
// band-dependent anti-amplification clamp.
func (a *Aggregator) recomputeOverall(blended, previous, current models.AccuracySnapshot) int {
	cfg := a.cfg

	var sum, weightSum float64
	for c, weight := range cfg.OverallWeights {
		v := float64(blended.Get(c))
		if math.Abs(v-float64(previous.Get(c))) > cfg.VolatilityThreshold {
			v *= cfg.VolatilityPenalty
		}
		sum += v * weight
		weightSum += weight
	}
	if weightSum <= 0 {
		return current.Overall
	}
	overall := sum / weightSum

	base := math.Max(float64(current.Overall), float64(previous.Overall))
	margin := float64(cfg.OverallMarginLoose)
	if base >= float64(cfg.TightBandLow) && base <= float64(cfg.TightBandHigh) {
		// The 70-85 band is where over-inflation is most visible.
		margin = float64(cfg.OverallMarginTight)
	}
	if overall > base+margin {
		overall = base + margin
	}
	return models.CoerceScore(overall)
}

// applyErrorPenalty produces adjustedOverall via the graduated step function.
func (a *Aggregator) applyErrorPenalty(overall int, stats *models.Statistics) int {
	if stats == nil {
		return overall
	}
	for _, step := range a.cfg.PenaltySteps {
		if stats.ErrorCount >= step.MinErrors {
			return models.CoerceScore(float64(overall) * (1 - step.Reduction))
		}
	}
	return overall
}

// ConfidenceScore maps a message count to the profile confidence in [0,100].
// It is deterministic and monotonic in the count.
func (a *Aggregator) ConfidenceScore(nMessages int) int {
	if nMessages <= 0 {
		return 0
	}
	v := 100 * (1 - math.Exp(-float64(nMessages)/a.cfg.ConfidenceScale))
	return models.ClampScore(int(math.Round(clampFloat(v, 10, 95))))
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
