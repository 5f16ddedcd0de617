package aggregator

import "github.com/lingokit/accuracyd/pkg/models"

// PenaltyStep maps an error-count threshold to a percentage reduction of the
// overall score. Steps are evaluated highest threshold first.
type PenaltyStep struct {
	MinErrors int     `json:"min_errors" yaml:"min_errors"`
	Reduction float64 `json:"reduction" yaml:"reduction"`
}

// Config collects every tuning constant used by the weighted aggregator so
// tests can vary one knob at a time instead of chasing numbers through the
// blending code.
type Config struct {
	// Baseline blend weights. Historical weight grows mildly with message
	// count up to HistoricalCeiling; current weight is always 1-historical.
	BaselineHistorical float64 `json:"baseline_historical" yaml:"baseline_historical"`
	HistoricalGrowth   float64 `json:"historical_growth" yaml:"historical_growth"` // per message
	HistoricalCeiling  float64 `json:"historical_ceiling" yaml:"historical_ceiling"`
	HistoricalFloor    float64 `json:"historical_floor" yaml:"historical_floor"`

	// Quality adjustment: poor messages lean on history, good ones on the
	// current message. The contribution is bounded to [QualityAdjustMin,
	// QualityAdjustMax].
	PoorQualityThreshold int     `json:"poor_quality_threshold" yaml:"poor_quality_threshold"`
	GoodQualityThreshold int     `json:"good_quality_threshold" yaml:"good_quality_threshold"`
	QualityAdjustMin     float64 `json:"quality_adjust_min" yaml:"quality_adjust_min"`
	QualityAdjustMax     float64 `json:"quality_adjust_max" yaml:"quality_adjust_max"`

	// Deviation-vs-trend cuts let the profile track sharp swings instead of
	// smoothing them away.
	DeviationHigh    float64 `json:"deviation_high" yaml:"deviation_high"`
	DeviationHighCut float64 `json:"deviation_high_cut" yaml:"deviation_high_cut"`
	DeviationMid     float64 `json:"deviation_mid" yaml:"deviation_mid"`
	DeviationMidCut  float64 `json:"deviation_mid_cut" yaml:"deviation_mid_cut"`

	// Trend adjustment applies only when the trend signal is confident.
	TrendConfidenceGate float64 `json:"trend_confidence_gate" yaml:"trend_confidence_gate"`
	DecliningCut        float64 `json:"declining_cut" yaml:"declining_cut"`
	ImprovingBoost      float64 `json:"improving_boost" yaml:"improving_boost"`

	// Anti-amplification margins. A blended value may never exceed
	// max(current, previous) by more than the margin.
	CategoryMargin     int `json:"category_margin" yaml:"category_margin"`
	OverallMarginLoose int `json:"overall_margin_loose" yaml:"overall_margin_loose"`
	OverallMarginTight int `json:"overall_margin_tight" yaml:"overall_margin_tight"`
	TightBandLow       int `json:"tight_band_low" yaml:"tight_band_low"`
	TightBandHigh      int `json:"tight_band_high" yaml:"tight_band_high"`

	// Asymmetric smoothing for sharp declines. Improvements are never
	// smoothed upward.
	DeclineThreshold  float64 `json:"decline_threshold" yaml:"decline_threshold"`
	DeclineBase       float64 `json:"decline_base" yaml:"decline_base"`
	DeclineLogDivisor float64 `json:"decline_log_divisor" yaml:"decline_log_divisor"`
	DeclineCap        float64 `json:"decline_cap" yaml:"decline_cap"`

	// Overall recomputation.
	VolatilityThreshold float64 `json:"volatility_threshold" yaml:"volatility_threshold"`
	VolatilityPenalty   float64 `json:"volatility_penalty" yaml:"volatility_penalty"`

	// Graduated error-count penalty on overall, highest step first.
	PenaltySteps []PenaltyStep `json:"penalty_steps" yaml:"penalty_steps"`

	// Trend estimation.
	TrendDelta           int     `json:"trend_delta" yaml:"trend_delta"`
	TrendConfidenceScale float64 `json:"trend_confidence_scale" yaml:"trend_confidence_scale"`
	TrendConfidenceFloor float64 `json:"trend_confidence_floor" yaml:"trend_confidence_floor"`
	TrendConfidenceCap   float64 `json:"trend_confidence_cap" yaml:"trend_confidence_cap"`
	EMAAlpha             float64 `json:"ema_alpha" yaml:"ema_alpha"`

	// Profile confidence from message count.
	ConfidenceScale float64 `json:"confidence_scale" yaml:"confidence_scale"`

	// Per-category responsiveness: how much each category favors the current
	// message over history.
	Responsiveness map[models.Category]float64 `json:"responsiveness" yaml:"responsiveness"`

	// Fixed weights used to recompute overall from blended categories.
	// Syntax and coherence inform the profile but not the overall composite.
	OverallWeights map[models.Category]float64 `json:"overall_weights" yaml:"overall_weights"`
}

// DefaultConfig returns the production tuning.
func DefaultConfig() *Config {
	return &Config{
		BaselineHistorical: 0.30,
		HistoricalGrowth:   0.002,
		HistoricalCeiling:  0.35,
		HistoricalFloor:    0.05,

		PoorQualityThreshold: 40,
		GoodQualityThreshold: 70,
		QualityAdjustMin:     0.03,
		QualityAdjustMax:     0.10,

		DeviationHigh:    20,
		DeviationHighCut: 0.60,
		DeviationMid:     12,
		DeviationMidCut:  0.35,

		TrendConfidenceGate: 0.6,
		DecliningCut:        0.20,
		ImprovingBoost:      0.05,

		CategoryMargin:     4,
		OverallMarginLoose: 6,
		OverallMarginTight: 3,
		TightBandLow:       70,
		TightBandHigh:      85,

		DeclineThreshold:  15,
		DeclineBase:       0.5,
		DeclineLogDivisor: 10,
		DeclineCap:        0.92,

		VolatilityThreshold: 25,
		VolatilityPenalty:   0.9,

		PenaltySteps: []PenaltyStep{
			{MinErrors: 15, Reduction: 0.40},
			{MinErrors: 10, Reduction: 0.25},
			{MinErrors: 8, Reduction: 0.15},
			{MinErrors: 5, Reduction: 0.05},
		},

		TrendDelta:           5,
		TrendConfidenceScale: 200,
		TrendConfidenceFloor: 0.1,
		TrendConfidenceCap:   0.95,
		EMAAlpha:             0.3,

		ConfidenceScale: 50,

		Responsiveness: map[models.Category]float64{
			models.CategoryGrammar:        0.65,
			models.CategoryVocabulary:     0.60,
			models.CategorySpelling:       0.55,
			models.CategoryFluency:        0.75,
			models.CategoryPunctuation:    0.50,
			models.CategoryCapitalization: 0.50,
			models.CategorySyntax:         0.60,
			models.CategoryCoherence:      0.70,
		},

		OverallWeights: map[models.Category]float64{
			models.CategoryGrammar:        0.30,
			models.CategoryVocabulary:     0.15,
			models.CategorySpelling:       0.20,
			models.CategoryFluency:        0.15,
			models.CategoryPunctuation:    0.10,
			models.CategoryCapitalization: 0.10,
		},
	}
}
