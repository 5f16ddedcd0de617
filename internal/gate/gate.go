// Package gate applies the language-quality veto that runs before any
// aggregation. Degenerate or non-English input must not be allowed to feed
// plausible-looking scores into a user's profile.
package gate

import (
	"strings"
	"unicode"

	"github.com/lingokit/accuracyd/pkg/models"
)

// Config holds the gate thresholds and the per-category penalty sensitivity.
type Config struct {
	// MaxPenalty caps the points subtracted from any category.
	MaxPenalty float64 `json:"max_penalty" yaml:"max_penalty"`

	// LatinRatioMin is the minimum fraction of Latin-script characters
	// before the non-Latin penalty fires.
	LatinRatioMin float64 `json:"latin_ratio_min" yaml:"latin_ratio_min"`

	// ShortTextRunes is the length under which unrecognized text is treated
	// as gibberish rather than merely low-coverage.
	ShortTextRunes int `json:"short_text_runes" yaml:"short_text_runes"`

	// GibberishCoverageMax and LowCoverageMax bound the recognized-word
	// ratio for the gibberish and low-lexical-coverage branches.
	GibberishCoverageMax float64 `json:"gibberish_coverage_max" yaml:"gibberish_coverage_max"`
	LowCoverageMax       float64 `json:"low_coverage_max" yaml:"low_coverage_max"`

	// GrammarFloorRatio ties overall to grammar: after penalties, overall
	// may not exceed grammar*GrammarFloorRatio. When vocabulary coverage is
	// the failure mode, overall must not outrun the grammar evidence.
	GrammarFloorRatio float64 `json:"grammar_floor_ratio" yaml:"grammar_floor_ratio"`

	// Sensitivity scales the penalty per category; 1.0 takes the full hit.
	Sensitivity map[models.Category]float64 `json:"sensitivity" yaml:"sensitivity"`
}

// DefaultConfig returns the production gate tuning.
func DefaultConfig() *Config {
	return &Config{
		MaxPenalty:           45,
		LatinRatioMin:        0.5,
		ShortTextRunes:       20,
		GibberishCoverageMax: 0.15,
		LowCoverageMax:       0.35,
		GrammarFloorRatio:    1.15,
		Sensitivity: map[models.Category]float64{
			models.CategoryGrammar:        0.80,
			models.CategoryVocabulary:     1.00,
			models.CategorySpelling:       0.90,
			models.CategoryFluency:        0.85,
			models.CategoryPunctuation:    0.50,
			models.CategoryCapitalization: 0.50,
			models.CategorySyntax:         0.75,
			models.CategoryCoherence:      0.85,
		},
	}
}

// Gate evaluates the penalty branches in fixed priority order so only the
// most severe applicable penalty fires.
type Gate struct {
	cfg *Config
}

// New creates a gate. A nil config selects the production tuning.
func New(cfg *Config) *Gate {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Gate{cfg: cfg}
}

// Apply inspects the raw text and language summary and returns the gated
// snapshot plus any synthetic errors it recorded. Branches are mutually
// exclusive: empty text, mostly non-Latin, zero English words, short
// gibberish, low lexical coverage.
func (g *Gate) Apply(text string, scores models.AccuracySnapshot, lang *models.LanguageSummary) (models.AccuracySnapshot, []models.SyntheticError) {
	scores.Clamp()

	if strings.TrimSpace(text) == "" {
		return models.AccuracySnapshot{}, []models.SyntheticError{{
			Code:     "empty_message",
			Message:  "message contains no analyzable text",
			Severity: models.SeverityCritical,
		}}
	}

	if lang == nil || lang.ShouldSkipEnglishChecks {
		return scores, nil
	}

	latinRatio := lang.LatinRatio
	if latinRatio == 0 {
		latinRatio = latinRuneRatio(text)
	}

	switch {
	case latinRatio < g.cfg.LatinRatioMin:
		return g.penalize(scores, 1.0), []models.SyntheticError{{
			Code:     "non_latin_text",
			Message:  "message is mostly non-Latin script",
			Severity: models.SeverityMajor,
		}}

	case lang.EnglishWordCount == 0:
		return g.penalize(scores, 0.9), []models.SyntheticError{{
			Code:     "no_english_words",
			Message:  "no recognized English words in message",
			Severity: models.SeverityMajor,
		}}

	case runeCount(text) < g.cfg.ShortTextRunes && lang.RecognizedWordRatio < g.cfg.GibberishCoverageMax:
		return g.penalize(scores, 0.7), []models.SyntheticError{{
			Code:     "short_gibberish",
			Message:  "short message with no recognizable vocabulary",
			Severity: models.SeverityMajor,
		}}

	case lang.RecognizedWordRatio < g.cfg.LowCoverageMax:
		return g.penalize(scores, 0.5), []models.SyntheticError{{
			Code:     "low_lexical_coverage",
			Message:  "most words in message are not recognized vocabulary",
			Severity: models.SeverityMinor,
		}}
	}

	return scores, nil
}

// penalize subtracts severity*MaxPenalty scaled by each category's
// sensitivity, then enforces the grammar-tied floor on overall.
func (g *Gate) penalize(scores models.AccuracySnapshot, severity float64) models.AccuracySnapshot {
	penalty := g.cfg.MaxPenalty * severity

	var out models.AccuracySnapshot
	for _, c := range models.Categories {
		cut := penalty * g.cfg.Sensitivity[c]
		out.Set(c, models.CoerceScore(float64(scores.Get(c))-cut))
	}

	overall := float64(scores.Overall) - penalty
	ceiling := float64(out.Grammar) * g.cfg.GrammarFloorRatio
	if overall > ceiling {
		overall = ceiling
	}
	out.Overall = models.CoerceScore(overall)
	out.AdjustedOverall = out.Overall
	return out
}

func latinRuneRatio(text string) float64 {
	var letters, latin int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.In(r, unicode.Latin) {
			latin++
		}
	}
	if letters == 0 {
		return 1
	}
	return float64(latin) / float64(letters)
}

func runeCount(text string) int {
	return len([]rune(strings.TrimSpace(text)))
}
