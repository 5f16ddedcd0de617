package models

import (
	"math"
	"time"
)

// Category identifies one scored dimension of a message.
type Category string

const (
	CategoryGrammar        Category = "grammar"
	CategoryVocabulary     Category = "vocabulary"
	CategorySpelling       Category = "spelling"
	CategoryFluency        Category = "fluency"
	CategoryPunctuation    Category = "punctuation"
	CategoryCapitalization Category = "capitalization"
	CategorySyntax         Category = "syntax"
	CategoryCoherence      Category = "coherence"
)

// Categories lists every scored category in a stable order.
var Categories = []Category{
	CategoryGrammar,
	CategoryVocabulary,
	CategorySpelling,
	CategoryFluency,
	CategoryPunctuation,
	CategoryCapitalization,
	CategorySyntax,
	CategoryCoherence,
}

// AccuracySnapshot holds the scores for a single message or an aggregate.
// Every field is an integer in [0,100]; categories that were not analyzed
// are 0, never omitted.
type AccuracySnapshot struct {
	Overall         int `json:"overall"`
	AdjustedOverall int `json:"adjusted_overall"`
	Grammar         int `json:"grammar"`
	Vocabulary      int `json:"vocabulary"`
	Spelling        int `json:"spelling"`
	Fluency         int `json:"fluency"`
	Punctuation     int `json:"punctuation"`
	Capitalization  int `json:"capitalization"`
	Syntax          int `json:"syntax"`
	Coherence       int `json:"coherence"`
}

// Get returns the score for a category.
func (s *AccuracySnapshot) Get(c Category) int {
	switch c {
	case CategoryGrammar:
		return s.Grammar
	case CategoryVocabulary:
		return s.Vocabulary
	case CategorySpelling:
		return s.Spelling
	case CategoryFluency:
		return s.Fluency
	case CategoryPunctuation:
		return s.Punctuation
	case CategoryCapitalization:
		return s.Capitalization
	case CategorySyntax:
		return s.Syntax
	case CategoryCoherence:
		return s.Coherence
	}
	return 0
}

// Set stores the score for a category, clamped to [0,100].
func (s *AccuracySnapshot) Set(c Category, v int) {
	v = ClampScore(v)
	switch c {
	case CategoryGrammar:
		s.Grammar = v
	case CategoryVocabulary:
		s.Vocabulary = v
	case CategorySpelling:
		s.Spelling = v
	case CategoryFluency:
		s.Fluency = v
	case CategoryPunctuation:
		s.Punctuation = v
	case CategoryCapitalization:
		s.Capitalization = v
	case CategorySyntax:
		s.Syntax = v
	case CategoryCoherence:
		s.Coherence = v
	}
}

// Clamp forces every field into [0,100] in place.
func (s *AccuracySnapshot) Clamp() {
	s.Overall = ClampScore(s.Overall)
	s.AdjustedOverall = ClampScore(s.AdjustedOverall)
	for _, c := range Categories {
		s.Set(c, s.Get(c))
	}
}

// ClampScore bounds a score to [0,100].
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// CoerceScore converts an untrusted float score into a valid integer score.
// NaN, infinities and negative values become 0; values above 100 become 100.
// Malformed analyzer output degrades to zero rather than aborting aggregation.
func CoerceScore(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return ClampScore(int(math.Round(v)))
}

// RawScores is the untrusted per-category score mapping received from the
// analyzers. Values are validated and coerced at the boundary into an
// AccuracySnapshot.
type RawScores map[Category]float64

// Snapshot coerces raw analyzer scores into a clamped snapshot. The overall
// value, if supplied, is coerced the same way; absent entries default to 0.
func (r RawScores) Snapshot() AccuracySnapshot {
	var s AccuracySnapshot
	for _, c := range Categories {
		if v, ok := r[c]; ok {
			s.Set(c, CoerceScore(v))
		}
	}
	if v, ok := r["overall"]; ok {
		s.Overall = CoerceScore(v)
	}
	s.AdjustedOverall = s.Overall
	return s
}

// AggregatedProfile is the durable per-user accuracy state.
type AggregatedProfile struct {
	UserID          string           `json:"user_id"`
	NMessages       int              `json:"n_messages"`
	Scores          AccuracySnapshot `json:"scores"`
	ConfidenceScore int              `json:"confidence_score"`
	LastUpdated     time.Time        `json:"last_updated"`
}

// TrendDirection classifies the recent movement of a user's overall score.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDeclining TrendDirection = "declining"
	TrendStable    TrendDirection = "stable"
)

// Trend summarizes recent score movement for a user.
type Trend struct {
	Direction     TrendDirection `json:"direction"`
	Confidence    float64        `json:"confidence"`
	RecentAverage float64        `json:"recent_average"`
}

// HistoricalContext is the Redis-resident trend record for a user. It is
// created lazily on first aggregation and refreshed on every aggregation.
type HistoricalContext struct {
	UserID       string           `json:"user_id"`
	MessageCount int              `json:"message_count"`
	Overall      int              `json:"overall"`
	Categories   AccuracySnapshot `json:"categories"`
	Trend        Trend            `json:"trend"`
	LastUpdated  time.Time        `json:"last_updated"`
}

// Statistics carries the analyzer error counters for one message.
type Statistics struct {
	ErrorCount         int `json:"error_count"`
	CriticalErrorCount int `json:"critical_error_count"`
}

// LanguageSummary is the language-detection result for one message.
type LanguageSummary struct {
	PrimaryLanguage         string  `json:"primary_language"`
	EnglishRatio            float64 `json:"english_ratio"`
	LatinRatio              float64 `json:"latin_ratio"`
	RecognizedWordRatio     float64 `json:"recognized_word_ratio"`
	EnglishWordCount        int     `json:"english_word_count"`
	ShouldSkipEnglishChecks bool    `json:"should_skip_english_checks"`
	ShouldRelaxGrammar      bool    `json:"should_relax_grammar"`
}

// ErrorSeverity grades a synthetic quality-gate error.
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "critical"
	SeverityMajor    ErrorSeverity = "major"
	SeverityMinor    ErrorSeverity = "minor"
)

// SyntheticError records why the quality gate reduced or zeroed scores.
type SyntheticError struct {
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Severity ErrorSeverity `json:"severity"`
}

// AnalysisTier controls how many analyzers run for a request.
type AnalysisTier string

const (
	TierFree    AnalysisTier = "free"
	TierPremium AnalysisTier = "premium"
)

// AnalysisDepth reports how thoroughly a message was analyzed.
type AnalysisDepth string

const (
	DepthFull  AnalysisDepth = "full"
	DepthBasic AnalysisDepth = "basic"
	DepthError AnalysisDepth = "error"
)

// ResponseStatus is the outcome class of a coordinator call.
type ResponseStatus string

const (
	StatusSuccess  ResponseStatus = "success"
	StatusPartial  ResponseStatus = "partial"
	StatusDeferred ResponseStatus = "deferred"
	StatusError    ResponseStatus = "error"
)

// AnalyzeRequest is the single entry-point payload for score submission.
type AnalyzeRequest struct {
	RequestID  string           `json:"request_id,omitempty"`
	UserID     string           `json:"user_id"`
	Tier       AnalysisTier     `json:"tier,omitempty"`
	Text       string           `json:"text"`
	Scores     RawScores        `json:"scores"`
	Statistics *Statistics      `json:"statistics,omitempty"`
	Language   *LanguageSummary `json:"language,omitempty"`
}

// AnalyzeResponse is the structured result every caller receives. Callers
// never see internal errors; failures are expressed through Status.
type AnalyzeResponse struct {
	Status          ResponseStatus     `json:"status"`
	Message         string             `json:"message,omitempty"`
	TraceID         string             `json:"trace_id"`
	AnalysisDepth   AnalysisDepth      `json:"analysis_depth"`
	Confidence      int                `json:"confidence"`
	RetryAfter      int                `json:"retry_after,omitempty"`
	MessageAnalysis *AccuracySnapshot  `json:"message_analysis,omitempty"`
	Profile         *AggregatedProfile `json:"profile,omitempty"`
	Errors          []SyntheticError   `json:"errors,omitempty"`
	ProcessingMs    int64              `json:"processing_ms"`
}
