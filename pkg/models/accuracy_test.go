package models

import (
	"math"
	"testing"
)

func TestCoerceScore(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{50, 50},
		{49.5, 50},
		{-12, 0},
		{150, 100},
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{math.Inf(-1), 0},
	}
	for _, tc := range cases {
		if got := CoerceScore(tc.in); got != tc.want {
			t.Errorf("CoerceScore(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestRawScoresSnapshot(t *testing.T) {
	raw := RawScores{
		CategoryGrammar:    88.6,
		CategoryVocabulary: -5,
		CategorySpelling:   math.NaN(),
		CategoryFluency:    300,
		"overall":          77.2,
	}
	s := raw.Snapshot()

	if s.Grammar != 89 {
		t.Errorf("grammar = %d, want 89", s.Grammar)
	}
	if s.Vocabulary != 0 {
		t.Errorf("vocabulary = %d, want 0", s.Vocabulary)
	}
	if s.Spelling != 0 {
		t.Errorf("spelling = %d, want 0 for NaN input", s.Spelling)
	}
	if s.Fluency != 100 {
		t.Errorf("fluency = %d, want 100", s.Fluency)
	}
	if s.Overall != 77 || s.AdjustedOverall != 77 {
		t.Errorf("overall = %d/%d, want 77/77", s.Overall, s.AdjustedOverall)
	}
	// Absent categories default to zero, not omitted.
	if s.Syntax != 0 || s.Punctuation != 0 {
		t.Errorf("absent categories should be 0, got syntax=%d punctuation=%d", s.Syntax, s.Punctuation)
	}
}

func TestSnapshotGetSetRoundTrip(t *testing.T) {
	var s AccuracySnapshot
	for i, c := range Categories {
		s.Set(c, 10*i)
	}
	for i, c := range Categories {
		want := ClampScore(10 * i)
		if got := s.Get(c); got != want {
			t.Errorf("Get(%s) = %d, want %d", c, got, want)
		}
	}
}

func TestClampInPlace(t *testing.T) {
	s := AccuracySnapshot{Overall: 180, AdjustedOverall: -4, Grammar: 101, Coherence: -1}
	s.Clamp()
	if s.Overall != 100 || s.AdjustedOverall != 0 || s.Grammar != 100 || s.Coherence != 0 {
		t.Errorf("Clamp() = %+v, want all fields in [0,100]", s)
	}
}
