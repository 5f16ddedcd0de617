package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lingokit/accuracyd/internal/aggregator"
	"github.com/lingokit/accuracyd/internal/coordinator"
	"github.com/lingokit/accuracyd/internal/gate"
	"github.com/lingokit/accuracyd/internal/history"
	"github.com/lingokit/accuracyd/internal/kv"
	"github.com/lingokit/accuracyd/internal/metrics"
	"github.com/lingokit/accuracyd/internal/realtime"
	"github.com/lingokit/accuracyd/internal/store"
	"github.com/lingokit/accuracyd/pkg/models"
)

// nullStore satisfies store.Store with no durable backend at all.
type nullStore struct{}

func (nullStore) FindProfile(ctx context.Context, userID string) (*models.AggregatedProfile, error) {
	return nil, nil
}
func (nullStore) UpsertProfile(ctx context.Context, profile *models.AggregatedProfile) error {
	return nil
}
func (nullStore) FindHistory(ctx context.Context, userID string) (*models.HistoricalContext, error) {
	return nil, nil
}
func (nullStore) UpsertHistory(ctx context.Context, hc *models.HistoricalContext) error { return nil }

var _ store.Store = nullStore{}

func newTestServer() http.Handler {
	m := metrics.NewMetrics()
	mirror := kv.NewMemory()
	durable := nullStore{}
	cache := realtime.New(&realtime.Config{RedisTTL: time.Hour, SmoothingCurrent: 0.7}, mirror, durable, m)
	hist := history.New(mirror, durable, m, 5)
	agg := aggregator.New(nil)
	coord := coordinator.New(nil, gate.New(nil), agg, hist, cache, kv.NewMemory(), nil, m)
	return NewServer(coord, cache).SetupRoutes()
}

func postJSON(t *testing.T, handler http.Handler, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeEndpoint(t *testing.T) {
	handler := newTestServer()

	rec := postJSON(t, handler, "/api/v1/analyze", models.AnalyzeRequest{
		UserID: "alice",
		Tier:   models.TierPremium,
		Text:   "The quick brown fox jumps over the lazy dog.",
		Scores: models.RawScores{
			models.CategoryGrammar: 85,
			"overall":              83,
		},
		Language: &models.LanguageSummary{
			LatinRatio:          1.0,
			RecognizedWordRatio: 0.95,
			EnglishWordCount:    9,
		},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	var resp models.AnalyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != models.StatusSuccess {
		t.Errorf("status = %s, want success", resp.Status)
	}
	if resp.Profile == nil || resp.Profile.NMessages != 1 {
		t.Errorf("profile = %+v, want nMessages 1", resp.Profile)
	}
}

func TestAnalyzeRejectsBadRequests(t *testing.T) {
	handler := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}

	rec = postJSON(t, handler, "/api/v1/analyze", models.AnalyzeRequest{Text: "hi"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing user id status = %d, want 422", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/analyze", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}
}

func TestProfileEndpoints(t *testing.T) {
	handler := newTestServer()

	// Unknown users are initialized with defaults rather than 404ing; the
	// client cannot distinguish "new" from "existing but empty".
	req := httptest.NewRequest(http.MethodGet, "/api/v1/profiles/bob", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile get status = %d, want 200", rec.Code)
	}
	var profile models.AggregatedProfile
	if err := json.Unmarshal(rec.Body.Bytes(), &profile); err != nil {
		t.Fatalf("failed to decode profile: %v", err)
	}
	if profile.UserID != "bob" || profile.NMessages != 0 {
		t.Errorf("profile = %+v, want fresh bob profile", profile)
	}

	rec = postJSON(t, handler, "/api/v1/profiles/bob/flush", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("flush status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/profiles/bob", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/profiles/", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty user id status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode healthz body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}
