// Package api is the thin HTTP boundary in front of the request
// coordinator. It decodes and validates payloads and maps coordinator
// statuses to HTTP codes; all real behavior lives below it.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lingokit/accuracyd/internal/coordinator"
	"github.com/lingokit/accuracyd/internal/realtime"
	"github.com/lingokit/accuracyd/pkg/models"
)

// Server represents the HTTP API server.
type Server struct {
	coordinator *coordinator.Coordinator
	cache       *realtime.Service
}

// NewServer creates a new API server.
func NewServer(c *coordinator.Coordinator, cache *realtime.Service) *Server {
	return &Server{coordinator: c, cache: cache}
}

// SetupRoutes configures HTTP routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/v1/profiles/", s.handleProfile)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// handleAnalyze handles POST /api/v1/analyze - score submission.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	resp := s.coordinator.Handle(r.Context(), req)

	status := http.StatusOK
	switch resp.Status {
	case models.StatusDeferred:
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", formatRetryAfter(resp.RetryAfter))
	case models.StatusError:
		status = http.StatusUnprocessableEntity
	}
	s.respondJSON(w, status, resp)
}

// handleProfile handles:
//
//	GET    /api/v1/profiles/{id}        - cached profile lookup
//	POST   /api/v1/profiles/{id}/flush  - synchronous durable flush
//	DELETE /api/v1/profiles/{id}        - logout cleanup
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/profiles/")
	userID, action, _ := strings.Cut(rest, "/")
	if userID == "" {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "user id is required"})
		return
	}

	switch {
	case r.Method == http.MethodGet && action == "":
		profile, found := s.cache.Get(userID)
		if !found {
			var err error
			profile, err = s.cache.InitializeUser(r.Context(), userID)
			if err != nil {
				s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "profile unavailable"})
				return
			}
		}
		s.respondJSON(w, http.StatusOK, profile)

	case r.Method == http.MethodPost && action == "flush":
		saved := s.cache.ForceSave(r.Context(), userID)
		s.respondJSON(w, http.StatusOK, map[string]bool{"saved": saved})

	case r.Method == http.MethodDelete && action == "":
		s.cache.Cleanup(r.Context(), userID)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"in_flight": s.coordinator.InFlight(),
		"dirty":     s.cache.DirtyCount(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func formatRetryAfter(seconds int) string {
	if seconds <= 0 {
		seconds = 5
	}
	return strconv.Itoa(seconds)
}
