// Package realtime is the low-latency per-user profile cache. It owns the
// in-process map of cache entries, mirrors every update to Redis best-effort,
// and reconciles durable storage in the background via autosave. It is not
// shared across service instances; see the deployment notes in DESIGN.md.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/lingokit/accuracyd/internal/kv"
	"github.com/lingokit/accuracyd/internal/metrics"
	"github.com/lingokit/accuracyd/internal/store"
	"github.com/lingokit/accuracyd/pkg/models"
)

// CacheEntry is the in-memory mirror of one user's aggregated profile.
// IsDirty marks unflushed changes relative to durable storage.
type CacheEntry struct {
	Profile models.AggregatedProfile `json:"profile"`
	IsDirty bool                     `json:"is_dirty"`
}

// Config defines the realtime cache tuning.
type Config struct {
	AutosavePeriod time.Duration `json:"autosave_period" yaml:"autosave_period"`
	RedisTTL       time.Duration `json:"redis_ttl" yaml:"redis_ttl"`

	// SmoothingCurrent is the current-message share used for the
	// continuously-scored categories (fluency, coherence) instead of the
	// cumulative average.
	SmoothingCurrent float64 `json:"smoothing_current" yaml:"smoothing_current"`
}

// DefaultConfig returns sensible defaults for the realtime cache.
func DefaultConfig() *Config {
	return &Config{
		AutosavePeriod:   30 * time.Second,
		RedisTTL:         1 * time.Hour,
		SmoothingCurrent: 0.7,
	}
}

// Service is the fast realtime cache. It must be constructed with New and
// shut down with Shutdown so dirty entries are not lost.
type Service struct {
	cfg     *Config
	mirror  kv.KV
	durable store.ProfileStore
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]*CacheEntry

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates the cache service and starts the autosave loop.
func New(cfg *Config, mirror kv.KV, durable store.ProfileStore, m *metrics.Metrics) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Service{
		cfg:     cfg,
		mirror:  mirror,
		durable: durable,
		metrics: m,
		entries: make(map[string]*CacheEntry),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if cfg.AutosavePeriod > 0 {
		go s.autosaveLoop()
	} else {
		close(s.doneCh)
	}
	return s
}

func realtimeKey(userID string) string {
	return "accuracy:realtime:" + userID
}

// InitializeUser loads a user's entry through the fallback chain: in-process
// map, Redis mirror, durable store, zeroed defaults. Exactly one path
// executes; the result is written back to the map and the mirror.
func (s *Service) InitializeUser(ctx context.Context, userID string) (*models.AggregatedProfile, error) {
	s.mu.RLock()
	entry, exists := s.entries[userID]
	s.mu.RUnlock()
	if exists {
		s.metrics.CacheHits.WithLabelValues("memory").Inc()
		profile := entry.Profile
		return &profile, nil
	}
	s.metrics.CacheMisses.WithLabelValues("memory").Inc()

	entry = s.loadFallback(ctx, userID)

	s.mu.Lock()
	// Another goroutine may have initialized the user while we were loading.
	if existing, ok := s.entries[userID]; ok {
		entry = existing
	} else {
		s.entries[userID] = entry
	}
	profile := entry.Profile
	s.mu.Unlock()

	s.mirrorEntry(ctx, userID, entry)
	return &profile, nil
}

func (s *Service) loadFallback(ctx context.Context, userID string) *CacheEntry {
	if data, ok := s.mirror.Get(ctx, realtimeKey(userID)); ok {
		var entry CacheEntry
		if err := json.Unmarshal(data, &entry); err == nil {
			s.metrics.CacheHits.WithLabelValues("redis").Inc()
			return &entry
		}
		log.Printf("[Realtime] Corrupt redis entry for %s, falling back to durable store", userID)
	}
	s.metrics.CacheMisses.WithLabelValues("redis").Inc()

	profile, err := s.durable.FindProfile(ctx, userID)
	if err != nil {
		log.Printf("[Realtime] Durable read for %s failed, starting from defaults: %v", userID, err)
	}
	if profile != nil {
		s.metrics.CacheHits.WithLabelValues("durable").Inc()
		return &CacheEntry{Profile: *profile}
	}
	s.metrics.CacheMisses.WithLabelValues("durable").Inc()

	return &CacheEntry{Profile: models.AggregatedProfile{UserID: userID}}
}

// Update folds new scores into the cached profile using the fast cumulative
// average. This is the low-latency display path; callers that need the
// authoritative trend-aware blend install it via SetAuthoritative instead.
func (s *Service) Update(ctx context.Context, userID string, scores models.AccuracySnapshot) (*models.AggregatedProfile, error) {
	if _, err := s.InitializeUser(ctx, userID); err != nil {
		return nil, err
	}
	scores.Clamp()

	s.mu.Lock()
	entry := s.entries[userID]
	entry.Profile.NMessages++
	n := float64(entry.Profile.NMessages)

	for _, c := range models.Categories {
		oldVal := float64(entry.Profile.Scores.Get(c))
		newVal := float64(scores.Get(c))
		var avg float64
		switch c {
		case models.CategoryFluency, models.CategoryCoherence:
			// Continuous scores track the present more closely.
			if entry.Profile.NMessages == 1 {
				avg = newVal
			} else {
				avg = s.cfg.SmoothingCurrent*newVal + (1-s.cfg.SmoothingCurrent)*oldVal
			}
		default:
			avg = (oldVal*(n-1) + newVal) / n
		}
		entry.Profile.Scores.Set(c, models.CoerceScore(avg))
	}
	entry.Profile.Scores.Overall = models.CoerceScore((float64(entry.Profile.Scores.Overall)*(n-1) + float64(scores.Overall)) / n)
	entry.Profile.Scores.AdjustedOverall = models.CoerceScore((float64(entry.Profile.Scores.AdjustedOverall)*(n-1) + float64(scores.AdjustedOverall)) / n)
	entry.Profile.LastUpdated = time.Now().UTC()
	entry.IsDirty = true
	profile := entry.Profile
	s.mu.Unlock()

	s.updateDirtyGauge()
	s.mirrorEntry(ctx, userID, &CacheEntry{Profile: profile, IsDirty: true})
	return &profile, nil
}

// SetAuthoritative installs the output of the weighted aggregator as the
// cached profile. The message count must already be post-increment.
func (s *Service) SetAuthoritative(ctx context.Context, profile models.AggregatedProfile) {
	s.mu.Lock()
	entry, exists := s.entries[profile.UserID]
	if !exists {
		entry = &CacheEntry{}
		s.entries[profile.UserID] = entry
	}
	if profile.NMessages < entry.Profile.NMessages {
		// Message counts are monotonic; never let a stale write roll one back.
		profile.NMessages = entry.Profile.NMessages
	}
	entry.Profile = profile
	entry.IsDirty = true
	s.mu.Unlock()

	s.updateDirtyGauge()
	s.mirrorEntry(ctx, profile.UserID, &CacheEntry{Profile: profile, IsDirty: true})
}

// Get returns the cached profile without touching Redis or durable storage.
func (s *Service) Get(userID string) (*models.AggregatedProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, exists := s.entries[userID]
	if !exists {
		return nil, false
	}
	profile := entry.Profile
	return &profile, true
}

// ForceSave synchronously flushes one user's entry to durable storage. Used
// on logout and shutdown so unflushed state is not lost.
func (s *Service) ForceSave(ctx context.Context, userID string) bool {
	s.mu.RLock()
	entry, exists := s.entries[userID]
	var profile models.AggregatedProfile
	dirty := false
	if exists {
		profile = entry.Profile
		dirty = entry.IsDirty
	}
	s.mu.RUnlock()

	if !exists || !dirty {
		return exists
	}
	return s.flush(ctx, userID, &profile)
}

// Cleanup force-saves and removes a user's entry, e.g. on logout.
func (s *Service) Cleanup(ctx context.Context, userID string) {
	s.ForceSave(ctx, userID)

	s.mu.Lock()
	delete(s.entries, userID)
	s.mu.Unlock()

	if err := s.mirror.Delete(ctx, realtimeKey(userID)); err != nil {
		log.Printf("[Realtime] Best-effort mirror delete for %s failed: %v", userID, err)
	}
	s.updateDirtyGauge()
}

// Shutdown stops the autosave loop and flushes all dirty entries once.
func (s *Service) Shutdown(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
	s.flushDirty(ctx)
}

func (s *Service) autosaveLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cfg.AutosavePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flushDirty(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// flushDirty writes every dirty entry to durable storage, clearing the dirty
// flag only on confirmed success. A failed flush leaves the entry dirty for
// the next tick; re-flushing unchanged data is harmless.
func (s *Service) flushDirty(ctx context.Context) {
	type pending struct {
		userID  string
		profile models.AggregatedProfile
	}

	s.mu.RLock()
	dirty := make([]pending, 0, len(s.entries))
	for userID, entry := range s.entries {
		if entry.IsDirty {
			dirty = append(dirty, pending{userID: userID, profile: entry.Profile})
		}
	}
	s.mu.RUnlock()

	for _, p := range dirty {
		s.flush(ctx, p.userID, &p.profile)
	}
	s.updateDirtyGauge()
}

func (s *Service) flush(ctx context.Context, userID string, profile *models.AggregatedProfile) bool {
	if err := s.durable.UpsertProfile(ctx, profile); err != nil {
		s.metrics.AutosaveFlushes.WithLabelValues("failure").Inc()
		log.Printf("[Realtime] Durable flush for %s failed, entry stays dirty: %v", userID, err)
		return false
	}
	s.metrics.AutosaveFlushes.WithLabelValues("success").Inc()

	s.mu.Lock()
	if entry, exists := s.entries[userID]; exists {
		// Only clear the flag if nothing changed while the write was in
		// flight; a newer update must survive until its own flush.
		if entry.Profile.LastUpdated.Equal(profile.LastUpdated) {
			entry.IsDirty = false
		}
	}
	s.mu.Unlock()
	s.updateDirtyGauge()
	return true
}

func (s *Service) mirrorEntry(ctx context.Context, userID string, entry *CacheEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[Realtime] Failed to encode entry for %s: %v", userID, err)
		return
	}
	if err := s.mirror.Set(ctx, realtimeKey(userID), data, s.cfg.RedisTTL); err != nil {
		log.Printf("[Realtime] Best-effort mirror write for %s failed: %v", userID, err)
	}
}

func (s *Service) updateDirtyGauge() {
	s.mu.RLock()
	dirty := 0
	for _, entry := range s.entries {
		if entry.IsDirty {
			dirty++
		}
	}
	s.mu.RUnlock()
	s.metrics.DirtyEntries.Set(float64(dirty))
}

// DirtyCount reports how many entries have unflushed changes.
func (s *Service) DirtyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, entry := range s.entries {
		if entry.IsDirty {
			n++
		}
	}
	return n
}
