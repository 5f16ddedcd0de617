// Package history tracks per-user trend state. Redis holds the always-fresh
// copy; durable storage is only written every Nth update to bound write
// amplification under high message rates.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lingokit/accuracyd/internal/kv"
	"github.com/lingokit/accuracyd/internal/metrics"
	"github.com/lingokit/accuracyd/internal/store"
	"github.com/lingokit/accuracyd/pkg/models"
)

const (
	// DefaultFlushEvery is how many updates pass between durable flushes.
	DefaultFlushEvery = 5

	// redisTTL bounds how stale an orphaned Redis record can get.
	redisTTL = 1 * time.Hour
)

// Store is the historical context cache/trend tracker.
type Store struct {
	mirror     kv.KV
	durable    store.HistoryStore
	metrics    *metrics.Metrics
	flushEvery int
}

// New creates a historical context store. flushEvery <= 0 selects the
// default durable flush interval.
func New(mirror kv.KV, durable store.HistoryStore, m *metrics.Metrics, flushEvery int) *Store {
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	return &Store{
		mirror:     mirror,
		durable:    durable,
		metrics:    m,
		flushEvery: flushEvery,
	}
}

func historyKey(userID string) string {
	return "accuracy:history:" + userID
}

// Load returns the user's historical context, checking Redis first and
// falling back to durable storage. A user with no history returns nil; so
// does any backend failure, which the aggregator treats as "no prior
// history" for that call only.
func (s *Store) Load(ctx context.Context, userID string) *models.HistoricalContext {
	if data, ok := s.mirror.Get(ctx, historyKey(userID)); ok {
		var hc models.HistoricalContext
		if err := json.Unmarshal(data, &hc); err == nil {
			s.metrics.CacheHits.WithLabelValues("redis").Inc()
			return &hc
		}
		log.Printf("[History] Corrupt redis record for %s, falling back to durable store", userID)
	}
	s.metrics.CacheMisses.WithLabelValues("redis").Inc()

	hc, err := s.durable.FindHistory(ctx, userID)
	if err != nil {
		log.Printf("[History] Durable read for %s failed, treating as no history: %v", userID, err)
		return nil
	}
	if hc == nil {
		return nil
	}

	// Re-warm the mirror so the next call stays off the durable store.
	if err := s.writeMirror(ctx, hc); err != nil {
		log.Printf("[History] Best-effort mirror warm for %s failed: %v", userID, err)
	}
	s.metrics.CacheHits.WithLabelValues("durable").Inc()
	return hc
}

// Save refreshes the Redis mirror on every call and flushes to durable
// storage only when the message count crosses a flush boundary. Durable
// write failures are logged and absorbed; the record is retried on a later
// boundary, and Redis stays fresh in between.
func (s *Store) Save(ctx context.Context, hc *models.HistoricalContext) {
	hc.LastUpdated = time.Now().UTC()

	if err := s.writeMirror(ctx, hc); err != nil {
		log.Printf("[History] Best-effort mirror write for %s failed: %v", hc.UserID, err)
	}

	if hc.MessageCount%s.flushEvery != 0 {
		return
	}

	if err := s.durable.UpsertHistory(ctx, hc); err != nil {
		s.metrics.HistoryFlushes.WithLabelValues("failure").Inc()
		log.Printf("[History] Durable flush for %s failed, will retry on a later boundary: %v", hc.UserID, err)
		return
	}
	s.metrics.HistoryFlushes.WithLabelValues("success").Inc()
}

func (s *Store) writeMirror(ctx context.Context, hc *models.HistoricalContext) error {
	data, err := json.Marshal(hc)
	if err != nil {
		return fmt.Errorf("failed to encode history for %s: %w", hc.UserID, err)
	}
	return s.mirror.Set(ctx, historyKey(hc.UserID), data, redisTTL)
}
