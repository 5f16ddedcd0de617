// Package coordinator is the single entry point for score submission. It
// wraps the gate/aggregate/cache pipeline with idempotency, per-user
// in-flight de-duplication, and soft admission control. Nothing below the
// coordinator propagates an error to the caller; every outcome is expressed
// through the response status.
package coordinator

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lingokit/accuracyd/internal/gate"
	"github.com/lingokit/accuracyd/internal/history"
	"github.com/lingokit/accuracyd/internal/jobqueue"
	"github.com/lingokit/accuracyd/internal/kv"
	"github.com/lingokit/accuracyd/internal/metrics"
	"github.com/lingokit/accuracyd/internal/realtime"
	"github.com/lingokit/accuracyd/pkg/models"
)

// Config defines the coordinator limits.
type Config struct {
	MaxInFlight       int           `json:"max_in_flight" yaml:"max_in_flight"`
	RetryAfterSeconds int           `json:"retry_after_seconds" yaml:"retry_after_seconds"`
	IdempotencyTTL    time.Duration `json:"idempotency_ttl" yaml:"idempotency_ttl"`
}

// DefaultConfig returns the production limits.
func DefaultConfig() *Config {
	return &Config{
		MaxInFlight:       1000,
		RetryAfterSeconds: 5,
		IdempotencyTTL:    24 * time.Hour,
	}
}

// Blender is the authoritative aggregation algorithm consumed by the
// coordinator. *aggregator.Aggregator implements it; tests substitute a
// counting stub.
type Blender interface {
	Aggregate(current, previous models.AccuracySnapshot, messageCount int, trend *models.Trend, stats *models.Statistics) models.AccuracySnapshot
	UpdateTrend(prev *models.Trend, currOverall, prevOverall, messageCount int) models.Trend
	ConfidenceScore(nMessages int) int
}

type inflight struct {
	done chan struct{}
	resp models.AnalyzeResponse
}

// Coordinator guarantees at most one concurrent aggregation per user.
type Coordinator struct {
	cfg     *Config
	gate    *gate.Gate
	blender Blender
	history *history.Store
	cache   *realtime.Service
	idem    kv.KV
	queue   *jobqueue.Publisher
	metrics *metrics.Metrics

	mu       sync.Mutex
	pending  map[string]*inflight
	inFlight int64
}

// New creates a coordinator. A nil config selects the production limits.
func New(cfg *Config, g *gate.Gate, blender Blender, hist *history.Store, cache *realtime.Service, idem kv.KV, queue *jobqueue.Publisher, m *metrics.Metrics) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Coordinator{
		cfg:     cfg,
		gate:    g,
		blender: blender,
		history: hist,
		cache:   cache,
		idem:    idem,
		queue:   queue,
		metrics: m,
		pending: make(map[string]*inflight),
	}
}

func idempotencyKey(requestID string) string {
	return "accuracy:idem:" + requestID
}

// Handle processes one score submission. It never returns an error: capacity
// problems surface as status=deferred, internal failures as status=error
// with a generic message.
func (c *Coordinator) Handle(ctx context.Context, req models.AnalyzeRequest) models.AnalyzeResponse {
	start := time.Now()
	traceID := uuid.NewString()

	if req.UserID == "" {
		resp := models.AnalyzeResponse{
			Status:        models.StatusError,
			Message:       "user id is required",
			TraceID:       traceID,
			AnalysisDepth: models.DepthError,
			ProcessingMs:  time.Since(start).Milliseconds(),
		}
		c.observe(resp, start)
		return resp
	}

	// Retried requests are served from the idempotency cache unchanged
	// except for latency metadata.
	if req.RequestID != "" {
		if data, ok := c.idem.Get(ctx, idempotencyKey(req.RequestID)); ok {
			var cached models.AnalyzeResponse
			if err := json.Unmarshal(data, &cached); err == nil {
				c.metrics.IdempotencyHits.Inc()
				cached.ProcessingMs = time.Since(start).Milliseconds()
				return cached
			}
			log.Printf("[Coordinator] Corrupt idempotency record for %s, recomputing", req.RequestID)
		}
	}

	// Join an in-flight computation for the same user instead of starting a
	// second one.
	c.mu.Lock()
	if fl, exists := c.pending[req.UserID]; exists {
		c.mu.Unlock()
		c.metrics.DedupJoinsTotal.Inc()
		select {
		case <-fl.done:
			resp := fl.resp
			resp.ProcessingMs = time.Since(start).Milliseconds()
			return resp
		case <-ctx.Done():
			return models.AnalyzeResponse{
				Status:        models.StatusError,
				Message:       "request cancelled",
				TraceID:       traceID,
				AnalysisDepth: models.DepthError,
				ProcessingMs:  time.Since(start).Milliseconds(),
			}
		}
	}

	// Admission control: decline new work at capacity rather than queueing.
	if atomic.LoadInt64(&c.inFlight) >= int64(c.cfg.MaxInFlight) {
		c.mu.Unlock()
		c.metrics.DeferredTotal.Inc()
		resp := models.AnalyzeResponse{
			Status:        models.StatusDeferred,
			Message:       "system at capacity, retry later",
			TraceID:       traceID,
			RetryAfter:    c.cfg.RetryAfterSeconds,
			AnalysisDepth: models.DepthBasic,
			ProcessingMs:  time.Since(start).Milliseconds(),
		}
		c.observe(resp, start)
		return resp
	}

	fl := &inflight{done: make(chan struct{})}
	c.pending[req.UserID] = fl
	atomic.AddInt64(&c.inFlight, 1)
	c.metrics.InFlight.Set(float64(atomic.LoadInt64(&c.inFlight)))
	c.mu.Unlock()

	resp := c.process(ctx, req, traceID)
	resp.ProcessingMs = time.Since(start).Milliseconds()

	fl.resp = resp
	c.mu.Lock()
	delete(c.pending, req.UserID)
	c.mu.Unlock()
	close(fl.done)
	atomic.AddInt64(&c.inFlight, -1)
	c.metrics.InFlight.Set(float64(atomic.LoadInt64(&c.inFlight)))

	// Best-effort idempotency store so retries of this request replay the
	// same payload.
	if req.RequestID != "" && resp.Status != models.StatusDeferred {
		if data, err := json.Marshal(resp); err == nil {
			if err := c.idem.Set(ctx, idempotencyKey(req.RequestID), data, c.cfg.IdempotencyTTL); err != nil {
				log.Printf("[Coordinator] Best-effort idempotency store for %s failed: %v", req.RequestID, err)
			}
		}
	}

	c.observe(resp, start)
	return resp
}

// process runs the gate -> history -> aggregate -> cache pipeline. Internal
// failures degrade per the error taxonomy; they never escape as errors.
func (c *Coordinator) process(ctx context.Context, req models.AnalyzeRequest, traceID string) models.AnalyzeResponse {
	depth := models.DepthFull
	snapshot := req.Scores.Snapshot()

	// Lower tiers skip the deep analyzers; their categories stay zero.
	if req.Tier != models.TierPremium {
		snapshot.Syntax = 0
		snapshot.Coherence = 0
		depth = models.DepthBasic
	}

	gated, synthErrors := c.gate.Apply(req.Text, snapshot, req.Language)

	previous, err := c.cache.InitializeUser(ctx, req.UserID)
	if err != nil {
		log.Printf("[Coordinator] trace=%s user=%s initialization failed: %v", traceID, req.UserID, err)
		return models.AnalyzeResponse{
			Status:          models.StatusError,
			Message:         "analysis temporarily unavailable",
			TraceID:         traceID,
			AnalysisDepth:   models.DepthError,
			MessageAnalysis: &models.AccuracySnapshot{},
		}
	}

	messageCount := previous.NMessages
	var trend *models.Trend
	if hc := c.history.Load(ctx, req.UserID); hc != nil {
		trend = &hc.Trend
		if hc.MessageCount > messageCount {
			messageCount = hc.MessageCount
		}
	}

	blended := c.blender.Aggregate(gated, previous.Scores, messageCount, trend, req.Statistics)

	profile := models.AggregatedProfile{
		UserID:          req.UserID,
		NMessages:       messageCount + 1,
		Scores:          blended,
		ConfidenceScore: c.blender.ConfidenceScore(messageCount + 1),
		LastUpdated:     time.Now().UTC(),
	}
	c.cache.SetAuthoritative(ctx, profile)

	newTrend := c.blender.UpdateTrend(trend, blended.Overall, previous.Scores.Overall, profile.NMessages)
	c.history.Save(ctx, &models.HistoricalContext{
		UserID:       req.UserID,
		MessageCount: profile.NMessages,
		Overall:      blended.Overall,
		Categories:   blended,
		Trend:        newTrend,
	})

	if err := c.queue.PublishProfile(ctx, &jobqueue.ProfileEvent{
		UserID:    req.UserID,
		Profile:   profile,
		Message:   gated,
		TraceID:   traceID,
		Timestamp: profile.LastUpdated,
	}); err != nil {
		log.Printf("[Coordinator] trace=%s best-effort profile publish failed: %v", traceID, err)
	}

	status := models.StatusSuccess
	if len(synthErrors) > 0 {
		status = models.StatusPartial
	}

	return models.AnalyzeResponse{
		Status:          status,
		TraceID:         traceID,
		AnalysisDepth:   depth,
		Confidence:      c.confidence(depth, profile.ConfidenceScore),
		MessageAnalysis: &gated,
		Profile:         &profile,
		Errors:          synthErrors,
	}
}

// confidence combines the analysis depth base with the profile's own
// confidence, taking the larger of the two.
func (c *Coordinator) confidence(depth models.AnalysisDepth, profileConfidence int) int {
	base := 70
	if depth == models.DepthFull {
		base = 90
	}
	if profileConfidence > base {
		return profileConfidence
	}
	return base
}

func (c *Coordinator) observe(resp models.AnalyzeResponse, start time.Time) {
	c.metrics.RequestsTotal.WithLabelValues(string(resp.Status), string(resp.AnalysisDepth)).Inc()
	c.metrics.RequestDuration.WithLabelValues(string(resp.Status)).Observe(time.Since(start).Seconds())
	log.Printf("[Coordinator] trace=%s status=%s depth=%s confidence=%d inflight=%d took=%dms",
		resp.TraceID, resp.Status, resp.AnalysisDepth, resp.Confidence,
		atomic.LoadInt64(&c.inFlight), resp.ProcessingMs)
}

// InFlight reports the current number of running aggregations.
func (c *Coordinator) InFlight() int {
	return int(atomic.LoadInt64(&c.inFlight))
}
