package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lingokit/accuracyd/internal/kv"
	"github.com/lingokit/accuracyd/internal/metrics"
	"github.com/lingokit/accuracyd/pkg/models"
)

type stubHistoryStore struct {
	mu      sync.Mutex
	records map[string]models.HistoricalContext
	failing bool
	upserts int
	finds   int
}

func newStubHistoryStore() *stubHistoryStore {
	return &stubHistoryStore{records: make(map[string]models.HistoricalContext)}
}

func (s *stubHistoryStore) FindHistory(ctx context.Context, userID string) (*models.HistoricalContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if s.failing {
		return nil, errors.New("store unavailable")
	}
	if hc, ok := s.records[userID]; ok {
		return &hc, nil
	}
	return nil, nil
}

func (s *stubHistoryStore) UpsertHistory(ctx context.Context, hc *models.HistoricalContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("store unavailable")
	}
	s.upserts++
	s.records[hc.UserID] = *hc
	return nil
}

func (s *stubHistoryStore) counts() (finds, upserts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds, s.upserts
}

func TestLoadUnknownUserReturnsNil(t *testing.T) {
	s := New(kv.NewMemory(), newStubHistoryStore(), metrics.NewMetrics(), 5)
	if hc := s.Load(context.Background(), "nobody"); hc != nil {
		t.Errorf("Load = %+v, want nil for unknown user", hc)
	}
}

func TestLoadPrefersMirrorOverDurable(t *testing.T) {
	durable := newStubHistoryStore()
	durable.records["u1"] = models.HistoricalContext{UserID: "u1", MessageCount: 3}
	mirror := kv.NewMemory()
	s := New(mirror, durable, metrics.NewMetrics(), 5)
	ctx := context.Background()

	fresh := models.HistoricalContext{UserID: "u1", MessageCount: 8, Overall: 72}
	data, _ := json.Marshal(fresh)
	mirror.Set(ctx, historyKey("u1"), data, time.Hour)

	hc := s.Load(ctx, "u1")
	if hc == nil || hc.MessageCount != 8 {
		t.Fatalf("Load = %+v, want the mirror record", hc)
	}
	if finds, _ := durable.counts(); finds != 0 {
		t.Errorf("durable finds = %d, want 0 on a mirror hit", finds)
	}
}

func TestLoadDurableFallbackWarmsMirror(t *testing.T) {
	durable := newStubHistoryStore()
	durable.records["u2"] = models.HistoricalContext{UserID: "u2", MessageCount: 12, Overall: 66}
	mirror := kv.NewMemory()
	s := New(mirror, durable, metrics.NewMetrics(), 5)
	ctx := context.Background()

	hc := s.Load(ctx, "u2")
	if hc == nil || hc.MessageCount != 12 {
		t.Fatalf("Load = %+v, want the durable record", hc)
	}

	// The next Load is served from the mirror.
	s.Load(ctx, "u2")
	if finds, _ := durable.counts(); finds != 1 {
		t.Errorf("durable finds = %d, want 1; second Load should hit the mirror", finds)
	}
}

func TestLoadDurableFailureIsNoHistory(t *testing.T) {
	durable := newStubHistoryStore()
	durable.failing = true
	s := New(kv.NewMemory(), durable, metrics.NewMetrics(), 5)

	if hc := s.Load(context.Background(), "u3"); hc != nil {
		t.Errorf("Load = %+v, want nil when the durable store is down", hc)
	}
}

func TestSaveFlushesDurablyEveryNth(t *testing.T) {
	durable := newStubHistoryStore()
	mirror := kv.NewMemory()
	s := New(mirror, durable, metrics.NewMetrics(), 5)
	ctx := context.Background()

	for count := 1; count <= 12; count++ {
		s.Save(ctx, &models.HistoricalContext{UserID: "u4", MessageCount: count})
	}

	// Counts 5 and 10 cross flush boundaries.
	if _, upserts := durable.counts(); upserts != 2 {
		t.Errorf("durable upserts = %d, want 2 for 12 saves with flushEvery=5", upserts)
	}

	// The mirror always carries the latest record regardless of boundaries.
	data, ok := mirror.Get(ctx, historyKey("u4"))
	if !ok {
		t.Fatal("mirror record missing after Save")
	}
	var hc models.HistoricalContext
	if err := json.Unmarshal(data, &hc); err != nil {
		t.Fatalf("failed to decode mirror record: %v", err)
	}
	if hc.MessageCount != 12 {
		t.Errorf("mirror messageCount = %d, want 12", hc.MessageCount)
	}
	if durable.records["u4"].MessageCount != 10 {
		t.Errorf("durable messageCount = %d, want 10 (last boundary)", durable.records["u4"].MessageCount)
	}
}

func TestSaveDefaultsFlushInterval(t *testing.T) {
	s := New(kv.NewMemory(), newStubHistoryStore(), metrics.NewMetrics(), 0)
	if s.flushEvery != DefaultFlushEvery {
		t.Errorf("flushEvery = %d, want %d", s.flushEvery, DefaultFlushEvery)
	}
}
