// Package kv is the shared Redis mirror used by the realtime cache, the
// historical context store, and the coordinator's idempotency cache. All
// backends are best-effort: a backend failure is reported as a miss, never
// as a fatal error.
package kv

import (
	"context"
	"sync"
	"time"
)

// KV is a minimal TTL'd key-value backend.
type KV interface {
	// Get returns the stored bytes, or ok=false on miss or backend error.
	Get(ctx context.Context, key string) (value []byte, ok bool)
	// Set stores bytes under key with a TTL. Errors are returned so callers
	// can log them, but callers must treat them as non-fatal.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes a key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process KV used by tests and as a degraded fallback when
// no Redis address is configured.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemory creates an empty in-process KV.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

// Get implements KV.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	entry, exists := m.entries[key]
	m.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

// Set implements KV.
func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = memoryEntry{value: value, expiresAt: expires}
	m.mu.Unlock()
	return nil
}

// Delete implements KV.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}
