// Package store caches analysis reports by dataset fingerprint and loads
// datasets from external sources. A repeated submission of byte-identical
// data is served from the cache instead of refitting the models.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/fab-analytics/uplift/internal/pipeline"
)

// Store provides idempotent report caching keyed by dataset fingerprint.
type Store interface {
	// Get retrieves a cached report by fingerprint. Returns nil if not found.
	Get(ctx context.Context, fingerprint string) (*pipeline.Report, error)

	// Set stores a report with TTL. First write wins.
	Set(ctx context.Context, fingerprint string, report *pipeline.Report, ttl time.Duration) error

	// Close releases resources
	Close() error
}

// MemoryStore is an in-memory report cache for single-node deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	store map[string]*entry
}

type entry struct {
	Report    *pipeline.Report
	ExpiresAt time.Time
}

// NewMemoryStore creates an in-memory report cache
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{store: make(map[string]*entry)}
}

func (m *MemoryStore) Get(ctx context.Context, fingerprint string) (*pipeline.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.store[fingerprint]
	if !ok {
		return nil, nil
	}

	if time.Now().After(e.ExpiresAt) {
		return nil, nil // expired
	}

	return e.Report, nil
}

func (m *MemoryStore) Set(ctx context.Context, fingerprint string, report *pipeline.Report, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// First write wins
	if e, exists := m.store[fingerprint]; exists {
		if time.Now().Before(e.ExpiresAt) {
			return nil
		}
	}

	m.store[fingerprint] = &entry{
		Report:    report,
		ExpiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
