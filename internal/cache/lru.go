package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Memo is a size-bounded, thread-safe memoization cache.
//
// The exposure index uses it to avoid recomputing window sums when the
// interval builder and the panel builder request overlapping windows for the
// same entity. Entries live for the duration of one analysis run, so there
// is no TTL: the cache is discarded with the index that owns it.
type Memo[K comparable, V any] struct {
	inner  *lru.Cache[K, V]
	mu     sync.Mutex
	hits   uint64
	misses uint64
}

// NewMemo creates a memoization cache holding at most size entries.
func NewMemo[K comparable, V any](size int) (*Memo[K, V], error) {
	inner, err := lru.New[K, V](size)
	if err != nil {
		return nil, err
	}
	return &Memo[K, V]{inner: inner}, nil
}

// Get returns the cached value for key, if present.
func (m *Memo[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.inner.Get(key)
	if ok {
		m.hits++
	} else {
		m.misses++
	}
	return v, ok
}

// Put stores a value, evicting the least recently used entry when full.
func (m *Memo[K, V]) Put(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inner.Add(key, value)
}

// Len returns the number of cached entries.
func (m *Memo[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inner.Len()
}

// Stats reports hit/miss counts accumulated since creation.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

func (m *Memo[K, V]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Hits: m.hits, Misses: m.misses}
}
