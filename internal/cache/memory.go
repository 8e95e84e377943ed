package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Memory is an in-process cache. It is not persisted and empties on restart.
type Memory[V any] struct {
	mu         sync.RWMutex
	entries    map[string]entry[V]
	ttl        time.Duration
	maxEntries int

	now func() time.Time
}

// NewMemory creates an in-memory cache. A non-positive TTL disables expiry.
func NewMemory[V any](opts Options) *Memory[V] {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Memory[V]{
		entries:    make(map[string]entry[V]),
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		now:        now,
	}
}

// Get returns the cached value, or false if absent or expired.
func (m *Memory[V]) Get(_ context.Context, key string) (V, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	var zero V
	if !ok || m.expired(e) {
		return zero, false
	}
	return e.value, true
}

// Put stores value under key, overwriting any previous entry.
func (m *Memory[V]) Put(_ context.Context, key string, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		m.evictLocked()
	}
	m.entries[key] = entry[V]{value: value, storedAt: m.now()}
}

// Clear drops every entry.
func (m *Memory[V]) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]entry[V])
	return nil
}

// Stats lists the live (non-expired) keys.
func (m *Memory[V]) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if !m.expired(e) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return Stats{Backend: "memory", Entries: len(keys), Keys: keys, TTL: m.ttl}, nil
}

func (m *Memory[V]) expired(e entry[V]) bool {
	return m.ttl > 0 && m.now().Sub(e.storedAt) >= m.ttl
}

// evictLocked removes expired entries, or failing that the oldest one.
// Must be called while holding m.mu.
func (m *Memory[V]) evictLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
		removed   bool
	)
	for k, e := range m.entries {
		if m.expired(e) {
			delete(m.entries, k)
			removed = true
			continue
		}
		if oldestKey == "" || e.storedAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.storedAt
		}
	}
	if !removed && oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}
