// Package cache provides TTL response caches for the upstream source clients.
package cache

import (
	"context"
	"time"
)

// Cache maps a normalized query key to a result. A Get must report a miss
// once the entry is at least TTL old.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Put(ctx context.Context, key string, value V)
	Inspector
}

// Inspector exposes the observability and admin side of a cache without its
// value type, so caches of different types can be listed together.
type Inspector interface {
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
}

// Stats describes the current cache contents.
type Stats struct {
	Backend string        `json:"backend"`
	Entries int           `json:"entries"`
	Keys    []string      `json:"keys"`
	TTL     time.Duration `json:"ttl"`
}

// Options configure a cache instance.
type Options struct {
	TTL time.Duration
	// MaxEntries bounds the memory backend; the oldest entry is evicted when
	// full. Zero means unbounded.
	MaxEntries int
	// Now overrides the memory backend's clock. Redis expires keys itself.
	Now func() time.Time
}
