package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis is a shared cache backend for deployments running several replicas.
// Values are stored as JSON under prefix+key with a native TTL.
type Redis[V any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis creates a redis-backed cache. prefix namespaces the keys per source.
func NewRedis[V any](client *redis.Client, prefix string, opts Options) *Redis[V] {
	return &Redis[V]{client: client, prefix: prefix, ttl: opts.TTL}
}

// Get returns the cached value. Redis errors are logged and reported as misses.
func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("key", key).Msg("Redis cache get failed")
		}
		return zero, false
	}

	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Dropping undecodable cache entry")
		return zero, false
	}
	return v, true
}

// Put stores value with the configured TTL (no expiry if TTL <= 0).
func (r *Redis[V]) Put(ctx context.Context, key string, value V) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cannot encode cache entry")
		return
	}
	ttl := r.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.prefix+key, data, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Redis cache put failed")
	}
}

// Clear deletes every key under the prefix.
func (r *Redis[V]) Clear(ctx context.Context) error {
	keys, err := r.scan(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// Stats lists the keys under the prefix, with the prefix stripped.
func (r *Redis[V]) Stats(ctx context.Context) (Stats, error) {
	keys, err := r.scan(ctx)
	if err != nil {
		return Stats{}, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, r.prefix)
	}
	sort.Strings(keys)
	return Stats{Backend: "redis", Entries: len(keys), Keys: keys, TTL: r.ttl}, nil
}

func (r *Redis[V]) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}
