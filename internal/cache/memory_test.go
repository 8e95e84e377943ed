package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestMemory(opts Options) (*Memory[string], *clock) {
	c := &clock{t: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)}
	m := NewMemory[string](opts)
	m.now = c.now
	return m, c
}

func TestMemoryGetAfterPut(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(Options{TTL: time.Hour})

	_, ok := m.Get(ctx, "q=despido")
	assert.False(t, ok)

	m.Put(ctx, "q=despido", "result")
	v, ok := m.Get(ctx, "q=despido")
	require.True(t, ok)
	assert.Equal(t, "result", v)
}

func TestMemoryExpiresAtTTL(t *testing.T) {
	ctx := context.Background()
	m, c := newTestMemory(Options{TTL: time.Hour})

	m.Put(ctx, "k", "v")
	c.advance(time.Hour - time.Second)
	_, ok := m.Get(ctx, "k")
	assert.True(t, ok, "still fresh just before ttl")

	c.advance(time.Second)
	_, ok = m.Get(ctx, "k")
	assert.False(t, ok, "absent once age == ttl")

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)
}

func TestMemoryZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	m, c := newTestMemory(Options{})
	m.Put(ctx, "k", "v")
	c.advance(365 * 24 * time.Hour)
	_, ok := m.Get(ctx, "k")
	assert.True(t, ok)
}

func TestMemoryPutOverwrites(t *testing.T) {
	ctx := context.Background()
	m, c := newTestMemory(Options{TTL: time.Hour})
	m.Put(ctx, "k", "old")
	c.advance(50 * time.Minute)
	m.Put(ctx, "k", "new")
	c.advance(50 * time.Minute)

	v, ok := m.Get(ctx, "k")
	require.True(t, ok, "overwrite refreshes storedAt")
	assert.Equal(t, "new", v)
}

func TestMemoryClearAndStats(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(Options{TTL: time.Hour})
	m.Put(ctx, "b", "2")
	m.Put(ctx, "a", "1")

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, []string{"a", "b"}, stats.Keys)

	require.NoError(t, m.Clear(ctx))
	stats, err = m.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)
}

func TestMemoryMaxEntriesEvictsOldest(t *testing.T) {
	ctx := context.Background()
	m, c := newTestMemory(Options{TTL: time.Hour, MaxEntries: 2})

	m.Put(ctx, "first", "1")
	c.advance(time.Second)
	m.Put(ctx, "second", "2")
	c.advance(time.Second)
	m.Put(ctx, "third", "3")

	_, ok := m.Get(ctx, "first")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "second")
	assert.True(t, ok)
	_, ok = m.Get(ctx, "third")
	assert.True(t, ok)
}

func TestMemoryConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := NewMemory[int](Options{TTL: time.Minute})

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%5)
			m.Put(ctx, key, i)
			m.Get(ctx, key)
		}()
	}
	wg.Wait()

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Entries)
}
