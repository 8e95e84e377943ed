// Package ratelimit spaces outbound requests to each upstream source.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter guarantees that two granted acquisitions are never closer than
// minInterval. Callers are serialized on mu while they wait, so grants are
// strictly ordered.
type Limiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	last        time.Time

	now func() time.Time
}

// NewLimiter creates a limiter with the given minimum spacing.
func NewLimiter(minInterval time.Duration) *Limiter {
	return &Limiter{
		minInterval: minInterval,
		now:         time.Now,
	}
}

// MinInterval returns the configured spacing.
func (l *Limiter) MinInterval() time.Duration {
	return l.minInterval
}

// Acquire blocks until minInterval has elapsed since the previous grant and
// records the new grant time. It returns the time spent waiting. If ctx is
// cancelled while waiting no grant is recorded and ctx.Err() is returned.
func (l *Limiter) Acquire(ctx context.Context) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var waited time.Duration
	if !l.last.IsZero() {
		if wait := l.last.Add(l.minInterval).Sub(l.now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
				waited = wait
			case <-ctx.Done():
				timer.Stop()
				return 0, ctx.Err()
			}
		}
	}

	l.last = l.now()
	return waited, nil
}

// Group owns one Limiter per source id.
type Group struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	fallback time.Duration
}

// NewGroup creates a group whose unknown sources use the fallback interval.
func NewGroup(intervals map[string]time.Duration, fallback time.Duration) *Group {
	g := &Group{
		limiters: make(map[string]*Limiter, len(intervals)),
		fallback: fallback,
	}
	for source, interval := range intervals {
		g.limiters[source] = NewLimiter(interval)
	}
	return g
}

// For returns the limiter for source, creating it on first use.
func (g *Group) For(source string) *Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if l, ok := g.limiters[source]; ok {
		return l
	}
	l := NewLimiter(g.fallback)
	g.limiters[source] = l
	return l
}

// Acquire is shorthand for g.For(source).Acquire(ctx).
func (g *Group) Acquire(ctx context.Context, source string) (time.Duration, error) {
	return g.For(source).Acquire(ctx)
}
