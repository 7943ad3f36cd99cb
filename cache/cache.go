// Package cache holds the time-boxed snapshot of the asset collection.
package cache

import (
	"sync"
	"time"

	"assetedge/protocol"
)

// DefaultTTL is how long a snapshot stays valid after Set.
const DefaultTTL = 5 * time.Minute

// Snapshot is one fetched copy of the asset collection.
type Snapshot struct {
	Items     []protocol.Asset `json:"items"`
	FetchedAt time.Time        `json:"fetched_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Cache is the process-wide read cache. It is safe for concurrent use.
type Cache struct {
	ttl     time.Duration
	now     func() time.Time
	metrics *Metrics

	mu          sync.RWMutex
	snap        *Snapshot
	invalidated bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics records hits, misses and invalidations.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates an empty cache. A ttl <= 0 uses DefaultTTL.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	return c
}

// TTL returns the configured time to live.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the snapshot while it is valid. An expired, invalidated or
// never-set snapshot reports false.
func (c *Cache) Get() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil || c.invalidated || !c.now().Before(c.snap.ExpiresAt) {
		c.metrics.misses.Inc()
		return Snapshot{}, false
	}
	c.metrics.hits.Inc()
	return c.copySnap(), true
}

// Set replaces the snapshot wholesale and restarts its TTL.
func (c *Cache) Set(items []protocol.Asset) Snapshot {
	now := c.now()
	snap := &Snapshot{
		Items:     append([]protocol.Asset(nil), items...),
		FetchedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.mu.Lock()
	c.snap = snap
	c.invalidated = false
	out := c.copySnap()
	c.mu.Unlock()
	return out
}

// Invalidate makes the next Get miss regardless of TTL.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.invalidated = true
	c.mu.Unlock()
	c.metrics.invalidations.Inc()
}

// Patch lets a caller splice optimistic edits into the held items ahead of
// the next authoritative refresh. The stamps and validity are untouched. It
// reports false when nothing is held.
func (c *Cache) Patch(fn func(items []protocol.Asset) []protocol.Asset) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return false
	}
	c.snap.Items = fn(append([]protocol.Asset(nil), c.snap.Items...))
	return true
}

// Peek returns whatever is held, valid or not.
func (c *Cache) Peek() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return Snapshot{}, false
	}
	return c.copySnap(), true
}

// ExpiresAt returns the expiry of the held snapshot, zero if none.
func (c *Cache) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return time.Time{}
	}
	return c.snap.ExpiresAt
}

// Expired reports whether the TTL has elapsed or nothing is held.
// Invalidation does not count as expiry.
func (c *Cache) Expired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap == nil || !c.now().Before(c.snap.ExpiresAt)
}

// copySnap copies the held snapshot. Caller holds mu.
func (c *Cache) copySnap() Snapshot {
	s := *c.snap
	s.Items = append([]protocol.Asset(nil), s.Items...)
	return s
}
