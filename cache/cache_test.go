package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetedge/protocol"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newCache(t *testing.T) (*Cache, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	return New(DefaultTTL, WithClock(clk.Now)), clk
}

func TestGetEmpty(t *testing.T) {
	c, _ := newCache(t)
	_, ok := c.Get()
	assert.False(t, ok)
	assert.True(t, c.Expired())
	assert.True(t, c.ExpiresAt().IsZero())
}

func TestSetThenGet(t *testing.T) {
	c, clk := newCache(t)
	c.Set([]protocol.Asset{{ID: "1"}, {ID: "2"}})

	snap, ok := c.Get()
	require.True(t, ok)
	assert.Len(t, snap.Items, 2)
	assert.Equal(t, clk.Now(), snap.FetchedAt)
	assert.Equal(t, clk.Now().Add(5*time.Minute), snap.ExpiresAt)
}

func TestTTLBoundary(t *testing.T) {
	c, clk := newCache(t)
	c.Set([]protocol.Asset{{ID: "item1"}, {ID: "item2"}})

	clk.Advance(4*time.Minute + 59*time.Second)
	snap, ok := c.Get()
	require.True(t, ok)
	assert.Len(t, snap.Items, 2)
	assert.False(t, c.Expired())

	clk.Advance(2 * time.Second)
	_, ok = c.Get()
	assert.False(t, ok)
	assert.True(t, c.Expired())
}

func TestExpiresExactlyAtTTL(t *testing.T) {
	c, clk := newCache(t)
	c.Set(nil)
	clk.Advance(DefaultTTL)
	_, ok := c.Get()
	assert.False(t, ok)
}

func TestInvalidateForcesMiss(t *testing.T) {
	c, _ := newCache(t)
	c.Set([]protocol.Asset{{ID: "1"}})
	c.Invalidate()

	_, ok := c.Get()
	assert.False(t, ok)
	// Invalidation is not expiry.
	assert.False(t, c.Expired())

	c.Set([]protocol.Asset{{ID: "2"}})
	snap, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, "2", snap.Items[0].ID)
}

func TestPatchKeepsStamps(t *testing.T) {
	c, clk := newCache(t)
	assert.False(t, c.Patch(func(items []protocol.Asset) []protocol.Asset { return items }))

	before := c.Set([]protocol.Asset{{ID: "1"}, {ID: "2"}})
	clk.Advance(time.Minute)

	ok := c.Patch(func(items []protocol.Asset) []protocol.Asset {
		for i := range items {
			if items[i].ID == "2" {
				items[i].Checked = true
				items[i].CheckedBy = "alice"
			}
		}
		return items
	})
	require.True(t, ok)

	snap, ok := c.Get()
	require.True(t, ok)
	assert.True(t, snap.Items[1].Checked)
	assert.Equal(t, before.FetchedAt, snap.FetchedAt)
	assert.Equal(t, before.ExpiresAt, snap.ExpiresAt)
}

func TestGetReturnsCopy(t *testing.T) {
	c, _ := newCache(t)
	c.Set([]protocol.Asset{{ID: "1", Name: "drill"}})
	snap, _ := c.Get()
	snap.Items[0].Name = "mutated"

	again, _ := c.Get()
	assert.Equal(t, "drill", again.Items[0].Name)
}

func TestPeekIgnoresValidity(t *testing.T) {
	c, clk := newCache(t)
	c.Set([]protocol.Asset{{ID: "1"}})
	clk.Advance(time.Hour)
	snap, ok := c.Peek()
	require.True(t, ok)
	assert.Len(t, snap.Items, 1)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	c := New(0, WithMetrics(m))
	assert.Equal(t, DefaultTTL, c.TTL())

	c.Get()
	c.Set(nil)
	c.Get()
	c.Invalidate()

	families, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range families {
		got[mf.GetName()] = mf.GetMetric()[0].GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{
		"assetedge_cache_hits_total":          1,
		"assetedge_cache_misses_total":        1,
		"assetedge_cache_invalidations_total": 1,
	}, got)
}
