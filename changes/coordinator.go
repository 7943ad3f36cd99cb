// Package changes decides when the asset snapshot must be invalidated and
// refetched.
package changes

import (
	"context"
	"log"
	"sync"
	"time"

	"assetedge/protocol"
	"assetedge/syncer"
)

// DefaultDebounce coalesces bursts of remote change notices.
const DefaultDebounce = 500 * time.Millisecond

// Cache is the part of the read cache the coordinator drives.
type Cache interface {
	Invalidate()
	Expired() bool
}

// RefreshFunc fetches the collection authoritatively and stores it.
type RefreshFunc func(ctx context.Context) error

// Source is a feed of remote change notices.
type Source interface {
	Subscribe(ctx context.Context, tables []string, fn func(protocol.RowChanged)) error
}

// WatchedTables are the tables the asset snapshot is built from.
var WatchedTables = []string{protocol.TableAssets, protocol.TableChecks}

// Coordinator routes remote changes, foreground transitions and sync
// completions to cache invalidation and refresh.
type Coordinator struct {
	cache    Cache
	refresh  RefreshFunc
	debounce time.Duration

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	timer      *time.Timer
	syncing    bool
	deferred   bool
	refreshing bool
	again      bool
	stopped    bool
	wg         sync.WaitGroup
}

// New creates a coordinator. A debounce <= 0 uses DefaultDebounce.
func New(c Cache, refresh RefreshFunc, debounce time.Duration) *Coordinator {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cache:    c,
		refresh:  refresh,
		debounce: debounce,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to src. Notices arrive on HandleRemoteChange until Stop.
func (c *Coordinator) Start(ctx context.Context, src Source) error {
	c.mu.Lock()
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(ctx)
	subCtx := c.ctx
	c.mu.Unlock()

	return src.Subscribe(subCtx, WatchedTables, c.HandleRemoteChange)
}

// Stop cancels the subscription and pending timers and waits for a running
// refresh to return.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.cancel()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// HandleRemoteChange schedules a debounced invalidate and refresh for
// changes to watched tables. Other tables are ignored.
func (c *Coordinator) HandleRemoteChange(rc protocol.RowChanged) {
	if !rc.Relevant() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, c.fire)
}

func (c *Coordinator) fire() {
	c.mu.Lock()
	c.timer = nil
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.syncing {
		// Applied once when the pass completes.
		c.deferred = true
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.invalidateAndRefresh("remote change")
}

// HandleSyncStarted marks a sync pass as running. Remote changes that settle
// during the pass wait for it to complete.
func (c *Coordinator) HandleSyncStarted() {
	c.mu.Lock()
	c.syncing = true
	c.mu.Unlock()
}

// HandleSyncCompleted refreshes once when the pass delivered something or a
// remote change was held back during it.
func (c *Coordinator) HandleSyncCompleted(res syncer.Result) {
	c.mu.Lock()
	c.syncing = false
	deferred := c.deferred
	c.deferred = false
	c.mu.Unlock()

	if res.SuccessCount > 0 || deferred {
		c.invalidateAndRefresh("sync completed")
	}
}

// HandleLocalChange refreshes after a queued action reached the backend
// outside a sync pass. During a pass it waits for the pass to complete.
func (c *Coordinator) HandleLocalChange() {
	c.mu.Lock()
	if c.syncing {
		c.deferred = true
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.invalidateAndRefresh("local change")
}

// HandleForeground refreshes if the snapshot's TTL has lapsed.
func (c *Coordinator) HandleForeground() {
	if c.cache.Expired() {
		c.startRefresh("foreground")
	}
}

func (c *Coordinator) invalidateAndRefresh(reason string) {
	c.cache.Invalidate()
	c.startRefresh(reason)
}

// startRefresh runs refresh in the background. A request arriving while one
// runs is folded into a single follow-up run.
func (c *Coordinator) startRefresh(reason string) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.refreshing {
		c.again = true
		c.mu.Unlock()
		return
	}
	c.refreshing = true
	ctx := c.ctx
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		for {
			if err := c.refresh(ctx); err != nil {
				log.Printf("changes: refresh after %s: %v", reason, err)
			}
			c.mu.Lock()
			if !c.again || c.stopped {
				c.refreshing = false
				c.again = false
				c.mu.Unlock()
				return
			}
			c.again = false
			c.mu.Unlock()
		}
	}()
}

// Sources fans a subscription out to several feeds. A feed that fails to
// subscribe is logged and skipped; the error is returned only when none
// subscribed.
type Sources []Source

func (s Sources) Subscribe(ctx context.Context, tables []string, fn func(protocol.RowChanged)) error {
	var firstErr error
	ok := 0
	for _, src := range s {
		if err := src.Subscribe(ctx, tables, fn); err != nil {
			log.Printf("changes: subscribe: %v", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ok++
	}
	if ok == 0 && firstErr != nil {
		return firstErr
	}
	return nil
}
