package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"assetedge/config"
	"assetedge/protocol"
	"assetedge/queue"
	"assetedge/store"
	"assetedge/syncer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memBackend keeps assets in memory and can be switched offline.
type memBackend struct {
	mu      sync.Mutex
	down    bool
	assets  map[string]protocol.Asset
	checked map[string]string
	scans   map[string]bool
}

func newMemBackend() *memBackend {
	return &memBackend{
		assets:  make(map[string]protocol.Asset),
		checked: make(map[string]string),
		scans:   make(map[string]bool),
	}
}

var errDown = errors.New("dial tcp: connection refused")

func (b *memBackend) setDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

func (b *memBackend) guard() error {
	if b.down {
		return errDown
	}
	return nil
}

func (b *memBackend) CreateAsset(_ context.Context, a protocol.Asset, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.guard(); err != nil {
		return err
	}
	if _, ok := b.assets[a.ID]; !ok {
		b.assets[a.ID] = a
	}
	return nil
}

func (b *memBackend) UpdateAsset(_ context.Context, id string, fields map[string]any, ts time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.guard(); err != nil {
		return err
	}
	a := b.assets[id]
	if s, ok := fields["status"].(string); ok {
		a.Status = s
	}
	a.UpdatedAt = ts
	b.assets[id] = a
	return nil
}

func (b *memBackend) DeleteAsset(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.guard(); err != nil {
		return err
	}
	delete(b.assets, id)
	return nil
}

func (b *memBackend) CheckAsset(_ context.Context, id, user, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.guard(); err != nil {
		return err
	}
	b.checked[id] = user
	return nil
}

func (b *memBackend) UncheckAsset(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.guard(); err != nil {
		return err
	}
	delete(b.checked, id)
	return nil
}

func (b *memBackend) AppendScanRecord(_ context.Context, scanID, _, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.guard(); err != nil {
		return err
	}
	b.scans[scanID] = true
	return nil
}

func (b *memBackend) ListAssets(context.Context) ([]protocol.Asset, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.guard(); err != nil {
		return nil, err
	}
	out := make([]protocol.Asset, 0, len(b.assets))
	for _, a := range b.assets {
		if u, ok := b.checked[a.ID]; ok {
			a.Checked, a.CheckedBy = true, u
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *memBackend) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.guard()
}

func (b *memBackend) Subscribe(context.Context, []string, func(protocol.RowChanged)) error {
	return nil
}

func (b *memBackend) asset(id string) (protocol.Asset, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.assets[id]
	return a, ok
}

// loopBroker delivers publishes to subscribers synchronously.
type loopBroker struct {
	mu        sync.Mutex
	handlers  map[string]func([]byte)
	published int
}

func (l *loopBroker) Publish(_ context.Context, topic string, payload []byte) error {
	l.mu.Lock()
	h := l.handlers[topic]
	l.published++
	l.mu.Unlock()
	if h != nil {
		h(payload)
	}
	return nil
}

func (l *loopBroker) Subscribe(topic string, handler func([]byte)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handlers == nil {
		l.handlers = make(map[string]func([]byte))
	}
	l.handlers[topic] = handler
	return nil
}

func (l *loopBroker) Unsubscribe(topic string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, topic)
}

func (l *loopBroker) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.published
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.ActingUser = "alice"
	cfg.Sync.ProbeInterval = time.Hour
	cfg.Sync.CallTimeout = time.Second
	cfg.Sync.Debounce = 10 * time.Millisecond
	return cfg
}

func openTestDB(t *testing.T) (string, func() (*store.DB, error)) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edge.db")
	return path, func() (*store.DB, error) {
		db, err := store.Open(path)
		if err != nil {
			return nil, err
		}
		t.Cleanup(func() { db.Close() })
		return db, nil
	}
}

func startEngine(t *testing.T, b *memBackend, broker *loopBroker) *Engine {
	t.Helper()
	_, open := openTestDB(t)
	c := Config{
		AppConfig: testConfig(),
		OpenDB:    open,
		Backend:   b,
		LogFunc:   t.Logf,
	}
	if broker != nil {
		c.Broker = broker
	}
	e := New(c)
	require.NoError(t, e.Start())
	t.Cleanup(e.Stop)
	return e
}

func TestStartFailsWhenStoreUnavailable(t *testing.T) {
	e := New(Config{
		AppConfig: testConfig(),
		OpenDB:    func() (*store.DB, error) { return nil, errors.New("disk full") },
		Backend:   newMemBackend(),
	})
	err := e.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrStoreUnavailable)
	e.Stop()

	_, err = e.SyncNow(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestStartRecoversInterruptedActions(t *testing.T) {
	path, open := openTestDB(t)

	db, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, db.PutAction(context.Background(), store.QueuedAction{
		ID: "0001-stuck", Type: string(queue.DeleteAsset), Payload: []byte(`{"asset_id":"A9"}`),
		EnqueuedAt: time.Now(), Status: string(queue.StatusSyncing),
	}))
	require.NoError(t, db.Close())

	b := newMemBackend()
	b.setDown(true)
	e := New(Config{AppConfig: testConfig(), OpenDB: open, Backend: b})
	require.NoError(t, e.Start())
	defer e.Stop()

	a, err := e.queue.Get(context.Background(), "0001-stuck")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, a.Status)
}

func TestOfflineEditsReplayOnReconnect(t *testing.T) {
	b := newMemBackend()
	b.setDown(true)
	broker := &loopBroker{}
	e := startEngine(t, b, broker)
	ctx := context.Background()

	require.False(t, e.Online())

	var mu sync.Mutex
	var statuses []syncer.SyncStatus
	e.Events.SubscribeTypes(func(evt Event) {
		mu.Lock()
		statuses = append(statuses, evt.Payload.(SyncStatusEvent).Status)
		mu.Unlock()
	}, EventSyncStatus)

	out, err := e.Assets().CreateAsset(ctx, protocol.Asset{ID: "A1", Code: "LAP-001", Name: "Laptop"}, "")
	require.NoError(t, err)
	assert.True(t, out.Queued)
	_, err = e.Assets().UpdateAsset(ctx, "A1", map[string]any{"status": "Tốt"}, "")
	require.NoError(t, err)
	_, err = e.Assets().CheckAsset(ctx, "A1", "", "")
	require.NoError(t, err)

	st, err := e.SyncStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Pending)
	assert.False(t, st.Online)

	b.setDown(false)
	e.prober.Probe()

	require.Eventually(t, func() bool {
		st, err := e.SyncStatus(ctx)
		return err == nil && st.Pending == 0 && !st.InFlight
	}, 2*time.Second, 10*time.Millisecond)

	a, ok := b.asset("A1")
	require.True(t, ok)
	assert.Equal(t, "Tốt", a.Status)

	mu.Lock()
	assert.Equal(t, []syncer.SyncStatus{syncer.StatusSyncing, syncer.StatusSuccess}, statuses)
	mu.Unlock()

	// The pass refreshes the snapshot and tells other terminals.
	require.Eventually(t, func() bool {
		snap, ok := e.Cache().Get()
		return ok && len(snap.Items) == 1 && snap.Items[0].Checked
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return broker.count() >= 1 }, time.Second, 10*time.Millisecond)
}

func TestOnlineEditGoesDirect(t *testing.T) {
	b := newMemBackend()
	broker := &loopBroker{}
	e := startEngine(t, b, broker)
	require.True(t, e.Online())

	out, err := e.Assets().CreateAsset(context.Background(), protocol.Asset{ID: "A2", Code: "MON-1"}, "")
	require.NoError(t, err)
	assert.False(t, out.Queued)
	_, ok := b.asset("A2")
	assert.True(t, ok)

	n, err := e.queue.Count(context.Background(), queue.StatusPending)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.Eventually(t, func() bool { return broker.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestConnectivityEventsReachBus(t *testing.T) {
	b := newMemBackend()
	e := startEngine(t, b, nil)

	var got []ConnectivityEvent
	e.Events.SubscribeTypes(func(evt Event) {
		got = append(got, evt.Payload.(ConnectivityEvent))
	}, EventConnectivity)

	b.setDown(true)
	e.prober.Probe()
	b.setDown(false)
	e.prober.Probe()

	require.Len(t, got, 2)
	assert.False(t, got[0].Online)
	assert.NotEmpty(t, got[0].Error)
	assert.True(t, got[1].Online)
}

func TestForegroundRefreshesExpiredSnapshot(t *testing.T) {
	b := newMemBackend()
	e := startEngine(t, b, nil)
	require.NoError(t, b.CreateAsset(context.Background(), protocol.Asset{ID: "A3", Code: "X"}, ""))

	assert.True(t, e.Cache().Expired())
	e.Foreground()
	require.Eventually(t, func() bool {
		snap, ok := e.Cache().Get()
		return ok && len(snap.Items) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManualRetryRefreshesSnapshot(t *testing.T) {
	b := newMemBackend()
	broker := &loopBroker{}
	e := startEngine(t, b, broker)
	ctx := context.Background()
	require.NoError(t, b.CreateAsset(ctx, protocol.Asset{ID: "A7", Code: "CAM-7"}, ""))

	// Left over from an earlier pass that gave up.
	id, err := e.queue.Enqueue(ctx, queue.CheckAsset, queue.CheckAssetPayload{AssetID: "A7", ActingUser: "bob"})
	require.NoError(t, err)
	failed := queue.StatusFailed
	_, err = e.queue.Update(ctx, id, queue.Patch{Status: &failed})
	require.NoError(t, err)

	require.NoError(t, e.Dispatcher().RetrySingleAction(ctx, id))
	require.Eventually(t, func() bool {
		snap, ok := e.Cache().Get()
		return ok && len(snap.Items) == 1 && snap.Items[0].CheckedBy == "bob"
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return broker.count() >= 1 }, time.Second, 10*time.Millisecond)
}

func TestOnlineEditWaitsForBacklog(t *testing.T) {
	b := newMemBackend()
	e := startEngine(t, b, nil)
	ctx := context.Background()
	require.True(t, e.Online())

	// Queued offline; the drain has not run yet.
	_, err := e.queue.Enqueue(ctx, queue.CreateAsset, queue.CreateAssetPayload{
		Asset: protocol.Asset{ID: "A8", Code: "PRN-8"}, ActingUser: "alice",
	})
	require.NoError(t, err)

	out, err := e.Assets().UpdateAsset(ctx, "A8", map[string]any{"status": "Hỏng"}, "")
	require.NoError(t, err)
	assert.True(t, out.Queued)

	require.Eventually(t, func() bool {
		st, err := e.SyncStatus(ctx)
		return err == nil && st.Pending == 0 && !st.InFlight
	}, 2*time.Second, 10*time.Millisecond)
	a, ok := b.asset("A8")
	require.True(t, ok)
	assert.Equal(t, "Hỏng", a.Status)
}
