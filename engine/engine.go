package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"assetedge/assets"
	"assetedge/backend"
	"assetedge/cache"
	"assetedge/changes"
	"assetedge/config"
	"assetedge/messaging"
	"assetedge/queue"
	"assetedge/store"
	"assetedge/syncer"
)

// LogFunc is the logging callback signature.
type LogFunc func(format string, args ...interface{})

// ErrNotStarted is returned by operations that need the subsystems Start builds.
var ErrNotStarted = errors.New("engine not started")

// Engine owns the queue store, read cache and sync machinery for one
// terminal, and routes events between them.
type Engine struct {
	cfg      *config.Config
	openDB   func() (*store.DB, error)
	remote   backend.Backend
	broker   messaging.Broker
	registry prometheus.Registerer
	logFn    LogFunc
	debugFn  LogFunc

	db          *store.DB
	queue       *queue.Manager
	cache       *cache.Cache
	loader      *assets.Loader
	service     *assets.Service
	dispatcher  *syncer.Dispatcher
	coordinator *changes.Coordinator
	prober      *Prober
	announcer   *messaging.Announcer

	statusMu   sync.RWMutex
	lastStatus SyncStatusEvent

	ctx     context.Context
	cancel  context.CancelFunc
	bgMu    sync.Mutex
	stopped bool
	bg      sync.WaitGroup

	Events *EventBus
}

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig *config.Config
	// OpenDB opens the local store. It runs once, at Start.
	OpenDB  func() (*store.DB, error)
	Backend backend.Backend
	// Broker carries change notices between terminals. Nil disables them.
	Broker   messaging.Broker
	Registry prometheus.Registerer
	LogFunc  LogFunc
	Debug    bool
}

// New creates a new Engine. Call Start() to open the store and wire subsystems.
func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	debugFn := LogFunc(func(string, ...interface{}) {})
	if c.Debug {
		debugFn = logFn
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        c.AppConfig,
		openDB:     c.OpenDB,
		remote:     c.Backend,
		broker:     c.Broker,
		registry:   c.Registry,
		logFn:      logFn,
		debugFn:    debugFn,
		ctx:        ctx,
		cancel:     cancel,
		lastStatus: SyncStatusEvent{Status: syncer.StatusSuccess},
		Events:     NewEventBus(),
	}
}

// Start opens the queue store, recovers actions interrupted by a previous
// shutdown, builds the managers and starts background work. An error means
// the store is unavailable and the engine must not be used.
func (e *Engine) Start() error {
	if e.openDB == nil || e.remote == nil {
		return fmt.Errorf("engine: store opener and backend are required")
	}
	qs := queue.OpenOnce(func() (queue.Store, error) {
		db, err := e.openDB()
		if err != nil {
			return nil, err
		}
		e.db = db
		return db, nil
	})
	if err := qs.Open(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.queue = queue.NewManager(qs)

	n, err := e.queue.RecoverInFlight(e.ctx)
	if err != nil {
		return fmt.Errorf("engine: recover in-flight actions: %w", err)
	}
	if n > 0 {
		log.Printf("engine: returned %d interrupted actions to pending", n)
	}

	syncEmit := &syncEmitter{bus: e.Events}
	assetEmit := &assetsEmitter{bus: e.Events}
	sc := e.cfg.Sync

	e.prober = NewProber(e.remote, sc.ProbeInterval, sc.CallTimeout, e.handleConnectivity)
	e.cache = cache.New(sc.CacheTTL, cache.WithMetrics(cache.NewMetrics(e.registry)))
	e.loader = assets.NewLoader(e.remote, e.cache, e.db, e.prober.Online, assetEmit)
	e.service = assets.NewService(e.remote, e.queue, e.cache, e.prober.Online, e.cfg.ActingUser, assetEmit)
	e.dispatcher = syncer.New(e.queue, syncer.NewBackendHandlers(e.remote, e.cfg.ActingUser),
		syncEmit, syncer.NewMetrics(e.registry), syncer.Config{
			MaxRetries:  sc.MaxRetries,
			CallTimeout: sc.CallTimeout,
		})
	e.coordinator = changes.New(e.cache, e.loader.Refresh, sc.Debounce)
	if e.broker != nil {
		e.announcer = messaging.NewAnnouncer(e.broker, e.cfg.Messaging.ChangesTopic, e.cfg.DeviceID)
	}

	e.wireEventHandlers()

	var sources changes.Sources
	if e.cfg.Backend.ListenChanges {
		sources = append(sources, e.remote)
	}
	if e.broker != nil {
		sources = append(sources, messaging.NewChangeFeed(e.broker, e.cfg.Messaging.ChangesTopic, e.cfg.DeviceID))
	}
	if len(sources) > 0 {
		if err := e.coordinator.Start(e.ctx, sources); err != nil {
			log.Printf("engine: change feed: %v", err)
		}
	}

	e.prober.Start()

	e.logFn("Engine started: device=%s online=%v", e.cfg.DeviceID, e.prober.Online())
	return nil
}

// Stop shuts down all subsystems gracefully. The store stays open; its
// owner closes it.
func (e *Engine) Stop() {
	e.bgMu.Lock()
	if e.stopped {
		e.bgMu.Unlock()
		return
	}
	e.stopped = true
	e.bgMu.Unlock()

	e.cancel()
	if e.prober != nil {
		e.prober.Stop()
	}
	if e.coordinator != nil {
		e.coordinator.Stop()
	}
	e.bg.Wait()

	e.logFn("Engine stopped")
}

// goBackground runs fn on its own goroutine unless the engine is stopping.
func (e *Engine) goBackground(fn func(ctx context.Context)) {
	e.bgMu.Lock()
	defer e.bgMu.Unlock()
	if e.stopped {
		return
	}
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		fn(e.ctx)
	}()
}

// TriggerSync starts a background SyncAll. It is a no-op while offline or
// while a pass is already running.
func (e *Engine) TriggerSync(reason string) {
	if e.dispatcher == nil || !e.prober.Online() {
		return
	}
	e.debugFn("sync triggered: %s", reason)
	e.goBackground(func(ctx context.Context) {
		if _, err := e.dispatcher.SyncAll(ctx); err != nil {
			log.Printf("engine: sync after %s: %v", reason, err)
		}
	})
}

// SyncNow runs a pass on the caller's goroutine and returns its result.
func (e *Engine) SyncNow(ctx context.Context) (syncer.Result, error) {
	if e.dispatcher == nil {
		return syncer.Result{}, ErrNotStarted
	}
	return e.dispatcher.SyncAll(ctx)
}

// Foreground is called when the UI becomes visible again.
func (e *Engine) Foreground() {
	if e.coordinator == nil {
		return
	}
	e.coordinator.HandleForeground()
	e.TriggerSync("foreground")
}

// Status is the aggregate sync state shown to the user.
type Status struct {
	Status   syncer.SyncStatus `json:"status"`
	Pending  int               `json:"pending"`
	Failed   int               `json:"failed"`
	Online   bool              `json:"online"`
	InFlight bool              `json:"in_flight"`
}

// SyncStatus returns the last pushed status with fresh queue counts.
func (e *Engine) SyncStatus(ctx context.Context) (Status, error) {
	if e.queue == nil {
		return Status{}, ErrNotStarted
	}
	e.statusMu.RLock()
	st := Status{Status: e.lastStatus.Status}
	e.statusMu.RUnlock()

	var err error
	if st.Pending, err = e.queue.Count(ctx, queue.StatusPending); err != nil {
		return Status{}, err
	}
	if st.Failed, err = e.queue.Count(ctx, queue.StatusFailed); err != nil {
		return Status{}, err
	}
	st.Online = e.prober.Online()
	st.InFlight = e.dispatcher.InFlight()
	return st, nil
}

// DB returns the local store handle.
func (e *Engine) DB() *store.DB { return e.db }

// AppConfig returns the app config.
func (e *Engine) AppConfig() *config.Config { return e.cfg }

// Cache returns the read cache.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Loader returns the asset loader.
func (e *Engine) Loader() *assets.Loader { return e.loader }

// Assets returns the asset mutation service.
func (e *Engine) Assets() *assets.Service { return e.service }

// Dispatcher returns the sync dispatcher.
func (e *Engine) Dispatcher() *syncer.Dispatcher { return e.dispatcher }

// Online reports whether the backend answered the last probe.
func (e *Engine) Online() bool { return e.prober != nil && e.prober.Online() }
