package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"assetedge/queue"
)

// bookkeepingTimeout bounds a lifecycle write made on a detached context.
const bookkeepingTimeout = 5 * time.Second

// errInterrupted marks an attempt cut short by the caller's context.
var errInterrupted = errors.New("sync interrupted")

// Config tunes the dispatcher.
type Config struct {
	MaxRetries  int
	CallTimeout time.Duration
}

// Dispatcher drains the action queue against the remote backend.
type Dispatcher struct {
	queue    *queue.Manager
	handlers Handlers
	emitter  EventEmitter
	metrics  *Metrics
	cfg      Config

	running atomic.Bool

	// retryMu serializes manual retries against each other.
	retryMu sync.Mutex

	mu        sync.Mutex
	listeners map[int]func(StatusEvent)
	nextID    int
}

// New creates a dispatcher. A nil emitter or metrics disables that output.
func New(q *queue.Manager, handlers Handlers, emitter EventEmitter, metrics *Metrics, cfg Config) *Dispatcher {
	if emitter == nil {
		emitter = noopEmitter{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Dispatcher{
		queue:     q,
		handlers:  handlers,
		emitter:   emitter,
		metrics:   metrics,
		cfg:       cfg,
		listeners: make(map[int]func(StatusEvent)),
	}
}

// InFlight reports whether a SyncAll pass is running.
func (d *Dispatcher) InFlight() bool { return d.running.Load() }

// OnStatusChange registers fn for aggregate status changes. Call the returned
// func to unsubscribe.
func (d *Dispatcher) OnStatusChange(fn func(StatusEvent)) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.listeners, id)
			d.mu.Unlock()
		})
	}
}

func (d *Dispatcher) notify(status SyncStatus, pending int) {
	d.metrics.pending.Set(float64(pending))

	d.mu.Lock()
	fns := make([]func(StatusEvent), 0, len(d.listeners))
	for _, fn := range d.listeners {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	evt := StatusEvent{Status: status, Pending: pending}
	for _, fn := range fns {
		fn(evt)
	}
	d.emitter.EmitSyncStatus(status, pending)
}

// SyncAll replays every pending action once, oldest first, including actions
// enqueued while the pass runs. Only one pass runs at a time; a call made
// while one is running returns a zero Result. Remote failures are recorded on
// the action and never returned. The error is non-nil only when the queue
// itself cannot be read.
//
// Cancelling ctx stops the pass after the current call. An action whose call
// was cut short by the cancellation goes back to pending without using up a
// retry.
func (d *Dispatcher) SyncAll(ctx context.Context) (Result, error) {
	if !d.running.CompareAndSwap(false, true) {
		d.metrics.skippedPasses.Inc()
		return Result{}, nil
	}
	defer d.running.Store(false)

	pending, err := d.queue.ListPending(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("sync: %w", err)
	}
	if len(pending) == 0 {
		return Result{}, nil
	}

	d.metrics.passes.Inc()
	log.Printf("syncer: replaying %d pending actions", len(pending))
	d.notify(StatusSyncing, len(pending))

	var res Result
	var fatal error
	seen := make(map[string]bool, len(pending))
	for len(pending) > 0 && fatal == nil && ctx.Err() == nil {
		for _, a := range pending {
			if ctx.Err() != nil {
				break
			}
			seen[a.ID] = true
			ok, err := d.replay(ctx, a.ID)
			if errors.Is(err, queue.ErrStoreUnavailable) {
				fatal = fmt.Errorf("sync: %w", err)
				break
			}
			switch {
			case errors.Is(err, errInterrupted):
				continue
			case errors.Is(err, queue.ErrActionNotFound), errors.Is(err, queue.ErrNotClaimable):
				continue
			case err != nil:
				log.Printf("syncer: bookkeeping for %s: %v", a.ID, err)
			}
			if ok {
				res.SuccessCount++
			} else {
				res.FailedCount++
			}
		}
		if fatal != nil || ctx.Err() != nil {
			break
		}
		// Pick up actions enqueued while the pass ran; each is tried once.
		pending, err = d.unseen(ctx, seen)
		if err != nil {
			fatal = fmt.Errorf("sync: %w", err)
		}
	}

	bctx, cancel := detached(ctx)
	defer cancel()
	remaining := d.pendingCount(bctx)
	status := StatusSuccess
	if res.FailedCount > 0 || fatal != nil {
		status = StatusError
	}
	log.Printf("syncer: pass done: %d succeeded, %d failed, %d pending", res.SuccessCount, res.FailedCount, remaining)
	d.notify(status, remaining)
	d.emitter.EmitSyncCompleted(res)
	return res, fatal
}

func (d *Dispatcher) unseen(ctx context.Context, seen map[string]bool) ([]queue.Action, error) {
	all, err := d.queue.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	var out []queue.Action
	for _, a := range all {
		if !seen[a.ID] {
			out = append(out, a)
		}
	}
	return out, nil
}

// detached returns a context for lifecycle writes that must land even when
// the caller's context is already cancelled.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}

// replay claims a pending action and runs it. ok is true when the remote call
// succeeded. ErrActionNotFound or ErrNotClaimable means the action was
// resolved or taken elsewhere and must be skipped.
func (d *Dispatcher) replay(ctx context.Context, id string) (ok bool, err error) {
	bctx, cancel := detached(ctx)
	defer cancel()

	a, err := d.queue.Claim(bctx, id, queue.StatusPending)
	if err != nil {
		return false, err
	}
	ok, _, err = d.attempt(ctx, bctx, a, queue.StatusPending)
	return ok, err
}

// attempt calls the handler for a claimed action and records the outcome
// with bctx. rce is set when the remote call failed. If the call failed
// because ctx was cancelled the action returns to prev untouched and
// errInterrupted is returned.
func (d *Dispatcher) attempt(ctx, bctx context.Context, a queue.Action, prev queue.Status) (ok bool, rce *RemoteCallError, err error) {
	callErr := d.call(ctx, a)
	if callErr == nil {
		d.metrics.actionsSynced.WithLabelValues(string(a.Type)).Inc()
		return true, nil, d.queue.Remove(bctx, a.ID)
	}

	if ctx.Err() != nil {
		if _, err := d.queue.Update(bctx, a.ID, queue.Patch{Status: &prev}); err != nil && !errors.Is(err, queue.ErrActionNotFound) {
			log.Printf("syncer: release %s: %v", a.ID, err)
		}
		return false, nil, fmt.Errorf("%w: %s: %v", errInterrupted, a.ID, ctx.Err())
	}

	rce, err = d.recordFailure(bctx, a, callErr)
	if errors.Is(err, queue.ErrActionNotFound) {
		// Already resolved; count the failed attempt but nothing to record.
		err = nil
	}
	log.Printf("syncer: %v", rce)
	return false, rce, err
}

// call dispatches to the type handler under the per-call timeout. A panic in
// the handler is reported as a failure.
func (d *Dispatcher) call(ctx context.Context, a queue.Action) (err error) {
	h, ok := d.handlers[a.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, a.Type)
	}
	if d.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.CallTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	start := time.Now()
	err = h(ctx, a)
	d.metrics.callDuration.Observe(time.Since(start).Seconds())
	return err
}

// recordFailure bumps the retry count of the claimed action and decides
// between pending and failed.
func (d *Dispatcher) recordFailure(ctx context.Context, a queue.Action, callErr error) (*RemoteCallError, error) {
	retries := a.RetryCount + 1
	status := queue.StatusPending
	terminal := retries >= d.cfg.MaxRetries
	if terminal {
		status = queue.StatusFailed
	}
	msg := callErr.Error()

	d.metrics.actionsFailed.WithLabelValues(string(a.Type)).Inc()
	if terminal {
		d.metrics.actionsTerminal.WithLabelValues(string(a.Type)).Inc()
	}

	rce := &RemoteCallError{
		ActionID:   a.ID,
		ActionType: string(a.Type),
		RetryCount: retries,
		Terminal:   terminal,
		Err:        callErr,
	}
	if _, err := d.queue.Update(ctx, a.ID, queue.Patch{Status: &status, RetryCount: &retries, LastError: &msg}); err != nil {
		return rce, err
	}
	d.emitter.EmitActionFailed(a.ID, string(a.Type), retries, terminal, msg)
	return rce, nil
}

// RetrySingleAction replays one action out of band, normally a failed one the
// user chose to retry. Pending actions are accepted only between passes. On failure it returns a
// *RemoteCallError, which also matches ErrTerminalFailure when the action is
// failed again. It never ends a sync pass: outcomes are reported through
// EmitActionRetried, and the aggregate status only when no pass is running.
func (d *Dispatcher) RetrySingleAction(ctx context.Context, id string) error {
	d.retryMu.Lock()
	defer d.retryMu.Unlock()

	prev, err := d.queue.Get(ctx, id)
	if err != nil {
		return err
	}
	// A running pass owns every pending action.
	from := []queue.Status{queue.StatusFailed}
	if !d.running.Load() {
		from = append(from, queue.StatusPending)
	}

	bctx, cancel := detached(ctx)
	defer cancel()
	a, err := d.queue.Claim(bctx, id, from...)
	if errors.Is(err, queue.ErrNotClaimable) {
		return fmt.Errorf("%w: %s", ErrActionInFlight, id)
	}
	if err != nil {
		return err
	}

	ok, rce, err := d.attempt(ctx, bctx, a, prev.Status)
	if errors.Is(err, errInterrupted) {
		return ctx.Err()
	}
	d.emitter.EmitActionRetried(a.ID, string(a.Type), ok)
	if !d.running.Load() {
		status := StatusSuccess
		if !ok {
			status = StatusError
		}
		d.notify(status, d.pendingCount(bctx))
	}
	if err != nil {
		return err
	}
	if rce != nil {
		return rce
	}
	return nil
}

// ClearFailedActions permanently discards every failed action.
func (d *Dispatcher) ClearFailedActions(ctx context.Context) (int, error) {
	n, err := d.queue.RemoveFailed(ctx)
	if err != nil {
		return n, err
	}
	if n > 0 {
		log.Printf("syncer: discarded %d failed actions", n)
	}
	return n, nil
}

// ListAll returns every queued action for diagnostics.
func (d *Dispatcher) ListAll(ctx context.Context) ([]queue.Action, error) {
	return d.queue.ListAll(ctx)
}

func (d *Dispatcher) pendingCount(ctx context.Context) int {
	n, err := d.queue.Count(ctx, queue.StatusPending)
	if err != nil {
		log.Printf("syncer: count pending: %v", err)
	}
	return n
}
