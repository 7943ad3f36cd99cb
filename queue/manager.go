package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"assetedge/store"
)

// Manager owns the lifecycle bookkeeping of queued actions. It knows nothing
// about what an action means.
type Manager struct {
	store Store
	now   func() time.Time

	mu     sync.Mutex
	last   time.Time
	seeded bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock used to stamp EnqueuedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a queue manager over s.
func NewManager(s Store, opts ...Option) *Manager {
	m := &Manager{store: s, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Enqueue stores a new pending action and returns its id.
func (m *Manager) Enqueue(ctx context.Context, t ActionType, payload any) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownActionType, t)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", t, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.seedStamp(ctx); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", t, err)
	}
	at := m.nextStamp()
	a := Action{
		ID:         fmt.Sprintf("%019d-%s", at.UnixNano(), uuid.New().String()[:8]),
		Type:       t,
		Payload:    raw,
		EnqueuedAt: at,
		Status:     StatusPending,
	}
	if err := m.store.PutAction(ctx, toRow(a)); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", t, err)
	}
	return a.ID, nil
}

// nextStamp returns a time strictly after the previous stamp. Caller holds mu.
func (m *Manager) nextStamp() time.Time {
	at := m.now()
	if !at.After(m.last) {
		at = m.last.Add(time.Nanosecond)
	}
	m.last = at
	return at
}

// seedStamp raises last to the newest persisted stamp so actions enqueued
// after a restart sort behind older ones even if the clock went backwards.
// Caller holds mu.
func (m *Manager) seedStamp(ctx context.Context) error {
	if m.seeded {
		return nil
	}
	rows, err := m.store.AllActions(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if r.EnqueuedAt.After(m.last) {
			m.last = r.EnqueuedAt
		}
	}
	m.seeded = true
	return nil
}

// ListPending returns pending actions in replay order.
func (m *Manager) ListPending(ctx context.Context) ([]Action, error) {
	rows, err := m.store.ActionsWithStatus(ctx, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return sorted(rows), nil
}

// ListAll returns every action in replay order, whatever its status.
func (m *Manager) ListAll(ctx context.Context) ([]Action, error) {
	rows, err := m.store.AllActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return sorted(rows), nil
}

// Count returns the number of actions in the given status.
func (m *Manager) Count(ctx context.Context, s Status) (int, error) {
	rows, err := m.store.ActionsWithStatus(ctx, string(s))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", s, err)
	}
	return len(rows), nil
}

// Get returns one action or ErrActionNotFound.
func (m *Manager) Get(ctx context.Context, id string) (Action, error) {
	r, ok, err := m.store.GetAction(ctx, id)
	if err != nil {
		return Action{}, fmt.Errorf("get action %s: %w", id, err)
	}
	if !ok {
		return Action{}, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	return fromRow(r), nil
}

// Update merge-patches the lifecycle fields of an action and returns the
// result. It fails with ErrActionNotFound if the id is absent.
func (m *Manager) Update(ctx context.Context, id string, p Patch) (Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok, err := m.store.GetAction(ctx, id)
	if err != nil {
		return Action{}, fmt.Errorf("update action %s: %w", id, err)
	}
	if !ok {
		return Action{}, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	a := fromRow(r)
	p.apply(&a)
	if err := m.store.PutAction(ctx, toRow(a)); err != nil {
		return Action{}, fmt.Errorf("update action %s: %w", id, err)
	}
	return a, nil
}

// Claim moves an action to syncing if its current status is one of from, and
// returns the claimed action. Otherwise it fails with ErrNotClaimable, or
// ErrActionNotFound if the id is absent.
func (m *Manager) Claim(ctx context.Context, id string, from ...Status) (Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok, err := m.store.GetAction(ctx, id)
	if err != nil {
		return Action{}, fmt.Errorf("claim action %s: %w", id, err)
	}
	if !ok {
		return Action{}, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	a := fromRow(r)
	if !slices.Contains(from, a.Status) {
		return a, fmt.Errorf("%w: %s is %s", ErrNotClaimable, id, a.Status)
	}
	a.Status = StatusSyncing
	if err := m.store.PutAction(ctx, toRow(a)); err != nil {
		return Action{}, fmt.Errorf("claim action %s: %w", id, err)
	}
	return a, nil
}

// Remove deletes an action. Removing an absent id is not an error.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.DeleteAction(ctx, id); err != nil {
		return fmt.Errorf("remove action %s: %w", id, err)
	}
	return nil
}

// Clear removes every action, whatever its status.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.ClearActions(ctx); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// RemoveFailed deletes every failed action and returns how many were removed.
func (m *Manager) RemoveFailed(ctx context.Context) (int, error) {
	return m.sweep(ctx, StatusFailed, func(ctx context.Context, r store.QueuedAction) error {
		return m.store.DeleteAction(ctx, r.ID)
	})
}

// RecoverInFlight returns actions left in syncing by a crash to pending. It
// must run before the first drain.
func (m *Manager) RecoverInFlight(ctx context.Context) (int, error) {
	return m.sweep(ctx, StatusSyncing, func(ctx context.Context, r store.QueuedAction) error {
		r.Status = string(StatusPending)
		return m.store.PutAction(ctx, r)
	})
}

func (m *Manager) sweep(ctx context.Context, s Status, fn func(context.Context, store.QueuedAction) error) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.store.ActionsWithStatus(ctx, string(s))
	if err != nil {
		return 0, fmt.Errorf("sweep %s: %w", s, err)
	}
	n := 0
	for _, r := range rows {
		if err := fn(ctx, r); err != nil {
			return n, fmt.Errorf("sweep %s action %s: %w", s, r.ID, err)
		}
		n++
	}
	return n, nil
}

func sorted(rows []store.QueuedAction) []Action {
	out := make([]Action, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
