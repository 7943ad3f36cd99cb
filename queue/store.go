package queue

import (
	"context"
	"fmt"
	"sync"

	"assetedge/store"
)

// Store is the durable key-value storage behind the Manager. *store.DB
// implements it.
type Store interface {
	PutAction(ctx context.Context, a store.QueuedAction) error
	AllActions(ctx context.Context) ([]store.QueuedAction, error)
	ActionsWithStatus(ctx context.Context, status string) ([]store.QueuedAction, error)
	GetAction(ctx context.Context, id string) (store.QueuedAction, bool, error)
	DeleteAction(ctx context.Context, id string) error
	ClearActions(ctx context.Context) error
}

// OnceStore opens its underlying store on first use and remembers the
// outcome for the rest of the process lifetime.
type OnceStore struct {
	open  func() (Store, error)
	once  sync.Once
	inner Store
	err   error
}

// OpenOnce wraps an opener. A failed open makes every operation return
// ErrStoreUnavailable.
func OpenOnce(open func() (Store, error)) *OnceStore {
	return &OnceStore{open: open}
}

// Open forces the open and reports its outcome.
func (s *OnceStore) Open() error {
	_, err := s.get()
	return err
}

func (s *OnceStore) get() (Store, error) {
	s.once.Do(func() {
		inner, err := s.open()
		if err == nil && inner == nil {
			err = fmt.Errorf("opener returned no store")
		}
		if err != nil {
			s.err = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			return
		}
		s.inner = inner
	})
	return s.inner, s.err
}

func (s *OnceStore) PutAction(ctx context.Context, a store.QueuedAction) error {
	inner, err := s.get()
	if err != nil {
		return err
	}
	return inner.PutAction(ctx, a)
}

func (s *OnceStore) AllActions(ctx context.Context) ([]store.QueuedAction, error) {
	inner, err := s.get()
	if err != nil {
		return nil, err
	}
	return inner.AllActions(ctx)
}

func (s *OnceStore) ActionsWithStatus(ctx context.Context, status string) ([]store.QueuedAction, error) {
	inner, err := s.get()
	if err != nil {
		return nil, err
	}
	return inner.ActionsWithStatus(ctx, status)
}

func (s *OnceStore) GetAction(ctx context.Context, id string) (store.QueuedAction, bool, error) {
	inner, err := s.get()
	if err != nil {
		return store.QueuedAction{}, false, err
	}
	return inner.GetAction(ctx, id)
}

func (s *OnceStore) DeleteAction(ctx context.Context, id string) error {
	inner, err := s.get()
	if err != nil {
		return err
	}
	return inner.DeleteAction(ctx, id)
}

func (s *OnceStore) ClearActions(ctx context.Context) error {
	inner, err := s.get()
	if err != nil {
		return err
	}
	return inner.ClearActions(ctx)
}

// MemoryStore is an in-process Store with the same semantics as the SQLite
// one. Nothing survives the process.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]store.QueuedAction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]store.QueuedAction)}
}

func (m *MemoryStore) PutAction(_ context.Context, a store.QueuedAction) error {
	a.Payload = append([]byte(nil), a.Payload...)
	m.mu.Lock()
	m.rows[a.ID] = a
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) AllActions(_ context.Context) ([]store.QueuedAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]store.QueuedAction, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, copyRow(r))
	}
	return out, nil
}

func (m *MemoryStore) ActionsWithStatus(_ context.Context, status string) ([]store.QueuedAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.QueuedAction
	for _, r := range m.rows {
		if r.Status == status {
			out = append(out, copyRow(r))
		}
	}
	return out, nil
}

func (m *MemoryStore) GetAction(_ context.Context, id string) (store.QueuedAction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rows[id]
	if !ok {
		return store.QueuedAction{}, false, nil
	}
	return copyRow(r), true, nil
}

func (m *MemoryStore) DeleteAction(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.rows, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ClearActions(_ context.Context) error {
	m.mu.Lock()
	m.rows = make(map[string]store.QueuedAction)
	m.mu.Unlock()
	return nil
}

func copyRow(r store.QueuedAction) store.QueuedAction {
	r.Payload = append([]byte(nil), r.Payload...)
	return r
}
