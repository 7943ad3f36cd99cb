package assets

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"assetedge/backend"
	"assetedge/cache"
	"assetedge/protocol"
	"assetedge/queue"
)

// Outcome describes how an edit was applied.
type Outcome struct {
	// Queued is true when the edit went to the offline queue.
	Queued   bool            `json:"queued"`
	ActionID string          `json:"action_id,omitempty"`
	Asset    *protocol.Asset `json:"asset,omitempty"`
}

// Service applies asset edits: straight to the backend when online, to the
// offline queue otherwise. Either way the cached snapshot is patched so the
// edit shows before the next refresh.
type Service struct {
	backend    backend.Backend
	queue      *queue.Manager
	cache      *cache.Cache
	online     OnlineFunc
	actingUser string
	emitter    EventEmitter
	now        func() time.Time
}

// NewService creates the edit service. actingUser is used when a call does
// not name one.
func NewService(b backend.Backend, q *queue.Manager, c *cache.Cache, online OnlineFunc, actingUser string, emitter EventEmitter) *Service {
	if emitter == nil {
		emitter = noopEmitter{}
	}
	return &Service{
		backend:    b,
		queue:      q,
		cache:      c,
		online:     online,
		actingUser: actingUser,
		emitter:    emitter,
		now:        time.Now,
	}
}

func (s *Service) user(u string) string {
	if u == "" {
		return s.actingUser
	}
	return u
}

// apply runs direct when online and nothing is waiting in the queue. Offline,
// behind queued actions, or when the direct call fails for connectivity
// reasons, the action is queued instead so edits reach the backend in the
// order they were made.
func (s *Service) apply(ctx context.Context, t queue.ActionType, payload any, notice protocol.RowChanged, direct func(context.Context) error) (Outcome, error) {
	online := s.online()
	if online {
		n, err := s.backlog(ctx)
		if err != nil {
			return Outcome{}, err
		}
		if n > 0 {
			log.Printf("assets: %s queued behind %d actions", t, n)
			online = false
		}
	}
	if online {
		err := direct(ctx)
		if err == nil {
			s.emitter.EmitRemoteWrite(notice)
			return Outcome{}, nil
		}
		if !backend.IsTransient(err) {
			return Outcome{}, err
		}
		log.Printf("assets: %s failed online, queueing: %v", t, err)
	}
	id, err := s.queue.Enqueue(ctx, t, payload)
	if err != nil {
		return Outcome{}, err
	}
	s.emitter.EmitActionQueued(id, string(t))
	return Outcome{Queued: true, ActionID: id}, nil
}

// backlog counts actions still to be replayed, including one being replayed.
func (s *Service) backlog(ctx context.Context) (int, error) {
	pending, err := s.queue.Count(ctx, queue.StatusPending)
	if err != nil {
		return 0, err
	}
	syncing, err := s.queue.Count(ctx, queue.StatusSyncing)
	if err != nil {
		return 0, err
	}
	return pending + syncing, nil
}

// CreateAsset adds a new asset. An empty ID is filled with a fresh uuid.
func (s *Service) CreateAsset(ctx context.Context, a protocol.Asset, user string) (Outcome, error) {
	if a.Code == "" {
		return Outcome{}, fmt.Errorf("%w: create asset: code is required", ErrInvalid)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.UpdatedAt = s.now().UTC()
	user = s.user(user)

	out, err := s.apply(ctx, queue.CreateAsset, queue.CreateAssetPayload{Asset: a, ActingUser: user},
		protocol.RowChanged{Table: protocol.TableAssets, Op: protocol.OpInsert, RowID: a.ID},
		func(ctx context.Context) error { return s.backend.CreateAsset(ctx, a, user) })
	if err != nil {
		return out, err
	}
	s.cache.Patch(func(items []protocol.Asset) []protocol.Asset {
		for _, it := range items {
			if it.ID == a.ID {
				return items
			}
		}
		return append(items, a)
	})
	out.Asset = &a
	return out, nil
}

// UpdateAsset changes fields of an asset. The edit time travels with the
// action so the backend can resolve concurrent edits last-write-wins.
func (s *Service) UpdateAsset(ctx context.Context, id string, fields map[string]any, user string) (Outcome, error) {
	if len(fields) == 0 {
		return Outcome{}, fmt.Errorf("%w: update asset %s: no fields", ErrInvalid, id)
	}
	for name, v := range fields {
		if _, ok := v.(string); !ok {
			return Outcome{}, fmt.Errorf("%w: update asset %s: field %q must be a string", ErrInvalid, id, name)
		}
	}
	ts := s.now().UTC().Truncate(time.Microsecond)
	payload := queue.UpdateAssetPayload{AssetID: id, Fields: fields, ActingUser: s.user(user), ClientTS: ts}

	out, err := s.apply(ctx, queue.UpdateAsset, payload,
		protocol.RowChanged{Table: protocol.TableAssets, Op: protocol.OpUpdate, RowID: id},
		func(ctx context.Context) error { return s.backend.UpdateAsset(ctx, id, fields, ts) })
	if err != nil {
		return out, err
	}
	out.Asset = s.patchOne(id, func(a *protocol.Asset) {
		applyFields(a, fields)
		a.UpdatedAt = ts
	})
	return out, nil
}

// DeleteAsset removes an asset.
func (s *Service) DeleteAsset(ctx context.Context, id string) (Outcome, error) {
	out, err := s.apply(ctx, queue.DeleteAsset, queue.DeleteAssetPayload{AssetID: id},
		protocol.RowChanged{Table: protocol.TableAssets, Op: protocol.OpDelete, RowID: id},
		func(ctx context.Context) error { return s.backend.DeleteAsset(ctx, id) })
	if err != nil {
		return out, err
	}
	s.cache.Patch(func(items []protocol.Asset) []protocol.Asset {
		kept := items[:0]
		for _, it := range items {
			if it.ID != id {
				kept = append(kept, it)
			}
		}
		return kept
	})
	return out, nil
}

// CheckAsset records that the asset was physically found.
func (s *Service) CheckAsset(ctx context.Context, id, user, notes string) (Outcome, error) {
	user = s.user(user)
	out, err := s.apply(ctx, queue.CheckAsset, queue.CheckAssetPayload{AssetID: id, ActingUser: user, Notes: notes},
		protocol.RowChanged{Table: protocol.TableChecks, Op: protocol.OpInsert, RowID: id},
		func(ctx context.Context) error { return s.backend.CheckAsset(ctx, id, user, notes) })
	if err != nil {
		return out, err
	}
	at := s.now().UTC()
	out.Asset = s.patchOne(id, func(a *protocol.Asset) {
		a.Checked = true
		a.CheckedBy = user
		a.CheckedAt = &at
	})
	return out, nil
}

// UncheckAsset clears the check.
func (s *Service) UncheckAsset(ctx context.Context, id string) (Outcome, error) {
	out, err := s.apply(ctx, queue.UncheckAsset, queue.UncheckAssetPayload{AssetID: id},
		protocol.RowChanged{Table: protocol.TableChecks, Op: protocol.OpDelete, RowID: id},
		func(ctx context.Context) error { return s.backend.UncheckAsset(ctx, id) })
	if err != nil {
		return out, err
	}
	out.Asset = s.patchOne(id, func(a *protocol.Asset) {
		a.Checked = false
		a.CheckedBy = ""
		a.CheckedAt = nil
	})
	return out, nil
}

// RecordScan appends a scan record. The scan id is fixed here so a replay
// cannot create a second row.
func (s *Service) RecordScan(ctx context.Context, assetID, user string) (Outcome, error) {
	scanID := uuid.NewString()
	user = s.user(user)
	return s.apply(ctx, queue.AddScanRecord, queue.AddScanRecordPayload{ScanID: scanID, ActingUser: user, AssetID: assetID},
		protocol.RowChanged{Table: protocol.TableScans, Op: protocol.OpInsert, RowID: scanID},
		func(ctx context.Context) error { return s.backend.AppendScanRecord(ctx, scanID, user, assetID) })
}

// patchOne edits the cached copy of one asset and returns it, or nil when
// the snapshot does not hold it.
func (s *Service) patchOne(id string, fn func(*protocol.Asset)) *protocol.Asset {
	var patched *protocol.Asset
	s.cache.Patch(func(items []protocol.Asset) []protocol.Asset {
		for i := range items {
			if items[i].ID == id {
				fn(&items[i])
				a := items[i]
				patched = &a
				break
			}
		}
		return items
	})
	return patched
}

func applyFields(a *protocol.Asset, fields map[string]any) {
	for name, v := range fields {
		str, _ := v.(string)
		switch name {
		case "code":
			a.Code = str
		case "name":
			a.Name = str
		case "category":
			a.Category = str
		case "location":
			a.Location = str
		case "status":
			a.Status = str
		case "notes":
			a.Notes = str
		}
	}
}
