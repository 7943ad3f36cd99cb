// Package assets serves the asset collection to the UI and applies edits,
// online or queued for later.
package assets

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"assetedge/backend"
	"assetedge/cache"
	"assetedge/protocol"
)

// Where a View came from.
const (
	SourceCache  = "cache"
	SourceRemote = "remote"
	SourceMirror = "mirror"
)

// ErrNoData means the terminal is offline and has never fetched the collection.
var ErrNoData = errors.New("no asset data available offline")

// ErrInvalid wraps edits rejected before they reach the backend or queue.
var ErrInvalid = errors.New("invalid asset edit")

// Mirror is the on-disk copy of the last fetched collection. *store.DB
// implements it.
type Mirror interface {
	ReplaceMirror(ctx context.Context, items []protocol.Asset, fetchedAt time.Time) error
	LoadMirror(ctx context.Context) ([]protocol.Asset, time.Time, error)
}

// Lister reads the full collection from the backend.
type Lister interface {
	ListAssets(ctx context.Context) ([]protocol.Asset, error)
}

// OnlineFunc reports current connectivity.
type OnlineFunc func() bool

// View is a loaded collection.
type View struct {
	Items     []protocol.Asset `json:"items"`
	FetchedAt time.Time        `json:"fetched_at"`
	Source    string           `json:"source"`
	// Stale is set when a remote fetch failed and the mirror was served instead.
	Stale bool `json:"stale,omitempty"`
}

// Loader is the single entry point for reading the asset collection.
type Loader struct {
	remote  Lister
	cache   *cache.Cache
	mirror  Mirror
	online  OnlineFunc
	emitter EventEmitter
}

// NewLoader creates a loader. A nil emitter disables events.
func NewLoader(remote Lister, c *cache.Cache, mirror Mirror, online OnlineFunc, emitter EventEmitter) *Loader {
	if emitter == nil {
		emitter = noopEmitter{}
	}
	return &Loader{remote: remote, cache: c, mirror: mirror, online: online, emitter: emitter}
}

// Load returns the collection. Offline it reads the mirror and never touches
// the cache. Online, force bypasses the cache; otherwise a valid snapshot is
// served and only a miss goes to the backend.
func (l *Loader) Load(ctx context.Context, force bool) (View, error) {
	if !l.online() {
		return l.fromMirror(ctx, false)
	}
	if !force {
		if snap, ok := l.cache.Get(); ok {
			return View{Items: snap.Items, FetchedAt: snap.FetchedAt, Source: SourceCache}, nil
		}
	}

	items, err := l.remote.ListAssets(ctx)
	if err != nil {
		if backend.IsTransient(err) {
			log.Printf("assets: remote fetch failed, serving mirror: %v", err)
			if v, mErr := l.fromMirror(ctx, true); mErr == nil {
				return v, nil
			}
		}
		return View{}, fmt.Errorf("load assets: %w", err)
	}

	snap := l.cache.Set(items)
	if err := l.mirror.ReplaceMirror(ctx, snap.Items, snap.FetchedAt); err != nil {
		log.Printf("assets: write mirror: %v", err)
	}
	l.emitter.EmitAssetsRefreshed(len(snap.Items), SourceRemote)
	return View{Items: snap.Items, FetchedAt: snap.FetchedAt, Source: SourceRemote}, nil
}

// Refresh fetches authoritatively. It does nothing while offline.
func (l *Loader) Refresh(ctx context.Context) error {
	if !l.online() {
		return nil
	}
	_, err := l.Load(ctx, true)
	return err
}

func (l *Loader) fromMirror(ctx context.Context, stale bool) (View, error) {
	items, fetchedAt, err := l.mirror.LoadMirror(ctx)
	if err != nil {
		return View{}, fmt.Errorf("read mirror: %w", err)
	}
	if fetchedAt.IsZero() {
		return View{}, ErrNoData
	}
	return View{Items: items, FetchedAt: fetchedAt, Source: SourceMirror, Stale: stale}, nil
}
