// Package backend is the remote asset backend the terminal syncs against.
package backend

import (
	"context"
	"errors"
	"time"

	"assetedge/protocol"
)

// ErrUnknownField is returned by UpdateAsset for a field the backend does
// not let clients write.
var ErrUnknownField = errors.New("unknown asset field")

// Backend is the remote side of every queued action. Every mutation must be
// safe to call twice with the same arguments: the sync dispatcher delivers at
// least once.
type Backend interface {
	// CreateAsset inserts the asset under its client-generated id. A replay
	// of an already-created asset is a no-op.
	CreateAsset(ctx context.Context, a protocol.Asset, actingUser string) error
	// UpdateAsset applies fields last-write-wins: the write is dropped when
	// the row was updated after clientTS.
	UpdateAsset(ctx context.Context, id string, fields map[string]any, clientTS time.Time) error
	DeleteAsset(ctx context.Context, id string) error
	// CheckAsset upserts the check row keyed by asset id.
	CheckAsset(ctx context.Context, id, actingUser, notes string) error
	UncheckAsset(ctx context.Context, id string) error
	// AppendScanRecord inserts a scan keyed by the client-supplied scanID.
	AppendScanRecord(ctx context.Context, scanID, actingUser, assetID string) error

	ListAssets(ctx context.Context) ([]protocol.Asset, error)
	Ping(ctx context.Context) error

	// Subscribe delivers change notices for the given tables until ctx is
	// done. It returns once the subscription is established.
	Subscribe(ctx context.Context, tables []string, fn func(protocol.RowChanged)) error
}

// writableFields maps client field names to asset columns.
var writableFields = map[string]string{
	"code":     "code",
	"name":     "name",
	"category": "category",
	"location": "location",
	"status":   "status",
	"notes":    "notes",
}
