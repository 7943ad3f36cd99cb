package syncer

import (
	"context"
	"time"

	"assetedge/backend"
	"assetedge/queue"
)

// NewBackendHandlers builds the pass-through handler for every action type.
// Actions queued without an acting user are replayed as defaultUser.
func NewBackendHandlers(b backend.Backend, defaultUser string) Handlers {
	user := func(u string) string {
		if u == "" {
			return defaultUser
		}
		return u
	}

	return Handlers{
		queue.CreateAsset: func(ctx context.Context, a queue.Action) error {
			var p queue.CreateAssetPayload
			if err := a.Decode(&p); err != nil {
				return err
			}
			return b.CreateAsset(ctx, p.Asset, user(p.ActingUser))
		},
		queue.UpdateAsset: func(ctx context.Context, a queue.Action) error {
			var p queue.UpdateAssetPayload
			if err := a.Decode(&p); err != nil {
				return err
			}
			ts := p.ClientTS
			if ts.IsZero() {
				ts = a.EnqueuedAt
			}
			return b.UpdateAsset(ctx, p.AssetID, p.Fields, ts.UTC().Truncate(time.Microsecond))
		},
		queue.DeleteAsset: func(ctx context.Context, a queue.Action) error {
			var p queue.DeleteAssetPayload
			if err := a.Decode(&p); err != nil {
				return err
			}
			return b.DeleteAsset(ctx, p.AssetID)
		},
		queue.CheckAsset: func(ctx context.Context, a queue.Action) error {
			var p queue.CheckAssetPayload
			if err := a.Decode(&p); err != nil {
				return err
			}
			return b.CheckAsset(ctx, p.AssetID, user(p.ActingUser), p.Notes)
		},
		queue.UncheckAsset: func(ctx context.Context, a queue.Action) error {
			var p queue.UncheckAssetPayload
			if err := a.Decode(&p); err != nil {
				return err
			}
			return b.UncheckAsset(ctx, p.AssetID)
		},
		queue.AddScanRecord: func(ctx context.Context, a queue.Action) error {
			var p queue.AddScanRecordPayload
			if err := a.Decode(&p); err != nil {
				return err
			}
			scanID := p.ScanID
			if scanID == "" {
				// The action id is stable across retries.
				scanID = a.ID
			}
			return b.AppendScanRecord(ctx, scanID, user(p.ActingUser), p.AssetID)
		},
	}
}
