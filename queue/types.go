package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"assetedge/protocol"
	"assetedge/store"
)

// ActionType names the remote mutation an action replays.
type ActionType string

// Action types
const (
	CreateAsset   ActionType = "create_asset"
	UpdateAsset   ActionType = "update_asset"
	DeleteAsset   ActionType = "delete_asset"
	CheckAsset    ActionType = "check_asset"
	UncheckAsset  ActionType = "uncheck_asset"
	AddScanRecord ActionType = "add_scan_record"
)

// Valid reports whether t is one of the known action types.
func (t ActionType) Valid() bool {
	switch t {
	case CreateAsset, UpdateAsset, DeleteAsset, CheckAsset, UncheckAsset, AddScanRecord:
		return true
	}
	return false
}

// Status is the lifecycle state of a queued action.
type Status string

// Action statuses
const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
)

// Action is one queued offline mutation.
type Action struct {
	ID         string          `json:"id"`
	Type       ActionType      `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
	Status     Status          `json:"status"`
	LastError  string          `json:"last_error,omitempty"`
}

// Decode unmarshals the action payload into target.
func (a Action) Decode(target any) error {
	if err := json.Unmarshal(a.Payload, target); err != nil {
		return fmt.Errorf("decode %s payload for %s: %w", a.Type, a.ID, err)
	}
	return nil
}

// Patch is a merge-patch of the lifecycle fields. Nil fields are left alone.
type Patch struct {
	Status     *Status
	RetryCount *int
	LastError  *string
}

func (p Patch) apply(a *Action) {
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.RetryCount != nil {
		a.RetryCount = *p.RetryCount
	}
	if p.LastError != nil {
		a.LastError = *p.LastError
	}
}

func toRow(a Action) store.QueuedAction {
	return store.QueuedAction{
		ID:         a.ID,
		Type:       string(a.Type),
		Payload:    []byte(a.Payload),
		EnqueuedAt: a.EnqueuedAt,
		RetryCount: a.RetryCount,
		Status:     string(a.Status),
		LastError:  a.LastError,
	}
}

func fromRow(r store.QueuedAction) Action {
	return Action{
		ID:         r.ID,
		Type:       ActionType(r.Type),
		Payload:    json.RawMessage(r.Payload),
		EnqueuedAt: r.EnqueuedAt,
		RetryCount: r.RetryCount,
		Status:     Status(r.Status),
		LastError:  r.LastError,
	}
}

// Payloads, one per action type.

type CreateAssetPayload struct {
	Asset      protocol.Asset `json:"asset"`
	ActingUser string         `json:"acting_user"`
}

type UpdateAssetPayload struct {
	AssetID    string         `json:"asset_id"`
	Fields     map[string]any `json:"fields"`
	ActingUser string         `json:"acting_user"`
	// ClientTS is when the edit was made on this device; the backend applies
	// it last-write-wins against the row's updated_at.
	ClientTS time.Time `json:"client_ts"`
}

type DeleteAssetPayload struct {
	AssetID string `json:"asset_id"`
}

type CheckAssetPayload struct {
	AssetID    string `json:"asset_id"`
	ActingUser string `json:"acting_user"`
	Notes      string `json:"notes,omitempty"`
}

type UncheckAssetPayload struct {
	AssetID string `json:"asset_id"`
}

type AddScanRecordPayload struct {
	// ScanID is generated on the device so a replayed insert dedupes.
	ScanID     string `json:"scan_id"`
	ActingUser string `json:"acting_user"`
	AssetID    string `json:"asset_id"`
}
