package engine

import (
	"time"

	"assetedge/syncer"
)

// EventType names an engine event. The names double as SSE event names.
type EventType string

const (
	// Sync dispatcher
	EventSyncStatus    EventType = "sync-status"
	EventSyncCompleted EventType = "sync-completed"
	EventActionFailed  EventType = "action-failed"
	EventActionRetried EventType = "action-retried"

	// Assets
	EventAssetsRefreshed EventType = "assets-refreshed"
	EventActionQueued    EventType = "action-queued"
	EventRemoteWrite     EventType = "remote-write"

	// Connectivity prober
	EventConnectivity EventType = "connectivity"
)

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

// SyncStatusEvent is emitted when the aggregate sync status changes.
type SyncStatusEvent struct {
	Status  syncer.SyncStatus `json:"status"`
	Pending int               `json:"pending"`
}

// SyncCompletedEvent is emitted at the end of a sync pass.
type SyncCompletedEvent struct {
	SuccessCount int `json:"success_count"`
	FailedCount  int `json:"failed_count"`
}

// ActionFailedEvent is emitted for every failed replay attempt.
type ActionFailedEvent struct {
	ActionID   string `json:"action_id"`
	ActionType string `json:"action_type"`
	RetryCount int    `json:"retry_count"`
	Terminal   bool   `json:"terminal"`
	Error      string `json:"error"`
}

// ActionRetriedEvent is emitted after a manual retry ran the remote call.
type ActionRetriedEvent struct {
	ActionID   string `json:"action_id"`
	ActionType string `json:"action_type"`
	Synced     bool   `json:"synced"`
}

// AssetsRefreshedEvent is emitted after an authoritative fetch.
type AssetsRefreshedEvent struct {
	Count  int    `json:"count"`
	Source string `json:"source"`
}

// ActionQueuedEvent is emitted when an edit goes to the offline queue.
type ActionQueuedEvent struct {
	ActionID   string `json:"action_id"`
	ActionType string `json:"action_type"`
}

// RemoteWriteEvent is emitted when an edit reached the backend directly.
type RemoteWriteEvent struct {
	Table string `json:"table"`
	Op    string `json:"op"`
	RowID string `json:"row_id"`
}

// ConnectivityEvent is emitted on online/offline transitions.
type ConnectivityEvent struct {
	Online bool   `json:"online"`
	Error  string `json:"error,omitempty"`
}
