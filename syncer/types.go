package syncer

import (
	"context"

	"assetedge/queue"
)

// SyncStatus is the aggregate status pushed to status subscribers.
type SyncStatus string

// Sync statuses
const (
	StatusSyncing SyncStatus = "syncing"
	StatusSuccess SyncStatus = "success"
	StatusError   SyncStatus = "error"
)

// StatusEvent is delivered to OnStatusChange callbacks.
type StatusEvent struct {
	Status  SyncStatus `json:"status"`
	Pending int        `json:"pending"`
}

// Result counts the outcome of one SyncAll pass.
type Result struct {
	SuccessCount int `json:"success_count"`
	FailedCount  int `json:"failed_count"`
}

// Handler replays one action against the remote backend.
type Handler func(ctx context.Context, a queue.Action) error

// Handlers routes each action type to its handler.
type Handlers map[queue.ActionType]Handler

// DefaultMaxRetries is the number of failed attempts after which an action
// stops being retried automatically.
const DefaultMaxRetries = 3
