package queue

import "errors"

var (
	// ErrStoreUnavailable means the persistent store could not be opened.
	// It is fatal: no operation succeeds afterwards.
	ErrStoreUnavailable = errors.New("queue store unavailable")

	// ErrActionNotFound means the id is no longer queued. Callers treat it as
	// already resolved.
	ErrActionNotFound = errors.New("queued action not found")

	// ErrNotClaimable means the action is not in a status Claim accepts.
	ErrNotClaimable = errors.New("queued action not claimable")

	ErrUnknownActionType = errors.New("unknown action type")
)
