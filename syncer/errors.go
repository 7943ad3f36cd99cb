package syncer

import (
	"errors"
	"fmt"
)

var (
	// ErrTerminalFailure marks an action that exhausted its automatic retries.
	ErrTerminalFailure = errors.New("action exhausted retries")

	// ErrActionInFlight rejects a manual retry of an action being synced, or of
	// a pending one while a pass owns it.
	ErrActionInFlight = errors.New("action is being synced")

	// ErrNoHandler means no handler is registered for the action type.
	ErrNoHandler = errors.New("no handler for action type")
)

// RemoteCallError is a failed remote call for one action.
type RemoteCallError struct {
	ActionID   string
	ActionType string
	RetryCount int
	Terminal   bool
	Err        error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("sync %s %s (attempt %d): %v", e.ActionType, e.ActionID, e.RetryCount, e.Err)
}

func (e *RemoteCallError) Unwrap() []error {
	if e.Terminal {
		return []error{e.Err, ErrTerminalFailure}
	}
	return []error{e.Err}
}
