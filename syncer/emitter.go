package syncer

// EventEmitter is the interface the syncer package uses to emit events.
type EventEmitter interface {
	EmitSyncStatus(status SyncStatus, pending int)
	EmitSyncCompleted(result Result)
	EmitActionFailed(actionID, actionType string, retryCount int, terminal bool, errMsg string)
	EmitActionRetried(actionID, actionType string, synced bool)
}

type noopEmitter struct{}

func (noopEmitter) EmitSyncStatus(SyncStatus, int) {}
func (noopEmitter) EmitSyncCompleted(Result) {}
func (noopEmitter) EmitActionFailed(string, string, int, bool, string) {}
func (noopEmitter) EmitActionRetried(string, string, bool) {}
