package engine

import (
	"assetedge/protocol"
	"assetedge/syncer"
)

// syncEmitter adapts the engine's EventBus to the syncer.EventEmitter interface.
type syncEmitter struct {
	bus *EventBus
}

func (e *syncEmitter) EmitSyncStatus(status syncer.SyncStatus, pending int) {
	e.bus.Emit(Event{Type: EventSyncStatus, Payload: SyncStatusEvent{Status: status, Pending: pending}})
}

func (e *syncEmitter) EmitSyncCompleted(r syncer.Result) {
	e.bus.Emit(Event{Type: EventSyncCompleted, Payload: SyncCompletedEvent{
		SuccessCount: r.SuccessCount, FailedCount: r.FailedCount,
	}})
}

func (e *syncEmitter) EmitActionFailed(actionID, actionType string, retryCount int, terminal bool, errMsg string) {
	e.bus.Emit(Event{Type: EventActionFailed, Payload: ActionFailedEvent{
		ActionID: actionID, ActionType: actionType, RetryCount: retryCount, Terminal: terminal, Error: errMsg,
	}})
}

func (e *syncEmitter) EmitActionRetried(actionID, actionType string, synced bool) {
	e.bus.Emit(Event{Type: EventActionRetried, Payload: ActionRetriedEvent{
		ActionID: actionID, ActionType: actionType, Synced: synced,
	}})
}

// assetsEmitter adapts the engine's EventBus to the assets.EventEmitter interface.
type assetsEmitter struct {
	bus *EventBus
}

func (e *assetsEmitter) EmitAssetsRefreshed(count int, source string) {
	e.bus.Emit(Event{Type: EventAssetsRefreshed, Payload: AssetsRefreshedEvent{Count: count, Source: source}})
}

func (e *assetsEmitter) EmitActionQueued(actionID, actionType string) {
	e.bus.Emit(Event{Type: EventActionQueued, Payload: ActionQueuedEvent{ActionID: actionID, ActionType: actionType}})
}

func (e *assetsEmitter) EmitRemoteWrite(rc protocol.RowChanged) {
	e.bus.Emit(Event{Type: EventRemoteWrite, Payload: RemoteWriteEvent{Table: rc.Table, Op: rc.Op, RowID: rc.RowID}})
}
