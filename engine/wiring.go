package engine

import (
	"context"
	"log"
	"time"

	"assetedge/protocol"
	"assetedge/syncer"
)

const announceTimeout = 5 * time.Second

// wireEventHandlers sets up the event chain:
// SyncStatus(syncing) → hold remote refreshes until the pass ends
// SyncCompleted → refresh snapshot, announce to other terminals
// ActionRetried(synced) → refresh snapshot outside a pass, announce
// RemoteWrite → announce to other terminals
// ActionQueued → drain now if online
func (e *Engine) wireEventHandlers() {
	e.Events.SubscribeTypes(func(evt Event) {
		st := evt.Payload.(SyncStatusEvent)
		e.statusMu.Lock()
		e.lastStatus = st
		e.statusMu.Unlock()
		if st.Status == syncer.StatusSyncing {
			e.coordinator.HandleSyncStarted()
		}
	}, EventSyncStatus)

	e.Events.SubscribeTypes(func(evt Event) {
		done := evt.Payload.(SyncCompletedEvent)
		e.coordinator.HandleSyncCompleted(syncer.Result{
			SuccessCount: done.SuccessCount, FailedCount: done.FailedCount,
		})
		if done.SuccessCount > 0 {
			e.announce(protocol.RowChanged{Table: protocol.TableAssets, Op: protocol.OpUpdate})
		}
	}, EventSyncCompleted)

	e.Events.SubscribeTypes(func(evt Event) {
		r := evt.Payload.(ActionRetriedEvent)
		if r.Synced {
			e.coordinator.HandleLocalChange()
			e.announce(protocol.RowChanged{Table: protocol.TableAssets, Op: protocol.OpUpdate})
		}
	}, EventActionRetried)

	e.Events.SubscribeTypes(func(evt Event) {
		w := evt.Payload.(RemoteWriteEvent)
		e.announce(protocol.RowChanged{Table: w.Table, Op: w.Op, RowID: w.RowID})
	}, EventRemoteWrite)

	e.Events.SubscribeTypes(func(evt Event) {
		f := evt.Payload.(ActionFailedEvent)
		if f.Terminal {
			log.Printf("engine: action %s (%s) gave up after %d attempts: %s",
				f.ActionID, f.ActionType, f.RetryCount, f.Error)
		}
	}, EventActionFailed)

	e.Events.SubscribeTypes(func(evt Event) {
		q := evt.Payload.(ActionQueuedEvent)
		e.debugFn("queued %s %s", q.ActionType, q.ActionID)
		// Queued while online means it sits behind a backlog; drain it.
		e.TriggerSync("queued")
	}, EventActionQueued)
}

// handleConnectivity runs on the prober goroutine for every transition.
func (e *Engine) handleConnectivity(online bool, err error) {
	evt := ConnectivityEvent{Online: online}
	if err != nil {
		evt.Error = err.Error()
	}
	e.Events.Emit(Event{Type: EventConnectivity, Payload: evt})
	if online {
		e.TriggerSync("reconnect")
	}
}

// announce publishes a change notice in the background so the emitting
// goroutine never waits on the broker.
func (e *Engine) announce(rc protocol.RowChanged) {
	if e.announcer == nil {
		return
	}
	e.goBackground(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, announceTimeout)
		defer cancel()
		if err := e.announcer.Announce(ctx, rc); err != nil {
			log.Printf("engine: announce %s change: %v", rc.Table, err)
		}
	})
}
