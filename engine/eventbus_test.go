package engine

import (
	"testing"
)

func TestEventBusOrderAndFilter(t *testing.T) {
	eb := NewEventBus()

	var got []string
	eb.Subscribe(func(evt Event) { got = append(got, "all:"+string(evt.Type)) })
	eb.SubscribeTypes(func(evt Event) { got = append(got, "sync:"+string(evt.Type)) }, EventSyncStatus)

	eb.Emit(Event{Type: EventSyncStatus})
	eb.Emit(Event{Type: EventAssetsRefreshed})

	want := []string{"all:sync-status", "sync:sync-status", "all:assets-refreshed"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEventBusStampsTimestamp(t *testing.T) {
	eb := NewEventBus()
	var evt Event
	eb.Subscribe(func(e Event) { evt = e })
	eb.Emit(Event{Type: EventConnectivity})
	if evt.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := NewEventBus()
	calls := 0
	id := eb.Subscribe(func(Event) { calls++ })
	eb.Emit(Event{Type: EventSyncStatus})

	if !eb.Unsubscribe(id) {
		t.Fatal("expected Unsubscribe to find subscriber")
	}
	if eb.Unsubscribe(id) {
		t.Error("second Unsubscribe should report false")
	}
	eb.Emit(Event{Type: EventSyncStatus})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestEventBusUnsubscribeDuringEmit(t *testing.T) {
	eb := NewEventBus()
	var id SubscriberID
	calls := 0
	id = eb.Subscribe(func(Event) {
		calls++
		eb.Unsubscribe(id)
	})
	eb.Subscribe(func(Event) { calls++ })

	eb.Emit(Event{Type: EventSyncStatus})
	eb.Emit(Event{Type: EventSyncStatus})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}
