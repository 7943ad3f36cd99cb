package messaging

import (
	"context"
	"fmt"
	"log"

	"assetedge/protocol"
)

// Broker is the part of Client the feed and announcer need.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler func(payload []byte)) error
	Unsubscribe(topic string)
}

// ChangeFeed delivers change notices other terminals announce on the broker.
type ChangeFeed struct {
	broker   Broker
	topic    string
	deviceID string
}

// NewChangeFeed creates a feed on topic. Notices sent by deviceID itself are
// dropped.
func NewChangeFeed(broker Broker, topic, deviceID string) *ChangeFeed {
	return &ChangeFeed{broker: broker, topic: topic, deviceID: deviceID}
}

// Subscribe delivers notices for tables to fn until ctx is done.
func (f *ChangeFeed) Subscribe(ctx context.Context, tables []string, fn func(protocol.RowChanged)) error {
	want := make(map[string]bool, len(tables))
	for _, t := range tables {
		want[t] = true
	}
	ing := protocol.NewIngestor(protocol.HandlerFunc(func(env *protocol.Envelope, rc *protocol.RowChanged) {
		if len(want) > 0 && !want[rc.Table] {
			return
		}
		fn(*rc)
	}), protocol.NotFromDevice(f.deviceID))

	if err := f.broker.Subscribe(f.topic, ing.HandleRaw); err != nil {
		return fmt.Errorf("subscribe %s: %w", f.topic, err)
	}
	log.Printf("messaging: change feed listening on %s (device=%s)", f.topic, f.deviceID)

	go func() {
		<-ctx.Done()
		f.broker.Unsubscribe(f.topic)
	}()
	return nil
}

// Announcer tells other terminals that this one changed shared rows.
type Announcer struct {
	broker   Broker
	topic    string
	deviceID string
}

func NewAnnouncer(broker Broker, topic, deviceID string) *Announcer {
	return &Announcer{broker: broker, topic: topic, deviceID: deviceID}
}

// Announce publishes one change notice.
func (a *Announcer) Announce(ctx context.Context, rc protocol.RowChanged) error {
	env, err := protocol.NewEnvelope(protocol.TypeRowChanged,
		protocol.Address{Role: protocol.RoleTerminal, Device: a.deviceID}, &rc)
	if err != nil {
		return fmt.Errorf("build change notice: %w", err)
	}
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode change notice: %w", err)
	}
	return a.broker.Publish(ctx, a.topic, data)
}
