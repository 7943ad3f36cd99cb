package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetedge/config"
	"assetedge/protocol"
)

// loopback is an in-process Broker.
type loopback struct {
	mu       sync.Mutex
	handlers map[string]func([]byte)
	unsubbed chan string
}

func newLoopback() *loopback {
	return &loopback{handlers: map[string]func([]byte){}, unsubbed: make(chan string, 4)}
}

func (b *loopback) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	if h != nil {
		h(payload)
	}
	return nil
}

func (b *loopback) Subscribe(topic string, handler func([]byte)) error {
	b.mu.Lock()
	b.handlers[topic] = handler
	b.mu.Unlock()
	return nil
}

func (b *loopback) Unsubscribe(topic string) {
	b.mu.Lock()
	delete(b.handlers, topic)
	b.mu.Unlock()
	b.unsubbed <- topic
}

func TestAnnouncerToChangeFeed(t *testing.T) {
	b := newLoopback()
	ctx, cancel := context.WithCancel(context.Background())

	var got []protocol.RowChanged
	feed := NewChangeFeed(b, "assetedge/changes", "scanner-1")
	require.NoError(t, feed.Subscribe(ctx, []string{protocol.TableAssets, protocol.TableChecks},
		func(rc protocol.RowChanged) { got = append(got, rc) }))

	other := NewAnnouncer(b, "assetedge/changes", "scanner-2")
	self := NewAnnouncer(b, "assetedge/changes", "scanner-1")

	require.NoError(t, other.Announce(ctx, protocol.RowChanged{Table: protocol.TableChecks, Op: protocol.OpInsert, RowID: "A1"}))
	require.NoError(t, other.Announce(ctx, protocol.RowChanged{Table: protocol.TableScans, Op: protocol.OpInsert}))
	require.NoError(t, self.Announce(ctx, protocol.RowChanged{Table: protocol.TableAssets, Op: protocol.OpUpdate}))

	require.Len(t, got, 1)
	assert.Equal(t, "A1", got[0].RowID)

	cancel()
	select {
	case topic := <-b.unsubbed:
		assert.Equal(t, "assetedge/changes", topic)
	case <-time.After(time.Second):
		t.Fatal("feed did not unsubscribe on cancel")
	}
}

func TestClientNotConnected(t *testing.T) {
	cfg := config.Defaults()
	cfg.Messaging.Backend = BackendRedis
	c := NewClient(cfg)
	defer c.Close()

	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Publish(context.Background(), "t", []byte("x")), ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe("t", func([]byte) {}), ErrNotConnected)
}

func TestClientUnknownBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.Messaging.Backend = "carrier-pigeon"
	c := NewClient(cfg)
	assert.Error(t, c.Connect())
}
