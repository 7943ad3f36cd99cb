package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetedge/protocol"
)

func TestBuildUpdateLastWriteWins(t *testing.T) {
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	query, args, err := buildUpdate("A1", map[string]any{"status": "Tốt", "location": "Kho 2"}, ts)
	require.NoError(t, err)

	assert.Equal(t, `UPDATE assets SET location = $1, status = $2, updated_at = $3 WHERE id = $4 AND updated_at <= $3`, query)
	require.Len(t, args, 4)
	assert.Equal(t, "Kho 2", args[0])
	assert.Equal(t, "Tốt", args[1])
	assert.Equal(t, ts, args[2])
	assert.Equal(t, "A1", args[3])
}

func TestBuildUpdateRejectsUnknownField(t *testing.T) {
	_, _, err := buildUpdate("A1", map[string]any{"company_id": 7}, time.Now())
	assert.ErrorIs(t, err, ErrUnknownField)
	assert.False(t, IsTransient(err))

	_, _, err = buildUpdate("A1", nil, time.Now())
	assert.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(errors.New("dial tcp: connection refused")))
	assert.False(t, IsTransient(fmt.Errorf("create asset: %w", &pgconn.PgError{Code: "23505"})))
}

// testPostgres connects to ASSETEDGE_TEST_PG, skipping when it is unset.
func testPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("ASSETEDGE_TEST_PG")
	if dsn == "" {
		t.Skip("ASSETEDGE_TEST_PG not set")
	}
	ctx := context.Background()
	p, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	require.NoError(t, p.EnsureSchema(ctx))
	return p
}

func TestPostgresReplaysAreIdempotent(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()

	id := uuid.NewString()
	a := protocol.Asset{ID: id, Code: "T-" + id[:8], Name: "Laptop"}
	require.NoError(t, p.CreateAsset(ctx, a, "alice"))
	require.NoError(t, p.CreateAsset(ctx, a, "alice"))
	t.Cleanup(func() { p.DeleteAsset(ctx, id) })

	require.NoError(t, p.CheckAsset(ctx, id, "alice", ""))
	require.NoError(t, p.CheckAsset(ctx, id, "bob", "second scan"))

	scanID := uuid.NewString()
	require.NoError(t, p.AppendScanRecord(ctx, scanID, "alice", id))
	require.NoError(t, p.AppendScanRecord(ctx, scanID, "alice", id))

	list, err := p.ListAssets(ctx)
	require.NoError(t, err)
	var got *protocol.Asset
	for i := range list {
		if list[i].ID == id {
			got = &list[i]
		}
	}
	require.NotNil(t, got)
	assert.True(t, got.Checked)
	assert.Equal(t, "bob", got.CheckedBy)

	require.NoError(t, p.UncheckAsset(ctx, id))
	require.NoError(t, p.UncheckAsset(ctx, id))
	require.NoError(t, p.DeleteAsset(ctx, id))
	require.NoError(t, p.DeleteAsset(ctx, id))
}

func TestPostgresUpdateOlderWriteLoses(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()

	id := uuid.NewString()
	base := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, p.CreateAsset(ctx, protocol.Asset{ID: id, Code: "L-" + id[:8], UpdatedAt: base}, "alice"))
	t.Cleanup(func() { p.DeleteAsset(ctx, id) })

	require.NoError(t, p.UpdateAsset(ctx, id, map[string]any{"status": "newer"}, base.Add(10*time.Minute)))
	require.NoError(t, p.UpdateAsset(ctx, id, map[string]any{"status": "older"}, base.Add(5*time.Minute)))

	list, err := p.ListAssets(ctx)
	require.NoError(t, err)
	for _, a := range list {
		if a.ID == id {
			assert.Equal(t, "newer", a.Status)
			return
		}
	}
	t.Fatal("asset not listed")
}

// chanListener serves notifications from a channel; closing drop ends the
// session as a dropped connection would.
type chanListener struct {
	notes    chan *pgconn.Notification
	drop     chan struct{}
	released chan struct{}
}

func newChanListener() *chanListener {
	return &chanListener{
		notes:    make(chan *pgconn.Notification, 4),
		drop:     make(chan struct{}),
		released: make(chan struct{}),
	}
}

func (l *chanListener) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case n := <-l.notes:
		return n, nil
	case <-l.drop:
		return nil, errors.New("conn closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *chanListener) Release() { close(l.released) }

func notice(table, rowID string) *pgconn.Notification {
	return &pgconn.Notification{Payload: fmt.Sprintf(`{"table":%q,"op":"UPDATE","row_id":%q}`, table, rowID)}
}

func TestFeedStartsWhileServerDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	sessions := []*chanListener{newChanListener(), newChanListener()}
	attempts := make(chan int, 16)
	n := 0
	listen := func(context.Context) (listener, error) {
		n++
		attempts <- n
		// Down for the first two attempts, then up; the first session drops.
		switch n {
		case 1, 2:
			return nil, errors.New("dial tcp: connection refused")
		case 3:
			return sessions[0], nil
		case 4:
			return sessions[1], nil
		}
		return nil, errors.New("unexpected reconnect")
	}

	got := make(chan protocol.RowChanged, 8)
	f := &feed{
		listen:  listen,
		backoff: func(int) time.Duration { return time.Millisecond },
		want:    map[string]bool{protocol.TableChecks: true},
		fn:      func(rc protocol.RowChanged) { got <- rc },
	}
	done := make(chan struct{})
	go func() {
		f.run(ctx, nil)
		close(done)
	}()

	sessions[0].notes <- notice(protocol.TableAssets, "skip")
	sessions[0].notes <- notice(protocol.TableChecks, "A1")
	select {
	case rc := <-got:
		assert.Equal(t, "A1", rc.RowID)
	case <-time.After(2 * time.Second):
		t.Fatal("feed never came up")
	}

	close(sessions[0].drop)
	<-sessions[0].released
	sessions[1].notes <- notice(protocol.TableChecks, "A2")
	select {
	case rc := <-got:
		assert.Equal(t, "A2", rc.RowID)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not reconnect")
	}

	cancel()
	<-done
	<-sessions[1].released
	assert.Len(t, attempts, 4)
}

func TestPostgresChangeFeed(t *testing.T) {
	p := testPostgres(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan protocol.RowChanged, 8)
	require.NoError(t, p.Subscribe(ctx, []string{protocol.TableChecks}, func(rc protocol.RowChanged) { got <- rc }))

	id := uuid.NewString()
	require.NoError(t, p.CreateAsset(ctx, protocol.Asset{ID: id, Code: "F-" + id[:8]}, "alice"))
	t.Cleanup(func() { p.DeleteAsset(context.Background(), id) })
	require.NoError(t, p.CheckAsset(ctx, id, "alice", ""))

	select {
	case rc := <-got:
		assert.Equal(t, protocol.TableChecks, rc.Table)
		assert.True(t, strings.EqualFold(rc.Op, protocol.OpInsert))
		assert.Equal(t, id, rc.RowID)
	case <-time.After(5 * time.Second):
		t.Fatal("no change notice")
	}
}
