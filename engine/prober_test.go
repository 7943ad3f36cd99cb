package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type togglePinger struct {
	mu  sync.Mutex
	err error
}

func (p *togglePinger) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *togglePinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func TestProberReportsTransitionsOnly(t *testing.T) {
	pinger := &togglePinger{err: errors.New("dial tcp: refused")}
	var changes []bool
	p := NewProber(pinger, time.Hour, time.Second, func(online bool, _ error) {
		changes = append(changes, online)
	})

	assert.False(t, p.Probe())
	assert.False(t, p.Probe())
	require.Error(t, p.LastError())

	pinger.set(nil)
	assert.True(t, p.Probe())
	assert.True(t, p.Probe())
	assert.True(t, p.Online())
	assert.NoError(t, p.LastError())

	assert.Equal(t, []bool{false, true}, changes)
}

func TestProberLoopStops(t *testing.T) {
	pinger := &togglePinger{}
	var mu sync.Mutex
	online := 0
	p := NewProber(pinger, 10*time.Millisecond, 0, func(on bool, _ error) {
		mu.Lock()
		defer mu.Unlock()
		if on {
			online++
		}
	})
	p.Start()
	assert.True(t, p.Online())

	pinger.set(errors.New("down"))
	require.Eventually(t, func() bool { return !p.Online() }, time.Second, 5*time.Millisecond)
	p.Stop()
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, online)
}

func TestProberStopWithoutStart(t *testing.T) {
	p := NewProber(&togglePinger{}, time.Second, time.Second, nil)
	p.Stop()
}
