package engine

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Pinger is the reachability check the prober runs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober pings the backend periodically and reports online/offline
// transitions.
type Prober struct {
	target   Pinger
	interval time.Duration
	timeout  time.Duration
	onChange func(online bool, err error)

	mu      sync.RWMutex
	online  bool
	probed  bool
	lastErr error

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewProber creates a prober. onChange runs on the probing goroutine for the
// first result and for every change after it.
func NewProber(target Pinger, interval, timeout time.Duration, onChange func(online bool, err error)) *Prober {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	if onChange == nil {
		onChange = func(bool, error) {}
	}
	return &Prober{
		target:   target,
		interval: interval,
		timeout:  timeout,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start probes once synchronously, then keeps probing in the background.
func (p *Prober) Start() {
	p.Probe()
	p.started.Store(true)
	go p.loop()
}

// Stop halts the probe loop and waits for it to exit.
func (p *Prober) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.started.Load() {
		<-p.done
	}
}

// Online reports the last probe result. It is false before the first probe.
func (p *Prober) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

// LastError returns the error of the last failed probe, nil when online.
func (p *Prober) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// Probe pings the target once and reports whether it is reachable.
func (p *Prober) Probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	err := p.target.Ping(ctx)
	cancel()

	online := err == nil
	p.mu.Lock()
	changed := !p.probed || p.online != online
	p.probed = true
	p.online = online
	p.lastErr = err
	p.mu.Unlock()

	if changed {
		if online {
			log.Printf("prober: backend reachable")
		} else {
			log.Printf("prober: backend unreachable: %v", err)
		}
		p.onChange(online, err)
	}
	return online
}

func (p *Prober) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Probe()
		}
	}
}
