// Package connectivity tracks whether the remote store is reachable.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/labsync/internal/remote"
)

// Monitor holds the online flag and notifies subscribers of transitions.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	nextID int
}

// NewMonitor creates a Monitor with the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online, subs: make(map[int]chan bool)}
}

// IsOnline reports the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the current state and reports whether it changed.
// Subscribers are notified only on a change.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return false
	}
	m.online = online
	for _, ch := range m.subs {
		// Keep only the latest state for slow subscribers.
		select {
		case <-ch:
		default:
		}
		ch <- online
	}

	slog.Info("connectivity changed",
		"action", "transition",
		"online", online,
		"component", "connectivity",
	)
	return true
}

// Subscribe returns a channel receiving the new state on every transition
// and a function that unsubscribes and closes it.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

// Prober pings the remote periodically and feeds the result to a Monitor.
type Prober struct {
	pinger   remote.Pinger
	monitor  *Monitor
	interval time.Duration
	timeout  time.Duration
}

// NewProber creates a Prober. timeout bounds each ping.
func NewProber(p remote.Pinger, m *Monitor, interval, timeout time.Duration) *Prober {
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Prober{pinger: p, monitor: m, interval: interval, timeout: timeout}
}

// Probe pings once and updates the monitor, returning the observed state.
func (p *Prober) Probe(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.pinger.Ping(pingCtx)
	cancel()
	if ctx.Err() != nil {
		return p.monitor.IsOnline()
	}
	if err != nil {
		slog.Debug("remote ping failed", "error", err, "component", "connectivity")
	}
	p.monitor.Set(err == nil)
	return err == nil
}

// Run probes immediately and then every interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
