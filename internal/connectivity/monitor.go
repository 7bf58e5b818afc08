// Package connectivity tracks whether the remote backend is reachable and
// notifies subscribers when it comes back.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Prober checks reachability once.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// Monitor holds the current online state. The zero state is offline.
//
// Subscribers receive one signal per offline to online transition. Each
// subscription channel has a buffer of one, so a slow subscriber sees at
// most one pending signal no matter how many transitions happened.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	online bool
	subs   map[int]chan struct{}
	nextID int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the probe period.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithTimeout bounds each probe.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMonitor creates an offline monitor. prober may be nil when the state is
// only ever driven through Set.
func NewMonitor(prober Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		interval: 10 * time.Second,
		timeout:  3 * time.Second,
		logger:   slog.Default(),
		subs:     make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsOnline reports the last observed state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe returns a channel signalled on each offline to online
// transition and a function that ends the subscription.
func (m *Monitor) Subscribe() (<-chan struct{}, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan struct{}, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
		})
	}
}

// Set records a new state and notifies subscribers if it is a transition to
// online. It reports whether the state changed.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return false
	}
	m.online = online
	if online {
		for _, ch := range m.subs {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
	m.logger.Info("connectivity changed", "online", online)
	return true
}

// Check runs one probe and updates the state.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.IsOnline()
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.prober.Probe(probeCtx)
	if err != nil && ctx.Err() != nil {
		// Shutting down; keep the last state.
		return m.IsOnline()
	}
	if err != nil {
		m.logger.Debug("probe failed", "err", err)
	}
	m.Set(err == nil)
	return err == nil
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if m.prober == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
