package connectivity

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eggsync/internal/remote"
)

func pending(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestMonitorStartsOffline(t *testing.T) {
	m := NewMonitor(nil)
	assert.False(t, m.IsOnline())
}

func TestMonitorEdgeTriggered(t *testing.T) {
	m := NewMonitor(nil)
	ch, cancel := m.Subscribe()
	defer cancel()

	assert.True(t, m.Set(true))
	assert.False(t, m.Set(true), "no transition when already online")
	assert.True(t, pending(ch))
	assert.False(t, pending(ch), "exactly one signal per transition")

	m.Set(false)
	assert.False(t, pending(ch), "going offline does not signal")
}

func TestMonitorSignalsCoalesce(t *testing.T) {
	m := NewMonitor(nil)
	ch, cancel := m.Subscribe()
	defer cancel()

	for range 3 {
		m.Set(true)
		m.Set(false)
	}
	assert.True(t, pending(ch))
	assert.False(t, pending(ch))
}

func TestMonitorUnsubscribe(t *testing.T) {
	m := NewMonitor(nil)
	ch, cancel := m.Subscribe()
	cancel()
	cancel()
	m.Set(true)
	assert.False(t, pending(ch))
}

func TestMonitorCheck(t *testing.T) {
	var fail atomic.Bool
	m := NewMonitor(ProberFunc(func(ctx context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	}))
	ch, cancel := m.Subscribe()
	defer cancel()

	assert.True(t, m.Check(context.Background()))
	assert.True(t, pending(ch), "first successful probe is a transition")

	fail.Store(true)
	assert.False(t, m.Check(context.Background()))
	assert.False(t, m.IsOnline())
}

func TestMonitorRun(t *testing.T) {
	m := NewMonitor(ProberFunc(func(ctx context.Context) error { return nil }), WithInterval(time.Millisecond))
	ch, cancel := m.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no online signal")
	}
	stop()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestDialProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, DialProber{Addr: addr}.Probe(ctx))

	ln.Close()
	assert.Error(t, DialProber{Addr: addr}.Probe(ctx))
}

func TestPingerProber(t *testing.T) {
	store := remote.NewMemoryStore()
	p := PingerProber{Pinger: store}
	assert.NoError(t, p.Probe(context.Background()))
	store.SetOffline(true)
	assert.Error(t, p.Probe(context.Background()))
}
