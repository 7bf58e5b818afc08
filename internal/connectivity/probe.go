package connectivity

import (
	"context"
	"net"
)

// DialProber considers the network up when a TCP connection to Addr
// succeeds.
type DialProber struct {
	Addr string
}

func (p DialProber) Probe(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Pinger is satisfied by the remote document stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerProber probes by pinging the remote store itself.
type PingerProber struct {
	Pinger Pinger
}

func (p PingerProber) Probe(ctx context.Context) error {
	return p.Pinger.Ping(ctx)
}
