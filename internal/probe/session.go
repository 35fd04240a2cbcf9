package probe

import (
	"context"
	"net"
	"sync"
)

// Session sends probes one after another. Over UDP all probes share one
// socket; over TCP each probe gets its own connection since the server
// answers a single message per connection.
type Session struct {
	prober *Prober

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// Dial opens a session to the prober target.
func (p *Prober) Dial(ctx context.Context) (*Session, error) {
	s := &Session{prober: p}

	if p.config.Network == NetworkUDP {
		conn, err := p.dial(ctx)
		if err != nil {
			return nil, err
		}
		s.conn = conn
	}

	return s, nil
}

// Probe sends payload and waits for its reply. Calls are serialized so the
// next probe is never sent before the previous one has been answered or
// has timed out.
func (s *Session) Probe(ctx context.Context, seq int, payload []byte) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Sample{}, ErrClosed
	}

	if s.conn == nil {
		return s.prober.Probe(ctx, seq, payload)
	}

	return s.prober.exchange(ctx, s.conn, seq, payload)
}

// LocalAddr returns the address of the shared socket, nil over TCP.
func (s *Session) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Close releases the shared socket.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
