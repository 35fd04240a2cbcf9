package echo

import (
	"time"

	"latency-probe/internal/wire"
)

// ReplyPolicy decides what is sent back for a received message.
type ReplyPolicy struct {
	// Prefix is prepended to the received payload.
	Prefix []byte
	// Fixed, when non-nil, replaces the reply entirely and the payload is
	// ignored.
	Fixed []byte
}

// Reply builds the acknowledgment for msg.
func (p ReplyPolicy) Reply(msg []byte) []byte {
	if p.Fixed != nil {
		return append([]byte(nil), p.Fixed...)
	}
	return wire.Ack(p.Prefix, msg)
}

// DelayPolicy injects an artificial delay before replying once the message
// counter exceeds After. A zero Delay disables it.
type DelayPolicy struct {
	After   int
	Delay   time.Duration
	PerPeer bool
}

// DelayFor returns the delay to apply to the message with the given
// 1-based count.
func (p DelayPolicy) DelayFor(count int) time.Duration {
	if p.Delay <= 0 || count <= p.After {
		return 0
	}
	return p.Delay
}

// serveState is the mutable state of one serve loop.
type serveState struct {
	count       int
	peerCounts  map[string]int
	lastReceive time.Time
}

func newServeState() *serveState {
	return &serveState{
		peerCounts: make(map[string]int),
	}
}

// observe counts a message received from peer at time at. It returns the
// global count, the count for peer and the gap since the previous message
// (zero for the first one).
func (s *serveState) observe(peer string, at time.Time) (count, peerCount int, gap time.Duration) {
	if !s.lastReceive.IsZero() {
		gap = at.Sub(s.lastReceive)
	}
	s.lastReceive = at

	s.count++
	s.peerCounts[peer]++

	return s.count, s.peerCounts[peer], gap
}
