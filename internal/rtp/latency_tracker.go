package rtp

import (
	"sync"
	"time"
)

// DefaultMaxAge is how long a send time is kept before it is considered
// lost and evicted.
const DefaultMaxAge = 3 * time.Second

// LatencyTracker tracks round-trip latency of framed probes by sequence number
type LatencyTracker struct {
	sentTimes map[uint16]time.Time // seq -> send_time
	maxAge    time.Duration
	mu        sync.Mutex
}

// NewLatencyTracker creates a new LatencyTracker. A non-positive maxAge
// selects DefaultMaxAge.
func NewLatencyTracker(maxAge time.Duration) *LatencyTracker {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &LatencyTracker{
		sentTimes: make(map[uint16]time.Time),
		maxAge:    maxAge,
	}
}

// RecordSent records the time when a probe is sent to the echo server
func (t *LatencyTracker) RecordSent(seq uint16, sendTime time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sentTimes[seq] = sendTime

	cutoff := time.Now().Add(-t.maxAge)
	for s, sent := range t.sentTimes {
		if sent.Before(cutoff) {
			delete(t.sentTimes, s)
		}
	}
}

// GetLatency returns the latency of the reply with sequence number seq,
// measured at receiveTime. The entry is consumed, so a duplicate reply
// reports false.
func (t *LatencyTracker) GetLatency(seq uint16, receiveTime time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sendTime, exists := t.sentTimes[seq]
	if !exists {
		return 0, false
	}
	delete(t.sentTimes, seq)

	latency := receiveTime.Sub(sendTime)
	if latency < 0 {
		latency = 0
	}
	return latency, true
}

// Pending returns the number of probes still awaiting a reply.
func (t *LatencyTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sentTimes)
}
