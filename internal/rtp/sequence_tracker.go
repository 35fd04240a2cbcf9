package rtp

import (
	"sync"
)

// SequenceTracker tracks sequence numbers for packet loss detection
type SequenceTracker struct {
	started         bool
	lastIncomingSeq uint16
	outgoingCount   uint32
	incomingCount   uint32
	droppedCount    uint32
	reorderedCount  uint32
	mu              sync.RWMutex
}

// NewSequenceTracker creates a new SequenceTracker
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{}
}

// TrackOutgoing counts a sent packet.
func (s *SequenceTracker) TrackOutgoing() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outgoingCount++
}

// TrackIncoming tracks incoming sequence numbers and returns the number of
// packets newly detected as missing. Sequence numbers wrap at 65535; a
// packet more than half the sequence space behind the last one is counted
// as reordered rather than as a wraparound.
func (s *SequenceTracker) TrackIncoming(seq uint16) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.incomingCount++

	if !s.started {
		s.started = true
		s.lastIncomingSeq = seq
		return 0
	}

	gap := seq - s.lastIncomingSeq
	switch {
	case gap == 0:
		return 0
	case gap >= 0x8000:
		s.reorderedCount++
		return 0
	}

	s.lastIncomingSeq = seq
	dropped := uint32(gap) - 1
	s.droppedCount += dropped
	return dropped
}

// GetStats returns tracking statistics
func (s *SequenceTracker) GetStats() (outgoing, incoming, dropped, reordered uint32) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.outgoingCount, s.incomingCount, s.droppedCount, s.reorderedCount
}
