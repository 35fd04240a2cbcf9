package probe

import (
	"bytes"

	"latency-probe/internal/rtp"
	"latency-probe/internal/wire"
)

// MatchFunc reports whether reply answers the probe that carried sent.
// Replies that do not match are late answers to earlier probes and are
// discarded.
type MatchFunc func(sent, reply []byte) bool

// MatchAny accepts the first reply, whatever it contains.
func MatchAny(sent, reply []byte) bool {
	return true
}

// MatchExact accepts only prefix ⧺ sent, cut to size bytes the way the
// receive buffer cuts an oversized reply. A size of zero disables the cut.
func MatchExact(prefix []byte, size int) MatchFunc {
	return func(sent, reply []byte) bool {
		return bytes.Equal(reply, wire.Truncate(wire.Ack(prefix, sent), size))
	}
}

// MatchSuffix accepts any reply ending with the sent payload.
func MatchSuffix(sent, reply []byte) bool {
	return bytes.HasSuffix(reply, sent)
}

// MatchRTPSequence accepts a reply whose RTP sequence number, after the
// optional prefix, equals the one that was sent.
func MatchRTPSequence(prefix []byte) MatchFunc {
	return func(sent, reply []byte) bool {
		want, ok := rtp.Sequence(sent)
		if !ok {
			return false
		}
		got, ok := rtp.Sequence(bytes.TrimPrefix(reply, prefix))
		return ok && got == want
	}
}
