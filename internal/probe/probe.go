package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"latency-probe/internal/metrics"
	"latency-probe/internal/rtp"
	"latency-probe/internal/sockopt"
	"latency-probe/internal/wire"
)

const (
	NetworkUDP = "udp"
	NetworkTCP = "tcp"

	defaultTimeout     = time.Second
	defaultConcurrency = 100
)

var (
	ErrTimeout        = errors.New("probe: timed out waiting for reply")
	ErrInvalidNetwork = errors.New("probe: invalid network")
	ErrClosed         = errors.New("probe: session closed")
)

// Config holds probe client configuration
type Config struct {
	Network    string
	Target     wire.Endpoint
	BufferSize int
	// Timeout bounds the wait for each reply.
	Timeout time.Duration
	// Concurrency caps the probes in flight in concurrent mode.
	Concurrency int
	TOS         int
	// Match discards replies that belong to another probe. Nil accepts the
	// first reply.
	Match MatchFunc
	// RTP enables sequence tracking of RTP framed probes.
	RTP bool
	// RTPPrefix is the reply prefix the server puts in front of RTP frames.
	RTPPrefix []byte
	// LateThreshold marks replies slower than it as late, zero disables.
	LateThreshold time.Duration
}

// Sample is one round trip.
type Sample struct {
	Seq      int           `json:"seq"`
	Payload  []byte        `json:"-"`
	Reply    []byte        `json:"-"`
	Sent     time.Time     `json:"sent"`
	Received time.Time     `json:"received"`
	RTT      time.Duration `json:"rtt_ns"`
}

// RTTMillis returns the round-trip time in milliseconds.
func (s Sample) RTTMillis() float64 {
	return float64(s.RTT.Microseconds()) / 1000
}

// Prober sends probes to one target.
type Prober struct {
	config  Config
	stream  string
	log     *slog.Logger
	metrics *metrics.Metrics

	latency  *rtp.LatencyTracker
	sequence *rtp.SequenceTracker

	stale atomic.Int64
	late  atomic.Int64
}

func WithLogger(log *slog.Logger) func(*Prober) {
	return func(p *Prober) {
		p.log = log
	}
}

func WithMetrics(m *metrics.Metrics) func(*Prober) {
	return func(p *Prober) {
		p.metrics = m
	}
}

// New validates config, fills defaults and creates a prober.
func New(config Config, opts ...func(*Prober)) (*Prober, error) {
	switch config.Network {
	case "":
		config.Network = NetworkUDP
	case NetworkUDP, NetworkTCP:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidNetwork, config.Network)
	}
	if config.BufferSize <= 0 {
		config.BufferSize = wire.MaxMessageSize
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaultConcurrency
	}
	if config.Match == nil {
		config.Match = MatchAny
		if config.RTP {
			config.Match = MatchRTPSequence(config.RTPPrefix)
		}
	}

	p := &Prober{
		config:   config,
		stream:   config.Target.String(),
		log:      slog.Default(),
		metrics:  metrics.NewMetrics(),
		latency:  rtp.NewLatencyTracker(0),
		sequence: rtp.NewSequenceTracker(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.metrics.MarkStreamStarted(p.stream)

	return p, nil
}

// Metrics returns the latency metrics of the target stream.
func (p *Prober) Metrics() *metrics.Metrics {
	return p.metrics
}

// Stale returns how many replies were discarded as belonging to an earlier
// probe.
func (p *Prober) Stale() int64 {
	return p.stale.Load()
}

// Late returns how many replies exceeded the late threshold.
func (p *Prober) Late() int64 {
	return p.late.Load()
}

// SequenceStats returns the RTP sequence counters: probes sent, replies
// received, gaps detected and replies that arrived out of order.
func (p *Prober) SequenceStats() (outgoing, incoming, dropped, reordered uint32) {
	return p.sequence.GetStats()
}

func (p *Prober) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, p.config.Network, p.config.Target.String())
	if err != nil {
		return nil, fmt.Errorf("probe: failed to dial %s: %w", p.config.Target, err)
	}

	if err := sockopt.SetTOS(conn, p.config.TOS); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

// Probe opens a socket, sends payload, waits for the reply and closes the
// socket. seq identifies the probe in the returned sample.
func (p *Prober) Probe(ctx context.Context, seq int, payload []byte) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return Sample{}, err
	}
	defer conn.Close()

	return p.exchange(ctx, conn, seq, payload)
}

// exchange runs one request/response on conn. The wait ends at the reply
// timeout, the context deadline or context cancellation, whichever is first.
func (p *Prober) exchange(ctx context.Context, conn net.Conn, seq int, payload []byte) (Sample, error) {
	deadline := time.Now().Add(p.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return Sample{}, fmt.Errorf("probe: failed to set deadline: %w", err)
	}

	// unblock the read on cancellation without closing a shared socket
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	p.metrics.RecordOutgoingPacket(p.stream)

	sent := time.Now()
	if p.config.RTP {
		if rtpSeq, ok := rtp.Sequence(payload); ok {
			p.latency.RecordSent(rtpSeq, sent)
		}
		p.sequence.TrackOutgoing()
	}

	if _, err := conn.Write(payload); err != nil {
		return Sample{}, fmt.Errorf("probe: failed to send probe %d: %w", seq, err)
	}

	buffer := make([]byte, p.config.BufferSize)
	for {
		n, err := conn.Read(buffer)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Sample{}, ctxErr
			}
			if isTimeout(err) {
				p.metrics.RecordDroppedPackets(p.stream, 1)
				return Sample{}, fmt.Errorf("%w: probe %d after %s", ErrTimeout, seq, time.Since(sent))
			}
			return Sample{}, fmt.Errorf("probe: failed to read reply %d: %w", seq, err)
		}
		received := time.Now()

		reply := make([]byte, n)
		copy(reply, buffer[:n])

		if p.config.RTP {
			p.trackRTP(reply, received)
		}

		if !p.config.Match(payload, reply) {
			p.stale.Add(1)
			p.log.Debug("discarding stale reply", "seq", seq, "reply", string(reply))
			if p.config.Network == NetworkTCP {
				return Sample{}, fmt.Errorf("probe: unexpected reply %q to probe %d", reply, seq)
			}
			continue
		}

		sample := Sample{
			Seq:      seq,
			Payload:  payload,
			Reply:    reply,
			Sent:     sent,
			Received: received,
			RTT:      received.Sub(sent),
		}
		p.record(sample)

		return sample, nil
	}
}

// trackRTP feeds a framed reply into the sequence trackers. A reply to an
// earlier probe that already timed out still yields its latency, recorded
// as a late packet.
func (p *Prober) trackRTP(reply []byte, received time.Time) {
	rtpSeq, ok := rtp.Sequence(bytes.TrimPrefix(reply, p.config.RTPPrefix))
	if !ok {
		return
	}

	if dropped := p.sequence.TrackIncoming(rtpSeq); dropped > 0 {
		p.log.Debug("sequence gap detected", "seq", rtpSeq, "dropped", dropped)
	}

	latency, found := p.latency.GetLatency(rtpSeq, received)
	if !found {
		return
	}
	if latency > p.config.Timeout {
		p.late.Add(1)
		p.metrics.RecordLatePacket(p.stream)
		p.metrics.RecordLatency(p.stream, float64(latency.Microseconds())/1000)
	}
}

func (p *Prober) record(sample Sample) {
	p.metrics.RecordLatency(p.stream, sample.RTTMillis())

	if p.config.LateThreshold > 0 && sample.RTT > p.config.LateThreshold {
		p.late.Add(1)
		p.metrics.RecordLatePacket(p.stream)
	}

	p.log.Debug("probe reply",
		"seq", sample.Seq,
		"rtt", sample.RTT,
		"reply", string(sample.Reply))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
