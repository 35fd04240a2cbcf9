package echo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"latency-probe/internal/metrics"
	"latency-probe/internal/wire"
)

const (
	NetworkUDP = "udp"
	NetworkTCP = "tcp"

	defaultQueueSize      = 1000
	defaultBreakPeriod    = 100 * time.Millisecond
	defaultReadTimeout    = 5 * time.Second
	defaultReportInterval = 10 * time.Second
)

var (
	ErrListen         = errors.New("echo: failed to listen")
	ErrInvalidNetwork = errors.New("echo: invalid network")
	ErrAlreadyStarted = errors.New("echo: server already started")
)

// Config holds echo server configuration
type Config struct {
	Network    string
	Addr       wire.Endpoint
	BufferSize int
	Reply      ReplyPolicy
	Delay      DelayPolicy
	// QueueSize bounds the datagrams waiting for a reply; beyond it UDP
	// datagrams are dropped.
	QueueSize int
	// TOS marks reply packets, zero leaves them unmarked.
	TOS int
	// ReadTimeout bounds the wait for the single message of a TCP connection.
	ReadTimeout    time.Duration
	ReportInterval time.Duration
}

// Stats is a snapshot of the server counters. Received counts every
// inbound message when it is read, so it includes the Dropped ones.
type Stats struct {
	Received int64 `json:"received"`
	Replied  int64 `json:"replied"`
	Dropped  int64 `json:"dropped"`
	Delayed  int64 `json:"delayed"`
	Errors   int64 `json:"errors"`
	Bytes    int64 `json:"bytes"`
}

type counters struct {
	received atomic.Int64
	replied  atomic.Int64
	dropped  atomic.Int64
	delayed  atomic.Int64
	errors   atomic.Int64
	bytes    atomic.Int64
}

// Server replies to every inbound message according to its ReplyPolicy.
type Server struct {
	config  Config
	log     *slog.Logger
	metrics *metrics.Metrics

	state *serveState

	mu      sync.Mutex
	addr    net.Addr
	started bool
	wg      sync.WaitGroup

	counters counters
}

func WithLogger(log *slog.Logger) func(*Server) {
	return func(s *Server) {
		s.log = log
	}
}

func WithMetrics(m *metrics.Metrics) func(*Server) {
	return func(s *Server) {
		s.metrics = m
	}
}

// New validates config, fills defaults and creates a server.
func New(config Config, opts ...func(*Server)) (*Server, error) {
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
	if config.QueueSize <= 0 {
		config.QueueSize = defaultQueueSize
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaultReadTimeout
	}
	if config.ReportInterval <= 0 {
		config.ReportInterval = defaultReportInterval
	}

	s := &Server{
		config:  config,
		log:     slog.Default(),
		metrics: metrics.NewMetrics(),
		state:   newServeState(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Start binds the configured address and serves in the background until
// ctx is done. Use Wait to block until the server has stopped.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	var err error
	switch s.config.Network {
	case NetworkUDP:
		err = s.startUDP(ctx)
	case NetworkTCP:
		err = s.startTCP(ctx)
	}
	if err != nil {
		return err
	}
	s.started = true

	s.wg.Add(1)
	go s.reportLoop(ctx)

	s.log.Info("echo server listening",
		"network", s.config.Network,
		"addr", s.addr.String(),
		"buffer", s.config.BufferSize)

	return nil
}

// Serve starts the server and blocks until ctx is done and every loop has
// returned. Cancellation is a clean stop.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Wait()
	return nil
}

// Wait blocks until all server goroutines have stopped.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Addr returns the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stats returns the current counters.
func (s *Server) Stats() Stats {
	return Stats{
		Received: s.counters.received.Load(),
		Replied:  s.counters.replied.Load(),
		Dropped:  s.counters.dropped.Load(),
		Delayed:  s.counters.delayed.Load(),
		Errors:   s.counters.errors.Load(),
		Bytes:    s.counters.bytes.Load(),
	}
}

// Metrics returns the per-peer latency metrics the server records.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// peerKey identifies the flow a message belongs to. Flows are keyed by the
// sender IP so that a client opening a socket per probe is still one peer.
func peerKey(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP.String()
	case *net.TCPAddr:
		return a.IP.String()
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return addr.String()
		}
		return host
	}
}

// handle runs the reply pipeline for one message: count it, apply the delay
// policy and build the reply. It reports false if ctx ended while delaying.
// Only one goroutine calls handle at a time.
func (s *Server) handle(ctx context.Context, addr net.Addr, data []byte, received time.Time) ([]byte, bool) {
	peer := peerKey(addr)
	count, peerCount, gap := s.state.observe(peer, received)
	if peerCount == 1 {
		s.metrics.MarkStreamStarted(peer)
	}

	s.log.Debug("received message",
		"from", addr.String(),
		"count", count,
		"message", string(data),
		"gap", gap)

	n := count
	if s.config.Delay.PerPeer {
		n = peerCount
	}
	if delay := s.config.Delay.DelayFor(n); delay > 0 {
		s.counters.delayed.Add(1)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, false
		case <-t.C:
		}
	}

	return s.config.Reply.Reply(data), true
}

// replied records a successfully sent reply to addr.
func (s *Server) replied(addr net.Addr, received time.Time) {
	peer := peerKey(addr)
	s.counters.replied.Add(1)
	s.metrics.RecordOutgoingPacket(peer)
	s.metrics.RecordLatency(peer, float64(time.Since(received).Microseconds())/1000)
}

// countReceived counts an inbound message of n bytes.
func (s *Server) countReceived(n int) {
	s.counters.received.Add(1)
	s.counters.bytes.Add(int64(n))
}

func (s *Server) failed(err error, msg string, args ...any) {
	s.counters.errors.Add(1)
	s.log.Error(msg, append(args, "err", err)...)
}

func (s *Server) reportLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.report()
			return
		case <-ticker.C:
			s.report()
		}
	}
}

func (s *Server) report() {
	stats := s.Stats()
	s.log.Info("echo server metrics",
		"received", stats.Received,
		"replied", stats.Replied,
		"dropped", stats.Dropped,
		"delayed", stats.Delayed,
		"errors", stats.Errors,
		"bytes", stats.Bytes)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
