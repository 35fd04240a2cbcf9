package echo

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latency-probe/internal/wire"
)

func startServer(t *testing.T, config Config) *Server {
	t.Helper()

	if config.Addr == (wire.Endpoint{}) {
		config.Addr = wire.Endpoint{Host: "127.0.0.1", Port: 0}
	}

	s, err := New(config)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	t.Cleanup(func() {
		cancel()
		s.Wait()
	})

	return s
}

func dialUDP(t *testing.T, s *Server) *net.UDPConn {
	t.Helper()

	conn, err := net.DialUDP("udp", nil, s.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func roundTrip(t *testing.T, conn net.Conn, msg []byte) ([]byte, time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	start := time.Now()
	_, err := conn.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	return buf[:n], time.Since(start)
}

func TestServer_UDPReply(t *testing.T) {
	tests := []struct {
		name   string
		reply  ReplyPolicy
		msg    string
		expect string
	}{
		{
			name:   "ack prefix",
			reply:  ReplyPolicy{Prefix: []byte(wire.AckPrefix)},
			msg:    "Packet 1",
			expect: "ACKPacket 1",
		},
		{
			name:   "fixed reply",
			reply:  ReplyPolicy{Fixed: []byte(wire.ReceivedPrefix)},
			msg:    "Packet 7",
			expect: "Received Packet",
		},
		{
			name:   "plain echo",
			reply:  ReplyPolicy{},
			msg:    "hello",
			expect: "hello",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := startServer(t, Config{Network: NetworkUDP, Reply: test.reply})
			conn := dialUDP(t, s)

			reply, rtt := roundTrip(t, conn, []byte(test.msg))

			assert.Equal(t, test.expect, string(reply))
			assert.GreaterOrEqual(t, rtt, time.Duration(0))
		})
	}
}

func TestServer_UDPSequential(t *testing.T) {
	s := startServer(t, Config{Reply: ReplyPolicy{Prefix: []byte(wire.AckPrefix)}})
	conn := dialUDP(t, s)

	for i := 1; i <= 10; i++ {
		msg := wire.PacketMessage(i)
		reply, _ := roundTrip(t, conn, msg)
		assert.Equal(t, "ACK"+string(msg), string(reply))
	}

	// replies are counted after they are written
	assert.Eventually(t, func() bool {
		return s.Metrics().GetGlobalStats().TotalLatencies == 10
	}, time.Second, 10*time.Millisecond)

	stats := s.Stats()
	assert.Equal(t, int64(10), stats.Received)
	assert.Equal(t, int64(10), stats.Replied)
	assert.Zero(t, stats.Dropped)
	assert.Zero(t, stats.Errors)

	assert.Equal(t, 1, s.Metrics().GetGlobalStats().TotalStreams)
}

func TestServer_UDPTruncation(t *testing.T) {
	s := startServer(t, Config{Reply: ReplyPolicy{Prefix: []byte(wire.AckPrefix)}})
	conn := dialUDP(t, s)

	msg := []byte(strings.Repeat("x", wire.MaxMessageSize+200))
	reply, _ := roundTrip(t, conn, msg)

	assert.Len(t, reply, len(wire.AckPrefix)+wire.MaxMessageSize)
	assert.Equal(t, "ACK"+string(msg[:wire.MaxMessageSize]), string(reply))
}

func TestServer_UDPDelayAfterThreshold(t *testing.T) {
	const delay = 500 * time.Millisecond

	s := startServer(t, Config{
		Reply: ReplyPolicy{Prefix: []byte(wire.AckPrefix)},
		Delay: DelayPolicy{After: 100, Delay: delay},
	})
	conn := dialUDP(t, s)

	for i := 1; i <= 100; i++ {
		_, rtt := roundTrip(t, conn, wire.PacketMessage(i))
		require.Less(t, rtt, delay, "message %d", i)
	}

	reply, rtt := roundTrip(t, conn, wire.PacketMessage(101))
	assert.Equal(t, "ACKPacket 101", string(reply))
	assert.Greater(t, rtt, delay)
	assert.Equal(t, int64(1), s.Stats().Delayed)
}

func TestServer_UDPDelayPerPeer(t *testing.T) {
	const delay = 300 * time.Millisecond

	s := startServer(t, Config{
		Reply: ReplyPolicy{Prefix: []byte(wire.AckPrefix)},
		Delay: DelayPolicy{After: 2, Delay: delay, PerPeer: true},
	})
	server := s.Addr().(*net.UDPAddr)

	first, err := net.DialUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, server)
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })

	second, err := net.DialUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 2)}, server)
	if err != nil {
		t.Skipf("127.0.0.2 is not usable as a source address: %v", err)
	}
	t.Cleanup(func() { second.Close() })

	for i := 1; i <= 2; i++ {
		_, rtt := roundTrip(t, first, wire.PacketMessage(i))
		require.Less(t, rtt, delay, "message %d", i)
	}

	_, rtt := roundTrip(t, first, wire.PacketMessage(3))
	assert.Greater(t, rtt, delay, "third message from the same peer is delayed")

	// fourth message overall, first from this peer
	reply, rtt := roundTrip(t, second, wire.PacketMessage(1))
	assert.Equal(t, "ACKPacket 1", string(reply))
	assert.Less(t, rtt, delay)

	assert.Equal(t, int64(1), s.Stats().Delayed)
	assert.Equal(t, 2, s.Metrics().GetGlobalStats().TotalStreams)
}

func TestServer_UDPQueueFull(t *testing.T) {
	const burst = 20

	s := startServer(t, Config{
		Reply:     ReplyPolicy{Prefix: []byte(wire.AckPrefix)},
		Delay:     DelayPolicy{After: 0, Delay: 2 * time.Second},
		QueueSize: 1,
	})
	conn := dialUDP(t, s)

	for i := 1; i <= burst; i++ {
		_, err := conn.Write(wire.PacketMessage(i))
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		return s.Stats().Received == burst
	}, time.Second, 10*time.Millisecond)

	stats := s.Stats()
	assert.Positive(t, stats.Dropped)
	assert.Zero(t, stats.Replied)
	assert.LessOrEqual(t, stats.Received-stats.Dropped, int64(2), "one in the processor, one queued")
}

func TestServer_TCP(t *testing.T) {
	s := startServer(t, Config{
		Network: NetworkTCP,
		Reply:   ReplyPolicy{Prefix: []byte(wire.AckPrefix)},
	})

	for i := 0; i < 110; i++ {
		conn, err := net.Dial("tcp", s.Addr().String())
		require.NoError(t, err)

		msg := wire.IndexMessage(i, 2)
		reply, _ := roundTrip(t, conn, msg)
		assert.Equal(t, "ACK"+string(msg), string(reply))
		if i == 5 {
			assert.Equal(t, "ACK05", string(reply))
		}

		// the server closes after its single reply
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		n, err := conn.Read(make([]byte, 16))
		assert.Zero(t, n)
		assert.Error(t, err)

		conn.Close()
	}

	assert.Equal(t, int64(110), s.Stats().Replied)
}

func TestServer_Lifecycle(t *testing.T) {
	t.Run("serve stops on cancel", func(t *testing.T) {
		s, err := New(Config{Addr: wire.Endpoint{Host: "127.0.0.1"}})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Serve(ctx) }()

		require.Eventually(t, func() bool { return s.Addr() != nil }, time.Second, 5*time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("server did not stop")
		}
	})

	t.Run("bind conflict", func(t *testing.T) {
		first := startServer(t, Config{})
		endpoint, err := wire.EndpointFromAddr(first.Addr())
		require.NoError(t, err)

		second, err := New(Config{Addr: endpoint})
		require.NoError(t, err)

		err = second.Start(context.Background())
		assert.ErrorIs(t, err, ErrListen)
	})

	t.Run("start twice", func(t *testing.T) {
		s := startServer(t, Config{})
		assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	})

	t.Run("invalid network", func(t *testing.T) {
		_, err := New(Config{Network: "sctp"})
		assert.ErrorIs(t, err, ErrInvalidNetwork)
	})
}

func TestDelayPolicy(t *testing.T) {
	p := DelayPolicy{After: 100, Delay: 500 * time.Millisecond}

	assert.Zero(t, p.DelayFor(1))
	assert.Zero(t, p.DelayFor(100))
	assert.Equal(t, 500*time.Millisecond, p.DelayFor(101))

	assert.Zero(t, DelayPolicy{After: 0}.DelayFor(1000))
	assert.Equal(t, time.Second, DelayPolicy{Delay: time.Second}.DelayFor(1))
}

func TestServeState(t *testing.T) {
	state := newServeState()
	t0 := time.Now()

	count, peerCount, gap := state.observe("10.0.2.5", t0)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, peerCount)
	assert.Zero(t, gap)

	count, peerCount, gap = state.observe("10.0.2.6", t0.Add(30*time.Millisecond))
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, peerCount)
	assert.Equal(t, 30*time.Millisecond, gap)

	count, peerCount, gap = state.observe("10.0.2.5", t0.Add(50*time.Millisecond))
	assert.Equal(t, 3, count)
	assert.Equal(t, 2, peerCount)
	assert.Equal(t, 20*time.Millisecond, gap)
}

func TestPeerKey(t *testing.T) {
	assert.Equal(t, "127.0.0.1", peerKey(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}))
	assert.Equal(t, "127.0.0.1", peerKey(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5001}))
}
