package echo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"latency-probe/internal/sockopt"
)

// packet is a received datagram waiting for its reply
type packet struct {
	data        []byte
	peer        *net.UDPAddr
	receiveTime time.Time
}

func (s *Server) startUDP(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.config.Addr.String())
	if err != nil {
		return fmt.Errorf("%w: failed to resolve %s: %w", ErrListen, s.config.Addr, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrListen, err)
	}

	if err := sockopt.SetTOS(conn, s.config.TOS); err != nil {
		conn.Close()
		return err
	}

	s.addr = conn.LocalAddr()

	queue := make(chan *packet, s.config.QueueSize)

	s.wg.Add(2)
	go s.packetReader(ctx, conn, queue)
	go s.packetProcessor(ctx, conn, queue)

	return nil
}

// packetReader reads datagrams and queues them for the processor. It owns
// the connection and closes it once ctx is done.
func (s *Server) packetReader(ctx context.Context, conn *net.UDPConn, queue chan<- *packet) {
	defer s.wg.Done()
	defer conn.Close()
	defer close(queue)

	buffer := make([]byte, s.config.BufferSize)

	for {
		if ctx.Err() != nil {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(defaultBreakPeriod)); err != nil {
			s.failed(err, "failed to set read deadline")
			return
		}

		n, peer, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.failed(err, "failed to read datagram")
			continue
		}

		s.countReceived(n)

		data := make([]byte, n)
		copy(data, buffer[:n])

		select {
		case queue <- &packet{data: data, peer: peer, receiveTime: time.Now()}:
		default:
			s.counters.dropped.Add(1)
			s.metrics.RecordDroppedPackets(peerKey(peer), 1)
			s.log.Warn("reply queue full, dropping datagram", "peer", peer.String())
		}
	}
}

// packetProcessor replies to queued datagrams in arrival order.
func (s *Server) packetProcessor(ctx context.Context, conn *net.UDPConn, queue <-chan *packet) {
	defer s.wg.Done()

	for p := range queue {
		// drain without replying once the reader has stopped
		if ctx.Err() != nil {
			continue
		}

		reply, ok := s.handle(ctx, p.peer, p.data, p.receiveTime)
		if !ok {
			continue
		}

		if _, err := conn.WriteToUDP(reply, p.peer); err != nil {
			s.failed(err, "failed to send reply", "peer", p.peer.String())
			continue
		}
		s.replied(p.peer, p.receiveTime)
	}
}
