package echo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"latency-probe/internal/sockopt"
)

func (s *Server) startTCP(ctx context.Context) error {
	addr, err := net.ResolveTCPAddr("tcp", s.config.Addr.String())
	if err != nil {
		return fmt.Errorf("%w: failed to resolve %s: %w", ErrListen, s.config.Addr, err)
	}

	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrListen, err)
	}

	s.addr = listener.Addr()

	s.wg.Add(1)
	go s.acceptLoop(ctx, listener)

	return nil
}

// acceptLoop serves one connection at a time: a single read, a single
// reply, then the connection is closed.
func (s *Server) acceptLoop(ctx context.Context, listener *net.TCPListener) {
	defer s.wg.Done()
	defer listener.Close()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := listener.SetDeadline(time.Now().Add(defaultBreakPeriod)); err != nil {
			s.failed(err, "failed to set accept deadline")
			return
		}

		conn, err := listener.AcceptTCP()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.failed(err, "failed to accept connection")
			continue
		}

		s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn *net.TCPConn) {
	defer conn.Close()

	addr := conn.RemoteAddr()
	peer := addr.String()

	if err := sockopt.SetTOS(conn, s.config.TOS); err != nil {
		s.failed(err, "failed to mark connection", "peer", peer)
	}

	if err := conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
		s.failed(err, "failed to set read deadline", "peer", peer)
		return
	}

	buffer := make([]byte, s.config.BufferSize)
	n, err := conn.Read(buffer)
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.log.Debug("connection closed before sending", "peer", peer)
			return
		}
		s.failed(err, "failed to read message", "peer", peer)
		return
	}
	received := time.Now()
	s.countReceived(n)

	reply, ok := s.handle(ctx, addr, buffer[:n], received)
	if !ok {
		return
	}

	if _, err := conn.Write(reply); err != nil {
		s.failed(err, "failed to send reply", "peer", peer)
		return
	}
	s.replied(addr, received)
}
