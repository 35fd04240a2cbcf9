package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"latency-probe/internal/metrics"
)

const (
	defaultInterval = 5 * time.Second
	writeTimeout    = 5 * time.Second
)

// Source provides the stats published by the hub.
type Source interface {
	GetGlobalStats() *metrics.GlobalStats
}

// Hub serves health, a stats snapshot and a WebSocket feed of stats.
type Hub struct {
	source   Source
	interval time.Duration
	log      *slog.Logger
	upgrader websocket.Upgrader

	clients  sync.Map // clientID -> *websocket.Conn
	clientID atomic.Int64
	done     chan struct{}
	doneOnce sync.Once
}

func WithLogger(log *slog.Logger) func(*Hub) {
	return func(h *Hub) {
		h.log = log
	}
}

// NewHub creates a hub that pushes stats to WebSocket clients every
// interval.
func NewHub(source Source, interval time.Duration, opts ...func(*Hub)) *Hub {
	if interval <= 0 {
		interval = defaultInterval
	}

	h := &Hub{
		source:   source,
		interval: interval,
		log:      slog.Default(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow connections from any origin
			},
		},
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Handler returns the hub HTTP routes.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.healthHandler)
	mux.HandleFunc("/metrics", h.metricsHandler)
	mux.HandleFunc("/ws", h.wsHandler)
	return mux
}

// Clients returns the number of connected WebSocket clients.
func (h *Hub) Clients() int {
	n := 0
	h.clients.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Close disconnects every WebSocket client.
func (h *Hub) Close() {
	h.doneOnce.Do(func() { close(h.done) })
}

// ListenAndServe serves the hub on addr until ctx is done.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("stats: failed to listen on %s: %w", addr, err)
	}
	return h.Serve(ctx, listener)
}

// Serve serves the hub on listener until ctx is done.
func (h *Hub) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		h.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			h.log.Error("stats server shutdown failed", "err", err)
		}
	}()

	h.log.Info("stats server listening", "addr", listener.Addr().String())

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("stats: server failed: %w", err)
	}
	return nil
}

func (h *Hub) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (h *Hub) metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.source.GetGlobalStats())
}

func (h *Hub) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	clientID := h.clientID.Add(1)
	h.clients.Store(clientID, conn)
	h.log.Debug("stats client connected", "remote", r.RemoteAddr, "id", clientID)

	go h.handleClient(clientID, conn)
}

// handleClient pushes stats to one client until it disconnects or the hub
// closes. Incoming messages are read only to notice the disconnect.
func (h *Hub) handleClient(clientID int64, conn *websocket.Conn) {
	defer func() {
		h.clients.Delete(clientID)
		conn.Close()
		h.log.Debug("stats client disconnected", "id", clientID)
	}()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.push(conn); err != nil {
			h.log.Debug("stats push failed", "id", clientID, "err", err)
			return
		}

		select {
		case <-h.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		case <-gone:
			return
		case <-ticker.C:
		}
	}
}

func (h *Hub) push(conn *websocket.Conn) error {
	data, err := json.Marshal(h.source.GetGlobalStats())
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
