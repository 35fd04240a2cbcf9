package stats

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latency-probe/internal/metrics"
)

func newSource() *metrics.Metrics {
	m := metrics.NewMetrics()
	m.MarkStreamStarted("127.0.0.1:12345")
	for i := 1; i <= 10; i++ {
		m.RecordOutgoingPacket("127.0.0.1:12345")
		m.RecordLatency("127.0.0.1:12345", float64(i))
	}
	return m
}

func TestHub_HTTP(t *testing.T) {
	hub := NewHub(newSource(), time.Second)
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		var stats metrics.GlobalStats
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
		assert.Equal(t, int64(10), stats.TotalLatencies)
		assert.Equal(t, 10.0, stats.MaxLatency)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	})
}

func TestHub_WebSocket(t *testing.T) {
	source := newSource()
	hub := NewHub(source, 50*time.Millisecond)
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first metrics.GlobalStats
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, int64(10), first.TotalLatencies)
	assert.Equal(t, 1, hub.Clients())

	source.RecordLatency("127.0.0.1:12345", 42)

	var next metrics.GlobalStats
	for next.TotalLatencies != 11 {
		require.NoError(t, conn.ReadJSON(&next))
	}
	assert.Equal(t, 42.0, next.MaxLatency)

	hub.Close()
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)

	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_Serve(t *testing.T) {
	hub := NewHub(newSource(), time.Second)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx, listener) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stats server did not stop")
	}
}
