package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	// maxSamples caps the per-stream latency buffer.
	maxSamples = 10000
	// trimSamples is how many of the oldest samples are dropped when the
	// cap is reached.
	trimSamples = 1000
)

// Metrics provides latency and packet statistics, keyed by stream. A stream
// is the probe target on the client and the sending peer on the server.
type Metrics struct {
	streams sync.Map // streamID -> *StreamMetrics

	// Global counters
	totalStreams   int64
	totalLatencies int64
	mu             sync.RWMutex // Mutex for global counters
}

// StreamMetrics stores metrics for a single stream
type StreamMetrics struct {
	StreamID        string    `json:"stream_id"`
	StartTime       time.Time `json:"start_time"`
	Latencies       []float64 `json:"latencies"`
	OutgoingPackets int64     `json:"outgoing_packets"`
	DroppedPackets  int64     `json:"dropped_packets"`
	LatePackets     int64     `json:"late_packets"`

	mu sync.Mutex
}

// GlobalStats provides aggregated statistics. Latencies are in milliseconds.
type GlobalStats struct {
	TotalStreams    int       `json:"total_streams"`
	ActiveStreams   int       `json:"active_streams"`
	TotalLatencies  int64     `json:"total_latencies"`
	P50Latency      float64   `json:"p50_latency"`
	P95Latency      float64   `json:"p95_latency"`
	P99Latency      float64   `json:"p99_latency"`
	MinLatency      float64   `json:"min_latency"`
	MaxLatency      float64   `json:"max_latency"`
	AvgLatency      float64   `json:"avg_latency"`
	LateRatio       float64   `json:"late_ratio"`
	PacketLossRatio float64   `json:"packet_loss_ratio"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) stream(streamID string) *StreamMetrics {
	if v, ok := m.streams.Load(streamID); ok {
		return v.(*StreamMetrics)
	}

	v, _ := m.streams.LoadOrStore(streamID, &StreamMetrics{
		StreamID:  streamID,
		StartTime: time.Now(),
	})
	return v.(*StreamMetrics)
}

// RecordLatency records a latency measurement for a stream
func (m *Metrics) RecordLatency(streamID string, latencyMs float64) {
	s := m.stream(streamID)

	s.mu.Lock()
	s.Latencies = append(s.Latencies, latencyMs)
	if len(s.Latencies) > maxSamples {
		// Copy so the trimmed head can be collected
		s.Latencies = append([]float64(nil), s.Latencies[trimSamples:]...)
	}
	s.mu.Unlock()

	m.mu.Lock()
	m.totalLatencies++
	m.mu.Unlock()
}

// RecordDroppedPackets records lost or unanswered packets for a stream
func (m *Metrics) RecordDroppedPackets(streamID string, count int64) {
	s := m.stream(streamID)
	s.mu.Lock()
	s.DroppedPackets += count
	s.mu.Unlock()
}

// RecordOutgoingPacket records an outgoing packet for a stream
func (m *Metrics) RecordOutgoingPacket(streamID string) {
	s := m.stream(streamID)
	s.mu.Lock()
	s.OutgoingPackets++
	s.mu.Unlock()
}

// RecordLatePacket records a reply that arrived later than the late threshold
func (m *Metrics) RecordLatePacket(streamID string) {
	s := m.stream(streamID)
	s.mu.Lock()
	s.LatePackets++
	s.mu.Unlock()
}

// MarkStreamStarted counts a new stream
func (m *Metrics) MarkStreamStarted(streamID string) {
	m.stream(streamID)

	m.mu.Lock()
	m.totalStreams++
	m.mu.Unlock()
}

// GetGlobalStats calculates global statistics
func (m *Metrics) GetGlobalStats() *GlobalStats {
	allLatencies := make([]float64, 0)
	activeStreams := 0
	totalDroppedPackets := int64(0)
	totalLatePackets := int64(0)
	totalPackets := int64(0)

	m.streams.Range(func(key, value interface{}) bool {
		s := value.(*StreamMetrics)
		s.mu.Lock()

		activeStreams++
		allLatencies = append(allLatencies, s.Latencies...)

		totalDroppedPackets += s.DroppedPackets
		totalLatePackets += s.LatePackets
		totalPackets += s.OutgoingPackets

		s.mu.Unlock()
		return true
	})

	m.mu.RLock()
	stats := &GlobalStats{
		TotalStreams:   int(m.totalStreams),
		ActiveStreams:  activeStreams,
		TotalLatencies: m.totalLatencies,
		Timestamp:      time.Now(),
	}
	m.mu.RUnlock()

	if totalPackets > 0 {
		stats.LateRatio = float64(totalLatePackets) / float64(totalPackets)
		stats.PacketLossRatio = float64(totalDroppedPackets) / float64(totalPackets)
	}

	if len(allLatencies) == 0 {
		return stats
	}

	sort.Float64s(allLatencies)

	n := len(allLatencies)
	stats.P50Latency = Percentile(allLatencies, 0.50)
	stats.P95Latency = Percentile(allLatencies, 0.95)
	stats.P99Latency = Percentile(allLatencies, 0.99)
	stats.MinLatency = allLatencies[0]
	stats.MaxLatency = allLatencies[n-1]

	sum := 0.0
	for _, lat := range allLatencies {
		sum += lat
	}
	stats.AvgLatency = sum / float64(n)

	return stats
}

// Percentile returns the nearest-rank percentile p (0..1) of sorted.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Min(float64(n)*p, float64(n-1)))
	return sorted[idx]
}
