package atem

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a thread-safe monotonic counter
type Counter struct {
	v atomic.Int64
}

// Add adds a delta to the counter
func (c *Counter) Add(delta int64) { c.v.Add(delta) }

// Inc increments the counter by 1
func (c *Counter) Inc() { c.v.Add(1) }

// Value returns the current counter value
func (c *Counter) Value() int64 { return c.v.Load() }

// Gauge is a thread-safe gauge that can go up and down
type Gauge struct {
	v atomic.Int64
}

// Set sets the gauge value
func (g *Gauge) Set(value int64) { g.v.Store(value) }

// Inc increments the gauge by 1
func (g *Gauge) Inc() { g.v.Add(1) }

// Dec decrements the gauge by 1
func (g *Gauge) Dec() { g.v.Add(-1) }

// Value returns the current gauge value
func (g *Gauge) Value() int64 { return g.v.Load() }

// LatencyBuckets are the upper bounds of the histogram buckets. A final
// overflow bucket collects everything above the last bound.
var LatencyBuckets = []time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// LatencyHistogram tracks latency measurements
type LatencyHistogram struct {
	mu      sync.Mutex
	count   int64
	sum     time.Duration
	min     time.Duration
	max     time.Duration
	buckets []int64
}

// NewLatencyHistogram creates a new latency histogram
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		min:     -1,
		buckets: make([]int64, len(LatencyBuckets)+1),
	}
}

// Record records a latency measurement
func (h *LatencyHistogram) Record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += d
	if h.min < 0 || d < h.min {
		h.min = d
	}
	if d > h.max {
		h.max = d
	}

	i := 0
	for i < len(LatencyBuckets) && d >= LatencyBuckets[i] {
		i++
	}
	h.buckets[i]++
}

// Stats returns histogram statistics
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     h.sum,
		Buckets: make([]int64, len(h.buckets)),
	}
	copy(stats.Buckets, h.buckets)

	if h.count > 0 {
		stats.Min = h.min
		stats.Max = h.max
		stats.Avg = h.sum / time.Duration(h.count)
	}

	return stats
}

// LatencyStats contains latency statistics. Buckets[i] counts samples below
// LatencyBuckets[i] and at or above the previous bound.
type LatencyStats struct {
	Count   int64
	Sum     time.Duration
	Min     time.Duration
	Max     time.Duration
	Avg     time.Duration
	Buckets []int64
}

// Cumulative returns the bucket counts keyed by upper bound in seconds,
// each including all faster samples
func (s LatencyStats) Cumulative() map[float64]uint64 {
	out := make(map[float64]uint64, len(LatencyBuckets))
	var total uint64
	for i, bound := range LatencyBuckets {
		if i < len(s.Buckets) {
			total += uint64(s.Buckets[i])
		}
		out[bound.Seconds()] = total
	}
	return out
}

// Metrics holds client metrics
type Metrics struct {
	// Connection metrics
	ConnectAttempts Counter
	Connections     Counter
	Disconnects     Counter
	HellosReceived  Counter

	// Packet metrics
	PacketsSent     Counter
	PacketsReceived Counter
	BytesSent       Counter
	BytesReceived   Counter

	// Reliability metrics
	AcksSent       Counter
	AcksReceived   Counter
	ResendRequests Counter

	// Command metrics
	CommandsSent    Counter
	CommandsFailed  Counter
	CommandsExpired Counter

	// Decoding metrics
	EventsDecoded   Counter
	DecodeErrors    Counter
	UnhandledChunks Counter

	// Queue metrics
	EventsDropped  Counter
	IntentsDropped Counter

	// Latency
	CommandLatency   *LatencyHistogram
	HandshakeLatency *LatencyHistogram

	// Current state
	PendingCommands Gauge

	// Timestamps
	startTime    time.Time
	lastActivity atomic.Int64
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		CommandLatency:   NewLatencyHistogram(),
		HandshakeLatency: NewLatencyHistogram(),
		startTime:        time.Now(),
	}
}

// RecordActivity records the last activity time
func (m *Metrics) RecordActivity() {
	m.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the last activity time
func (m *Metrics) LastActivity() time.Time {
	ns := m.lastActivity.Load()
	if ns == 0 {
		return m.startTime
	}
	return time.Unix(0, ns)
}

// Uptime returns the time since metrics started
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Snapshot returns a snapshot of current metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Uptime: m.Uptime(),

		ConnectAttempts: m.ConnectAttempts.Value(),
		Connections:     m.Connections.Value(),
		Disconnects:     m.Disconnects.Value(),
		HellosReceived:  m.HellosReceived.Value(),

		PacketsSent:     m.PacketsSent.Value(),
		PacketsReceived: m.PacketsReceived.Value(),
		BytesSent:       m.BytesSent.Value(),
		BytesReceived:   m.BytesReceived.Value(),

		AcksSent:       m.AcksSent.Value(),
		AcksReceived:   m.AcksReceived.Value(),
		ResendRequests: m.ResendRequests.Value(),

		CommandsSent:    m.CommandsSent.Value(),
		CommandsFailed:  m.CommandsFailed.Value(),
		CommandsExpired: m.CommandsExpired.Value(),

		EventsDecoded:   m.EventsDecoded.Value(),
		DecodeErrors:    m.DecodeErrors.Value(),
		UnhandledChunks: m.UnhandledChunks.Value(),

		EventsDropped:  m.EventsDropped.Value(),
		IntentsDropped: m.IntentsDropped.Value(),

		CommandLatency:   m.CommandLatency.Stats(),
		HandshakeLatency: m.HandshakeLatency.Stats(),

		PendingCommands: m.PendingCommands.Value(),

		LastActivity: m.LastActivity(),
	}
}

// MetricsSnapshot is a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	Uptime time.Duration

	ConnectAttempts int64
	Connections     int64
	Disconnects     int64
	HellosReceived  int64

	PacketsSent     int64
	PacketsReceived int64
	BytesSent       int64
	BytesReceived   int64

	AcksSent       int64
	AcksReceived   int64
	ResendRequests int64

	CommandsSent    int64
	CommandsFailed  int64
	CommandsExpired int64

	EventsDecoded   int64
	DecodeErrors    int64
	UnhandledChunks int64

	EventsDropped  int64
	IntentsDropped int64

	CommandLatency   LatencyStats
	HandshakeLatency LatencyStats

	PendingCommands int64

	LastActivity time.Time
}
