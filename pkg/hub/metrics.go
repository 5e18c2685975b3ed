package hub

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks hub runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime WebSocket connections accepted
	ActiveConnections atomic.Int64 // current open connections, joined or not
	Joins             atomic.Int64 // successful joins
	JoinsRejected     atomic.Int64 // joins refused (empty or taken username, timeout)
	Disconnects       atomic.Int64 // joined users that left (clean + unclean)
	Evictions         atomic.Int64 // connections closed after a failed send

	// Relay counters
	AudioRelayed      atomic.Int64 // audio frames accepted for relay
	AudioBytes        atomic.Int64 // audio payload bytes accepted for relay
	RingsDelivered    atomic.Int64 // rings handed to the target connection
	RingsDropped      atomic.Int64 // rings for users that were not connected
	RecordingTimeouts atomic.Int64 // recording flags cleared by timer

	// Error counters
	DeliveryFailures    atomic.Int64 // sends that failed (closed conn, full buffer)
	MalformedMessages   atomic.Int64 // inbound frames that could not be decoded
	RateLimited         atomic.Int64 // inbound frames dropped by the rate limiter
	PersistenceFailures atomic.Int64 // presence store writes that failed
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// StartTime returns when the metrics were created.
func (m *Metrics) StartTime() time.Time { return m.startTime }

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	TotalConnections  int64 `json:"total_connections"`
	ActiveConnections int64 `json:"active_connections"`
	Joins             int64 `json:"joins"`
	JoinsRejected     int64 `json:"joins_rejected"`
	Disconnects       int64 `json:"disconnects"`
	Evictions         int64 `json:"evictions"`

	AudioRelayed      int64 `json:"audio_relayed"`
	AudioBytes        int64 `json:"audio_bytes"`
	RingsDelivered    int64 `json:"rings_delivered"`
	RingsDropped      int64 `json:"rings_dropped"`
	RecordingTimeouts int64 `json:"recording_timeouts"`

	DeliveryFailures    int64 `json:"delivery_failures"`
	MalformedMessages   int64 `json:"malformed_messages"`
	RateLimited         int64 `json:"rate_limited"`
	PersistenceFailures int64 `json:"persistence_failures"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:              uptime.Truncate(time.Second).String(),
		UptimeSeconds:       int64(uptime.Seconds()),
		TotalConnections:    m.TotalConnections.Load(),
		ActiveConnections:   m.ActiveConnections.Load(),
		Joins:               m.Joins.Load(),
		JoinsRejected:       m.JoinsRejected.Load(),
		Disconnects:         m.Disconnects.Load(),
		Evictions:           m.Evictions.Load(),
		AudioRelayed:        m.AudioRelayed.Load(),
		AudioBytes:          m.AudioBytes.Load(),
		RingsDelivered:      m.RingsDelivered.Load(),
		RingsDropped:        m.RingsDropped.Load(),
		RecordingTimeouts:   m.RecordingTimeouts.Load(),
		DeliveryFailures:    m.DeliveryFailures.Load(),
		MalformedMessages:   m.MalformedMessages.Load(),
		RateLimited:         m.RateLimited.Load(),
		PersistenceFailures: m.PersistenceFailures.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"joins", s.Joins,
		"audio_relayed", s.AudioRelayed,
		"rings_delivered", s.RingsDelivered,
		"rings_dropped", s.RingsDropped,
		"delivery_failures", s.DeliveryFailures,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
