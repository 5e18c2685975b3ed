package server

import (
	"fmt"
	"net/http"
	"time"
)

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.hub.Metrics()
	uptime := time.Since(m.StartTime()).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("walkie_uptime_seconds", "Hub uptime in seconds.", "gauge", uptime)

	write("walkie_users_online", "Users with a live connection.", "gauge",
		int64(len(s.hub.Users())))
	write("walkie_presence_entries", "Usernames in the durable presence list.", "gauge",
		int64(s.hub.Presence().Len()))

	write("walkie_connections_active", "Current open WebSocket connections.", "gauge",
		m.ActiveConnections.Load())
	write("walkie_connections_total", "Lifetime WebSocket connections accepted.", "counter",
		m.TotalConnections.Load())
	write("walkie_joins_total", "Successful joins.", "counter",
		m.Joins.Load())
	write("walkie_joins_rejected_total", "Refused joins.", "counter",
		m.JoinsRejected.Load())
	write("walkie_disconnects_total", "Joined users that left.", "counter",
		m.Disconnects.Load())
	write("walkie_evictions_total", "Connections closed after a failed send.", "counter",
		m.Evictions.Load())

	write("walkie_audio_frames_total", "Audio frames accepted for relay.", "counter",
		m.AudioRelayed.Load())
	write("walkie_audio_bytes_total", "Audio payload bytes accepted for relay.", "counter",
		m.AudioBytes.Load())
	write("walkie_rings_delivered_total", "Rings delivered to their target.", "counter",
		m.RingsDelivered.Load())
	write("walkie_rings_dropped_total", "Rings for users that were not connected.", "counter",
		m.RingsDropped.Load())
	write("walkie_recording_timeouts_total", "Recording flags cleared by timer.", "counter",
		m.RecordingTimeouts.Load())

	write("walkie_delivery_failures_total", "Outbound sends that failed.", "counter",
		m.DeliveryFailures.Load())
	write("walkie_malformed_messages_total", "Inbound frames that could not be decoded.", "counter",
		m.MalformedMessages.Load())
	write("walkie_rate_limited_total", "Inbound frames dropped by the rate limiter.", "counter",
		m.RateLimited.Load())
	write("walkie_persistence_failures_total", "Presence store writes that failed.", "counter",
		m.PersistenceFailures.Load())
}
