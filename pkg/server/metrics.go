package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime connections accepted (TCP + WS)
	ActiveConnections atomic.Int64 // current active connections
	TotalDisconnects  atomic.Int64 // total client disconnects (clean + unclean)

	// Auth counters
	Registrations   atomic.Int64 // successful REGISTER commands
	SuccessfulAuths atomic.Int64 // sessions that became identified
	FailedAuths     atomic.Int64 // rejected REGISTER/IDENTIFY attempts

	// Chat counters
	Joins          atomic.Int64 // channel joins
	MessagesSent   atomic.Int64 // messages broadcast to channels
	MessagesStored atomic.Int64 // messages persisted to the datastore
	HistoryQueries atomic.Int64 // HISTORY commands answered

	// Protocol counters
	UnknownCommands atomic.Int64 // inbound lines with an unknown command
	LinesDropped    atomic.Int64 // outbound lines dropped on full send queues
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	Registrations   int64 `json:"registrations"`
	SuccessfulAuths int64 `json:"successful_auths"`
	FailedAuths     int64 `json:"failed_auths"`

	Joins          int64 `json:"joins"`
	MessagesSent   int64 `json:"messages_sent"`
	MessagesStored int64 `json:"messages_stored"`
	HistoryQueries int64 `json:"history_queries"`

	UnknownCommands int64 `json:"unknown_commands"`
	LinesDropped    int64 `json:"lines_dropped"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		Registrations:     m.Registrations.Load(),
		SuccessfulAuths:   m.SuccessfulAuths.Load(),
		FailedAuths:       m.FailedAuths.Load(),
		Joins:             m.Joins.Load(),
		MessagesSent:      m.MessagesSent.Load(),
		MessagesStored:    m.MessagesStored.Load(),
		HistoryQueries:    m.HistoryQueries.Load(),
		UnknownCommands:   m.UnknownCommands.Load(),
		LinesDropped:      m.LinesDropped.Load(),
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
		"messages_sent", s.MessagesSent,
		"messages_stored", s.MessagesStored,
		"lines_dropped", s.LinesDropped,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
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
