package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format. It runs in the background and
// shuts down when the server context is cancelled.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Helper for gauge/counter lines.
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

	writeFloat("ircline_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("ircline_connections_active", "Current active connections.", "gauge",
		m.ActiveConnections.Load())
	write("ircline_connections_total", "Lifetime connections accepted.", "counter",
		m.TotalConnections.Load())
	write("ircline_disconnects_total", "Total client disconnects.", "counter",
		m.TotalDisconnects.Load())

	write("ircline_registrations_total", "Successful REGISTER commands.", "counter",
		m.Registrations.Load())
	write("ircline_auth_success_total", "Sessions that became identified.", "counter",
		m.SuccessfulAuths.Load())
	write("ircline_auth_failed_total", "Rejected REGISTER/IDENTIFY attempts.", "counter",
		m.FailedAuths.Load())

	write("ircline_joins_total", "Channel joins.", "counter",
		m.Joins.Load())
	write("ircline_messages_sent_total", "Messages broadcast to channels.", "counter",
		m.MessagesSent.Load())
	write("ircline_messages_stored_total", "Messages persisted to the datastore.", "counter",
		m.MessagesStored.Load())
	write("ircline_history_queries_total", "HISTORY commands answered.", "counter",
		m.HistoryQueries.Load())

	write("ircline_unknown_commands_total", "Inbound lines with an unknown command.", "counter",
		m.UnknownCommands.Load())
	write("ircline_lines_dropped_total", "Outbound lines dropped on full send queues.", "counter",
		m.LinesDropped.Load())
}
