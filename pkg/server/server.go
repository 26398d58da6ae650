// Package server implements the ircline chat server.
package server

import (
	"context"
	"net"

	"github.com/NicolasHaas/ircline/pkg/datastore"
)

// Config holds server configuration.
type Config struct {
	ControlAddr string // TCP bind address for the line protocol (e.g. ":6667")
	WSAddr      string // HTTP bind address for the WebSocket transport (empty = disabled)
	MetricsAddr string // HTTP bind address for /metrics endpoint (empty = disabled)
	DBPath      string // SQLite database path
	ChatsFile   string // YAML file defining chats to create on startup

	// CLI-only actions (run and exit)
	ExportUsers bool // export all users as YAML and exit
	ExportChats bool // export all chats as YAML and exit
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store datastore.DataProviderFactory
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ControlAddr: ":6667",
		WSAddr:      ":6680",
		MetricsAddr: ":6682",
		DBPath:      "ircline.db",
	}
}

// Server is the main ircline server.
type Server struct {
	cfg       Config
	sessions  *SessionManager
	channels  *ChannelRegistry
	metrics   *Metrics
	store     datastore.DataProviderFactory
	handler   *ControlHandler
	controlLn net.Listener
	wsLn      net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		sessions: NewSessionManager(),
		channels: NewChannelRegistry(),
		metrics:  NewMetrics(),
		store:    deps.Store,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Channels returns the channel registry.
func (s *Server) Channels() *ChannelRegistry {
	return s.channels
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
