package server

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NicolasHaas/ircline/pkg/datastore"
	"github.com/NicolasHaas/ircline/pkg/model"
)

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	st := s.store
	defer func() { _ = st.NonTx().Close() }()

	// Ensure the global chat row exists so messages have a home
	if err := s.ensureGlobalChat(st); err != nil {
		return err
	}

	// Load chats from YAML config if provided
	if s.cfg.ChatsFile != "" {
		if err := LoadChatsFromYAML(s.cfg.ChatsFile, st); err != nil {
			slog.Error("failed to load chats config", "err", err)
		}
	}

	// Start listeners
	if err := s.StartControl(st); err != nil {
		return err
	}
	if err := s.StartWS(st); err != nil {
		return err
	}

	slog.Info("ircline server running",
		"control", s.cfg.ControlAddr,
		"ws", s.cfg.WSAddr,
	)

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() {
	s.cancel()
	if s.controlLn != nil {
		_ = s.controlLn.Close()
	}
	if s.wsLn != nil {
		_ = s.wsLn.Close()
	}
}

// ensureGlobalChat creates the global chat row only on first run.
func (s *Server) ensureGlobalChat(st datastore.DataProviderFactory) error {
	chat, err := st.NonTx().GetChatByName(model.GlobalChatName)
	if err != nil {
		return fmt.Errorf("server: check global chat: %w", err)
	}
	if chat != nil {
		return nil
	}
	if err := st.NonTx().CreateChat(&model.Chat{Name: model.GlobalChatName}); err != nil {
		return fmt.Errorf("server: create global chat: %w", err)
	}
	slog.Info("created global chat", "name", model.GlobalChatName)
	return nil
}
