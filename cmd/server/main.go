package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/NicolasHaas/ircline/pkg/crypto"
	"github.com/NicolasHaas/ircline/pkg/datastore"
	"github.com/NicolasHaas/ircline/pkg/logging"
	"github.com/NicolasHaas/ircline/pkg/server"
)

func main() {
	cfg := server.DefaultConfig()

	flag.StringVar(&cfg.ControlAddr, "control", cfg.ControlAddr, "TCP bind address for the line protocol")
	flag.StringVar(&cfg.WSAddr, "ws", cfg.WSAddr, "HTTP bind address for the WebSocket transport (empty to disable)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	flag.StringVar(&cfg.ChatsFile, "chats-file", "", "YAML file defining chats to create on startup")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.BoolVar(&cfg.ExportUsers, "export-users", false, "Export all users as YAML and exit")
	flag.BoolVar(&cfg.ExportChats, "export-chats", false, "Export all chats as YAML and exit")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	hasher := crypto.NewHasherFromEnv()

	// Handle export commands (run and exit)
	if cfg.ExportUsers || cfg.ExportChats {
		st, err := datastore.NewProviderFactory(cfg.DBPath, hasher)
		if err != nil {
			slog.Error("open database", "err", err)
			os.Exit(1)
		}
		defer func() { _ = st.Close() }()

		if cfg.ExportUsers {
			data, err := server.ExportUsersYAML(st)
			if err != nil {
				slog.Error("export users", "err", err)
				os.Exit(1)
			}
			fmt.Print(string(data))
		}
		if cfg.ExportChats {
			data, err := server.ExportChatsYAML(st)
			if err != nil {
				slog.Error("export chats", "err", err)
				os.Exit(1)
			}
			fmt.Print(string(data))
		}
		return
	}

	st, err := datastore.NewProviderFactory(cfg.DBPath, hasher)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	srv := server.New(cfg, server.Dependencies{Store: st})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
