package server

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/ircline/pkg/datastore"
	"github.com/NicolasHaas/ircline/pkg/model"
)

// ChatYAML represents a chat in YAML config.
type ChatYAML struct {
	Name string `yaml:"name"`
}

// ChatsConfig is the top-level YAML config for chats.
type ChatsConfig struct {
	Chats []ChatYAML `yaml:"chats"`
}

// UserYAML represents a user in YAML export. Password hashes are never
// exported.
type UserYAML struct {
	ID        int64  `yaml:"id"`
	Nick      string `yaml:"nick"`
	CreatedAt string `yaml:"created_at"`
}

// UsersExport is the top-level YAML for user export.
type UsersExport struct {
	Users []UserYAML `yaml:"users"`
}

// LoadChatsFromYAML reads a chats YAML file and creates missing chats in
// the store.
func LoadChatsFromYAML(path string, st datastore.DataProviderFactory) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return fmt.Errorf("read chats config: %w", err)
	}
	return ImportChatsFromYAML(data, st)
}

// ImportChatsFromYAML parses YAML data and creates missing chats in the store.
func ImportChatsFromYAML(data []byte, st datastore.DataProviderFactory) error {
	var cfg ChatsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse chats config: %w", err)
	}

	for _, ch := range cfg.Chats {
		if err := ensureChat(st, ch.Name); err != nil {
			slog.Error("failed to create chat from config", "name", ch.Name, "err", err)
		}
	}

	slog.Info("imported chats from YAML", "count", len(cfg.Chats))
	return nil
}

func ensureChat(st datastore.DataProviderFactory, name string) error {
	existing, err := st.NonTx().GetChatByName(name)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	if err := st.NonTx().CreateChat(&model.Chat{Name: name}); err != nil {
		return err
	}
	slog.Debug("created chat from config", "name", name)
	return nil
}

// ExportChatsYAML exports all chats as YAML.
func ExportChatsYAML(st datastore.DataProviderFactory) ([]byte, error) {
	chats, err := st.NonTx().ListChats()
	if err != nil {
		return nil, err
	}

	cfg := ChatsConfig{}
	for _, ch := range chats {
		cfg.Chats = append(cfg.Chats, ChatYAML{Name: ch.Name})
	}
	return yaml.Marshal(&cfg)
}

// ExportUsersYAML exports all users as YAML.
func ExportUsersYAML(st datastore.DataProviderFactory) ([]byte, error) {
	users, err := st.NonTx().ListUsers()
	if err != nil {
		return nil, err
	}

	export := UsersExport{}
	for _, u := range users {
		export.Users = append(export.Users, UserYAML{
			ID:        u.ID,
			Nick:      u.Nick,
			CreatedAt: u.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}
	return yaml.Marshal(&export)
}
