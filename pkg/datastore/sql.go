package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/ircline/pkg/crypto"
	"github.com/NicolasHaas/ircline/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
	hasher *crypto.Hasher
}

func (p *baseProvider) ZeroTime() time.Time {
	return time.Time{}
}

func (p *baseProvider) Close() error {
	return nil
}

type nonTxProvider struct {
	baseProvider
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory provides database access for all ircline entities.
type ProviderFactory struct {
	DB     *sql.DB
	Hasher *crypto.Hasher
}

func (sf ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB:     sf.DB,
			hasher: sf.Hasher,
		},
	}
}

func (sf ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB:     tx,
			hasher: sf.Hasher,
		},
		tx: tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string, hasher *crypto.Hasher) (*ProviderFactory, error) {
	DB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := DB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := DB.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: enable FK: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := DB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &ProviderFactory{DB: DB, Hasher: hasher}
	if err := s.migrate(); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *ProviderFactory) Close() error {
	return s.DB.Close()
}

func (s *ProviderFactory) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		nick          TEXT    NOT NULL UNIQUE CHECK(length(nick) > 0 AND length(nick) <= 32),
		password_hash TEXT    NOT NULL,
		created_at    TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS chats (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT    NOT NULL UNIQUE,
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		author_id  INTEGER NOT NULL DEFAULT 0,
		chat_id    INTEGER NOT NULL DEFAULT 0,
		text       TEXT    NOT NULL DEFAULT '',
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat_created
		ON messages (chat_id, created_at);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *ProviderFactory) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Users ----

// GetUserByNick retrieves a user by nick. Returns (nil, nil) when absent.
func (s *baseProvider) GetUserByNick(nick string) (*model.User, error) {
	u := &model.User{}
	var createdAt string
	err := s.QueryRowContext(context.Background(), "SELECT id, nick, password_hash, created_at FROM users WHERE nick = ?", nick).
		Scan(&u.ID, &u.Nick, &u.PasswordHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	u.CreatedAt = parsed
	return u, nil
}

// ListUsers returns all users.
func (s *baseProvider) ListUsers() ([]model.User, error) {
	rows, err := s.QueryContext(context.Background(), "SELECT id, nick, password_hash, created_at FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		var u model.User
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Nick, &u.PasswordHash, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		u.CreatedAt = parsed
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser is declared in the protocol surface but has no implementation.
func (s *baseProvider) DeleteUser(id int64) error {
	return ErrNotImplemented
}

// ---- Auth ----

// RegisterUser creates a user with the salted password hash. The duplicate
// check and insert run inside this provider's transaction, so two racing
// registrations of one nick commit at most one row.
func (s *txProvider) RegisterUser(nick, password string) (bool, error) {
	ctx := context.Background()

	defer func() { _ = s.Rollback() }()

	if err := model.ValidateNick(nick); err != nil {
		return false, fmt.Errorf("datastore: register user: %w", err)
	}

	var count int
	if err := s.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE nick = ?", nick).Scan(&count); err != nil {
		return false, fmt.Errorf("datastore: register user: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	_, err := s.ExecContext(ctx, "INSERT INTO users (nick, password_hash) VALUES (?, ?)",
		nick, s.hasher.HashPassword(password))
	if err != nil {
		// A concurrent transaction may have inserted the nick between the
		// count and the insert; the UNIQUE constraint is the arbiter.
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return false, nil
		}
		return false, fmt.Errorf("datastore: register user: %w", err)
	}

	if err := s.Commit(); err != nil {
		return false, fmt.Errorf("datastore: commit: %w", err)
	}
	return true, nil
}

// VerifyUser reports whether nick exists with a matching salted hash.
func (s *baseProvider) VerifyUser(nick, password string) (bool, error) {
	var count int
	err := s.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM users WHERE nick = ? AND password_hash = ?",
		nick, s.hasher.HashPassword(password)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("datastore: verify user: %w", err)
	}
	return count == 1, nil
}

// ---- Chats ----

// CreateChat creates a new chat row and fills in the assigned ID.
func (s *baseProvider) CreateChat(chat *model.Chat) error {
	if err := chat.Validate(); err != nil {
		return fmt.Errorf("datastore: create chat: %w", err)
	}
	res, err := s.ExecContext(context.Background(), "INSERT INTO chats (name) VALUES (?)", chat.Name)
	if err != nil {
		return fmt.Errorf("datastore: create chat: %w", err)
	}
	chat.ID, _ = res.LastInsertId()
	chat.CreatedAt = time.Now().UTC()
	return nil
}

// GetChatByName retrieves a chat row by name. Returns (nil, nil) when absent.
func (s *baseProvider) GetChatByName(name string) (*model.Chat, error) {
	ch := &model.Chat{}
	var createdAt string
	err := s.QueryRowContext(context.Background(), "SELECT id, name, created_at FROM chats WHERE name = ?", name).
		Scan(&ch.ID, &ch.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get chat: %w", err)
	}
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: get chat: %w", err)
	}
	ch.CreatedAt = parsed
	return ch, nil
}

// ListChats returns all chat rows.
func (s *baseProvider) ListChats() ([]model.Chat, error) {
	rows, err := s.QueryContext(context.Background(), "SELECT id, name, created_at FROM chats ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list chats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chats []model.Chat
	for rows.Next() {
		var ch model.Chat
		var createdAt string
		if err := rows.Scan(&ch.ID, &ch.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan chat: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan chat: %w", err)
		}
		ch.CreatedAt = parsed
		chats = append(chats, ch)
	}
	return chats, rows.Err()
}

// ---- Messages ----

// StoreMessage persists one message against the global chat row. An author
// that does not resolve to a user is logged and dropped, not an error.
func (s *baseProvider) StoreMessage(author, text string) error {
	ctx := context.Background()

	user, err := s.GetUserByNick(author)
	if err != nil {
		return fmt.Errorf("datastore: store message: %w", err)
	}
	if user == nil {
		slog.Warn("message author not found, dropping message", "author", author)
		return nil
	}

	res, err := s.ExecContext(ctx,
		"INSERT INTO messages (author_id, chat_id, text) SELECT ?, id, ? FROM chats WHERE name = ?",
		user.ID, text, model.GlobalChatName)
	if err != nil {
		return fmt.Errorf("datastore: store message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Warn("global chat row missing, dropping message", "chat", model.GlobalChatName)
	}
	return nil
}

// GetMessages returns message texts for the named chat with created_at in
// [begin, end] inclusive, ascending. Unknown chats yield an empty result.
func (s *baseProvider) GetMessages(chat string, begin, end time.Time) ([]string, error) {
	ctx := context.Background()

	ch, err := s.GetChatByName(chat)
	if err != nil {
		return nil, fmt.Errorf("datastore: get messages: %w", err)
	}
	if ch == nil {
		slog.Warn("chat not found", "chat", chat)
		return nil, nil
	}

	rows, err := s.QueryContext(ctx,
		"SELECT text FROM messages WHERE chat_id = ? AND created_at BETWEEN ? AND ? ORDER BY created_at, id",
		ch.ID, formatDBTime(begin), formatDBTime(end))
	if err != nil {
		return nil, fmt.Errorf("datastore: get messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("datastore: scan message: %w", err)
		}
		texts = append(texts, text)
	}
	return texts, rows.Err()
}

// DeleteMessage is declared in the protocol surface but has no implementation.
func (s *baseProvider) DeleteMessage(id int64) error {
	return ErrNotImplemented
}
