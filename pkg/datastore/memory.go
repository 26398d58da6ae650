package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/NicolasHaas/ircline/pkg/crypto"
	"github.com/NicolasHaas/ircline/pkg/model"
)

// MemoryStore provides an in-memory DataProviderFactory implementation for
// tests. It mirrors SQLite behavior for validation and error handling.
type MemoryStore struct {
	mu sync.RWMutex

	now    func() time.Time
	hasher *crypto.Hasher

	nextUserID    int64
	nextChatID    int64
	nextMessageID int64

	usersByNick map[string]*model.User
	chatsByName map[string]*model.Chat
	messages    []*model.Message
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory(hasher *crypto.Hasher) *MemoryStore {
	return NewMemoryWithClock(hasher, func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(hasher *crypto.Hasher, now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:           now,
		hasher:        hasher,
		nextUserID:    1,
		nextChatID:    1,
		nextMessageID: 1,
		usersByNick:   make(map[string]*model.User),
		chatsByName:   make(map[string]*model.Chat),
	}
}

var _ DataProviderFactory = (*MemoryStore)(nil)

func (s *MemoryStore) NonTx() DataStore {
	return s
}

// Tx returns the store wrapped with no-op transaction controls. The store
// mutex already serializes the duplicate check and insert in RegisterUser.
func (s *MemoryStore) Tx(ctx context.Context) (DataStoreTx, error) {
	return &memoryTx{MemoryStore: s}, nil
}

type memoryTx struct {
	*MemoryStore
}

func (t *memoryTx) Rollback() error { return nil }
func (t *memoryTx) Commit() error   { return nil }

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// ZeroTime returns the zero time value.
func (s *MemoryStore) ZeroTime() time.Time {
	return time.Time{}
}

// GetUserByNick retrieves a user by nick. Returns (nil, nil) when absent.
func (s *MemoryStore) GetUserByNick(nick string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByNick[nick]
	if !ok {
		return nil, nil
	}
	copyUser := *user
	return &copyUser, nil
}

// ListUsers returns all users ordered by ID.
func (s *MemoryStore) ListUsers() ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]model.User, 0, len(s.usersByNick))
	for _, u := range s.usersByNick {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// DeleteUser mirrors the SQLite provider: declared but not implemented.
func (s *MemoryStore) DeleteUser(id int64) error {
	return ErrNotImplemented
}

// RegisterUser creates a user with the salted password hash. Returns false
// without mutation when the nick is already taken.
func (t *memoryTx) RegisterUser(nick, password string) (bool, error) {
	if err := model.ValidateNick(nick); err != nil {
		return false, fmt.Errorf("datastore: register user: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.usersByNick[nick]; exists {
		return false, nil
	}
	t.usersByNick[nick] = &model.User{
		ID:           t.nextUserID,
		Nick:         nick,
		PasswordHash: t.hasher.HashPassword(password),
		CreatedAt:    t.now().UTC(),
	}
	t.nextUserID++
	return true, nil
}

// VerifyUser reports whether nick exists with a matching salted hash.
func (s *MemoryStore) VerifyUser(nick, password string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByNick[nick]
	if !ok {
		return false, nil
	}
	return user.PasswordHash == s.hasher.HashPassword(password), nil
}

// CreateChat creates a new chat row and fills in the assigned ID.
func (s *MemoryStore) CreateChat(chat *model.Chat) error {
	if err := chat.Validate(); err != nil {
		return fmt.Errorf("datastore: create chat: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.chatsByName[chat.Name]; exists {
		return fmt.Errorf("datastore: create chat: constraint failed: UNIQUE constraint failed: chats.name")
	}
	chat.ID = s.nextChatID
	chat.CreatedAt = s.now().UTC()
	s.nextChatID++
	copyChat := *chat
	s.chatsByName[chat.Name] = &copyChat
	return nil
}

// GetChatByName retrieves a chat by name. Returns (nil, nil) when absent.
func (s *MemoryStore) GetChatByName(name string) (*model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chatsByName[name]
	if !ok {
		return nil, nil
	}
	copyChat := *chat
	return &copyChat, nil
}

// ListChats returns all chats ordered by ID.
func (s *MemoryStore) ListChats() ([]model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chats := make([]model.Chat, 0, len(s.chatsByName))
	for _, c := range s.chatsByName {
		chats = append(chats, *c)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].ID < chats[j].ID })
	return chats, nil
}

// StoreMessage persists one message against the global chat. Unresolvable
// authors are logged and dropped without error, as in the SQLite provider.
func (s *MemoryStore) StoreMessage(author, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByNick[author]
	if !ok {
		slog.Warn("message author not found, dropping message", "author", author)
		return nil
	}
	chat, ok := s.chatsByName[model.GlobalChatName]
	if !ok {
		slog.Warn("global chat row missing, dropping message", "chat", model.GlobalChatName)
		return nil
	}

	s.messages = append(s.messages, &model.Message{
		ID:        s.nextMessageID,
		AuthorID:  user.ID,
		ChatID:    chat.ID,
		Text:      text,
		CreatedAt: s.now().UTC(),
	})
	s.nextMessageID++
	return nil
}

// GetMessages returns message texts for the named chat with created_at in
// [begin, end] inclusive, ascending. Unknown chats yield an empty result.
func (s *MemoryStore) GetMessages(chat string, begin, end time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.chatsByName[chat]
	if !ok {
		slog.Warn("chat not found", "chat", chat)
		return nil, nil
	}

	var texts []string
	for _, m := range s.messages {
		if m.ChatID != ch.ID {
			continue
		}
		// Truncate to second precision to match the SQLite text column.
		created := m.CreatedAt.Truncate(time.Second)
		if created.Before(begin.UTC()) || created.After(end.UTC()) {
			continue
		}
		texts = append(texts, m.Text)
	}
	return texts, nil
}

// DeleteMessage mirrors the SQLite provider: declared but not implemented.
func (s *MemoryStore) DeleteMessage(id int64) error {
	return ErrNotImplemented
}
