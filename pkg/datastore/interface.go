package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/NicolasHaas/ircline/pkg/model"
)

// ErrNotImplemented is returned by operations that are declared in the
// interface but have no implementation yet (user and message deletion).
var ErrNotImplemented = errors.New("datastore: not implemented")

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
}

type DataStoreTx interface {
	DataStore
	RegistrationProvider
	Rollback() error
	Commit() error
}

// DataStore defines the persistence interface for all ircline entities.
// The default implementation is SQLite; an in-memory store exists for
// tests and can be extended to any other backend.
type DataStore interface {
	ConfigReadProvider

	UserReadProvider
	UserWriteProvider

	ChatReadProvider
	ChatWriteProvider

	MessageReadProvider
	MessageWriteProvider

	AuthProvider
}

// Compile-time check: *ProviderFactory implements DataProviderFactory.
var _ DataProviderFactory = (*ProviderFactory)(nil)

type ConfigReadProvider interface {
	ZeroTime() time.Time
	Close() error
}

type UserReadProvider interface {
	GetUserByNick(nick string) (*model.User, error)
	ListUsers() ([]model.User, error)
}

type UserWriteProvider interface {
	DeleteUser(id int64) error
}

type ChatReadProvider interface {
	GetChatByName(name string) (*model.Chat, error)
	ListChats() ([]model.Chat, error)
}

type ChatWriteProvider interface {
	CreateChat(chat *model.Chat) error
}

type MessageReadProvider interface {
	// GetMessages returns the texts of messages in the named chat whose
	// created_at falls within [begin, end] inclusive, in ascending time
	// order. Unknown chats yield an empty result, not an error.
	GetMessages(chat string, begin, end time.Time) ([]string, error)
}

type MessageWriteProvider interface {
	// StoreMessage persists one message by the named author against the
	// global chat row. An unresolvable author is logged and dropped
	// without error.
	StoreMessage(author, text string) error
	DeleteMessage(id int64) error
}

type AuthProvider interface {
	// VerifyUser reports whether a user with this nick exists and the
	// salted hash of password matches the stored hash.
	VerifyUser(nick, password string) (bool, error)
}

// RegistrationProvider is transactional: the duplicate-nick check and the
// insert must commit as a unit so concurrent registrations of one nick
// yield exactly one success.
type RegistrationProvider interface {
	// RegisterUser creates a user with the salted hash of password.
	// Returns false without mutation when the nick is already taken.
	RegisterUser(nick, password string) (bool, error)
}
