package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// GlobalChatName is the well-known chat row every database starts with.
	// Messages are persisted against it regardless of the live channel they
	// were sent to.
	GlobalChatName = "#global"

	// ChannelSigil prefixes every channel name a PRIVMSG may target.
	ChannelSigil = "#"

	MaxChatNameLength = 64
)

var ErrChatNameEmpty = errors.New("chat name must not be empty")
var ErrChatNameTooLong = errors.New("chat name too long")
var ErrChatNameSigil = errors.New("chat name must begin with '#'")

// Chat represents a persisted chat row. Live channels exist only in the
// server's registry; a Chat row is what message history hangs off.
type Chat struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// HasChannelSigil reports whether name carries the channel-name sigil.
func HasChannelSigil(name string) bool {
	return strings.HasPrefix(name, ChannelSigil)
}

// Validate checks chat name constraints.
func (c *Chat) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrChatNameEmpty
	}
	if !HasChannelSigil(c.Name) {
		return ErrChatNameSigil
	}
	if utf8.RuneCountInString(c.Name) > MaxChatNameLength {
		return ErrChatNameTooLong
	}
	return nil
}
