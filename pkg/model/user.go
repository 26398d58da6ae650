// Package model defines the core domain types for ircline.
package model

import (
	"errors"
	"fmt"
	"time"
)

const MaxNickLength = 32

var ErrNickEmpty = errors.New("nick must not be empty")
var ErrNickTooLong = fmt.Errorf("nick must not exceed %d characters", MaxNickLength)
var ErrNickInvalidChars = errors.New("nick must contain only alphanumeric characters, underscores, or hyphens")

// User represents a registered user. Users are created by REGISTER and are
// immutable afterwards; there is no delete path in the current protocol.
type User struct {
	ID           int64     `json:"id"`
	Nick         string    `json:"nick"`
	PasswordHash string    `json:"-"` // salted SHA3-512 hex digest, never serialized
	CreatedAt    time.Time `json:"created_at"`
}

// ValidateNick checks that a nick is 1-32 ASCII alphanumeric, underscore,
// or hyphen characters. Returns nil on success or a descriptive error.
func ValidateNick(nick string) error {
	if len(nick) == 0 {
		return ErrNickEmpty
	}
	if len(nick) > MaxNickLength {
		return ErrNickTooLong
	}
	for _, r := range nick {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrNickInvalidChars
		}
	}
	return nil
}
