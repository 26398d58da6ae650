package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const MessageMaxTextLength = 2000

var ErrMessageTextTooLong = fmt.Errorf("message text exceeds %d characters", MessageMaxTextLength)
var ErrMessageTextEmpty = errors.New("message text cannot be empty")

// Message is one persisted chat line. Append-only: messages are never
// updated after insert.
type Message struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"author_id"`
	ChatID    int64     `json:"chat_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *Message) Validate() error {
	if strings.TrimSpace(m.Text) == "" {
		return ErrMessageTextEmpty
	} else if utf8.RuneCountInString(m.Text) > MessageMaxTextLength {
		return ErrMessageTextTooLong
	}

	return nil
}
