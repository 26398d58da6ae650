package model

import (
	"strings"
	"testing"
)

func TestValidateNick(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid simple", "alice", nil},
		{"valid with numbers", "user123", nil},
		{"valid with underscore", "my_nick", nil},
		{"valid with hyphen", "my-nick", nil},
		{"valid mixed", "A-b_3", nil},
		{"valid max length", strings.Repeat("a", MaxNickLength), nil},
		{"empty", "", ErrNickEmpty},
		{"too long", strings.Repeat("a", MaxNickLength+1), ErrNickTooLong},
		{"way too long", strings.Repeat("x", 65), ErrNickTooLong},
		{"contains space", "has space", ErrNickInvalidChars},
		{"contains dot", "nick.name", ErrNickInvalidChars},
		{"contains @", "nick@name", ErrNickInvalidChars},
		{"contains colon", "nick:name", ErrNickInvalidChars},
		{"unicode letter", "ñoño", ErrNickInvalidChars},
		{"tab character", "nick\tname", ErrNickInvalidChars},
		{"newline", "nick\nname", ErrNickInvalidChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNick(tt.input)
			if err != tt.wantErr {
				t.Errorf("ValidateNick(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestChatValidate(t *testing.T) {
	tests := []struct {
		name    string
		chat    Chat
		wantErr error
	}{
		{"valid global", Chat{Name: GlobalChatName}, nil},
		{"valid plain", Chat{Name: "#random"}, nil},
		{"empty", Chat{Name: ""}, ErrChatNameEmpty},
		{"whitespace only", Chat{Name: "   "}, ErrChatNameEmpty},
		{"missing sigil", Chat{Name: "random"}, ErrChatNameSigil},
		{"too long", Chat{Name: "#" + strings.Repeat("a", MaxChatNameLength)}, ErrChatNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.chat.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{"valid", Message{Text: "hello"}, nil},
		{"empty", Message{Text: ""}, ErrMessageTextEmpty},
		{"whitespace only", Message{Text: " \t "}, ErrMessageTextEmpty},
		{"max length", Message{Text: strings.Repeat("a", MessageMaxTextLength)}, nil},
		{"too long", Message{Text: strings.Repeat("a", MessageMaxTextLength+1)}, ErrMessageTextTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.msg.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSessionPrefix(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		want    string
	}{
		{"identified", Session{Nick: "alice", Identified: true}, "!alice"},
		{"anonymous", Session{}, ":?"},
		{"nick without identify", Session{Nick: "alice"}, ":?"},
		{"identified empty nick", Session{Identified: true}, ":?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.Prefix(); got != tt.want {
				t.Errorf("Prefix() = %q, want %q", got, tt.want)
			}
		})
	}
}
