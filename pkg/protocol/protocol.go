// Package protocol defines the line-oriented wire format: inbound command
// parsing and outbound notification formatting.
//
// One line is one protocol unit. Inbound shape:
//
//	[:prefix ]COMMAND[ arg ...][ :trailing free text]
//
// The trailing segment starts at the first " :" (space-colon) and is never
// split further. Outbound notification shape:
//
//	!<nick> <COMMAND> <channel>[ :<text>]
//
// with ":?" standing in for the nick of an unidentified sender.
package protocol

import (
	"fmt"
	"strings"
	"time"
)

// CRLF terminates every outbound wire line.
const CRLF = "\r\n"

// MaxLineLength bounds a single inbound line in bytes.
const MaxLineLength = 8192

// Command is an inbound protocol command name (case-sensitive).
type Command string

const (
	CmdRegister Command = "REGISTER"
	CmdIdentify Command = "IDENTIFY"
	CmdJoin     Command = "JOIN"
	CmdPrivmsg  Command = "PRIVMSG"
	CmdHistory  Command = "HISTORY"
	CmdQuit     Command = "QUIT"
)

// Known reports whether the command is part of the protocol. Unknown
// commands are logged and dropped by the dispatcher, never answered.
func (c Command) Known() bool {
	switch c {
	case CmdRegister, CmdIdentify, CmdJoin, CmdPrivmsg, CmdHistory, CmdQuit:
		return true
	}
	return false
}

// Line is one parsed inbound line.
type Line struct {
	Command  Command
	Args     []string
	Trailing string
}

// ProtocolError reports a malformed inbound line. Non-fatal: callers log it
// and keep the connection loop alive.
type ProtocolError struct {
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %q", e.Reason, e.Line)
}

// ParseLine parses one inbound client line.
//
// The head is separated from the trailing text at the first " :"; the head
// is then split on single spaces into command and positional args. An
// optional ":prefix" token before the command is ignored for inbound lines.
func ParseLine(raw string) (Line, error) {
	raw = strings.TrimRight(raw, "\r\n")

	head, trailing, _ := strings.Cut(raw, " :")

	tokens := strings.Split(head, " ")
	if len(tokens) > 0 && strings.HasPrefix(tokens[0], ":") {
		tokens = tokens[1:]
	}
	if len(tokens) == 0 || tokens[0] == "" {
		return Line{}, &ProtocolError{Line: raw, Reason: "missing command token"}
	}

	return Line{
		Command:  Command(tokens[0]),
		Args:     tokens[1:],
		Trailing: trailing,
	}, nil
}

// FormatNotice renders the server-to-client notification line (without the
// CRLF terminator). Text is appended as a trailing segment only when
// non-empty, so join notices come out as "!nick JOIN #chan".
func FormatNotice(prefix string, cmd Command, channel, text string) string {
	if text == "" {
		return fmt.Sprintf("%s %s %s", prefix, cmd, channel)
	}
	return fmt.Sprintf("%s %s %s :%s", prefix, cmd, channel, text)
}

// FormatMessage renders a message line with the trailing marker always
// present, so an empty text survives the round trip. JOIN-style notices
// without a text segment use FormatNotice instead.
func FormatMessage(prefix string, cmd Command, channel, text string) string {
	return fmt.Sprintf("%s %s %s :%s", prefix, cmd, channel, text)
}

// timeLayouts are the accepted HISTORY bound formats, most specific first.
var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// ParseTime parses a HISTORY range bound. Bare dates resolve to midnight UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &ProtocolError{Line: s, Reason: "unparseable timestamp"}
}
