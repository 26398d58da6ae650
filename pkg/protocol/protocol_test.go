package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Line
		wantErr bool
	}{
		{
			name: "bare command",
			raw:  "QUIT",
			want: Line{Command: CmdQuit, Args: []string{}},
		},
		{
			name: "command with args",
			raw:  "REGISTER alice secret",
			want: Line{Command: CmdRegister, Args: []string{"alice", "secret"}},
		},
		{
			name: "trailing text",
			raw:  "PRIVMSG #global :hello world",
			want: Line{Command: CmdPrivmsg, Args: []string{"#global"}, Trailing: "hello world"},
		},
		{
			name: "trailing contains colon",
			raw:  "PRIVMSG #global :a :b :c",
			want: Line{Command: CmdPrivmsg, Args: []string{"#global"}, Trailing: "a :b :c"},
		},
		{
			name: "trailing split happens at first space-colon only",
			raw:  "PRIVMSG #global :one :two",
			want: Line{Command: CmdPrivmsg, Args: []string{"#global"}, Trailing: "one :two"},
		},
		{
			name: "inbound prefix ignored",
			raw:  ":someprefix JOIN #global",
			want: Line{Command: CmdJoin, Args: []string{"#global"}},
		},
		{
			name: "crlf stripped",
			raw:  "JOIN #global\r\n",
			want: Line{Command: CmdJoin, Args: []string{"#global"}},
		},
		{
			name: "unknown command still parses",
			raw:  "WHOIS alice",
			want: Line{Command: "WHOIS", Args: []string{"alice"}},
		},
		{name: "empty line", raw: "", wantErr: true},
		{name: "newline only", raw: "\r\n", wantErr: true},
		{name: "prefix without command", raw: ":prefix", wantErr: true},
		{name: "trailing without command", raw: " :hello", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				var perr *ProtocolError
				assert.ErrorAs(t, err, &perr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandKnown(t *testing.T) {
	for _, cmd := range []Command{CmdRegister, CmdIdentify, CmdJoin, CmdPrivmsg, CmdHistory, CmdQuit} {
		assert.True(t, cmd.Known(), "expected %s to be known", cmd)
	}
	assert.False(t, Command("WHOIS").Known())
	assert.False(t, Command("privmsg").Known(), "commands are case-sensitive")
	assert.False(t, Command("").Known())
}

func TestFormatNotice(t *testing.T) {
	assert.Equal(t, "!alice JOIN #global", FormatNotice("!alice", CmdJoin, "#global", ""))
	assert.Equal(t, "!alice PRIVMSG #global :hi there", FormatNotice("!alice", CmdPrivmsg, "#global", "hi there"))
	assert.Equal(t, ":? JOIN #global", FormatNotice(":?", CmdJoin, "#global", ""))
}

func TestFormatMessage(t *testing.T) {
	assert.Equal(t, "!alice PRIVMSG #global :hi there", FormatMessage("!alice", CmdPrivmsg, "#global", "hi there"))
	assert.Equal(t, "!alice PRIVMSG #global :", FormatMessage("!alice", CmdPrivmsg, "#global", ""),
		"empty text keeps the trailing marker")
}

func TestParseTime(t *testing.T) {
	got, err := ParseTime("2000-01-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseTime("2000-01-02T15:04:05")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2000, 1, 2, 15, 4, 5, 0, time.UTC), got)

	got, err = ParseTime("2000-01-02T15:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2000, 1, 2, 15, 4, 5, 0, time.UTC), got)

	_, err = ParseTime("yesterday")
	require.Error(t, err)
}
