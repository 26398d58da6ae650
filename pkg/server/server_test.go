package server

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/NicolasHaas/ircline/pkg/crypto"
	"github.com/NicolasHaas/ircline/pkg/datastore"
	"github.com/NicolasHaas/ircline/pkg/model"
	"github.com/NicolasHaas/ircline/pkg/protocol"
)

// scriptConn is a lineConn fed from a fixed script of inbound lines. Reads
// past the script return EOF, like a client hanging up.
type scriptConn struct {
	mu      sync.Mutex
	script  []string
	written []string
	closed  bool
}

func (c *scriptConn) ReadLine() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", net.ErrClosed
	}
	if len(c.script) == 0 {
		return "", io.EOF
	}
	line := c.script[0]
	c.script = c.script[1:]
	return line, nil
}

func (c *scriptConn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, line)
	return nil
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptConn) RemoteAddr() string { return "test" }

func (c *scriptConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newTestServer(t *testing.T) (*Server, *datastore.MemoryStore, *ControlHandler) {
	t.Helper()
	st := datastore.NewMemory(crypto.NewHasher("testsalt"))
	if err := st.NonTx().CreateChat(&model.Chat{Name: model.GlobalChatName}); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	cfg := DefaultConfig()
	srv := New(cfg, Dependencies{Store: st})
	handler := newControlHandler(srv, st)
	srv.handler = handler
	return srv, st, handler
}

// newTestClient creates a session with its connection registered in the
// handler. The write pump is not started so queued lines can be inspected.
func newTestClient(t *testing.T, srv *Server, handler *ControlHandler) *sessionConn {
	t.Helper()
	session := srv.sessions.Create("test")
	sc := newSessionConn(session.ID, &scriptConn{})
	handler.setConn(session.ID, sc)
	return sc
}

// drainQueue empties a session's send queue and returns the queued lines.
func drainQueue(sc *sessionConn) []string {
	var lines []string
	for {
		select {
		case l := <-sc.send:
			lines = append(lines, l)
		default:
			return lines
		}
	}
}

func identify(t *testing.T, srv *Server, handler *ControlHandler, sc *sessionConn, nick string) {
	t.Helper()
	tx, err := handler.store.Tx(context.Background())
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if ok, err := tx.RegisterUser(nick, "pw"); err != nil || !ok {
		t.Fatalf("RegisterUser(%q) = (%v, %v)", nick, ok, err)
	}
	srv.sessions.SetIdentified(sc.id, nick)
}

func maxTestTime() time.Time {
	return time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
}

func mustParse(t *testing.T, raw string) protocol.Line {
	t.Helper()
	line, err := protocol.ParseLine(raw)
	if err != nil {
		t.Fatalf("ParseLine(%q): %v", raw, err)
	}
	return line
}

func TestJoinBroadcastIncludesJoiner(t *testing.T) {
	srv, _, handler := newTestServer(t)

	a := newTestClient(t, srv, handler)
	b := newTestClient(t, srv, handler)

	srv.handleLine(handler, a, mustParse(t, "JOIN #room"))
	drainQueue(a)

	srv.handleLine(handler, b, mustParse(t, "JOIN #room"))

	want := ":? JOIN #room"
	for name, sc := range map[string]*sessionConn{"existing member": a, "joiner": b} {
		got := drainQueue(sc)
		if len(got) != 1 || got[0] != want {
			t.Errorf("%s queue = %v, want [%q]", name, got, want)
		}
	}
}

func TestPrivmsgExcludesSender(t *testing.T) {
	srv, _, handler := newTestServer(t)

	a := newTestClient(t, srv, handler)
	b := newTestClient(t, srv, handler)
	c := newTestClient(t, srv, handler)
	identify(t, srv, handler, a, "alice")

	for _, sc := range []*sessionConn{a, b, c} {
		srv.handleLine(handler, sc, mustParse(t, "JOIN #room"))
		drainQueue(sc)
	}
	drainQueue(a)
	drainQueue(b)
	drainQueue(c)

	srv.handleLine(handler, a, mustParse(t, "PRIVMSG #room :hello there"))

	want := "!alice PRIVMSG #room :hello there"
	for name, sc := range map[string]*sessionConn{"b": b, "c": c} {
		got := drainQueue(sc)
		if len(got) != 1 || got[0] != want {
			t.Errorf("recipient %s queue = %v, want [%q]", name, got, want)
		}
	}
	if got := drainQueue(a); len(got) != 0 {
		t.Errorf("sender queue = %v, want empty", got)
	}
}

func TestPrivmsgRequiresIdentify(t *testing.T) {
	srv, st, handler := newTestServer(t)

	a := newTestClient(t, srv, handler)
	b := newTestClient(t, srv, handler)
	srv.handleLine(handler, a, mustParse(t, "JOIN #room"))
	srv.handleLine(handler, b, mustParse(t, "JOIN #room"))
	drainQueue(a)
	drainQueue(b)

	srv.handleLine(handler, a, mustParse(t, "PRIVMSG #room :sneaky"))

	if got := drainQueue(b); len(got) != 0 {
		t.Errorf("unidentified sender reached recipients: %v", got)
	}
	texts, err := st.NonTx().GetMessages(model.GlobalChatName, st.NonTx().ZeroTime(), maxTestTime())
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(texts) != 0 {
		t.Errorf("messages stored = %v, want none", texts)
	}
}

func TestPrivmsgRequiresExistingSigilChannel(t *testing.T) {
	srv, _, handler := newTestServer(t)

	a := newTestClient(t, srv, handler)
	b := newTestClient(t, srv, handler)
	identify(t, srv, handler, a, "alice")
	srv.handleLine(handler, a, mustParse(t, "JOIN #room"))
	srv.handleLine(handler, b, mustParse(t, "JOIN #room"))
	drainQueue(a)
	drainQueue(b)

	// No sigil on the target
	srv.handleLine(handler, a, mustParse(t, "PRIVMSG room :no sigil"))
	// Channel was never created in the registry
	srv.handleLine(handler, a, mustParse(t, "PRIVMSG #ghost :nobody home"))

	if got := drainQueue(b); len(got) != 0 {
		t.Errorf("invalid targets reached recipients: %v", got)
	}
}

func TestPrivmsgPersistsMessage(t *testing.T) {
	srv, st, handler := newTestServer(t)

	a := newTestClient(t, srv, handler)
	identify(t, srv, handler, a, "alice")
	srv.handleLine(handler, a, mustParse(t, "JOIN #room"))
	drainQueue(a)

	srv.handleLine(handler, a, mustParse(t, "PRIVMSG #room :for the record"))

	texts, err := st.NonTx().GetMessages(model.GlobalChatName, st.NonTx().ZeroTime(), maxTestTime())
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(texts) != 1 || texts[0] != "for the record" {
		t.Errorf("stored messages = %v, want exactly one %q", texts, "for the record")
	}
}

func TestMissingArgumentsAreSilentlyDropped(t *testing.T) {
	srv, st, handler := newTestServer(t)

	a := newTestClient(t, srv, handler)
	b := newTestClient(t, srv, handler)
	srv.handleLine(handler, a, mustParse(t, "JOIN #room"))
	srv.handleLine(handler, b, mustParse(t, "JOIN #room"))
	drainQueue(a)
	drainQueue(b)

	srv.handleLine(handler, a, mustParse(t, "JOIN"))
	srv.handleLine(handler, a, mustParse(t, "REGISTER lonely"))
	srv.handleLine(handler, a, mustParse(t, "PRIVMSG"))
	srv.handleLine(handler, a, mustParse(t, "HISTORY #room 2000-01-01"))

	if got := drainQueue(a); len(got) != 0 {
		t.Errorf("short commands produced replies: %v", got)
	}
	if got := drainQueue(b); len(got) != 0 {
		t.Errorf("short commands produced broadcasts: %v", got)
	}
	user, err := st.NonTx().GetUserByNick("lonely")
	if err != nil {
		t.Fatalf("GetUserByNick: %v", err)
	}
	if user != nil {
		t.Error("short REGISTER created a user")
	}
}

func TestExtraArgumentsAreSilentlyDropped(t *testing.T) {
	srv, _, handler := newTestServer(t)

	a := newTestClient(t, srv, handler)
	b := newTestClient(t, srv, handler)
	identify(t, srv, handler, a, "alice")
	srv.handleLine(handler, a, mustParse(t, "JOIN #room"))
	srv.handleLine(handler, b, mustParse(t, "JOIN #room"))
	drainQueue(a)
	drainQueue(b)

	srv.handleLine(handler, a, mustParse(t, "JOIN #room #other"))
	if srv.channels.Exists("#other") {
		t.Error("JOIN with extra argument created a channel")
	}

	// A doubled space yields an empty first argument, which also fails the
	// exact-arity check instead of creating an empty-string channel.
	srv.handleLine(handler, a, mustParse(t, "JOIN  #room"))
	if srv.channels.Exists("") {
		t.Error("doubled space created an empty-string channel")
	}

	srv.handleLine(handler, a, mustParse(t, "PRIVMSG #room extra :hi"))
	srv.handleLine(handler, a, mustParse(t, "REGISTER bob pw extra"))

	if got := drainQueue(a); len(got) != 0 {
		t.Errorf("over-long commands produced replies: %v", got)
	}
	if got := drainQueue(b); len(got) != 0 {
		t.Errorf("over-long commands produced broadcasts: %v", got)
	}

	// QUIT stays lenient: trailing tokens are ignored, the quit happens.
	srv.handleLine(handler, a, mustParse(t, "QUIT now really"))
	if !a.conn.(*scriptConn).isClosed() {
		t.Error("QUIT with extra arguments did not close the connection")
	}
}

func TestPrivmsgEmptyTextIsDelivered(t *testing.T) {
	srv, st, handler := newTestServer(t)

	a := newTestClient(t, srv, handler)
	b := newTestClient(t, srv, handler)
	identify(t, srv, handler, a, "alice")
	srv.handleLine(handler, a, mustParse(t, "JOIN #room"))
	srv.handleLine(handler, b, mustParse(t, "JOIN #room"))
	drainQueue(a)
	drainQueue(b)

	srv.handleLine(handler, a, mustParse(t, "PRIVMSG #room :"))

	want := "!alice PRIVMSG #room :"
	got := drainQueue(b)
	if len(got) != 1 || got[0] != want {
		t.Errorf("recipient queue = %v, want [%q]", got, want)
	}

	texts, err := st.NonTx().GetMessages(model.GlobalChatName, st.NonTx().ZeroTime(), maxTestTime())
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(texts) != 1 || texts[0] != "" {
		t.Errorf("stored messages = %q, want one empty text", texts)
	}
}

func TestUnknownCommandKeepsSessionAlive(t *testing.T) {
	srv, _, handler := newTestServer(t)

	a := newTestClient(t, srv, handler)
	srv.handleLine(handler, a, mustParse(t, "WHOIS alice"))

	if got := srv.metrics.UnknownCommands.Load(); got != 1 {
		t.Errorf("UnknownCommands = %d, want 1", got)
	}
	if _, ok := srv.sessions.GetSnapshot(a.id); !ok {
		t.Error("session was removed after unknown command")
	}
	if got := drainQueue(a); len(got) != 0 {
		t.Errorf("unknown command produced replies: %v", got)
	}
}

func TestRegisterBindsSessionNick(t *testing.T) {
	srv, _, handler := newTestServer(t)

	a := newTestClient(t, srv, handler)
	srv.handleLine(handler, a, mustParse(t, "REGISTER alice secret"))

	snap, ok := srv.sessions.GetSnapshot(a.id)
	if !ok {
		t.Fatal("session missing")
	}
	if !snap.Identified || snap.Nick != "alice" {
		t.Errorf("session = %+v, want identified as alice", snap)
	}

	// Second registration of the same nick fails and leaves the other
	// session anonymous.
	b := newTestClient(t, srv, handler)
	srv.handleLine(handler, b, mustParse(t, "REGISTER alice other"))
	snap, ok = srv.sessions.GetSnapshot(b.id)
	if !ok {
		t.Fatal("session missing")
	}
	if snap.Identified {
		t.Error("duplicate REGISTER identified the session")
	}
}

func TestIdentify(t *testing.T) {
	srv, _, handler := newTestServer(t)

	a := newTestClient(t, srv, handler)
	srv.handleLine(handler, a, mustParse(t, "REGISTER alice secret"))

	b := newTestClient(t, srv, handler)
	srv.handleLine(handler, b, mustParse(t, "IDENTIFY alice wrong"))
	if snap, _ := srv.sessions.GetSnapshot(b.id); snap.Identified {
		t.Error("IDENTIFY with wrong password identified the session")
	}

	srv.handleLine(handler, b, mustParse(t, "IDENTIFY alice secret"))
	snap, ok := srv.sessions.GetSnapshot(b.id)
	if !ok {
		t.Fatal("session missing")
	}
	if !snap.Identified || snap.Nick != "alice" {
		t.Errorf("session = %+v, want identified as alice", snap)
	}
}

func TestHistoryRepliesOnlyToRequester(t *testing.T) {
	srv, _, handler := newTestServer(t)

	a := newTestClient(t, srv, handler)
	b := newTestClient(t, srv, handler)
	identify(t, srv, handler, a, "alice")
	srv.handleLine(handler, a, mustParse(t, "JOIN "+model.GlobalChatName))
	srv.handleLine(handler, b, mustParse(t, "JOIN "+model.GlobalChatName))
	drainQueue(a)
	drainQueue(b)

	srv.handleLine(handler, a, mustParse(t, "PRIVMSG "+model.GlobalChatName+" :logged line"))
	drainQueue(b)

	srv.handleLine(handler, a, mustParse(t, "HISTORY "+model.GlobalChatName+" 2000-01-01 2100-01-01"))

	got := drainQueue(a)
	want := "HISTORY " + model.GlobalChatName + " :logged line"
	if len(got) != 1 || got[0] != want {
		t.Errorf("requester queue = %v, want [%q]", got, want)
	}
	if other := drainQueue(b); len(other) != 0 {
		t.Errorf("bystander queue = %v, want empty", other)
	}
}

func TestHandleConnCleansUpOnEOF(t *testing.T) {
	srv, _, handler := newTestServer(t)

	conn := &scriptConn{script: []string{
		"REGISTER alice secret",
		"JOIN #room",
	}}
	srv.handleConn(handler, conn)

	if got := srv.sessions.Count(); got != 0 {
		t.Errorf("sessions after EOF = %d, want 0", got)
	}
	if srv.channels.Exists("#room") {
		t.Error("empty channel survived disconnect")
	}
	if got := srv.metrics.ActiveConnections.Load(); got != 0 {
		t.Errorf("ActiveConnections = %d, want 0", got)
	}
	if got := srv.metrics.TotalDisconnects.Load(); got != 1 {
		t.Errorf("TotalDisconnects = %d, want 1", got)
	}
}

func TestHandleConnQuitClosesConnection(t *testing.T) {
	srv, _, handler := newTestServer(t)

	conn := &scriptConn{script: []string{
		"JOIN #room",
		"QUIT",
		"JOIN #after", // never reaches the dispatcher
	}}
	srv.handleConn(handler, conn)

	if !conn.isClosed() {
		t.Error("QUIT did not close the connection")
	}
	if srv.channels.Exists("#after") {
		t.Error("command after QUIT was processed")
	}
	if got := srv.sessions.Count(); got != 0 {
		t.Errorf("sessions after QUIT = %d, want 0", got)
	}
	if got := srv.metrics.TotalDisconnects.Load(); got != 1 {
		t.Errorf("TotalDisconnects = %d, want 1", got)
	}
}

func TestSlowPeerLosesLinesNotOthers(t *testing.T) {
	srv, _, handler := newTestServer(t)

	slow := newTestClient(t, srv, handler)
	fast := newTestClient(t, srv, handler)
	sender := newTestClient(t, srv, handler)
	identify(t, srv, handler, sender, "alice")

	for _, sc := range []*sessionConn{slow, fast, sender} {
		srv.handleLine(handler, sc, mustParse(t, "JOIN #room"))
	}
	drainQueue(slow)
	drainQueue(fast)
	drainQueue(sender)

	// Fill the slow peer's queue past capacity.
	for i := 0; i < sendQueueSize+5; i++ {
		srv.handleLine(handler, sender, mustParse(t, "PRIVMSG #room :flood"))
		drainQueue(fast)
	}
	srv.handleLine(handler, sender, mustParse(t, "PRIVMSG #room :final"))

	got := drainQueue(fast)
	want := "!alice PRIVMSG #room :final"
	if len(got) != 1 || got[0] != want {
		t.Errorf("fast peer queue = %v, want [%q]", got, want)
	}
	if srv.metrics.LinesDropped.Load() == 0 {
		t.Error("no dropped lines recorded for the slow peer")
	}
}
