package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/NicolasHaas/ircline/pkg/datastore"
	"github.com/NicolasHaas/ircline/pkg/model"
	"github.com/NicolasHaas/ircline/pkg/protocol"
)

// lineConn is one client connection speaking the line protocol, regardless
// of transport (TCP or WebSocket).
type lineConn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
	RemoteAddr() string
}

// tcpLineConn adapts a net.Conn to lineConn with buffered CRLF framing.
type tcpLineConn struct {
	conn net.Conn
	r    *bufio.Reader
}

func newTCPLineConn(conn net.Conn) *tcpLineConn {
	return &tcpLineConn{
		conn: conn,
		r:    bufio.NewReaderSize(conn, protocol.MaxLineLength),
	}
}

func (c *tcpLineConn) ReadLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) > protocol.MaxLineLength {
		return "", fmt.Errorf("server: line exceeds %d bytes", protocol.MaxLineLength)
	}
	return line, nil
}

func (c *tcpLineConn) WriteLine(line string) error {
	_, err := c.conn.Write([]byte(line + protocol.CRLF))
	return err
}

func (c *tcpLineConn) Close() error {
	return c.conn.Close()
}

func (c *tcpLineConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// sendQueueSize bounds the per-session outbound queue. A peer that cannot
// drain this many lines starts losing broadcasts instead of wedging senders.
const sendQueueSize = 64

// sessionConn pairs a transport connection with its outbound queue. All
// writes go through the queue so broadcasts never block on a slow peer.
type sessionConn struct {
	id   uint32
	conn lineConn
	send chan string
	done chan struct{}
	once sync.Once
}

func newSessionConn(id uint32, conn lineConn) *sessionConn {
	return &sessionConn{
		id:   id,
		conn: conn,
		send: make(chan string, sendQueueSize),
		done: make(chan struct{}),
	}
}

// writePump drains the send queue onto the wire. Runs as one goroutine per
// session, which preserves per-sender line order for this recipient.
func (sc *sessionConn) writePump() {
	for {
		select {
		case <-sc.done:
			return
		case line := <-sc.send:
			if err := sc.conn.WriteLine(line); err != nil {
				slog.Debug("write failed, closing session", "session", sc.id, "err", err)
				sc.close()
				return
			}
		}
	}
}

// enqueue queues one outbound line. Reports false when the queue is full
// and the line was dropped.
func (sc *sessionConn) enqueue(line string) bool {
	select {
	case sc.send <- line:
		return true
	default:
		return false
	}
}

// close shuts the session down exactly once: the write pump exits and the
// underlying connection closes, which unblocks the read loop.
func (sc *sessionConn) close() {
	sc.once.Do(func() {
		close(sc.done)
		_ = sc.conn.Close()
	})
}

// ControlHandler routes inbound lines and owns the session -> connection map
// used for broadcasting.
type ControlHandler struct {
	server *Server
	store  datastore.DataProviderFactory

	mu      sync.RWMutex
	connMap map[uint32]*sessionConn // sessionID -> connection for sending
}

// newControlHandler creates a control handler.
func newControlHandler(srv *Server, st datastore.DataProviderFactory) *ControlHandler {
	return &ControlHandler{
		server:  srv,
		store:   st,
		connMap: make(map[uint32]*sessionConn),
	}
}

func (ch *ControlHandler) setConn(sessionID uint32, sc *sessionConn) {
	ch.mu.Lock()
	ch.connMap[sessionID] = sc
	ch.mu.Unlock()
}

func (ch *ControlHandler) removeConn(sessionID uint32) {
	ch.mu.Lock()
	delete(ch.connMap, sessionID)
	ch.mu.Unlock()
}

// broadcastToChannel queues a line for every member of a channel except the
// excluded session. Slow members lose the line rather than stall the rest.
func (ch *ControlHandler) broadcastToChannel(channel, line string, excludeSession uint32) {
	members := ch.server.channels.Members(channel)
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	for _, sid := range members {
		if sid == excludeSession {
			continue
		}
		sc, ok := ch.connMap[sid]
		if !ok {
			continue
		}
		if !sc.enqueue(line) {
			ch.server.metrics.LinesDropped.Add(1)
			slog.Warn("send queue full, dropping line", "session", sid, "channel", channel)
		}
	}
}

// StartControl starts the plain TCP line listener.
func (s *Server) StartControl(st datastore.DataProviderFactory) error {
	ln, err := net.Listen("tcp", s.cfg.ControlAddr)
	if err != nil {
		return fmt.Errorf("server: listen control: %w", err)
	}
	s.controlLn = ln

	if s.handler == nil {
		s.handler = newControlHandler(s, st)
	}
	slog.Info("control listener up", "addr", s.cfg.ControlAddr)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					slog.Error("accept error", "err", err)
					continue
				}
			}
			go s.handleConn(s.handler, newTCPLineConn(conn))
		}
	}()

	return nil
}

// handleConn handles one connection lifecycle: anonymous session creation,
// the read loop, and cleanup on any exit path (QUIT, EOF, error).
func (s *Server) handleConn(handler *ControlHandler, conn lineConn) {
	remoteAddr := conn.RemoteAddr()
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	slog.Debug("new connection", "remote", remoteAddr)

	session := s.sessions.Create(remoteAddr)
	sc := newSessionConn(session.ID, conn)
	handler.setConn(session.ID, sc)
	go sc.writePump()

	defer func() {
		left := s.channels.UnsubscribeAll(session.ID)
		handler.removeConn(session.ID)
		s.sessions.Remove(session.ID)
		sc.close()
		s.metrics.ActiveConnections.Add(-1)
		s.metrics.TotalDisconnects.Add(1)
		slog.Info("client disconnected", "remote", remoteAddr, "session", session.ID, "channels_left", len(left))
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		raw, err := conn.ReadLine()
		if err != nil {
			if err == io.EOF || isClosedErr(err) {
				return
			}
			slog.Error("read error", "remote", remoteAddr, "err", err)
			return
		}
		if strings.TrimRight(raw, "\r\n") == "" {
			continue
		}

		line, err := protocol.ParseLine(raw)
		if err != nil {
			slog.Warn("malformed line", "remote", remoteAddr, "err", err)
			continue
		}

		s.handleLine(handler, sc, line)
	}
}

// commandArity is the exact positional argument count per command. Lines
// with any other count are dropped without a reply. QUIT is exempt and
// ignores whatever follows it.
var commandArity = map[protocol.Command]int{
	protocol.CmdRegister: 2,
	protocol.CmdIdentify: 2,
	protocol.CmdJoin:     1,
	protocol.CmdPrivmsg:  1,
	protocol.CmdHistory:  3,
	protocol.CmdQuit:     0,
}

// handleLine dispatches one parsed line. Unknown commands and bad arity are
// logged and dropped: the protocol never answers errors to the client.
func (s *Server) handleLine(handler *ControlHandler, sc *sessionConn, line protocol.Line) {
	arity, ok := commandArity[line.Command]
	if !ok {
		s.metrics.UnknownCommands.Add(1)
		slog.Warn("unknown command", "command", line.Command, "session", sc.id)
		return
	}
	if len(line.Args) != arity && line.Command != protocol.CmdQuit {
		slog.Debug("dropping command with argument count mismatch",
			"command", line.Command, "got", len(line.Args), "want", arity, "session", sc.id)
		return
	}

	switch line.Command {
	case protocol.CmdRegister:
		s.handleRegister(handler, sc, line.Args[0], line.Args[1])
	case protocol.CmdIdentify:
		s.handleIdentify(handler, sc, line.Args[0], line.Args[1])
	case protocol.CmdJoin:
		s.handleJoin(handler, sc, line.Args[0])
	case protocol.CmdPrivmsg:
		s.handlePrivmsg(handler, sc, line.Args[0], line.Trailing)
	case protocol.CmdHistory:
		s.handleHistory(handler, sc, line.Args[0], line.Args[1], line.Args[2])
	case protocol.CmdQuit:
		s.handleQuit(sc)
	}
}

func (s *Server) handleRegister(handler *ControlHandler, sc *sessionConn, nick, password string) {
	tx, err := handler.store.Tx(context.Background())
	if err != nil {
		slog.Error("registration tx failed", "err", err)
		return
	}

	ok, err := tx.RegisterUser(nick, password)
	if err != nil {
		slog.Warn("registration rejected", "nick", nick, "err", err)
		return
	}
	if !ok {
		s.metrics.FailedAuths.Add(1)
		slog.Debug("nick already registered", "nick", nick, "session", sc.id)
		return
	}

	s.sessions.SetIdentified(sc.id, nick)
	s.metrics.Registrations.Add(1)
	s.metrics.SuccessfulAuths.Add(1)
	slog.Info("user registered", "nick", nick, "session", sc.id)
}

func (s *Server) handleIdentify(handler *ControlHandler, sc *sessionConn, nick, password string) {
	ok, err := handler.store.NonTx().VerifyUser(nick, password)
	if err != nil {
		slog.Error("identify lookup failed", "nick", nick, "err", err)
		return
	}
	if !ok {
		s.metrics.FailedAuths.Add(1)
		slog.Debug("identify failed", "nick", nick, "session", sc.id)
		return
	}

	s.sessions.SetIdentified(sc.id, nick)
	s.metrics.SuccessfulAuths.Add(1)
	slog.Info("user identified", "nick", nick, "session", sc.id)
}

func (s *Server) handleJoin(handler *ControlHandler, sc *sessionConn, channel string) {
	session, ok := s.sessions.GetSnapshot(sc.id)
	if !ok {
		return
	}

	s.channels.Subscribe(channel, sc.id)
	s.metrics.Joins.Add(1)
	slog.Debug("session joined channel", "channel", channel, "session", sc.id)

	// Join notices go to every member including the joiner.
	notice := protocol.FormatNotice(session.Prefix(), protocol.CmdJoin, channel, "")
	handler.broadcastToChannel(channel, notice, 0)
}

func (s *Server) handlePrivmsg(handler *ControlHandler, sc *sessionConn, channel, text string) {
	session, ok := s.sessions.GetSnapshot(sc.id)
	if !ok {
		return
	}
	if !session.Identified {
		slog.Debug("privmsg from unidentified session dropped", "session", sc.id)
		return
	}
	// Empty text is delivered as-is; only the length cap drops a message.
	if len(text) > model.MessageMaxTextLength {
		slog.Debug("privmsg text too long, dropping", "session", sc.id)
		return
	}
	if !model.HasChannelSigil(channel) {
		slog.Debug("privmsg target missing channel sigil", "target", channel, "session", sc.id)
		return
	}
	if !s.channels.Exists(channel) {
		slog.Debug("privmsg to nonexistent channel dropped", "channel", channel, "session", sc.id)
		return
	}

	if err := handler.store.NonTx().StoreMessage(session.Nick, text); err != nil {
		// Persistence failure must not take delivery down with it.
		slog.Error("failed to store message", "nick", session.Nick, "err", err)
	} else {
		s.metrics.MessagesStored.Add(1)
	}

	notice := protocol.FormatMessage(session.Prefix(), protocol.CmdPrivmsg, channel, text)
	handler.broadcastToChannel(channel, notice, sc.id)
	s.metrics.MessagesSent.Add(1)
}

func (s *Server) handleHistory(handler *ControlHandler, sc *sessionConn, channel, beginStr, endStr string) {
	begin, err := protocol.ParseTime(beginStr)
	if err != nil {
		slog.Debug("history begin bound unparseable", "value", beginStr, "session", sc.id)
		return
	}
	end, err := protocol.ParseTime(endStr)
	if err != nil {
		slog.Debug("history end bound unparseable", "value", endStr, "session", sc.id)
		return
	}

	texts, err := handler.store.NonTx().GetMessages(channel, begin, end)
	if err != nil {
		slog.Error("history query failed", "channel", channel, "err", err)
		return
	}

	s.metrics.HistoryQueries.Add(1)
	// History replies go only to the requester.
	for _, text := range texts {
		line := fmt.Sprintf("%s %s :%s", protocol.CmdHistory, channel, text)
		if !sc.enqueue(line) {
			s.metrics.LinesDropped.Add(1)
			slog.Warn("send queue full, dropping history line", "session", sc.id)
			return
		}
	}
}

func (s *Server) handleQuit(sc *sessionConn) {
	slog.Debug("client quit", "session", sc.id)
	// Closing the connection ends the read loop; the deferred cleanup in
	// handleConn does the rest, so QUIT and EOF share one teardown path.
	sc.close()
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
