package server

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/ircline/pkg/datastore"
	"github.com/NicolasHaas/ircline/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsLineConn adapts a WebSocket connection to lineConn. One text message
// carries exactly one protocol line, without the CRLF terminator.
type wsLineConn struct {
	conn *websocket.Conn
}

func (c *wsLineConn) ReadLine() (string, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return "", io.EOF
		}
		return "", err
	}
	if len(data) > protocol.MaxLineLength {
		return "", fmt.Errorf("server: line exceeds %d bytes", protocol.MaxLineLength)
	}
	return string(data), nil
}

func (c *wsLineConn) WriteLine(line string) error {
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsLineConn) Close() error {
	return c.conn.Close()
}

func (c *wsLineConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// StartWS starts the WebSocket transport. It speaks the same line protocol
// as the TCP listener, so browser clients share the dispatch path.
func (s *Server) StartWS(st datastore.DataProviderFactory) error {
	if s.cfg.WSAddr == "" {
		return nil // WebSocket transport disabled
	}

	ln, err := net.Listen("tcp", s.cfg.WSAddr)
	if err != nil {
		return fmt.Errorf("server: listen ws: %w", err)
	}
	s.wsLn = ln

	if s.handler == nil {
		s.handler = newControlHandler(s, st)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("websocket listener up", "addr", s.cfg.WSAddr)

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			select {
			case <-s.ctx.Done():
			default:
				slog.Error("websocket serve error", "err", err)
			}
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()

	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	go s.handleConn(s.handler, &wsLineConn{conn: conn})
}
