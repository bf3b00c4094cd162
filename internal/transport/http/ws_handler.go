package http

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/termchat-server/internal/core"
	"github.com/vovakirdan/termchat-server/internal/session"
)

// WSHandler upgrades HTTP connections and runs them as chat sessions. Each
// text frame carries one protocol line in either direction.
type WSHandler struct {
	sessions     *session.Manager
	maxLine      int
	writeTimeout time.Duration
	log          *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(sessions *session.Manager, maxLine int, writeTimeout time.Duration, logger *zerolog.Logger) stdhttp.Handler {
	if maxLine <= 0 {
		maxLine = 1024
	}
	return &WSHandler{sessions: sessions, maxLine: maxLine, writeTimeout: writeTimeout, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	conn.SetReadLimit(int64(h.maxLine) + 2)

	wc := newWSConn(r.Context(), conn, r.RemoteAddr, h.writeTimeout)
	h.sessions.Serve(r.Context(), wc)
	wc.wait()
}

// wsConn adapts a WebSocket to session.Conn.
type wsConn struct {
	ctx          context.Context
	conn         *websocket.Conn
	remote       string
	writeTimeout time.Duration

	mu       sync.Mutex
	deadline time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConn(ctx context.Context, conn *websocket.Conn, remote string, writeTimeout time.Duration) *wsConn {
	return &wsConn{
		ctx:          ctx,
		conn:         conn,
		remote:       remote,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// ReadLine implements session.Conn. Binary frames are accepted as text.
func (c *wsConn) ReadLine() (string, error) {
	ctx := c.ctx
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	_, data, err := c.conn.Read(ctx)
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) && ce.Code == websocket.StatusMessageTooBig {
			return "", session.ErrLineTooLong
		}
		return "", fmt.Errorf("read: %w", errors.Join(core.ErrConnection, err))
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// WriteLine implements session.Conn.
func (c *wsConn) WriteLine(line string) error {
	ctx, cancel := c.writeContext()
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, []byte(strings.TrimSuffix(line, "\n"))); err != nil {
		return fmt.Errorf("write: %w", errors.Join(core.ErrConnection, err))
	}
	return nil
}

// SetReadDeadline implements session.Conn.
func (c *wsConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

// Ping sends a websocket ping. The pong is consumed by the session's read loop.
func (c *wsConn) Ping() error {
	ctx, cancel := c.writeContext()
	defer cancel()
	if err := c.conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", errors.Join(core.ErrConnection, err))
	}
	return nil
}

// RemoteAddr implements session.Conn.
func (c *wsConn) RemoteAddr() string { return c.remote }

// Close starts the closing handshake without waiting for the peer; a blocked
// ReadLine returns once it completes or times out.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		go func() {
			defer close(c.closed)
			_ = c.conn.Close(websocket.StatusNormalClosure, "")
		}()
	})
	return nil
}

// wait blocks until the closing handshake has finished.
func (c *wsConn) wait() {
	_ = c.Close()
	<-c.closed
}

func (c *wsConn) writeContext() (context.Context, context.CancelFunc) {
	if c.writeTimeout > 0 {
		return context.WithTimeout(c.ctx, c.writeTimeout)
	}
	return context.WithCancel(c.ctx)
}
