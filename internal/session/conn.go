package session

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/vovakirdan/termchat-server/internal/core"
)

// ErrLineTooLong is returned when a peer sends a line longer than the limit.
var ErrLineTooLong = fmt.Errorf("line too long: %w", core.ErrConnection)

// Conn is a line-oriented client connection. Implementations must allow
// WriteLine and Close to be called concurrently with a blocked ReadLine.
type Conn interface {
	// ReadLine blocks until a full line arrives. The terminator is stripped.
	ReadLine() (string, error)
	// WriteLine writes one line, bounded by the write timeout.
	WriteLine(line string) error
	// SetReadDeadline bounds the next reads; the zero time clears it.
	SetReadDeadline(t time.Time) error
	// Ping checks the peer is still reachable without sending data.
	Ping() error
	RemoteAddr() string
	Close() error
}

// NetConn adapts a net.Conn (TCP or net.Pipe) to Conn.
type NetConn struct {
	conn         net.Conn
	scanner      *bufio.Scanner
	writeTimeout time.Duration
}

// NewNetConn wraps c. Lines longer than maxLine bytes fail with ErrLineTooLong.
func NewNetConn(c net.Conn, maxLine int, writeTimeout time.Duration) *NetConn {
	if maxLine <= 0 {
		maxLine = 1024
	}
	sc := bufio.NewScanner(c)
	// room for the terminator, possibly "\r\n"
	sc.Buffer(make([]byte, 0, min(maxLine+2, 4096)), maxLine+2)
	return &NetConn{conn: c, scanner: sc, writeTimeout: writeTimeout}
}

// ReadLine implements Conn.
func (c *NetConn) ReadLine() (string, error) {
	if !c.scanner.Scan() {
		err := c.scanner.Err()
		if errors.Is(err, bufio.ErrTooLong) {
			return "", ErrLineTooLong
		}
		if err == nil {
			return "", fmt.Errorf("peer closed: %w", core.ErrConnection)
		}
		return "", fmt.Errorf("read: %w", errors.Join(core.ErrConnection, err))
	}
	return c.scanner.Text(), nil
}

// WriteLine implements Conn.
func (c *NetConn) WriteLine(line string) error {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := c.conn.Write([]byte(line)); err != nil {
		return fmt.Errorf("write: %w", errors.Join(core.ErrConnection, err))
	}
	return nil
}

// SetReadDeadline implements Conn.
func (c *NetConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Ping performs a zero-length write.
func (c *NetConn) Ping() error {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.conn.Write(nil); err != nil {
		return fmt.Errorf("ping: %w", errors.Join(core.ErrConnection, err))
	}
	return nil
}

// RemoteAddr implements Conn.
func (c *NetConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Close implements Conn.
func (c *NetConn) Close() error {
	return c.conn.Close()
}
