package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/termchat-server/internal/core"
)

// State is a connection's position in the session lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var errSessionClosed = fmt.Errorf("session closed: %w", core.ErrConnection)

// Session binds one connection to an authenticated username. It implements
// core.Member.
type Session struct {
	id     string
	conn   Conn
	remote string

	mu       sync.RWMutex
	username string

	state     atomic.Int32
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}

	limiter     *rateLimiter
	connectedAt time.Time
	log         zerolog.Logger
}

func newSession(id string, conn Conn, limiter *rateLimiter, logger *zerolog.Logger) *Session {
	s := &Session{
		id:          id,
		conn:        conn,
		remote:      conn.RemoteAddr(),
		done:        make(chan struct{}),
		limiter:     limiter,
		connectedAt: time.Now(),
	}
	s.log = logger.With().Str("session", id).Str("remote", s.remote).Logger()
	return s
}

// ID implements core.Member.
func (s *Session) ID() string { return s.id }

// Name implements core.Member. It is empty until authentication succeeds.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) setName(username string) {
	s.mu.Lock()
	s.username = username
	s.mu.Unlock()
}

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string { return s.remote }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Send implements core.Member. Writes are serialized per connection.
func (s *Session) Send(line string) error {
	if s.State() == StateClosed {
		return errSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteLine(line)
}

// SendLines writes each line in order, stopping at the first failure.
func (s *Session) SendLines(lines ...string) error {
	for _, line := range lines {
		if err := s.Send(line); err != nil {
			return err
		}
	}
	return nil
}

// Allow reports whether the session may send another chat message now.
func (s *Session) Allow() bool { return s.limiter.allow() }

// Close delivers an optional final notice and closes the connection. A blocked
// ReadLine returns with an error. Safe to call more than once.
func (s *Session) Close(notice string) {
	s.closeOnce.Do(func() {
		if notice != "" {
			s.writeMu.Lock()
			if err := s.conn.WriteLine(notice); err != nil {
				s.log.Debug().Err(err).Msg("final notice not delivered")
			}
			s.writeMu.Unlock()
		}
		s.setState(StateClosed)
		if err := s.conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("close connection")
		}
		close(s.done)
	})
}

func (s *Session) ping() error {
	if s.State() == StateClosed {
		return errSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Ping()
}
