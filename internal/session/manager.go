// Package session drives every client connection through the
// connect/authenticate/active/closed lifecycle and keeps the single live
// session per username.
package session

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/termchat-server/internal/audit"
	"github.com/vovakirdan/termchat-server/internal/core"
	"github.com/vovakirdan/termchat-server/internal/stats"
	"github.com/vovakirdan/termchat-server/internal/users"
	"github.com/vovakirdan/termchat-server/internal/utils"
)

// Notices pushed to clients outside the request/response flow.
const (
	NoticeOverload = "Сервер перегружен. Попробуйте позже."
	NoticeShutdown = "Сервер завершает работу. Соединение будет разорвано."
	NoticeTakeover = "Выполнен вход с другого подключения. Соединение будет разорвано."
)

var welcomeLines = []string{
	"=== ДОБРО ПОЖАЛОВАТЬ В МНОГОПОЛЬЗОВАТЕЛЬСКИЙ ЧАТ ===",
	"Используйте /help для получения списка команд",
	"Используйте /list для просмотра доступных комнат",
	"Используйте /create <название> для создания новой комнаты",
}

// Handler processes one line from an active session. Returning true ends the session.
type Handler interface {
	HandleLine(ctx context.Context, s *Session, line string) (quit bool)
}

// Options tunes connection admission and the handshake.
type Options struct {
	MaxConnections    int
	HandshakeTimeout  time.Duration
	MaxAuthAttempts   int
	MessagesPerMinute int
}

// Manager owns the session tables. Sessions are keyed by connection id and,
// once authenticated, by username.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byName   map[string]*Session
	closing  bool
	wg       sync.WaitGroup

	users   *users.Directory
	rooms   *core.Registry
	stats   *stats.Counters
	audit   *audit.Recorder
	handler Handler
	opts    Options
	log     *zerolog.Logger
}

// NewManager wires the manager to its collaborators. counters and recorder may be nil.
func NewManager(dir *users.Directory, reg *core.Registry, counters *stats.Counters, recorder *audit.Recorder, handler Handler, logger *zerolog.Logger, opts Options) *Manager {
	if counters == nil {
		counters = stats.New()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Manager{
		sessions: make(map[string]*Session),
		byName:   make(map[string]*Session),
		users:    dir,
		rooms:    reg,
		stats:    counters,
		audit:    recorder,
		handler:  handler,
		opts:     opts,
		log:      logger,
	}
}

// Serve runs conn through the full session lifecycle and returns once it is
// closed. Transports call it on its own goroutine per connection.
func (m *Manager) Serve(ctx context.Context, conn Conn) {
	s := newSession(utils.NewID(), conn, newRateLimiter(m.opts.MessagesPerMinute, time.Minute, nil), m.log)
	if notice, ok := m.admit(s); !ok {
		s.log.Warn().Msg("connection rejected")
		s.Close(notice)
		return
	}
	defer m.finish(ctx, s)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("session handler panicked")
		}
	}()

	m.stats.TotalConnections.Add(1)
	m.stats.ActiveConnections.Add(1)
	s.log.Info().Msg("connection accepted")

	go func() {
		select {
		case <-ctx.Done():
			s.Close(NoticeShutdown)
		case <-s.Done():
		}
	}()

	s.setState(StateAuthenticating)
	if m.opts.HandshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(m.opts.HandshakeTimeout))
	}
	username, err := m.authenticate(ctx, s)
	if err != nil {
		s.log.Info().Err(err).Msg("handshake failed")
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	if !m.install(ctx, s, username) {
		return
	}
	m.audit.Record(ctx, username, audit.ActionConnect, s.remote)
	if err := s.SendLines(welcomeLines...); err != nil {
		return
	}
	m.readLoop(ctx, s)
}

func (m *Manager) admit(s *Session) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return NoticeShutdown, false
	}
	if m.opts.MaxConnections > 0 && len(m.sessions) >= m.opts.MaxConnections {
		return NoticeOverload, false
	}
	m.sessions[s.id] = s
	m.wg.Add(1)
	return "", true
}

// install binds s to username. The table swap happens under the lock; an
// existing session for the same username is closed and released from its
// room afterwards, before s can issue any command. Leave only removes a
// membership that still belongs to old's connection, so s is never affected.
func (m *Manager) install(ctx context.Context, s *Session, username string) bool {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return false
	}
	old := m.byName[username]
	if old == s {
		old = nil
	}
	s.setName(username)
	s.setState(StateActive)
	m.byName[username] = s
	m.mu.Unlock()

	if old != nil {
		old.Close(NoticeTakeover)
		m.rooms.Leave(old)
		s.log.Info().Str("user", username).Str("previous", old.id).Msg("session taken over")
		m.audit.Record(ctx, username, audit.ActionTakeover, old.remote)
	}
	s.log.Info().Str("user", username).Msg("session active")
	return true
}

func (m *Manager) readLoop(ctx context.Context, s *Session) {
	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			if s.State() != StateClosed {
				s.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if m.handler.HandleLine(ctx, s, line) {
			return
		}
	}
}

// finish releases everything s holds. Room membership goes first so a member
// never outlives its session.
func (m *Manager) finish(ctx context.Context, s *Session) {
	defer m.wg.Done()

	s.Close("")
	name := s.Name()
	if name != "" {
		if m.isClosing() {
			m.rooms.Drop(s)
		} else {
			m.rooms.Leave(s)
		}
	}

	m.mu.Lock()
	delete(m.sessions, s.id)
	if name != "" && m.byName[name] == s {
		delete(m.byName, name)
	}
	m.mu.Unlock()

	m.stats.ActiveConnections.Add(-1)
	if name != "" {
		m.audit.Record(ctx, name, audit.ActionDisconnect, s.remote)
	}
	s.log.Info().Str("user", name).Dur("duration", time.Since(s.connectedAt)).Msg("connection closed")
}

func (m *Manager) isClosing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closing
}

func (m *Manager) snapshot() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Sweep pings every connection and closes the ones that fail. The owning
// Serve call then runs the normal disconnect cleanup. It returns the number
// of connections reaped.
func (m *Manager) Sweep() int {
	reaped := 0
	for _, s := range m.snapshot() {
		if s.State() == StateClosed {
			continue
		}
		if err := s.ping(); err != nil {
			s.log.Info().Err(err).Str("user", s.Name()).Msg("dead connection reaped")
			s.Close("")
			reaped++
		}
	}
	return reaped
}

// Shutdown stops admitting connections, notifies and closes every session, and
// waits for their cleanup to finish or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	all := m.snapshot()
	var notify sync.WaitGroup
	for _, s := range all {
		notify.Add(1)
		go func(s *Session) {
			defer notify.Done()
			s.Close(NoticeShutdown)
		}(s)
	}
	notify.Wait()
	m.log.Info().Int("sessions", len(all)).Msg("sessions notified of shutdown")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lookup returns the active session for username.
func (m *Manager) Lookup(username string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byName[username]
	return s, ok
}

// Online returns the number of authenticated sessions.
func (m *Manager) Online() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byName)
}

// Connections returns the number of live connections, authenticated or not.
func (m *Manager) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
