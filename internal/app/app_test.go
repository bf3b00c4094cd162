package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/vovakirdan/termchat-server/internal/config"
	"github.com/vovakirdan/termchat-server/internal/session"
	"github.com/vovakirdan/termchat-server/internal/store"
)

var roomIDPattern = regexp.MustCompile(`ID: ([0-9a-f]{8})$`)

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) send(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("write %q: %v", line, err)
	}
}

func (c *client) expect(want string) string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			c.t.Fatalf("waiting for %q: %v", want, err)
		}
		if line = strings.TrimRight(line, "\r\n"); strings.Contains(line, want) {
			return line
		}
	}
}

// expectEOF drains the connection until the server closes it.
func (c *client) expectEOF() {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, err := c.r.ReadString('\n'); err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				c.t.Fatal("connection still open")
			}
			return
		}
	}
}

func (c *client) register(name, password string) {
	c.t.Helper()
	c.expect("AUTH_REQUIRED")
	c.send("LOGIN:" + name)
	c.expect("NEW_USER:")
	c.send("y")
	c.expect("PASSWORD_NEW:")
	c.send(password)
	c.expect("SUCCESS:")
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.DataDir = t.TempDir()
	cfg.HTTPAddr = ""
	cfg.BcryptCost = bcrypt.MinCost
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func startApp(t *testing.T, cfg config.Config) (*App, context.CancelFunc, <-chan error) {
	t.Helper()
	logger := zerolog.Nop()
	a, err := New(context.Background(), cfg, &logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.ChatAddr() == nil {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("chat listener not bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return a, cancel, done
}

func TestShutdownNotifiesClientsAndSaves(t *testing.T) {
	cfg := testConfig(t)
	a, cancel, done := startApp(t, cfg)
	addr := a.ChatAddr().String()

	alice := dial(t, addr)
	alice.register("alice", "secret1")
	alice.send("/create Lounge")
	m := roomIDPattern.FindStringSubmatch(alice.expect("Комната 'Lounge' создана!"))
	if m == nil {
		t.Fatal("room id missing from create reply")
	}
	roomID := m[1]

	bob := dial(t, addr)
	bob.register("bob", "secret2")
	bob.send("/join " + roomID)
	alice.expect("bob присоединился к комнате")

	alice.send("hi")
	bob.expect("alice: hi")
	bob.send("hello")
	alice.expect("bob: hello")

	cancel()
	alice.expect(session.NoticeShutdown)
	bob.expect(session.NoticeShutdown)
	alice.expectEOF()
	bob.expectEOF()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	data, err := os.ReadFile(cfg.RoomsPath())
	if err != nil {
		t.Fatalf("read rooms file: %v", err)
	}
	var state store.RoomState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("decode rooms file: %v", err)
	}
	if len(state.Rooms) != 1 || state.Rooms[0].RoomID != roomID {
		t.Fatalf("unexpected rooms: %+v", state.Rooms)
	}

	history, err := a.rooms.History(roomID, 1000)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if got := len(state.Rooms[0].Messages); got != len(history) {
		t.Fatalf("persisted %d messages, registry holds %d", got, len(history))
	}
	chat := 0
	for _, msg := range state.Rooms[0].Messages {
		if strings.Contains(msg.Message, "покинул") {
			t.Errorf("shutdown must not announce departures: %q", msg.Message)
		}
		if msg.Sender != "" {
			chat++
		}
	}
	if chat != 2 {
		t.Fatalf("persisted %d chat messages, want 2", chat)
	}
	if state.Stats.MessagesSent != 2 {
		t.Fatalf("messages_sent = %d, want 2", state.Stats.MessagesSent)
	}
}

func TestRestartRestoresState(t *testing.T) {
	cfg := testConfig(t)
	a, cancel, done := startApp(t, cfg)

	alice := dial(t, a.ChatAddr().String())
	alice.register("alice", "secret1")
	alice.send("/create Lounge")
	alice.expect("Комната 'Lounge' создана!")

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	logger := zerolog.Nop()
	restarted, err := New(context.Background(), cfg, &logger)
	if err != nil {
		t.Fatalf("New after restart: %v", err)
	}
	t.Cleanup(restarted.closeAudit)

	if restarted.rooms.Len() != 1 {
		t.Fatalf("rooms = %d, want 1", restarted.rooms.Len())
	}
	if !restarted.users.Authenticate(context.Background(), "alice", "secret1") {
		t.Fatal("alice cannot log in after restart")
	}
	if restarted.users.Authenticate(context.Background(), "alice", "wrong-pass") {
		t.Fatal("wrong password accepted after restart")
	}
}
