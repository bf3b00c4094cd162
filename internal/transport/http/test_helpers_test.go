package http

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/vovakirdan/termchat-server/internal/audit"
	"github.com/vovakirdan/termchat-server/internal/auth"
	"github.com/vovakirdan/termchat-server/internal/command"
	"github.com/vovakirdan/termchat-server/internal/config"
	"github.com/vovakirdan/termchat-server/internal/core"
	"github.com/vovakirdan/termchat-server/internal/session"
	"github.com/vovakirdan/termchat-server/internal/stats"
	"github.com/vovakirdan/termchat-server/internal/store/sqlite"
	"github.com/vovakirdan/termchat-server/internal/users"
)

const testSecret = "test-secret"

type testServer struct {
	ts     *httptest.Server
	deps   Deps
	cfg    config.Config
	cancel context.CancelFunc
}

// startTestServer wires the whole chat stack behind an httptest server. The
// audit trail lives in an in-memory SQLite database.
func startTestServer(t *testing.T) *testServer {
	t.Helper()

	auditStore, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(func() { _ = auditStore.Close() })

	counters := stats.New()
	rooms := core.NewRegistry(nil, counters, nil, core.DefaultRegistryOptions())
	dir := users.NewDirectory(nil, counters, nil, users.Options{BcryptCost: bcrypt.MinCost})
	recorder := audit.NewRecorder(auditStore, nil)
	dispatcher := command.New(rooms, dir, counters, recorder, nil)
	sessions := session.NewManager(dir, rooms, counters, recorder, dispatcher, nil, session.Options{
		MaxConnections:   10,
		HandshakeTimeout: 5 * time.Second,
		MaxAuthAttempts:  3,
	})

	cfg := config.Default()
	cfg.HTTPAddr = ":0"
	cfg.JWTSecret = testSecret
	cfg.ReadHeaderTimeout = time.Second

	deps := Deps{Rooms: rooms, Users: dir, Sessions: sessions, Stats: counters, Audit: recorder}
	server := NewServer(deps, cfg, nil)
	ts := httptest.NewServer(server.Handler)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(ctx, 2*time.Second)
		defer done()
		_ = sessions.Shutdown(shutdownCtx)
		cancel()
		ts.Close()
	})

	return &testServer{ts: ts, deps: deps, cfg: cfg, cancel: cancel}
}

func (s *testServer) token(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateToken(&auth.JWTConfig{
		Secret:   []byte(s.cfg.JWTSecret),
		Issuer:   s.cfg.JWTIssuer,
		Audience: s.cfg.JWTAudience,
		TTL:      time.Hour,
	}, "ops")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}
