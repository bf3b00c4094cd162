package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/termchat-server/internal/auth"
	"github.com/vovakirdan/termchat-server/internal/core"
)

var roomIDPattern = regexp.MustCompile(`ID: ([0-9a-f]{8})$`)

func (s *testServer) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.ts.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

// readUntil reads text frames until one starts with prefix.
func readUntil(ctx context.Context, t *testing.T, conn *websocket.Conn, prefix string) string {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for %q: %v", prefix, err)
		}
		if line := string(data); strings.HasPrefix(line, prefix) {
			return line
		}
	}
}

func writeLine(ctx context.Context, t *testing.T, conn *websocket.Conn, line string) {
	t.Helper()
	if err := conn.Write(ctx, websocket.MessageText, []byte(line)); err != nil {
		t.Fatalf("write %q: %v", line, err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := startTestServer(t)

	resp := s.get(t, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	s := startTestServer(t)

	otherToken, err := auth.GenerateToken(&auth.JWTConfig{
		Secret:   []byte("other-secret"),
		Issuer:   s.cfg.JWTIssuer,
		Audience: s.cfg.JWTAudience,
		TTL:      time.Hour,
	}, "ops")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", otherToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.get(t, "/api/stats", tt.token)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", resp.StatusCode)
			}
		})
	}

	if resp := s.get(t, "/api/stats", s.token(t)); resp.StatusCode != http.StatusOK {
		t.Fatalf("valid token rejected: %d", resp.StatusCode)
	}
}

func TestAPIDisabledWithoutSecret(t *testing.T) {
	router := gin.New()
	router.Use(AuthMiddleware(&auth.JWTConfig{}, nil))
	router.GET("/api/stats", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRoomEndpoints(t *testing.T) {
	s := startTestServer(t)
	ctx := context.Background()

	roomID, err := s.deps.Rooms.CreateRoom(ctx, "lobby", "alice", "")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := s.deps.Rooms.Broadcast(roomID, "hello", "alice"); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	token := s.token(t)

	resp := s.get(t, "/api/rooms", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var rooms []core.RoomSummary
	decode(t, resp, &rooms)
	if len(rooms) != 1 || rooms[0].ID != roomID || rooms[0].Admin != "alice" {
		t.Fatalf("unexpected rooms: %+v", rooms)
	}

	resp = s.get(t, "/api/rooms/"+roomID+"?history=5", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var room RoomResponse
	decode(t, resp, &room)
	if room.Name != "lobby" || len(room.History) != 1 || room.History[0].Sender != "alice" {
		t.Fatalf("unexpected room: %+v", room)
	}
	if !strings.HasSuffix(room.History[0].Line, "] alice: hello") {
		t.Fatalf("line = %q", room.History[0].Line)
	}

	if resp := s.get(t, "/api/rooms/deadbeef", token); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing room status = %d, want 404", resp.StatusCode)
	}
	if resp := s.get(t, "/api/rooms/"+roomID+"?history=abc", token); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad history status = %d, want 400", resp.StatusCode)
	}
}

func TestUserEndpointNotFound(t *testing.T) {
	s := startTestServer(t)

	if resp := s.get(t, "/api/users/nobody", s.token(t)); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestWebSocketSessionFlow(t *testing.T) {
	s := startTestServer(t)
	token := s.token(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(s.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	readUntil(ctx, t, conn, "AUTH_REQUIRED")
	writeLine(ctx, t, conn, "LOGIN:alice")
	readUntil(ctx, t, conn, "NEW_USER:")
	writeLine(ctx, t, conn, "y")
	readUntil(ctx, t, conn, "PASSWORD_NEW:")
	writeLine(ctx, t, conn, "secret1")
	readUntil(ctx, t, conn, "SUCCESS:")
	readUntil(ctx, t, conn, "=== ДОБРО ПОЖАЛОВАТЬ")

	writeLine(ctx, t, conn, "/create lobby")
	created := readUntil(ctx, t, conn, "Комната 'lobby' создана!")
	m := roomIDPattern.FindStringSubmatch(created)
	if m == nil {
		t.Fatalf("no room id in %q", created)
	}
	roomID := m[1]

	writeLine(ctx, t, conn, "hello over websocket")
	// lines are handled in order, so the help reply means the message is accounted for
	writeLine(ctx, t, conn, "/help")
	readUntil(ctx, t, conn, "=== КОМАНДЫ ЧАТА ===")

	var stats StatsResponse
	decode(t, s.get(t, "/api/stats", token), &stats)
	if stats.Online != 1 || stats.Rooms != 1 || stats.Users != 1 || stats.MessagesSent != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	var user UserResponse
	decode(t, s.get(t, "/api/users/alice", token), &user)
	if !user.Online || user.Room != roomID || user.Messages != 1 {
		t.Fatalf("unexpected user: %+v", user)
	}

	var entries []AuditEntryResponse
	decode(t, s.get(t, "/api/audit?user=alice&limit=50", token), &entries)
	actions := make(map[string]bool)
	for _, e := range entries {
		actions[e.Action] = true
	}
	for _, want := range []string{"register", "connect"} {
		if !actions[want] {
			t.Errorf("audit trail missing %q: %+v", want, entries)
		}
	}
}
