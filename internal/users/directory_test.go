package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/vovakirdan/termchat-server/internal/core"
	"github.com/vovakirdan/termchat-server/internal/store"
)

type memoryUserStore struct {
	mu    sync.Mutex
	state *store.UserState
	saves int
}

func (m *memoryUserStore) LoadUsers(context.Context) (*store.UserState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, store.ErrNotFound
	}
	return m.state, nil
}

func (m *memoryUserStore) SaveUsers(_ context.Context, state *store.UserState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.saves++
	return nil
}

func newTestDirectory(st store.UserStore) *Directory {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return NewDirectory(st, nil, nil, Options{
		BcryptCost: bcrypt.MinCost,
		Now:        func() time.Time { return now },
	})
}

func TestRegisterAndAuthenticate(t *testing.T) {
	st := &memoryUserStore{}
	d := newTestDirectory(st)
	ctx := context.Background()

	profile, err := d.Register(ctx, "Alice", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if profile.Username != "alice" {
		t.Fatalf("username not case-folded: %q", profile.Username)
	}
	if st.saves != 1 {
		t.Fatalf("register must persist synchronously, saves=%d", st.saves)
	}
	if st.state.Users[0].PasswordHash == "secret1" {
		t.Fatal("password stored in clear text")
	}

	if d.Authenticate(ctx, "alice", "wrong") {
		t.Fatal("wrong password accepted")
	}
	if d.Authenticate(ctx, "nobody", "secret1") {
		t.Fatal("unknown user accepted")
	}
	if !d.Authenticate(ctx, "alice", "secret1") {
		t.Fatal("correct password rejected")
	}
	p, _ := d.Profile("alice")
	if p.LastLogin.IsZero() {
		t.Fatal("last login not recorded")
	}
	if st.state.Users[0].LastLogin == nil {
		t.Fatal("last login not persisted")
	}
}

func TestRegisterValidation(t *testing.T) {
	d := newTestDirectory(nil)
	ctx := context.Background()
	if _, err := d.Register(ctx, "alice", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{"too short", "al", "secret1", core.ErrInvalidUsername},
		{"bad charset", "al ice", "secret1", core.ErrInvalidUsername},
		{"short password", "bob", "123", core.ErrInvalidPassword},
		{"duplicate", "ALICE", "secret1", core.ErrUserExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Register(ctx, tt.username, tt.password); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if d.Len() != 1 {
		t.Fatalf("expected 1 user, got %d", d.Len())
	}
}

func TestRecordMessageTruncates(t *testing.T) {
	d := newTestDirectory(nil)
	ctx := context.Background()
	if _, err := d.Register(ctx, "alice", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < MessageLogLimit+5; i++ {
		if err := d.RecordMessage(ctx, "alice", "r1", fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("RecordMessage: %v", err)
		}
	}
	all, _ := d.MessageHistory("alice", 0)
	if len(all) != MessageLogLimit {
		t.Fatalf("expected %d messages, got %d", MessageLogLimit, len(all))
	}
	if all[0].Text != "m5" || all[len(all)-1].Text != fmt.Sprintf("m%d", MessageLogLimit+4) {
		t.Fatalf("oldest entries not dropped first: %s .. %s", all[0].Text, all[len(all)-1].Text)
	}

	if err := d.RecordMessage(ctx, "ghost", "r1", "x"); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestRecordRoomVisit(t *testing.T) {
	d := newTestDirectory(nil)
	ctx := context.Background()
	if _, err := d.Register(ctx, "alice", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < RoomLogLimit+10; i++ {
		id := fmt.Sprintf("room%02d", i)
		if err := d.RecordRoomVisit(ctx, "alice", id, "Room "+id); err != nil {
			t.Fatalf("RecordRoomVisit: %v", err)
		}
	}
	if err := d.RecordRoomVisit(ctx, "alice", "room30", "Room room30"); err != nil {
		t.Fatalf("RecordRoomVisit: %v", err)
	}

	visits, _ := d.RoomHistory("alice")
	if len(visits) != RoomLogLimit {
		t.Fatalf("expected %d visits, got %d", RoomLogLimit, len(visits))
	}
	if visits[0].RoomID != "room30" {
		t.Fatalf("most recent visit should be first, got %s", visits[0].RoomID)
	}
	seen := make(map[string]bool)
	for _, v := range visits {
		if seen[v.RoomID] {
			t.Fatalf("duplicate visit %s", v.RoomID)
		}
		seen[v.RoomID] = true
	}
	if seen["room00"] {
		t.Fatal("oldest visit should have been dropped")
	}
}

func TestDirectoryRestore(t *testing.T) {
	st := &memoryUserStore{}
	d := newTestDirectory(st)
	ctx := context.Background()
	if _, err := d.Register(ctx, "alice", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_ = d.RecordMessage(ctx, "alice", "r1", "hello")
	_ = d.RecordRoomVisit(ctx, "alice", "r1", "Lounge")
	_ = d.SetSetting(ctx, "alice", "theme", "dark")

	restored := newTestDirectory(st)
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !restored.Authenticate(ctx, "alice", "secret1") {
		t.Fatal("restored password hash does not verify")
	}
	msgs, _ := restored.MessageHistory("alice", 0)
	if len(msgs) != 1 || msgs[0].Text != "hello" {
		t.Fatalf("messages not restored: %+v", msgs)
	}
	rooms, _ := restored.RoomHistory("alice")
	if len(rooms) != 1 || rooms[0].RoomName != "Lounge" {
		t.Fatalf("rooms not restored: %+v", rooms)
	}
	p, _ := restored.Profile("alice")
	if p.Settings["theme"] != "dark" {
		t.Fatalf("settings not restored: %+v", p.Settings)
	}
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	d := newTestDirectory(&memoryUserStore{})
	if err := d.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if d.Len() != 0 {
		t.Fatalf("expected empty directory")
	}
}
