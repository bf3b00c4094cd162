package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/termchat-server/internal/store"
)

var testNow = time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC)

type fakeMember struct {
	id   string
	name string

	mu    sync.Mutex
	lines []string
	fail  bool
}

func newMember(name string) *fakeMember {
	return &fakeMember{id: name + "-1", name: name}
}

func (f *fakeMember) ID() string   { return f.id }
func (f *fakeMember) Name() string { return f.name }

func (f *fakeMember) Send(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.lines = append(f.lines, line)
	return nil
}

func (f *fakeMember) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func (f *fakeMember) last() string {
	lines := f.received()
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

func (f *fakeMember) reset() {
	f.mu.Lock()
	f.lines = nil
	f.mu.Unlock()
}

type memoryRoomStore struct {
	mu    sync.Mutex
	state *store.RoomState
	saves int
}

func (m *memoryRoomStore) LoadRooms(context.Context) (*store.RoomState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, store.ErrNotFound
	}
	return m.state, nil
}

func (m *memoryRoomStore) SaveRooms(_ context.Context, state *store.RoomState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.saves++
	return nil
}

func newTestRegistry(t *testing.T, st store.RoomStore) *Registry {
	t.Helper()
	opts := DefaultRegistryOptions()
	opts.Now = func() time.Time { return testNow }
	return NewRegistry(st, nil, nil, opts)
}

func mustCreate(t *testing.T, r *Registry, name, admin, password string) string {
	t.Helper()
	id, err := r.CreateRoom(context.Background(), name, admin, password)
	if err != nil {
		t.Fatalf("CreateRoom(%q): %v", name, err)
	}
	return id
}

func mustJoin(t *testing.T, r *Registry, m Member, roomID, password string) *JoinResult {
	t.Helper()
	res, err := r.Join(m, roomID, password)
	if err != nil {
		t.Fatalf("Join(%s, %s): %v", m.Name(), roomID, err)
	}
	return res
}

func containsLine(lines []string, suffix string) bool {
	for _, l := range lines {
		if strings.HasSuffix(l, suffix) {
			return true
		}
	}
	return false
}
