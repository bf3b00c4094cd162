package core

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/termchat-server/internal/stats"
	"github.com/vovakirdan/termchat-server/internal/store"
	"github.com/vovakirdan/termchat-server/internal/utils"
)

const (
	maxRoomNameLength = 50
	maxIDAttempts     = 16
)

// RegistryOptions tunes history bounds and injectable clocks.
type RegistryOptions struct {
	HistoryLimit int // live history cap
	HistoryKeep  int // entries kept when the cap is exceeded
	PersistLimit int // newest entries written to snapshots
	ReplayCount  int // entries replayed to a joining member
	Now          func() time.Time
	NewID        func() string
}

// DefaultRegistryOptions mirrors the production limits.
func DefaultRegistryOptions() RegistryOptions {
	return RegistryOptions{
		HistoryLimit: 1000,
		HistoryKeep:  500,
		PersistLimit: 100,
		ReplayCount:  10,
		Now:          time.Now,
		NewID:        utils.NewRoomID,
	}
}

// Registry owns every room, its membership and history. It also tracks which
// room each username currently sits in, so membership and current room can
// never disagree.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	order    []string
	userRoom map[string]string

	saveMu sync.Mutex
	store  store.RoomStore
	stats  *stats.Counters
	opts   RegistryOptions
	log    *zerolog.Logger
}

// NewRegistry creates an empty registry. st and counters may be nil.
func NewRegistry(st store.RoomStore, counters *stats.Counters, logger *zerolog.Logger, opts RegistryOptions) *Registry {
	def := DefaultRegistryOptions()
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = def.HistoryLimit
	}
	if opts.HistoryKeep <= 0 {
		opts.HistoryKeep = def.HistoryKeep
	}
	if opts.PersistLimit <= 0 {
		opts.PersistLimit = def.PersistLimit
	}
	if opts.ReplayCount <= 0 {
		opts.ReplayCount = def.ReplayCount
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if opts.NewID == nil {
		opts.NewID = def.NewID
	}
	if counters == nil {
		counters = stats.New()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Registry{
		rooms:    make(map[string]*Room),
		userRoom: make(map[string]string),
		store:    st,
		stats:    counters,
		opts:     opts,
		log:      logger,
	}
}

func (r *Registry) newHistory() *Ring[Message] {
	return NewRing[Message](r.opts.HistoryLimit, r.opts.HistoryKeep)
}

// CreateRoom registers a new room administered by admin and persists the registry.
func (r *Registry) CreateRoom(ctx context.Context, name, admin, password string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxRoomNameLength {
		return "", ErrInvalidRoomName
	}

	now := r.opts.Now()
	r.mu.Lock()
	id := ""
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		candidate := r.opts.NewID()
		if _, taken := r.rooms[candidate]; !taken {
			id = candidate
			break
		}
	}
	if id == "" {
		r.mu.Unlock()
		return "", fmt.Errorf("allocate room id: %w", ErrIO)
	}
	r.rooms[id] = newRoom(id, name, admin, password, r.newHistory(), now)
	r.order = append(r.order, id)
	r.mu.Unlock()

	r.stats.RoomsCreated.Add(1)
	r.log.Info().Str("room", id).Str("name", name).Str("user", admin).Msg("room created")
	r.persist(ctx)
	return id, nil
}

// Join moves m into roomID. Leaving the previous room is announced there
// first. The joiner alone then receives the welcome block and the recent
// history, and the whole room sees a system join notice.
func (r *Registry) Join(m Member, roomID, password string) (*JoinResult, error) {
	room := r.lookup(roomID)
	if room == nil {
		r.log.Warn().Str("user", m.Name()).Str("room", roomID).Msg("join failed: no such room")
		return nil, ErrRoomNotFound
	}

	r.mu.RLock()
	allowed := room.password == "" || subtle.ConstantTimeCompare([]byte(room.password), []byte(password)) == 1
	r.mu.RUnlock()
	if !allowed {
		r.log.Warn().Str("user", m.Name()).Str("room", roomID).Msg("join failed: bad password")
		return nil, ErrBadPassword
	}

	name := m.Name()
	var previous string
	if current, ok := r.RoomOf(name); ok && current != roomID {
		previous, _ = r.Leave(m)
	}

	room.deliverMu.Lock()

	r.mu.Lock()
	if r.rooms[roomID] != room {
		r.mu.Unlock()
		room.deliverMu.Unlock()
		return nil, ErrRoomNotFound
	}
	now := r.opts.Now()
	// A membership elsewhere that Leave could not release belongs to an
	// older connection for the same username.
	stale := r.userRoom[name]
	if stale == roomID || r.rooms[stale] == nil {
		stale = ""
	}
	if stale != "" {
		old := r.rooms[stale]
		delete(old.members, name)
		old.LastActivity = now
		previous = stale
	}
	rejoin := r.userRoom[name] == roomID && room.holds(m)
	if !rejoin {
		room.members[name] = &membership{member: m, joinedAt: now}
	}
	room.LastActivity = now
	r.userRoom[name] = roomID
	result := &JoinResult{
		Room:     room.summary(),
		History:  room.history.Tail(r.opts.ReplayCount),
		Previous: previous,
	}
	r.mu.Unlock()

	r.sendWelcome(m, result)
	if !rejoin {
		_ = r.broadcastLocked(room, name+" присоединился к комнате", "", nil)
	}
	room.deliverMu.Unlock()

	if stale != "" {
		_ = r.Broadcast(stale, name+" покинул комнату", "")
	}

	r.log.Info().Str("user", name).Str("room", roomID).Msg("joined room")
	return result, nil
}

func (r *Registry) sendWelcome(m Member, res *JoinResult) {
	lines := []string{
		fmt.Sprintf("=== Добро пожаловать в комнату '%s' (ID: %s) ===", res.Room.Name, res.Room.ID),
		"Администратор: " + res.Room.Admin,
		fmt.Sprintf("Пользователей в комнате: %d", res.Room.Members),
	}
	if len(res.History) > 0 {
		lines = append(lines, "=== История сообщений ===")
		for _, msg := range res.History {
			lines = append(lines, msg.Format())
		}
	}
	lines = append(lines, "=== Конец истории ===")
	for _, line := range lines {
		if err := m.Send(line); err != nil {
			r.log.Debug().Err(err).Str("user", m.Name()).Msg("welcome delivery failed")
			return
		}
	}
}

// Leave removes m from its current room. It is a no-op when m is not a member,
// including when a newer connection for the same username holds the membership.
func (r *Registry) Leave(m Member) (string, bool) {
	r.mu.RLock()
	roomID := r.userRoom[m.Name()]
	room := r.rooms[roomID]
	r.mu.RUnlock()
	if room == nil {
		return "", false
	}

	room.deliverMu.Lock()
	defer room.deliverMu.Unlock()

	r.mu.Lock()
	if r.rooms[roomID] != room || !room.holds(m) {
		r.mu.Unlock()
		return "", false
	}
	delete(room.members, m.Name())
	delete(r.userRoom, m.Name())
	room.LastActivity = r.opts.Now()
	r.mu.Unlock()

	_ = r.broadcastLocked(room, m.Name()+" покинул комнату", "", nil)
	r.log.Info().Str("user", m.Name()).Str("room", roomID).Msg("left room")
	return roomID, true
}

// Drop removes m from its current room without announcing it. Used when the
// whole server is going away.
func (r *Registry) Drop(m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID := r.userRoom[m.Name()]
	room := r.rooms[roomID]
	if room == nil || !room.holds(m) {
		return false
	}
	delete(room.members, m.Name())
	delete(r.userRoom, m.Name())
	return true
}

// Broadcast appends a message to roomID's history and delivers it to every
// member. An empty sender marks a system message.
func (r *Registry) Broadcast(roomID, text, sender string) error {
	room := r.lookup(roomID)
	if room == nil {
		return ErrRoomNotFound
	}
	room.deliverMu.Lock()
	defer room.deliverMu.Unlock()
	return r.broadcastLocked(room, text, sender, nil)
}

// Say broadcasts text from m into its current room, returning that room id.
func (r *Registry) Say(m Member, text string) (string, error) {
	r.mu.RLock()
	room := r.rooms[r.userRoom[m.Name()]]
	r.mu.RUnlock()
	if room == nil {
		return "", ErrNotInRoom
	}
	room.deliverMu.Lock()
	defer room.deliverMu.Unlock()
	if err := r.broadcastLocked(room, text, m.Name(), m); err != nil {
		return "", err
	}
	return room.ID, nil
}

// broadcastLocked requires room.deliverMu. The registry lock is held only to
// append and snapshot members; writes happen outside it. Members whose write
// fails are dropped from the room.
func (r *Registry) broadcastLocked(room *Room, text, sender string, from Member) error {
	r.mu.Lock()
	if r.rooms[room.ID] != room {
		r.mu.Unlock()
		return ErrRoomNotFound
	}
	if from != nil && !room.holds(from) {
		r.mu.Unlock()
		return ErrNotInRoom
	}
	now := r.opts.Now()
	msg := NewMessage(sender, text, now)
	room.history.Append(msg)
	room.LastActivity = now
	targets := room.targets()
	r.mu.Unlock()

	line := msg.Format()
	var failed []Member
	for _, t := range targets {
		if err := t.Send(line); err != nil {
			r.log.Warn().Err(err).Str("user", t.Name()).Str("room", room.ID).Msg("delivery failed")
			failed = append(failed, t)
		}
	}
	if len(failed) == 0 {
		return nil
	}

	r.mu.Lock()
	for _, f := range failed {
		if room.holds(f) {
			delete(room.members, f.Name())
			if r.userRoom[f.Name()] == room.ID {
				delete(r.userRoom, f.Name())
			}
		}
	}
	r.mu.Unlock()
	return nil
}

// Kick removes target from roomID on behalf of the room admin.
func (r *Registry) Kick(roomID, acting, target string) error {
	room := r.lookup(roomID)
	if room == nil {
		return ErrRoomNotFound
	}
	room.deliverMu.Lock()
	defer room.deliverMu.Unlock()

	r.mu.Lock()
	if r.rooms[roomID] != room {
		r.mu.Unlock()
		return ErrRoomNotFound
	}
	if room.Admin != acting {
		r.mu.Unlock()
		return ErrNotAdmin
	}
	if target == acting {
		r.mu.Unlock()
		return ErrCannotKickSelf
	}
	ms, ok := room.members[target]
	if !ok {
		r.mu.Unlock()
		return ErrTargetNotInRoom
	}
	delete(room.members, target)
	delete(r.userRoom, target)
	r.mu.Unlock()

	if err := ms.member.Send("Вы были выгнаны из комнаты администратором " + acting); err != nil {
		r.log.Debug().Err(err).Str("user", target).Msg("kick notice not delivered")
	}
	_ = r.broadcastLocked(room, target+" был выгнан администратором", "", nil)
	r.log.Info().Str("room", roomID).Str("user", acting).Str("target", target).Msg("member kicked")
	return nil
}

// SetPassword changes (or clears, with "") the room password.
func (r *Registry) SetPassword(ctx context.Context, roomID, acting, password string) error {
	r.mu.Lock()
	room := r.rooms[roomID]
	if room == nil {
		r.mu.Unlock()
		return ErrRoomNotFound
	}
	if room.Admin != acting {
		r.mu.Unlock()
		return ErrNotAdmin
	}
	room.password = password
	r.mu.Unlock()

	r.log.Info().Str("room", roomID).Str("user", acting).Msg("room password changed")
	r.persist(ctx)
	return nil
}

// DeleteRoom destroys roomID on behalf of its admin. Members are notified and released.
func (r *Registry) DeleteRoom(ctx context.Context, roomID, acting string) error {
	room := r.lookup(roomID)
	if room == nil {
		return ErrRoomNotFound
	}
	room.deliverMu.Lock()

	r.mu.Lock()
	if r.rooms[roomID] != room {
		r.mu.Unlock()
		room.deliverMu.Unlock()
		return ErrRoomNotFound
	}
	if room.Admin != acting {
		r.mu.Unlock()
		room.deliverMu.Unlock()
		return ErrNotAdmin
	}
	delete(r.rooms, roomID)
	for i, id := range r.order {
		if id == roomID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	targets := room.targets()
	for _, t := range targets {
		delete(r.userRoom, t.Name())
	}
	room.members = make(map[string]*membership)
	r.mu.Unlock()

	notice := fmt.Sprintf("Комната '%s' удалена администратором", room.Name)
	for _, t := range targets {
		_ = t.Send(notice)
	}
	room.deliverMu.Unlock()

	r.log.Info().Str("room", roomID).Str("user", acting).Msg("room deleted")
	r.persist(ctx)
	return nil
}

// List returns room summaries in creation order.
func (r *Registry) List() []RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomSummary, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rooms[id].summary())
	}
	return out
}

// Info returns details for roomID.
func (r *Registry) Info(roomID string) (*RoomInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[roomID]
	if room == nil {
		return nil, ErrRoomNotFound
	}
	return &RoomInfo{
		RoomSummary:  room.summary(),
		LastActivity: room.LastActivity,
		MemberNames:  room.memberNames(),
		Messages:     room.history.Len(),
	}, nil
}

// Members lists usernames in roomID ordered by join time.
func (r *Registry) Members(roomID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[roomID]
	if room == nil {
		return nil, ErrRoomNotFound
	}
	return room.memberNames(), nil
}

// History returns the newest n messages of roomID (all when n <= 0).
func (r *Registry) History(roomID string, n int) ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[roomID]
	if room == nil {
		return nil, ErrRoomNotFound
	}
	return room.history.Tail(n), nil
}

// RoomOf returns the room username currently sits in.
func (r *Registry) RoomOf(username string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.userRoom[username]
	return id, ok
}

// Len returns the number of rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) lookup(roomID string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

// Snapshot captures rooms (with their newest persisted messages) and counters.
func (r *Registry) Snapshot() *store.RoomState {
	r.mu.RLock()
	records := make([]store.RoomRecord, 0, len(r.order))
	for _, id := range r.order {
		room := r.rooms[id]
		msgs := room.history.Tail(r.opts.PersistLimit)
		rec := store.RoomRecord{
			RoomID:       room.ID,
			Name:         room.Name,
			Admin:        room.Admin,
			Password:     room.password,
			Messages:     make([]store.MessageRecord, 0, len(msgs)),
			CreatedAt:    room.CreatedAt,
			LastActivity: room.LastActivity,
			UserCount:    len(room.members),
		}
		for _, m := range msgs {
			rec.Messages = append(rec.Messages, store.MessageRecord{
				Timestamp: m.Clock,
				Sender:    m.Sender,
				Message:   m.Text,
				Date:      m.At,
			})
		}
		records = append(records, rec)
	}
	r.mu.RUnlock()

	return &store.RoomState{
		Rooms: records,
		Stats: store.StatsRecord{
			TotalConnections: r.stats.TotalConnections.Load(),
			MessagesSent:     r.stats.MessagesSent.Load(),
			RoomsCreated:     r.stats.RoomsCreated.Load(),
			UsersCreated:     r.stats.UsersCreated.Load(),
		},
		LastUpdated: r.opts.Now(),
		Version:     store.SnapshotVersion,
	}
}

// Save persists the current snapshot. Concurrent saves are serialized so a
// newer snapshot is never overwritten by an older one.
func (r *Registry) Save(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	if err := r.store.SaveRooms(ctx, r.Snapshot()); err != nil {
		return fmt.Errorf("save rooms: %w", err)
	}
	return nil
}

func (r *Registry) persist(ctx context.Context) {
	if err := r.Save(ctx); err != nil {
		r.log.Error().Err(err).Msg("failed to persist rooms")
	}
}

// Restore loads the persisted snapshot, replacing in-memory rooms. A missing
// or quarantined snapshot leaves the registry empty.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	state, err := r.store.LoadRooms(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load rooms: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = make(map[string]*Room, len(state.Rooms))
	r.order = r.order[:0]
	r.userRoom = make(map[string]string)
	for _, rec := range state.Rooms {
		if rec.RoomID == "" {
			continue
		}
		if _, dup := r.rooms[rec.RoomID]; dup {
			continue
		}
		room := newRoom(rec.RoomID, rec.Name, rec.Admin, rec.Password, r.newHistory(), rec.CreatedAt)
		if !rec.LastActivity.IsZero() {
			room.LastActivity = rec.LastActivity
		}
		msgs := make([]Message, 0, len(rec.Messages))
		for _, m := range rec.Messages {
			msgs = append(msgs, Message{Sender: m.Sender, Text: m.Message, Clock: m.Timestamp, At: m.Date})
		}
		room.history.Reset(msgs)
		r.rooms[room.ID] = room
		r.order = append(r.order, room.ID)
	}

	r.stats.TotalConnections.Store(state.Stats.TotalConnections)
	r.stats.MessagesSent.Store(state.Stats.MessagesSent)
	r.stats.RoomsCreated.Store(state.Stats.RoomsCreated)
	r.stats.UsersCreated.Store(state.Stats.UsersCreated)

	r.log.Info().Int("rooms", len(r.rooms)).Msg("rooms restored")
	return nil
}
