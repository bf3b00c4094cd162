// Package users holds registered accounts, password verification and the
// per-user message and room-visit logs.
package users

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/termchat-server/internal/auth"
	"github.com/vovakirdan/termchat-server/internal/core"
	"github.com/vovakirdan/termchat-server/internal/stats"
	"github.com/vovakirdan/termchat-server/internal/store"
)

const (
	// MessageLogLimit bounds a user's message log.
	MessageLogLimit = 1000
	// RoomLogLimit bounds a user's room-visit log.
	RoomLogLimit = 50
)

// MessageEntry is one message a user sent.
type MessageEntry struct {
	RoomID string
	Text   string
	At     time.Time
}

// RoomVisit is one room a user joined.
type RoomVisit struct {
	RoomID   string
	RoomName string
	At       time.Time
}

type user struct {
	username     string
	passwordHash string
	createdAt    time.Time
	lastLogin    time.Time
	messages     *core.Ring[MessageEntry]
	rooms        []RoomVisit
	settings     map[string]string
}

// Profile is a read-only view of an account.
type Profile struct {
	Username  string
	CreatedAt time.Time
	LastLogin time.Time
	Messages  int
	Rooms     int
	Settings  map[string]string
}

func (u *user) profile() *Profile {
	settings := make(map[string]string, len(u.settings))
	for k, v := range u.settings {
		settings[k] = v
	}
	return &Profile{
		Username:  u.username,
		CreatedAt: u.createdAt,
		LastLogin: u.lastLogin,
		Messages:  u.messages.Len(),
		Rooms:     len(u.rooms),
		Settings:  settings,
	}
}

// Options tunes hashing cost and the clock.
type Options struct {
	BcryptCost int
	Now        func() time.Time
}

// Directory owns every account. Every mutation is persisted before it returns.
type Directory struct {
	mu    sync.RWMutex
	users map[string]*user

	saveMu sync.Mutex
	store  store.UserStore
	stats  *stats.Counters
	opts   Options
	log    *zerolog.Logger
}

// NewDirectory creates an empty directory. st and counters may be nil.
func NewDirectory(st store.UserStore, counters *stats.Counters, logger *zerolog.Logger, opts Options) *Directory {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = auth.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if counters == nil {
		counters = stats.New()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Directory{
		users: make(map[string]*user),
		store: st,
		stats: counters,
		opts:  opts,
		log:   logger,
	}
}

func newUser(username, hash string, now time.Time) *user {
	return &user{
		username:     username,
		passwordHash: hash,
		createdAt:    now,
		messages:     core.NewRing[MessageEntry](MessageLogLimit, MessageLogLimit),
		settings:     make(map[string]string),
	}
}

// Register validates and creates a new account.
func (d *Directory) Register(ctx context.Context, username, password string) (*Profile, error) {
	username, err := auth.NormalizeUsername(username)
	if err != nil {
		return nil, err
	}
	if err := auth.ValidatePassword(password); err != nil {
		return nil, err
	}
	if d.Exists(username) {
		return nil, core.ErrUserExists
	}

	hash, err := auth.HashPasswordCost(password, d.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", username, err)
	}

	d.mu.Lock()
	if _, exists := d.users[username]; exists {
		d.mu.Unlock()
		return nil, core.ErrUserExists
	}
	u := newUser(username, hash, d.opts.Now())
	d.users[username] = u
	profile := u.profile()
	d.mu.Unlock()

	d.stats.UsersCreated.Add(1)
	d.log.Info().Str("user", username).Msg("user registered")
	d.persist(ctx)
	return profile, nil
}

// Exists reports whether username has an account.
func (d *Directory) Exists(username string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.users[username]
	return ok
}

// Authenticate verifies the password and records the login time.
func (d *Directory) Authenticate(ctx context.Context, username, password string) bool {
	d.mu.RLock()
	u, ok := d.users[username]
	var hash string
	if ok {
		hash = u.passwordHash
	}
	d.mu.RUnlock()
	if !ok {
		return false
	}

	if err := auth.ComparePassword(hash, password); err != nil {
		d.log.Warn().Str("user", username).Msg("password mismatch")
		return false
	}

	d.mu.Lock()
	u.lastLogin = d.opts.Now()
	d.mu.Unlock()

	d.persist(ctx)
	return true
}

// RecordMessage appends to the user's message log.
func (d *Directory) RecordMessage(ctx context.Context, username, roomID, text string) error {
	d.mu.Lock()
	u, ok := d.users[username]
	if !ok {
		d.mu.Unlock()
		return core.ErrUserNotFound
	}
	u.messages.Append(MessageEntry{RoomID: roomID, Text: text, At: d.opts.Now()})
	d.mu.Unlock()

	d.persist(ctx)
	return nil
}

// RecordRoomVisit moves roomID to the front of the user's room log.
func (d *Directory) RecordRoomVisit(ctx context.Context, username, roomID, roomName string) error {
	d.mu.Lock()
	u, ok := d.users[username]
	if !ok {
		d.mu.Unlock()
		return core.ErrUserNotFound
	}
	visits := make([]RoomVisit, 0, len(u.rooms)+1)
	visits = append(visits, RoomVisit{RoomID: roomID, RoomName: roomName, At: d.opts.Now()})
	for _, v := range u.rooms {
		if v.RoomID != roomID {
			visits = append(visits, v)
		}
	}
	if len(visits) > RoomLogLimit {
		visits = visits[:RoomLogLimit]
	}
	u.rooms = visits
	d.mu.Unlock()

	d.persist(ctx)
	return nil
}

// SetSetting stores a free-form preference.
func (d *Directory) SetSetting(ctx context.Context, username, key, value string) error {
	d.mu.Lock()
	u, ok := d.users[username]
	if !ok {
		d.mu.Unlock()
		return core.ErrUserNotFound
	}
	u.settings[key] = value
	d.mu.Unlock()

	d.persist(ctx)
	return nil
}

// Profile returns a copy of the account summary.
func (d *Directory) Profile(username string) (*Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[username]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	return u.profile(), nil
}

// RoomHistory returns visited rooms, most recent first.
func (d *Directory) RoomHistory(username string) ([]RoomVisit, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[username]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	return append([]RoomVisit(nil), u.rooms...), nil
}

// MessageHistory returns the newest n messages, oldest first (all when n <= 0).
func (d *Directory) MessageHistory(username string, n int) ([]MessageEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[username]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	return u.messages.Tail(n), nil
}

// Len returns the number of accounts.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

// Snapshot captures every account ordered by username.
func (d *Directory) Snapshot() *store.UserState {
	d.mu.RLock()
	records := make([]store.UserRecord, 0, len(d.users))
	for _, u := range d.users {
		rec := store.UserRecord{
			Username:     u.username,
			PasswordHash: u.passwordHash,
			CreatedAt:    u.createdAt,
			Messages:     make([]store.UserMessageRecord, 0, u.messages.Len()),
			Rooms:        make([]store.RoomVisitRecord, 0, len(u.rooms)),
		}
		if !u.lastLogin.IsZero() {
			last := u.lastLogin
			rec.LastLogin = &last
		}
		for _, m := range u.messages.Tail(0) {
			rec.Messages = append(rec.Messages, store.UserMessageRecord{RoomID: m.RoomID, Text: m.Text, At: m.At})
		}
		for _, v := range u.rooms {
			rec.Rooms = append(rec.Rooms, store.RoomVisitRecord{RoomID: v.RoomID, RoomName: v.RoomName, At: v.At})
		}
		if len(u.settings) > 0 {
			rec.Settings = make(map[string]string, len(u.settings))
			for k, v := range u.settings {
				rec.Settings[k] = v
			}
		}
		records = append(records, rec)
	}
	d.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Username < records[j].Username })
	return &store.UserState{
		Users:       records,
		LastUpdated: d.opts.Now(),
		Version:     store.SnapshotVersion,
	}
}

// Save persists the directory; concurrent saves are serialized.
func (d *Directory) Save(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	if err := d.store.SaveUsers(ctx, d.Snapshot()); err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}

func (d *Directory) persist(ctx context.Context) {
	if err := d.Save(ctx); err != nil {
		d.log.Error().Err(err).Msg("failed to persist users")
	}
}

// Restore loads persisted accounts. A missing or quarantined snapshot leaves
// the directory empty.
func (d *Directory) Restore(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	state, err := d.store.LoadUsers(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load users: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = make(map[string]*user, len(state.Users))
	for _, rec := range state.Users {
		if rec.Username == "" {
			continue
		}
		u := newUser(rec.Username, rec.PasswordHash, rec.CreatedAt)
		if rec.LastLogin != nil {
			u.lastLogin = *rec.LastLogin
		}
		msgs := make([]MessageEntry, 0, len(rec.Messages))
		for _, m := range rec.Messages {
			msgs = append(msgs, MessageEntry{RoomID: m.RoomID, Text: m.Text, At: m.At})
		}
		u.messages.Reset(msgs)
		for _, v := range rec.Rooms {
			if len(u.rooms) == RoomLogLimit {
				break
			}
			u.rooms = append(u.rooms, RoomVisit{RoomID: v.RoomID, RoomName: v.RoomName, At: v.At})
		}
		for k, v := range rec.Settings {
			u.settings[k] = v
		}
		d.users[u.username] = u
	}
	d.log.Info().Int("users", len(d.users)).Msg("users restored")
	return nil
}
