package store

import (
	"context"
	"errors"
	"time"
)

// SnapshotVersion marks the format of persisted snapshot documents.
const SnapshotVersion = "1.0"

// ErrNotFound is returned when no snapshot exists yet.
var ErrNotFound = errors.New("snapshot not found")

// MessageRecord is a persisted room message.
type MessageRecord struct {
	Timestamp string    `json:"timestamp"`
	Sender    string    `json:"sender,omitempty"`
	Message   string    `json:"message"`
	Date      time.Time `json:"date"`
}

// RoomRecord is a persisted room.
type RoomRecord struct {
	RoomID       string          `json:"room_id"`
	Name         string          `json:"name"`
	Admin        string          `json:"admin"`
	Password     string          `json:"password,omitempty"`
	Messages     []MessageRecord `json:"messages"`
	CreatedAt    time.Time       `json:"created_at"`
	LastActivity time.Time       `json:"last_activity"`
	UserCount    int             `json:"user_count"`
}

// StatsRecord carries the cumulative server counters across restarts.
type StatsRecord struct {
	TotalConnections int64 `json:"total_connections"`
	MessagesSent     int64 `json:"messages_sent"`
	RoomsCreated     int64 `json:"rooms_created"`
	UsersCreated     int64 `json:"users_created"`
}

// RoomState is the room snapshot document.
type RoomState struct {
	Rooms       []RoomRecord `json:"rooms"`
	Stats       StatsRecord  `json:"stats"`
	LastUpdated time.Time    `json:"last_updated"`
	Version     string       `json:"server_version"`
}

// UserMessageRecord is one entry of a user's message log.
type UserMessageRecord struct {
	RoomID string    `json:"room_id"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// RoomVisitRecord is one entry of a user's room-visit log.
type RoomVisitRecord struct {
	RoomID   string    `json:"room_id"`
	RoomName string    `json:"room_name"`
	At       time.Time `json:"at"`
}

// UserRecord is a persisted account.
type UserRecord struct {
	Username     string              `json:"username"`
	PasswordHash string              `json:"password_hash"`
	CreatedAt    time.Time           `json:"created_at"`
	LastLogin    *time.Time          `json:"last_login,omitempty"`
	Messages     []UserMessageRecord `json:"messages"`
	Rooms        []RoomVisitRecord   `json:"rooms"`
	Settings     map[string]string   `json:"settings,omitempty"`
}

// UserState is the user snapshot document.
type UserState struct {
	Users       []UserRecord `json:"users"`
	LastUpdated time.Time    `json:"last_updated"`
	Version     string       `json:"server_version"`
}

// AuditEntry is one row of the append-only audit trail.
type AuditEntry struct {
	ID        int64
	Username  string
	Action    string
	Detail    string
	CreatedAt time.Time
}

// RoomStore persists room snapshots.
type RoomStore interface {
	// LoadRooms returns ErrNotFound (possibly wrapped) when there is nothing to restore.
	LoadRooms(ctx context.Context) (*RoomState, error)

	// SaveRooms atomically replaces the stored snapshot.
	SaveRooms(ctx context.Context, state *RoomState) error
}

// UserStore persists user snapshots.
type UserStore interface {
	// LoadUsers returns ErrNotFound (possibly wrapped) when there is nothing to restore.
	LoadUsers(ctx context.Context) (*UserState, error)

	// SaveUsers atomically replaces the stored snapshot.
	SaveUsers(ctx context.Context, state *UserState) error
}

// AuditStore handles the audit trail.
type AuditStore interface {
	// RecordAudit appends an entry.
	RecordAudit(ctx context.Context, entry *AuditEntry) error

	// ListAudit returns the newest entries first. An empty username lists everyone.
	ListAudit(ctx context.Context, username string, limit int) ([]*AuditEntry, error)

	// Close closes the underlying database connection.
	Close() error
}
