// Package stats keeps the server-wide counters reported by /stats, the
// statistics log loop and the admin API.
package stats

import (
	"sync/atomic"
	"time"
)

// Counters are safe for concurrent use.
type Counters struct {
	start time.Time

	TotalConnections  atomic.Int64
	ActiveConnections atomic.Int64
	MessagesSent      atomic.Int64
	RoomsCreated      atomic.Int64
	UsersCreated      atomic.Int64
}

// New creates counters with the uptime clock started now.
func New() *Counters {
	return &Counters{start: time.Now()}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	StartedAt         time.Time     `json:"started_at"`
	Uptime            time.Duration `json:"uptime"`
	TotalConnections  int64         `json:"total_connections"`
	ActiveConnections int64         `json:"active_connections"`
	MessagesSent      int64         `json:"messages_sent"`
	RoomsCreated      int64         `json:"rooms_created"`
	UsersCreated      int64         `json:"users_created"`
	Rooms             int           `json:"rooms"`
	Users             int           `json:"users"`
}

// Snapshot reads every counter. rooms and users are live entity counts supplied by the caller.
func (c *Counters) Snapshot(rooms, users int) Snapshot {
	return Snapshot{
		StartedAt:         c.start,
		Uptime:            time.Since(c.start).Truncate(time.Second),
		TotalConnections:  c.TotalConnections.Load(),
		ActiveConnections: c.ActiveConnections.Load(),
		MessagesSent:      c.MessagesSent.Load(),
		RoomsCreated:      c.RoomsCreated.Load(),
		UsersCreated:      c.UsersCreated.Load(),
		Rooms:             rooms,
		Users:             users,
	}
}
