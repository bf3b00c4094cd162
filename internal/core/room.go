package core

import (
	"sort"
	"sync"
	"time"
)

type membership struct {
	member   Member
	joinedAt time.Time
}

// Room groups members subscribed to the same channel. All fields except
// deliverMu are guarded by the owning Registry's lock.
type Room struct {
	ID           string
	Name         string
	Admin        string
	CreatedAt    time.Time
	LastActivity time.Time

	password string
	members  map[string]*membership
	history  *Ring[Message]

	// deliverMu serializes append+fan-out so members observe room-scoped FIFO order.
	deliverMu sync.Mutex
}

func newRoom(id, name, admin, password string, history *Ring[Message], now time.Time) *Room {
	return &Room{
		ID:           id,
		Name:         name,
		Admin:        admin,
		CreatedAt:    now,
		LastActivity: now,
		password:     password,
		members:      make(map[string]*membership),
		history:      history,
	}
}

func (r *Room) summary() RoomSummary {
	return RoomSummary{
		ID:        r.ID,
		Name:      r.Name,
		Admin:     r.Admin,
		Members:   len(r.members),
		Protected: r.password != "",
		CreatedAt: r.CreatedAt,
	}
}

// memberNames returns usernames ordered by join time.
func (r *Room) memberNames() []string {
	list := make([]*membership, 0, len(r.members))
	for _, m := range r.members {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].joinedAt.Equal(list[j].joinedAt) {
			return list[i].member.Name() < list[j].member.Name()
		}
		return list[i].joinedAt.Before(list[j].joinedAt)
	})
	names := make([]string, len(list))
	for i, m := range list {
		names[i] = m.member.Name()
	}
	return names
}

// targets snapshots the current member handles.
func (r *Room) targets() []Member {
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.member)
	}
	return out
}

// holds reports whether m is the registered connection for its username.
func (r *Room) holds(m Member) bool {
	ms, ok := r.members[m.Name()]
	return ok && ms.member.ID() == m.ID()
}

// RoomSummary is the listing view of a room.
type RoomSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Admin     string    `json:"admin"`
	Members   int       `json:"members"`
	Protected bool      `json:"protected"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomInfo is the detailed view of a room.
type RoomInfo struct {
	RoomSummary
	LastActivity time.Time `json:"last_activity"`
	MemberNames  []string  `json:"member_names"`
	Messages     int       `json:"messages"`
}

// JoinResult describes a successful join.
type JoinResult struct {
	Room     RoomSummary
	History  []Message
	Previous string
}
