package utils

import (
	"strings"

	"github.com/google/uuid"
)

// RoomIDLength is the length of generated room ids.
const RoomIDLength = 8

// NewID returns a unique identifier for connections and sessions.
func NewID() string {
	return uuid.NewString()
}

// NewRoomID returns a short random room token (lowercase hex).
// Uniqueness against existing rooms is the caller's responsibility.
func NewRoomID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:RoomIDLength]
}
