package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/termchat-server/internal/core"
	"github.com/vovakirdan/termchat-server/internal/stats"
)

const (
	defaultHistory    = 20
	maxHistory        = 100
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// APIHandlers provides the read-only admin endpoints.
type APIHandlers struct {
	deps Deps
	log  *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(deps Deps, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{deps: deps, log: logger}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatsResponse is the server counters plus live session counts.
type StatsResponse struct {
	stats.Snapshot
	Online      int `json:"online"`
	Connections int `json:"connections"`
}

// MessageResponse is one room message.
type MessageResponse struct {
	Sender string    `json:"sender,omitempty"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
	Line   string    `json:"line"`
}

// RoomResponse is the detailed room view with recent history.
type RoomResponse struct {
	core.RoomInfo
	History []MessageResponse `json:"history"`
}

// UserResponse is a public account view. The password hash never leaves the directory.
type UserResponse struct {
	Username  string            `json:"username"`
	CreatedAt time.Time         `json:"created_at"`
	LastLogin *time.Time        `json:"last_login,omitempty"`
	Messages  int               `json:"messages"`
	Rooms     int               `json:"rooms"`
	Settings  map[string]string `json:"settings,omitempty"`
	Online    bool              `json:"online"`
	Room      string            `json:"room,omitempty"`
}

// AuditEntryResponse is one audit row.
type AuditEntryResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats reports server counters.
// GET /api/stats
func (h *APIHandlers) Stats(c *gin.Context) {
	resp := StatsResponse{
		Snapshot: h.deps.Stats.Snapshot(h.deps.Rooms.Len(), h.deps.Users.Len()),
	}
	if h.deps.Sessions != nil {
		resp.Online = h.deps.Sessions.Online()
		resp.Connections = h.deps.Sessions.Connections()
	}
	c.JSON(http.StatusOK, resp)
}

// ListRooms lists every room in creation order.
// GET /api/rooms
func (h *APIHandlers) ListRooms(c *gin.Context) {
	rooms := h.deps.Rooms.List()
	h.log.Debug().Int("room_count", len(rooms)).Msg("rooms listed")
	c.JSON(http.StatusOK, rooms)
}

// GetRoom shows one room and its most recent messages.
// GET /api/rooms/:id?history=N
func (h *APIHandlers) GetRoom(c *gin.Context) {
	roomID := c.Param("id")
	n, ok := queryInt(c, "history", defaultHistory, maxHistory)
	if !ok {
		return
	}

	info, err := h.deps.Rooms.Info(roomID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	msgs, err := h.deps.Rooms.History(roomID, n)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := RoomResponse{RoomInfo: *info, History: make([]MessageResponse, 0, len(msgs))}
	for _, m := range msgs {
		resp.History = append(resp.History, MessageResponse{
			Sender: m.Sender,
			Text:   m.Text,
			At:     m.At,
			Line:   m.Format(),
		})
	}
	c.JSON(http.StatusOK, resp)
}

// GetUser shows an account profile and whether it is online.
// GET /api/users/:name
func (h *APIHandlers) GetUser(c *gin.Context) {
	profile, err := h.deps.Users.Profile(c.Param("name"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := UserResponse{
		Username:  profile.Username,
		CreatedAt: profile.CreatedAt,
		Messages:  profile.Messages,
		Rooms:     profile.Rooms,
		Settings:  profile.Settings,
	}
	if !profile.LastLogin.IsZero() {
		last := profile.LastLogin
		resp.LastLogin = &last
	}
	if h.deps.Sessions != nil {
		_, resp.Online = h.deps.Sessions.Lookup(profile.Username)
	}
	if roomID, ok := h.deps.Rooms.RoomOf(profile.Username); ok {
		resp.Room = roomID
	}
	c.JSON(http.StatusOK, resp)
}

// ListAudit returns audit entries, newest first.
// GET /api/audit?user=name&limit=N
func (h *APIHandlers) ListAudit(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultAuditLimit, maxAuditLimit)
	if !ok {
		return
	}
	username := c.Query("user")

	entries, err := h.deps.Audit.List(c.Request.Context(), username, limit)
	if err != nil {
		h.log.Error().Err(err).Str("user", username).Msg("failed to list audit entries")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, AuditEntryResponse{
			ID:        e.ID,
			Username:  e.Username,
			Action:    e.Action,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *APIHandlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrValidation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// queryInt reads a positive integer query parameter capped at maxValue. On a
// malformed value it writes a 400 and returns false.
func queryInt(c *gin.Context, key string, def, maxValue int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + key})
		return 0, false
	}
	return min(n, maxValue), true
}
