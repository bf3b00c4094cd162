// Package audit records user actions to the action log and, when configured,
// to the persistent audit trail.
package audit

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/termchat-server/internal/store"
)

// Action names.
const (
	ActionConnect     = "connect"
	ActionDisconnect  = "disconnect"
	ActionRegister    = "register"
	ActionLoginFailed = "login_failed"
	ActionTakeover    = "takeover"
	ActionCommand     = "command"
	ActionJoin        = "join"
	ActionJoinFailed  = "join_failed"
	ActionRoomCreated = "room_created"
	ActionKick        = "kick"
)

// Recorder never fails its callers: storage errors are logged and dropped.
type Recorder struct {
	store store.AuditStore
	log   zerolog.Logger
}

// NewRecorder builds a recorder. st may be nil, in which case only the
// action log is written.
func NewRecorder(st store.AuditStore, logger *zerolog.Logger) *Recorder {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Recorder{
		store: st,
		log:   logger.With().Str("component", "actions").Logger(),
	}
}

// Record logs and stores one action. A nil Recorder is a no-op.
func (r *Recorder) Record(ctx context.Context, username, action, detail string) {
	if r == nil {
		return
	}
	r.log.Info().
		Str("user", username).
		Str("action", strings.ToUpper(action)).
		Str("detail", detail).
		Msg("user action")

	if r.store == nil {
		return
	}
	entry := &store.AuditEntry{Username: username, Action: action, Detail: detail}
	if err := r.store.RecordAudit(context.WithoutCancel(ctx), entry); err != nil {
		r.log.Error().Err(err).Str("user", username).Str("action", action).Msg("failed to record audit entry")
	}
}

// List proxies to the audit store. Without a store it returns nothing.
func (r *Recorder) List(ctx context.Context, username string, limit int) ([]*store.AuditEntry, error) {
	if r == nil || r.store == nil {
		return nil, nil
	}
	return r.store.ListAudit(ctx, username, limit)
}
