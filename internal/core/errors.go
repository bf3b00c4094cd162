package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeValidation = "validation"
	ErrCodeAuth       = "auth"
	ErrCodeNotFound   = "not_found"
	ErrCodePermission = "permission"
	ErrCodeIO         = "io"
	ErrCodeConnection = "connection"
)

// Error kinds. Every CoreError unwraps to exactly one of these.
var (
	ErrValidation = errors.New("validation error")
	ErrAuth       = errors.New("authentication error")
	ErrNotFound   = errors.New("not found")
	ErrPermission = errors.New("permission denied")
	ErrIO         = errors.New("io error")
	ErrConnection = errors.New("connection error")
)

var (
	ErrInvalidUsername = coreError(ErrValidation, "username must be 3-20 characters of a-z, 0-9, '_' or '-'")
	ErrInvalidPassword = coreError(ErrValidation, "password must be 6-72 characters")
	ErrInvalidRoomName = coreError(ErrValidation, "room name must be 1-50 characters")

	ErrBadPassword = coreError(ErrAuth, "wrong room password")
	ErrUserExists  = coreError(ErrAuth, "user already exists")
	ErrBadLogin    = coreError(ErrAuth, "invalid credentials")

	ErrRoomNotFound    = coreError(ErrNotFound, "room not found")
	ErrUserNotFound    = coreError(ErrNotFound, "user not found")
	ErrTargetNotInRoom = coreError(ErrNotFound, "user is not in the room")
	ErrNotInRoom       = coreError(ErrNotFound, "not in a room")

	ErrNotAdmin       = coreError(ErrPermission, "only the room admin may do this")
	ErrCannotKickSelf = coreError(ErrPermission, "admin cannot kick themselves")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Kind    error
}

func (e *CoreError) Error() string {
	return e.Message
}

// Unwrap exposes the error kind so callers can match with errors.Is.
func (e *CoreError) Unwrap() error {
	return e.Kind
}

func coreError(kind error, msg string) *CoreError {
	return &CoreError{Code: codeOf(kind), Message: msg, Kind: kind}
}

func codeOf(kind error) string {
	switch kind {
	case ErrValidation:
		return ErrCodeValidation
	case ErrAuth:
		return ErrCodeAuth
	case ErrNotFound:
		return ErrCodeNotFound
	case ErrPermission:
		return ErrCodePermission
	case ErrIO:
		return ErrCodeIO
	default:
		return ErrCodeConnection
	}
}
