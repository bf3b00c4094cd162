package auth

import (
	"regexp"
	"strings"

	"github.com/vovakirdan/termchat-server/internal/core"
)

const (
	minPasswordLength = 6
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLength = 72
)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_-]{3,20}$`)

// NormalizeUsername case-folds and validates a username.
func NormalizeUsername(raw string) (string, error) {
	username := strings.ToLower(strings.TrimSpace(raw))
	if !usernameRegex.MatchString(username) {
		return "", core.ErrInvalidUsername
	}
	return username, nil
}

// ValidatePassword checks account password length bounds.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return core.ErrInvalidPassword
	}
	return nil
}
