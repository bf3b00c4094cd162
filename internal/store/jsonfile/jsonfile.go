// Package jsonfile persists snapshot documents as JSON files using an
// atomic write-to-temp-then-rename discipline.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/termchat-server/internal/store"
)

// CorruptError reports a snapshot that could not be parsed and was moved aside.
// It matches store.ErrNotFound so callers start with empty state.
type CorruptError struct {
	Path   string
	Backup string
	Err    error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt snapshot %s moved to %s: %v", e.Path, e.Backup, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// Is makes a quarantined snapshot look like a missing one.
func (e *CorruptError) Is(target error) bool {
	return target == store.ErrNotFound
}

// File is a single JSON snapshot document on disk.
type File[T any] struct {
	path string
	log  *zerolog.Logger
	now  func() time.Time
}

// NewFile creates a snapshot file handle. The parent directory is created on first save.
func NewFile[T any](path string, logger *zerolog.Logger) *File[T] {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &File[T]{path: path, log: logger, now: time.Now}
}

// Path returns the target file path.
func (f *File[T]) Path() string {
	return f.path
}

// Load reads and decodes the snapshot.
func (f *File[T]) Load() (*T, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		backup := f.path + ".backup." + strconv.FormatInt(f.now().Unix(), 10)
		if renameErr := os.Rename(f.path, backup); renameErr != nil {
			return nil, fmt.Errorf("quarantine corrupt snapshot: %w", renameErr)
		}
		f.log.Warn().Err(err).Str("path", f.path).Str("backup", backup).Msg("corrupt snapshot moved aside")
		return nil, &CorruptError{Path: f.path, Backup: backup, Err: err}
	}
	return &out, nil
}

// Save encodes v into a temporary sibling, syncs it and renames it over the target.
// On failure the previous snapshot is left untouched.
func (f *File[T]) Save(v *T) (err error) {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err = enc.Encode(v); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err = os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// RoomFile stores room snapshots.
type RoomFile struct {
	file *File[store.RoomState]
}

// NewRoomFile builds a room snapshot store at path.
func NewRoomFile(path string, logger *zerolog.Logger) *RoomFile {
	return &RoomFile{file: NewFile[store.RoomState](path, logger)}
}

// LoadRooms implements store.RoomStore.
func (r *RoomFile) LoadRooms(ctx context.Context) (*store.RoomState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.file.Load()
}

// SaveRooms implements store.RoomStore.
func (r *RoomFile) SaveRooms(_ context.Context, state *store.RoomState) error {
	return r.file.Save(state)
}

// UserFile stores user snapshots.
type UserFile struct {
	file *File[store.UserState]
}

// NewUserFile builds a user snapshot store at path.
func NewUserFile(path string, logger *zerolog.Logger) *UserFile {
	return &UserFile{file: NewFile[store.UserState](path, logger)}
}

// LoadUsers implements store.UserStore.
func (u *UserFile) LoadUsers(ctx context.Context) (*store.UserState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return u.file.Load()
}

// SaveUsers implements store.UserStore.
func (u *UserFile) SaveUsers(_ context.Context, state *store.UserState) error {
	return u.file.Save(state)
}
