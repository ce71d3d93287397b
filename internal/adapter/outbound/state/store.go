package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/tollgate-labs/tollgate/internal/domain/session"
)

// FileStateStore implements session.SessionStore on a JSON file.
// Every mutation is a read-modify-write of the whole file under an
// in-process mutex and a cross-process flock.
type FileStateStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

// NewFileStateStore creates a new FileStateStore for the given file path.
func NewFileStateStore(path string, logger *slog.Logger) *FileStateStore {
	return &FileStateStore{
		path:   path,
		logger: logger,
		now:    time.Now,
	}
}

// Load reads and parses the state file.
// If the file does not exist, it returns an empty File.
// Warns if an existing file has permissions more open than 0600.
func (s *FileStateStore) Load() (*File, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.empty(), nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	// Unix permission bits mean nothing on Windows.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			if mode := info.Mode().Perm(); mode&0077 != 0 {
				s.logger.Warn("state file has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if f.Sessions == nil {
		f.Sessions = make(map[string]*session.Session)
	}
	return &f, nil
}

// save writes f to disk atomically.
//
// The write sequence is:
//  1. Acquire flock on path+".lock"
//  2. Copy current file to path+".bak" (ignored if no current file)
//  3. Write indented JSON to path+".tmp" with 0600 permissions
//  4. Fsync the temp file
//  5. Rename path+".tmp" -> path
//
// Callers hold s.mu.
func (s *FileStateStore) save(f *File) error {
	f.UpdatedAt = s.now().UTC()

	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	if currentData, readErr := os.ReadFile(s.path); readErr == nil {
		if writeErr := os.WriteFile(s.path+".bak", currentData, 0600); writeErr != nil {
			s.logger.Warn("failed to create backup", "error", writeErr)
		}
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}
	// Rename keeps the temp file's mode, but an older file may have been looser.
	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on state file", "error", err)
	}

	s.logger.Debug("state saved", "path", s.path, "sessions", len(f.Sessions))
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it
// over the target path. On any error the temp file is cleaned up.
func (s *FileStateStore) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to state: %w", err)
	}
	return nil
}

func (s *FileStateStore) empty() *File {
	now := s.now().UTC()
	return &File{
		Version:   SchemaVersion,
		Sessions:  make(map[string]*session.Session),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// mutate loads the file, applies fn, and saves the result unless fn fails.
func (s *FileStateStore) mutate(ctx context.Context, fn func(*File) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		return err
	}
	return s.save(f)
}

// Create stores a new snapshot and marks it as the last session.
func (s *FileStateStore) Create(ctx context.Context, sess *session.Session) error {
	return s.mutate(ctx, func(f *File) error {
		f.Sessions[sess.ID] = sess.Clone()
		f.LastSessionID = sess.ID
		return nil
	})
}

// Get retrieves a snapshot by ID.
// Returns session.ErrSessionNotFound if it doesn't exist or is expired.
func (s *FileStateStore) Get(ctx context.Context, id string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	f, err := s.Load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sess, ok := f.Sessions[id]
	if !ok || sess.IsExpired() {
		return nil, session.ErrSessionNotFound
	}
	return sess, nil
}

// Update overwrites an existing snapshot.
func (s *FileStateStore) Update(ctx context.Context, sess *session.Session) error {
	return s.mutate(ctx, func(f *File) error {
		if _, ok := f.Sessions[sess.ID]; !ok {
			return session.ErrSessionNotFound
		}
		f.Sessions[sess.ID] = sess.Clone()
		return nil
	})
}

// Delete removes a snapshot. Deleting an unknown id is not an error.
func (s *FileStateStore) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, func(f *File) error {
		delete(f.Sessions, id)
		if f.LastSessionID == id {
			f.LastSessionID = ""
		}
		return nil
	})
}

// Last returns the most recently created snapshot, expired or not.
func (s *FileStateStore) Last(ctx context.Context) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	f, err := s.Load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	sess, ok := f.Sessions[f.LastSessionID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return sess, nil
}

// Prune removes expired snapshots and returns how many were dropped.
func (s *FileStateStore) Prune(ctx context.Context) (int, error) {
	removed := 0
	err := s.mutate(ctx, func(f *File) error {
		for id, sess := range f.Sessions {
			if sess.IsExpired() {
				delete(f.Sessions, id)
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// Exists returns true if the state file exists on disk.
func (s *FileStateStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Path returns the configured file path.
func (s *FileStateStore) Path() string {
	return s.path
}

var _ session.SessionStore = (*FileStateStore)(nil)
