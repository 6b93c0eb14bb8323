// Package store persists profiles as a single JSON document.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/loykin/applauncher/internal/profile"
)

const (
	appDirName  = "applauncher"
	profileFile = "profiles.json"
)

// DefaultPath returns <user config dir>/applauncher/profiles.json and makes
// sure its directory exists.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	dir := filepath.Join(base, appDirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return filepath.Join(dir, profileFile), nil
}

type batch struct {
	data    []byte
	waiters []chan error
}

// Store reads and writes the profiles file.
//
// Saves are performed by one writer goroutine. A request queued behind an
// in-flight write replaces any older queued request, and all of their
// callers are completed by the single write that follows.
type Store struct {
	path string

	mu        sync.Mutex
	pending   *batch
	lastWrite []byte
	closed    bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New returns a Store for path and starts its writer. Close stops it.
func New(path string) *Store {
	s := &Store{
		path: filepath.Clean(path),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.writer()
	return s
}

func (s *Store) Path() string { return s.path }

// Load reads the profiles file. A missing or unreadable document yields an
// empty list; only ctx cancellation is returned as an error.
func (s *Store) Load(ctx context.Context) ([]*profile.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to read profiles", "err", &PersistenceError{Op: "load", Path: s.path, Err: err})
		}
		return []*profile.Profile{}, nil
	}
	return decode(s.path, data), nil
}

func decode(path string, data []byte) []*profile.Profile {
	var raw []*profile.Profile
	if len(bytes.TrimSpace(data)) == 0 {
		return []*profile.Profile{}
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Warn("Profiles file is corrupt, starting empty", "err", &PersistenceError{Op: "load", Path: path, Err: err})
		return []*profile.Profile{}
	}
	out := make([]*profile.Profile, 0, len(raw))
	for _, p := range raw {
		if p == nil {
			continue
		}
		np := profile.New(p.Name)
		for _, a := range p.Applications {
			if a == nil {
				continue
			}
			np.Applications = append(np.Applications, &profile.Application{Name: a.Name, Path: a.Path, Arguments: a.Arguments})
		}
		out = append(out, np)
	}
	return out
}

func encode(profiles []*profile.Profile) ([]byte, error) {
	clones := make([]*profile.Profile, 0, len(profiles))
	for _, p := range profiles {
		clones = append(clones, p.Clone())
	}
	data, err := json.MarshalIndent(clones, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// SaveAsync queues a write of the profiles as they are now. The channel
// receives the result of the write that covered this state.
func (s *Store) SaveAsync(profiles []*profile.Profile) <-chan error {
	res := make(chan error, 1)
	// encoding under mu keeps queue order and snapshot order the same
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		res <- &PersistenceError{Op: "save", Path: s.path, Err: errors.New("store closed")}
		return res
	}
	data, err := encode(profiles)
	if err != nil {
		s.mu.Unlock()
		res <- &PersistenceError{Op: "save", Path: s.path, Err: err}
		return res
	}
	if s.pending == nil {
		s.pending = &batch{}
	}
	s.pending.data = data
	s.pending.waiters = append(s.pending.waiters, res)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return res
}

// Save queues a write and waits for it.
func (s *Store) Save(ctx context.Context, profiles []*profile.Profile) error {
	res := s.SaveAsync(profiles)
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes the queued write and stops the writer.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.quit)
	<-s.done
	return nil
}

func (s *Store) writer() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
			s.flush()
		case <-s.quit:
			s.flush()
			return
		}
	}
}

func (s *Store) flush() {
	s.mu.Lock()
	b := s.pending
	s.pending = nil
	s.mu.Unlock()
	if b == nil {
		return
	}
	err := s.write(b.data)
	if err != nil {
		slog.Error("Failed to save profiles", "err", err)
	}
	for _, w := range b.waiters {
		w <- err
	}
}

// write replaces the file via a synced temp file in the same directory.
func (s *Store) write(data []byte) error {
	fail := func(err error) error { return &PersistenceError{Op: "save", Path: s.path, Err: err} }
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fail(err)
	}
	tmp, err := os.CreateTemp(dir, ".profiles-*.tmp")
	if err != nil {
		return fail(err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fail(err)
	}
	s.mu.Lock()
	s.lastWrite = data
	s.mu.Unlock()
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fail(err)
	}
	return nil
}

// ownWrite reports whether data is what this store last wrote.
func (s *Store) ownWrite(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWrite != nil && bytes.Equal(s.lastWrite, data)
}
