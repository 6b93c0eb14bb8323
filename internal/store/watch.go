package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loykin/applauncher/internal/profile"
)

const debounceDelay = 150 * time.Millisecond

// Watch calls onChange with the reloaded profiles whenever the file is
// changed by someone other than this store. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func([]*profile.Profile)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return &PersistenceError{Op: "watch", Path: s.path, Err: err}
	}
	defer func() { _ = w.Close() }()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return &PersistenceError{Op: "watch", Path: s.path, Err: err}
	}
	// watch the directory: the file is replaced by rename on every save
	if err := w.Add(dir); err != nil {
		return &PersistenceError{Op: "watch", Path: s.path, Err: err}
	}
	slog.Info("Watching profiles file", "path", s.path)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				timer.Reset(debounceDelay)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Error("Watcher error", "err", err)
		case <-timer.C:
			data, err := os.ReadFile(s.path)
			if err != nil || s.ownWrite(data) {
				continue
			}
			s.mu.Lock()
			s.lastWrite = data
			s.mu.Unlock()
			slog.Info("Profiles file changed externally", "path", s.path)
			onChange(decode(s.path, data))
		}
	}
}
