package store

import (
	"errors"
	"fmt"
)

// ErrPersistenceFailed is matched by every *PersistenceError.
var ErrPersistenceFailed = errors.New("persistence failed")

// PersistenceError reports an I/O or encoding failure on the profiles file.
type PersistenceError struct {
	Op   string // load, save, watch
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistenceFailed }
