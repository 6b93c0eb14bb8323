package manager

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownProfile    = errors.New("unknown profile")
	ErrProfileExists     = errors.New("profile already exists")
	ErrEmptyName         = errors.New("profile name is empty")
	ErrTerminationFailed = errors.New("termination failed")
	ErrShuttingDown      = errors.New("launcher is shutting down")
)

// TerminationError reports a kill that failed for a process that still exists.
type TerminationError struct {
	Profile string
	Entry   string
	PID     int
	Err     error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("terminate %s/%s (pid %d): %v", e.Profile, e.Entry, e.PID, e.Err)
}

func (e *TerminationError) Unwrap() error { return e.Err }

func (e *TerminationError) Is(target error) bool { return target == ErrTerminationFailed }

// WarningKind classifies a per-entry failure inside a batch.
type WarningKind string

const (
	WarnLaunchFailed      WarningKind = "launch_failed"
	WarnTerminationFailed WarningKind = "termination_failed"
)

// Warning is one per-entry failure. It never aborts the rest of the batch.
type Warning struct {
	Profile string      `json:"profile"`
	Entry   string      `json:"entry"`
	Index   int         `json:"index"`
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
	Err     error       `json:"-"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s/%s: %s", w.Kind, w.Profile, w.Entry, w.Message)
}
