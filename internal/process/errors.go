package process

import (
	"errors"
	"fmt"
)

// ErrLaunchFailed is matched by every error returned from Start.
var ErrLaunchFailed = errors.New("launch failed")

var (
	errEmptyPath        = errors.New("executable path is empty")
	errInvalidArguments = errors.New("invalid arguments")
)

// LaunchError reports a failed spawn. Err carries the underlying OS message.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %q failed: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

func (e *LaunchError) Is(target error) bool { return target == ErrLaunchFailed }
