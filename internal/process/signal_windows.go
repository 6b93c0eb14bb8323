//go:build windows

package process

import (
	"errors"
	"os"
)

// killGroup terminates the root process. Descendants are handled by
// KillTree because Windows has no process-group kill.
func killGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		// If we can't open the process, it likely doesn't exist anymore
		return nil
	}
	return p.Kill()
}

func isGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}
