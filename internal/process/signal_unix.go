//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"
)

// killGroup sends SIGKILL to the process group led by pid.
func killGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, syscall.SIGKILL)
	if err != nil && errors.Is(err, syscall.ESRCH) {
		// group already gone; the leader may still be a zombie awaiting Wait
		err = syscall.Kill(pid, syscall.SIGKILL)
	}
	return err
}

// isGone reports whether err means the target process no longer exists.
func isGone(err error) bool {
	return errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone)
}
