//go:build windows

package process

import (
	"os/exec"
	"strings"
	"syscall"
)

// newCommand hands the argument string to CreateProcess verbatim; the
// child's C runtime does its own parsing.
func newCommand(path, arguments string) (*exec.Cmd, error) {
	// #nosec G204 intentional execution of a user-configured program
	cmd := exec.Command(path)
	configureSysProcAttr(cmd)
	line := syscall.EscapeArg(path)
	if a := strings.TrimSpace(arguments); a != "" {
		line += " " + arguments
	}
	cmd.SysProcAttr.CmdLine = line
	return cmd, nil
}
