//go:build !windows

package process

import (
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// newCommand splits arguments using POSIX shell word rules (quotes and
// backslash escapes) without any expansion, then execs path directly.
func newCommand(path, arguments string) (*exec.Cmd, error) {
	args, err := splitArguments(arguments)
	if err != nil {
		return nil, err
	}
	// #nosec G204 intentional execution of a user-configured program
	cmd := exec.Command(path, args...)
	configureSysProcAttr(cmd)
	return cmd, nil
}

func splitArguments(s string) ([]string, error) {
	p := shellwords.NewParser()
	p.ParseEnv = false
	p.ParseBacktick = false
	args, err := p.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidArguments, err)
	}
	if p.Position >= 0 {
		// the parser stops at the operator and would drop the rest of the line
		return nil, fmt.Errorf("%w: unquoted shell operator", errInvalidArguments)
	}
	if len(args) == 0 {
		return nil, nil
	}
	return args, nil
}
