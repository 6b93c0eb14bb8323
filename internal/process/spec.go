package process

import (
	"os/exec"
	"strings"

	"github.com/loykin/applauncher/internal/logger"
)

// Spec describes one executable to launch.
// Arguments is a single string handed to the child without shell
// interpretation; see newCommand for the per-platform handling.
type Spec struct {
	Name      string            `json:"name"`
	Path      string            `json:"path"`
	Arguments string            `json:"arguments"`
	WorkDir   string            `json:"work_dir"`
	Env       []string          `json:"env"` // complete child environment; empty inherits ours
	Log       logger.FileConfig `json:"log"`
}

// BuildCommand constructs an *exec.Cmd for the spec without starting it.
func (s *Spec) BuildCommand() (*exec.Cmd, error) {
	path := strings.TrimSpace(s.Path)
	if path == "" {
		return nil, errEmptyPath
	}
	cmd, err := newCommand(path, s.Arguments)
	if err != nil {
		return nil, err
	}
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	return cmd, nil
}

// logName is the file stem used for child stdout/stderr logs.
func (s *Spec) logName() string {
	if n := strings.TrimSpace(s.Name); n != "" {
		return sanitizeLogName(n)
	}
	return sanitizeLogName(strings.TrimSpace(s.Path))
}

func sanitizeLogName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "app"
	}
	return b.String()
}
