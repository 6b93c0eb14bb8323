package detector

import (
	"context"
	"path/filepath"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Proc is one row of the host process table.
type Proc struct {
	PID  int32
	Name string
	Exe  string
}

// Lister enumerates host processes.
type Lister interface {
	Processes(ctx context.Context) ([]Proc, error)
}

// HostLister reads the process table through gopsutil.
type HostLister struct{}

func (HostLister) Processes(ctx context.Context) ([]Proc, error) {
	ps, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Proc, 0, len(ps))
	for _, p := range ps {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// exited between listing and inspection
			continue
		}
		exe, _ := p.ExeWithContext(ctx)
		out = append(out, Proc{PID: p.Pid, Name: name, Exe: exe})
	}
	return out, nil
}

// ImageName reduces an executable path to the name used for matching:
// base name, extension stripped, lower-cased. "C:\Tools\Code.EXE" and
// "/usr/bin/code" both yield "code".
func ImageName(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	// accept both separators regardless of the host OS
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		path = path[i+1:]
	}
	path = strings.TrimSuffix(path, filepath.Ext(path))
	return strings.ToLower(path)
}
