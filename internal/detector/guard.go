package detector

import (
	"context"
	"os"
	"strings"
)

// linuxCommLen is the kernel's limit on the comm field; longer names are
// truncated and only the exe path carries the full name.
const linuxCommLen = 15

// Guard answers "is something with this image name already running".
//
// Matching by image name is an approximation: an unrelated program with
// the same name counts as running, and a renamed copy of the entry's
// executable does not. The launcher's own PID never matches.
type Guard struct {
	lister Lister
	self   int32
}

// NewGuard returns a Guard over l; nil means the host process table.
func NewGuard(l Lister) *Guard {
	if l == nil {
		l = HostLister{}
	}
	return &Guard{lister: l, self: int32(os.Getpid())} // #nosec G115
}

// IsRunning reports whether any host process matches image.
func (g *Guard) IsRunning(ctx context.Context, image string) (bool, error) {
	found, err := g.Find(ctx, image)
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

// Find returns every host process whose image name matches image.
func (g *Guard) Find(ctx context.Context, image string) ([]Proc, error) {
	want := ImageName(image)
	if want == "" {
		return nil, nil
	}
	ps, err := g.lister.Processes(ctx)
	if err != nil {
		return nil, err
	}
	var out []Proc
	for _, p := range ps {
		if p.PID == g.self || p.PID <= 0 {
			continue
		}
		if matches(p, want) {
			out = append(out, p)
		}
	}
	return out, nil
}

func matches(p Proc, want string) bool {
	name := ImageName(p.Name)
	if name == want {
		return true
	}
	// comm truncated: fall back to the executable path when the prefix agrees
	if len(p.Name) >= linuxCommLen && strings.HasPrefix(want, name) {
		return ImageName(p.Exe) == want
	}
	if p.Exe != "" && name == "" {
		return ImageName(p.Exe) == want
	}
	return false
}
