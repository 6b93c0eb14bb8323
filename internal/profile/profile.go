// Package profile holds the persisted launch groups and the runtime state
// the supervision engine attaches to them.
package profile

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"github.com/loykin/applauncher/internal/process"
)

// PlaceholderName is the label given to a freshly added entry.
const PlaceholderName = "New Application"

var ErrIndexOutOfRange = errors.New("application index out of range")

// Application is one launchable program within a profile.
// The handle is runtime-only and guarded by the owning profile's lock.
type Application struct {
	Name      string `json:"Name"`
	Path      string `json:"Path"`
	Arguments string `json:"Arguments"`

	handle   *process.Process
	lastExit *Exit
}

// Handle returns the live process handle or nil. Caller holds the profile lock.
func (a *Application) Handle() *process.Process { return a.handle }

// SetHandle replaces the handle and reports whether it changed.
// Caller holds the profile lock.
func (a *Application) SetHandle(h *process.Process) bool {
	if a.handle == h {
		return false
	}
	a.handle = h
	return true
}

// SetLastExit records how the entry's latest child ended. Caller holds the
// profile lock.
func (a *Application) SetLastExit(e Exit) { a.lastExit = &e }

// ChooseExecutable sets the path and, when the entry still carries the
// placeholder or no name, renames it after the executable.
func (a *Application) ChooseExecutable(path string) {
	a.Path = path
	n := strings.TrimSpace(a.Name)
	if n == "" || n == PlaceholderName {
		a.Name = DefaultName(path)
	}
}

// DefaultName is the entry label derived from an executable path: its base
// name without extension.
func DefaultName(path string) string {
	path = strings.TrimSpace(path)
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		path = path[i+1:]
	}
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// Profile is a named, ordered set of applications.
//
// mu serialises the running flag, every member's handle and structural
// changes to Applications. Exit callbacks arrive on arbitrary goroutines
// and take the same lock.
type Profile struct {
	Name         string         `json:"Name"`
	Applications []*Application `json:"Applications"`

	mu      sync.Mutex
	running bool
}

// New returns an empty profile.
func New(name string) *Profile {
	return &Profile{Name: name, Applications: []*Application{}}
}

func (p *Profile) Lock()   { p.mu.Lock() }
func (p *Profile) Unlock() { p.mu.Unlock() }

// RunningLocked returns the running flag. Caller holds the lock.
func (p *Profile) RunningLocked() bool { return p.running }

// SetRunningLocked stores the running flag and reports whether it changed.
// Caller holds the lock.
func (p *Profile) SetRunningLocked(v bool) bool {
	if p.running == v {
		return false
	}
	p.running = v
	return true
}

// LiveLocked reports whether any member holds a live handle. Caller holds the lock.
func (p *Profile) LiveLocked() bool {
	for _, a := range p.Applications {
		if a.handle != nil && a.handle.Alive() {
			return true
		}
	}
	return false
}

// Running reports the engine's last observed state.
func (p *Profile) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// AddApplication appends an entry and returns its index.
func (p *Profile) AddApplication(a *Application) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a.Name == "" {
		a.Name = PlaceholderName
	}
	p.Applications = append(p.Applications, a)
	return len(p.Applications) - 1
}

// RemoveApplication detaches entry i and returns it. A live handle on the
// returned entry is the caller's to terminate.
func (p *Profile) RemoveApplication(i int) (*Application, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.Applications) {
		return nil, ErrIndexOutOfRange
	}
	a := p.Applications[i]
	p.Applications = append(p.Applications[:i], p.Applications[i+1:]...)
	return a, nil
}

// RemoveLocked detaches a if it is still a member. Caller holds the lock.
func (p *Profile) RemoveLocked(a *Application) bool {
	for i, x := range p.Applications {
		if x == a {
			p.Applications = append(p.Applications[:i], p.Applications[i+1:]...)
			return true
		}
	}
	return false
}

// MoveApplication moves the entry at from to position to.
func (p *Profile) MoveApplication(from, to int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.Applications)
	if from < 0 || from >= n || to < 0 || to >= n {
		return ErrIndexOutOfRange
	}
	a := p.Applications[from]
	p.Applications = append(p.Applications[:from], p.Applications[from+1:]...)
	p.Applications = append(p.Applications[:to], append([]*Application{a}, p.Applications[to:]...)...)
	return nil
}

// Rename changes the profile label.
func (p *Profile) Rename(name string) {
	p.mu.Lock()
	p.Name = name
	p.mu.Unlock()
}

// Clone copies the persisted fields. Runtime state is not carried over.
func (p *Profile) Clone() *Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &Profile{Name: p.Name, Applications: make([]*Application, len(p.Applications))}
	for i, a := range p.Applications {
		c.Applications[i] = &Application{Name: a.Name, Path: a.Path, Arguments: a.Arguments}
	}
	return c
}
