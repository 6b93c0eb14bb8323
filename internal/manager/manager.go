// Package manager is the supervision engine: it launches the entries of a
// profile, tracks their lifetimes and keeps each profile's running flag in
// line with the handles it observes.
package manager

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/loykin/applauncher/internal/detector"
	"github.com/loykin/applauncher/internal/events"
	"github.com/loykin/applauncher/internal/history"
	"github.com/loykin/applauncher/internal/logger"
	"github.com/loykin/applauncher/internal/metrics"
	"github.com/loykin/applauncher/internal/process"
	"github.com/loykin/applauncher/internal/profile"
)

// Guard is the duplicate-launch check. *detector.Guard implements it.
type Guard interface {
	IsRunning(ctx context.Context, image string) (bool, error)
	Find(ctx context.Context, image string) ([]detector.Proc, error)
}

// Persister is the profile store. *store.Store implements it.
type Persister interface {
	Load(ctx context.Context) ([]*profile.Profile, error)
	SaveAsync(profiles []*profile.Profile) <-chan error
}

// Manager owns the profile registry and runs launches and stops.
//
// Two levels of locking apply. Each profile's own mutex guards its running
// flag and its entries' handles; exit callbacks only take that one. A
// per-profile operation lock serialises batch operations (launch, stop,
// entry removal) so a toggle never overlaps itself. It is taken before mu,
// and a profile whose operation lock is held counts as busy for Reload.
type Manager struct {
	mu       sync.RWMutex
	profiles []*profile.Profile
	ops      map[*profile.Profile]*sync.Mutex

	guard       Guard
	st          Persister
	childLog    logger.FileConfig
	childEnv    []string
	concurrency int

	// read while holding a profile lock, so kept outside mu
	bus atomic.Pointer[events.Bus]
	rec atomic.Pointer[history.Recorder]

	launching atomic.Int32
	closed    atomic.Bool
	killTree  func(ctx context.Context, pid int) error
}

func NewManager(g Guard) *Manager {
	if g == nil {
		g = detector.NewGuard(nil)
	}
	return &Manager{
		ops:      make(map[*profile.Profile]*sync.Mutex),
		guard:    g,
		killTree: process.KillTree,
	}
}

// SetStore configures where structural changes are saved.
func (m *Manager) SetStore(s Persister) {
	m.mu.Lock()
	m.st = s
	m.mu.Unlock()
}

// SetBus configures the change notification bus.
func (m *Manager) SetBus(b *events.Bus) { m.bus.Store(b) }

// SetRecorder configures the history sinks.
func (m *Manager) SetRecorder(r *history.Recorder) { m.rec.Store(r) }

// SetChildLog configures where child stdout/stderr go.
func (m *Manager) SetChildLog(c logger.FileConfig) {
	m.mu.Lock()
	m.childLog = c
	m.mu.Unlock()
}

// SetChildEnv sets the complete environment of launched children; nil
// inherits the launcher's own.
func (m *Manager) SetChildEnv(env []string) {
	m.mu.Lock()
	m.childEnv = env
	m.mu.Unlock()
}

// SetConcurrency bounds parallel spawns within one launch; <= 0 means unbounded.
func (m *Manager) SetConcurrency(n int) {
	m.mu.Lock()
	m.concurrency = n
	m.mu.Unlock()
}

// Launching reports whether any launch batch is in flight.
func (m *Manager) Launching() bool { return m.launching.Load() > 0 }

// Load replaces the registry with the store's profiles.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.RLock()
	st := m.st
	m.mu.RUnlock()
	if st == nil {
		return nil
	}
	ps, err := st.Load(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.profiles = ps
	m.ops = make(map[*profile.Profile]*sync.Mutex, len(ps))
	m.mu.Unlock()
	slog.Info("Profiles loaded", "count", len(ps))
	return nil
}

// Reload swaps in externally edited profiles. Profiles that currently hold
// live children, or that are in the middle of a batch operation, are kept
// as they are; the rest are replaced.
func (m *Manager) Reload(ps []*profile.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	busy := make(map[string]*profile.Profile)
	for _, p := range m.profiles {
		inOp := false
		if op, ok := m.ops[p]; ok {
			if op.TryLock() {
				// held so no operation starts on p until the swap is done
				defer op.Unlock()
			} else {
				inOp = true
			}
		}
		p.Lock()
		live := inOp || p.RunningLocked() || p.LiveLocked()
		name := p.Name
		p.Unlock()
		if live {
			busy[name] = p
		}
	}
	next := make([]*profile.Profile, 0, len(ps)+len(busy))
	seen := make(map[string]bool)
	for _, p := range ps {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		if b, ok := busy[p.Name]; ok {
			next = append(next, b)
			delete(busy, p.Name)
			slog.Warn("Profile running, external edit ignored", "profile", p.Name)
			continue
		}
		next = append(next, p)
	}
	for _, b := range busy {
		next = append(next, b)
	}
	ops := make(map[*profile.Profile]*sync.Mutex, len(next))
	for _, p := range next {
		if l, ok := m.ops[p]; ok {
			ops[p] = l
		}
	}
	m.profiles = next
	m.ops = ops
	slog.Info("Profiles reloaded", "count", len(next))
}

func (m *Manager) lookup(name string) (*profile.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookupLocked(name)
}

func (m *Manager) lookupLocked(name string) (*profile.Profile, error) {
	name = strings.TrimSpace(name)
	for _, p := range m.profiles {
		p.Lock()
		n := p.Name
		p.Unlock()
		if n == name {
			return p, nil
		}
	}
	return nil, ErrUnknownProfile
}

// lockOp takes p's batch operation lock. It fails with ErrUnknownProfile
// when p left the registry while the caller waited.
func (m *Manager) lockOp(p *profile.Profile) (*sync.Mutex, error) {
	op := m.opLock(p)
	op.Lock()
	m.mu.Lock()
	registered := slices.Contains(m.profiles, p)
	if !registered && m.ops[p] == op {
		delete(m.ops, p)
	}
	m.mu.Unlock()
	if !registered {
		op.Unlock()
		return nil, ErrUnknownProfile
	}
	return op, nil
}

// opLock returns the batch operation lock for p without taking it.
func (m *Manager) opLock(p *profile.Profile) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ops[p]
	if !ok {
		l = &sync.Mutex{}
		m.ops[p] = l
	}
	return l
}

func (m *Manager) publish(ev events.Event) {
	m.bus.Load().Publish(ev)
}

func (m *Manager) record(t history.EventType, r history.Record) {
	m.rec.Load().Record(context.Background(), history.NewEvent(t, r))
}

// refreshGauges recomputes the profile-level gauges.
func (m *Manager) refreshGauges(p *profile.Profile) {
	p.Lock()
	name := p.Name
	live := 0
	for _, a := range p.Applications {
		if h := a.Handle(); h != nil && h.Alive() {
			live++
		}
	}
	p.Unlock()
	metrics.SetLiveEntries(name, live)

	m.mu.RLock()
	ps := append([]*profile.Profile(nil), m.profiles...)
	m.mu.RUnlock()
	n := 0
	for _, q := range ps {
		if q.Running() {
			n++
		}
	}
	metrics.SetRunningProfiles(n)
}

// setRunning stores v and publishes the change. Caller holds p's lock.
func (m *Manager) setRunningLocked(p *profile.Profile, v bool) bool {
	if !p.SetRunningLocked(v) {
		return false
	}
	slog.Info("Profile running state changed", "profile", p.Name, "running", v)
	m.publish(events.Event{Kind: events.ProfileRunningChanged, Profile: p.Name, Running: v})
	return true
}

// reconcileLocked clears the running flag when no member holds a live
// handle. It never raises the flag; only a launch batch does that.
// Caller holds p's lock.
func (m *Manager) reconcileLocked(p *profile.Profile) bool {
	if p.RunningLocked() && !p.LiveLocked() {
		return m.setRunningLocked(p, false)
	}
	return false
}

// Profiles returns a snapshot of every profile in order.
func (m *Manager) Profiles() []profile.View {
	m.mu.RLock()
	ps := append([]*profile.Profile(nil), m.profiles...)
	m.mu.RUnlock()
	out := make([]profile.View, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Snapshot())
	}
	return out
}

// Profile returns a snapshot of one profile.
func (m *Manager) Profile(name string) (profile.View, error) {
	p, err := m.lookup(name)
	if err != nil {
		return profile.View{}, err
	}
	return p.Snapshot(), nil
}

// Detect returns a snapshot of one profile with each entry probed on the
// host: an entry with a child of ours by its PID, any other entry with a
// path by image name, which also finds copies started outside the launcher.
func (m *Manager) Detect(name string) (profile.View, error) {
	v, err := m.Profile(name)
	if err != nil {
		return profile.View{}, err
	}
	for i := range v.Applications {
		a := &v.Applications[i]
		var d detector.Detector
		switch {
		case a.Running:
			d = detector.PIDDetector{PID: a.PID}
		case strings.TrimSpace(a.Path) != "":
			d = detector.ImageDetector{Guard: m.guard, Image: strings.TrimSpace(a.Path)}
		default:
			continue
		}
		alive, err := d.Alive()
		if err != nil {
			slog.Debug("Detection failed", "profile", v.Name, "entry", a.Name, "detector", d.Describe(), "err", err)
			continue
		}
		if alive {
			a.DetectedBy = d.Describe()
		}
	}
	return v, nil
}

// RunningProfiles lists the names of profiles marked running.
func (m *Manager) RunningProfiles() []string {
	var out []string
	for _, v := range m.Profiles() {
		if v.Running {
			out = append(out, v.Name)
		}
	}
	return out
}

// LivePIDs maps every live entry to its PID, for resource sampling.
func (m *Manager) LivePIDs() map[metrics.EntryKey]int32 {
	out := make(map[metrics.EntryKey]int32)
	for _, v := range m.Profiles() {
		for _, a := range v.Applications {
			if a.Running && a.PID > 0 {
				out[metrics.EntryKey{Profile: v.Name, Entry: a.Name}] = int32(a.PID) // #nosec G115
			}
		}
	}
	return out
}
