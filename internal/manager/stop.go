package manager

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/applauncher/internal/events"
	"github.com/loykin/applauncher/internal/history"
	"github.com/loykin/applauncher/internal/metrics"
	"github.com/loykin/applauncher/internal/profile"
)

// reapWait bounds how long a stop waits for killed children to be reaped.
// The running flag is already false by then.
const reapWait = 2 * time.Second

// Stop force-kills every entry of the profile. Entries without a handle
// but with a path are matched host-wide by image name, which catches
// children of an earlier session. Stopping a stopped profile is a no-op
// apart from that sweep.
func (m *Manager) Stop(ctx context.Context, name string) (Result, error) {
	p, err := m.lookup(name)
	if err != nil {
		return Result{}, err
	}
	op, err := m.lockOp(p)
	if err != nil {
		return Result{}, err
	}
	defer op.Unlock()
	return m.stop(ctx, p), nil
}

// detach clears every handle of p and returns the entries as targets with
// the handles they held.
func detach(p *profile.Profile) []target {
	p.Lock()
	defer p.Unlock()
	out := make([]target, 0, len(p.Applications))
	for i, a := range p.Applications {
		t := target{
			app:     a,
			index:   i,
			profile: p.Name,
			name:    a.Name,
			path:    a.Path,
			handle:  a.Handle(),
		}
		a.SetHandle(nil)
		out = append(out, t)
	}
	return out
}

func (m *Manager) stop(ctx context.Context, p *profile.Profile) Result {
	targets := detach(p)
	b := &batch{}
	b.res.Action = ActionStopped
	if len(targets) > 0 {
		b.res.Profile = targets[0].profile
	} else {
		b.res.Profile = p.Snapshot().Name
	}

	var g errgroup.Group
	for _, t := range targets {
		g.Go(func() error {
			m.killEntry(ctx, t, b)
			return nil
		})
	}
	_ = g.Wait()

	p.Lock()
	m.setRunningLocked(p, false)
	p.Unlock()
	m.refreshGauges(p)

	waitReaped(ctx, targets)
	slog.Info("Profile stopped", "profile", b.res.Profile, "killed", b.res.Killed, "warnings", len(b.res.Warnings))
	return b.res
}

// killEntry terminates the entry's handle, or falls back to a host-wide
// image-name sweep when it has none.
func (m *Manager) killEntry(ctx context.Context, t target, b *batch) {
	if h := t.handle; h != nil {
		if !h.Alive() {
			return
		}
		m.publish(events.Event{Kind: events.EntryHandleChanged, Profile: t.profile, Entry: t.name, Index: t.index, PID: h.PID(), Running: false})
		metrics.IncKill(t.profile)
		m.record(history.EventKill, history.Record{Profile: t.profile, Entry: t.name, Path: t.path, PID: h.PID()})
		if err := h.Terminate(); err != nil {
			m.terminationWarning(b, t, h.PID(), err)
			return
		}
		b.killed(1)
		return
	}
	if t.path == "" {
		return
	}
	found, err := m.guard.Find(ctx, t.path)
	if err != nil {
		slog.Warn("Host-wide lookup failed", "profile", t.profile, "entry", t.name, "err", err)
		return
	}
	for _, proc := range found {
		pid := int(proc.PID)
		metrics.IncKill(t.profile)
		m.record(history.EventKill, history.Record{Profile: t.profile, Entry: t.name, Path: t.path, PID: pid})
		if err := m.killTree(ctx, pid); err != nil {
			m.terminationWarning(b, t, pid, err)
			continue
		}
		slog.Info("Killed leftover process by image name", "profile", t.profile, "entry", t.name, "pid", pid)
		b.killed(1)
	}
}

func (m *Manager) terminationWarning(b *batch, t target, pid int, err error) {
	te := &TerminationError{Profile: t.profile, Entry: t.name, PID: pid, Err: err}
	slog.Warn("Termination failed", "profile", t.profile, "entry", t.name, "pid", pid, "err", err)
	b.warn(Warning{Profile: t.profile, Entry: t.name, Index: t.index, Kind: WarnTerminationFailed, Message: err.Error(), Err: te})
	m.record(history.EventFail, history.Record{Profile: t.profile, Entry: t.name, Path: t.path, PID: pid, ExitErr: err.Error()})
	m.publish(events.Event{Kind: events.LaunchWarning, Profile: t.profile, Entry: t.name, Index: t.index, PID: pid, Message: te.Error()})
}

func waitReaped(ctx context.Context, targets []target) {
	ctx, cancel := context.WithTimeout(ctx, reapWait)
	defer cancel()
	for _, t := range targets {
		if t.handle != nil {
			_ = t.handle.Wait(ctx)
		}
	}
}

// StopEntry force-kills one entry and reconciles the profile.
func (m *Manager) StopEntry(ctx context.Context, name string, index int) (Result, error) {
	p, err := m.lookup(name)
	if err != nil {
		return Result{}, err
	}
	op, err := m.lockOp(p)
	if err != nil {
		return Result{}, err
	}
	defer op.Unlock()

	p.Lock()
	if index < 0 || index >= len(p.Applications) {
		p.Unlock()
		return Result{}, profile.ErrIndexOutOfRange
	}
	a := p.Applications[index]
	t := target{app: a, index: index, profile: p.Name, name: a.Name, path: a.Path, handle: a.Handle()}
	a.SetHandle(nil)
	p.Unlock()

	b := &batch{}
	b.res.Profile = t.profile
	b.res.Action = ActionStopped
	m.killEntry(ctx, t, b)

	p.Lock()
	m.reconcileLocked(p)
	b.res.Running = p.RunningLocked()
	p.Unlock()
	m.refreshGauges(p)
	waitReaped(ctx, []target{t})
	return b.res, nil
}

// Shutdown refuses further launches and stops every profile. A launch
// already in flight finishes first and is then stopped.
func (m *Manager) Shutdown(ctx context.Context) []Result {
	m.closed.Store(true)
	return m.StopAll(ctx)
}

// StopAll stops every running profile in parallel and returns once every
// stop has settled. A profile in the middle of a launch is waited for.
func (m *Manager) StopAll(ctx context.Context) []Result {
	m.mu.RLock()
	ps := append([]*profile.Profile(nil), m.profiles...)
	m.mu.RUnlock()

	results := make([]Result, len(ps))
	var g errgroup.Group
	for i, p := range ps {
		g.Go(func() error {
			op, err := m.lockOp(p)
			if err != nil {
				// removed meanwhile; RemoveProfile stopped it
				return nil
			}
			defer op.Unlock()
			p.Lock()
			busy := p.RunningLocked() || p.LiveLocked()
			p.Unlock()
			if !busy {
				return nil
			}
			results[i] = m.stop(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	out := results[:0]
	for _, r := range results {
		if r.Profile != "" {
			out = append(out, r)
		}
	}
	slog.Info("All profiles stopped", "count", len(out))
	return out
}

// terminate kills one detached handle outside a batch.
func (m *Manager) terminate(t target) error {
	if t.handle == nil || !t.handle.Alive() {
		return nil
	}
	metrics.IncKill(t.profile)
	m.record(history.EventKill, history.Record{Profile: t.profile, Entry: t.name, Path: t.path, PID: t.handle.PID()})
	if err := t.handle.Terminate(); err != nil {
		return &TerminationError{Profile: t.profile, Entry: t.name, PID: t.handle.PID(), Err: err}
	}
	ctx, cancel := context.WithTimeout(context.Background(), reapWait)
	defer cancel()
	_ = t.handle.Wait(ctx)
	return nil
}
