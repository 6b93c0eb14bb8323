package manager

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/applauncher/internal/events"
	"github.com/loykin/applauncher/internal/history"
	"github.com/loykin/applauncher/internal/logger"
	"github.com/loykin/applauncher/internal/metrics"
	"github.com/loykin/applauncher/internal/process"
	"github.com/loykin/applauncher/internal/profile"
)

// Action says what a toggle did.
type Action string

const (
	ActionLaunched Action = "launched"
	ActionStopped  Action = "stopped"
)

// Result summarises one batch operation.
type Result struct {
	Profile  string    `json:"profile"`
	Action   Action    `json:"action"`
	Running  bool      `json:"running"`
	Started  []string  `json:"started,omitempty"`
	Skipped  []string  `json:"skipped,omitempty"` // already running on the host
	Killed   int       `json:"killed"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// batch collects per-entry outcomes from concurrent workers.
type batch struct {
	mu  sync.Mutex
	res Result
}

func (b *batch) started(name string) {
	b.mu.Lock()
	b.res.Started = append(b.res.Started, name)
	b.mu.Unlock()
}

func (b *batch) skipped(name string) {
	b.mu.Lock()
	b.res.Skipped = append(b.res.Skipped, name)
	b.mu.Unlock()
}

func (b *batch) killed(n int) {
	b.mu.Lock()
	b.res.Killed += n
	b.mu.Unlock()
}

func (b *batch) warn(w Warning) {
	b.mu.Lock()
	b.res.Warnings = append(b.res.Warnings, w)
	b.mu.Unlock()
}

// target is an entry's persisted fields read under the profile lock.
type target struct {
	app     *profile.Application
	index   int
	profile string
	name    string
	path    string
	args    string
	handle  *process.Process
}

func snapshotTargets(p *profile.Profile) []target {
	p.Lock()
	defer p.Unlock()
	out := make([]target, 0, len(p.Applications))
	for i, a := range p.Applications {
		out = append(out, target{
			app:     a,
			index:   i,
			profile: p.Name,
			name:    a.Name,
			path:    strings.TrimSpace(a.Path),
			args:    a.Arguments,
			handle:  a.Handle(),
		})
	}
	return out
}

// Launch toggles the profile: a running profile is stopped, otherwise every
// eligible entry is started. Per-entry failures are returned as warnings.
func (m *Manager) Launch(ctx context.Context, name string) (Result, error) {
	p, err := m.lookup(name)
	if err != nil {
		return Result{}, err
	}
	op, err := m.lockOp(p)
	if err != nil {
		return Result{}, err
	}
	defer op.Unlock()

	if p.Running() {
		return m.stop(ctx, p), nil
	}
	if m.closed.Load() {
		return Result{}, ErrShuttingDown
	}
	m.launching.Add(1)
	defer m.launching.Add(-1)
	return m.launch(ctx, p), nil
}

func (m *Manager) launch(ctx context.Context, p *profile.Profile) Result {
	began := time.Now()
	targets := snapshotTargets(p)
	b := &batch{}
	if len(targets) > 0 {
		b.res.Profile = targets[0].profile
	} else {
		b.res.Profile = p.Snapshot().Name
	}
	b.res.Action = ActionLaunched

	m.mu.RLock()
	limit := m.concurrency
	sc := spawnConfig{log: m.childLog, env: m.childEnv}
	m.mu.RUnlock()

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, t := range targets {
		g.Go(func() error {
			m.launchEntry(ctx, p, t, sc, b)
			return nil
		})
	}
	_ = g.Wait()

	// the flag is set once, from what is alive now
	p.Lock()
	changed := m.setRunningLocked(p, p.LiveLocked())
	b.res.Running = p.RunningLocked()
	p.Unlock()
	if changed || len(b.res.Started) > 0 {
		m.refreshGauges(p)
	}
	metrics.ObserveLaunchDuration(b.res.Profile, time.Since(began).Seconds())
	slog.Info("Profile launch settled", "profile", b.res.Profile, "started", len(b.res.Started),
		"skipped", len(b.res.Skipped), "warnings", len(b.res.Warnings), "running", b.res.Running)
	return b.res
}

// spawnConfig is what every child of one batch shares.
type spawnConfig struct {
	log logger.FileConfig
	env []string
}

func (m *Manager) launchEntry(ctx context.Context, p *profile.Profile, t target, sc spawnConfig, b *batch) {
	if t.path == "" {
		return
	}
	if t.handle != nil && t.handle.Alive() {
		// still ours from an earlier launch
		return
	}
	rec := history.Record{Profile: t.profile, Entry: t.name, Path: t.path}

	dup, err := m.guard.IsRunning(ctx, t.path)
	if err != nil {
		slog.Warn("Duplicate check failed, launching anyway", "profile", t.profile, "entry", t.name, "err", err)
	}
	if dup {
		slog.Info("Already running on host, skipping", "profile", t.profile, "entry", t.name, "path", t.path)
		b.skipped(t.name)
		metrics.IncDuplicateSkip(t.profile)
		m.record(history.EventSkip, rec)
		return
	}

	h, err := process.Start(process.Spec{
		Name:      t.profile + "-" + t.name,
		Path:      t.path,
		Arguments: t.args,
		Env:       sc.env,
		Log:       sc.log,
	})
	if err != nil {
		w := Warning{Profile: t.profile, Entry: t.name, Index: t.index, Kind: WarnLaunchFailed, Message: launchMessage(err), Err: err}
		slog.Warn("Launch failed", "profile", t.profile, "entry", t.name, "path", t.path, "err", err)
		b.warn(w)
		metrics.IncLaunchFailure(t.profile)
		rec.ExitErr = err.Error()
		m.record(history.EventFail, rec)
		m.publish(events.Event{Kind: events.LaunchWarning, Profile: t.profile, Entry: t.name, Index: t.index, Message: w.Message})
		return
	}

	p.Lock()
	t.app.SetHandle(h)
	p.Unlock()
	h.OnExit(func(h *process.Process, exitErr error) { m.onExit(p, t.app, h, exitErr) })

	b.started(t.name)
	metrics.IncLaunch(t.profile)
	rec.PID = h.PID()
	m.record(history.EventStart, rec)
	m.publish(events.Event{Kind: events.EntryHandleChanged, Profile: t.profile, Entry: t.name, Index: t.index, PID: h.PID(), Running: true})
	slog.Info("Entry started", "profile", t.profile, "entry", t.name, "pid", h.PID())
}

func launchMessage(err error) string {
	var le *process.LaunchError
	if errors.As(err, &le) && le.Err != nil {
		return le.Err.Error()
	}
	return err.Error()
}

// onExit runs on the handle's monitor goroutine. It clears the entry's
// reference if it still points at h and reconciles the profile.
func (m *Manager) onExit(p *profile.Profile, a *profile.Application, h *process.Process, exitErr error) {
	exit := profile.Exit{PID: h.PID(), Killed: h.Killed(), StartedAt: h.StartedAt(), StoppedAt: h.StoppedAt()}
	if err := h.ExitErr(); err != nil {
		exit.Err = err.Error()
	}

	p.Lock()
	cleared := false
	switch a.Handle() {
	case h:
		a.SetHandle(nil)
		cleared = true
		a.SetLastExit(exit)
	case nil:
		// detached by a stop
		a.SetLastExit(exit)
	}
	m.reconcileLocked(p)
	pname, ename, index := p.Name, a.Name, indexOf(p, a)
	p.Unlock()
	h.Close()

	metrics.IncExit(pname)
	m.record(history.EventExit, history.Record{Profile: pname, Entry: ename, Path: h.Spec().Path, PID: h.PID(), ExitErr: exit.Err})
	if cleared {
		slog.Info("Entry exited", "profile", pname, "entry", ename, "pid", h.PID(), "uptime", exit.Uptime(), "err", exitErr)
		m.publish(events.Event{Kind: events.EntryHandleChanged, Profile: pname, Entry: ename, Index: index, PID: h.PID(), Running: false})
	}
	m.refreshGauges(p)
}

// indexOf returns a's position in p or -1. Caller holds p's lock.
func indexOf(p *profile.Profile, a *profile.Application) int {
	for i, x := range p.Applications {
		if x == a {
			return i
		}
	}
	return -1
}
