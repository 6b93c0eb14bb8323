package manager

import (
	"context"
	"log/slog"
	"strings"

	"github.com/loykin/applauncher/internal/metrics"
	"github.com/loykin/applauncher/internal/profile"
)

// AppUpdate carries the fields to change on an entry; nil leaves a field as is.
type AppUpdate struct {
	Name      *string `json:"name,omitempty"`
	Path      *string `json:"path,omitempty"`
	Arguments *string `json:"arguments,omitempty"`
}

// save queues a write of the whole registry and waits for it. Failures are
// logged by the store and not returned.
func (m *Manager) save(ctx context.Context) {
	m.mu.RLock()
	if m.st == nil {
		m.mu.RUnlock()
		return
	}
	// queued under mu so the saved list matches the registry at queue time
	res := m.st.SaveAsync(m.profiles)
	m.mu.RUnlock()
	select {
	case err := <-res:
		if err != nil {
			slog.Debug("Save after change failed", "err", err)
		}
	case <-ctx.Done():
	}
}

// AddProfile appends an empty profile.
func (m *Manager) AddProfile(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	m.mu.Lock()
	if _, err := m.lookupLocked(name); err == nil {
		m.mu.Unlock()
		return ErrProfileExists
	}
	m.profiles = append(m.profiles, profile.New(name))
	m.mu.Unlock()
	m.save(ctx)
	return nil
}

// RemoveProfile stops the profile if needed and deletes it.
func (m *Manager) RemoveProfile(ctx context.Context, name string) error {
	p, err := m.lookup(name)
	if err != nil {
		return err
	}
	op, err := m.lockOp(p)
	if err != nil {
		return err
	}
	p.Lock()
	busy := p.RunningLocked() || p.LiveLocked()
	p.Unlock()
	if busy {
		m.stop(ctx, p)
	}
	m.mu.Lock()
	for i, q := range m.profiles {
		if q == p {
			m.profiles = append(m.profiles[:i], m.profiles[i+1:]...)
			break
		}
	}
	delete(m.ops, p)
	m.mu.Unlock()
	op.Unlock()

	m.refreshGauges(p)
	metrics.ForgetProfile(strings.TrimSpace(name))
	m.save(ctx)
	return nil
}

// RenameProfile changes a profile's label.
func (m *Manager) RenameProfile(ctx context.Context, from, to string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return ErrEmptyName
	}
	m.mu.Lock()
	p, err := m.lookupLocked(from)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if q, err := m.lookupLocked(to); err == nil && q != p {
		m.mu.Unlock()
		return ErrProfileExists
	}
	p.Rename(to)
	m.mu.Unlock()
	m.save(ctx)
	return nil
}

// AddApplication appends an entry. An entry without a name, or with the
// placeholder, is named after its executable.
func (m *Manager) AddApplication(ctx context.Context, name string, app profile.Application) (int, error) {
	p, err := m.lookup(name)
	if err != nil {
		return 0, err
	}
	a := &profile.Application{Name: strings.TrimSpace(app.Name), Arguments: app.Arguments}
	if a.Name == "" {
		a.Name = profile.PlaceholderName
	}
	if app.Path != "" {
		a.ChooseExecutable(app.Path)
	}
	i := p.AddApplication(a)
	m.save(ctx)
	return i, nil
}

// UpdateApplication edits an entry in place. A live child keeps running
// with its old command line.
func (m *Manager) UpdateApplication(ctx context.Context, name string, index int, u AppUpdate) (profile.AppView, error) {
	p, err := m.lookup(name)
	if err != nil {
		return profile.AppView{}, err
	}
	p.Lock()
	if index < 0 || index >= len(p.Applications) {
		p.Unlock()
		return profile.AppView{}, profile.ErrIndexOutOfRange
	}
	a := p.Applications[index]
	if u.Name != nil {
		a.Name = strings.TrimSpace(*u.Name)
		if a.Name == "" {
			a.Name = profile.PlaceholderName
		}
	}
	if u.Path != nil {
		a.ChooseExecutable(strings.TrimSpace(*u.Path))
	}
	if u.Arguments != nil {
		a.Arguments = *u.Arguments
	}
	av := a.ViewLocked(index)
	p.Unlock()
	m.save(ctx)
	return av, nil
}

// RemoveApplication terminates the entry's child if it has one, then
// removes the entry and reconciles the profile.
func (m *Manager) RemoveApplication(ctx context.Context, name string, index int) error {
	p, err := m.lookup(name)
	if err != nil {
		return err
	}
	op, err := m.lockOp(p)
	if err != nil {
		return err
	}
	defer op.Unlock()

	p.Lock()
	if index < 0 || index >= len(p.Applications) {
		p.Unlock()
		return profile.ErrIndexOutOfRange
	}
	a := p.Applications[index]
	t := target{app: a, index: index, profile: p.Name, name: a.Name, path: a.Path, handle: a.Handle()}
	a.SetHandle(nil)
	p.Unlock()

	if err := m.terminate(t); err != nil {
		// keep the entry so the user can retry
		p.Lock()
		if t.handle.Alive() {
			a.SetHandle(t.handle)
		}
		p.Unlock()
		return err
	}
	p.Lock()
	p.RemoveLocked(a)
	m.reconcileLocked(p)
	p.Unlock()
	m.refreshGauges(p)
	m.save(ctx)
	return nil
}

// MoveApplication reorders entries; order is kept across save and load.
func (m *Manager) MoveApplication(ctx context.Context, name string, from, to int) error {
	p, err := m.lookup(name)
	if err != nil {
		return err
	}
	if err := p.MoveApplication(from, to); err != nil {
		return err
	}
	m.save(ctx)
	return nil
}
