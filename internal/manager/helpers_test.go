//go:build !windows

package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/applauncher/internal/detector"
	"github.com/loykin/applauncher/internal/profile"
)

// fakeGuard reports images as running from a fixed set and serves Find from a table.
type fakeGuard struct {
	mu      sync.Mutex
	running map[string]bool
	found   map[string][]detector.Proc
	block   chan struct{}
	finds   []string
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{running: map[string]bool{}, found: map[string][]detector.Proc{}}
}

func (g *fakeGuard) IsRunning(ctx context.Context, image string) (bool, error) {
	g.mu.Lock()
	block := g.block
	g.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running[detector.ImageName(image)], nil
}

func (g *fakeGuard) Find(_ context.Context, image string) ([]detector.Proc, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finds = append(g.finds, image)
	return g.found[detector.ImageName(image)], nil
}

// memStore keeps the last saved document in memory.
type memStore struct {
	mu       sync.Mutex
	loaded   []*profile.Profile
	saves    int
	lastSave []*profile.Profile
	fail     bool
}

func (s *memStore) Load(context.Context) ([]*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded, nil
}

func (s *memStore) SaveAsync(ps []*profile.Profile) <-chan error {
	ch := make(chan error, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		ch <- errors.New("disk full")
		return ch
	}
	s.saves++
	s.lastSave = nil
	for _, p := range ps {
		s.lastSave = append(s.lastSave, p.Clone())
	}
	ch <- nil
	return ch
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

const sleepBin = "/bin/sleep"

func newTestManager(t *testing.T) (*Manager, *fakeGuard, *memStore) {
	t.Helper()
	g := newFakeGuard()
	st := &memStore{}
	m := NewManager(g)
	m.SetStore(st)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m.StopAll(ctx)
		waitNoLive(t, m)
	})
	return m, g, st
}

func addProfile(t *testing.T, m *Manager, name string, apps ...profile.Application) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.AddProfile(ctx, name))
	for _, a := range apps {
		_, err := m.AddApplication(ctx, name, a)
		require.NoError(t, err)
	}
}

func view(t *testing.T, m *Manager, name string) profile.View {
	t.Helper()
	v, err := m.Profile(name)
	require.NoError(t, err)
	return v
}

func waitNoLive(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(m.LivePIDs()) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

// liveHandles counts entries whose handle is set, alive or not.
func liveHandles(m *Manager, name string) int {
	p, err := m.lookup(name)
	if err != nil {
		return 0
	}
	p.Lock()
	defer p.Unlock()
	n := 0
	for _, a := range p.Applications {
		if a.Handle() != nil {
			n++
		}
	}
	return n
}
