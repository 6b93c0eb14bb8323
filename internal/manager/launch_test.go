//go:build !windows

package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/applauncher/internal/events"
	"github.com/loykin/applauncher/internal/logger"
	"github.com/loykin/applauncher/internal/process"
	"github.com/loykin/applauncher/internal/profile"
)

func TestLaunchStartsEveryEntry(t *testing.T) {
	m, _, _ := newTestManager(t)
	addProfile(t, m, "Dev",
		profile.Application{Name: "Editor", Path: sleepBin, Arguments: "30"},
		profile.Application{Name: "Server", Path: sleepBin, Arguments: "31"},
	)

	res, err := m.Launch(context.Background(), "Dev")
	require.NoError(t, err)
	assert.Equal(t, ActionLaunched, res.Action)
	assert.True(t, res.Running)
	assert.ElementsMatch(t, []string{"Editor", "Server"}, res.Started)
	assert.Empty(t, res.Warnings)

	v := view(t, m, "Dev")
	assert.True(t, v.Running)
	for _, a := range v.Applications {
		assert.True(t, a.Running, a.Name)
		assert.Positive(t, a.PID, a.Name)
	}
	assert.Len(t, m.LivePIDs(), 2)
	assert.Equal(t, []string{"Dev"}, m.RunningProfiles())
}

func TestLaunchTogglesToStop(t *testing.T) {
	m, _, _ := newTestManager(t)
	addProfile(t, m, "Dev", profile.Application{Name: "Editor", Path: sleepBin, Arguments: "30"})
	ctx := context.Background()

	_, err := m.Launch(ctx, "Dev")
	require.NoError(t, err)
	res, err := m.Launch(ctx, "Dev")
	require.NoError(t, err)
	assert.Equal(t, ActionStopped, res.Action)
	assert.False(t, res.Running)
	assert.Equal(t, 1, res.Killed)
	assert.False(t, view(t, m, "Dev").Running)
	assert.Zero(t, liveHandles(m, "Dev"))
}

func TestLaunchSkipsEmptyPath(t *testing.T) {
	m, g, _ := newTestManager(t)
	addProfile(t, m, "Dev",
		profile.Application{Name: "Blank"},
		profile.Application{Name: "Editor", Path: sleepBin, Arguments: "30"},
	)

	res, err := m.Launch(context.Background(), "Dev")
	require.NoError(t, err)
	assert.Equal(t, []string{"Editor"}, res.Started)
	assert.Empty(t, res.Warnings)
	assert.False(t, view(t, m, "Dev").Applications[0].Running)

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Empty(t, g.finds)
}

func TestLaunchOnlyBlankEntriesStaysStopped(t *testing.T) {
	m, _, _ := newTestManager(t)
	addProfile(t, m, "Dev", profile.Application{Name: "Blank"})

	res, err := m.Launch(context.Background(), "Dev")
	require.NoError(t, err)
	assert.False(t, res.Running)
	assert.Empty(t, res.Started)
}

func TestLaunchFailureIsWarning(t *testing.T) {
	m, _, _ := newTestManager(t)
	addProfile(t, m, "Dev",
		profile.Application{Name: "Broken", Path: "/nonexistent/applauncher-test-binary"},
		profile.Application{Name: "Editor", Path: sleepBin, Arguments: "30"},
	)
	bus := events.NewBus()
	m.SetBus(bus)
	ch, cancel := bus.Subscribe(32)
	defer cancel()

	res, err := m.Launch(context.Background(), "Dev")
	require.NoError(t, err)
	assert.True(t, res.Running)
	assert.Equal(t, []string{"Editor"}, res.Started)
	require.Len(t, res.Warnings, 1)
	w := res.Warnings[0]
	assert.Equal(t, WarnLaunchFailed, w.Kind)
	assert.Equal(t, "Broken", w.Entry)
	assert.Equal(t, 0, w.Index)
	assert.True(t, errors.Is(w.Err, process.ErrLaunchFailed))
	assert.NotEmpty(t, w.Message)

	assert.True(t, sawEvent(ch, func(ev events.Event) bool {
		return ev.Kind == events.LaunchWarning && ev.Entry == "Broken"
	}))
}

func TestLaunchAllFailedStaysStopped(t *testing.T) {
	m, _, _ := newTestManager(t)
	addProfile(t, m, "Dev", profile.Application{Name: "Broken", Path: "/nonexistent/applauncher-test-binary"})

	res, err := m.Launch(context.Background(), "Dev")
	require.NoError(t, err)
	assert.False(t, res.Running)
	assert.Len(t, res.Warnings, 1)
	assert.False(t, view(t, m, "Dev").Running)
}

func TestLaunchSkipsDuplicates(t *testing.T) {
	m, g, _ := newTestManager(t)
	g.running["sleep"] = true
	addProfile(t, m, "Dev", profile.Application{Name: "Editor", Path: sleepBin, Arguments: "30"})

	res, err := m.Launch(context.Background(), "Dev")
	require.NoError(t, err)
	assert.Equal(t, []string{"Editor"}, res.Skipped)
	assert.Empty(t, res.Started)
	assert.False(t, res.Running)
	assert.Zero(t, liveHandles(m, "Dev"))
}

func TestLaunchUnknownProfile(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Launch(context.Background(), "Nope")
	assert.ErrorIs(t, err, ErrUnknownProfile)
}

func TestSelfExitReconciles(t *testing.T) {
	m, _, _ := newTestManager(t)
	addProfile(t, m, "Dev", profile.Application{Name: "Quick", Path: sleepBin, Arguments: "0.3"})

	_, err := m.Launch(context.Background(), "Dev")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return !view(t, m, "Dev").Running
	}, 5*time.Second, 20*time.Millisecond)
	assert.Zero(t, liveHandles(m, "Dev"))
}

func TestExternalKillFlipsOnlyWhenLastEntryGone(t *testing.T) {
	m, _, _ := newTestManager(t)
	addProfile(t, m, "Dev",
		profile.Application{Name: "Editor", Path: sleepBin, Arguments: "30"},
		profile.Application{Name: "Server", Path: sleepBin, Arguments: "31"},
	)
	_, err := m.Launch(context.Background(), "Dev")
	require.NoError(t, err)
	v := view(t, m, "Dev")
	editor, server := v.Applications[0].PID, v.Applications[1].PID

	require.NoError(t, syscall.Kill(server, syscall.SIGKILL))
	require.Eventually(t, func() bool {
		return !view(t, m, "Dev").Applications[1].Running && liveHandles(m, "Dev") == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, view(t, m, "Dev").Running)

	require.NoError(t, syscall.Kill(editor, syscall.SIGKILL))
	require.Eventually(t, func() bool {
		return !view(t, m, "Dev").Running
	}, 5*time.Second, 20*time.Millisecond)
	assert.Zero(t, liveHandles(m, "Dev"))
}

func TestRelaunchAfterExitStartsAgain(t *testing.T) {
	m, _, _ := newTestManager(t)
	addProfile(t, m, "Dev", profile.Application{Name: "Quick", Path: sleepBin, Arguments: "0.2"})
	ctx := context.Background()

	_, err := m.Launch(ctx, "Dev")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return !view(t, m, "Dev").Running
	}, 5*time.Second, 20*time.Millisecond)

	res, err := m.Launch(ctx, "Dev")
	require.NoError(t, err)
	assert.Equal(t, ActionLaunched, res.Action)
	assert.Equal(t, []string{"Quick"}, res.Started)
}

func TestConcurrentTogglesSerialise(t *testing.T) {
	m, _, _ := newTestManager(t)
	addProfile(t, m, "Dev", profile.Application{Name: "Editor", Path: sleepBin, Arguments: "30"})

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := m.Launch(context.Background(), "Dev")
			assert.NoError(t, err)
			results[i] = r
		}()
	}
	wg.Wait()

	actions := []Action{results[0].Action, results[1].Action}
	assert.ElementsMatch(t, []Action{ActionLaunched, ActionStopped}, actions)
	assert.False(t, view(t, m, "Dev").Running)
}

func TestLaunchingIndicator(t *testing.T) {
	m, g, _ := newTestManager(t)
	addProfile(t, m, "Dev", profile.Application{Name: "Editor", Path: sleepBin, Arguments: "30"})
	g.block = make(chan struct{})
	assert.False(t, m.Launching())

	done := make(chan Result, 1)
	go func() {
		r, _ := m.Launch(context.Background(), "Dev")
		done <- r
	}()
	require.Eventually(t, m.Launching, 2*time.Second, 10*time.Millisecond)
	close(g.block)

	select {
	case r := <-done:
		assert.True(t, r.Running)
	case <-time.After(5 * time.Second):
		t.Fatal("launch did not settle")
	}
	assert.False(t, m.Launching())
}

func TestLaunchingIndicatorLowWhileQueued(t *testing.T) {
	m, _, _ := newTestManager(t)
	addProfile(t, m, "Dev", profile.Application{Name: "Editor", Path: sleepBin, Arguments: "30"})
	p, err := m.lookup("Dev")
	require.NoError(t, err)
	op := m.opLock(p)
	op.Lock()

	done := make(chan error, 1)
	go func() {
		_, err := m.Launch(context.Background(), "Dev")
		done <- err
	}()
	assert.Never(t, m.Launching, 150*time.Millisecond, 10*time.Millisecond)
	op.Unlock()
	require.NoError(t, <-done)
	assert.False(t, m.Launching())

	// the second toggle stops and never reports a launch
	_, err = m.Launch(context.Background(), "Dev")
	require.NoError(t, err)
	assert.False(t, m.Launching())
}

func TestLaunchConcurrencyLimit(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.SetConcurrency(1)
	addProfile(t, m, "Dev",
		profile.Application{Name: "A", Path: sleepBin, Arguments: "30"},
		profile.Application{Name: "B", Path: sleepBin, Arguments: "30"},
		profile.Application{Name: "C", Path: sleepBin, Arguments: "30"},
	)

	res, err := m.Launch(context.Background(), "Dev")
	require.NoError(t, err)
	assert.Len(t, res.Started, 3)
	assert.True(t, res.Running)
}

func TestLaunchPublishesEvents(t *testing.T) {
	m, _, _ := newTestManager(t)
	addProfile(t, m, "Dev", profile.Application{Name: "Editor", Path: sleepBin, Arguments: "30"})
	bus := events.NewBus()
	m.SetBus(bus)
	ch, cancel := bus.Subscribe(32)
	defer cancel()
	ctx := context.Background()

	_, err := m.Launch(ctx, "Dev")
	require.NoError(t, err)
	assert.True(t, sawEvent(ch, func(ev events.Event) bool {
		return ev.Kind == events.EntryHandleChanged && ev.Entry == "Editor" && ev.Running && ev.PID > 0
	}))
	assert.True(t, sawEvent(ch, func(ev events.Event) bool {
		return ev.Kind == events.ProfileRunningChanged && ev.Profile == "Dev" && ev.Running
	}))

	_, err = m.Stop(ctx, "Dev")
	require.NoError(t, err)
	assert.True(t, sawEvent(ch, func(ev events.Event) bool {
		return ev.Kind == events.ProfileRunningChanged && ev.Profile == "Dev" && !ev.Running
	}))
}

// sawEvent drains ch until an event matches or a second passes.
func sawEvent(ch <-chan events.Event, match func(events.Event) bool) bool {
	timeout := time.After(time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			if match(ev) {
				return true
			}
		case <-timeout:
			return false
		}
	}
}

func TestLaunchPassesChildEnv(t *testing.T) {
	m, _, _ := newTestManager(t)
	dir := t.TempDir()
	m.SetChildEnv([]string{"PATH=/usr/bin:/bin", "APPLAUNCHER_MARK=seen"})
	m.SetChildLog(logger.FileConfig{Dir: dir})
	addProfile(t, m, "Dev", profile.Application{Name: "Echo", Path: "/bin/sh", Arguments: `-c "echo $APPLAUNCHER_MARK"`})

	_, err := m.Launch(context.Background(), "Dev")
	require.NoError(t, err)
	out := filepath.Join(dir, "Dev-Echo.stdout.log")
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(out)
		return err == nil && strings.TrimSpace(string(b)) == "seen"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDetectNamesTheProbe(t *testing.T) {
	m, g, _ := newTestManager(t)
	addProfile(t, m, "Dev",
		profile.Application{Name: "Editor", Path: sleepBin, Arguments: "30"},
		profile.Application{Name: "Browser", Path: "/usr/bin/firefox"},
		profile.Application{Name: "Blank"},
	)
	g.running["firefox"] = true

	res, err := m.Launch(context.Background(), "Dev")
	require.NoError(t, err)
	assert.Equal(t, []string{"Browser"}, res.Skipped)

	plain := view(t, m, "Dev")
	for _, a := range plain.Applications {
		assert.Empty(t, a.DetectedBy)
	}

	v, err := m.Detect("Dev")
	require.NoError(t, err)
	require.Len(t, v.Applications, 3)
	editor := v.Applications[0]
	require.True(t, editor.Running)
	assert.Equal(t, fmt.Sprintf("pid:%d", editor.PID), editor.DetectedBy)
	assert.Equal(t, "image:firefox", v.Applications[1].DetectedBy)
	assert.Empty(t, v.Applications[2].DetectedBy)

	_, err = m.Detect("Nope")
	assert.ErrorIs(t, err, ErrUnknownProfile)
}
