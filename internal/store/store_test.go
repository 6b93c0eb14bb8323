package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/applauncher/internal/profile"
)

func devProfiles() []*profile.Profile {
	dev := profile.New("Dev")
	dev.AddApplication(&profile.Application{Name: "Editor", Path: "/bin/editor"})
	dev.AddApplication(&profile.Application{Name: "Server", Path: "/bin/server", Arguments: "--port=8080"})
	ops := profile.New("Ops")
	ops.AddApplication(&profile.Application{Name: "Top", Path: "/usr/bin/top", Arguments: "-d 1"})
	return []*profile.Profile{dev, ops}
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "profiles.json"))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	want := devProfiles()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("profile count %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Name != want[i].Name || len(got[i].Applications) != len(want[i].Applications) {
			t.Fatalf("profile %d mismatch: %+v", i, got[i])
		}
		for j, a := range want[i].Applications {
			b := got[i].Applications[j]
			if a.Name != b.Name || a.Path != b.Path || a.Arguments != b.Arguments {
				t.Fatalf("entry %d/%d mismatch: %+v vs %+v", i, j, a, b)
			}
		}
		if got[i].Running() {
			t.Fatalf("loaded profile must not be running")
		}
	}
}

func TestFileLayout(t *testing.T) {
	s := newStore(t)
	p := profile.New("Dev")
	p.AddApplication(&profile.Application{Name: "Editor", Path: "/bin/editor"})
	if err := s.Save(context.Background(), []*profile.Profile{p}); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	want := `[
  {
    "Name": "Dev",
    "Applications": [
      {
        "Name": "Editor",
        "Path": "/bin/editor",
        "Arguments": ""
      }
    ]
  }
]
`
	if string(data) != want {
		t.Fatalf("unexpected file:\n%s", data)
	}
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	s := newStore(t)
	got, err := s.Load(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("missing file: %v %v", got, err)
	}
	for _, content := range []string{"{not json", "", "null", `{"Name":"x"}`} {
		if err := os.WriteFile(s.Path(), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		got, err := s.Load(context.Background())
		if err != nil || got == nil || len(got) != 0 {
			t.Fatalf("content %q: expected empty list, got %v %v", content, got, err)
		}
	}
}

func TestLoadSkipsNullEntries(t *testing.T) {
	s := newStore(t)
	content := `[null, {"Name":"Dev","Applications":[null,{"Name":"Editor","Path":"/bin/editor","Arguments":""}]}]`
	if err := os.WriteFile(s.Path(), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Load(context.Background())
	if len(got) != 1 || len(got[0].Applications) != 1 || got[0].Applications[0].Name != "Editor" {
		t.Fatalf("unexpected load: %+v", got)
	}
}

func TestLoadCancelled(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Load(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConcurrentSavesLastStateWins(t *testing.T) {
	s := newStore(t)
	var wg sync.WaitGroup
	results := make([]<-chan error, 0, 20)
	var mu sync.Mutex
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := s.SaveAsync(devProfiles())
			mu.Lock()
			results = append(results, ch)
			mu.Unlock()
		}()
	}
	wg.Wait()
	final := profile.New("Final")
	if err := s.Save(context.Background(), []*profile.Profile{final}); err != nil {
		t.Fatalf("final save: %v", err)
	}
	for _, ch := range results {
		select {
		case err := <-ch:
			if err != nil {
				t.Fatalf("superseded save reported error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("superseded save never completed")
		}
	}
	got, _ := s.Load(context.Background())
	if len(got) != 1 || got[0].Name != "Final" {
		t.Fatalf("expected last requested state, got %+v", got)
	}
	if matches, _ := filepath.Glob(filepath.Join(filepath.Dir(s.Path()), ".profiles-*.tmp")); len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}

func TestInterleavedEditsPersistNewestState(t *testing.T) {
	s := newStore(t)
	shared := profile.New("0")
	var (
		wg   sync.WaitGroup
		seq  atomic.Int64
		mu   sync.Mutex
		wait []<-chan error
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				shared.Rename(strconv.FormatInt(seq.Add(1), 10))
				ch := s.SaveAsync([]*profile.Profile{shared})
				mu.Lock()
				wait = append(wait, ch)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	for _, ch := range wait {
		select {
		case err := <-ch:
			if err != nil {
				t.Fatalf("save: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("save never completed")
		}
	}
	got, _ := s.Load(context.Background())
	want := shared.Clone().Name
	if len(got) != 1 || got[0].Name != want {
		t.Fatalf("file holds %+v, newest name is %q", got, want)
	}
}

func TestSaveFailureIsPersistenceError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	s := New(filepath.Join(blocker, "profiles.json"))
	defer func() { _ = s.Close() }()
	err := s.Save(context.Background(), devProfiles())
	var pe *PersistenceError
	if !errors.As(err, &pe) || !errors.Is(err, ErrPersistenceFailed) || pe.Op != "save" {
		t.Fatalf("expected save PersistenceError, got %v", err)
	}
}

func TestSaveAfterClose(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "profiles.json"))
	_ = s.Close()
	_ = s.Close()
	if err := <-s.SaveAsync(nil); !errors.Is(err, ErrPersistenceFailed) {
		t.Fatalf("expected error after close, got %v", err)
	}
}

func TestWatchIgnoresOwnWrites(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan []*profile.Profile, 4)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, func(ps []*profile.Profile) { changes <- ps })
	}()
	defer func() {
		cancel()
		<-done
	}()
	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	if err := s.Save(ctx, devProfiles()); err != nil {
		t.Fatalf("save: %v", err)
	}
	select {
	case ps := <-changes:
		t.Fatalf("own write reported as change: %+v", ps)
	case <-time.After(4 * debounceDelay):
	}

	external := `[{"Name":"Edited","Applications":[]}]`
	if err := os.WriteFile(s.Path(), []byte(external), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case ps := <-changes:
		if len(ps) != 1 || ps[0].Name != "Edited" {
			t.Fatalf("unexpected reload: %+v", ps)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("external edit not observed")
	}
}

func TestDefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	t.Setenv("AppData", dir)
	p, err := DefaultPath()
	if err != nil {
		t.Fatalf("DefaultPath: %v", err)
	}
	if filepath.Base(p) != "profiles.json" || filepath.Base(filepath.Dir(p)) != "applauncher" {
		t.Fatalf("unexpected path %s", p)
	}
	if fi, err := os.Stat(filepath.Dir(p)); err != nil || !fi.IsDir() {
		t.Fatalf("config dir not created: %v", err)
	}
}
