package detector

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"
)

type fakeLister struct {
	procs []Proc
	err   error
}

func (f fakeLister) Processes(context.Context) ([]Proc, error) { return f.procs, f.err }

func TestImageName(t *testing.T) {
	cases := map[string]string{
		`C:\Program Files\Editor\Code.EXE`: "code",
		"/usr/bin/code":                    "code",
		"notepad.exe":                      "notepad",
		"  server  ":                       "server",
		"archive.tar.gz":                   "archive.tar",
		"":                                 "",
	}
	for in, want := range cases {
		if got := ImageName(in); got != want {
			t.Errorf("ImageName(%q)=%q want %q", in, got, want)
		}
	}
}

func TestGuardFindCaseInsensitive(t *testing.T) {
	g := &Guard{lister: fakeLister{procs: []Proc{
		{PID: 10, Name: "NOTEPAD.EXE"},
		{PID: 11, Name: "bash"},
		{PID: 12, Name: "notepad.exe"},
	}}, self: 1}
	found, err := g.Find(context.Background(), `C:\Windows\notepad.exe`)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(found) != 2 || found[0].PID != 10 || found[1].PID != 12 {
		t.Fatalf("unexpected matches: %+v", found)
	}
}

func TestGuardIgnoresSelf(t *testing.T) {
	g := &Guard{lister: fakeLister{procs: []Proc{{PID: 42, Name: "applauncher"}}}, self: 42}
	ok, err := g.IsRunning(context.Background(), "/opt/applauncher")
	if err != nil || ok {
		t.Fatalf("own pid must not match, got ok=%v err=%v", ok, err)
	}
}

func TestGuardTruncatedCommUsesExe(t *testing.T) {
	g := &Guard{lister: fakeLister{procs: []Proc{
		{PID: 7, Name: "very-long-serve", Exe: "/srv/very-long-server-name"},
		{PID: 8, Name: "very-long-serve", Exe: "/srv/very-long-service"},
	}}, self: 1}
	found, err := g.Find(context.Background(), "/srv/very-long-server-name")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(found) != 1 || found[0].PID != 7 {
		t.Fatalf("expected exe match only, got %+v", found)
	}
}

func TestGuardEmptyImage(t *testing.T) {
	g := &Guard{lister: fakeLister{err: errors.New("must not be called")}}
	found, err := g.Find(context.Background(), " ")
	if err != nil || found != nil {
		t.Fatalf("empty image should short-circuit, got %v %v", found, err)
	}
}

func TestGuardListerError(t *testing.T) {
	g := &Guard{lister: fakeLister{err: errors.New("denied")}}
	if _, err := g.IsRunning(context.Background(), "x"); err == nil {
		t.Fatalf("expected lister error")
	}
}

func TestImageDetectorDescribe(t *testing.T) {
	d := ImageDetector{Guard: &Guard{lister: fakeLister{procs: []Proc{{PID: 3, Name: "editor"}}}}, Image: "/usr/bin/Editor"}
	if d.Describe() != "image:editor" {
		t.Fatalf("Describe mismatch: %q", d.Describe())
	}
	alive, err := d.Alive()
	if err != nil || !alive {
		t.Fatalf("expected alive, got %v %v", alive, err)
	}
}

func TestPIDDetector(t *testing.T) {
	d := PIDDetector{PID: os.Getpid()}
	alive, err := d.Alive()
	if err != nil || !alive {
		t.Fatalf("own pid should be alive, got %v %v", alive, err)
	}
	if d.Describe() == "" {
		t.Fatalf("empty Describe")
	}
	alive, err = PIDDetector{PID: 0}.Alive()
	if err != nil || alive {
		t.Fatalf("pid 0 should not be alive, got %v %v", alive, err)
	}
}

func TestHostListerFindsChild(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	defer func() { _ = cmd.Process.Kill(); _ = cmd.Wait() }()

	g := NewGuard(nil)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		found, err := g.Find(context.Background(), "/bin/sleep")
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		for _, p := range found {
			if int(p.PID) == cmd.Process.Pid {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("child pid %d not found by image name", cmd.Process.Pid)
}
