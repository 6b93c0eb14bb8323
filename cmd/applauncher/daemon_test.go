package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"
)

func TestPidFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "applauncher.pid")

	if err := writePidFile(pidFile, os.Getpid()); err != nil {
		t.Fatalf("writePidFile failed: %v", err)
	}
	b, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if string(b) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("pid file contains %q", b)
	}

	if err := removePidFile(pidFile); err != nil {
		t.Errorf("removePidFile failed: %v", err)
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("PID file was not removed")
	}
	if err := removePidFile(""); err != nil {
		t.Errorf("empty pid file path should be a no-op: %v", err)
	}
}

func TestDaemonArgs(t *testing.T) {
	in := []string{"serve", "--daemonize", "--logfile", "/tmp/out.log", "--pidfile", "/tmp/a.pid", "--logfile=/tmp/x", "cfg.toml"}
	got := daemonArgs(in)
	want := []string{"serve", "--pidfile", "/tmp/a.pid", "cfg.toml"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("daemonArgs = %v, want %v", got, want)
	}
}
