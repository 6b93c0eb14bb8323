package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/applauncher/internal/config"
	"github.com/loykin/applauncher/internal/env"
	"github.com/loykin/applauncher/internal/events"
	"github.com/loykin/applauncher/internal/history"
	"github.com/loykin/applauncher/internal/history/factory"
	"github.com/loykin/applauncher/internal/logger"
	"github.com/loykin/applauncher/internal/manager"
	"github.com/loykin/applauncher/internal/metrics"
	"github.com/loykin/applauncher/internal/server"
	"github.com/loykin/applauncher/internal/store"
)

const shutdownTimeout = 5 * time.Second

func runServeCommand(configPath string, flags *ServeFlags) error {
	if flags.Daemonize {
		if !isDaemonSupported() {
			return fmt.Errorf("daemonize is not supported on this platform")
		}
		return daemonize(flags.PidFile, flags.LogFile)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("Shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return d.run(ctx)
}

// daemon is the wired engine behind `serve`.
type daemon struct {
	cfg       *config.Config
	store     *store.Store
	mgr       *manager.Manager
	bus       *events.Bus
	rec       *history.Recorder
	resources *metrics.ResourceCollector
	srv       *http.Server
	ln        net.Listener
	closeLog  func() error
}

// newDaemon wires every component from cfg, loads the profiles and binds
// the API listener. Nothing runs until run is called.
func newDaemon(ctx context.Context, cfg *config.Config, console io.Writer) (*daemon, error) {
	_, closeLog, err := logger.Setup(cfg.Log, console)
	if err != nil {
		return nil, err
	}
	d := &daemon{cfg: cfg, closeLog: closeLog}
	ok := false
	defer func() {
		if !ok {
			d.close()
		}
	}()

	path := cfg.ProfilesPath
	if path == "" {
		if path, err = store.DefaultPath(); err != nil {
			return nil, err
		}
	}
	d.store = store.New(path)

	if d.rec, err = factory.NewRecorderFromDSNs(cfg.History.DSN); err != nil {
		return nil, err
	}
	childEnv, err := buildChildEnv(cfg.Env)
	if err != nil {
		return nil, err
	}

	d.bus = events.NewBus()
	d.mgr = manager.NewManager(nil)
	d.mgr.SetStore(d.store)
	d.mgr.SetBus(d.bus)
	d.mgr.SetRecorder(d.rec)
	d.mgr.SetChildLog(cfg.Log.File)
	d.mgr.SetChildEnv(childEnv)
	d.mgr.SetConcurrency(cfg.Launch.Concurrency)
	if err := d.mgr.Load(ctx); err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	if cfg.Metrics.SampleInterval > 0 {
		d.resources = metrics.NewResourceCollector(cfg.Metrics.SampleInterval)
		if cfg.Metrics.Enabled {
			if err := d.resources.Register(prometheus.DefaultRegisterer); err != nil {
				return nil, fmt.Errorf("register resource metrics: %w", err)
			}
		}
	}

	router := server.NewRouter(d.mgr, cfg.Server.BasePath)
	router.SetBus(d.bus)
	if rd := d.rec.Reader(); rd != nil {
		router.SetHistory(rd)
	}
	if d.resources != nil {
		router.SetResources(d.resources)
	}
	if cfg.Metrics.Enabled {
		router.EnableMetrics()
	}
	d.srv = server.NewServer(cfg.Server.Listen, router)

	if d.ln, err = net.Listen("tcp", cfg.Server.Listen); err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
	}
	ok = true
	return d, nil
}

// buildChildEnv composes the environment handed to every launched entry.
func buildChildEnv(c config.EnvConfig) ([]string, error) {
	e := env.New(c.InheritOS)
	for _, f := range c.Files {
		if err := e.LoadFile(f); err != nil {
			return nil, err
		}
	}
	e.SetPairs(c.Vars)
	return e.List(), nil
}

// addr is the bound API address.
func (d *daemon) addr() string { return d.ln.Addr().String() }

// run serves the API and follows the profiles file until ctx is done, then
// stops every running profile and shuts down.
func (d *daemon) run(ctx context.Context) error {
	defer d.close()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API listening", "addr", d.addr(), "base", d.cfg.Server.BasePath)
		if err := d.srv.Serve(d.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		if err := d.store.Watch(watchCtx, d.mgr.Reload); err != nil {
			slog.Warn("Profiles file watch stopped", "error", err)
		}
	}()

	if d.resources != nil {
		d.resources.Start(ctx, d.mgr.LivePIDs)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		slog.Error("API server failed", "error", runErr)
	}
	stopWatch()

	// launches arriving from here on are refused, so nothing spawns behind the stop
	for _, r := range d.mgr.Shutdown(context.Background()) {
		slog.Info("Profile stopped on shutdown", "profile", r.Profile, "killed", r.Killed)
	}
	// closing the bus ends open event streams so Shutdown is not held up by them
	d.bus.Close()
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.srv.Shutdown(shCtx); err != nil {
		slog.Warn("API shutdown", "error", err)
		_ = d.srv.Close()
	}
	return runErr
}

func (d *daemon) close() {
	if d.resources != nil {
		d.resources.Stop()
	}
	if d.bus != nil {
		d.bus.Close()
	}
	if d.ln != nil {
		_ = d.ln.Close()
	}
	if d.rec != nil {
		if err := d.rec.Close(); err != nil {
			slog.Warn("Closing history sinks", "error", err)
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			slog.Warn("Closing profile store", "error", err)
		}
	}
	if d.closeLog != nil {
		_ = d.closeLog()
		d.closeLog = nil
	}
}
