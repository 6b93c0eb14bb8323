package applauncher

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/applauncher/internal/config"
	"github.com/loykin/applauncher/internal/manager"
	"github.com/loykin/applauncher/internal/metrics"
	"github.com/loykin/applauncher/internal/profile"
	iapi "github.com/loykin/applauncher/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Application = profile.Application

type ProfileView = profile.View

type Result = manager.Result

type Warning = manager.Warning

type Config = config.Config

// ErrShuttingDown is returned by Launch once Shutdown has been called.
var ErrShuttingDown = manager.ErrShuttingDown

// Launcher is a thin facade over internal/manager.Manager for embedding
// the engine without the daemon.
type Launcher struct{ inner *manager.Manager }

func New() *Launcher { return &Launcher{inner: manager.NewManager(nil)} }

func (l *Launcher) SetChildEnv(env []string) { l.inner.SetChildEnv(env) }
func (l *Launcher) SetConcurrency(n int)     { l.inner.SetConcurrency(n) }

func (l *Launcher) AddProfile(ctx context.Context, name string) error {
	return l.inner.AddProfile(ctx, name)
}
func (l *Launcher) RemoveProfile(ctx context.Context, name string) error {
	return l.inner.RemoveProfile(ctx, name)
}
func (l *Launcher) AddApplication(ctx context.Context, profile string, app Application) (int, error) {
	return l.inner.AddApplication(ctx, profile, app)
}
func (l *Launcher) Launch(ctx context.Context, profile string) (Result, error) {
	return l.inner.Launch(ctx, profile)
}
func (l *Launcher) Stop(ctx context.Context, profile string) (Result, error) {
	return l.inner.Stop(ctx, profile)
}
func (l *Launcher) StopAll(ctx context.Context) []Result  { return l.inner.StopAll(ctx) }
func (l *Launcher) Shutdown(ctx context.Context) []Result { return l.inner.Shutdown(ctx) }
func (l *Launcher) Profiles() []ProfileView               { return l.inner.Profiles() }
func (l *Launcher) RunningProfiles() []string             { return l.inner.RunningProfiles() }
func (l *Launcher) Launching() bool                       { return l.inner.Launching() }

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// NewHTTPServer returns a server exposing the API for l under basePath.
func NewHTTPServer(addr, basePath string, l *Launcher) *http.Server {
	return iapi.NewServer(addr, iapi.NewRouter(l.inner, basePath))
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
