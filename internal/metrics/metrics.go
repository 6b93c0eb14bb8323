package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "applauncher"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	entryLaunches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entry",
			Name:      "launches_total",
			Help:      "Number of successful child spawns.",
		}, []string{"profile"},
	)
	entryLaunchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entry",
			Name:      "launch_failures_total",
			Help:      "Number of failed child spawns.",
		}, []string{"profile"},
	)
	entryDuplicateSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entry",
			Name:      "duplicate_skips_total",
			Help:      "Launches suppressed because the image was already running.",
		}, []string{"profile"},
	)
	entryExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entry",
			Name:      "exits_total",
			Help:      "Observed child exits, killed or not.",
		}, []string{"profile"},
	)
	entryKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entry",
			Name:      "kills_total",
			Help:      "Tree kills issued for entries, including host-wide fallback kills.",
		}, []string{"profile"},
	)
	launchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "profile",
			Name:      "launch_duration_seconds",
			Help:      "Time for a launch batch to settle.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"profile"},
	)
	runningProfiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "profile",
			Name:      "running",
			Help:      "Number of profiles currently marked running.",
		},
	)
	liveEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "profile",
			Name:      "live_entries",
			Help:      "Entries holding a live handle per profile.",
		}, []string{"profile"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{entryLaunches, entryLaunchFailures, entryDuplicateSkips, entryExits, entryKills, launchDuration, runningProfiles, liveEntries}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by the engine to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch(profile string) {
	if regOK.Load() {
		entryLaunches.WithLabelValues(profile).Inc()
	}
}
func IncLaunchFailure(profile string) {
	if regOK.Load() {
		entryLaunchFailures.WithLabelValues(profile).Inc()
	}
}
func IncDuplicateSkip(profile string) {
	if regOK.Load() {
		entryDuplicateSkips.WithLabelValues(profile).Inc()
	}
}
func IncExit(profile string) {
	if regOK.Load() {
		entryExits.WithLabelValues(profile).Inc()
	}
}
func IncKill(profile string) {
	if regOK.Load() {
		entryKills.WithLabelValues(profile).Inc()
	}
}
func ObserveLaunchDuration(profile string, seconds float64) {
	if regOK.Load() {
		launchDuration.WithLabelValues(profile).Observe(seconds)
	}
}

func SetRunningProfiles(n int) {
	if regOK.Load() {
		runningProfiles.Set(float64(n))
	}
}

func SetLiveEntries(profile string, n int) {
	if regOK.Load() {
		liveEntries.WithLabelValues(profile).Set(float64(n))
	}
}

// ForgetProfile drops per-profile series after a profile is deleted.
func ForgetProfile(profile string) {
	if !regOK.Load() {
		return
	}
	for _, v := range []*prometheus.CounterVec{entryLaunches, entryLaunchFailures, entryDuplicateSkips, entryExits, entryKills} {
		v.DeleteLabelValues(profile)
	}
	launchDuration.DeleteLabelValues(profile)
	liveEntries.DeleteLabelValues(profile)
}
