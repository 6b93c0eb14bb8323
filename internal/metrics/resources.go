package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// EntryKey names one application within a profile.
type EntryKey struct {
	Profile string `json:"profile"`
	Entry   string `json:"entry"`
}

// Usage is one CPU and memory sample of a live child.
type Usage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceCollector samples live children on an interval and exports the
// latest values as gauges labelled by profile and entry.
type ResourceCollector struct {
	interval time.Duration

	mu     sync.RWMutex
	latest map[EntryKey]Usage
	procs  map[int32]*process.Process // kept between samples for CPU deltas

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
}

func NewResourceCollector(interval time.Duration) *ResourceCollector {
	if interval <= 0 {
		interval = 5 * time.Second // default
	}
	labels := []string{"profile", "entry"}
	return &ResourceCollector{
		interval: interval,
		latest:   make(map[EntryKey]Usage),
		procs:    make(map[int32]*process.Process),
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "entry",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage of a live child.",
			}, labels,
		),
		memoryMB: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "entry",
				Name:      "memory_mb",
				Help:      "Resident memory in MB of a live child.",
			}, labels,
		),
		numThreads: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "entry",
				Name:      "num_threads",
				Help:      "Thread count of a live child.",
			}, labels,
		),
	}
}

// Register registers the resource gauges, ignoring duplicates.
func (c *ResourceCollector) Register(r prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.cpuPercent, c.memoryMB, c.numThreads} {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples source() every interval until ctx is done or Stop is called.
func (c *ResourceCollector) Start(ctx context.Context, source func() map[EntryKey]int32) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect(source())
			}
		}
	}()
}

// Stop ends sampling and waits for the sampler to return.
func (c *ResourceCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one sample of every live entry and drops series for
// entries that are no longer live.
func (c *ResourceCollector) Collect(live map[EntryKey]int32) {
	now := time.Now()
	results := make(map[EntryKey]Usage, len(live))
	for key, pid := range live {
		if pid <= 0 {
			continue
		}
		u, err := c.sample(pid, now)
		if err != nil {
			slog.Debug("Failed to sample child", "profile", key.Profile, "entry", key.Entry, "pid", pid, "err", err)
			continue
		}
		results[key] = u
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.latest {
		if _, ok := results[key]; !ok {
			c.cpuPercent.DeleteLabelValues(key.Profile, key.Entry)
			c.memoryMB.DeleteLabelValues(key.Profile, key.Entry)
			c.numThreads.DeleteLabelValues(key.Profile, key.Entry)
		}
	}
	livePIDs := make(map[int32]bool, len(results))
	for key, u := range results {
		livePIDs[u.PID] = true
		c.cpuPercent.WithLabelValues(key.Profile, key.Entry).Set(u.CPUPercent)
		c.memoryMB.WithLabelValues(key.Profile, key.Entry).Set(u.MemoryMB)
		c.numThreads.WithLabelValues(key.Profile, key.Entry).Set(float64(u.NumThreads))
	}
	for pid := range c.procs {
		if !livePIDs[pid] {
			delete(c.procs, pid)
		}
	}
	c.latest = results
}

func (c *ResourceCollector) sample(pid int32, ts time.Time) (Usage, error) {
	c.mu.Lock()
	proc, ok := c.procs[pid]
	c.mu.Unlock()
	if !ok {
		p, err := process.NewProcess(pid)
		if err != nil {
			return Usage{}, fmt.Errorf("failed to create process handle: %w", err)
		}
		proc = p
		c.mu.Lock()
		c.procs[pid] = proc
		c.mu.Unlock()
	}

	cpu, err := proc.Percent(0)
	if err != nil {
		cpu = 0
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return Usage{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	threads, err := proc.NumThreads()
	if err != nil {
		threads = 0
	}
	return Usage{
		PID:        pid,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		NumThreads: threads,
		Timestamp:  ts,
	}, nil
}

// Latest returns the last sample for key.
func (c *ResourceCollector) Latest(key EntryKey) (Usage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.latest[key]
	return u, ok
}

// All returns a copy of the last samples.
func (c *ResourceCollector) All() map[EntryKey]Usage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[EntryKey]Usage, len(c.latest))
	for k, v := range c.latest {
		out[k] = v
	}
	return out
}
