package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncLaunch("Dev")
	IncLaunch("Dev")
	IncLaunchFailure("Dev")
	IncDuplicateSkip("Dev")
	IncExit("Dev")
	IncKill("Dev")
	ObserveLaunchDuration("Dev", 0.25)
	SetRunningProfiles(1)
	SetLiveEntries("Dev", 2)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"applauncher_entry_launches_total":            false,
		"applauncher_entry_launch_failures_total":     false,
		"applauncher_entry_duplicate_skips_total":     false,
		"applauncher_entry_exits_total":               false,
		"applauncher_entry_kills_total":               false,
		"applauncher_profile_launch_duration_seconds": false,
		"applauncher_profile_running":                 false,
		"applauncher_profile_live_entries":            false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
	if v := counterValue(t, entryLaunches.WithLabelValues("Dev")); v < 2 {
		t.Fatalf("expected at least 2 launches, got %v", v)
	}

	ForgetProfile("Dev")
	if n := countSeries(liveEntries); n != 0 {
		t.Fatalf("expected live_entries series dropped, got %d", n)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	// Reset regOK gate to allow registration with the default registry used by Handler().
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncLaunch("x")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "applauncher_entry_launches_total") {
		t.Fatalf("metrics output missing launches_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncLaunch("c")
			IncExit("c")
			IncKill("c")
		}()
	}
	wg.Wait()
	// Ensure gather succeeds under race detector
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// These should be no-ops and not panic when called before Register
	IncLaunch("test")
	IncLaunchFailure("test")
	IncDuplicateSkip("test")
	IncExit("test")
	IncKill("test")
	ObserveLaunchDuration("test", 1.0)
	SetRunningProfiles(5)
	SetLiveEntries("test", 1)
	ForgetProfile("test")
}

func TestRegisterError(t *testing.T) {
	errorRegisterer := &errorRegisterer{
		shouldError: true,
	}

	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(errorRegisterer)
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
	if regOK.Load() {
		t.Fatal("failed Register must leave helpers disabled")
	}
}

func TestResourceCollectorSamplesLiveEntries(t *testing.T) {
	c := NewResourceCollector(0)
	reg := prometheus.NewRegistry()
	if err := c.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	self := EntryKey{Profile: "Dev", Entry: "self"}
	gone := EntryKey{Profile: "Dev", Entry: "gone"}
	c.Collect(map[EntryKey]int32{self: int32(os.Getpid()), gone: 0})

	u, ok := c.Latest(self)
	if !ok {
		t.Fatalf("expected sample for own pid")
	}
	if u.PID != int32(os.Getpid()) || u.MemoryRSS == 0 || u.Timestamp.IsZero() {
		t.Fatalf("unexpected usage: %+v", u)
	}
	if _, ok := c.Latest(gone); ok {
		t.Fatalf("pid 0 must not be sampled")
	}
	if n := countSeries(c.memoryMB); n != 1 {
		t.Fatalf("expected one memory series, got %d", n)
	}

	// entry no longer live: series and sample dropped
	c.Collect(map[EntryKey]int32{})
	if len(c.All()) != 0 {
		t.Fatalf("expected no samples, got %v", c.All())
	}
	if n := countSeries(c.memoryMB); n != 0 {
		t.Fatalf("expected memory series dropped, got %d", n)
	}
}

func TestResourceCollectorStartStop(t *testing.T) {
	c := NewResourceCollector(10 * time.Millisecond)
	calls := make(chan struct{}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx, func() map[EntryKey]int32 {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil
	})
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("sampler never ran")
	}
	c.Stop()
	c.Stop()
}

func countSeries(col prometheus.Collector) int {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		col.Collect(ch)
		close(ch)
	}()
	n := 0
	for range ch {
		n++
	}
	return n
}

func counterValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return out.GetCounter().GetValue()
}

// Custom registerer for testing error handling
type errorRegisterer struct {
	shouldError bool
}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	if e.shouldError {
		return errors.New("test registration error")
	}
	return nil
}

func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
