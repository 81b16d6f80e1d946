package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leslieo2/depwatch/internal/config"
	"github.com/leslieo2/depwatch/internal/health"
	"github.com/leslieo2/depwatch/internal/probe"
)

type fakeProbe struct {
	status health.Status
	err    error
	calls  atomic.Int32
	closed atomic.Bool
}

func (p *fakeProbe) Check(context.Context) (health.Record, error) {
	p.calls.Add(1)
	if p.err != nil {
		return health.Record{}, p.err
	}
	return health.Record{Status: p.status, Detail: "fake"}, nil
}

func (p *fakeProbe) Close() error {
	p.closed.Store(true)
	return nil
}

// fakeBuilder hands out one fakeProbe per build and remembers them by name.
type fakeBuilder struct {
	mu       sync.Mutex
	statuses map[string]health.Status
	errs     map[string]error
	built    map[string][]*fakeProbe
	failOn   string
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{
		statuses: map[string]health.Status{},
		errs:     map[string]error{},
		built:    map[string][]*fakeProbe{},
	}
}

func (b *fakeBuilder) build(cfg config.MonitorConfig, _ probe.UsageSampler) (health.Probe, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cfg.Name == b.failOn {
		return nil, &health.ConfigurationError{Field: "kind", Reason: "boom"}
	}
	status, ok := b.statuses[cfg.Name]
	if !ok {
		status = health.StatusHealthy
	}
	p := &fakeProbe{status: status, err: b.errs[cfg.Name]}
	b.built[cfg.Name] = append(b.built[cfg.Name], p)
	return p, nil
}

func (b *fakeBuilder) probes(name string) []*fakeProbe {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakeProbe(nil), b.built[name]...)
}

type fakeMetrics struct {
	mu        sync.Mutex
	observed  map[string]int
	set       map[string]health.Status
	forgotten []string
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{observed: map[string]int{}, set: map[string]health.Status{}}
}

func (m *fakeMetrics) ObserveProbe(dependency string, _ health.Record, _ time.Duration, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed[dependency]++
}

func (m *fakeMetrics) SetDependencyStatus(dependency string, rec health.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set[dependency] = rec.Status
}

func (m *fakeMetrics) ForgetDependency(dependency string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forgotten = append(m.forgotten, dependency)
}

func newTestRegistry(t *testing.T, opts Options) (*Registry, *fakeBuilder) {
	t.Helper()
	r := NewRegistry(opts)
	b := newFakeBuilder()
	r.build = b.build
	t.Cleanup(func() { _ = r.StopAll() })
	return r, b
}

func monitorCfg(name string, interval time.Duration) config.MonitorConfig {
	return config.MonitorConfig{
		Name:     name,
		Kind:     "http",
		Target:   "http://" + name + ".internal/health",
		Interval: interval,
		Timeout:  time.Second,
	}
}

func TestRegistry_ApplyStartsMonitors(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})

	require.NoError(t, r.Apply(context.Background(), []config.MonitorConfig{
		monitorCfg("b", time.Hour),
		monitorCfg("a", time.Hour),
	}))

	assert.Equal(t, []string{"b", "a"}, r.Names())

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, health.StatusUnknown, snap["a"].Status)

	_, ok := r.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, health.StatusUnknown, r.Overall())
}

func TestRegistry_SamplesInBackground(t *testing.T) {
	metrics := newFakeMetrics()
	r, b := newTestRegistry(t, Options{Metrics: metrics})
	b.statuses["slow"] = health.StatusDegraded

	require.NoError(t, r.Apply(context.Background(), []config.MonitorConfig{
		monitorCfg("fast", 10*time.Millisecond),
		monitorCfg("slow", 10*time.Millisecond),
	}))

	require.Eventually(t, func() bool {
		return r.Overall() == health.StatusDegraded
	}, time.Second, 5*time.Millisecond)

	rec, ok := r.Get("fast")
	require.True(t, ok)
	assert.Equal(t, health.StatusHealthy, rec.Status)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Contains(t, metrics.set, "fast")
	assert.Positive(t, metrics.observed["slow"])
}

func TestRegistry_ApplyReconciles(t *testing.T) {
	metrics := newFakeMetrics()
	r, b := newTestRegistry(t, Options{Metrics: metrics})

	keep := monitorCfg("keep", time.Hour)
	change := monitorCfg("change", 10*time.Millisecond)
	drop := monitorCfg("drop", time.Hour)
	b.errs["change"] = errors.New("refused")

	require.NoError(t, r.Apply(context.Background(), []config.MonitorConfig{keep, change, drop}))
	require.Eventually(t, func() bool {
		rec, _ := r.Get("change")
		return rec.Status == health.StatusUnreachable
	}, time.Second, 5*time.Millisecond)

	changed := change
	changed.Interval = time.Hour
	added := monitorCfg("added", time.Hour)
	require.NoError(t, r.Apply(context.Background(), []config.MonitorConfig{keep, changed, added}))

	assert.Equal(t, []string{"keep", "change", "added"}, r.Names())

	assert.Len(t, b.probes("keep"), 1, "unchanged monitor is not rebuilt")
	assert.False(t, b.probes("keep")[0].closed.Load())

	require.Len(t, b.probes("change"), 2)
	assert.True(t, b.probes("change")[0].closed.Load())
	rec, _ := r.Get("change")
	assert.Equal(t, health.StatusUnreachable, rec.Status, "rebuilt monitor keeps its last record")
	assert.Equal(t, "refused", rec.Detail)

	_, ok := r.Get("drop")
	assert.False(t, ok)
	assert.True(t, b.probes("drop")[0].closed.Load())

	metrics.mu.Lock()
	assert.Equal(t, []string{"drop"}, metrics.forgotten)
	metrics.mu.Unlock()
}

func TestRegistry_ApplyIsAtomic(t *testing.T) {
	r, b := newTestRegistry(t, Options{})
	require.NoError(t, r.Apply(context.Background(), []config.MonitorConfig{monitorCfg("a", time.Hour)}))

	tests := []struct {
		name     string
		monitors []config.MonitorConfig
		setup    func()
	}{
		{
			name:     "build failure",
			monitors: []config.MonitorConfig{monitorCfg("new", time.Hour), monitorCfg("broken", time.Hour)},
			setup:    func() { b.failOn = "broken" },
		},
		{
			name:     "duplicate name",
			monitors: []config.MonitorConfig{monitorCfg("new", time.Hour), monitorCfg("new", time.Hour)},
		},
		{
			name:     "unresolved interval",
			monitors: []config.MonitorConfig{monitorCfg("new", 0)},
		},
		{
			name:     "invalid monitor",
			monitors: []config.MonitorConfig{{Name: "x", Kind: "ftp", Interval: time.Second}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			require.Error(t, r.Apply(context.Background(), tt.monitors))
			assert.Equal(t, []string{"a"}, r.Names())
			for _, p := range b.probes("new") {
				assert.True(t, p.closed.Load(), "discarded probes are closed")
			}
		})
	}
}

func TestRegistry_Ready(t *testing.T) {
	r, b := newTestRegistry(t, Options{})
	b.errs["db"] = errors.New("down")
	b.errs["cache"] = errors.New("down")

	db := monitorCfg("db", 10*time.Millisecond)
	db.Critical = true
	cache := monitorCfg("cache", 10*time.Millisecond)

	require.NoError(t, r.Apply(context.Background(), []config.MonitorConfig{cache}))
	require.Eventually(t, func() bool { return r.Overall() == health.StatusUnreachable }, time.Second, 5*time.Millisecond)
	assert.True(t, r.Ready(), "non-critical failures do not affect readiness")

	require.NoError(t, r.Apply(context.Background(), []config.MonitorConfig{cache, db}))
	require.Eventually(t, func() bool { return !r.Ready() }, time.Second, 5*time.Millisecond)
}

func TestRegistry_StopAllKeepsRecords(t *testing.T) {
	r, b := newTestRegistry(t, Options{})
	require.NoError(t, r.Apply(context.Background(), []config.MonitorConfig{monitorCfg("a", 10*time.Millisecond)}))
	require.Eventually(t, func() bool { return r.Overall() == health.StatusHealthy }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.StopAll())
	assert.True(t, b.probes("a")[0].closed.Load())

	calls := b.probes("a")[0].calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, b.probes("a")[0].calls.Load())

	rec, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, health.StatusHealthy, rec.Status)
}

func TestRegistry_ApplyAfterStopAllRestarts(t *testing.T) {
	r, b := newTestRegistry(t, Options{})
	monitors := []config.MonitorConfig{monitorCfg("a", 10*time.Millisecond)}
	require.NoError(t, r.Apply(context.Background(), monitors))
	require.Eventually(t, func() bool { return r.Overall() == health.StatusHealthy }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.StopAll())
	require.NoError(t, r.StopAll())

	require.NoError(t, r.Apply(context.Background(), monitors))

	built := b.probes("a")
	require.Len(t, built, 2)
	assert.False(t, built[1].closed.Load())
	require.Eventually(t, func() bool { return built[1].calls.Load() > 0 }, time.Second, 5*time.Millisecond)

	rec, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, health.StatusHealthy, rec.Status)
}

func TestRegistry_Reload(t *testing.T) {
	var monitors []config.MonitorConfig
	loaderErr := error(nil)
	r, _ := newTestRegistry(t, Options{Loader: func() ([]config.MonitorConfig, error) {
		return monitors, loaderErr
	}})

	assert.Equal(t, "monitors", r.Name())

	monitors = []config.MonitorConfig{monitorCfg("a", time.Hour)}
	require.NoError(t, r.Reload(context.Background()))
	assert.Equal(t, []string{"a"}, r.Names())

	loaderErr = errors.New("bad yaml")
	err := r.Reload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad yaml")
	assert.Equal(t, []string{"a"}, r.Names())

	noLoader, _ := newTestRegistry(t, Options{})
	assert.Error(t, noLoader.Reload(context.Background()))
}
