// Package monitor runs one health sampler per configured dependency.
package monitor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leslieo2/depwatch/internal/config"
	"github.com/leslieo2/depwatch/internal/health"
	"github.com/leslieo2/depwatch/internal/probe"
)

// Metrics is the subset of observability.Metrics the registry drives.
type Metrics interface {
	health.Observer
	SetDependencyStatus(dependency string, rec health.Record)
	ForgetDependency(dependency string)
}

// Loader returns the current monitor list, with defaults applied.
type Loader func() ([]config.MonitorConfig, error)

type Options struct {
	Logger  *zap.Logger
	Metrics Metrics
	Tracer  probe.SpanStarter
	Usage   probe.UsageSampler
	Loader  Loader
}

type entry struct {
	cfg     config.MonitorConfig
	probe   health.Probe
	sampler *health.Sampler
}

// Registry owns the samplers. Readers never wait on probes or on Apply.
type Registry struct {
	logger  *zap.Logger
	metrics Metrics
	tracer  probe.SpanStarter
	usage   probe.UsageSampler
	loader  Loader
	build   func(config.MonitorConfig, probe.UsageSampler) (health.Probe, error)

	// applyMu serializes Apply, Reload and StopAll.
	applyMu sync.Mutex

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		usage:   opts.Usage,
		loader:  opts.Loader,
		build:   probe.Build,
		entries: make(map[string]*entry),
	}
}

// Apply reconciles the running samplers with monitors. New monitors start,
// removed ones stop, changed ones are rebuilt and keep their last record.
// Unchanged monitors are left running. On error nothing is changed.
func (r *Registry) Apply(ctx context.Context, monitors []config.MonitorConfig) error {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	r.mu.RLock()
	current := r.entries
	r.mu.RUnlock()

	next := make(map[string]*entry, len(monitors))
	order := make([]string, 0, len(monitors))
	var built []*entry

	discard := func() {
		for _, e := range built {
			_ = probe.Close(e.probe)
		}
	}

	for _, cfg := range monitors {
		if err := ctx.Err(); err != nil {
			discard()
			return err
		}
		if err := validateResolved(cfg); err != nil {
			discard()
			return fmt.Errorf("monitor %q: %w", cfg.Name, err)
		}
		if _, dup := next[cfg.Name]; dup {
			discard()
			return fmt.Errorf("monitor %q: duplicate name", cfg.Name)
		}
		order = append(order, cfg.Name)

		// A stopped entry has a closed probe and is rebuilt even when unchanged.
		if prev, ok := current[cfg.Name]; ok && prev.cfg == cfg && prev.sampler.Running() {
			next[cfg.Name] = prev
			continue
		}

		p, err := r.build(cfg, r.usage)
		if err != nil {
			discard()
			return fmt.Errorf("monitor %q: %w", cfg.Name, err)
		}
		e := &entry{cfg: cfg, probe: probe.Traced(p, r.tracer, cfg.Name)}
		next[cfg.Name] = e
		built = append(built, e)
	}

	for _, e := range built {
		name := e.cfg.Name
		opts := []health.Option{
			health.WithLogger(r.logger),
			health.WithProbeTimeout(e.cfg.Timeout),
		}
		if r.metrics != nil {
			opts = append(opts, health.WithObserver(r.metrics))
		}

		prev, replaced := current[name]
		if replaced {
			r.stopEntry(prev)
			opts = append(opts, health.WithInitialRecord(prev.sampler.CurrentStatus()))
		}

		e.sampler = health.NewSampler(name, opts...)
		if err := e.sampler.Start(e.probe, e.cfg.Interval); err != nil {
			// validateResolved rules this out.
			return err
		}
		if r.metrics != nil {
			r.metrics.SetDependencyStatus(name, e.sampler.CurrentStatus())
		}

		if replaced {
			r.logger.Info("Monitor updated", zap.String("dependency", name), zap.String("kind", e.cfg.Kind))
		} else {
			r.logger.Info("Monitor added", zap.String("dependency", name), zap.String("kind", e.cfg.Kind))
		}
	}

	for name, prev := range current {
		if _, keep := next[name]; keep {
			continue
		}
		r.stopEntry(prev)
		if r.metrics != nil {
			r.metrics.ForgetDependency(name)
		}
		r.logger.Info("Monitor removed", zap.String("dependency", name))
	}

	r.mu.Lock()
	r.entries = next
	r.order = order
	r.mu.Unlock()

	return nil
}

func validateResolved(cfg config.MonitorConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Interval <= 0 {
		return &health.ConfigurationError{Field: "interval", Reason: fmt.Sprintf("must be positive, got %s", cfg.Interval)}
	}
	return nil
}

func (r *Registry) stopEntry(e *entry) error {
	if !e.sampler.Running() {
		return nil
	}
	e.sampler.Stop()
	if err := probe.Close(e.probe); err != nil {
		r.logger.Warn("Failed to close probe", zap.String("dependency", e.cfg.Name), zap.Error(err))
		return fmt.Errorf("close %s: %w", e.cfg.Name, err)
	}
	return nil
}

// StopAll stops every sampler and releases probe connections. Records stay
// readable afterwards.
func (r *Registry) StopAll() error {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var g errgroup.Group
	for _, e := range entries {
		e := e
		g.Go(func() error {
			return r.stopEntry(e)
		})
	}
	return g.Wait()
}

// Snapshot returns the latest record of every monitor.
func (r *Registry) Snapshot() map[string]health.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]health.Record, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.sampler.CurrentStatus()
	}
	return out
}

// Get returns the latest record of one monitor.
func (r *Registry) Get(name string) (health.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return health.Record{}, false
	}
	return e.sampler.CurrentStatus(), true
}

// Names returns monitor names in configuration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Overall is the worst status across monitors, UNKNOWN when there are none.
func (r *Registry) Overall() health.Status {
	return health.Worst(r.Snapshot())
}

// Ready is false while any critical monitor is UNREACHABLE.
func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.cfg.Critical && e.sampler.CurrentStatus().Status == health.StatusUnreachable {
			return false
		}
	}
	return true
}

// Name identifies the registry to the hot reload coordinator.
func (r *Registry) Name() string {
	return "monitors"
}

// Reload re-reads the monitor list and applies it.
func (r *Registry) Reload(ctx context.Context) error {
	if r.loader == nil {
		return fmt.Errorf("no monitor loader configured")
	}
	monitors, err := r.loader()
	if err != nil {
		return fmt.Errorf("load monitors: %w", err)
	}
	return r.Apply(ctx, monitors)
}
