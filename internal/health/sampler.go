package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const placeholderDetail = "awaiting first probe"

// Sampler keeps a continuously refreshed Record for one dependency.
//
// One background goroutine runs the probe cycle and is the only writer of the
// current record. Readers load it through an atomic pointer, so CurrentStatus
// never blocks on network I/O or on an in-flight probe.
//
// While the cycle runs, a reader may see a record up to
// StalenessBound(interval, probeTimeout) old.
type Sampler struct {
	name         string
	logger       *zap.Logger
	observer     Observer
	now          func() time.Time
	probeTimeout time.Duration

	current atomic.Pointer[Record]
	running atomic.Bool

	// mu serializes Start and Stop.
	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option configures a Sampler.
type Option func(*Sampler)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Sampler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(s *Sampler) {
		s.observer = observer
	}
}

// WithProbeTimeout bounds each probe with a context deadline. Zero means no
// deadline beyond what the probe enforces itself.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

// WithInitialRecord seeds the sampler, e.g. when a monitor is rebuilt after a
// configuration change.
func WithInitialRecord(rec Record) Option {
	return func(s *Sampler) {
		r := rec
		s.current.Store(&r)
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sampler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSampler creates a stopped sampler whose record is UNKNOWN.
func NewSampler(name string, opts ...Option) *Sampler {
	s := &Sampler{
		name:   name,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.current.Load() == nil {
		s.current.Store(&Record{
			Status:     StatusUnknown,
			ObservedAt: s.now(),
			Detail:     placeholderDetail,
		})
	}
	s.logger = s.logger.With(zap.String("dependency", name))
	return s
}

// Name returns the dependency identifier.
func (s *Sampler) Name() string {
	return s.name
}

// Running reports whether the probe cycle is active.
func (s *Sampler) Running() bool {
	return s.running.Load()
}

// Interval returns the interval of the current (or last) cycle.
func (s *Sampler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Start begins the probe cycle. The first probe runs one interval after
// Start. Calling Start while running is a no-op; the arguments are still
// validated.
func (s *Sampler) Start(probe Probe, interval time.Duration) error {
	if probe == nil {
		return &ConfigurationError{Field: "probe", Reason: "must not be nil"}
	}
	if interval <= 0 {
		return &ConfigurationError{Field: "interval", Reason: fmt.Sprintf("must be positive, got %s", interval)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.interval = interval
	s.running.Store(true)

	go s.run(ctx, probe, interval, s.done)

	s.logger.Info("Health sampler started", zap.Duration("interval", interval))
	return nil
}

// Stop cancels the next tick and waits for an in-flight probe to finish.
// The last record stays readable. Stop is safe to call repeatedly.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.logger.Info("Health sampler stopped")
}

// CurrentStatus returns the latest record without blocking.
func (s *Sampler) CurrentStatus() Record {
	return *s.current.Load()
}

func (s *Sampler) run(ctx context.Context, probe Probe, interval time.Duration, done chan<- struct{}) {
	defer close(done)

	// A ticker keeps ticks anchored to the cycle start. Its channel holds at
	// most one pending tick, so an overrunning probe delays the next one
	// instead of stacking probes.
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.sample(probe)
		}
	}
}

func (s *Sampler) sample(probe Probe) {
	// The probe context is detached from Stop so that an in-flight check
	// always completes.
	ctx := context.Background()
	if s.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.probeTimeout)
		defer cancel()
	}

	started := s.now()
	rec, err := RunProbe(ctx, probe, s.now)
	duration := s.now().Sub(started)

	prev := s.current.Swap(&rec)

	if err != nil {
		s.logger.Warn("Health probe failed", zap.Error(err))
	} else {
		s.logger.Debug("Health probe completed",
			zap.Stringer("status", rec.Status),
			zap.Duration("duration", duration),
		)
	}
	if prev.Status != rec.Status {
		s.logger.Info("Dependency status changed",
			zap.Stringer("from", prev.Status),
			zap.Stringer("to", rec.Status),
			zap.String("detail", rec.Detail),
		)
	}

	if s.observer != nil {
		var observed error
		if err != nil {
			observed = &ProbeError{Dependency: s.name, Err: err}
		}
		s.observer.ObserveProbe(s.name, rec, duration, observed)
	}
}

// RunProbe runs one check and normalizes its outcome. A failed or panicking
// probe yields an UNREACHABLE record carrying the error text, alongside the
// error itself. A successful record without ObservedAt is stamped with now.
func RunProbe(ctx context.Context, probe Probe, now func() time.Time) (Record, error) {
	rec, err := safeCheck(ctx, probe)
	if err != nil {
		return Record{
			Status:     StatusUnreachable,
			ObservedAt: now(),
			Detail:     err.Error(),
		}, err
	}
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = now()
	}
	return rec, nil
}

func safeCheck(ctx context.Context, probe Probe) (rec Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return probe.Check(ctx)
}

// StalenessBound is the maximum age of a record a reader can observe while a
// cycle runs: one interval of waiting plus one probe.
func StalenessBound(interval, probeTimeout time.Duration) time.Duration {
	return interval + probeTimeout
}
