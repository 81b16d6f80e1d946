// Package resources reports host CPU and memory utilization from /proc.
package resources

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/procfs"
	"golang.org/x/sync/singleflight"
)

const latestKey = "usage"

// Usage is one utilization sample, in percent of the host total.
type Usage struct {
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryPercent float64   `json:"memoryPercent"`
	SampledAt     time.Time `json:"sampledAt"`
}

// source is the subset of procfs.FS the reporter reads.
type source interface {
	Stat() (procfs.Stat, error)
	Meminfo() (procfs.Meminfo, error)
}

// Reporter samples utilization. CPU is measured over a window between two
// reads of /proc/stat, so Sample blocks for that long.
type Reporter struct {
	src    source
	window time.Duration
	now    func() time.Time

	cache *gocache.Cache
	sf    singleflight.Group
}

// NewReporter reads from the default /proc mount.
func NewReporter(window time.Duration) (*Reporter, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return newReporter(fs, window)
}

func newReporter(src source, window time.Duration) (*Reporter, error) {
	if window <= 0 {
		return nil, fmt.Errorf("sample window must be > 0")
	}
	return &Reporter{
		src:    src,
		window: window,
		now:    time.Now,
		cache:  gocache.New(window, 2*window),
	}, nil
}

// Window returns the CPU measurement window.
func (r *Reporter) Window() time.Duration {
	return r.window
}

// Sample takes a fresh measurement.
func (r *Reporter) Sample(ctx context.Context) (Usage, error) {
	before, err := r.src.Stat()
	if err != nil {
		return Usage{}, fmt.Errorf("read cpu stat: %w", err)
	}

	timer := time.NewTimer(r.window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Usage{}, ctx.Err()
	case <-timer.C:
	}

	after, err := r.src.Stat()
	if err != nil {
		return Usage{}, fmt.Errorf("read cpu stat: %w", err)
	}

	mem, err := r.src.Meminfo()
	if err != nil {
		return Usage{}, fmt.Errorf("read meminfo: %w", err)
	}
	memPercent, err := memoryPercent(mem)
	if err != nil {
		return Usage{}, err
	}

	usage := Usage{
		CPUPercent:    cpuPercent(before.CPUTotal, after.CPUTotal),
		MemoryPercent: memPercent,
		SampledAt:     r.now(),
	}
	r.cache.SetDefault(latestKey, usage)
	return usage, nil
}

// Latest returns a sample no older than one window. Concurrent callers that
// miss the cache share a single measurement.
func (r *Reporter) Latest(ctx context.Context) (Usage, error) {
	if v, ok := r.cache.Get(latestKey); ok {
		return v.(Usage), nil
	}
	v, err, _ := r.sf.Do(latestKey, func() (interface{}, error) {
		if v, ok := r.cache.Get(latestKey); ok {
			return v, nil
		}
		return r.Sample(ctx)
	})
	if err != nil {
		return Usage{}, err
	}
	return v.(Usage), nil
}

func cpuPercent(before, after procfs.CPUStat) float64 {
	total := cpuTotal(after) - cpuTotal(before)
	if total <= 0 {
		return 0
	}
	idle := (after.Idle + after.Iowait) - (before.Idle + before.Iowait)
	busy := total - idle
	if busy < 0 {
		busy = 0
	}
	return clampPercent(busy / total * 100)
}

// cpuTotal excludes guest time, which the kernel already counts in user time.
func cpuTotal(s procfs.CPUStat) float64 {
	return s.User + s.Nice + s.System + s.Idle + s.Iowait + s.IRQ + s.SoftIRQ + s.Steal
}

func memoryPercent(m procfs.Meminfo) (float64, error) {
	if m.MemTotal == nil || *m.MemTotal == 0 {
		return 0, errors.New("meminfo: MemTotal missing")
	}
	total := float64(*m.MemTotal)

	var available float64
	switch {
	case m.MemAvailable != nil:
		available = float64(*m.MemAvailable)
	case m.MemFree != nil:
		// Kernels before 3.14 lack MemAvailable.
		available = float64(*m.MemFree)
		if m.Buffers != nil {
			available += float64(*m.Buffers)
		}
		if m.Cached != nil {
			available += float64(*m.Cached)
		}
	default:
		return 0, errors.New("meminfo: MemAvailable missing")
	}
	return clampPercent((1 - available/total) * 100), nil
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
