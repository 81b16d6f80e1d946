package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leslieo2/depwatch/internal/config"
	"github.com/leslieo2/depwatch/internal/health"
	"github.com/leslieo2/depwatch/internal/probe"
)

const skippedDetail = "skipped after an earlier check failed"

// CheckResult is the outcome of one monitor in a one-shot check.
type CheckResult struct {
	Name    string        `json:"name"`
	Kind    string        `json:"kind"`
	Record  health.Record `json:"record"`
	Skipped bool          `json:"skipped,omitempty"`
}

// CheckOnce probes each monitor exactly once, in order, without starting
// samplers. With failFast, monitors after the first non-HEALTHY result are
// reported as skipped with status UNKNOWN.
func (r *Registry) CheckOnce(ctx context.Context, monitors []config.MonitorConfig, failFast bool) []CheckResult {
	results := make([]CheckResult, 0, len(monitors))
	failed := false

	for _, cfg := range monitors {
		res := CheckResult{Name: cfg.Name, Kind: cfg.Kind}
		if failed && failFast {
			res.Skipped = true
			res.Record = health.Record{Status: health.StatusUnknown, ObservedAt: time.Now(), Detail: skippedDetail}
			results = append(results, res)
			continue
		}

		res.Record = r.checkOne(ctx, cfg)
		if res.Record.Status != health.StatusHealthy {
			failed = true
		}
		results = append(results, res)
	}
	return results
}

func (r *Registry) checkOne(ctx context.Context, cfg config.MonitorConfig) health.Record {
	p, err := r.build(cfg, r.usage)
	if err != nil {
		r.logger.Warn("Check could not be built", zap.String("dependency", cfg.Name), zap.Error(err))
		return health.Record{Status: health.StatusUnreachable, ObservedAt: time.Now(), Detail: err.Error()}
	}
	p = probe.Traced(p, r.tracer, cfg.Name)
	defer func() { _ = probe.Close(p) }()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	rec, err := health.RunProbe(ctx, p, time.Now)
	if err != nil {
		r.logger.Warn("Check failed", zap.String("dependency", cfg.Name), zap.Error(err))
	} else {
		r.logger.Info("Check completed", zap.String("dependency", cfg.Name), zap.Stringer("status", rec.Status))
	}
	return rec
}

// AllHealthy reports whether every result is HEALTHY.
func AllHealthy(results []CheckResult) bool {
	for _, res := range results {
		if res.Record.Status != health.StatusHealthy {
			return false
		}
	}
	return true
}
