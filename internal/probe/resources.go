package probe

import (
	"context"
	"fmt"

	"github.com/leslieo2/depwatch/internal/health"
	"github.com/leslieo2/depwatch/internal/resources"
)

// UsageSampler measures host utilization.
type UsageSampler interface {
	Sample(ctx context.Context) (resources.Usage, error)
}

// Resources reports DEGRADED when CPU or memory use crosses a threshold.
type Resources struct {
	sampler         UsageSampler
	cpuThreshold    float64
	memoryThreshold float64
}

func NewResources(sampler UsageSampler, cpuThreshold, memoryThreshold float64) *Resources {
	return &Resources{
		sampler:         sampler,
		cpuThreshold:    cpuThreshold,
		memoryThreshold: memoryThreshold,
	}
}

func (p *Resources) Check(ctx context.Context) (health.Record, error) {
	usage, err := p.sampler.Sample(ctx)
	if err != nil {
		return health.Record{}, err
	}

	status := health.StatusHealthy
	if usage.CPUPercent > p.cpuThreshold || usage.MemoryPercent > p.memoryThreshold {
		status = health.StatusDegraded
	}
	return health.Record{
		Status:     status,
		ObservedAt: usage.SampledAt,
		Detail:     fmt.Sprintf("cpu=%.1f%% memory=%.1f%%", usage.CPUPercent, usage.MemoryPercent),
	}, nil
}
