package probe

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/leslieo2/depwatch/internal/config"
	"github.com/leslieo2/depwatch/internal/constants"
	"github.com/leslieo2/depwatch/internal/health"
)

// Build constructs the probe for one monitor. The monitor must already have
// its defaults applied. sampler is only used by resources monitors.
func Build(cfg config.MonitorConfig, sampler UsageSampler) (health.Probe, error) {
	switch cfg.Kind {
	case constants.KindHTTP:
		return NewHTTP(cfg.Target, cfg.ExpectStatus, cfg.Timeout), nil
	case constants.KindPeer:
		return NewPeer(cfg.Target, cfg.Timeout), nil
	case constants.KindSearch:
		return NewSearch(cfg.Target, cfg.Username, cfg.Password, cfg.Timeout), nil
	case constants.KindPostgres:
		p, err := NewPostgres(cfg.DSN, cfg.Query)
		if err != nil {
			return nil, &health.ConfigurationError{Field: "dsn", Reason: err.Error()}
		}
		return p, nil
	case constants.KindRedis:
		return NewRedis(cfg.Target, cfg.Password, cfg.DB, cfg.Timeout), nil
	case constants.KindResources:
		if sampler == nil {
			return nil, &health.ConfigurationError{Field: "kind", Reason: "resources monitor needs a usage sampler"}
		}
		return NewResources(sampler, cfg.CPUThreshold, cfg.MemoryThreshold), nil
	default:
		return nil, &health.ConfigurationError{Field: "kind", Reason: fmt.Sprintf("unsupported kind %q", cfg.Kind)}
	}
}

// Close releases the probe's connections, if it holds any.
func Close(p health.Probe) error {
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SpanStarter is implemented by observability.Tracer.
type SpanStarter interface {
	StartSpan(ctx context.Context, name string, attributes ...attribute.KeyValue) (context.Context, oteltrace.Span)
}

type traced struct {
	probe  health.Probe
	tracer SpanStarter
	name   string
}

// Traced runs every check of probe inside a span named "probe <name>".
func Traced(probe health.Probe, tracer SpanStarter, name string) health.Probe {
	if tracer == nil {
		return probe
	}
	return &traced{probe: probe, tracer: tracer, name: name}
}

func (t *traced) Check(ctx context.Context) (health.Record, error) {
	ctx, span := t.tracer.StartSpan(ctx, "probe "+t.name, attribute.String("dependency", t.name))
	defer span.End()

	rec, err := t.probe.Check(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rec, err
	}
	span.SetAttributes(attribute.String("health.status", rec.Status.String()))
	return rec, nil
}

func (t *traced) Close() error {
	return Close(t.probe)
}

var _ io.Closer = (*traced)(nil)
