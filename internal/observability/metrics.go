package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leslieo2/depwatch/internal/health"
)

const namespace = "depwatch"

// Metrics holds the HTTP and probe collectors. It implements health.Observer.
type Metrics struct {
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	ProbeCount       *prometheus.CounterVec
	ProbeDuration    *prometheus.HistogramVec
	DependencyStatus *prometheus.GaugeVec
	ObservedAt       *prometheus.GaugeVec
	ConfigReloads    *prometheus.CounterVec

	registry *prometheus.Registry
	handler  http.Handler
}

func NewMetrics() *Metrics {
	return &Metrics{
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "status_code"},
		),
		ResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint", "status_code"},
		),
		ProbeCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_total",
				Help:      "Completed dependency probes by outcome",
			},
			[]string{"dependency", "outcome"},
		),
		ProbeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Dependency probe duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"dependency"},
		),
		DependencyStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dependency_status",
				Help:      "Latest dependency status (0 = unknown, 1 = healthy, 2 = degraded, 3 = unreachable)",
			},
			[]string{"dependency"},
		),
		ObservedAt: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dependency_observed_timestamp_seconds",
				Help:      "Unix time of the latest dependency observation",
			},
			[]string{"dependency"},
		),
		ConfigReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Configuration reloads by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) RecordRequest(method, endpoint string, statusCode int, duration time.Duration, responseSize int64) {
	status := strconv.Itoa(statusCode)

	m.RequestCount.WithLabelValues(method, endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, endpoint, status).Observe(float64(responseSize))
}

// ObserveProbe records one completed probe.
func (m *Metrics) ObserveProbe(dependency string, rec health.Record, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.ProbeCount.WithLabelValues(dependency, outcome).Inc()
	m.ProbeDuration.WithLabelValues(dependency).Observe(duration.Seconds())
	m.SetDependencyStatus(dependency, rec)
}

// SetDependencyStatus publishes a record without counting a probe, e.g. the
// placeholder of a freshly registered monitor.
func (m *Metrics) SetDependencyStatus(dependency string, rec health.Record) {
	m.DependencyStatus.WithLabelValues(dependency).Set(float64(rec.Status))
	m.ObservedAt.WithLabelValues(dependency).Set(float64(rec.ObservedAt.UnixNano()) / 1e9)
}

// ForgetDependency removes the series of a monitor that was deleted.
func (m *Metrics) ForgetDependency(dependency string) {
	labels := prometheus.Labels{"dependency": dependency}
	m.ProbeCount.DeletePartialMatch(labels)
	m.ProbeDuration.DeletePartialMatch(labels)
	m.DependencyStatus.DeletePartialMatch(labels)
	m.ObservedAt.DeletePartialMatch(labels)
}

// RecordReload counts one configuration reload attempt.
func (m *Metrics) RecordReload(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.ConfigReloads.WithLabelValues(result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m.handler != nil {
		return m.handler
	}
	return promhttp.Handler()
}

func (m *Metrics) Register() error {
	m.registry = prometheus.NewRegistry()

	cs := []prometheus.Collector{
		m.RequestCount,
		m.RequestDuration,
		m.ResponseSize,
		m.ProbeCount,
		m.ProbeDuration,
		m.DependencyStatus,
		m.ObservedAt,
		m.ConfigReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	var errs []error
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})

	return nil
}

// Registry exposes the custom registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
