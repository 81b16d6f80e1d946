package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/leslieo2/depwatch/internal/constants"
	"github.com/leslieo2/depwatch/internal/health"
	"github.com/leslieo2/depwatch/internal/observability"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Service      string                   `json:"service"`
	Status       health.Status            `json:"status"`
	Ready        bool                     `json:"ready"`
	Dependencies map[string]health.Record `json:"dependencies"`
}

// DependencyResponse is the body of GET /status/{name}.
type DependencyResponse struct {
	Name string `json:"name"`
	health.Record
}

// ResourcesResponse mirrors the status payload peers expect from a service.
type ResourcesResponse struct {
	Service       string    `json:"service"`
	Status        string    `json:"status"`
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryPercent float64   `json:"memoryPercent"`
	SampledAt     time.Time `json:"sampledAt"`
}

func (s *Server) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, noop.Span{}
	}
	return s.tracer.StartSpan(ctx, name, attrs...)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, observability.NewLiveness(s.startTime, s.now()))
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.monitors.Ready() {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	_, span := s.startSpan(r.Context(), "status")
	defer span.End()

	snapshot := s.monitors.Snapshot()
	resp := StatusResponse{
		Service:      constants.ServiceName,
		Status:       health.Worst(snapshot),
		Ready:        s.monitors.Ready(),
		Dependencies: snapshot,
	}
	span.SetAttributes(
		attribute.String("health.status", resp.Status.String()),
		attribute.Int("health.dependencies", len(snapshot)),
	)

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) dependencyHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	_, span := s.startSpan(r.Context(), "status_dependency", attribute.String("dependency", name))
	defer span.End()

	rec, ok := s.monitors.Get(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, constants.ErrorCodeNotFound, fmt.Sprintf("unknown dependency %q", name))
		return
	}
	span.SetAttributes(attribute.String("health.status", rec.Status.String()))

	s.writeJSON(w, http.StatusOK, DependencyResponse{Name: name, Record: rec})
}

func (s *Server) resourcesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.startSpan(r.Context(), "resources")
	defer span.End()

	if s.usage == nil {
		s.writeError(w, http.StatusServiceUnavailable, constants.ErrorCodeResourcesFailed, "resource reporting is not available")
		return
	}

	usage, err := s.usage.Latest(ctx)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("Resource sample failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, constants.ErrorCodeResourcesFailed, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, ResourcesResponse{
		Service:       constants.ServiceName,
		Status:        "running",
		CPUPercent:    usage.CPUPercent,
		MemoryPercent: usage.MemoryPercent,
		SampledAt:     usage.SampledAt,
	})
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	type endpoint struct {
		Method      string `json:"method"`
		Path        string `json:"path"`
		Description string `json:"description"`
	}

	doc := struct {
		Service   string     `json:"service"`
		Version   string     `json:"version"`
		Monitors  []string   `json:"monitors"`
		Endpoints []endpoint `json:"endpoints"`
	}{
		Service:  constants.ServiceName,
		Version:  constants.Version,
		Monitors: s.monitors.Names(),
		Endpoints: []endpoint{
			{http.MethodGet, constants.PathHealth, "Process liveness"},
			{http.MethodGet, constants.PathReady, "Readiness, false while a critical dependency is unreachable"},
			{http.MethodGet, constants.PathStatus, "Latest record of every dependency"},
			{http.MethodGet, constants.PathStatus + "/{name}", "Latest record of one dependency"},
			{http.MethodGet, constants.PathResources, "Host CPU and memory usage"},
		},
	}
	if s.metricsEnabled() {
		doc.Endpoints = append(doc.Endpoints, endpoint{http.MethodGet, s.config.Observability.Metrics.Path, "Prometheus metrics"})
	}

	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusNotFound, constants.ErrorCodeNotFound, fmt.Sprintf("no route for %s", r.URL.Path))
}

func (s *Server) methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", http.MethodGet)
	s.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", fmt.Sprintf("method %s not allowed", r.Method))
}
