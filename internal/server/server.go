// Package server exposes dependency health over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leslieo2/depwatch/internal/config"
	"github.com/leslieo2/depwatch/internal/constants"
	"github.com/leslieo2/depwatch/internal/health"
	"github.com/leslieo2/depwatch/internal/resources"
	"github.com/leslieo2/depwatch/internal/security"
)

// StatusSource is the read side of the monitor registry.
type StatusSource interface {
	Snapshot() map[string]health.Record
	Get(name string) (health.Record, bool)
	Names() []string
	Overall() health.Status
	Ready() bool
}

// UsageSource reports host resource usage.
type UsageSource interface {
	Latest(ctx context.Context) (resources.Usage, error)
}

// Metrics is what the server needs from the metrics registry.
type Metrics interface {
	RecordRequest(method, endpoint string, statusCode int, duration time.Duration, responseSize int64)
	Handler() http.Handler
}

// Tracer starts spans around request handling.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
}

type Deps struct {
	Logger   *zap.Logger
	Metrics  Metrics
	Tracer   Tracer
	Monitors StatusSource
	Usage    UsageSource
}

type Server struct {
	config   *config.Config
	logger   *zap.Logger
	metrics  Metrics
	tracer   Tracer
	monitors StatusSource
	usage    UsageSource

	rateLimiter *security.RateLimiter
	startTime   time.Time
	now         func() time.Time
}

func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Monitors == nil {
		return nil, errors.New("monitor registry is required")
	}
	if deps.Metrics == nil {
		return nil, errors.New("metrics are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rateLimiter := security.NewRateLimiter(cfg.Security.RateLimit, logger)
	if cfg.Observability.Metrics.Enabled {
		rateLimiter.Exempt(cfg.Observability.Metrics.Path)
	}

	return &Server{
		config:      cfg,
		logger:      logger,
		metrics:     deps.Metrics,
		tracer:      deps.Tracer,
		monitors:    deps.Monitors,
		usage:       deps.Usage,
		rateLimiter: rateLimiter,
		startTime:   time.Now(),
		now:         time.Now,
	}, nil
}

func (s *Server) metricsEnabled() bool {
	return s.config.Observability.Metrics.Enabled
}

// Handler returns the API router with the full middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.applyMiddleware(r)

	r.NotFound(s.notFoundHandler)
	r.MethodNotAllowed(s.methodNotAllowedHandler)

	r.Get(constants.PathIndex, s.indexHandler)
	r.Get(constants.PathHealth, s.healthHandler)
	r.Get(constants.PathReady, s.readinessHandler)
	r.Get(constants.PathStatus, s.statusHandler)
	r.Get(constants.PathStatus+"/{name}", s.dependencyHandler)
	r.Get(constants.PathResources, s.resourcesHandler)
	if s.metricsEnabled() {
		r.Method(http.MethodGet, s.config.Observability.Metrics.Path, s.metrics.Handler())
	}

	return r
}

// Close releases the rate limiter. Serve calls it on return.
func (s *Server) Close() {
	s.rateLimiter.Close()
}

func (s *Server) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.Observability.Metrics.Path, s.metrics.Handler())
	return mux
}

// Run listens on the configured API and metrics addresses until ctx ends.
// With metrics disabled only the API address is bound.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig

	apiLn, err := lc.Listen(ctx, "tcp", s.config.GetServerAddress())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.GetServerAddress(), err)
	}
	var metricsLn net.Listener
	if s.metricsEnabled() {
		metricsLn, err = lc.Listen(ctx, "tcp", s.config.GetMetricsAddress())
		if err != nil {
			apiLn.Close()
			return fmt.Errorf("listen %s: %w", s.config.GetMetricsAddress(), err)
		}
	}

	return s.Serve(ctx, apiLn, metricsLn)
}

// Serve runs both servers on the given listeners and shuts them down
// gracefully, within the configured shutdown timeout, once ctx ends.
// A failing listener stops the other one. metricsLn may be nil, in which
// case no metrics server runs.
func (s *Server) Serve(ctx context.Context, apiLn, metricsLn net.Listener) error {
	defer s.Close()

	api := &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		IdleTimeout:    s.config.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	var metricsSrv *http.Server
	if metricsLn != nil {
		metricsSrv = &http.Server{
			Handler:           s.metricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	tlsEnabled := s.config.TLS.Enabled
	if tlsEnabled {
		api.TLSConfig = s.config.TLS.ServerTLSConfig()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting server",
			zap.String("address", apiLn.Addr().String()),
			zap.Bool("tls", tlsEnabled),
			zap.Strings("monitors", s.monitors.Names()),
		)
		var err error
		if tlsEnabled {
			err = api.ServeTLS(apiLn, s.config.TLS.CertFile, s.config.TLS.KeyFile)
		} else {
			err = api.Serve(apiLn)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if metricsSrv != nil {
		g.Go(func() error {
			s.logger.Info("Starting metrics server",
				zap.String("address", metricsLn.Addr().String()),
				zap.String("path", s.config.Observability.Metrics.Path),
			)
			if err := metricsSrv.Serve(metricsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		var sg errgroup.Group
		sg.Go(func() error {
			if err := api.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("api server shutdown: %w", err)
			}
			return nil
		})
		if metricsSrv != nil {
			sg.Go(func() error {
				if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("metrics server shutdown: %w", err)
				}
				return nil
			})
		}
		err := sg.Wait()
		if err != nil {
			s.logger.Error("Graceful shutdown failed", zap.Error(err))
		} else {
			s.logger.Info("Server stopped")
		}
		return err
	})

	return g.Wait()
}
