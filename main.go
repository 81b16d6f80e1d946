package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leslieo2/depwatch/internal/config"
	"github.com/leslieo2/depwatch/internal/constants"
	"github.com/leslieo2/depwatch/internal/hotreload"
	"github.com/leslieo2/depwatch/internal/monitor"
	"github.com/leslieo2/depwatch/internal/observability"
	"github.com/leslieo2/depwatch/internal/resources"
	"github.com/leslieo2/depwatch/internal/server"
)

// errUnhealthy makes the check command exit non-zero without printing a
// second error line.
var errUnhealthy = errors.New("one or more dependencies are not healthy")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, errUnhealthy) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFile string
		envFile    string
		flags      config.CLIFlags
	)

	root := &cobra.Command{
		Use:           constants.ServiceName,
		Short:         "Periodically probe service dependencies and serve their health",
		Version:       constants.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a dotenv file (default: ./.env when present)")

	flags.EnvFile = &envFile
	flags.FlagSet = root.PersistentFlags()
	flags.LogLevel = root.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	flags.LogFormat = root.PersistentFlags().String("log-format", "console", "Log format: console or json")
	flags.DefaultInterval = root.PersistentFlags().Duration("default-interval", constants.DefaultProbeInterval, "Probe interval for monitors that do not set one")
	flags.DefaultTimeout = root.PersistentFlags().Duration("default-timeout", constants.DefaultProbeTimeout, "Probe timeout for monitors that do not set one")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the samplers and the status server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configFile, &flags)
		},
	}
	flags.Host = serve.Flags().String("host", "localhost", "Host to bind the status server to")
	flags.Port = serve.Flags().String("port", "8080", "Port of the status server")
	flags.MetricsPort = serve.Flags().String("metrics-port", "9090", "Port of the metrics server")
	flags.ShutdownTimeout = serve.Flags().Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	flags.Tracing = serve.Flags().Bool("tracing", false, "Export traces to stdout")
	flags.HotReload = serve.Flags().Bool("hot-reload", true, "Reload monitors when the config file changes")
	flags.RateLimit = serve.Flags().Bool("rate-limit", true, "Enable rate limiting on the status server")

	var failFast bool
	check := &cobra.Command{
		Use:   "check",
		Short: "Probe every monitor once, print the results as JSON and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), configFile, &flags, failFast)
		},
	}
	check.Flags().BoolVar(&failFast, "fail-fast", true, "Skip remaining monitors after the first unhealthy one")

	root.AddCommand(serve, check)
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	// Serve flags are registered on two commands; look changes up on whichever
	// one actually parsed them.
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		flags.FlagSet = cmd.Flags()
	}

	return root
}

func runServe(ctx context.Context, configFile string, flags *config.CLIFlags) error {
	cfg, err := config.LoadConfig(configFile, flags)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Observability.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics := observability.NewMetrics()
	if err := metrics.Register(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	cfg.Observability.Tracing.Version = constants.Version
	tracer, err := observability.NewTracer(cfg.Observability.Tracing)
	if err != nil {
		return fmt.Errorf("create tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	reporter, err := resources.NewReporter(cfg.Monitoring.ResourceSampleWindow)
	if err != nil {
		return fmt.Errorf("create resource reporter: %w", err)
	}

	registry := monitor.NewRegistry(monitor.Options{
		Logger:  logger.Logger,
		Metrics: metrics,
		Tracer:  tracer,
		Usage:   reporter,
		Loader: func() ([]config.MonitorConfig, error) {
			fresh, err := config.LoadConfig(configFile, flags)
			if err != nil {
				return nil, err
			}
			return fresh.ResolvedMonitors(), nil
		},
	})
	defer func() {
		if err := registry.StopAll(); err != nil {
			logger.Warn("Failed to release monitors", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := registry.Apply(ctx, cfg.ResolvedMonitors()); err != nil {
		return fmt.Errorf("start monitors: %w", err)
	}

	if cfg.HotReload.Enabled {
		manager, err := startHotReload(ctx, cfg, configFile, registry, metrics, logger.Logger)
		if err != nil {
			return err
		}
		if manager != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := manager.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Failed to stop hot reload", zap.Error(err))
				}
			}()
		}
	}

	if cfg.Security.RateLimit.Enabled {
		logger.Info("Rate limiting enabled", zap.String("strategy", cfg.Security.RateLimit.Strategy))
	}

	srv, err := server.New(cfg, server.Deps{
		Logger:   logger.Logger,
		Metrics:  metrics,
		Tracer:   tracer,
		Monitors: registry,
		Usage:    reporter,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	return srv.Run(ctx)
}

// startHotReload watches the config file and reloads the registry on change
// or on SIGHUP. It returns a nil manager when there is nothing to watch.
func startHotReload(ctx context.Context, cfg *config.Config, configFile string, registry *monitor.Registry, metrics *observability.Metrics, logger *zap.Logger) (*hotreload.Manager, error) {
	if configFile == "" {
		logger.Info("Hot reload enabled without a config file, nothing to watch")
		return nil, nil
	}

	manager, err := hotreload.NewManager(cfg.HotReload, logger)
	if err != nil {
		return nil, fmt.Errorf("create hot reload manager: %w", err)
	}
	if err := manager.AddWatch(configFile); err != nil {
		return nil, fmt.Errorf("watch config file: %w", err)
	}
	if err := manager.RegisterReloadable(registry); err != nil {
		return nil, fmt.Errorf("register monitors for reload: %w", err)
	}
	err = manager.AddListener("metrics", func(_ context.Context, outcome hotreload.Outcome) error {
		metrics.RecordReload(outcome.Err)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := manager.Start(); err != nil {
		return nil, fmt.Errorf("start hot reload: %w", err)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				logger.Info("Received SIGHUP, reloading configuration")
				manager.Trigger()
			}
		}
	}()

	return manager, nil
}

func runCheck(ctx context.Context, configFile string, flags *config.CLIFlags, failFast bool) error {
	cfg, err := config.LoadConfig(configFile, flags)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Observability.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	reporter, err := resources.NewReporter(cfg.Monitoring.ResourceSampleWindow)
	if err != nil {
		return fmt.Errorf("create resource reporter: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := monitor.NewRegistry(monitor.Options{Logger: logger.Logger, Usage: reporter})
	results := registry.CheckOnce(ctx, cfg.ResolvedMonitors(), failFast)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	if !monitor.AllHealthy(results) {
		return errUnhealthy
	}
	return nil
}
