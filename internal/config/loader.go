package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/leslieo2/depwatch/internal/constants"
)

const defaultEnvFile = ".env"

// LoadConfig loads configuration with precedence:
// 1. Explicitly set CLI flags (highest priority)
// 2. Environment variables (including those from the .env file)
// 3. Configuration file values
// 4. Default configuration values (lowest priority)
func LoadConfig(configFile string, cliFlags *CLIFlags) (*Config, error) {
	config := DefaultConfig()

	if configFile != "" {
		if err := loadFromFile(configFile, config); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	envFile := ""
	if cliFlags != nil && cliFlags.EnvFile != nil {
		envFile = *cliFlags.EnvFile
	}
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}
	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if cliFlags != nil {
		overrideWithCLI(config, cliFlags)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// CLIFlags contains CLI flag values that can override configuration.
// When FlagSet is set, only flags marked as changed override; otherwise every
// non-nil value does.
type CLIFlags struct {
	FlagSet *pflag.FlagSet

	EnvFile         *string
	Host            *string
	Port            *string
	MetricsPort     *string
	ShutdownTimeout *time.Duration
	LogLevel        *string
	LogFormat       *string
	Tracing         *bool
	DefaultInterval *time.Duration
	DefaultTimeout  *time.Duration
	HotReload       *bool
	RateLimit       *bool
}

func (f *CLIFlags) changed(name string) bool {
	if f.FlagSet == nil {
		return true
	}
	flag := f.FlagSet.Lookup(name)
	return flag != nil && flag.Changed
}

// loadFromFile decodes a YAML or JSON file on top of the given configuration,
// so keys absent from the file keep their defaults.
func loadFromFile(filePath string, config *Config) error {
	if !filepath.IsAbs(filePath) {
		absPath, err := filepath.Abs(filePath)
		if err != nil {
			return fmt.Errorf("failed to get absolute path for %s: %w", filePath, err)
		}
		filePath = absPath
	}

	if err := validateFilePath(filePath); err != nil {
		return fmt.Errorf("invalid config file path %s: %w", filePath, err)
	}

	data, err := os.ReadFile(filePath) // #nosec G304 - file path validated by validateFilePath()
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	ext := filepath.Ext(filePath)
	// JSON is decoded as YAML so durations read as "5s" in both formats.
	switch strings.ToLower(ext) {
	case ".yaml", ".yml", ".json":
		err = yaml.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}

	return nil
}

// loadEnvFile loads variables from a dotenv file without overriding the real
// environment. An explicitly named file must exist; the default .env is optional.
func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(defaultEnvFile); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		path = defaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables. A set but
// unparseable variable is an error, never ignored.
func loadFromEnv(config *Config) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	envString(constants.EnvHost, &config.Server.Host)
	envString(constants.EnvPort, &config.Server.Port)
	envString(constants.EnvMetricsPort, &config.Server.MetricsPort)
	collect(envDuration(constants.EnvReadTimeout, &config.Server.ReadTimeout))
	collect(envDuration(constants.EnvWriteTimeout, &config.Server.WriteTimeout))
	collect(envDuration(constants.EnvIdleTimeout, &config.Server.IdleTimeout))
	collect(envInt64(constants.EnvMaxRequestSize, &config.Server.MaxRequestSize))
	collect(envDuration(constants.EnvShutdownTimeout, &config.Server.ShutdownTimeout))

	envString(constants.EnvLogLevel, &config.Observability.Logging.Level)
	envString(constants.EnvLogFormat, &config.Observability.Logging.Format)
	collect(envBool(constants.EnvTracingEnabled, &config.Observability.Tracing.Enabled))

	collect(envDuration(constants.EnvDefaultInterval, &config.Monitoring.DefaultInterval))
	collect(envDuration(constants.EnvDefaultTimeout, &config.Monitoring.DefaultTimeout))
	collect(envDuration(constants.EnvResourceSampleWindow, &config.Monitoring.ResourceSampleWindow))

	collect(envBool(constants.EnvHotReload, &config.HotReload.Enabled))
	collect(envDuration(constants.EnvHotReloadDebounce, &config.HotReload.Debounce))
	collect(envBool(constants.EnvRateLimitEnabled, &config.Security.RateLimit.Enabled))

	collect(envBool(constants.EnvTLSEnabled, &config.TLS.Enabled))
	envString(constants.EnvTLSCertFile, &config.TLS.CertFile)
	envString(constants.EnvTLSKeyFile, &config.TLS.KeyFile)

	return errors.Join(errs...)
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envDuration(key string, dst *time.Duration) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envBool(key string, dst *bool) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func envInt64(key string, dst *int64) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// overrideWithCLI overrides configuration with CLI flag values
func overrideWithCLI(config *Config, flags *CLIFlags) {
	if flags.Host != nil && flags.changed("host") {
		config.Server.Host = *flags.Host
	}
	if flags.Port != nil && flags.changed("port") {
		config.Server.Port = *flags.Port
	}
	if flags.MetricsPort != nil && flags.changed("metrics-port") {
		config.Server.MetricsPort = *flags.MetricsPort
	}
	if flags.ShutdownTimeout != nil && flags.changed("shutdown-timeout") {
		config.Server.ShutdownTimeout = *flags.ShutdownTimeout
	}

	if flags.LogLevel != nil && flags.changed("log-level") {
		config.Observability.Logging.Level = *flags.LogLevel
	}
	if flags.LogFormat != nil && flags.changed("log-format") {
		config.Observability.Logging.Format = *flags.LogFormat
	}
	if flags.Tracing != nil && flags.changed("tracing") {
		config.Observability.Tracing.Enabled = *flags.Tracing
	}

	if flags.DefaultInterval != nil && flags.changed("default-interval") {
		config.Monitoring.DefaultInterval = *flags.DefaultInterval
	}
	if flags.DefaultTimeout != nil && flags.changed("default-timeout") {
		config.Monitoring.DefaultTimeout = *flags.DefaultTimeout
	}

	if flags.HotReload != nil && flags.changed("hot-reload") {
		config.HotReload.Enabled = *flags.HotReload
	}
	if flags.RateLimit != nil && flags.changed("rate-limit") {
		config.Security.RateLimit.Enabled = *flags.RateLimit
	}
}

// validateFilePath checks if the file path is safe to read
func validateFilePath(filePath string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	cleanPath := filepath.Clean(absPath)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal attempts")
	}

	return nil
}
