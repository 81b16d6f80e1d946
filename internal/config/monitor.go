package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/leslieo2/depwatch/internal/constants"
)

// MonitoringConfig holds defaults shared by every monitor
type MonitoringConfig struct {
	DefaultInterval      time.Duration `json:"default_interval" yaml:"default_interval"`
	DefaultTimeout       time.Duration `json:"default_timeout" yaml:"default_timeout"`
	ResourceSampleWindow time.Duration `json:"resource_sample_window" yaml:"resource_sample_window"`
}

// MonitorConfig describes one monitored dependency. It must stay comparable;
// the registry uses == to detect changed monitors on reload.
type MonitorConfig struct {
	Name     string        `json:"name" yaml:"name"`
	Kind     string        `json:"kind" yaml:"kind"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	Critical bool          `json:"critical" yaml:"critical"`

	// Target is a URL for http, peer and search monitors and host:port for redis.
	Target   string `json:"target" yaml:"target"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`

	ExpectStatus int `json:"expect_status" yaml:"expect_status"`

	DSN   string `json:"dsn" yaml:"dsn"`
	Query string `json:"query" yaml:"query"`

	DB int `json:"db" yaml:"db"`

	CPUThreshold    float64 `json:"cpu_threshold" yaml:"cpu_threshold"`
	MemoryThreshold float64 `json:"memory_threshold" yaml:"memory_threshold"`
}

// DefaultMonitoringConfig returns default monitoring configuration
func DefaultMonitoringConfig() MonitoringConfig {
	return MonitoringConfig{
		DefaultInterval:      constants.DefaultProbeInterval,
		DefaultTimeout:       constants.DefaultProbeTimeout,
		ResourceSampleWindow: constants.DefaultResourceSampleWindow,
	}
}

// Validate validates the monitoring defaults
func (m MonitoringConfig) Validate() error {
	var errs []error
	if m.DefaultInterval <= 0 {
		errs = append(errs, errors.New("default_interval must be positive"))
	} else if m.DefaultInterval < constants.MinConfiguredInterval {
		errs = append(errs, fmt.Errorf("default_interval %s is below the minimum %s", m.DefaultInterval, constants.MinConfiguredInterval))
	}
	if m.DefaultTimeout <= 0 {
		errs = append(errs, errors.New("default_timeout must be positive"))
	}
	if m.ResourceSampleWindow <= 0 {
		errs = append(errs, errors.New("resource_sample_window must be positive"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// WithDefaults fills omitted fields from the monitoring defaults and the
// per-kind defaults.
func (m MonitorConfig) WithDefaults(d MonitoringConfig) MonitorConfig {
	if m.Interval == 0 {
		m.Interval = d.DefaultInterval
	}
	if m.Timeout == 0 {
		m.Timeout = d.DefaultTimeout
	}

	switch m.Kind {
	case constants.KindHTTP:
		if m.ExpectStatus == 0 {
			m.ExpectStatus = constants.DefaultExpectStatus
		}
	case constants.KindPostgres:
		if m.Query == "" {
			m.Query = constants.DefaultPostgresQuery
		}
	case constants.KindRedis:
		if m.Target == "" {
			m.Target = constants.DefaultRedisAddr
		}
	case constants.KindResources:
		if m.CPUThreshold == 0 {
			m.CPUThreshold = constants.DefaultThresholdPercent
		}
		if m.MemoryThreshold == 0 {
			m.MemoryThreshold = constants.DefaultThresholdPercent
		}
	}
	return m
}

// Validate validates a single monitor definition
func (m MonitorConfig) Validate() error {
	var errs []error

	if m.Name == "" {
		errs = append(errs, errors.New("name cannot be empty"))
	}
	if m.Interval < 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", m.Interval))
	}
	if m.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", m.Timeout))
	}

	switch m.Kind {
	case constants.KindHTTP, constants.KindPeer, constants.KindSearch:
		if err := validateHTTPURL(m.Target); err != nil {
			errs = append(errs, err)
		}
		if m.ExpectStatus != 0 && (m.ExpectStatus < 100 || m.ExpectStatus > 599) {
			errs = append(errs, fmt.Errorf("expect_status %d is not a valid HTTP status", m.ExpectStatus))
		}
	case constants.KindPostgres:
		if m.DSN == "" {
			errs = append(errs, errors.New("dsn is required for postgres monitors"))
		}
	case constants.KindRedis:
		if m.DB < 0 {
			errs = append(errs, errors.New("db must be non-negative"))
		}
	case constants.KindResources:
		if m.CPUThreshold < 0 || m.CPUThreshold > 100 {
			errs = append(errs, errors.New("cpu_threshold must be between 0 and 100"))
		}
		if m.MemoryThreshold < 0 || m.MemoryThreshold > 100 {
			errs = append(errs, errors.New("memory_threshold must be between 0 and 100"))
		}
	case "":
		errs = append(errs, errors.New("kind cannot be empty"))
	default:
		errs = append(errs, fmt.Errorf("unsupported kind %q", m.Kind))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateMonitors(monitors []MonitorConfig) error {
	var errs []error
	seen := make(map[string]bool, len(monitors))
	for i, m := range monitors {
		label := m.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if err := m.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}
		if m.Interval > 0 && m.Interval < constants.MinConfiguredInterval {
			errs = append(errs, fmt.Errorf("%s: interval %s is below the minimum %s", label, m.Interval, constants.MinConfiguredInterval))
		}
		if m.Name != "" {
			if seen[m.Name] {
				errs = append(errs, fmt.Errorf("%s: duplicate monitor name", m.Name))
			}
			seen[m.Name] = true
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return errors.New("target cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("target is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("target must include a host")
	}
	return nil
}
