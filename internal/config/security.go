package config

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/leslieo2/depwatch/internal/constants"
)

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Headers   SecurityHeaders `json:"headers" yaml:"headers"`
	CORS      CORSConfig      `json:"cors" yaml:"cors"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Strategy selects the client identifier: "ip" or "header".
	Strategy        string        `json:"strategy" yaml:"strategy"`
	HeaderName      string        `json:"header_name" yaml:"header_name"`
	Global          *RateLimit    `json:"global" yaml:"global"`
	ByIP            *RateLimit    `json:"by_ip" yaml:"by_ip"`
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	MaxCacheSize    int           `json:"max_cache_size" yaml:"max_cache_size"`
}

// RateLimit contains rate limit settings for a specific entity
type RateLimit struct {
	RequestsPerSecond int           `json:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int           `json:"burst_size" yaml:"burst_size"`
	WindowSize        time.Duration `json:"window_size" yaml:"window_size"`
}

// SecurityHeaders contains security headers configuration
type SecurityHeaders struct {
	Enabled    bool `json:"enabled" yaml:"enabled"`
	HSTSMaxAge int  `json:"hsts_max_age" yaml:"hsts_max_age"`
}

// CORSConfig contains CORS configuration
type CORSConfig struct {
	Enabled          bool     `json:"enabled" yaml:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers" yaml:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           int      `json:"max_age" yaml:"max_age"`
}

// DefaultSecurityConfig returns default security configuration
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		RateLimit: DefaultRateLimitConfig(),
		Headers:   DefaultSecurityHeaders(),
		CORS:      DefaultCORSConfig(),
	}
}

// DefaultRateLimitConfig returns default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:    true,
		Strategy:   constants.RateLimitStrategyIP,
		HeaderName: constants.HeaderXClientID,
		Global: &RateLimit{
			RequestsPerSecond: 100,
			BurstSize:         200,
			WindowSize:        time.Minute,
		},
		ByIP: &RateLimit{
			RequestsPerSecond: 20,
			BurstSize:         40,
			WindowSize:        time.Minute,
		},
		CleanupInterval: constants.RateLimitCleanupInterval,
		MaxCacheSize:    constants.RateLimitMaxCacheSize,
	}
}

// DefaultSecurityHeaders returns default security headers
func DefaultSecurityHeaders() SecurityHeaders {
	return SecurityHeaders{
		Enabled:    true,
		HSTSMaxAge: 31536000, // 1 year
	}
}

// DefaultCORSConfig returns default CORS configuration
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{constants.HeaderContentType, constants.HeaderXRequestID},
		AllowCredentials: false,
		MaxAge:           86400, // 24 hours
	}
}

// Validate validates the security configuration
func (s *SecurityConfig) Validate() error {
	var errs []error

	if err := s.RateLimit.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rate limit config validation failed: %w", err))
	}
	if err := s.Headers.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("security headers config validation failed: %w", err))
	}
	if err := s.CORS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("CORS config validation failed: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate validates the rate limit configuration
func (r *RateLimitConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	var errs []error

	switch r.Strategy {
	case constants.RateLimitStrategyIP:
	case constants.RateLimitStrategyHeader:
		if r.HeaderName == "" {
			errs = append(errs, errors.New("header_name is required for the header strategy"))
		}
	default:
		errs = append(errs, errors.New("strategy must be one of: ip, header"))
	}

	if r.Global == nil {
		errs = append(errs, errors.New("global rate limit must be set"))
	} else if err := r.Global.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("global rate limit validation failed: %w", err))
	}

	if r.ByIP != nil {
		if err := r.ByIP.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("by_ip rate limit validation failed: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate validates the CORS configuration
func (c *CORSConfig) Validate() error {
	if c.Enabled {
		if len(c.AllowedOrigins) == 0 {
			return fmt.Errorf("allowed_origins must not be empty")
		}
		if len(c.AllowedMethods) == 0 {
			return fmt.Errorf("allowed_methods must not be empty")
		}
		for _, origin := range c.AllowedOrigins {
			if origin == "" {
				return fmt.Errorf("allowed_origins cannot contain empty strings")
			}
		}
		if c.MaxAge < 0 {
			return fmt.Errorf("max_age must be non-negative")
		}
	}
	return nil
}

// Validate validates the security headers configuration
func (h *SecurityHeaders) Validate() error {
	if h.Enabled {
		if h.HSTSMaxAge < 0 {
			return fmt.Errorf("hsts_max_age must be non-negative")
		}
	}
	return nil
}

// Validate validates the rate limit configuration for a specific entity
func (l *RateLimit) Validate() error {
	if l.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive")
	}
	if l.BurstSize <= 0 {
		return fmt.Errorf("burst_size must be positive")
	}
	if l.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive")
	}
	return nil
}
