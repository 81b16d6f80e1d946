package constants

import "time"

// Environment variable constants
const (
	EnvHost                 = "DEPWATCH_HOST"
	EnvPort                 = "DEPWATCH_PORT"
	EnvMetricsPort          = "DEPWATCH_METRICS_PORT"
	EnvReadTimeout          = "DEPWATCH_READ_TIMEOUT"
	EnvWriteTimeout         = "DEPWATCH_WRITE_TIMEOUT"
	EnvIdleTimeout          = "DEPWATCH_IDLE_TIMEOUT"
	EnvMaxRequestSize       = "DEPWATCH_MAX_REQUEST_SIZE"
	EnvShutdownTimeout      = "DEPWATCH_SHUTDOWN_TIMEOUT"
	EnvLogLevel             = "DEPWATCH_LOG_LEVEL"
	EnvLogFormat            = "DEPWATCH_LOG_FORMAT"
	EnvTracingEnabled       = "DEPWATCH_TRACING_ENABLED"
	EnvDefaultInterval      = "DEPWATCH_DEFAULT_INTERVAL"
	EnvDefaultTimeout       = "DEPWATCH_DEFAULT_TIMEOUT"
	EnvResourceSampleWindow = "DEPWATCH_RESOURCE_SAMPLE_WINDOW"
	EnvHotReload            = "DEPWATCH_HOT_RELOAD"
	EnvHotReloadDebounce    = "DEPWATCH_HOT_RELOAD_DEBOUNCE"
	EnvRateLimitEnabled     = "DEPWATCH_RATE_LIMIT_ENABLED"
	EnvTLSEnabled           = "DEPWATCH_TLS_ENABLED"
	EnvTLSCertFile          = "DEPWATCH_TLS_CERT_FILE"
	EnvTLSKeyFile           = "DEPWATCH_TLS_KEY_FILE"
)

// Monitor kinds
const (
	KindHTTP      = "http"
	KindPeer      = "peer"
	KindSearch    = "search"
	KindPostgres  = "postgres"
	KindRedis     = "redis"
	KindResources = "resources"
)

// HTTP header constants
const (
	HeaderContentType   = "Content-Type"
	HeaderOrigin        = "Origin"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderXRealIP       = "X-Real-IP"
	HeaderXRequestID    = "X-Request-ID"
	HeaderXClientID     = "X-Client-ID"
	HeaderUserAgent     = "User-Agent"
)

// Content type constants
const (
	ContentTypeJSON = "application/json"
)

// CORS headers
const (
	HeaderAccessControlAllowOrigin      = "Access-Control-Allow-Origin"
	HeaderAccessControlAllowMethods     = "Access-Control-Allow-Methods"
	HeaderAccessControlAllowHeaders     = "Access-Control-Allow-Headers"
	HeaderAccessControlAllowCredentials = "Access-Control-Allow-Credentials"
	HeaderAccessControlMaxAge           = "Access-Control-Max-Age"
)

// Rate limiting strategy constants
const (
	RateLimitStrategyIP     = "ip"
	RateLimitStrategyHeader = "header"
)

// Rate limiting headers
const (
	HeaderXRateLimitLimit     = "X-RateLimit-Limit"
	HeaderXRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderXRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter          = "Retry-After"
)

// Rate limiter internal constants
const (
	// RateLimitCleanupInterval is the interval for cleaning up rate limit cache
	RateLimitCleanupInterval = 5 * time.Minute
	// RateLimitMaxCacheSize is the maximum size of the rate limit cache
	RateLimitMaxCacheSize = 10000
)

// Monitoring defaults
const (
	DefaultProbeInterval        = 30 * time.Second
	MinConfiguredInterval       = 100 * time.Millisecond
	DefaultProbeTimeout         = 5 * time.Second
	DefaultResourceSampleWindow = time.Second
	DefaultExpectStatus         = 200
	DefaultPostgresQuery        = "SELECT 1"
	DefaultRedisAddr            = "localhost:6379"
	DefaultThresholdPercent     = 90.0
)

// Error code constants
const (
	ErrorCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrorCodeNotFound          = "NOT_FOUND"
	ErrorCodeRequestTooLarge   = "REQUEST_TOO_LARGE"
	ErrorCodeResourcesFailed   = "RESOURCE_SAMPLE_FAILED"
)

// Path constants
const (
	PathIndex     = "/"
	PathHealth    = "/health"
	PathReady     = "/ready"
	PathMetrics   = "/metrics"
	PathStatus    = "/status"
	PathResources = "/resources"
)

// ServiceName identifies this process in logs, traces and metrics.
const ServiceName = "depwatch"

// Version is reported by the liveness endpoint.
const Version = "1.0.0"
