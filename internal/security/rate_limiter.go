// Package security limits request rates on the status API.
package security

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leslieo2/depwatch/internal/config"
	"github.com/leslieo2/depwatch/internal/constants"
)

// RateLimiter keeps one token bucket per client in an expiring cache.
type RateLimiter struct {
	limiters *cache.Cache
	config   config.RateLimitConfig
	logger   *zap.Logger
	now      func() time.Time
	exempt   map[string]struct{}

	// mu guards limiter creation so concurrent first requests share a bucket.
	mu       sync.Mutex
	stopOnce sync.Once
	stop     chan struct{}
}

type RateLimitStatus struct {
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	Reset      time.Time     `json:"reset"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// NewRateLimiter starts a limiter and its cache size enforcement. Call Close
// to stop it.
func NewRateLimiter(cfg config.RateLimitConfig, logger *zap.Logger) *RateLimiter {
	rl := newRateLimiter(cfg, logger, time.Now)

	maxSize := cfg.MaxCacheSize
	if maxSize <= 0 {
		maxSize = constants.RateLimitMaxCacheSize
	}
	go rl.periodicCleanup(maxSize)

	return rl
}

func newRateLimiter(cfg config.RateLimitConfig, logger *zap.Logger, now func() time.Time) *RateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = constants.RateLimitCleanupInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		limiters: cache.New(cfg.CleanupInterval, cfg.CleanupInterval*2),
		config:   cfg,
		logger:   logger,
		now:      now,
		exempt: map[string]struct{}{
			constants.PathHealth:  {},
			constants.PathReady:   {},
			constants.PathMetrics: {},
		},
		stop: make(chan struct{}),
	}
}

// Exempt adds paths that are never limited. Call it before serving.
func (rl *RateLimiter) Exempt(paths ...string) {
	for _, p := range paths {
		rl.exempt[p] = struct{}{}
	}
}

func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// periodicCleanup evicts arbitrary entries once the cache grows past maxSize.
// go-cache keeps no access times, so this is not LRU.
func (rl *RateLimiter) periodicCleanup(maxSize int) {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evict(maxSize)
		}
	}
}

func (rl *RateLimiter) evict(maxSize int) {
	currentSize := rl.limiters.ItemCount()
	if currentSize <= maxSize {
		return
	}

	// Remove an extra 10% to avoid evicting on every tick.
	toRemove := currentSize - maxSize + maxSize/10
	removed := 0
	for key := range rl.limiters.Items() {
		if removed >= toRemove {
			break
		}
		rl.limiters.Delete(key)
		removed++
	}
	rl.logger.Warn("Rate limiter cache trimmed", zap.Int("removed", removed), zap.Int("max_size", maxSize))
}

func (rl *RateLimiter) limiter(identifier string, limit *config.RateLimit) *rate.Limiter {
	if item, found := rl.limiters.Get(identifier); found {
		return item.(*rate.Limiter)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if item, found := rl.limiters.Get(identifier); found {
		return item.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Limit(limit.RequestsPerSecond), limit.BurstSize)
	rl.limiters.Set(identifier, l, cache.DefaultExpiration)
	return l
}

// Allow takes one token from the identifier's bucket.
func (rl *RateLimiter) Allow(identifier string, limit *config.RateLimit) bool {
	if !rl.config.Enabled {
		return true
	}
	return rl.limiter(identifier, limit).AllowN(rl.now(), 1)
}

// Status reports the bucket state without consuming a token.
func (rl *RateLimiter) Status(identifier string, limit *config.RateLimit) RateLimitStatus {
	now := rl.now()
	tokens := rl.limiter(identifier, limit).TokensAt(now)
	if tokens < 0 {
		tokens = 0
	}

	perToken := time.Duration(float64(time.Second) / float64(limit.RequestsPerSecond))
	status := RateLimitStatus{
		Limit:     limit.BurstSize,
		Remaining: int(math.Floor(tokens)),
		Reset:     now.Add(time.Duration((float64(limit.BurstSize) - tokens) * float64(perToken))),
	}
	if tokens < 1 {
		status.RetryAfter = time.Duration((1 - tokens) * float64(perToken))
	}
	return status
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled || rl.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identifier := rl.identifier(r)
		limit := rl.rateLimit(identifier)

		allowed := rl.Allow(identifier, limit)
		status := rl.Status(identifier, limit)

		w.Header().Set(constants.HeaderXRateLimitLimit, strconv.Itoa(status.Limit))
		w.Header().Set(constants.HeaderXRateLimitRemaining, strconv.Itoa(status.Remaining))
		w.Header().Set(constants.HeaderXRateLimitReset, strconv.FormatInt(status.Reset.Unix(), 10))

		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		retrySeconds := int(math.Ceil(status.RetryAfter.Seconds()))
		if retrySeconds < 1 {
			retrySeconds = 1
		}
		rl.logger.Debug("Rate limit exceeded", zap.String("client", identifier), zap.String("path", r.URL.Path))

		w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
		w.Header().Set(constants.HeaderRetryAfter, strconv.Itoa(retrySeconds))
		w.WriteHeader(http.StatusTooManyRequests)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":       constants.ErrorCodeRateLimitExceeded,
			"message":     fmt.Sprintf("Rate limit exceeded. Try again in %ds", retrySeconds),
			"retry_after": retrySeconds,
		})
	})
}

// identifier keys the bucket. The header strategy falls back to the client
// IP when the header is absent.
func (rl *RateLimiter) identifier(r *http.Request) string {
	if rl.config.Strategy == constants.RateLimitStrategyHeader {
		if v := strings.TrimSpace(r.Header.Get(rl.config.HeaderName)); v != "" {
			return "header:" + v
		}
	}
	return "ip:" + getClientIP(r)
}

func (rl *RateLimiter) rateLimit(identifier string) *config.RateLimit {
	if strings.HasPrefix(identifier, "ip:") && rl.config.ByIP != nil {
		return rl.config.ByIP
	}
	if rl.config.Global != nil {
		return rl.config.Global
	}
	return config.DefaultRateLimitConfig().Global
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get(constants.HeaderXForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get(constants.HeaderXRealIP); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Orchestrator checks and scrapers are never limited.
func (rl *RateLimiter) skip(path string) bool {
	_, ok := rl.exempt[path]
	return ok
}
