package middleware

import (
	"fmt"
	"net/http"

	"github.com/leslieo2/depwatch/internal/config"
)

// SecurityHeadersMiddleware sets the usual hardening headers. HSTS is only
// sent over TLS.
func SecurityHeadersMiddleware(cfg config.SecurityHeaders) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}
		hsts := fmt.Sprintf("max-age=%d; includeSubDomains", cfg.HSTSMaxAge)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'")
			h.Set("Cache-Control", "no-store")
			if r.TLS != nil && cfg.HSTSMaxAge > 0 {
				h.Set("Strict-Transport-Security", hsts)
			}
			next.ServeHTTP(w, r)
		})
	}
}
