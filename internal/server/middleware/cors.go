package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/leslieo2/depwatch/internal/config"
	"github.com/leslieo2/depwatch/internal/constants"
)

type CORSMiddleware struct {
	allowedOrigins   []string
	allowedMethods   string
	allowedHeaders   string
	allowCredentials bool
	maxAge           int
}

func NewCORSMiddleware(cfg config.CORSConfig) *CORSMiddleware {
	return &CORSMiddleware{
		allowedOrigins:   cfg.AllowedOrigins,
		allowedMethods:   strings.Join(cfg.AllowedMethods, ", "),
		allowedHeaders:   strings.Join(cfg.AllowedHeaders, ", "),
		allowCredentials: cfg.AllowCredentials,
		maxAge:           cfg.MaxAge,
	}
}

func (c *CORSMiddleware) allowed(origin string) bool {
	for _, o := range c.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Handler answers preflight requests itself and decorates the rest.
func (c *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get(constants.HeaderOrigin)

		if origin != "" && c.allowed(origin) {
			h := w.Header()
			h.Set(constants.HeaderAccessControlAllowOrigin, origin)
			h.Add("Vary", constants.HeaderOrigin)
			if c.allowedMethods != "" {
				h.Set(constants.HeaderAccessControlAllowMethods, c.allowedMethods)
			}
			if c.allowedHeaders != "" {
				h.Set(constants.HeaderAccessControlAllowHeaders, c.allowedHeaders)
			}
			if c.allowCredentials {
				h.Set(constants.HeaderAccessControlAllowCredentials, "true")
			}
			if c.maxAge > 0 {
				h.Set(constants.HeaderAccessControlMaxAge, strconv.Itoa(c.maxAge))
			}
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
