package server

import (
	"github.com/go-chi/chi/v5"

	"github.com/leslieo2/depwatch/internal/server/middleware"
)

// applyMiddleware installs the chain outermost first.
func (s *Server) applyMiddleware(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.LoggingMiddleware(s.logger, s.metrics))
	r.Use(middleware.RequestSizeLimitMiddleware(s.config.Server.MaxRequestSize))
	r.Use(middleware.SecurityHeadersMiddleware(s.config.Security.Headers))

	if s.config.Security.CORS.Enabled {
		r.Use(middleware.NewCORSMiddleware(s.config.Security.CORS).Handler)
	}

	r.Use(s.rateLimiter.Middleware)
}
