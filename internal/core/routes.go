package core

import (
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRequestTimeout bounds non-job requests. Manual runs carry the
// engine's own job timeout.
const defaultRequestTimeout = 30 * time.Second

// MountRoutes registers middleware and routes.
//
// Order:
//  1. Recoverer   - outermost so every panic is caught.
//  2. RequestID   - correlation ID for logs and error bodies.
//  3. RequestLogger
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))

	s.router.With(ContextTimeoutMiddleware(defaultRequestTimeout)).Get("/health", s.HandleHealth)

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(s.AdminAuthMiddleware)
		r.With(ContextTimeoutMiddleware(defaultRequestTimeout)).Get("/jobs", s.HandleListJobs)
		r.Post("/jobs/{name}/run", s.HandleRunJob)
	})
}
