// Package core provides the admin HTTP surface of the job engine: health,
// job status monitoring, and manual job triggers. It is a chi router with a
// short middleware chain in front of a handful of handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"clubhouse/internal/scheduler"
	"clubhouse/internal/types"
)

// JobEngine is the subset of *scheduler.Engine the admin surface uses.
type JobEngine interface {
	GetJobStatuses() scheduler.StatusReport
	ExecuteJobManually(ctx context.Context, name scheduler.JobName) (scheduler.Result, error)
}

// Server holds the admin surface dependencies.
type Server struct {
	Engine       JobEngine
	AdminKey     types.SecretString
	Logger       *slog.Logger
	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer validates dependencies and mounts the routes.
func NewServer(engine JobEngine, adminKey types.SecretString, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("job engine must not be nil")
	}
	if adminKey.Unmask() == "" {
		return nil, fmt.Errorf("admin key must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		Engine:   engine,
		AdminKey: adminKey,
		Logger:   logger,
		router:   chi.NewRouter(),
	}
	s.MountRoutes()
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}
