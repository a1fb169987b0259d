package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
)

// healthCheckTimeout bounds each component check in GET /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsHandler().Handler)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// No auth required
		r.Get("/health", s.handleHealth)
		r.Post("/auth/token", s.handleTokenExchange)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/cubes", func(r chi.Router) {
				r.Get("/", s.handleListCubes)
				r.Post("/", s.handleCreateCube)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetCube)
					r.Put("/", s.handleUpdateCube)
					r.Delete("/", s.handleDeleteCube)
				})
			})

			r.Route("/config", func(r chi.Router) {
				r.Get("/sensors", s.handleListSensorTypes)
				r.Post("/sensors", s.handleAddSensorType)
				r.Delete("/sensors/{name}", s.handleDeactivateSensorType)
				r.Get("/actuators", s.handleListActuatorTypes)
				r.Post("/actuators", s.handleAddActuatorType)
				r.Delete("/actuators/{name}", s.handleDeactivateActuatorType)
			})

			r.Get("/data", s.handleQueryData)
			r.Post("/data", s.handleRecordData)

			r.Route("/tokens", func(r chi.Router) {
				r.Get("/", s.handleListTokens)
				r.Post("/", s.handleCreateToken)
				r.Delete("/{prefix}", s.handleDeleteToken)
			})

			r.Get("/audit", s.handleListAudit)
			r.Get("/stream", s.handleStream)
		})
	})

	return r
}

// corsHandler builds the CORS policy. An empty origin list allows all
// origins (dev mode).
func (s *Server) corsHandler() *cors.Cors {
	origins := s.cfg.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	methods := s.cfg.CORS.AllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	}
	headers := s.cfg.CORS.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Authorization", "Content-Type", "X-Request-ID"}
	}

	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: methods,
		AllowedHeaders: headers,
		ExposedHeaders: []string{"X-Request-ID", "X-Device-Notify-Failures"},
		MaxAge:         86400, //nolint:mnd // one day
	})
}

// handleHealth reports the server version and the state of each
// registered component. Any failing component turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.health))
	healthy := true
	for name, hc := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := hc.HealthCheck(ctx)
		cancel()
		if err != nil {
			healthy = false
			components[name] = "error"
			s.logger.Warn("health check failed", "component", name, "error", err)
			continue
		}
		components[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
