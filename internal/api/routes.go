package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(h.metrics.Middleware)
	r.Use(RecoveryMiddleware)

	r.Handle("/metrics", h.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			if h.hub != nil {
				r.Get("/changes", h.hub.ServeHTTP)
			}
			r.Get("/backup", h.LatestBackup)

			r.Route("/tables/{table}", func(r chi.Router) {
				r.Use(TableMiddleware)
				r.Get("/", h.ListRows)
				r.Post("/", h.InsertRow)
				r.Delete("/", h.DeleteRows)
				r.Patch("/{id}", h.UpdateRow)
			})
		})
	})

	return r
}
