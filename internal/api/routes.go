package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		// Users
		r.Route("/users", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListUsers)
			r.Post("/", s.HandleCreateUser)
			r.Get("/me", s.HandleGetCurrentUser)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetUser)
				r.Put("/", s.HandleUpdateUser)
			})
		})

		// Probes
		r.Route("/probes", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListProbes)
			r.Route("/{serial}", func(r chi.Router) {
				r.Get("/", s.HandleGetProbe)
				r.Put("/", s.HandleUpdateProbe)
				r.Delete("/", s.HandleDeleteProbe)

				// Reconciled log
				r.Get("/records", s.HandleListRecords)
				r.Get("/sessions", s.HandleListSessions)
				r.Get("/export", s.HandleExportRecords)

				// Upload control
				r.Get("/state", s.HandleGetUploadState)
				r.Post("/transfer", s.HandleRequestTransfer)
			})
		})

		// Events
		r.Route("/events", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListEvents)
		})
	})
}
