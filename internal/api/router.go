package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tempsys-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Session endpoints authenticate with credentials or the refresh cookie.
		r.Route("/auth", func(r chi.Router) {
			r.Post("/", s.handleLogin)
			r.Put("/refresh", s.handleRefresh)
			r.Delete("/logout", s.handleLogout)
			r.Get("/verify/{token}", s.handleVerify)
		})

		r.Post("/users", s.handleRegister)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/users/{id}", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermUserRead)).Get("/", s.handleGetUser)
				r.Put("/credentials", s.handleUpdateCredentials)
				r.With(s.requirePermission(auth.PermRoleManage)).Put("/role", s.handleUpdateRole)
				r.Delete("/", s.handleDeleteUser)
			})

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}
