package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/vantrex/warelay/internal/auth"
	"github.com/vantrex/warelay/internal/domain"
)

// RegisterRoutes mounts the API under /api. Every route requires a
// valid bearer token; write routes are additionally role-gated. The
// read path is open to all roles because the gateway applies the
// assignment ACL itself.
func (h *Handler) RegisterRoutes(r chi.Router, tokenCfg auth.TokenConfig) {
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(tokenCfg))

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.listSessions)
			r.Get("/connected", h.listConnected)

			r.With(auth.RequireRole(domain.RoleAdmin)).Get("/problematic", h.listProblematic)
			r.With(auth.RequireRole(domain.RoleAdmin, domain.RoleOperator)).Post("/", h.createSession)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.getSession)
				r.With(auth.RequireRole(domain.RoleAdmin)).Delete("/", h.deleteSession)

				r.Group(func(r chi.Router) {
					r.Use(auth.RequireRole(domain.RoleAdmin, domain.RoleOperator))
					r.Post("/qr", h.negotiateQR)
					r.Post("/disconnect", h.disconnectSession)
					r.Post("/messages", h.sendMessage)
					r.Post("/attempts/reset", h.resetAttempts)
				})

				r.Get("/chats", h.listChats)
				r.Get("/chats/{chatID}/messages", h.listMessages)

				r.Route("/assignments", func(r chi.Router) {
					r.Use(auth.RequireRole(domain.RoleAdmin, domain.RoleOperator))
					r.Get("/", h.listAssignments)
					r.Post("/", h.assignChat)
					r.Delete("/", h.unassignChat)
				})
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(domain.RoleAdmin))
			r.Post("/cleanup", h.runCleanup)
			r.Post("/health-check", h.runHealthCheck)
		})
	})
}
