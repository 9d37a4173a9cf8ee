/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:      Request logging
  2. Recoverer:   Panic recovery (500 instead of crash)
  3. RequestID:   Unique ID per request for tracing
  4. CORS:        Cross-origin requests for mobile/desk frontends
  5. RequireAuth: Session check on every stock route (login excepted)

ROUTE GROUPS:
  /api/auth/*       Login (public)
  /api/*            Stock, audit, rollback, damage, reconciliation
                    (all behind RequireAuth)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/stock-ledger/auth"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Public
		r.Post("/auth/login", h.Login)

		// Everything else requires a session
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(h.Tokens))

			// Stock
			r.Get("/inventory", h.Inventory)
			r.Post("/inbound", h.Inbound)
			r.Post("/outbound", h.Outbound)
			r.Post("/move", h.Move)
			r.Post("/inbound/import", h.ImportInbound)
			r.Post("/init/import", h.ImportInitial)

			// Audit trail & rollback
			r.Get("/history", h.History)
			r.Post("/rollback", h.Rollback)
			r.Post("/rollback/batch", h.RollbackBatch)

			// Damage / CS
			r.Route("/damage", func(r chi.Router) {
				r.Get("/codes", h.ListDamageCodes)
				r.Post("/", h.RecordDamage)
				r.Get("/history", h.DamageHistory)
				r.Get("/summary", h.DamageSummary)
			})

			// Reconciliation
			r.Post("/erp/verify", h.VerifyERP)
		})
	})

	return r
}
