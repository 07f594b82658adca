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
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/policies/*       Policy and version management
  /api/requests/*       Time-off request lifecycle
  /api/balances/*       Balance snapshots
  /api/ledger/*         Raw ledger entries
  /api/webhooks/*       Payroll ingestion
  /api/admin/*          Adjustments, directory data, batch runs
  /api/health           Liveness probe

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Policy routes
		r.Route("/policies", func(r chi.Router) {
			r.Post("/", h.CreatePolicy)
			r.Get("/{id}/versions", h.ListVersions)
			r.Post("/{id}/versions", h.CreateVersion)
			r.Get("/{id}/effective", h.ResolveEffective)
		})

		// Request lifecycle routes
		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.CreateRequest)
			r.Post("/{id}/submit", h.SubmitRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/deny", h.DenyRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
		})

		// Balance routes
		r.Get("/balances/{employeeId}/{policyId}", h.GetBalance)
		r.Get("/ledger/{employeeId}/{policyId}", h.ListLedger)

		// Webhook routes
		r.Post("/webhooks/payroll", h.PayrollWebhook)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/adjustments", h.CreateAdjustment)
			r.Post("/assignments", h.CreateAssignment)
			r.Post("/employees", h.CreateEmployee)
			r.Post("/holidays", h.CreateHoliday)
			r.Route("/runs", func(r chi.Router) {
				r.Post("/accruals", h.RunAccruals)
				r.Post("/carryover", h.RunCarryover)
				r.Post("/expiration", h.RunExpiration)
			})
		})

		r.Get("/health", h.Health)
	})

	return r
}
