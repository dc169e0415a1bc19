/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logging:    Request scoped slog logger, one line per request
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend
  5. Auth:       Bearer JWT on /api/* except /api/public/*

ROUTE GROUPS:
  /health               Liveness (public)
  /api/public/*         Customer and group share links (public)
  /api/customers/*      Customer khatas
  /api/transactions/*   Edits, deletes, shared expenses
  /api/dashboard/*      Owner summaries

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Owner resolution
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/smartkhata/khata-engine/logging"
)

// RouterConfig carries the settings the router needs.
type RouterConfig struct {
	AllowedOrigins []string
	JWTSecret      []byte
	Logger         *logging.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.FromContext(context.Background())
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Share links need no account
		r.Route("/public", func(r chi.Router) {
			r.Get("/khata/{shareToken}", h.GetPublicKhata)
			r.Get("/group/{groupToken}", h.GetPublicGroup)
			r.Get("/group/{groupToken}/customer/{shareToken}", h.GetPublicGroupCustomer)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireOwner(cfg.JWTSecret))

			// Customer routes
			r.Route("/customers", func(r chi.Router) {
				r.Get("/", h.ListCustomers)
				r.Post("/", h.CreateCustomer)
				r.Get("/{id}", h.GetCustomer)
				r.Put("/{id}", h.UpdateCustomer)
				r.Delete("/{id}", h.DeleteCustomer)
				r.Get("/{id}/transactions", h.GetCustomerTransactions)
				r.Post("/{id}/transactions", h.CreateTransaction)
				r.Post("/{id}/rebuild", h.RebuildCustomer)
			})

			// Transaction routes
			r.Route("/transactions", func(r chi.Router) {
				r.Post("/shared-expense", h.SharedExpense)
				r.Put("/{id}", h.UpdateTransaction)
				r.Delete("/{id}", h.DeleteTransaction)
			})

			// Dashboard routes
			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/", h.GetDashboard)
				r.Get("/monthly", h.GetMonthlySummary)
				r.Get("/share", h.GetGroupShare)
			})
		})
	})

	return r
}
