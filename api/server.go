/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:    Unique ID per request for tracing
  2. RequestLog:   Structured access log (logrus)
  3. Recoverer:    Panic recovery (500 instead of crash)
  4. StripSlashes: "/api/release/" and "/api/release" are the same route
  5. CORS:         Cross-origin requests from configured origins

ROUTE GROUPS:
  /api/*          Card and holder operations
  /api/admin/*    Admin operations
  /-/live         Liveness probe
  /-/ready        Readiness probe (store ping)

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Request logging
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, origins []string, log logrus.FieldLogger) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/-/live", h.Live)
	r.Get("/-/ready", h.ReadyCheck)

	r.Route("/api", func(r chi.Router) {
		// Card routes
		r.Post("/release", h.ReleaseCard)
		r.Get("/get/balance/{card_number}", h.GetBalance)
		r.Get("/get/transactions/{card_number}", h.GetTransactions)
		r.Post("/enroll/{card_number}", h.EnrollMoney)
		r.Post("/write-off/{card_number}", h.WriteOffMoney)

		r.Route("/cards/{card_number}", func(r chi.Router) {
			r.Post("/transactions", h.PostTransaction)
			r.Get("/operations", h.ListOperations)
			r.Get("/reconcile", h.ReconcileCard)
		})

		// Holder routes
		r.Route("/holders", func(r chi.Router) {
			r.Get("/", h.ListHolders)
			r.Post("/", h.CreateHolder)
			r.Get("/{id}", h.GetHolder)
			r.Delete("/{id}", h.DeleteHolder)
			r.Get("/{id}/cards", h.HolderCards)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/reconcile", h.ReconcileAll)
		})
	})

	return r
}
