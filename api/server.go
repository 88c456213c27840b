/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request for tracing
  2. RealIP:         Client address from proxy headers
  3. RequestLogger:  zap request log + Prometheus request metrics
  4. Recoverer:      Panic recovery (500 instead of crash)
  5. CORS:           Cross-origin requests for frontend

ROUTE GROUPS:
  /healthz              Store liveness (no actor)
  /metrics              Prometheus scrape (no actor)
  /api/sessions/*       Cash sessions
  /api/ledger/*         Manual entries, statement, expenses
  /api/stock/*          Catalog, adjustments, movements
  /api/appointments/*   Appointment registration and recognition
  /api/sales            Product sales
  /api/reports/*        Period summary
  /api/scenarios/*      Demo scenarios (load is admin only)
  /api/names            Display names (admin only)

SECURITY NOTE:
  Every /api route requires X-Actor-ID. Identity is asserted by the caller;
  authentication belongs in front of this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Actor and request logging middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultCORSOrigins is used when no origins are configured.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	if len(corsOrigins) == 0 {
		corsOrigins = DefaultCORSOrigins
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.Logger, h.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", HeaderActorID, HeaderActorRole},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireActor)

		// Cash session routes
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.OpenSession)
			r.Get("/current", h.CurrentSession)
			r.Get("/{id}", h.GetSession)
			r.Post("/{id}/close", h.CloseSession)
		})

		// Ledger routes
		r.Route("/ledger", func(r chi.Router) {
			r.Get("/entries", h.ListEntries)
			r.Post("/entries", h.RecordEntry)
			r.Post("/entries/{id}/reverse", h.ReverseEntry)
			r.Get("/statement", h.Statement)
			r.Get("/expenses", h.Expenses)
		})

		// Stock routes
		r.Route("/stock", func(r chi.Router) {
			r.Get("/", h.ListStock)
			r.Get("/low", h.LowStock)
			r.Get("/movements", h.ListMovements)
			r.With(RequireAdmin).Post("/", h.CreateStockItem)
			r.With(RequireAdmin).Put("/{id}", h.UpdateStockItem)
			r.Post("/{id}/adjust", h.AdjustStock)
			r.Get("/{id}/movements", h.ListMovements)
		})

		// Revenue routes
		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.RegisterAppointment)
			r.Post("/{id}/complete", h.CompleteAppointment)
			r.Post("/{id}/cancel", h.CancelAppointment)
		})
		r.Post("/sales", h.RecordSale)

		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/summary", h.Summary)
			r.Get("/summary.xlsx", h.SummaryXLSX)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.With(RequireAdmin).Post("/load", h.LoadScenario)
		})

		r.With(RequireAdmin).Post("/names", h.SaveName)
	})

	return r
}
