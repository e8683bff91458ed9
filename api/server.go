/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind a proxy
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the admin and patient UIs

ROUTE GROUPS:
  /healthz              Liveness and store ping
  /metrics              Prometheus scrape endpoint
  /api/users/*          Registration and credit history
  /api/treatments/*     Treatment registry
  /api/appointments/*   Booking, payments, lifecycle
  /api/gateway/*        Hosted checkout callbacks
  /api/dashboard        Admin summary
  /api/scenarios/*      Demo seed and reset (dev only)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries what the router needs besides the handler.
type RouterConfig struct {
	CORSOrigins []string
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.RegisterUser)
			r.Get("/{id}", h.GetUser)
			r.Get("/{id}/appointments", h.ListUserAppointments)
		})

		r.Route("/treatments", func(r chi.Router) {
			r.Get("/", h.ListTreatments)
			r.Post("/", h.SaveTreatment)
			r.Put("/{id}/availability", h.SetTreatmentAvailability)
			r.Delete("/{id}", h.DeleteTreatment)
		})

		r.Get("/availability", h.CheckAvailability)

		r.Route("/appointments", func(r chi.Router) {
			r.Get("/", h.ListAppointments)
			r.Post("/", h.CreateBooking)
			r.Get("/{id}", h.GetAppointment)
			r.Delete("/{id}", h.DeleteAppointment)
			r.Post("/{id}/payments", h.ApplyBalancePayment)
			r.Post("/{id}/checkout", h.InitiateCheckout)
			r.Post("/{id}/cancel", h.CancelAppointment)
			r.Post("/{id}/complete", h.CompleteAppointment)
			r.Post("/{id}/credit-refund", h.IssueCreditRefund)
		})

		r.Route("/gateway", func(r chi.Router) {
			r.Post("/notify", h.GatewayNotify)
			r.Post("/confirm", h.GatewayConfirm)
		})

		r.Get("/dashboard", h.GetDashboard)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
