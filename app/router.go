package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamside-labs/sidepool/app/handlers"
)

// newRouter assembles the HTTP surface: public prediction API, guarded
// internal endpoints, and operational probes.
func newRouter(h *handlers.Handlers, jwtSecret string, registry *prometheus.Registry) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(corsMiddleware)
		r.Post("/predict", h.Predict)
		r.Get("/state", h.State)
		r.Get("/history", h.History)
		r.Get("/health", h.RoundHealth)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(jwtMiddleware(jwtSecret))
		r.Post("/result", h.OracleResult)
		r.Post("/settle", h.Settle)
		r.Post("/lock", h.Lock)
		r.Post("/retry-payouts", h.RetryPayouts)
	})

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return r
}
