// Package api provides HTTP router setup.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lexsync/lexsync/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg *config.Config, handler *Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handler.HealthCheck)

		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(cfg.RateLimits.RequestsPerMinute))

			r.Route("/legislation", func(r chi.Router) {
				r.Get("/", handler.ListLegislation)
				r.Get("/search", handler.FederatedSearch)
				r.Get("/boe", handler.SearchBOE)
				r.Get("/cendoj", handler.SearchCENDOJ)
				r.Get("/external/{origin}/{id}", handler.FetchExternal)
				r.Post("/sync", handler.Sync)
				r.Get("/{id}", handler.GetLegislation)
			})

			// Per-user routes
			r.Group(func(r chi.Router) {
				r.Use(UserMiddleware)

				r.Get("/favorites", handler.ListFavorites)
				r.Post("/favorites", handler.AddFavorite)
				r.Delete("/favorites/{legislationId}", handler.RemoveFavorite)

				r.Get("/alerts", handler.ListAlerts)
				r.Post("/alerts", handler.CreateAlert)
				r.Post("/alerts/verify", handler.VerifyAlerts)
				r.Put("/alerts/{id}", handler.UpdateAlert)
				r.Delete("/alerts/{id}", handler.DeleteAlert)
				r.Post("/alerts/{id}/toggle", handler.ToggleAlert)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Get("/cache", handler.CacheStats)
				r.Delete("/cache", handler.ClearCaches)
			})
		})
	})

	return r
}
