package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *Handler) Routes(m *Middleware, corsOrigins []string, rateLimitRPM int) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS and rate limiting - configured from main
	r.Use(m.CORS(corsOrigins))
	r.Use(m.RateLimit(rateLimitRPM))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	// v1 API routes
	r.Route("/v1", func(r chi.Router) {
		// REST endpoints share a request timeout and compression; the
		// streaming endpoints below manage their own lifetimes.
		r.Group(func(r chi.Router) {
			r.Use(m.Timeout(15 * time.Second))
			r.Use(m.Compress)

			r.Route("/markets", func(r chi.Router) {
				r.Get("/", h.ListMarkets)
				r.Get("/{key}", h.GetMarket)
				r.Get("/{key}/score", h.GetMarketScore)
				r.Get("/{key}/rating", h.GetMarketRating)
			})

			r.Route("/vaults", func(r chi.Router) {
				r.Get("/", h.ListVaults)
				r.Get("/{address}/score", h.GetVaultScore)
			})
		})

		// Live updates
		r.Get("/stream", h.HandleSSE)
		r.Get("/ws", h.HandleWebSocket)
	})

	return r
}
