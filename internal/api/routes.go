package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/outreach/internal/metrics"
	"github.com/lalithlochan/outreach/internal/redis"
)

// NewRouter mounts the /v1 API plus /health and /metrics. A nil limiter
// disables rate limiting.
func NewRouter(h *Handler, limiter *redis.RateLimiter, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter, logger, IPKeyFunc))

		// a manual pass runs under its own deadline
		r.Post("/dispatch", h.Dispatch)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/businesses/import", h.ImportBusinesses)
			r.Get("/businesses/{id}", h.GetBusiness)

			r.Post("/campaigns", h.CreateCampaign)
			r.Get("/campaigns", h.ListCampaigns)
			r.Route("/campaigns/{id}", func(r chi.Router) {
				r.Post("/businesses", h.AddBusinesses)
				r.Post("/generate", h.GenerateEmails)
				r.Post("/schedule", h.ScheduleCampaign)
				r.Get("/stats", h.CampaignStats)
				r.Get("/report.xlsx", h.CampaignReport)
				r.Post("/status", h.AdvanceStatus)
				r.Post("/requeue", h.RequeueFailed)
			})

			r.Post("/analytics", h.UpdateAnalytics)
			r.Post("/appointments", h.CreateAppointment)
			r.Post("/track/{tracking_id}/{event}", h.Track)
			r.Get("/templates", h.ListTemplates)
		})
	})

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	return r
}
