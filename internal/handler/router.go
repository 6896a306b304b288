package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sahuti/autoreply/internal/middleware"
	"github.com/sahuti/autoreply/pkg/logger"
)

// RouterConfig holds what the router needs beyond the handlers.
type RouterConfig struct {
	JWTSecret         string
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter mounts the webhook, admin, health and metrics routes.
func NewRouter(cfg RouterConfig, log *logger.Logger, health *HealthHandler, webhook *WebhookHandler, admin *AdminHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/webhook/whatsapp", webhook.Verify)
	r.Post("/webhook/whatsapp", webhook.Receive)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.AllowedOrigins))
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(middleware.ScopeAdminRead))

			r.Get("/businesses", admin.ListBusinesses)
			r.Get("/businesses/{id}", admin.GetBusiness)
			r.Get("/businesses/{id}/logs", admin.ListLogs)
			r.Get("/businesses/{id}/events", admin.ListEvents)
			r.Get("/conversations/{phone}/messages", admin.ListMessages)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(middleware.ScopeAdminWrite))

			r.Put("/businesses/{id}/whatsapp", admin.UpdateCredentials)
			r.Delete("/businesses/{id}/whatsapp", admin.Disconnect)
			r.Post("/businesses/{id}/onboarding/reset", admin.ResetOnboarding)
			r.Put("/businesses/{id}/llm", admin.SetLLM)
			r.Post("/businesses/{id}/replies", admin.SendReply)
			r.Delete("/pauses/{phone}", admin.ResumeAutoReplies)
		})
	})

	return r
}
