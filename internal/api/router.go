package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter registers the webhook routes on a chi router. requestTimeout must
// leave room for the IPN round trip plus the handler work after it.
func NewRouter(s *APIServer, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", s.HealthCheck)
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/stripe", s.StripeWebhook)
		r.Post("/paypal", s.PayPalWebhook)
	})

	return r
}
