// Package api exposes the webhook endpoints over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/jnst/payment-reconciler/internal/event"
	"github.com/jnst/payment-reconciler/internal/model"
	"github.com/jnst/payment-reconciler/internal/service"
)

const (
	contentTypeJSON        = "Content-Type"
	applicationJSON        = "application/json"
	failedToEncodeResponse = "failed to encode response"
	stripeSignatureHeader  = "Stripe-Signature"
	maxBodyBytes           = int64(65536)
)

// APIServer handles processor webhooks.
type APIServer struct {
	webhooks            service.WebhookService
	stripeWebhookSecret string
	logger              *slog.Logger
}

// NewAPIServer creates a new API server instance. An empty stripeWebhookSecret
// disables Stripe signature checks.
func NewAPIServer(webhooks service.WebhookService, stripeWebhookSecret string, logger *slog.Logger) *APIServer {
	return &APIServer{
		webhooks:            webhooks,
		stripeWebhookSecret: stripeWebhookSecret,
		logger:              logger,
	}
}

// StripeWebhook handles POST /webhooks/stripe.
func (s *APIServer) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	if s.stripeWebhookSecret != "" {
		_, err := webhook.ConstructEventWithOptions(body, r.Header.Get(stripeSignatureHeader), s.stripeWebhookSecret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			s.logger.Warn("Invalid Stripe signature", slog.String("error", err.Error()))
			http.Error(w, "Invalid signature", http.StatusBadRequest)
			return
		}
	}

	raw, err := event.DecodeStripe(body)
	if err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	s.handle(w, r, &model.InboundPayload{Processor: model.ProcessorStripe, Body: body, Raw: raw})
}

// PayPalWebhook handles POST /webhooks/paypal for both REST webhooks and IPN.
func (s *APIServer) PayPalWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	raw, ipn, err := event.DecodePayPal(body, r.Header.Get(contentTypeJSON))
	if err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	s.handle(w, r, &model.InboundPayload{Processor: model.ProcessorPayPal, Body: body, Raw: raw, IPN: ipn})
}

// HealthCheck handles GET /health endpoint for service health check.
func (*APIServer) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return nil, false
	}

	return body, true
}

func (s *APIServer) handle(w http.ResponseWriter, r *http.Request, payload *model.InboundPayload) {
	outcome, err := s.webhooks.Handle(r.Context(), payload)
	if err != nil {
		if errors.Is(err, model.ErrMalformedEvent) {
			s.logger.Warn("Malformed event", slog.String("processor", string(payload.Processor)), slog.String("error", err.Error()))
			http.Error(w, "Malformed event", http.StatusBadRequest)
			return
		}

		// non-2xx makes the processor redeliver
		s.logger.Error("Failed to handle webhook", slog.String("processor", string(payload.Processor)), slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set(contentTypeJSON, applicationJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, failedToEncodeResponse, http.StatusInternalServerError)
		return
	}
}
