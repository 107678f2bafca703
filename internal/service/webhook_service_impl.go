package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jnst/payment-reconciler/internal/event"
	"github.com/jnst/payment-reconciler/internal/model"
)

// Classifier picks the handler for an event.
type Classifier interface {
	Classify(e *model.InboundEvent) model.EventClassification
}

// WebhookServiceImpl implements WebhookService.
type WebhookServiceImpl struct {
	verifier   VerificationService
	classifier Classifier
	dispatcher DispatchService
	now        func() time.Time
	logger     *slog.Logger
}

// NewWebhookServiceImpl creates a new WebhookService implementation.
func NewWebhookServiceImpl(
	verifier VerificationService,
	classifier Classifier,
	dispatcher DispatchService,
	logger *slog.Logger,
) WebhookService {
	return &WebhookServiceImpl{
		verifier:   verifier,
		classifier: classifier,
		dispatcher: dispatcher,
		now:        time.Now,
		logger:     logger,
	}
}

// Handle verifies, normalizes, routes and dispatches one inbound payload.
// Messages that fail verification are dropped without an error so the
// sender stops redelivering them.
func (s *WebhookServiceImpl) Handle(ctx context.Context, payload *model.InboundPayload) (model.WebhookOutcome, error) {
	verification, err := s.verifier.Verify(ctx, payload)
	if err != nil {
		if errors.Is(err, model.ErrVerificationFailed) {
			s.logger.Warn("Dropping unverified message", slog.String("processor", string(payload.Processor)))
			return model.OutcomeDropped, nil
		}

		return "", err
	}

	ev, err := event.Normalize(payload.Processor, payload.Raw, s.now())
	if err != nil {
		return "", err
	}

	c := s.classifier.Classify(ev)
	c.Connected = verification.Connected

	s.logger.Info("Event received", append(eventAttrs(ev),
		slog.String("account_scope", ev.AccountScope),
		slog.Bool("connected", c.Connected),
		slog.String("destination", string(c.Destination)),
		slog.String("dispatch", string(c.Dispatch)))...)

	if err := s.dispatcher.Dispatch(ctx, c); err != nil {
		return "", fmt.Errorf("failed to dispatch %s event %s: %w", ev.Processor, ev.EventType, err)
	}

	switch c.Dispatch {
	case model.DispatchNone:
		return model.OutcomeDiscarded, nil
	case model.DispatchDelayed:
		return model.OutcomeScheduled, nil
	default:
		return model.OutcomeHandled, nil
	}
}
