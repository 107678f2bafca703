package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jnst/payment-reconciler/internal/event"
	"github.com/jnst/payment-reconciler/internal/model"
)

// VerificationServiceImpl implements VerificationService.
//
// Stripe signatures are checked by the HTTP layer before the body is decoded
// and PayPal REST webhooks are authenticated upstream, so only legacy IPN
// messages need a network round trip here. A PayPal message without an
// event_type is treated as legacy IPN even when it arrived as JSON.
type VerificationServiceImpl struct {
	ipn               IPNVerifier
	platformAccountID string
	logger            *slog.Logger
}

// NewVerificationServiceImpl creates a new VerificationService implementation.
func NewVerificationServiceImpl(ipn IPNVerifier, platformAccountID string, logger *slog.Logger) VerificationService {
	return &VerificationServiceImpl{ipn: ipn, platformAccountID: platformAccountID, logger: logger}
}

// Verify authenticates payload and reports which account it is scoped to.
func (s *VerificationServiceImpl) Verify(ctx context.Context, payload *model.InboundPayload) (*model.Verification, error) {
	switch payload.Processor {
	case model.ProcessorStripe:
		scope := event.StripeAccountScope(payload.Raw)

		return &model.Verification{
			AccountScope: scope,
			Connected:    scope != "" && scope != s.platformAccountID,
		}, nil
	case model.ProcessorPayPal:
		if payload.IPN || event.IsLegacyIPN(payload.Raw) {
			if err := s.ipn.VerifyIPN(ctx, payload.Body); err != nil {
				s.logger.Warn("IPN verification failed",
					slog.String("ipn_track_id", fmt.Sprint(payload.Raw["ipn_track_id"])),
					slog.String("error", err.Error()))

				return nil, fmt.Errorf("%w: %w", model.ErrVerificationFailed, err)
			}
		}
		scope := event.PayPalAccountScope(payload.Raw)

		return &model.Verification{AccountScope: scope, Connected: scope != ""}, nil
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedProcessor, payload.Processor)
	}
}
