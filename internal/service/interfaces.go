// Package service provides business logic layer implementations.
package service

import (
	"context"

	"github.com/jnst/payment-reconciler/internal/model"
)

// EventHandler reconciles one canonical event against local records.
// Handlers are idempotent: running one twice leaves the same state.
type EventHandler interface {
	Handle(ctx context.Context, event *model.InboundEvent) error
}

// VerificationService authenticates inbound payloads.
type VerificationService interface {
	Verify(ctx context.Context, payload *model.InboundPayload) (*model.Verification, error)
}

// ChargeService reconciles charge lifecycle events and charge-attempt failures.
type ChargeService interface {
	EventHandler
	ApplyChargeAttemptFailure(ctx context.Context, purchases []*model.Purchase, attemptErr error) error
}

// MerchantAccountService reconciles connected-account onboarding and deauthorization.
type MerchantAccountService interface {
	EventHandler
	HandleDeauthorization(ctx context.Context, event *model.InboundEvent) error
	CreatePartnerReferral(ctx context.Context, userID int64, returnURL string) (string, error)
}

// PayoutService reconciles payout outcomes.
type PayoutService interface {
	EventHandler
}

// DispatchService runs handlers inline or defers them to the delayed queue.
type DispatchService interface {
	Dispatch(ctx context.Context, classification model.EventClassification) error
	RunDelayed(ctx context.Context, job *model.DelayedJob) error
}

// WebhookService takes an inbound payload through verification, normalization,
// routing and dispatch.
type WebhookService interface {
	Handle(ctx context.Context, payload *model.InboundPayload) (model.WebhookOutcome, error)
}

// IPNVerifier confirms a legacy PayPal message with PayPal.
type IPNVerifier interface {
	VerifyIPN(ctx context.Context, body []byte) error
}

// MerchantStatusFetcher loads onboarding status from a processor.
type MerchantStatusFetcher interface {
	FetchMerchantStatus(ctx context.Context, merchantID string) (*model.MerchantStatus, error)
}

// PartnerReferralCreator starts processor-hosted onboarding.
type PartnerReferralCreator interface {
	CreatePartnerReferral(ctx context.Context, trackingID, returnURL string) (string, error)
}

// Notifier publishes notifications after state changes commit.
type Notifier interface {
	Notify(ctx context.Context, notification model.Notification) error
}

// DelayedQueue stores jobs until they are due.
type DelayedQueue interface {
	Schedule(ctx context.Context, job *model.DelayedJob) error
}
