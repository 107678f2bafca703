package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jnst/payment-reconciler/internal/model"
	"github.com/jnst/payment-reconciler/internal/repository"
)

var stripeChargeStates = map[string]model.ChargeState{
	"charge.succeeded":                  model.ChargeStateSucceeded,
	"charge.failed":                     model.ChargeStateFailed,
	"payment_intent.payment_failed":     model.ChargeStateFailed,
	"charge.dispute.created":            model.ChargeStateDisputed,
	"radar.early_fraud_warning.created": model.ChargeStateDisputed,
	"charge.refunded":                   model.ChargeStateRefunded,
}

var payPalChargeStates = map[string]model.ChargeState{
	"PAYMENT.CAPTURE.COMPLETED": model.ChargeStateSucceeded,
	"CHECKOUT.ORDER.COMPLETED":  model.ChargeStateSucceeded,
	"PAYMENT.CAPTURE.DENIED":    model.ChargeStateFailed,
	"PAYMENT.CAPTURE.REFUNDED":  model.ChargeStateRefunded,
	"PAYMENT.CAPTURE.REVERSED":  model.ChargeStateDisputed,
	"CUSTOMER.DISPUTE.CREATED":  model.ChargeStateDisputed,
}

// IPN payment_status values.
var ipnChargeStates = map[string]model.ChargeState{
	"Completed": model.ChargeStateSucceeded,
	"Failed":    model.ChargeStateFailed,
	"Denied":    model.ChargeStateFailed,
	"Refunded":  model.ChargeStateRefunded,
	"Reversed":  model.ChargeStateDisputed,
}

// ChargeServiceImpl implements ChargeService.
type ChargeServiceImpl struct {
	charges   repository.ChargeRepository
	purchases repository.PurchaseRepository
	txManager repository.TransactionManager
	notifier  Notifier
	now       func() time.Time
	logger    *slog.Logger
}

// NewChargeServiceImpl creates a new ChargeService implementation.
func NewChargeServiceImpl(
	charges repository.ChargeRepository,
	purchases repository.PurchaseRepository,
	txManager repository.TransactionManager,
	notifier Notifier,
	logger *slog.Logger,
) ChargeService {
	return &ChargeServiceImpl{
		charges:   charges,
		purchases: purchases,
		txManager: txManager,
		notifier:  notifier,
		now:       time.Now,
		logger:    logger,
	}
}

// ChargeTargetState returns the state event moves a charge to, if any.
func ChargeTargetState(ev *model.InboundEvent) (model.ChargeState, bool) {
	var state model.ChargeState
	var ok bool

	switch ev.Processor {
	case model.ProcessorStripe:
		state, ok = stripeChargeStates[ev.EventType]
	case model.ProcessorPayPal:
		if ev.RawString("event_type") != "" {
			state, ok = payPalChargeStates[ev.EventType]
		} else {
			state, ok = ipnChargeStates[ev.RawString("payment_status")]
		}
	}

	return state, ok
}

// chargeLookupIDs lists the processor-side ids a charge may be stored under, most specific first.
func chargeLookupIDs(ev *model.InboundEvent) []string {
	var kinds []string
	switch ev.Processor {
	case model.ProcessorStripe:
		kinds = []string{model.ResourceCharge, model.ResourcePaymentIntent}
	case model.ProcessorPayPal:
		kinds = []string{model.ResourceCharge, model.ResourceCapture, model.ResourceOrder, model.ResourceTxn}
	}

	seen := map[string]struct{}{}
	var ids []string
	for _, kind := range kinds {
		id := ev.ResourceID(kind)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	return ids
}

// Handle moves the referenced charge forward along its lifecycle.
func (s *ChargeServiceImpl) Handle(ctx context.Context, ev *model.InboundEvent) error {
	log := s.logger.With(
		slog.String("processor", string(ev.Processor)),
		slog.String("event_id", ev.EventID),
		slog.String("event_type", ev.EventType))

	target, ok := ChargeTargetState(ev)
	if !ok {
		log.Info("Charge event carries no state change")
		return nil
	}

	ids := chargeLookupIDs(ev)
	if len(ids) == 0 {
		log.Warn("Charge event without a charge id")
		return nil
	}

	var notification *model.Notification
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		notification = nil

		charge, err := s.findCharge(ctx, ev.Processor, ids)
		if err != nil {
			if errors.Is(err, model.ErrChargeNotFound) {
				log.Info("No charge recorded for event", slog.Any("charge_ids", ids))
				return nil
			}

			return err
		}

		if !charge.State.CanTransitionTo(target) {
			log.Info("Charge transition skipped",
				slog.String("charge_id", charge.ExternalChargeID),
				slog.String("from", string(charge.State)),
				slog.String("to", string(target)))
			return nil
		}

		if err := s.charges.UpdateState(ctx, charge.ID, target, ev.EventType); err != nil {
			return err
		}
		log.Info("Charge state updated",
			slog.String("charge_id", charge.ExternalChargeID),
			slog.String("from", string(charge.State)),
			slog.String("to", string(target)))

		notification = s.chargeNotification(ev.Processor, charge.ExternalChargeID, target)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reconcile charge: %w", err)
	}

	if notification != nil {
		if err := s.notifier.Notify(ctx, *notification); err != nil {
			log.Error("Failed to publish charge notification", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (s *ChargeServiceImpl) findCharge(ctx context.Context, processor model.Processor, ids []string) (*model.ChargeRecord, error) {
	for _, id := range ids {
		charge, err := s.charges.FindByExternalIDForUpdate(ctx, processor, id)
		if errors.Is(err, model.ErrChargeNotFound) {
			continue
		}

		return charge, err
	}

	return nil, model.ErrChargeNotFound
}

func (s *ChargeServiceImpl) chargeNotification(processor model.Processor, chargeID string, state model.ChargeState) *model.Notification {
	var typ model.NotificationType
	switch state {
	case model.ChargeStateDisputed:
		typ = model.NotificationChargeDisputed
	case model.ChargeStateRefunded:
		typ = model.NotificationChargeRefunded
	default:
		return nil
	}

	return &model.Notification{
		ID:         uuid.NewString(),
		Type:       typ,
		Processor:  processor,
		SubjectID:  chargeID,
		OccurredAt: s.now(),
	}
}

// ApplyChargeAttemptFailure records a failed charge attempt on every purchase
// of the batch. Rate limiting is returned to the caller so it can retry.
func (s *ChargeServiceImpl) ApplyChargeAttemptFailure(ctx context.Context, purchases []*model.Purchase, attemptErr error) error {
	if attemptErr == nil {
		return nil
	}

	kind := model.ErrorKindOf(attemptErr)
	if kind == model.ErrorKindRateLimited {
		return attemptErr
	}

	perr := PurchaseErrorFor(model.ProcessorOf(attemptErr), kind)
	s.logger.Info("Charge attempt failed",
		slog.String("kind", string(kind)),
		slog.String("purchase_error", string(perr.Code)),
		slog.Int("purchases", len(purchases)),
		slog.String("error", attemptErr.Error()))

	return s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		for _, p := range purchases {
			if err := s.purchases.MarkFailed(ctx, p.ID, perr.Code, perr.Message); err != nil {
				return err
			}
			p.State = model.PurchaseStateFailed
			p.ErrorCode = perr.Code
			p.ErrorMessage = perr.Message
		}

		return nil
	})
}
