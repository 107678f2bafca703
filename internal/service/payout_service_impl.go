package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jnst/payment-reconciler/internal/event"
	"github.com/jnst/payment-reconciler/internal/model"
	"github.com/jnst/payment-reconciler/internal/processor"
	"github.com/jnst/payment-reconciler/internal/repository"
)

// PayoutOutcome is the result a processor reported for one payout.
type PayoutOutcome struct {
	ExternalPayoutID string
	State            model.PayoutState
	FailureCode      string
}

// Mass payment item statuses that mean the money did not arrive.
var massPayFailedStatuses = map[string]struct{}{
	"Failed":   {},
	"Returned": {},
	"Reversed": {},
	"Blocked":  {},
	"Denied":   {},
}

// PayoutServiceImpl implements PayoutService.
type PayoutServiceImpl struct {
	payouts   repository.PayoutRepository
	txManager repository.TransactionManager
	notifier  Notifier
	now       func() time.Time
	logger    *slog.Logger
}

// NewPayoutServiceImpl creates a new PayoutService implementation.
func NewPayoutServiceImpl(
	payouts repository.PayoutRepository,
	txManager repository.TransactionManager,
	notifier Notifier,
	logger *slog.Logger,
) PayoutService {
	return &PayoutServiceImpl{
		payouts:   payouts,
		txManager: txManager,
		notifier:  notifier,
		now:       time.Now,
		logger:    logger,
	}
}

// Handle applies the payout outcomes carried by ev.
func (s *PayoutServiceImpl) Handle(ctx context.Context, ev *model.InboundEvent) error {
	var outcomes []PayoutOutcome
	switch ev.Processor {
	case model.ProcessorStripe:
		outcome, ok := StripePayoutOutcome(ev)
		if !ok {
			s.logger.Info("Payout event carries no outcome",
				slog.String("event_id", ev.EventID),
				slog.String("event_type", ev.EventType))
			return nil
		}
		outcomes = append(outcomes, outcome)
	case model.ProcessorPayPal:
		outcomes = MassPayOutcomes(ev.RawPayload)
	default:
		return fmt.Errorf("%w: %q", model.ErrUnsupportedProcessor, ev.Processor)
	}

	var errs []error
	for _, outcome := range outcomes {
		if err := s.apply(ctx, ev.Processor, outcome); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// StripePayoutOutcome maps a payout.* event. created/updated report nothing
// final and are ignored.
func StripePayoutOutcome(ev *model.InboundEvent) (PayoutOutcome, bool) {
	outcome := PayoutOutcome{ExternalPayoutID: ev.ResourceID(model.ResourcePayout)}
	if outcome.ExternalPayoutID == "" {
		return outcome, false
	}

	switch ev.EventType {
	case "payout.paid":
		outcome.State = model.PayoutStateCompleted
	case "payout.failed":
		outcome.State = model.PayoutStateFailed
		outcome.FailureCode = event.StringPath(ev.RawPayload, "data", "object", "failure_code")
	case "payout.canceled":
		outcome.State = model.PayoutStateFailed
		outcome.FailureCode = "canceled"
	default:
		return outcome, false
	}

	return outcome, true
}

// MassPayOutcomes reads the numbered items of a masspay IPN message.
func MassPayOutcomes(raw map[string]any) []PayoutOutcome {
	field := func(name string, i int) string {
		v, _ := raw[name+"_"+strconv.Itoa(i)].(string)
		return v
	}

	var outcomes []PayoutOutcome
	for i := 1; ; i++ {
		id, status := field("unique_id", i), field("status", i)
		if id == "" && status == "" {
			break
		}
		if id == "" {
			continue
		}

		switch {
		case status == "Completed":
			outcomes = append(outcomes, PayoutOutcome{ExternalPayoutID: id, State: model.PayoutStateCompleted})
		case isMassPayFailure(status):
			outcomes = append(outcomes, PayoutOutcome{
				ExternalPayoutID: id,
				State:            model.PayoutStateFailed,
				FailureCode:      field("reason_code", i),
			})
		}
	}

	return outcomes
}

func isMassPayFailure(status string) bool {
	_, ok := massPayFailedStatuses[status]

	return ok
}

func (s *PayoutServiceImpl) apply(ctx context.Context, proc model.Processor, outcome PayoutOutcome) error {
	log := s.logger.With(slog.String("processor", string(proc)), slog.String("payout_id", outcome.ExternalPayoutID))

	var notification *model.Notification
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		notification = nil

		payout, err := s.payouts.FindByExternalIDForUpdate(ctx, proc, outcome.ExternalPayoutID)
		if err != nil {
			if errors.Is(err, model.ErrPayoutNotFound) {
				log.Info("No payout recorded")
				return nil
			}

			return err
		}

		var changed bool
		switch outcome.State {
		case model.PayoutStateCompleted:
			changed = payout.MarkCompleted()
		case model.PayoutStateFailed:
			var note string
			if n, ok := processor.PayoutFailureNote(proc, outcome.FailureCode); ok {
				note = n.String()
			} else if outcome.FailureCode != "" {
				log.Warn("Unknown payout failure code", slog.String("failure_code", outcome.FailureCode))
			}
			changed = payout.MarkFailed(outcome.FailureCode, note)
		}
		if !changed {
			log.Info("Payout already up to date", slog.String("state", string(payout.State)))
			return nil
		}

		if err := s.payouts.Update(ctx, payout); err != nil {
			return err
		}
		log.Info("Payout state updated", slog.String("state", string(payout.State)))

		if payout.State == model.PayoutStateFailed {
			notification = &model.Notification{
				ID:         uuid.NewString(),
				Type:       model.NotificationPayoutFailed,
				Processor:  proc,
				SubjectID:  payout.ExternalPayoutID,
				UserID:     payout.UserID,
				Reason:     payout.FailureReason,
				OccurredAt: s.now(),
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reconcile payout %s: %w", outcome.ExternalPayoutID, err)
	}

	if notification != nil {
		if err := s.notifier.Notify(ctx, *notification); err != nil {
			log.Error("Failed to publish payout notification", slog.String("error", err.Error()))
		}
	}

	return nil
}
