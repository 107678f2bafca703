package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jnst/payment-reconciler/internal/event"
	"github.com/jnst/payment-reconciler/internal/model"
)

// DispatchServiceImpl implements DispatchService.
type DispatchServiceImpl struct {
	charges  ChargeService
	accounts MerchantAccountService
	payouts  PayoutService
	queue    DelayedQueue
	now      func() time.Time
	logger   *slog.Logger
}

// NewDispatchServiceImpl creates a new DispatchService implementation.
func NewDispatchServiceImpl(
	charges ChargeService,
	accounts MerchantAccountService,
	payouts PayoutService,
	queue DelayedQueue,
	logger *slog.Logger,
) DispatchService {
	return &DispatchServiceImpl{
		charges:  charges,
		accounts: accounts,
		payouts:  payouts,
		queue:    queue,
		now:      time.Now,
		logger:   logger,
	}
}

// Dispatch runs or schedules the handler chosen by the router.
func (s *DispatchServiceImpl) Dispatch(ctx context.Context, c model.EventClassification) error {
	log := s.logger.With(eventAttrs(c.Event)...).With(
		slog.String("rule", c.Rule),
		slog.String("destination", string(c.Destination)),
	)

	switch c.Dispatch {
	case model.DispatchNone:
		log.Info("Event discarded")
		return nil
	case model.DispatchSync, model.DispatchImmediate:
		return s.run(ctx, c.Destination, c.Event)
	case model.DispatchDelayed:
		now := s.now()
		job := model.NewDelayedJob(c.Event, now, now.Add(c.Delay))
		if err := s.queue.Schedule(ctx, job); err != nil {
			return fmt.Errorf("failed to schedule event: %w", err)
		}
		log.Info("Event scheduled",
			slog.String("job_id", job.ID),
			slog.String("run_at", job.RunAt.Format(time.RFC3339)))

		return nil
	default:
		return fmt.Errorf("unknown dispatch mode %q", c.Dispatch)
	}
}

// RunDelayed runs a job taken off the delayed queue.
func (s *DispatchServiceImpl) RunDelayed(ctx context.Context, job *model.DelayedJob) error {
	if job.Event == nil {
		return fmt.Errorf("%w: job %s has no event", model.ErrMalformedEvent, job.ID)
	}

	s.logger.Info("Running delayed job",
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempt),
		slog.String("event_type", job.Event.EventType))

	return s.run(ctx, event.LegacyDestination(job.Event), job.Event)
}

func (s *DispatchServiceImpl) run(ctx context.Context, destination model.Destination, ev *model.InboundEvent) error {
	var err error
	switch destination {
	case model.DestinationCharge:
		err = s.charges.Handle(ctx, ev)
	case model.DestinationMerchantAccount:
		err = s.accounts.Handle(ctx, ev)
	case model.DestinationMerchantDeauthorization:
		err = s.accounts.HandleDeauthorization(ctx, ev)
	case model.DestinationPayout:
		err = s.payouts.Handle(ctx, ev)
	case model.DestinationLegacy:
		return s.run(ctx, event.LegacyDestination(ev), ev)
	case model.DestinationDiscard:
		return nil
	default:
		return fmt.Errorf("unknown destination %q", destination)
	}
	if err != nil {
		return fmt.Errorf("%s handler failed: %w", destination, err)
	}

	return nil
}

func eventAttrs(ev *model.InboundEvent) []any {
	if ev == nil {
		return nil
	}

	return []any{
		slog.String("processor", string(ev.Processor)),
		slog.String("event_id", ev.EventID),
		slog.String("event_type", ev.EventType),
	}
}
