package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jnst/payment-reconciler/internal/event"
	"github.com/jnst/payment-reconciler/internal/model"
	"github.com/jnst/payment-reconciler/internal/repository"
)

// UnsupportedCountryMessage is stored on PayPal accounts rejected for their country.
const UnsupportedCountryMessage = "Your PayPal account could not be connected because this PayPal integration is not supported in your country."

// Countries where the PayPal partner integration cannot be used.
var payPalDisallowedCountries = map[string]struct{}{
	"BR": {},
	"IL": {},
	"IN": {},
	"JP": {},
}

// MerchantAccountServiceImpl implements MerchantAccountService.
type MerchantAccountServiceImpl struct {
	accounts  repository.MerchantAccountRepository
	txManager repository.TransactionManager
	fetchers  map[model.Processor]MerchantStatusFetcher
	referrals PartnerReferralCreator
	notifier  Notifier
	now       func() time.Time
	logger    *slog.Logger
}

// PayPalMerchantClient is the PayPal side of onboarding.
type PayPalMerchantClient interface {
	MerchantStatusFetcher
	PartnerReferralCreator
}

// NewMerchantAccountServiceImpl creates a new MerchantAccountService implementation.
func NewMerchantAccountServiceImpl(
	accounts repository.MerchantAccountRepository,
	txManager repository.TransactionManager,
	stripe MerchantStatusFetcher,
	paypal PayPalMerchantClient,
	notifier Notifier,
	logger *slog.Logger,
) MerchantAccountService {
	return &MerchantAccountServiceImpl{
		accounts:  accounts,
		txManager: txManager,
		fetchers: map[model.Processor]MerchantStatusFetcher{
			model.ProcessorStripe: stripe,
			model.ProcessorPayPal: paypal,
		},
		referrals: paypal,
		notifier:  notifier,
		now:       time.Now,
		logger:    logger,
	}
}

// IsCountryDisallowed reports whether merchants from country cannot connect to processor.
func IsCountryDisallowed(processor model.Processor, country string) bool {
	if processor != model.ProcessorPayPal {
		return false
	}
	_, ok := payPalDisallowedCountries[strings.ToUpper(country)]

	return ok
}

// Handle syncs onboarding status for account and capability events.
func (s *MerchantAccountServiceImpl) Handle(ctx context.Context, ev *model.InboundEvent) error {
	merchantID := merchantIDOf(ev)
	if merchantID == "" {
		s.logger.Warn("Merchant account event without merchant id",
			slog.String("processor", string(ev.Processor)),
			slog.String("event_id", ev.EventID),
			slog.String("event_type", ev.EventType))
		return nil
	}

	if ev.Processor == model.ProcessorPayPal && ev.EventType == event.PayPalPartnerConsentRevoked {
		return s.deauthorize(ctx, ev.Processor, merchantID)
	}

	var userID int64
	if tracking := ev.ResourceID(model.ResourceTracking); tracking != "" {
		if id, err := strconv.ParseInt(tracking, 10, 64); err == nil {
			userID = id
		}
	}

	return s.syncStatus(ctx, ev.Processor, merchantID, userID)
}

// HandleDeauthorization disconnects the account named by the event.
func (s *MerchantAccountServiceImpl) HandleDeauthorization(ctx context.Context, ev *model.InboundEvent) error {
	merchantID := merchantIDOf(ev)
	if merchantID == "" {
		s.logger.Warn("Deauthorization without merchant id", slog.String("event_id", ev.EventID))
		return nil
	}

	return s.deauthorize(ctx, ev.Processor, merchantID)
}

// CreatePartnerReferral starts PayPal onboarding for userID and returns the
// URL the seller must visit. When PayPal reports that our access was revoked
// the user's PayPal accounts are disconnected and "" is returned.
func (s *MerchantAccountServiceImpl) CreatePartnerReferral(ctx context.Context, userID int64, returnURL string) (string, error) {
	actionURL, err := s.referrals.CreatePartnerReferral(ctx, strconv.FormatInt(userID, 10), returnURL)
	if err == nil {
		return actionURL, nil
	}

	switch model.ErrorKindOf(err) {
	case model.ErrorKindAccessRevoked:
		s.logger.Warn("Partner referral rejected, disconnecting PayPal accounts",
			slog.Int64("user_id", userID), slog.String("error", err.Error()))

		return "", s.deauthorizeUser(ctx, userID, model.ProcessorPayPal)
	case model.ErrorKindTestLiveMismatch:
		s.logger.Info("Ignoring test/live mismatch", slog.Int64("user_id", userID))

		return "", nil
	default:
		return "", fmt.Errorf("failed to create partner referral: %w", err)
	}
}

func merchantIDOf(ev *model.InboundEvent) string {
	switch ev.Processor {
	case model.ProcessorStripe:
		if ev.AccountScope != "" {
			return ev.AccountScope
		}

		return ev.ResourceID(model.ResourceAccount)
	case model.ProcessorPayPal:
		if id := ev.ResourceID(model.ResourceMerchant); id != "" {
			return id
		}

		return ev.AccountScope
	default:
		return ""
	}
}

// syncStatus fetches the processor's view of the merchant and applies it.
// userID is known only for onboarding events that carry our tracking id; only
// those may create an account.
func (s *MerchantAccountServiceImpl) syncStatus(ctx context.Context, processor model.Processor, merchantID string, userID int64) error {
	log := s.logger.With(slog.String("processor", string(processor)), slog.String("merchant_id", merchantID))

	create := userID != 0
	if !create {
		existing, err := s.accounts.FindByMerchantID(ctx, processor, merchantID)
		if err != nil {
			if errors.Is(err, model.ErrMerchantAccountNotFound) {
				log.Info("No merchant account recorded")
				return nil
			}

			return err
		}
		if !existing.IsAlive() {
			log.Info("Merchant account already disconnected")
			return nil
		}
		userID = existing.UserID
	}

	fetcher, ok := s.fetchers[processor]
	if !ok || fetcher == nil {
		return fmt.Errorf("%w: %q", model.ErrUnsupportedProcessor, processor)
	}

	status, err := fetcher.FetchMerchantStatus(ctx, merchantID)
	if err != nil {
		return s.recover(ctx, processor, merchantID, err)
	}

	return s.applyStatus(ctx, processor, merchantID, userID, create, status)
}

func (s *MerchantAccountServiceImpl) applyStatus(
	ctx context.Context, processor model.Processor, merchantID string, userID int64, create bool, status *model.MerchantStatus,
) error {
	log := s.logger.With(slog.String("processor", string(processor)), slog.String("merchant_id", merchantID))

	var notifications []model.Notification
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		notifications = nil

		if create {
			created, err := s.ensureAccount(ctx, processor, merchantID, userID, status)
			if err != nil || !created {
				return err
			}
		}
		alive, err := s.accounts.FindAliveByUserForUpdate(ctx, userID, processor)
		if err != nil {
			return err
		}

		var target *model.MerchantAccount
		for _, a := range alive {
			if a.ChargeProcessorMerchantID == merchantID {
				target = a
			}
		}
		if target == nil {
			log.Info("Merchant account disconnected concurrently")
			return nil
		}

		now := s.now()
		if status.Country != "" {
			target.Country = status.Country
		}
		if status.Currency != "" {
			target.Currency = status.Currency
		}

		if IsCountryDisallowed(processor, target.Country) {
			target.Disconnect(now, UnsupportedCountryMessage)
			notifications = append(notifications, s.accountNotification(model.NotificationMerchantRejected, target, UnsupportedCountryMessage))
			log.Info("Merchant account rejected for country", slog.String("country", target.Country))

			return s.accounts.Update(ctx, target)
		}

		wasVerified := target.State == model.MerchantAccountStateVerified
		target.State = status.OnboardingState()
		if status.PaymentsReceivable {
			if target.AliveAt == nil {
				target.AliveAt = &now
			}
		} else {
			target.AliveAt = nil
		}

		if target.State != model.MerchantAccountStateVerified {
			target.VerifiedAt = nil
			log.Info("Merchant account not verified", slog.String("state", string(target.State)))

			return s.accounts.Update(ctx, target)
		}

		if target.VerifiedAt == nil {
			target.VerifiedAt = &now
		}
		for _, other := range alive {
			if other.ID == target.ID {
				continue
			}
			other.Disconnect(now, "")
			if err := s.accounts.Update(ctx, other); err != nil {
				return err
			}
			notifications = append(notifications, s.accountNotification(model.NotificationMerchantDisconnected, other, "replaced"))
			log.Info("Disconnected superseded merchant account", slog.String("superseded_merchant_id", other.ChargeProcessorMerchantID))
		}
		if !wasVerified {
			notifications = append(notifications, s.accountNotification(model.NotificationMerchantVerified, target, ""))
			log.Info("Merchant account verified", slog.Int64("user_id", target.UserID))
		}

		return s.accounts.Update(ctx, target)
	})
	if err != nil {
		return fmt.Errorf("failed to apply merchant status: %w", err)
	}

	s.publish(ctx, notifications...)

	return nil
}

// ensureAccount makes sure an alive account exists for an onboarding event.
// It returns false when the merchant was already rejected for its country, so
// repeated onboarding events do not create a new row each time.
func (s *MerchantAccountServiceImpl) ensureAccount(
	ctx context.Context, processor model.Processor, merchantID string, userID int64, status *model.MerchantStatus,
) (bool, error) {
	if IsCountryDisallowed(processor, status.Country) {
		latest, err := s.accounts.FindByMerchantID(ctx, processor, merchantID)
		switch {
		case err == nil && !latest.IsAlive() && latest.RejectionMessage == UnsupportedCountryMessage:
			return false, nil
		case err != nil && !errors.Is(err, model.ErrMerchantAccountNotFound):
			return false, err
		}
	}

	if _, err := s.accounts.FindOrCreate(ctx, userID, processor, merchantID); err != nil {
		return false, err
	}

	return true, nil
}

// recover turns tagged processor errors into their side effects.
func (s *MerchantAccountServiceImpl) recover(ctx context.Context, processor model.Processor, merchantID string, err error) error {
	switch model.ErrorKindOf(err) {
	case model.ErrorKindAccessRevoked:
		s.logger.Warn("Processor access revoked, deauthorizing",
			slog.String("processor", string(processor)),
			slog.String("merchant_id", merchantID),
			slog.String("error", err.Error()))

		return s.deauthorize(ctx, processor, merchantID)
	case model.ErrorKindTestLiveMismatch:
		s.logger.Info("Ignoring test/live mismatch",
			slog.String("processor", string(processor)),
			slog.String("merchant_id", merchantID))

		return nil
	default:
		return fmt.Errorf("failed to fetch merchant status: %w", err)
	}
}

func (s *MerchantAccountServiceImpl) deauthorize(ctx context.Context, processor model.Processor, merchantID string) error {
	var notification *model.Notification
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		notification = nil

		account, err := s.accounts.FindAliveByMerchantIDForUpdate(ctx, processor, merchantID)
		if err != nil {
			if errors.Is(err, model.ErrMerchantAccountNotFound) {
				s.logger.Info("No alive merchant account to deauthorize",
					slog.String("processor", string(processor)),
					slog.String("merchant_id", merchantID))
				return nil
			}

			return err
		}

		account.Disconnect(s.now(), "")
		if err := s.accounts.Update(ctx, account); err != nil {
			return err
		}
		n := s.accountNotification(model.NotificationMerchantDisconnected, account, "deauthorized")
		notification = &n

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to deauthorize merchant account: %w", err)
	}

	if notification != nil {
		s.logger.Info("Merchant account deauthorized",
			slog.String("processor", string(processor)),
			slog.String("merchant_id", merchantID))
		s.publish(ctx, *notification)
	}

	return nil
}

func (s *MerchantAccountServiceImpl) deauthorizeUser(ctx context.Context, userID int64, processor model.Processor) error {
	var notifications []model.Notification
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		notifications = nil

		accounts, err := s.accounts.FindAliveByUserForUpdate(ctx, userID, processor)
		if err != nil {
			return err
		}
		now := s.now()
		for _, account := range accounts {
			account.Disconnect(now, "")
			if err := s.accounts.Update(ctx, account); err != nil {
				return err
			}
			notifications = append(notifications, s.accountNotification(model.NotificationMerchantDisconnected, account, "deauthorized"))
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to deauthorize merchant accounts of user %d: %w", userID, err)
	}

	s.publish(ctx, notifications...)

	return nil
}

func (s *MerchantAccountServiceImpl) accountNotification(typ model.NotificationType, account *model.MerchantAccount, reason string) model.Notification {
	return model.Notification{
		ID:         uuid.NewString(),
		Type:       typ,
		Processor:  account.Processor,
		SubjectID:  account.ChargeProcessorMerchantID,
		UserID:     account.UserID,
		Reason:     reason,
		OccurredAt: s.now(),
	}
}

func (s *MerchantAccountServiceImpl) publish(ctx context.Context, notifications ...model.Notification) {
	for _, n := range notifications {
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Error("Failed to publish merchant account notification",
				slog.String("type", string(n.Type)),
				slog.String("subject_id", n.SubjectID),
				slog.String("error", err.Error()))
		}
	}
}
