package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/payment-reconciler/internal/event"
	"github.com/jnst/payment-reconciler/internal/model"
)

var verifiedStatus = model.MerchantStatus{
	Country:            "US",
	Currency:           "usd",
	EmailConfirmed:     true,
	PaymentsReceivable: true,
	PermissionsGranted: true,
}

type merchantFixture struct {
	svc      *MerchantAccountServiceImpl
	repo     *memMerchantRepo
	stripe   *stubMerchantClient
	paypal   *stubMerchantClient
	notifier *recordingNotifier
}

func newMerchantFixture(accounts ...*model.MerchantAccount) *merchantFixture {
	f := &merchantFixture{
		repo:     newMemMerchantRepo(accounts...),
		stripe:   &stubMerchantClient{status: &verifiedStatus},
		paypal:   &stubMerchantClient{status: &verifiedStatus},
		notifier: &recordingNotifier{},
	}
	f.svc = NewMerchantAccountServiceImpl(f.repo, &fakeTxManager{}, f.stripe, f.paypal, f.notifier, discardLogger()).(*MerchantAccountServiceImpl)
	f.svc.now = fixedNow

	return f
}

func stripeAccountEvent(eventType, accountID string) *model.InboundEvent {
	return &model.InboundEvent{
		Processor:    model.ProcessorStripe,
		EventID:      "evt_acct",
		EventType:    eventType,
		AccountScope: accountID,
		ResourceIDs:  map[string]string{model.ResourceAccount: accountID},
	}
}

func payPalOnboardingEvent(merchantID, trackingID string) *model.InboundEvent {
	return &model.InboundEvent{
		Processor:    model.ProcessorPayPal,
		EventID:      "WH-1",
		EventType:    event.PayPalOnboardingCompleted,
		AccountScope: merchantID,
		ResourceIDs: map[string]string{
			model.ResourceMerchant: merchantID,
			model.ResourceTracking: trackingID,
		},
	}
}

func TestMerchantAccountService_StripeVerification(t *testing.T) {
	t.Run("verifying an account disconnects its siblings", func(t *testing.T) {
		f := newMerchantFixture(
			&model.MerchantAccount{ID: 1, UserID: 7, Processor: model.ProcessorStripe, ChargeProcessorMerchantID: "acct_old", State: model.MerchantAccountStateVerified},
			&model.MerchantAccount{ID: 2, UserID: 7, Processor: model.ProcessorStripe, ChargeProcessorMerchantID: "acct_new", State: model.MerchantAccountStatePendingOnboarding},
		)

		err := f.svc.Handle(context.Background(), stripeAccountEvent("account.updated", "acct_new"))

		require.NoError(t, err)
		newAccount, old := f.repo.byID(2), f.repo.byID(1)
		assert.Equal(t, model.MerchantAccountStateVerified, newAccount.State)
		require.NotNil(t, newAccount.VerifiedAt)
		assert.Equal(t, testNow, *newAccount.VerifiedAt)
		assert.NotNil(t, newAccount.AliveAt)
		assert.Equal(t, "US", newAccount.Country)
		assert.False(t, old.IsAlive())
		assert.Equal(t, model.MerchantAccountStateDeleted, old.State)
		assert.ElementsMatch(t, []model.NotificationType{
			model.NotificationMerchantDisconnected,
			model.NotificationMerchantVerified,
		}, f.notifier.types())
		assert.Equal(t, []string{"acct_new"}, f.stripe.fetched)
	})

	t.Run("incomplete account stays alive and unverified", func(t *testing.T) {
		verifiedAt := testNow.Add(-24 * time.Hour)
		f := newMerchantFixture(&model.MerchantAccount{
			ID: 1, UserID: 7, Processor: model.ProcessorStripe, ChargeProcessorMerchantID: "acct_1",
			State: model.MerchantAccountStateVerified, VerifiedAt: &verifiedAt,
		})
		f.stripe.status = &model.MerchantStatus{EmailConfirmed: true, PaymentsReceivable: false, PermissionsGranted: true}

		err := f.svc.Handle(context.Background(), stripeAccountEvent("account.updated", "acct_1"))

		require.NoError(t, err)
		account := f.repo.byID(1)
		assert.True(t, account.IsAlive())
		assert.Equal(t, model.MerchantAccountStateIncompletePermissions, account.State)
		assert.Nil(t, account.VerifiedAt)
		assert.Nil(t, account.AliveAt)
		assert.Empty(t, f.notifier.sent)
	})

	t.Run("already verified account is not announced again", func(t *testing.T) {
		f := newMerchantFixture(&model.MerchantAccount{ID: 1, UserID: 7, Processor: model.ProcessorStripe, ChargeProcessorMerchantID: "acct_1", State: model.MerchantAccountStateVerified})

		require.NoError(t, f.svc.Handle(context.Background(), stripeAccountEvent("capability.updated", "acct_1")))

		assert.Empty(t, f.notifier.sent)
		assert.Equal(t, model.MerchantAccountStateVerified, f.repo.byID(1).State)
	})

	t.Run("unknown merchant is ignored without a processor call", func(t *testing.T) {
		f := newMerchantFixture()

		require.NoError(t, f.svc.Handle(context.Background(), stripeAccountEvent("account.updated", "acct_unknown")))

		assert.Empty(t, f.stripe.fetched)
		assert.Empty(t, f.repo.accounts)
	})

	t.Run("disconnected merchant is not resurrected", func(t *testing.T) {
		deletedAt := testNow
		f := newMerchantFixture(&model.MerchantAccount{
			ID: 1, UserID: 7, Processor: model.ProcessorStripe, ChargeProcessorMerchantID: "acct_1",
			State: model.MerchantAccountStateDeleted, DeletedAt: &deletedAt,
		})

		require.NoError(t, f.svc.Handle(context.Background(), stripeAccountEvent("account.updated", "acct_1")))

		assert.False(t, f.repo.byID(1).IsAlive())
		assert.Empty(t, f.stripe.fetched)
	})
}

func TestMerchantAccountService_PayPalOnboarding(t *testing.T) {
	t.Run("onboarding creates and verifies the account", func(t *testing.T) {
		f := newMerchantFixture()

		require.NoError(t, f.svc.Handle(context.Background(), payPalOnboardingEvent("MERCH1", "42")))

		require.Len(t, f.repo.accounts, 1)
		account := f.repo.accounts[0]
		assert.Equal(t, int64(42), account.UserID)
		assert.Equal(t, "MERCH1", account.ChargeProcessorMerchantID)
		assert.Equal(t, model.MerchantAccountStateVerified, account.State)
		assert.Equal(t, []model.NotificationType{model.NotificationMerchantVerified}, f.notifier.types())
	})

	t.Run("unconfirmed email awaits confirmation", func(t *testing.T) {
		f := newMerchantFixture()
		f.paypal.status = &model.MerchantStatus{Country: "US", EmailConfirmed: false}

		require.NoError(t, f.svc.Handle(context.Background(), payPalOnboardingEvent("MERCH1", "42")))

		require.Len(t, f.repo.accounts, 1)
		assert.Equal(t, model.MerchantAccountStateAwaitingEmailConfirmation, f.repo.accounts[0].State)
		assert.True(t, f.repo.accounts[0].IsAlive())
	})

	t.Run("disallowed country is rejected once", func(t *testing.T) {
		f := newMerchantFixture()
		status := verifiedStatus
		status.Country = "JP"
		f.paypal.status = &status

		require.NoError(t, f.svc.Handle(context.Background(), payPalOnboardingEvent("MERCH-JP", "42")))
		require.NoError(t, f.svc.Handle(context.Background(), payPalOnboardingEvent("MERCH-JP", "42")))

		require.Len(t, f.repo.accounts, 1)
		account := f.repo.accounts[0]
		assert.False(t, account.IsAlive())
		assert.Equal(t, UnsupportedCountryMessage, account.RejectionMessage)
		assert.Nil(t, account.VerifiedAt)
		assert.Equal(t, []model.NotificationType{model.NotificationMerchantRejected}, f.notifier.types())
	})

	t.Run("partner consent revoked deauthorizes", func(t *testing.T) {
		f := newMerchantFixture(&model.MerchantAccount{ID: 1, UserID: 7, Processor: model.ProcessorPayPal, ChargeProcessorMerchantID: "MERCH1", State: model.MerchantAccountStateVerified})
		ev := payPalOnboardingEvent("MERCH1", "")
		ev.EventType = event.PayPalPartnerConsentRevoked

		require.NoError(t, f.svc.Handle(context.Background(), ev))

		assert.False(t, f.repo.byID(1).IsAlive())
		assert.Empty(t, f.paypal.fetched)
		assert.Equal(t, []model.NotificationType{model.NotificationMerchantDisconnected}, f.notifier.types())
	})
}

func TestIsCountryDisallowed(t *testing.T) {
	assert.True(t, IsCountryDisallowed(model.ProcessorPayPal, "in"))
	assert.True(t, IsCountryDisallowed(model.ProcessorPayPal, "BR"))
	assert.False(t, IsCountryDisallowed(model.ProcessorPayPal, "US"))
	assert.False(t, IsCountryDisallowed(model.ProcessorStripe, "JP"))
}

func TestMerchantAccountService_ProcessorErrors(t *testing.T) {
	alive := func() *model.MerchantAccount {
		return &model.MerchantAccount{ID: 1, UserID: 7, Processor: model.ProcessorStripe, ChargeProcessorMerchantID: "acct_1", State: model.MerchantAccountStateVerified}
	}

	t.Run("revoked access deauthorizes", func(t *testing.T) {
		f := newMerchantFixture(alive())
		f.stripe.err = &model.ProcessorError{Kind: model.ErrorKindAccessRevoked, Processor: model.ProcessorStripe, Code: "account_invalid"}

		require.NoError(t, f.svc.Handle(context.Background(), stripeAccountEvent("account.updated", "acct_1")))

		assert.False(t, f.repo.byID(1).IsAlive())
		assert.Equal(t, []model.NotificationType{model.NotificationMerchantDisconnected}, f.notifier.types())
	})

	t.Run("test/live mismatch is swallowed", func(t *testing.T) {
		f := newMerchantFixture(alive())
		f.stripe.err = &model.ProcessorError{Kind: model.ErrorKindTestLiveMismatch, Processor: model.ProcessorStripe}

		require.NoError(t, f.svc.Handle(context.Background(), stripeAccountEvent("account.updated", "acct_1")))

		assert.True(t, f.repo.byID(1).IsAlive())
		assert.Zero(t, f.repo.updates)
	})

	t.Run("other errors propagate", func(t *testing.T) {
		f := newMerchantFixture(alive())
		unavailable := &model.ProcessorError{Kind: model.ErrorKindUnavailable, Processor: model.ProcessorStripe}
		f.stripe.err = unavailable

		err := f.svc.Handle(context.Background(), stripeAccountEvent("account.updated", "acct_1"))

		require.ErrorIs(t, err, unavailable)
		assert.True(t, f.repo.byID(1).IsAlive())
	})
}

func TestMerchantAccountService_HandleDeauthorization(t *testing.T) {
	f := newMerchantFixture(&model.MerchantAccount{ID: 1, UserID: 7, Processor: model.ProcessorStripe, ChargeProcessorMerchantID: "acct_1", State: model.MerchantAccountStateVerified})
	ev := stripeAccountEvent("account.application.deauthorized", "acct_1")

	require.NoError(t, f.svc.HandleDeauthorization(context.Background(), ev))
	require.NoError(t, f.svc.HandleDeauthorization(context.Background(), ev))

	account := f.repo.byID(1)
	assert.Equal(t, model.MerchantAccountStateDeleted, account.State)
	require.NotNil(t, account.DeletedAt)
	assert.Equal(t, testNow, *account.DeletedAt)
	assert.Equal(t, 1, f.repo.updates)
	assert.Len(t, f.notifier.sent, 1)
}

func TestMerchantAccountService_CreatePartnerReferral(t *testing.T) {
	t.Run("returns the action url", func(t *testing.T) {
		f := newMerchantFixture()
		f.paypal.referralURL = "https://www.paypal.com/bizsignup/partner/entry?referralToken=abc"

		url, err := f.svc.CreatePartnerReferral(context.Background(), 42, "https://example.com/settings")

		require.NoError(t, err)
		assert.Equal(t, f.paypal.referralURL, url)
	})

	t.Run("revoked access disconnects the user's paypal accounts", func(t *testing.T) {
		f := newMerchantFixture(
			&model.MerchantAccount{ID: 1, UserID: 42, Processor: model.ProcessorPayPal, ChargeProcessorMerchantID: "MERCH1", State: model.MerchantAccountStateVerified},
			&model.MerchantAccount{ID: 2, UserID: 42, Processor: model.ProcessorStripe, ChargeProcessorMerchantID: "acct_1", State: model.MerchantAccountStateVerified},
		)
		f.paypal.referralErr = &model.ProcessorError{Kind: model.ErrorKindAccessRevoked, Processor: model.ProcessorPayPal}

		url, err := f.svc.CreatePartnerReferral(context.Background(), 42, "")

		require.NoError(t, err)
		assert.Empty(t, url)
		assert.False(t, f.repo.byID(1).IsAlive())
		assert.True(t, f.repo.byID(2).IsAlive())
	})

	t.Run("test/live mismatch is benign", func(t *testing.T) {
		f := newMerchantFixture()
		f.paypal.referralErr = &model.ProcessorError{Kind: model.ErrorKindTestLiveMismatch, Processor: model.ProcessorPayPal}

		url, err := f.svc.CreatePartnerReferral(context.Background(), 42, "")

		require.NoError(t, err)
		assert.Empty(t, url)
	})

	t.Run("other errors propagate", func(t *testing.T) {
		f := newMerchantFixture()
		f.paypal.referralErr = errors.New("timeout")

		_, err := f.svc.CreatePartnerReferral(context.Background(), 42, "")

		assert.ErrorContains(t, err, "timeout")
	})
}
