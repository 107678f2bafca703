package processor

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/account"

	"github.com/jnst/payment-reconciler/internal/model"
)

// AccountGetter fetches a Stripe account. account.GetByID satisfies it.
type AccountGetter func(id string, params *stripe.AccountParams) (*stripe.Account, error)

// StripeClient wraps the stripe-go calls the reconciler needs.
type StripeClient struct {
	getAccount AccountGetter
}

// NewStripeClient sets the global stripe-go key and returns a client.
func NewStripeClient(secretKey string) *StripeClient {
	stripe.Key = secretKey

	return &StripeClient{getAccount: account.GetByID}
}

// NewStripeClientWithGetter is used by tests to replace the SDK call.
func NewStripeClientWithGetter(getter AccountGetter) *StripeClient {
	return &StripeClient{getAccount: getter}
}

// FetchMerchantStatus loads a connected account and reports its onboarding status.
func (c *StripeClient) FetchMerchantStatus(ctx context.Context, accountID string) (*model.MerchantStatus, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	acct, err := c.getAccount(accountID, params)
	if err != nil {
		return nil, ClassifyStripeError(err)
	}

	return &model.MerchantStatus{
		MerchantID:         acct.ID,
		Country:            strings.ToUpper(acct.Country),
		Currency:           string(acct.DefaultCurrency),
		EmailConfirmed:     true,
		PaymentsReceivable: acct.ChargesEnabled && acct.PayoutsEnabled,
		PermissionsGranted: acct.DetailsSubmitted,
	}, nil
}
