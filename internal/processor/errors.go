// Package processor contains the outbound adapters for Stripe and PayPal.
// Every error leaving this package is a *model.ProcessorError.
package processor

import (
	"errors"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"

	"github.com/jnst/payment-reconciler/internal/model"
)

const (
	stripeAccessRevokedMessage    = "Application access may have been revoked"
	stripeTestLiveMismatchMessage = "a similar object exists in live mode, but a test mode key was used"
)

// ClassifyStripeError tags err with an ErrorKind. Stripe codes are checked
// before message text.
func ClassifyStripeError(err error) error {
	if err == nil {
		return nil
	}

	var perr *model.ProcessorError
	if errors.As(err, &perr) {
		return err
	}

	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return &model.ProcessorError{Kind: model.ErrorKindUnavailable, Processor: model.ProcessorStripe, Message: err.Error(), Err: err}
	}

	return &model.ProcessorError{
		Kind:      stripeErrorKind(serr),
		Processor: model.ProcessorStripe,
		Code:      string(serr.Code),
		Message:   serr.Msg,
		Err:       err,
	}
}

func stripeErrorKind(serr *stripe.Error) model.ErrorKind {
	switch {
	case serr.HTTPStatusCode == http.StatusTooManyRequests || serr.Code == stripe.ErrorCode("rate_limit"):
		return model.ErrorKindRateLimited
	case serr.Code == stripe.ErrorCode("account_invalid") || strings.Contains(serr.Msg, stripeAccessRevokedMessage):
		return model.ErrorKindAccessRevoked
	case strings.Contains(serr.Msg, stripeTestLiveMismatchMessage):
		return model.ErrorKindTestLiveMismatch
	case serr.Type == stripe.ErrorTypeCard:
		return model.ErrorKindCardDeclined
	case serr.Type == stripe.ErrorTypeAPI || serr.HTTPStatusCode >= http.StatusInternalServerError:
		return model.ErrorKindUnavailable
	default:
		return model.ErrorKindUnknown
	}
}

// payPalIssueKinds maps PayPal error names and detail issues to kinds.
var payPalIssueKinds = map[string]model.ErrorKind{
	"RATE_LIMIT_REACHED":                   model.ErrorKindRateLimited,
	"PAYEE_ACCOUNT_RESTRICTED":             model.ErrorKindPayeeAccountRestricted,
	"PAYEE_ACCOUNT_LOCKED_OR_CLOSED":       model.ErrorKindPayeeAccountRestricted,
	"PAYEE_BLOCKED_TRANSACTION":            model.ErrorKindPayeeAccountRestricted,
	"AGREEMENT_ALREADY_CANCELLED":          model.ErrorKindPayerCancelledAgreement,
	"BILLING_AGREEMENT_NOT_FOUND":          model.ErrorKindPayerCancelledAgreement,
	"PAYER_CANNOT_PAY":                     model.ErrorKindPayerDeclinedPayment,
	"PAYER_ACTION_REQUIRED":                model.ErrorKindPayerDeclinedPayment,
	"INSTRUMENT_DECLINED":                  model.ErrorKindPayerDeclinedPayment,
	"TRANSACTION_REFUSED":                  model.ErrorKindPayerDeclinedPayment,
	"PAYMENT_SOURCE_NOT_SUPPORTED":         model.ErrorKindUnsupportedPaymentType,
	"CARD_TYPE_NOT_SUPPORTED":              model.ErrorKindUnsupportedPaymentType,
	"PAYER_ACCOUNT_LOCKED_OR_CLOSED":       model.ErrorKindUnsupportedPaymentAccount,
	"PAYER_ACCOUNT_RESTRICTED":             model.ErrorKindUnsupportedPaymentAccount,
	"PAYMENT_SOURCE_DECLINED_BY_PROCESSOR": model.ErrorKindCardDeclined,
	"PERMISSION_DENIED":                    model.ErrorKindAccessRevoked,
	"NOT_AUTHORIZED":                       model.ErrorKindAccessRevoked,
	"CONSENT_NEEDED":                       model.ErrorKindAccessRevoked,
}

// payPalErrorBody is the PayPal REST error envelope.
type payPalErrorBody struct {
	Name             string `json:"name"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Details          []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

// classifyPayPalResponse builds a ProcessorError from a non-2xx PayPal response.
func classifyPayPalResponse(status int, body payPalErrorBody) *model.ProcessorError {
	perr := &model.ProcessorError{
		Kind:      model.ErrorKindUnknown,
		Processor: model.ProcessorPayPal,
		Code:      body.Name,
		Message:   body.Message,
	}
	if perr.Code == "" {
		perr.Code = body.Error
		perr.Message = body.ErrorDescription
	}

	for _, d := range body.Details {
		if kind, ok := payPalIssueKinds[d.Issue]; ok {
			perr.Kind = kind
			perr.Code = d.Issue

			return perr
		}
	}
	if kind, ok := payPalIssueKinds[perr.Code]; ok {
		perr.Kind = kind

		return perr
	}

	switch {
	case status == http.StatusTooManyRequests:
		perr.Kind = model.ErrorKindRateLimited
	case status >= http.StatusInternalServerError:
		perr.Kind = model.ErrorKindUnavailable
	}

	return perr
}

// IsTransient reports whether a processor call may succeed if retried.
func IsTransient(err error) bool {
	switch model.ErrorKindOf(err) {
	case model.ErrorKindUnavailable, model.ErrorKindRateLimited:
		return true
	default:
		return false
	}
}
