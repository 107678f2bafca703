package model

import (
	"errors"
	"fmt"
)

var (
	// ErrVerificationFailed is returned when an inbound message fails its authenticity check.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrMalformedEvent is returned when a payload cannot be normalized.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnsupportedProcessor is returned for processors this service does not reconcile.
	ErrUnsupportedProcessor = errors.New("unsupported processor")
	// ErrChargeNotFound is returned when no charge matches the processor-side id.
	ErrChargeNotFound = errors.New("charge not found")
	// ErrMerchantAccountNotFound is returned when no merchant account matches.
	ErrMerchantAccountNotFound = errors.New("merchant account not found")
	// ErrPayoutNotFound is returned when no payout matches the processor-side id.
	ErrPayoutNotFound = errors.New("payout not found")
)

// ErrorKind classifies processor failures independent of the processor's own error types.
type ErrorKind string

const (
	ErrorKindUnknown                   ErrorKind = "unknown"
	ErrorKindVerificationFailed        ErrorKind = "verification_failed"
	ErrorKindUnavailable               ErrorKind = "unavailable_processor"
	ErrorKindRateLimited               ErrorKind = "rate_limited"
	ErrorKindPayeeAccountRestricted    ErrorKind = "payee_account_restricted"
	ErrorKindPayerCancelledAgreement   ErrorKind = "payer_cancelled_billing_agreement"
	ErrorKindPayerDeclinedPayment      ErrorKind = "payer_declined_payment"
	ErrorKindUnsupportedPaymentType    ErrorKind = "unsupported_payment_type"
	ErrorKindUnsupportedPaymentAccount ErrorKind = "unsupported_payment_account"
	ErrorKindCardDeclined              ErrorKind = "card_declined"
	ErrorKindAccessRevoked             ErrorKind = "access_revoked"
	ErrorKindTestLiveMismatch          ErrorKind = "test_live_mismatch"
)

// ProcessorError is a classified failure returned by a processor adapter.
type ProcessorError struct {
	Kind      ErrorKind
	Processor Processor
	Code      string
	Message   string
	Err       error
}

func (e *ProcessorError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Processor, e.Kind)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}

	return msg
}

func (e *ProcessorError) Unwrap() error {
	return e.Err
}

// ErrorKindOf returns the kind of the first ProcessorError in err's chain.
func ErrorKindOf(err error) ErrorKind {
	var perr *ProcessorError
	if errors.As(err, &perr) {
		return perr.Kind
	}

	return ErrorKindUnknown
}

// ProcessorOf returns the processor of the first ProcessorError in err's chain, or "".
func ProcessorOf(err error) Processor {
	var perr *ProcessorError
	if errors.As(err, &perr) {
		return perr.Processor
	}

	return ""
}
