package model

import "time"

// ChargeState is the reconciled lifecycle state of a charge.
type ChargeState string

const (
	ChargeStatePending   ChargeState = "pending"
	ChargeStateSucceeded ChargeState = "succeeded"
	ChargeStateFailed    ChargeState = "failed"
	ChargeStateDisputed  ChargeState = "disputed"
	ChargeStateRefunded  ChargeState = "refunded"
)

// chargeTransitions lists the states reachable from each state.
// disputed and refunded are terminal.
var chargeTransitions = map[ChargeState][]ChargeState{
	ChargeStatePending:   {ChargeStateSucceeded, ChargeStateFailed, ChargeStateDisputed, ChargeStateRefunded},
	ChargeStateFailed:    {ChargeStateSucceeded},
	ChargeStateSucceeded: {ChargeStateDisputed, ChargeStateRefunded},
}

// CanTransitionTo reports whether next is a forward move from s.
func (s ChargeState) CanTransitionTo(next ChargeState) bool {
	for _, allowed := range chargeTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// IsTerminal reports whether no further transition is possible.
func (s ChargeState) IsTerminal() bool {
	return len(chargeTransitions[s]) == 0
}

// ChargeRecord is money movement tied to one or more purchases.
type ChargeRecord struct {
	ID                       int64       `json:"id"`
	ExternalChargeID         string      `json:"external_charge_id"`
	Processor                Processor   `json:"processor"`
	MerchantAccountID        *int64      `json:"merchant_account_id"`
	AmountCents              int64       `json:"amount_cents"`
	PlatformFeeCents         int64       `json:"platform_fee_cents"`
	State                    ChargeState `json:"state"`
	PaymentMethodFingerprint string      `json:"payment_method_fingerprint"`
	LastEventType            string      `json:"last_event_type"`
	UpdatedAt                time.Time   `json:"updated_at"`
}

// PurchaseState is the checkout-facing state of a purchase.
type PurchaseState string

const (
	PurchaseStateInProgress PurchaseState = "in_progress"
	PurchaseStateSuccessful PurchaseState = "successful"
	PurchaseStateFailed     PurchaseState = "failed"
)

// PurchaseErrorCode is the stable error code written onto a failed purchase.
type PurchaseErrorCode string

// Purchase is one line of a (possibly combined) checkout.
type Purchase struct {
	ID               int64             `json:"id"`
	ExternalChargeID string            `json:"external_charge_id"`
	State            PurchaseState     `json:"state"`
	ErrorCode        PurchaseErrorCode `json:"error_code,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
}
