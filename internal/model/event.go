// Package model defines domain models and data structures.
package model

import "time"

// Processor identifies the payment processor an event came from.
type Processor string

const (
	// ProcessorStripe represents Stripe (platform and Connect accounts).
	ProcessorStripe Processor = "stripe"
	// ProcessorPayPal represents PayPal (REST webhooks and legacy IPN).
	ProcessorPayPal Processor = "paypal"
)

// Resource id keys used in InboundEvent.ResourceIDs.
const (
	ResourceCharge        = "charge"
	ResourcePaymentIntent = "payment_intent"
	ResourcePayout        = "payout"
	ResourceDispute       = "dispute"
	ResourceAccount       = "account"
	ResourceCapture       = "capture"
	ResourceOrder         = "order"
	ResourceMerchant      = "merchant"
	ResourcePayer         = "payer"
	ResourceTracking      = "tracking"
	ResourceInvoice       = "invoice"
	ResourceTxn           = "txn"
	ResourceParentTxn     = "parent_txn"
)

// InboundEvent is the canonical form of one received webhook or IPN message.
// It is never mutated after normalization.
type InboundEvent struct {
	Processor    Processor         `json:"processor"`
	EventID      string            `json:"event_id,omitempty"`
	EventType    string            `json:"event_type"`
	AccountScope string            `json:"account_scope,omitempty"`
	ResourceIDs  map[string]string `json:"resource_ids,omitempty"`
	RawPayload   map[string]any    `json:"raw_payload"`
	ReceivedAt   time.Time         `json:"received_at"`
}

// ResourceID returns the id stored under kind, or "".
func (e *InboundEvent) ResourceID(kind string) string {
	if e == nil || e.ResourceIDs == nil {
		return ""
	}

	return e.ResourceIDs[kind]
}

// HasAccountScope reports whether the event names a connected/merchant account.
func (e *InboundEvent) HasAccountScope() bool {
	return e != nil && e.AccountScope != ""
}

// RawString returns a top-level string field of the raw payload.
func (e *InboundEvent) RawString(key string) string {
	if e == nil || e.RawPayload == nil {
		return ""
	}

	s, _ := e.RawPayload[key].(string)

	return s
}

// InboundPayload is an undecoded-to-event request body handed over by the HTTP layer.
type InboundPayload struct {
	Processor Processor
	// Body is the original request body, echoed verbatim for IPN verification.
	Body []byte
	Raw  map[string]any
	// IPN marks form-encoded legacy PayPal messages.
	IPN bool
}

// Verification is the result of a passed gate check.
type Verification struct {
	AccountScope string
	// Connected is true when the scope names an account other than the platform's own.
	Connected bool
}

// Destination is the handler an event is routed to.
type Destination string

const (
	DestinationCharge                  Destination = "charge"
	DestinationMerchantAccount         Destination = "merchant_account"
	DestinationMerchantDeauthorization Destination = "merchant_account_deauthorization"
	DestinationPayout                  Destination = "payout"
	DestinationLegacy                  Destination = "legacy"
	DestinationDiscard                 Destination = "discard"
)

// Dispatch tells the scheduler when to run the handler.
type Dispatch string

const (
	DispatchSync      Dispatch = "sync"
	DispatchImmediate Dispatch = "immediate"
	DispatchDelayed   Dispatch = "delayed"
	DispatchNone      Dispatch = "none"
)

// EventClassification is the router output for one event. It is not persisted.
type EventClassification struct {
	Event       *InboundEvent
	Rule        string
	Destination Destination
	Dispatch    Dispatch
	Delay       time.Duration
	Connected   bool
}

// WebhookOutcome summarizes what happened to one inbound request.
type WebhookOutcome string

const (
	OutcomeHandled   WebhookOutcome = "handled"
	OutcomeScheduled WebhookOutcome = "scheduled"
	OutcomeDiscarded WebhookOutcome = "discarded"
	OutcomeDropped   WebhookOutcome = "dropped"
)
