package event

import (
	"strings"
	"time"

	"github.com/jnst/payment-reconciler/internal/model"
)

// LegacyDispatchDelay is how long legacy PayPal messages wait before handling,
// so that the synchronous purchase flow can finish writing its records first.
const LegacyDispatchDelay = 10 * time.Minute

// Rule is one ordered entry of the routing table.
type Rule struct {
	Name        string
	Matches     func(e *model.InboundEvent) bool
	Destination model.Destination
	Dispatch    model.Dispatch
	Delay       time.Duration
}

// Router classifies events against an ordered rule list. First match wins.
type Router struct {
	rules []Rule
}

// NewRouter creates a router over rules.
func NewRouter(rules []Rule) *Router {
	return &Router{rules: append([]Rule(nil), rules...)}
}

// NewDefaultRouter creates a router with DefaultRules.
func NewDefaultRouter() *Router {
	return NewRouter(DefaultRules())
}

// Classify picks the destination and dispatch mode of e. It is total: events
// matching no rule are discarded.
func (r *Router) Classify(e *model.InboundEvent) model.EventClassification {
	for _, rule := range r.rules {
		if rule.Matches(e) {
			return model.EventClassification{
				Event:       e,
				Rule:        rule.Name,
				Destination: rule.Destination,
				Dispatch:    rule.Dispatch,
				Delay:       rule.Delay,
			}
		}
	}

	return model.EventClassification{
		Event:       e,
		Rule:        "unmatched",
		Destination: model.DestinationDiscard,
		Dispatch:    model.DispatchNone,
	}
}

// DefaultRules returns the routing table for Stripe and PayPal.
func DefaultRules() []Rule {
	orderTypes := toSet(payPalOrderEventTypes)
	merchantTypes := toSet(payPalMerchantAccountEventTypes)

	return []Rule{
		{
			Name:        "stripe_deauthorization",
			Matches:     stripeType(func(t string) bool { return t == "account.application.deauthorized" }),
			Destination: model.DestinationMerchantDeauthorization,
			Dispatch:    model.DispatchSync,
		},
		{
			Name:        "stripe_merchant_account",
			Matches:     stripeType(hasAnyPrefix("account.", "capability.")),
			Destination: model.DestinationMerchantAccount,
			Dispatch:    model.DispatchSync,
		},
		{
			Name: "stripe_charge",
			Matches: stripeType(func(t string) bool {
				return t == "payment_intent.payment_failed" || hasAnyPrefix("charge.", "radar.", "capital.")(t)
			}),
			Destination: model.DestinationCharge,
			Dispatch:    model.DispatchSync,
		},
		{
			Name:        "stripe_payout",
			Matches:     stripeType(hasAnyPrefix("payout.")),
			Destination: model.DestinationPayout,
			Dispatch:    model.DispatchSync,
		},
		{
			Name:        "stripe_other",
			Matches:     stripeType(func(string) bool { return true }),
			Destination: model.DestinationDiscard,
			Dispatch:    model.DispatchNone,
		},
		{
			Name:        "paypal_order",
			Matches:     payPalType(inSet(orderTypes)),
			Destination: model.DestinationCharge,
			Dispatch:    model.DispatchImmediate,
		},
		{
			Name:        "paypal_merchant_account",
			Matches:     payPalType(inSet(merchantTypes)),
			Destination: model.DestinationMerchantAccount,
			Dispatch:    model.DispatchImmediate,
		},
		{
			Name:        "paypal_legacy",
			Matches:     payPalType(func(string) bool { return true }),
			Destination: model.DestinationLegacy,
			Dispatch:    model.DispatchDelayed,
			Delay:       LegacyDispatchDelay,
		},
	}
}

// LegacyDestination picks the handler for a delayed legacy PayPal message.
func LegacyDestination(e *model.InboundEvent) model.Destination {
	if e.RawString("txn_type") == PayPalTxnTypeMassPay {
		return model.DestinationPayout
	}

	return model.DestinationCharge
}

func stripeType(match func(string) bool) func(*model.InboundEvent) bool {
	return func(e *model.InboundEvent) bool {
		return e.Processor == model.ProcessorStripe && match(e.EventType)
	}
}

func payPalType(match func(string) bool) func(*model.InboundEvent) bool {
	return func(e *model.InboundEvent) bool {
		return e.Processor == model.ProcessorPayPal && match(e.EventType)
	}
}

func hasAnyPrefix(prefixes ...string) func(string) bool {
	return func(s string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(s, p) {
				return true
			}
		}

		return false
	}
}

func inSet(set map[string]struct{}) func(string) bool {
	return func(s string) bool {
		_, ok := set[s]

		return ok
	}
}
