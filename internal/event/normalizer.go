package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/jnst/payment-reconciler/internal/model"
)

// Normalize converts a raw processor payload into an InboundEvent.
// It performs no I/O and never mutates raw.
func Normalize(processor model.Processor, raw map[string]any, receivedAt time.Time) (*model.InboundEvent, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: empty payload", model.ErrMalformedEvent)
	}

	switch processor {
	case model.ProcessorStripe:
		return normalizeStripe(raw, receivedAt)
	case model.ProcessorPayPal:
		if stringField(raw, "event_type") != "" {
			return normalizePayPalWebhook(raw, receivedAt)
		}

		return normalizePayPalIPN(raw, receivedAt)
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedProcessor, processor)
	}
}

// StripeAccountScope returns the connected account a Stripe event belongs to.
// The legacy "user_id" field wins over "account" when both are present.
func StripeAccountScope(raw map[string]any) string {
	if scope := stringField(raw, "user_id"); scope != "" {
		return scope
	}

	return stringField(raw, "account")
}

// PayPalAccountScope returns the merchant a PayPal message belongs to.
func PayPalAccountScope(raw map[string]any) string {
	if stringField(raw, "event_type") == "" {
		return stringField(raw, "receiver_id")
	}

	resource := mapField(raw, "resource")
	if scope := stringField(resource, "merchant_id"); scope != "" {
		return scope
	}

	return stringField(resource, "payer_id")
}

func normalizeStripe(raw map[string]any, receivedAt time.Time) (*model.InboundEvent, error) {
	eventType := stringField(raw, "type")
	if eventType == "" {
		return nil, fmt.Errorf("%w: stripe event without type", model.ErrMalformedEvent)
	}

	ids := map[string]string{}
	obj := StripeObject(raw)
	if obj != nil {
		if kind, id := stringField(obj, "object"), stringField(obj, "id"); kind != "" && id != "" {
			ids[kind] = id
		}
		setIfPresent(ids, model.ResourceCharge, idField(obj, "charge"))
		setIfPresent(ids, model.ResourceCharge, idField(obj, "latest_charge"))
		setIfPresent(ids, model.ResourcePaymentIntent, idField(obj, "payment_intent"))
		setIfPresent(ids, model.ResourceAccount, idField(obj, "account"))
	}

	return &model.InboundEvent{
		Processor:    model.ProcessorStripe,
		EventID:      stringField(raw, "id"),
		EventType:    eventType,
		AccountScope: StripeAccountScope(raw),
		ResourceIDs:  ids,
		RawPayload:   raw,
		ReceivedAt:   receivedAt,
	}, nil
}

// StripeObject returns data.object of a Stripe event.
func StripeObject(raw map[string]any) map[string]any {
	return mapField(mapField(raw, "data"), "object")
}

func normalizePayPalWebhook(raw map[string]any, receivedAt time.Time) (*model.InboundEvent, error) {
	eventType := stringField(raw, "event_type")
	resource := mapField(raw, "resource")

	ids := map[string]string{}
	resourceID := stringField(resource, "id")
	setIfPresent(ids, model.ResourceMerchant, stringField(resource, "merchant_id"))
	setIfPresent(ids, model.ResourceTracking, stringField(resource, "tracking_id"))
	setIfPresent(ids, model.ResourceInvoice, stringField(resource, "invoice_id"))

	switch {
	case strings.HasPrefix(eventType, "PAYMENT.CAPTURE."):
		captureID := resourceID
		if eventType == "PAYMENT.CAPTURE.REFUNDED" {
			// the resource is the refund; the capture is its "up" link
			if up := linkTarget(resource, "up"); up != "" {
				captureID = up
			}
		}
		setIfPresent(ids, model.ResourceCapture, captureID)
		setIfPresent(ids, model.ResourceCharge, captureID)
	case strings.HasPrefix(eventType, "CHECKOUT.ORDER."):
		setIfPresent(ids, model.ResourceOrder, resourceID)
		if unit := firstMap(resource, "purchase_units"); unit != nil {
			capture := firstMap(mapField(unit, "payments"), "captures")
			setIfPresent(ids, model.ResourceCapture, stringField(capture, "id"))
			setIfPresent(ids, model.ResourceCharge, stringField(capture, "id"))
		}
	case strings.HasPrefix(eventType, "CUSTOMER.DISPUTE."):
		setIfPresent(ids, model.ResourceDispute, stringField(resource, "dispute_id"))
		if txn := firstMap(resource, "disputed_transactions"); txn != nil {
			setIfPresent(ids, model.ResourceCharge, stringField(txn, "seller_transaction_id"))
		}
	}

	return &model.InboundEvent{
		Processor:    model.ProcessorPayPal,
		EventID:      stringField(raw, "id"),
		EventType:    eventType,
		AccountScope: PayPalAccountScope(raw),
		ResourceIDs:  ids,
		RawPayload:   raw,
		ReceivedAt:   receivedAt,
	}, nil
}

func normalizePayPalIPN(raw map[string]any, receivedAt time.Time) (*model.InboundEvent, error) {
	eventType := stringField(raw, "txn_type")
	if eventType == "" {
		status := strings.ToLower(stringField(raw, "payment_status"))
		if status == "" && stringField(raw, "txn_id") == "" {
			return nil, fmt.Errorf("%w: paypal message without event_type, txn_type or txn_id", model.ErrMalformedEvent)
		}
		eventType = "ipn"
		if status != "" {
			eventType += "." + status
		}
	}

	ids := map[string]string{}
	txnID := stringField(raw, "txn_id")
	parentID := stringField(raw, "parent_txn_id")
	setIfPresent(ids, model.ResourceTxn, txnID)
	setIfPresent(ids, model.ResourceParentTxn, parentID)
	setIfPresent(ids, model.ResourceInvoice, stringField(raw, "invoice"))
	setIfPresent(ids, model.ResourcePayer, stringField(raw, "payer_id"))
	// refunds and reversals reference the original payment through parent_txn_id
	if parentID != "" {
		ids[model.ResourceCharge] = parentID
	} else {
		setIfPresent(ids, model.ResourceCharge, txnID)
	}

	return &model.InboundEvent{
		Processor:    model.ProcessorPayPal,
		EventID:      stringField(raw, "ipn_track_id"),
		EventType:    eventType,
		AccountScope: PayPalAccountScope(raw),
		ResourceIDs:  ids,
		RawPayload:   raw,
		ReceivedAt:   receivedAt,
	}, nil
}

// linkTarget returns the last path segment of the HATEOAS link with rel.
func linkTarget(resource map[string]any, rel string) string {
	links, _ := resource["links"].([]any)
	for _, l := range links {
		link, _ := l.(map[string]any)
		if stringField(link, "rel") != rel {
			continue
		}
		href := strings.TrimRight(stringField(link, "href"), "/")
		if i := strings.LastIndex(href, "/"); i >= 0 {
			return href[i+1:]
		}
	}

	return ""
}

// setIfPresent stores v under key unless v is empty or key is already set.
func setIfPresent(ids map[string]string, key, v string) {
	if v == "" {
		return
	}
	if _, ok := ids[key]; ok {
		return
	}
	ids[key] = v
}
