package event

// PayPal REST webhook event types that flow to the charge handler.
var payPalOrderEventTypes = []string{
	"CHECKOUT.ORDER.APPROVED",
	"CHECKOUT.ORDER.COMPLETED",
	"PAYMENT.CAPTURE.COMPLETED",
	"PAYMENT.CAPTURE.DENIED",
	"PAYMENT.CAPTURE.PENDING",
	"PAYMENT.CAPTURE.REFUNDED",
	"PAYMENT.CAPTURE.REVERSED",
	"CUSTOMER.DISPUTE.CREATED",
	"CUSTOMER.DISPUTE.UPDATED",
	"CUSTOMER.DISPUTE.RESOLVED",
}

// PayPal REST webhook event types that flow to the merchant-account handler.
var payPalMerchantAccountEventTypes = []string{
	PayPalPartnerConsentRevoked,
	PayPalOnboardingCompleted,
	"CUSTOMER.MERCHANT-INTEGRATION.CAPABILITY-UPDATED",
	"CUSTOMER.MERCHANT-INTEGRATION.PRODUCT-SUBSCRIPTION-UPDATED",
	"CUSTOMER.MERCHANT-INTEGRATION.SELLER-ALREADY-INTEGRATED",
	"CUSTOMER.MERCHANT-INTEGRATION.SELLER-ONBOARDING-INITIATED",
	"CUSTOMER.MERCHANT-INTEGRATION.SELLER-CONSENT-GRANTED",
	"CUSTOMER.MERCHANT-INTEGRATION.SELLER-EMAIL-CONFIRMED",
}

const (
	PayPalOnboardingCompleted   = "MERCHANT.ONBOARDING.COMPLETED"
	PayPalPartnerConsentRevoked = "MERCHANT.PARTNER-CONSENT.REVOKED"

	// IPN txn_type of a mass payment completion message.
	PayPalTxnTypeMassPay = "masspay"
)

// PayPalOrderEventTypes returns a copy of the order/capture/dispute event types.
func PayPalOrderEventTypes() []string {
	return append([]string(nil), payPalOrderEventTypes...)
}

// PayPalMerchantAccountEventTypes returns a copy of the onboarding/consent event types.
func PayPalMerchantAccountEventTypes() []string {
	return append([]string(nil), payPalMerchantAccountEventTypes...)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}

	return set
}
