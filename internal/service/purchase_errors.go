package service

import "github.com/jnst/payment-reconciler/internal/model"

// PurchaseError is the code and buyer-facing message written onto a failed purchase.
type PurchaseError struct {
	Code    model.PurchaseErrorCode
	Message string
}

const genericPurchaseMessage = "Your payment could not be completed. Please try again or use a different payment method."

var purchaseErrors = map[model.ErrorKind]PurchaseError{
	model.ErrorKindPayeeAccountRestricted:    {"paypal_payee_account_restricted", "The creator's PayPal account cannot accept payments right now. Please try again later."},
	model.ErrorKindPayerCancelledAgreement:   {"paypal_payer_cancelled_billing_agreement", "Your PayPal billing agreement was cancelled. Please reconnect PayPal or use a card."},
	model.ErrorKindPayerDeclinedPayment:      {"paypal_payer_declined_payment", "PayPal declined this payment. Please use a different payment method."},
	model.ErrorKindUnsupportedPaymentType:    {"unsupported_payment_type", "This payment method is not supported. Please use a different payment method."},
	model.ErrorKindUnsupportedPaymentAccount: {"unsupported_payment_account", "This payment account cannot be used. Please use a different account."},
	model.ErrorKindCardDeclined:              {"card_declined", "Your card was declined. Please use a different card."},
}

// PurchaseErrorFor maps a tagged processor error to a purchase error.
func PurchaseErrorFor(processor model.Processor, kind model.ErrorKind) PurchaseError {
	if kind == model.ErrorKindUnavailable {
		code := model.PurchaseErrorCode(string(processor) + "_unavailable")
		if processor == "" {
			code = "processor_unavailable"
		}

		return PurchaseError{Code: code, Message: "There is a temporary problem with the payment processor. Please try again in a few minutes."}
	}

	if perr, ok := purchaseErrors[kind]; ok {
		return perr
	}

	return PurchaseError{Code: "processing_error", Message: genericPurchaseMessage}
}
