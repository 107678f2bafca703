package processor

import (
	"sort"

	"github.com/jnst/payment-reconciler/internal/model"
)

// FailureNote explains a payout failure code to a seller.
type FailureNote struct {
	Reason      string
	Remediation string
}

// String renders the note as stored in diagnostic_note.
func (n FailureNote) String() string {
	return n.Reason + " " + n.Remediation
}

var stripePayoutFailures = map[string]FailureNote{
	"account_closed":                   {"The bank account has been closed.", "Please add a new bank account in your payout settings."},
	"account_frozen":                   {"The bank account has been frozen.", "Please contact your bank or add a different account."},
	"bank_account_restricted":          {"The bank account has restrictions on the type or number of payouts allowed.", "Please contact your bank or add a different account."},
	"bank_ownership_changed":           {"The destination bank account is no longer valid because its branch has changed ownership.", "Please re-enter your bank account details."},
	"could_not_process":                {"The bank could not process this payout.", "Please verify your bank details; we will retry on the next payout date."},
	"debit_not_authorized":             {"Debit transactions are not approved on the bank account.", "Please ask your bank to allow transfers from our payout partner."},
	"declined":                         {"The bank has declined this transfer.", "Please contact your bank before the next payout."},
	"incorrect_account_holder_address": {"The bank notified us that the account holder address is incorrect.", "Please update your address in your payout settings."},
	"incorrect_account_holder_name":    {"The bank notified us that the account holder name is incorrect.", "Please update the name on your bank account in your payout settings."},
	"incorrect_account_holder_tax_id":  {"The bank notified us that the account holder tax ID is incorrect.", "Please update your tax ID in your payout settings."},
	"insufficient_funds":               {"Your payout balance did not have enough funds.", "No action is needed; the amount will be included in a future payout."},
	"invalid_account_number":           {"The routing number seems correct, but the account number is invalid.", "Please re-enter your bank account number."},
	"invalid_currency":                 {"The bank was unable to process this payout because of its currency.", "Please add a bank account that accepts your payout currency."},
	"no_account":                       {"The bank account details on file are probably incorrect.", "Please re-enter your bank account details."},
	"unsupported_card":                 {"The bank no longer supports payouts to this card.", "Please add a bank account or a different debit card."},
	"canceled":                         {"The payout was canceled before it reached your account.", "No action is needed; the amount will be included in a future payout."},
}

var payPalPayoutFailures = map[string]FailureNote{
	"1001": {"The receiving PayPal account is invalid.", "Please update the PayPal email address in your payout settings."},
	"1002": {"The sending account did not have enough funds at the time of the payout.", "No action is needed; the amount will be included in a future payout."},
	"1003": {"The receiving PayPal account's country is not allowed to receive this payout.", "Please switch to a bank account payout."},
	"1004": {"The payout could not be funded from the selected source.", "No action is needed; we will retry on the next payout date."},
	"3004": {"A PayPal account cannot receive a payout from itself.", "Please use a different PayPal email address."},
	"3014": {"The receiving PayPal account is closed or locked.", "Please contact PayPal or use a different PayPal email address."},
	"3015": {"The receiving PayPal account is restricted.", "Please resolve the limitation in your PayPal account."},
	"3016": {"The receiving PayPal account cannot accept this currency.", "Please enable the payout currency in your PayPal account."},
	"3017": {"The receiving PayPal account has not confirmed its email address.", "Please confirm your email address with PayPal."},
	"3047": {"The receiving PayPal account has reached its receiving limit.", "Please lift the receiving limit in your PayPal account."},
	"3049": {"The receiving PayPal account is unable to receive payments.", "Please contact PayPal to enable receiving payments."},
	"3053": {"The receiving PayPal account is not eligible for this kind of payment.", "Please use a different PayPal email address."},
	"3054": {"The payout was refused by the receiving PayPal account.", "Please accept payments in your PayPal account settings."},
	"3058": {"The receiving PayPal account is in a country that does not accept payouts.", "Please switch to a bank account payout."},
}

// PayoutFailureNote looks up the diagnostic note for a processor failure code.
func PayoutFailureNote(processor model.Processor, code string) (FailureNote, bool) {
	var table map[string]FailureNote
	switch processor {
	case model.ProcessorStripe:
		table = stripePayoutFailures
	case model.ProcessorPayPal:
		table = payPalPayoutFailures
	default:
		return FailureNote{}, false
	}

	note, ok := table[code]

	return note, ok
}

// PayoutFailureCodes returns the known failure codes of processor in sorted order.
func PayoutFailureCodes(processor model.Processor) []string {
	var table map[string]FailureNote
	switch processor {
	case model.ProcessorStripe:
		table = stripePayoutFailures
	case model.ProcessorPayPal:
		table = payPalPayoutFailures
	}

	codes := make([]string, 0, len(table))
	for code := range table {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	return codes
}
