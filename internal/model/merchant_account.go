package model

import "time"

// MerchantAccountState is the onboarding state of a connected account.
type MerchantAccountState string

const (
	MerchantAccountStatePendingOnboarding         MerchantAccountState = "pending_onboarding"
	MerchantAccountStateAwaitingEmailConfirmation MerchantAccountState = "awaiting_email_confirmation"
	MerchantAccountStateIncompletePermissions     MerchantAccountState = "incomplete_permissions"
	MerchantAccountStateVerified                  MerchantAccountState = "verified"
	MerchantAccountStateDeleted                   MerchantAccountState = "deleted"
)

// MerchantAccount is a seller's connected processor account.
type MerchantAccount struct {
	ID                        int64                `json:"id"`
	UserID                    int64                `json:"user_id"`
	Processor                 Processor            `json:"processor"`
	ChargeProcessorMerchantID string               `json:"charge_processor_merchant_id"`
	Country                   string               `json:"country"`
	Currency                  string               `json:"currency"`
	State                     MerchantAccountState `json:"state"`
	VerifiedAt                *time.Time           `json:"verified_at"`
	AliveAt                   *time.Time           `json:"alive_at"`
	DeletedAt                 *time.Time           `json:"deleted_at"`
	RejectionMessage          string               `json:"rejection_message,omitempty"`
	UpdatedAt                 time.Time            `json:"updated_at"`
}

// IsAlive reports whether the account has not been disconnected.
func (m *MerchantAccount) IsAlive() bool {
	return m.DeletedAt == nil
}

// Disconnect soft-deletes the account. It returns false if it was already deleted.
func (m *MerchantAccount) Disconnect(at time.Time, rejection string) bool {
	if !m.IsAlive() {
		return false
	}

	m.State = MerchantAccountStateDeleted
	m.DeletedAt = &at
	m.VerifiedAt = nil
	m.AliveAt = nil
	if rejection != "" {
		m.RejectionMessage = rejection
	}

	return true
}

// MerchantStatus is the processor-reported onboarding status of a merchant.
type MerchantStatus struct {
	MerchantID         string
	TrackingID         string
	Country            string
	Currency           string
	EmailConfirmed     bool
	PaymentsReceivable bool
	PermissionsGranted bool
}

// OnboardingState maps the reported status onto the account state machine.
func (s *MerchantStatus) OnboardingState() MerchantAccountState {
	switch {
	case !s.EmailConfirmed:
		return MerchantAccountStateAwaitingEmailConfirmation
	case !s.PaymentsReceivable || !s.PermissionsGranted:
		return MerchantAccountStateIncompletePermissions
	default:
		return MerchantAccountStateVerified
	}
}
