package model

import "time"

// PayoutState is the lifecycle state of a payout.
type PayoutState string

const (
	PayoutStateProcessing PayoutState = "processing"
	PayoutStateCompleted  PayoutState = "completed"
	PayoutStateFailed     PayoutState = "failed"
)

// PayoutRecord is one attempted transfer to a seller.
type PayoutRecord struct {
	ID               int64       `json:"id"`
	ExternalPayoutID string      `json:"external_payout_id"`
	Processor        Processor   `json:"processor"`
	UserID           int64       `json:"user_id"`
	AmountCents      int64       `json:"amount_cents"`
	Currency         string      `json:"currency"`
	State            PayoutState `json:"state"`
	FailureReason    string      `json:"failure_reason,omitempty"`
	DiagnosticNote   string      `json:"diagnostic_note,omitempty"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// MarkCompleted moves the payout to completed and clears failure details.
// It returns false when nothing changed.
func (p *PayoutRecord) MarkCompleted() bool {
	if p.State == PayoutStateCompleted {
		return false
	}

	p.State = PayoutStateCompleted
	p.FailureReason = ""
	p.DiagnosticNote = ""

	return true
}

// MarkFailed records a failure. Completed payouts are never touched.
func (p *PayoutRecord) MarkFailed(reason, note string) bool {
	if p.State == PayoutStateCompleted {
		return false
	}
	if p.State == PayoutStateFailed && p.FailureReason == reason && p.DiagnosticNote == note {
		return false
	}

	p.State = PayoutStateFailed
	p.FailureReason = reason
	p.DiagnosticNote = note

	return true
}
