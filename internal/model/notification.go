package model

import "time"

// NotificationType is the routing key of an outbound notification.
type NotificationType string

const (
	NotificationMerchantVerified     NotificationType = "merchant_account.verified"
	NotificationMerchantDisconnected NotificationType = "merchant_account.disconnected"
	NotificationMerchantRejected     NotificationType = "merchant_account.rejected"
	NotificationChargeDisputed       NotificationType = "charge.disputed"
	NotificationChargeRefunded       NotificationType = "charge.refunded"
	NotificationPayoutFailed         NotificationType = "payout.failed"
)

// Notification is a side effect published after a state change commits.
type Notification struct {
	ID         string           `json:"id"`
	Type       NotificationType `json:"type"`
	Processor  Processor        `json:"processor"`
	SubjectID  string           `json:"subject_id"`
	UserID     int64            `json:"user_id,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
