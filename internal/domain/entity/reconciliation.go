package entity

import "time"

// ReconciliationEvent is published after a notification or charge was reconciled.
type ReconciliationEvent struct {
	Kind                  string    `json:"kind"`
	OriginalTransactionID string    `json:"original_transaction_id"`
	NotificationType      string    `json:"notification_type,omitempty"`
	Subtype               string    `json:"subtype,omitempty"`
	Status                string    `json:"status"`
	PaymentID             *int64    `json:"payment_id,omitempty"`
	RecurrentChargeID     *int64    `json:"recurrent_charge_id,omitempty"`
	UserID                *int64    `json:"user_id,omitempty"`
	OccurredAt            time.Time `json:"occurred_at"`
}

// Reconciliation event kinds
const (
	ReconciliationKindNotification = "notification"
	ReconciliationKindCharge       = "recurrent_charge"
)
