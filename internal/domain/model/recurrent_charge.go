package model

import (
	"database/sql/driver"
	"time"
)

// RecurrentChargeState is the lifecycle state of a node in a renewal chain
type RecurrentChargeState string

const (
	RecurrentChargeActive       RecurrentChargeState = "active"
	RecurrentChargeCharged      RecurrentChargeState = "charged"
	RecurrentChargeChargeFailed RecurrentChargeState = "charge_failed"
	RecurrentChargeSystemStop   RecurrentChargeState = "system_stop"
	RecurrentChargeUserStop     RecurrentChargeState = "user_stop"
)

// Scan implements sql.Scanner interface
func (s *RecurrentChargeState) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*s = RecurrentChargeState(v)
	case []byte:
		*s = RecurrentChargeState(v)
	default:
		*s = RecurrentChargeActive
	}
	return nil
}

// Value implements driver.Valuer interface
func (s RecurrentChargeState) Value() (driver.Value, error) {
	return string(s), nil
}

// IsStopped reports whether the node was stopped by the system or the user.
func (s RecurrentChargeState) IsStopped() bool {
	return s == RecurrentChargeSystemStop || s == RecurrentChargeUserStop
}

// RecurrentCharge is one node of the renewal chain keyed by the original transaction id (cid).
// At most one node per cid is active or charge_failed at a time.
type RecurrentCharge struct {
	ID                     int64                `gorm:"primaryKey;autoIncrement" json:"id"`
	Cid                    string               `gorm:"not null;size:255;index" json:"cid"`
	ParentPaymentID        int64                `gorm:"not null;index" json:"parent_payment_id"`
	PaymentID              *int64               `gorm:"index" json:"payment_id,omitempty"`
	UserID                 int64                `gorm:"not null;index" json:"user_id"`
	SubscriptionTypeID     int64                `gorm:"not null" json:"subscription_type_id"`
	NextSubscriptionTypeID *int64               `json:"next_subscription_type_id,omitempty"`
	State                  RecurrentChargeState `gorm:"type:recurrent_charge_state;not null;default:'active';index" json:"state"`
	ChargeAt               time.Time            `gorm:"not null" json:"charge_at"`
	Note                   *string              `json:"note,omitempty"`
	CreatedAt              time.Time            `gorm:"default:now()" json:"created_at"`
	UpdatedAt              time.Time            `gorm:"default:now()" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (RecurrentCharge) TableName() string {
	return "recurrent_charges"
}
