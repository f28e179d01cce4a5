package model

import (
	"database/sql/driver"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus represents the status of a payment
type PaymentStatus string

const (
	PaymentStatusCreated PaymentStatus = "form"
	PaymentStatusPrepaid PaymentStatus = "prepaid"
	PaymentStatusFail    PaymentStatus = "fail"
	PaymentStatusRefund  PaymentStatus = "refund"
)

// Scan implements sql.Scanner interface
func (s *PaymentStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*s = PaymentStatus(v)
	case []byte:
		*s = PaymentStatus(v)
	default:
		*s = PaymentStatusCreated
	}
	return nil
}

// Value implements driver.Valuer interface
func (s PaymentStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Payment meta keys
const (
	PaymentMetaOriginalTransactionID = "appstore_original_transaction_id"
	PaymentMetaTransactionID         = "appstore_transaction_id"
	PaymentMetaProductID             = "appstore_product_id"
	PaymentMetaArticleID             = "article_id"
)

// Payment represents a charge recorded against a user for one App Store transaction.
type Payment struct {
	ID                  int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID              int64           `gorm:"not null;index" json:"user_id"`
	SubscriptionTypeID  int64           `gorm:"not null;index" json:"subscription_type_id"`
	SubscriptionID      *int64          `gorm:"index" json:"subscription_id,omitempty"`
	Status              PaymentStatus   `gorm:"type:payment_status;not null;default:'form';index" json:"status"`
	Amount              decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"amount"`
	SubscriptionStartAt *time.Time      `json:"subscription_start_at,omitempty"`
	SubscriptionEndAt   *time.Time      `json:"subscription_end_at,omitempty"`
	Note                *string         `json:"note,omitempty"`
	PaidAt              *time.Time      `json:"paid_at,omitempty"`
	CreatedAt           time.Time       `gorm:"default:now()" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"default:now()" json:"updated_at"`

	// Relations
	Meta         []PaymentMeta `gorm:"foreignKey:PaymentID" json:"meta,omitempty"`
	Subscription *Subscription `gorm:"foreignKey:SubscriptionID" json:"subscription,omitempty"`
}

// TableName specifies the table name for GORM
func (Payment) TableName() string {
	return "payments"
}

// MetaValue returns the value stored under key, or "" if absent.
func (p *Payment) MetaValue(key string) string {
	for _, m := range p.Meta {
		if m.Key == key {
			return m.Value
		}
	}
	return ""
}

// PaymentMeta is a key/value tag attached to a payment.
type PaymentMeta struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentID int64     `gorm:"not null;uniqueIndex:idx_payment_meta_payment_key" json:"payment_id"`
	Key       string    `gorm:"not null;size:100;uniqueIndex:idx_payment_meta_payment_key;index:idx_payment_meta_key_value" json:"key"`
	Value     string    `gorm:"not null;size:255;index:idx_payment_meta_key_value" json:"value"`
	CreatedAt time.Time `gorm:"default:now()" json:"created_at"`
}

// TableName specifies the table name for GORM
func (PaymentMeta) TableName() string {
	return "payment_meta"
}
