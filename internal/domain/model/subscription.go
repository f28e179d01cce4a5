package model

import (
	"database/sql/driver"
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionKind distinguishes how an access window was granted
type SubscriptionKind string

const (
	SubscriptionKindRegular SubscriptionKind = "regular"
	SubscriptionKindUpgrade SubscriptionKind = "upgrade"
	SubscriptionKindGrace   SubscriptionKind = "grace"
)

// Scan implements sql.Scanner interface
func (k *SubscriptionKind) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*k = SubscriptionKind(v)
	case []byte:
		*k = SubscriptionKind(v)
	default:
		*k = SubscriptionKindRegular
	}
	return nil
}

// Value implements driver.Valuer interface
func (k SubscriptionKind) Value() (driver.Value, error) {
	return string(k), nil
}

// Subscription is the access window granted to a user.
type Subscription struct {
	ID                 int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID             int64            `gorm:"not null;index" json:"user_id"`
	SubscriptionTypeID int64            `gorm:"not null;index" json:"subscription_type_id"`
	Kind               SubscriptionKind `gorm:"size:20;not null;default:'regular'" json:"kind"`
	StartTime          time.Time        `gorm:"not null" json:"start_time"`
	EndTime            time.Time        `gorm:"not null;index" json:"end_time"`
	Note               *string          `json:"note,omitempty"`
	CreatedAt          time.Time        `gorm:"default:now()" json:"created_at"`
	UpdatedAt          time.Time        `gorm:"default:now()" json:"updated_at"`

	// Relations
	SubscriptionType *SubscriptionType `gorm:"foreignKey:SubscriptionTypeID" json:"subscription_type,omitempty"`
}

// TableName specifies the table name for GORM
func (Subscription) TableName() string {
	return "subscriptions"
}

// SubscriptionType is an internal plan: price and length of one billing period.
type SubscriptionType struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Code       string          `gorm:"not null;size:100;uniqueIndex" json:"code"`
	Name       string          `gorm:"not null;size:255" json:"name"`
	Price      decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"price"`
	LengthDays int             `gorm:"not null;default:30" json:"length_days"`
	Active     bool            `gorm:"not null;default:true" json:"active"`
	CreatedAt  time.Time       `gorm:"default:now()" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"default:now()" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (SubscriptionType) TableName() string {
	return "subscription_types"
}

// AppStoreProduct maps an App Store product id to a subscription type.
type AppStoreProduct struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID          string    `gorm:"not null;size:255;uniqueIndex" json:"product_id"`
	SubscriptionTypeID int64     `gorm:"not null;index" json:"subscription_type_id"`
	CreatedAt          time.Time `gorm:"default:now()" json:"created_at"`
	UpdatedAt          time.Time `gorm:"default:now()" json:"updated_at"`

	// Relations
	SubscriptionType *SubscriptionType `gorm:"foreignKey:SubscriptionTypeID" json:"subscription_type,omitempty"`
}

// TableName specifies the table name for GORM
func (AppStoreProduct) TableName() string {
	return "appstore_products"
}
