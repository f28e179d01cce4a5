package model

import (
	"time"

	"github.com/google/uuid"
)

// User is an account that owns payments. Unclaimed users are placeholders
// created for purchases that could not be attributed yet.
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID      uuid.UUID `gorm:"column:uuid;type:uuid;not null;uniqueIndex" json:"uuid"`
	Email     string    `gorm:"not null;size:255;uniqueIndex" json:"email"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	Unclaimed bool      `gorm:"not null;default:false;index" json:"unclaimed"`
	CreatedAt time.Time `gorm:"default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:now()" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (User) TableName() string {
	return "users"
}

// UserMetaOriginalTransactionID tags a user with an App Store original transaction id.
const UserMetaOriginalTransactionID = "appstore_original_transaction_id"

// UserMeta is a key/value tag attached to a user.
type UserMeta struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"not null;uniqueIndex:idx_user_meta_user_key_value" json:"user_id"`
	Key       string    `gorm:"not null;size:100;uniqueIndex:idx_user_meta_user_key_value;index:idx_user_meta_key_value" json:"key"`
	Value     string    `gorm:"not null;size:255;uniqueIndex:idx_user_meta_user_key_value;index:idx_user_meta_key_value" json:"value"`
	CreatedAt time.Time `gorm:"default:now()" json:"created_at"`
}

// TableName specifies the table name for GORM
func (UserMeta) TableName() string {
	return "user_meta"
}

// DeviceToken links a client device to the user it was paired with.
type DeviceToken struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Token     string    `gorm:"not null;size:255;uniqueIndex" json:"token"`
	UserID    *int64    `gorm:"index" json:"user_id,omitempty"`
	CreatedAt time.Time `gorm:"default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:now()" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (DeviceToken) TableName() string {
	return "device_tokens"
}
