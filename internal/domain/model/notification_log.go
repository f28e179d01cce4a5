package model

import (
	"database/sql/driver"
	"time"

	"gorm.io/datatypes"
)

// NotificationLogStatus represents the processing outcome of one delivery
type NotificationLogStatus string

const (
	NotificationLogNew        NotificationLogStatus = "new"
	NotificationLogProcessed  NotificationLogStatus = "processed"
	NotificationLogError      NotificationLogStatus = "error"
	NotificationLogDoNotRetry NotificationLogStatus = "do_not_retry"
)

// Scan implements sql.Scanner interface
func (s *NotificationLogStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*s = NotificationLogStatus(v)
	case []byte:
		*s = NotificationLogStatus(v)
	default:
		*s = NotificationLogNew
	}
	return nil
}

// Value implements driver.Valuer interface
func (s NotificationLogStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// NotificationLog records every received App Store notification delivery.
type NotificationLog struct {
	ID                    int64                 `gorm:"primaryKey;autoIncrement" json:"id"`
	OriginalTransactionID *string               `gorm:"size:255;index" json:"original_transaction_id,omitempty"`
	NotificationUUID      *string               `gorm:"size:64;index" json:"notification_uuid,omitempty"`
	NotificationType      string                `gorm:"not null;size:64;index" json:"notification_type"`
	Subtype               string                `gorm:"size:64" json:"subtype"`
	Version               string                `gorm:"not null;size:4" json:"version"`
	Payload               datatypes.JSON        `gorm:"not null" json:"payload"`
	PaymentID             *int64                `gorm:"index" json:"payment_id,omitempty"`
	Status                NotificationLogStatus `gorm:"type:notification_log_status;not null;default:'new';index" json:"status"`
	ErrorMessage          *string               `json:"error_message,omitempty"`
	ProcessedAt           *time.Time            `json:"processed_at,omitempty"`
	CreatedAt             time.Time             `gorm:"default:now()" json:"created_at"`
	UpdatedAt             time.Time             `gorm:"default:now()" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (NotificationLog) TableName() string {
	return "appstore_notification_logs"
}
