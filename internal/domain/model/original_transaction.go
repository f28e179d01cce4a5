package model

import "time"

// OriginalTransaction is the ledger row for an App Store subscription chain.
type OriginalTransaction struct {
	ID                    int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OriginalTransactionID string    `gorm:"not null;size:255;uniqueIndex" json:"original_transaction_id"`
	LatestReceipt         *string   `gorm:"type:text" json:"latest_receipt,omitempty"`
	CreatedAt             time.Time `gorm:"default:now()" json:"created_at"`
	UpdatedAt             time.Time `gorm:"default:now()" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (OriginalTransaction) TableName() string {
	return "appstore_original_transactions"
}
