package repository

import (
	"context"

	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
)

// TransactionLedgerRepository stores one row per App Store original transaction id.
type TransactionLedgerRepository interface {
	// Upsert creates the row or updates its latest receipt. An empty receipt keeps the stored one.
	Upsert(ctx context.Context, originalTransactionID string, latestReceipt string) (*model.OriginalTransaction, error)
	GetByOriginalTransactionID(ctx context.Context, originalTransactionID string) (*model.OriginalTransaction, error)
}
