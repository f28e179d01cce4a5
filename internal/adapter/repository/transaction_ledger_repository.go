package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type transactionLedgerRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewTransactionLedgerRepository creates a new ledger repository
func NewTransactionLedgerRepository(db *gorm.DB, logger *zap.Logger) repository.TransactionLedgerRepository {
	return &transactionLedgerRepository{db: db, logger: logger}
}

func (r *transactionLedgerRepository) Upsert(ctx context.Context, originalTransactionID string, latestReceipt string) (*model.OriginalTransaction, error) {
	row := &model.OriginalTransaction{
		OriginalTransactionID: originalTransactionID,
		UpdatedAt:             time.Now(),
	}
	updates := []string{"updated_at"}
	if latestReceipt != "" {
		row.LatestReceipt = &latestReceipt
		updates = append(updates, "latest_receipt")
	}

	err := conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "original_transaction_id"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(row).Error
	if err != nil {
		r.logger.Error("failed to upsert original transaction",
			zap.String("original_transaction_id", originalTransactionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to upsert original transaction: %w", err)
	}

	return r.GetByOriginalTransactionID(ctx, originalTransactionID)
}

func (r *transactionLedgerRepository) GetByOriginalTransactionID(ctx context.Context, originalTransactionID string) (*model.OriginalTransaction, error) {
	var row model.OriginalTransaction
	err := conn(ctx, r.db).Where("original_transaction_id = ?", originalTransactionID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get original transaction: %w", err)
	}
	return &row, nil
}
