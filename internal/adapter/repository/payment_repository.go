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

type paymentRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *gorm.DB, logger *zap.Logger) repository.PaymentRepository {
	return &paymentRepository{db: db, logger: logger}
}

func (r *paymentRepository) Create(ctx context.Context, payment *model.Payment) error {
	if err := conn(ctx, r.db).Create(payment).Error; err != nil {
		r.logger.Error("failed to create payment",
			zap.Int64("user_id", payment.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetByID(ctx context.Context, id int64) (*model.Payment, error) {
	var payment model.Payment
	err := conn(ctx, r.db).Preload("Meta").First(&payment, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

func (r *paymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*model.Payment, error) {
	var payment model.Payment
	err := conn(ctx, r.db).
		Preload("Meta").
		Joins("JOIN payment_meta pm ON pm.payment_id = payments.id").
		Where("pm.key = ? AND pm.value = ?", model.PaymentMetaTransactionID, transactionID).
		Order("payments.id DESC").
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("failed to get payment by transaction id",
			zap.String("transaction_id", transactionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get payment by transaction id: %w", err)
	}
	return &payment, nil
}

func (r *paymentRepository) GetLastByOriginalTransactionID(ctx context.Context, originalTransactionID string, subscriptionTypeID *int64) (*model.Payment, error) {
	if subscriptionTypeID != nil {
		payment, err := r.lastByOriginalTransactionID(ctx, originalTransactionID, subscriptionTypeID)
		if err != nil || payment != nil {
			return payment, err
		}
	}
	return r.lastByOriginalTransactionID(ctx, originalTransactionID, nil)
}

func (r *paymentRepository) lastByOriginalTransactionID(ctx context.Context, originalTransactionID string, subscriptionTypeID *int64) (*model.Payment, error) {
	query := conn(ctx, r.db).
		Preload("Meta").
		Joins("JOIN payment_meta pm ON pm.payment_id = payments.id").
		Where("pm.key = ? AND pm.value = ?", model.PaymentMetaOriginalTransactionID, originalTransactionID)
	if subscriptionTypeID != nil {
		query = query.Where("payments.subscription_type_id = ?", *subscriptionTypeID)
	}

	var payment model.Payment
	err := query.Order("payments.created_at DESC, payments.id DESC").First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last payment by original transaction id: %w", err)
	}
	return &payment, nil
}

func (r *paymentRepository) UpdateStatus(ctx context.Context, id int64, status model.PaymentStatus, note *string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if note != nil {
		updates["note"] = *note
	}
	if status == model.PaymentStatusPrepaid {
		updates["paid_at"] = gorm.Expr("COALESCE(paid_at, ?)", time.Now())
	}

	result := conn(ctx, r.db).Model(&model.Payment{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update payment status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("payment %d not found", id)
	}
	return nil
}

func (r *paymentRepository) UpdateSubscriptionEnd(ctx context.Context, id int64, end time.Time) error {
	err := conn(ctx, r.db).Model(&model.Payment{}).Where("id = ?", id).
		Updates(map[string]interface{}{"subscription_end_at": end, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to update payment subscription end: %w", err)
	}
	return nil
}

func (r *paymentRepository) SetMeta(ctx context.Context, paymentID int64, key, value string) error {
	meta := &model.PaymentMeta{PaymentID: paymentID, Key: key, Value: value}
	err := conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(meta).Error
	if err != nil {
		return fmt.Errorf("failed to set payment meta: %w", err)
	}
	return nil
}
