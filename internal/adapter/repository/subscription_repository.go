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

type subscriptionRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *gorm.DB, logger *zap.Logger) repository.SubscriptionRepository {
	return &subscriptionRepository{db: db, logger: logger}
}

func (r *subscriptionRepository) Create(ctx context.Context, subscription *model.Subscription) error {
	if err := conn(ctx, r.db).Omit(clause.Associations).Create(subscription).Error; err != nil {
		r.logger.Error("failed to create subscription",
			zap.Int64("user_id", subscription.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) GetByID(ctx context.Context, id int64) (*model.Subscription, error) {
	var subscription model.Subscription
	if err := conn(ctx, r.db).First(&subscription, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &subscription, nil
}

func (r *subscriptionRepository) UpdateEndTime(ctx context.Context, id int64, end time.Time) error {
	err := conn(ctx, r.db).Model(&model.Subscription{}).Where("id = ?", id).
		Updates(map[string]interface{}{"end_time": end, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to update subscription end time: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) ExistsForUserEndingAt(ctx context.Context, userID int64, kind model.SubscriptionKind, end time.Time) (bool, error) {
	var count int64
	err := conn(ctx, r.db).Model(&model.Subscription{}).
		Where("user_id = ? AND kind = ? AND end_time = ?", userID, kind, end).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	return count > 0, nil
}

type subscriptionTypeRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSubscriptionTypeRepository creates a new subscription type repository
func NewSubscriptionTypeRepository(db *gorm.DB, logger *zap.Logger) repository.SubscriptionTypeRepository {
	return &subscriptionTypeRepository{db: db, logger: logger}
}

func (r *subscriptionTypeRepository) GetByID(ctx context.Context, id int64) (*model.SubscriptionType, error) {
	var st model.SubscriptionType
	if err := conn(ctx, r.db).First(&st, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription type: %w", err)
	}
	return &st, nil
}

func (r *subscriptionTypeRepository) GetByProductID(ctx context.Context, productID string) (*model.SubscriptionType, error) {
	var product model.AppStoreProduct
	err := conn(ctx, r.db).Preload("SubscriptionType").Where("product_id = ?", productID).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get product mapping: %w", err)
	}
	return product.SubscriptionType, nil
}

func (r *subscriptionTypeRepository) Upsert(ctx context.Context, subscriptionType *model.SubscriptionType, productID string) error {
	return conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		subscriptionType.UpdatedAt = time.Now()
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "price", "length_days", "active", "updated_at"}),
		}).Create(subscriptionType).Error
		if err != nil {
			return fmt.Errorf("failed to upsert subscription type %s: %w", subscriptionType.Code, err)
		}

		// ON CONFLICT does not populate the primary key on update
		if err := tx.Where("code = ?", subscriptionType.Code).First(subscriptionType).Error; err != nil {
			return fmt.Errorf("failed to reload subscription type %s: %w", subscriptionType.Code, err)
		}

		product := &model.AppStoreProduct{
			ProductID:          productID,
			SubscriptionTypeID: subscriptionType.ID,
			UpdatedAt:          time.Now(),
		}
		err = tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"subscription_type_id", "updated_at"}),
		}).Create(product).Error
		if err != nil {
			return fmt.Errorf("failed to upsert product mapping %s: %w", productID, err)
		}

		r.logger.Info("product mapping synced",
			zap.String("product_id", productID),
			zap.String("subscription_type", subscriptionType.Code),
			zap.Int64("subscription_type_id", subscriptionType.ID))
		return nil
	})
}
