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
)

type recurrentChargeRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRecurrentChargeRepository creates a new recurrent charge repository
func NewRecurrentChargeRepository(db *gorm.DB, logger *zap.Logger) repository.RecurrentChargeRepository {
	return &recurrentChargeRepository{db: db, logger: logger}
}

func (r *recurrentChargeRepository) Create(ctx context.Context, charge *model.RecurrentCharge) error {
	if err := conn(ctx, r.db).Create(charge).Error; err != nil {
		r.logger.Error("failed to create recurrent charge",
			zap.String("cid", charge.Cid),
			zap.Error(err))
		return fmt.Errorf("failed to create recurrent charge: %w", err)
	}
	return nil
}

func (r *recurrentChargeRepository) Update(ctx context.Context, charge *model.RecurrentCharge) error {
	charge.UpdatedAt = time.Now()
	err := conn(ctx, r.db).Model(charge).Select(
		"payment_id", "next_subscription_type_id", "state", "charge_at", "note", "updated_at",
	).Updates(charge).Error
	if err != nil {
		r.logger.Error("failed to update recurrent charge",
			zap.Int64("id", charge.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update recurrent charge: %w", err)
	}
	return nil
}

func (r *recurrentChargeRepository) GetLastByCid(ctx context.Context, cid string, excludeParentPaymentID *int64) (*model.RecurrentCharge, error) {
	query := conn(ctx, r.db).Where("cid = ?", cid)
	if excludeParentPaymentID != nil {
		query = query.Where("parent_payment_id <> ?", *excludeParentPaymentID)
	}
	return r.first(query)
}

func (r *recurrentChargeRepository) GetLastByParentPaymentID(ctx context.Context, paymentID int64) (*model.RecurrentCharge, error) {
	return r.first(conn(ctx, r.db).Where("parent_payment_id = ?", paymentID))
}

func (r *recurrentChargeRepository) ListUsableByCid(ctx context.Context, cid string) ([]*model.RecurrentCharge, error) {
	var charges []*model.RecurrentCharge
	err := conn(ctx, r.db).
		Where("cid = ? AND state IN ?", cid, []model.RecurrentChargeState{model.RecurrentChargeActive, model.RecurrentChargeChargeFailed}).
		Order("created_at DESC, id DESC").
		Find(&charges).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recurrent charges: %w", err)
	}
	return charges, nil
}

func (r *recurrentChargeRepository) first(query *gorm.DB) (*model.RecurrentCharge, error) {
	var charge model.RecurrentCharge
	if err := query.Order("created_at DESC, id DESC").First(&charge).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get recurrent charge: %w", err)
	}
	return &charge, nil
}
