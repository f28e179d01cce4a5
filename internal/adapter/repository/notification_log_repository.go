package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type notificationLogRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewNotificationLogRepository creates a new notification log repository
func NewNotificationLogRepository(db *gorm.DB, logger *zap.Logger) repository.NotificationLogRepository {
	return &notificationLogRepository{db: db, logger: logger}
}

func (r *notificationLogRepository) Create(ctx context.Context, log *model.NotificationLog) error {
	if log.Status == "" {
		log.Status = model.NotificationLogNew
	}
	if err := conn(ctx, r.db).Create(log).Error; err != nil {
		r.logger.Error("failed to create notification log",
			zap.String("notification_type", log.NotificationType),
			zap.Error(err))
		return fmt.Errorf("failed to create notification log: %w", err)
	}
	return nil
}

func (r *notificationLogRepository) MarkStatus(ctx context.Context, id int64, status model.NotificationLogStatus, paymentID *int64, errorMessage *string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
		"updated_at":    now,
	}
	if paymentID != nil {
		updates["payment_id"] = *paymentID
	}
	if status != model.NotificationLogNew {
		updates["processed_at"] = now
	}

	if err := conn(ctx, r.db).Model(&model.NotificationLog{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		r.logger.Error("failed to update notification log",
			zap.Int64("id", id),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("failed to update notification log: %w", err)
	}
	return nil
}

func (r *notificationLogRepository) List(ctx context.Context, filter entity.NotificationLogFilter, page entity.PaginationParams) ([]*model.NotificationLog, int64, error) {
	page.Validate()

	query := conn(ctx, r.db).Model(&model.NotificationLog{})
	if filter.OriginalTransactionID != "" {
		query = query.Where("original_transaction_id = ?", filter.OriginalTransactionID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.NotificationType != "" {
		query = query.Where("notification_type = ?", filter.NotificationType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count notification logs: %w", err)
	}

	var logs []*model.NotificationLog
	err := query.Order("created_at DESC, id DESC").
		Limit(page.Limit).
		Offset(page.CalculateOffset()).
		Find(&logs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notification logs: %w", err)
	}
	return logs, total, nil
}

type auditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *gorm.DB) repository.AuditLogRepository {
	return &auditLogRepository{db: db}
}

func (r *auditLogRepository) Create(ctx context.Context, entry *model.AuditLog) error {
	if entry.Metadata == nil {
		entry.Metadata = model.JSONB{}
	}
	if err := conn(ctx, r.db).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}
