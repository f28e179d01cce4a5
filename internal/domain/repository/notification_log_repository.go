package repository

import (
	"context"

	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
)

// NotificationLogRepository records notification deliveries and their outcome.
type NotificationLogRepository interface {
	Create(ctx context.Context, log *model.NotificationLog) error
	MarkStatus(ctx context.Context, id int64, status model.NotificationLogStatus, paymentID *int64, errorMessage *string) error
	List(ctx context.Context, filter entity.NotificationLogFilter, page entity.PaginationParams) ([]*model.NotificationLog, int64, error)
}

// AuditLogRepository writes audit entries for status transitions.
type AuditLogRepository interface {
	Create(ctx context.Context, entry *model.AuditLog) error
}
