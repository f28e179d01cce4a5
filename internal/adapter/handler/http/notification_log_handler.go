package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/repository"
	"go.uber.org/zap"
)

type NotificationLogHandler struct {
	logs   repository.NotificationLogRepository
	logger *zap.Logger
}

func NewNotificationLogHandler(logs repository.NotificationLogRepository, logger *zap.Logger) *NotificationLogHandler {
	return &NotificationLogHandler{logs: logs, logger: logger}
}

// ListNotifications returns received notifications, newest first
func (h *NotificationLogHandler) ListNotifications(c echo.Context) error {
	var filter entity.NotificationLogFilter
	var page entity.PaginationParams
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &filter); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid filter parameters"})
	}
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &page); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid pagination parameters"})
	}
	page.Validate()

	logs, total, err := h.logs.List(c.Request().Context(), filter, page)
	if err != nil {
		h.logger.Error("Failed to list notification logs",
			zap.String("original_transaction_id", filter.OriginalTransactionID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to list notifications",
		})
	}
	if logs == nil {
		logs = []*model.NotificationLog{}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"data":       logs,
		"pagination": entity.NewPaginationMeta(page.Page, page.Limit, total),
	})
}
