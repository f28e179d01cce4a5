package http

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/provider"
	"github.com/wekeepgrowing/appstore-reconciler/internal/infrastructure/provider/appstore"
	"go.uber.org/zap"
)

const acknowledged = "Server-To-Server Notification acknowledged."

// AppStoreWebhookHandler receives App Store server notifications and queues them.
// Nothing is reconciled on the request path.
type AppStoreWebhookHandler struct {
	queue  provider.NotificationQueue
	delay  time.Duration
	logger *zap.Logger
}

func NewAppStoreWebhookHandler(queue provider.NotificationQueue, delay time.Duration, logger *zap.Logger) *AppStoreWebhookHandler {
	return &AppStoreWebhookHandler{
		queue:  queue,
		delay:  delay,
		logger: logger,
	}
}

// HandleV1 accepts a V1 (status update) notification
func (h *AppStoreWebhookHandler) HandleV1(c echo.Context) error {
	var body appstore.V1Notification
	return h.accept(c, entity.NotificationV1, &body)
}

// HandleV2 accepts a V2 notification carrying a signedPayload
func (h *AppStoreWebhookHandler) HandleV2(c echo.Context) error {
	var body appstore.V2Envelope
	return h.accept(c, entity.NotificationV2, &body)
}

func (h *AppStoreWebhookHandler) accept(c echo.Context, version entity.NotificationVersion, schema interface{}) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		h.logger.Error("Error reading request body", zap.Error(err))
		return invalidPayload(c, "Error reading request body", nil)
	}

	if err := json.Unmarshal(raw, schema); err != nil {
		h.logger.Warn("Malformed App Store notification",
			zap.String("version", string(version)),
			zap.Error(err))
		return invalidPayload(c, "Request body is not valid JSON", []string{err.Error()})
	}
	if err := c.Validate(schema); err != nil {
		h.logger.Warn("App Store notification failed validation",
			zap.String("version", string(version)),
			zap.Error(err))
		return invalidPayload(c, "Notification does not match the expected schema", validationMessages(err))
	}

	msg := &entity.QueuedNotification{Version: version, Payload: raw}
	if err := h.queue.Enqueue(c.Request().Context(), msg, h.delay); err != nil {
		h.logger.Error("Failed to enqueue App Store notification",
			zap.String("version", string(version)),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"status":  "error",
			"error":   "internal_error",
			"message": "Notification could not be queued",
		})
	}

	h.logger.Info("App Store notification queued",
		zap.String("queue_id", msg.ID),
		zap.String("version", string(version)),
		zap.Duration("delay", h.delay))

	return c.JSON(http.StatusOK, echo.Map{
		"status": "ok",
		"result": acknowledged,
	})
}

func invalidPayload(c echo.Context, message string, errs []string) error {
	if errs == nil {
		errs = []string{}
	}
	return c.JSON(http.StatusBadRequest, echo.Map{
		"status":  "error",
		"error":   "invalid_payload",
		"message": message,
		"errors":  errs,
	})
}
