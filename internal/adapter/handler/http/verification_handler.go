package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/appstore-reconciler/internal/domain/errors"
	"github.com/wekeepgrowing/appstore-reconciler/internal/middleware/auth"
	"github.com/wekeepgrowing/appstore-reconciler/internal/usecase"
	pkgErrors "github.com/wekeepgrowing/appstore-reconciler/pkg/errors"
	"go.uber.org/zap"
)

// PurchaseVerifier is implemented by usecase.VerificationService
type PurchaseVerifier interface {
	VerifyPurchase(ctx context.Context, identity usecase.Identity, req usecase.VerifyRequest) (*usecase.VerifyResult, error)
}

type verifyV1Request struct {
	Receipts    []string `json:"receipts" validate:"required,min=1,dive,required"`
	GatewayMode string   `json:"gateway_mode" validate:"omitempty,oneof=sandbox production"`
	Locale      string   `json:"locale"`
	ArticleID   string   `json:"articleId"`
}

type verifyV2Request struct {
	TransactionID string `json:"transaction_id" validate:"required"`
	GatewayMode   string `json:"gateway_mode" validate:"omitempty,oneof=sandbox production"`
	Locale        string `json:"locale"`
	ArticleID     string `json:"articleId"`
}

type verifyResponse struct {
	Status          string     `json:"status"`
	Result          string     `json:"result"`
	PaymentID       int64      `json:"payment_id"`
	UserID          int64      `json:"user_id"`
	SubscriptionEnd *time.Time `json:"subscription_end,omitempty"`
}

// VerificationHandler serves client purchase verification
type VerificationHandler struct {
	verifier PurchaseVerifier
	logger   *zap.Logger
}

func NewVerificationHandler(verifier PurchaseVerifier, logger *zap.Logger) *VerificationHandler {
	return &VerificationHandler{verifier: verifier, logger: logger}
}

// VerifyV1 verifies a base64 receipt with verifyReceipt
func (h *VerificationHandler) VerifyV1(c echo.Context) error {
	var req verifyV1Request
	if err := c.Bind(&req); err != nil {
		return invalidPayload(c, "Request body is not valid JSON", []string{err.Error()})
	}
	if len(req.Receipts) == 0 {
		return h.fail(c, domainErrors.ErrMissingReceipt())
	}
	if err := c.Validate(&req); err != nil {
		return invalidPayload(c, "Request does not match the expected schema", validationMessages(err))
	}

	return h.verify(c, usecase.VerifyRequest{
		Version:     entity.NotificationV1,
		Receipts:    req.Receipts,
		GatewayMode: req.GatewayMode,
		Locale:      req.Locale,
		ArticleID:   req.ArticleID,
	})
}

// VerifyV2 verifies a transaction id with the App Store Server API
func (h *VerificationHandler) VerifyV2(c echo.Context) error {
	var req verifyV2Request
	if err := c.Bind(&req); err != nil {
		return invalidPayload(c, "Request body is not valid JSON", []string{err.Error()})
	}
	if req.TransactionID == "" {
		return h.fail(c, domainErrors.ErrMissingReceipt())
	}
	if err := c.Validate(&req); err != nil {
		return invalidPayload(c, "Request does not match the expected schema", validationMessages(err))
	}

	return h.verify(c, usecase.VerifyRequest{
		Version:       entity.NotificationV2,
		TransactionID: req.TransactionID,
		GatewayMode:   req.GatewayMode,
		Locale:        req.Locale,
		ArticleID:     req.ArticleID,
	})
}

func (h *VerificationHandler) verify(c echo.Context, req usecase.VerifyRequest) error {
	caller, err := auth.GetIdentityFromContext(c)
	if err != nil {
		return h.fail(c, domainErrors.ErrMissingIdentity())
	}

	result, err := h.verifier.VerifyPurchase(c.Request().Context(), usecase.Identity{
		UserID:      caller.UserID,
		DeviceToken: caller.DeviceToken,
	}, req)
	if err != nil {
		return h.fail(c, err)
	}

	resp := verifyResponse{
		Status:    "ok",
		Result:    result.Result,
		PaymentID: result.Payment.ID,
		UserID:    result.Payment.UserID,
	}
	if result.Payment.Subscription != nil {
		resp.SubscriptionEnd = &result.Payment.Subscription.EndTime
	} else {
		resp.SubscriptionEnd = result.Payment.SubscriptionEndAt
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *VerificationHandler) fail(c echo.Context, err error) error {
	reason := domainErrors.ReasonInternalError
	message := "purchase could not be processed"
	if pe, ok := domainErrors.AsPurchaseError(err); ok {
		reason = pe.Reason
		message = pe.Message()
	}
	status := pkgErrors.ToHTTPStatus(pkgErrors.CodeOf(err))

	if status >= http.StatusInternalServerError {
		pkgErrors.LogError(h.logger, err, "Purchase verification failed", zap.String("reason", reason))
	} else {
		pkgErrors.LogWarn(h.logger, err, "Purchase verification rejected", zap.String("reason", reason))
	}

	return c.JSON(status, echo.Map{
		"status":  "error",
		"error":   reason,
		"message": message,
	})
}
