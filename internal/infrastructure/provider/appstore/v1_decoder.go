package appstore

import (
	"context"
	"crypto/subtle"
	"encoding/json"

	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/appstore-reconciler/internal/domain/errors"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/provider"
)

// V1Notification is the body of an App Store Server Notification V1.
type V1Notification struct {
	NotificationType   string          `json:"notification_type" validate:"required"`
	Password           string          `json:"password"`
	Environment        string          `json:"environment"`
	AutoRenewStatus    string          `json:"auto_renew_status"`
	AutoRenewProductID string          `json:"auto_renew_product_id"`
	UnifiedReceipt     *unifiedReceipt `json:"unified_receipt" validate:"required"`
}

// V1Decoder decodes inline JSON notifications authenticated by the shared secret.
type V1Decoder struct {
	sharedSecret string
}

func NewV1Decoder(sharedSecret string) *V1Decoder {
	return &V1Decoder{sharedSecret: sharedSecret}
}

var _ provider.NotificationDecoder = (*V1Decoder)(nil)

func (d *V1Decoder) Version() entity.NotificationVersion { return entity.NotificationV1 }

func (d *V1Decoder) Decode(ctx context.Context, raw []byte) (*entity.Event, error) {
	var n V1Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, domainErrors.NewDecodeError("v1", "malformed body", err)
	}
	if subtle.ConstantTimeCompare([]byte(n.Password), []byte(d.sharedSecret)) != 1 {
		return nil, domainErrors.NewDecodeError("v1", "shared secret mismatch", nil)
	}
	if n.NotificationType == "" {
		return nil, domainErrors.NewDecodeError("v1", "missing notification_type", nil)
	}
	if n.UnifiedReceipt == nil {
		return nil, domainErrors.NewDecodeError("v1", "missing unified_receipt", nil)
	}

	tx, err := n.UnifiedReceipt.latestTransaction()
	if err != nil {
		return nil, err
	}
	renewal, err := n.UnifiedReceipt.renewalFor(tx.OriginalTransactionID)
	if err != nil {
		return nil, err
	}

	environment := n.Environment
	if environment == "" {
		environment = n.UnifiedReceipt.Environment
	}

	event := &entity.Event{
		Version:          entity.NotificationV1,
		NotificationType: n.NotificationType,
		Environment:      environment,
		Transaction:      tx,
		Renewal:          renewal,
		LatestReceipt:    n.UnifiedReceipt.LatestReceipt,
	}
	normalizeV1(event, &n)
	return event, nil
}

// normalizeV1 maps V1 types and implicit subtypes onto their V2 equivalents.
func normalizeV1(event *entity.Event, n *V1Notification) {
	switch n.NotificationType {
	case entity.TypeCancel:
		event.NotificationType = entity.TypeRefund
	case entity.TypeDidChangeRenewalStatus:
		if n.AutoRenewStatus == "true" {
			event.Subtype = entity.SubtypeAutoRenewEnabled
		} else {
			event.Subtype = entity.SubtypeAutoRenewDisabled
		}
	case entity.TypeDidFailToRenew:
		if event.Renewal != nil && event.Renewal.GracePeriodExpiresDate != nil {
			event.Subtype = entity.SubtypeGracePeriod
		}
	case entity.TypeDidChangeRenewalPref:
		next := n.AutoRenewProductID
		if next == "" && event.Renewal != nil {
			next = event.Renewal.AutoRenewProductID
		}
		if next != "" && next != event.Transaction.ProductID {
			event.Subtype = entity.SubtypeDowngrade
		}
		if event.Renewal == nil {
			event.Renewal = &entity.RenewalInfo{}
		}
		if event.Renewal.AutoRenewProductID == "" {
			event.Renewal.AutoRenewProductID = next
		}
	}
}
