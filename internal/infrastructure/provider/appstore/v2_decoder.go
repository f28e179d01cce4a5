package appstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/appstore-reconciler/internal/domain/errors"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/provider"
)

// V2Envelope is the body App Store Server Notifications V2 post.
type V2Envelope struct {
	SignedPayload string `json:"signedPayload" validate:"required"`
}

type v2NotificationPayload struct {
	jwt.RegisteredClaims
	NotificationType string `json:"notificationType"`
	Subtype          string `json:"subtype"`
	NotificationUUID string `json:"notificationUUID"`
	Version          string `json:"version"`
	Data             *struct {
		BundleID              string `json:"bundleId"`
		Environment           string `json:"environment"`
		SignedTransactionInfo string `json:"signedTransactionInfo"`
		SignedRenewalInfo     string `json:"signedRenewalInfo"`
	} `json:"data"`
}

type v2TransactionPayload struct {
	jwt.RegisteredClaims
	TransactionID         string      `json:"transactionId"`
	OriginalTransactionID string      `json:"originalTransactionId"`
	BundleID              string      `json:"bundleId"`
	ProductID             string      `json:"productId"`
	Quantity              int         `json:"quantity"`
	PurchaseDate          json.Number `json:"purchaseDate"`
	OriginalPurchaseDate  json.Number `json:"originalPurchaseDate"`
	ExpiresDate           json.Number `json:"expiresDate"`
	RevocationDate        json.Number `json:"revocationDate"`
	RevocationReason      *int        `json:"revocationReason"`
	OfferType             int         `json:"offerType"`
	OfferDiscountType     string      `json:"offerDiscountType"`
	AppAccountToken       string      `json:"appAccountToken"`
	Environment           string      `json:"environment"`
}

type v2RenewalPayload struct {
	jwt.RegisteredClaims
	OriginalTransactionID  string      `json:"originalTransactionId"`
	AutoRenewProductID     string      `json:"autoRenewProductId"`
	ProductID              string      `json:"productId"`
	AutoRenewStatus        int         `json:"autoRenewStatus"`
	ExpirationIntent       int         `json:"expirationIntent"`
	GracePeriodExpiresDate json.Number `json:"gracePeriodExpiresDate"`
}

// offer type 1 is an introductory offer; free trials use it with FREE_TRIAL discount
const (
	offerTypeIntroductory = 1
	discountFreeTrial     = "FREE_TRIAL"
)

// V2Decoder decodes signedPayload notifications.
type V2Decoder struct {
	verifier *JWSVerifier
	bundleID string
}

// NewV2Decoder creates a decoder. An empty bundleID accepts any bundle.
func NewV2Decoder(verifier *JWSVerifier, bundleID string) *V2Decoder {
	return &V2Decoder{verifier: verifier, bundleID: bundleID}
}

var _ provider.NotificationDecoder = (*V2Decoder)(nil)

func (d *V2Decoder) Version() entity.NotificationVersion { return entity.NotificationV2 }

func (d *V2Decoder) Decode(ctx context.Context, raw []byte) (*entity.Event, error) {
	var envelope V2Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, domainErrors.NewDecodeError("v2", "malformed body", err)
	}
	if envelope.SignedPayload == "" {
		return nil, domainErrors.NewDecodeError("v2", "missing signedPayload", nil)
	}

	var payload v2NotificationPayload
	if err := d.verifier.Verify(envelope.SignedPayload, &payload); err != nil {
		return nil, domainErrors.NewDecodeError("v2", "signedPayload verification failed", err)
	}
	if payload.NotificationType == "" {
		return nil, domainErrors.NewDecodeError("v2", "missing notificationType", nil)
	}

	event := &entity.Event{
		Version:          entity.NotificationV2,
		NotificationType: payload.NotificationType,
		Subtype:          payload.Subtype,
		NotificationUUID: payload.NotificationUUID,
	}
	if payload.Data == nil {
		return event, nil
	}
	event.Environment = payload.Data.Environment

	if d.bundleID != "" && payload.Data.BundleID != "" && payload.Data.BundleID != d.bundleID {
		return nil, domainErrors.NewDecodeError("v2", fmt.Sprintf("unexpected bundle %s", payload.Data.BundleID), nil)
	}

	if payload.Data.SignedTransactionInfo != "" {
		tx, err := d.DecodeTransaction(payload.Data.SignedTransactionInfo)
		if err != nil {
			return nil, err
		}
		event.Transaction = tx
	}

	if payload.Data.SignedRenewalInfo != "" {
		renewal, err := d.decodeRenewal(payload.Data.SignedRenewalInfo)
		if err != nil {
			return nil, err
		}
		event.Renewal = renewal
	}

	return event, nil
}

// DecodeTransaction verifies and normalizes a signedTransactionInfo segment.
func (d *V2Decoder) DecodeTransaction(signed string) (*entity.TransactionInfo, error) {
	var p v2TransactionPayload
	if err := d.verifier.Verify(signed, &p); err != nil {
		return nil, domainErrors.NewDecodeError("v2", "signedTransactionInfo verification failed", err)
	}
	if p.OriginalTransactionID == "" {
		return nil, domainErrors.NewDecodeError("v2", "transaction without originalTransactionId", nil)
	}

	tx := &entity.TransactionInfo{
		OriginalTransactionID: p.OriginalTransactionID,
		TransactionID:         p.TransactionID,
		ProductID:             p.ProductID,
		Quantity:              p.Quantity,
		RevocationReason:      p.RevocationReason,
		OfferType:             p.OfferType,
		IsTrial:               p.OfferType == offerTypeIntroductory && p.OfferDiscountType == discountFreeTrial,
		AppAccountToken:       p.AppAccountToken,
	}

	var err error
	if tx.PurchaseDate, err = entity.MillisEpochToTime(p.PurchaseDate.String()); err != nil {
		return nil, domainErrors.NewDecodeError("v2", "purchaseDate", err)
	}
	if p.OriginalPurchaseDate != "" {
		if tx.OriginalPurchaseDate, err = entity.MillisEpochToTime(p.OriginalPurchaseDate.String()); err != nil {
			return nil, domainErrors.NewDecodeError("v2", "originalPurchaseDate", err)
		}
	}
	if p.ExpiresDate != "" {
		if tx.ExpiresDate, err = entity.MillisEpochToTime(p.ExpiresDate.String()); err != nil {
			return nil, domainErrors.NewDecodeError("v2", "expiresDate", err)
		}
	}
	if tx.RevocationDate, err = entity.OptionalMillisEpochToTime(p.RevocationDate.String()); err != nil {
		return nil, domainErrors.NewDecodeError("v2", "revocationDate", err)
	}
	return tx, nil
}

func (d *V2Decoder) decodeRenewal(signed string) (*entity.RenewalInfo, error) {
	var p v2RenewalPayload
	if err := d.verifier.Verify(signed, &p); err != nil {
		return nil, domainErrors.NewDecodeError("v2", "signedRenewalInfo verification failed", err)
	}

	grace, err := entity.OptionalMillisEpochToTime(p.GracePeriodExpiresDate.String())
	if err != nil {
		return nil, domainErrors.NewDecodeError("v2", "gracePeriodExpiresDate", err)
	}
	return &entity.RenewalInfo{
		AutoRenewStatus:        p.AutoRenewStatus == 1,
		AutoRenewProductID:     p.AutoRenewProductID,
		ExpirationIntent:       p.ExpirationIntent,
		GracePeriodExpiresDate: grace,
	}, nil
}
