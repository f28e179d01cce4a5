package entity

import (
	"time"
)

// NotificationVersion identifies the App Store notification wire format
type NotificationVersion string

const (
	NotificationV1 NotificationVersion = "v1"
	NotificationV2 NotificationVersion = "v2"
)

// Notification types handled by the reconciler. V1 names are kept where
// the V1 payload is not renamed during decoding.
const (
	TypeSubscribed              = "SUBSCRIBED"
	TypeInitialBuy              = "INITIAL_BUY"
	TypeDidRenew                = "DID_RENEW"
	TypeRenewal                 = "RENEWAL"
	TypeDidRecover              = "DID_RECOVER"
	TypeInteractiveRenewal      = "INTERACTIVE_RENEWAL"
	TypeDidChangeRenewalPref    = "DID_CHANGE_RENEWAL_PREF"
	TypeDidChangeRenewalStatus  = "DID_CHANGE_RENEWAL_STATUS"
	TypeExpired                 = "EXPIRED"
	TypeDidFailToRenew          = "DID_FAIL_TO_RENEW"
	TypeRefund                  = "REFUND"
	TypeRefundReversed          = "REFUND_REVERSED"
	TypeRefundDeclined          = "REFUND_DECLINED"
	TypeConsumptionRequest      = "CONSUMPTION_REQUEST"
	TypeCancel                  = "CANCEL"
	TypeTest                    = "TEST"
	SubtypeDowngrade            = "DOWNGRADE"
	SubtypeUpgrade              = "UPGRADE"
	SubtypeAutoRenewEnabled     = "AUTO_RENEW_ENABLED"
	SubtypeAutoRenewDisabled    = "AUTO_RENEW_DISABLED"
	SubtypeGracePeriod          = "GRACE_PERIOD"
	SubtypeInitialBuy           = "INITIAL_BUY"
	SubtypeResubscribe          = "RESUBSCRIBE"
	SubtypeVoluntary            = "VOLUNTARY"
	SubtypeBillingRetry         = "BILLING_RETRY"
	SubtypePriceIncrease        = "PRICE_INCREASE"
	SubtypeBillingRecovery      = "BILLING_RECOVERY"
	SubtypeProductNotForSale    = "PRODUCT_NOT_FOR_SALE"
	SubtypeUnreportedRefundType = ""
)

// Expiration intents reported with renewal info
const (
	ExpirationIntentCancelled         = 1
	ExpirationIntentBillingError      = 2
	ExpirationIntentPriceIncrease     = 3
	ExpirationIntentProductNotForSale = 4
)

// Event is a decoded notification in a version independent shape.
// A nil Transaction marks an event the reconciler does not act on.
type Event struct {
	Version          NotificationVersion
	NotificationType string
	Subtype          string
	NotificationUUID string
	Environment      string
	Transaction      *TransactionInfo
	Renewal          *RenewalInfo
	// LatestReceipt is the base64 receipt blob carried by V1 notifications.
	LatestReceipt string
}

// Inert reports whether the event carries nothing to reconcile.
func (e *Event) Inert() bool {
	return e == nil || e.Transaction == nil
}

// OriginalTransactionID returns the chain key or "" for inert events.
func (e *Event) OriginalTransactionID() string {
	if e.Inert() {
		return ""
	}
	return e.Transaction.OriginalTransactionID
}

// TransactionInfo is one purchase or renewal of a subscription.
type TransactionInfo struct {
	OriginalTransactionID string
	TransactionID         string
	ProductID             string
	Quantity              int
	PurchaseDate          time.Time
	ExpiresDate           time.Time
	OriginalPurchaseDate  time.Time
	RevocationDate        *time.Time
	RevocationReason      *int
	IsTrial               bool
	OfferType             int
	AppAccountToken       string
}

// Expired reports whether the transaction's access window has already ended at now.
func (t *TransactionInfo) Expired(now time.Time) bool {
	return !t.ExpiresDate.IsZero() && !t.ExpiresDate.After(now)
}

// RenewalInfo is the pending renewal state of a subscription chain.
type RenewalInfo struct {
	AutoRenewStatus        bool
	AutoRenewProductID     string
	ExpirationIntent       int
	GracePeriodExpiresDate *time.Time
}
