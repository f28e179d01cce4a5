package appstore

import (
	"sort"
	"strconv"

	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/appstore-reconciler/internal/domain/errors"
)

// unifiedReceipt is shared by V1 notifications and verifyReceipt responses.
type unifiedReceipt struct {
	Status             int                  `json:"status"`
	Environment        string               `json:"environment"`
	LatestReceipt      string               `json:"latest_receipt"`
	LatestReceiptInfo  []receiptInfo        `json:"latest_receipt_info"`
	PendingRenewalInfo []pendingRenewalInfo `json:"pending_renewal_info"`
}

type receiptInfo struct {
	Quantity               string `json:"quantity"`
	ProductID              string `json:"product_id"`
	TransactionID          string `json:"transaction_id"`
	OriginalTransactionID  string `json:"original_transaction_id"`
	PurchaseDateMs         string `json:"purchase_date_ms"`
	OriginalPurchaseDateMs string `json:"original_purchase_date_ms"`
	ExpiresDateMs          string `json:"expires_date_ms"`
	CancellationDateMs     string `json:"cancellation_date_ms"`
	CancellationReason     string `json:"cancellation_reason"`
	IsTrialPeriod          string `json:"is_trial_period"`
	IsInIntroOfferPeriod   string `json:"is_in_intro_offer_period"`
	AppAccountToken        string `json:"app_account_token"`
}

type pendingRenewalInfo struct {
	AutoRenewProductID       string `json:"auto_renew_product_id"`
	OriginalTransactionID    string `json:"original_transaction_id"`
	ProductID                string `json:"product_id"`
	AutoRenewStatus          string `json:"auto_renew_status"`
	ExpirationIntent         string `json:"expiration_intent"`
	GracePeriodExpiresDateMs string `json:"grace_period_expires_date_ms"`
	IsInBillingRetryPeriod   string `json:"is_in_billing_retry_period"`
}

// latestTransaction picks the receipt entry with the latest purchase date.
func (r *unifiedReceipt) latestTransaction() (*entity.TransactionInfo, error) {
	if len(r.LatestReceiptInfo) == 0 {
		return nil, domainErrors.NewDecodeError("v1", "receipt carries no transactions", nil)
	}

	entries := make([]*entity.TransactionInfo, 0, len(r.LatestReceiptInfo))
	for i := range r.LatestReceiptInfo {
		tx, err := r.LatestReceiptInfo[i].toTransaction()
		if err != nil {
			return nil, err
		}
		entries = append(entries, tx)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].PurchaseDate.After(entries[j].PurchaseDate)
	})
	return entries[0], nil
}

// renewalFor returns the pending renewal entry of the chain, or nil.
func (r *unifiedReceipt) renewalFor(originalTransactionID string) (*entity.RenewalInfo, error) {
	for _, p := range r.PendingRenewalInfo {
		if p.OriginalTransactionID != "" && p.OriginalTransactionID != originalTransactionID {
			continue
		}
		return p.toRenewal()
	}
	return nil, nil
}

func (ri *receiptInfo) toTransaction() (*entity.TransactionInfo, error) {
	if ri.OriginalTransactionID == "" {
		return nil, domainErrors.NewDecodeError("v1", "receipt entry without original_transaction_id", nil)
	}

	tx := &entity.TransactionInfo{
		OriginalTransactionID: ri.OriginalTransactionID,
		TransactionID:         ri.TransactionID,
		ProductID:             ri.ProductID,
		Quantity:              1,
		IsTrial:               ri.IsTrialPeriod == "true",
		AppAccountToken:       ri.AppAccountToken,
	}
	if ri.IsInIntroOfferPeriod == "true" {
		tx.OfferType = offerTypeIntroductory
	}

	if ri.Quantity != "" {
		q, err := strconv.Atoi(ri.Quantity)
		if err != nil {
			return nil, domainErrors.NewDecodeError("v1", "quantity", err)
		}
		tx.Quantity = q
	}

	var err error
	if tx.PurchaseDate, err = entity.MillisEpochToTime(ri.PurchaseDateMs); err != nil {
		return nil, domainErrors.NewDecodeError("v1", "purchase_date_ms", err)
	}
	if ri.OriginalPurchaseDateMs != "" {
		if tx.OriginalPurchaseDate, err = entity.MillisEpochToTime(ri.OriginalPurchaseDateMs); err != nil {
			return nil, domainErrors.NewDecodeError("v1", "original_purchase_date_ms", err)
		}
	}
	if ri.ExpiresDateMs != "" {
		if tx.ExpiresDate, err = entity.MillisEpochToTime(ri.ExpiresDateMs); err != nil {
			return nil, domainErrors.NewDecodeError("v1", "expires_date_ms", err)
		}
	}
	if tx.RevocationDate, err = entity.OptionalMillisEpochToTime(ri.CancellationDateMs); err != nil {
		return nil, domainErrors.NewDecodeError("v1", "cancellation_date_ms", err)
	}
	if ri.CancellationReason != "" {
		if reason, err := strconv.Atoi(ri.CancellationReason); err == nil {
			tx.RevocationReason = &reason
		}
	}
	return tx, nil
}

func (p *pendingRenewalInfo) toRenewal() (*entity.RenewalInfo, error) {
	renewal := &entity.RenewalInfo{
		AutoRenewStatus:    p.AutoRenewStatus == "1",
		AutoRenewProductID: p.AutoRenewProductID,
	}
	if p.ExpirationIntent != "" {
		intent, err := strconv.Atoi(p.ExpirationIntent)
		if err != nil {
			return nil, domainErrors.NewDecodeError("v1", "expiration_intent", err)
		}
		renewal.ExpirationIntent = intent
	}

	grace, err := entity.OptionalMillisEpochToTime(p.GracePeriodExpiresDateMs)
	if err != nil {
		return nil, domainErrors.NewDecodeError("v1", "grace_period_expires_date_ms", err)
	}
	renewal.GracePeriodExpiresDate = grace
	return renewal, nil
}
