package errors

import (
	"errors"

	pkgErrors "github.com/wekeepgrowing/appstore-reconciler/pkg/errors"
)

// Purchase verification failure reasons returned to clients
const (
	ReasonMissingReceipt       = "missing_receipt"
	ReasonInvalidReceipt       = "invalid_receipt"
	ReasonReceiptExpired       = "receipt_expired"
	ReasonUnknownProduct       = "unknown_product"
	ReasonUnableToValidate     = "unable_to_validate"
	ReasonPurchaseAlreadyOwned = "purchase_already_owned"
	ReasonMissingIdentity      = "missing_identity"
	ReasonInternalError        = "internal_error"
)

// PurchaseError is a verification failure with a client facing reason.
type PurchaseError struct {
	Reason string
	*pkgErrors.AppError
}

// Unwrap exposes the wrapped AppError so code mapping works through errors.As
func (e *PurchaseError) Unwrap() error {
	return e.AppError
}

func newPurchaseError(reason, code, message string, cause error) *PurchaseError {
	return &PurchaseError{Reason: reason, AppError: pkgErrors.NewAppError(code, message, cause)}
}

func ErrMissingReceipt() *PurchaseError {
	return newPurchaseError(ReasonMissingReceipt, pkgErrors.ErrInvalidArgument, "no receipt or transaction id provided", nil)
}

func ErrInvalidReceipt(cause error) *PurchaseError {
	return newPurchaseError(ReasonInvalidReceipt, pkgErrors.ErrInvalidArgument, "receipt could not be validated", cause)
}

func ErrReceiptExpired() *PurchaseError {
	return newPurchaseError(ReasonReceiptExpired, pkgErrors.ErrInvalidArgument, "subscription in receipt has already expired", nil)
}

func ErrUnknownProductPurchase(productID string) *PurchaseError {
	return newPurchaseError(ReasonUnknownProduct, pkgErrors.ErrInvalidArgument, "product "+productID+" is not sold by this service", ErrUnknownProduct)
}

func ErrUnableToValidate(cause error) *PurchaseError {
	return newPurchaseError(ReasonUnableToValidate, pkgErrors.ErrUnavailable, "App Store is not reachable, try again later", cause)
}

func ErrPurchaseAlreadyOwned() *PurchaseError {
	return newPurchaseError(ReasonPurchaseAlreadyOwned, pkgErrors.ErrInvalidArgument, "purchase is already linked to another account", nil)
}

func ErrMissingIdentity() *PurchaseError {
	return newPurchaseError(ReasonMissingIdentity, pkgErrors.ErrUnauthenticated, "bearer token or device token required", nil)
}

func ErrPurchaseInternal(cause error) *PurchaseError {
	return newPurchaseError(ReasonInternalError, pkgErrors.ErrInternal, "purchase could not be processed", cause)
}

// AsPurchaseError extracts a PurchaseError from err
func AsPurchaseError(err error) (*PurchaseError, bool) {
	var pe *PurchaseError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
