package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuantity indicates a transaction with quantity other than one
	ErrInvalidQuantity = errors.New("unsupported transaction quantity")

	// ErrPaymentNotFound indicates that no payment is linked to the transaction chain
	ErrPaymentNotFound = errors.New("payment not found for transaction")

	// ErrMultipleUsersForTransaction indicates that more than one user is tagged with the original transaction id
	ErrMultipleUsersForTransaction = errors.New("multiple users tagged with original transaction id")

	// ErrOverlappingSubscription indicates a renewal whose period starts before the previous one ends
	ErrOverlappingSubscription = errors.New("renewal overlaps previous subscription period")

	// ErrUnknownNotificationType indicates a notification type the reconciler has no transition for
	ErrUnknownNotificationType = errors.New("unknown notification type")

	// ErrUnknownProduct indicates an App Store product id without a subscription type mapping
	ErrUnknownProduct = errors.New("no subscription type mapped to product")

	// ErrUserNotFound indicates that a user lookup found nothing
	ErrUserNotFound = errors.New("user not found")

	// ErrLockTimeout indicates the per transaction lock could not be taken in time
	ErrLockTimeout = errors.New("timed out waiting for transaction lock")
)

// DecodeError reports a notification payload that could not be decoded or verified.
type DecodeError struct {
	Version string
	Reason  string
	Cause   error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode %s notification: %s: %v", e.Version, e.Reason, e.Cause)
	}
	return fmt.Sprintf("decode %s notification: %s", e.Version, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// NewDecodeError creates a DecodeError
func NewDecodeError(version, reason string, cause error) *DecodeError {
	return &DecodeError{Version: version, Reason: reason, Cause: cause}
}

// IsDecodeError reports whether err is or wraps a DecodeError
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
