package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
)

// NotificationDecoder turns a raw notification body into an Event.
// Decoding failures are returned as *errors.DecodeError.
type NotificationDecoder interface {
	Decode(ctx context.Context, raw []byte) (*entity.Event, error)
	Version() entity.NotificationVersion
}

// AppStoreClient calls the App Store verification APIs.
type AppStoreClient interface {
	// VerifyReceipt validates a V1 receipt blob. sandbox forces the sandbox endpoint.
	VerifyReceipt(ctx context.Context, receipt string, sandbox bool) (*ReceiptVerification, error)
	// GetTransaction fetches and verifies the signed transaction info for a transaction id.
	GetTransaction(ctx context.Context, transactionID string) (*entity.TransactionInfo, error)
}

// ReceiptVerification is the normalized result of a verifyReceipt call.
type ReceiptVerification struct {
	Environment   string
	LatestReceipt string
	Transaction   *entity.TransactionInfo
	Renewal       *entity.RenewalInfo
}

// ErrVendorUnavailable marks transport failures and 5xx answers from the App Store.
var ErrVendorUnavailable = errors.New("app store unavailable")

// ErrTransactionNotFound is returned when the App Store knows no transaction with the given id.
var ErrTransactionNotFound = errors.New("app store transaction not found")

// ReceiptStatusError is a non-zero verifyReceipt status.
type ReceiptStatusError struct {
	Status int
}

func (e *ReceiptStatusError) Error() string {
	return fmt.Sprintf("verifyReceipt status %d", e.Status)
}

// Retryable reports whether Apple documents the status as a temporary issue.
func (e *ReceiptStatusError) Retryable() bool {
	return e.Status == 21005 || (e.Status >= 21100 && e.Status <= 21199)
}

// Locker provides mutual exclusion across processes for a key.
type Locker interface {
	// Acquire blocks until the lock is held, ctx ends, or the wait bound passes.
	Acquire(ctx context.Context, key string) (Lock, error)
}

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// OutcomePublisher announces reconciliation results to other services.
type OutcomePublisher interface {
	Publish(ctx context.Context, event *entity.ReconciliationEvent) error
}

// NotificationQueue schedules raw notifications for asynchronous processing.
type NotificationQueue interface {
	Enqueue(ctx context.Context, msg *entity.QueuedNotification, delay time.Duration) error
}
