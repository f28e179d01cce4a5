package repository

import (
	"context"
	"time"

	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
)

// PaymentRepository persists payments and their meta tags.
// Lookups return (nil, nil) when nothing matches.
type PaymentRepository interface {
	// Create inserts the payment together with payment.Meta.
	Create(ctx context.Context, payment *model.Payment) error
	GetByID(ctx context.Context, id int64) (*model.Payment, error)
	// GetByTransactionID finds the payment tagged with an App Store transaction id.
	GetByTransactionID(ctx context.Context, transactionID string) (*model.Payment, error)
	// GetLastByOriginalTransactionID returns the most recently created payment tagged with
	// the original transaction id, narrowed to subscriptionTypeID first when given.
	GetLastByOriginalTransactionID(ctx context.Context, originalTransactionID string, subscriptionTypeID *int64) (*model.Payment, error)
	UpdateStatus(ctx context.Context, id int64, status model.PaymentStatus, note *string) error
	UpdateSubscriptionEnd(ctx context.Context, id int64, end time.Time) error
	SetMeta(ctx context.Context, paymentID int64, key, value string) error
}
