package repository

import (
	"context"
	"time"

	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
)

// SubscriptionRepository persists access windows.
type SubscriptionRepository interface {
	Create(ctx context.Context, subscription *model.Subscription) error
	GetByID(ctx context.Context, id int64) (*model.Subscription, error)
	UpdateEndTime(ctx context.Context, id int64, end time.Time) error
	// ExistsForUserEndingAt reports whether the user has a subscription of the given kind ending exactly at end.
	ExistsForUserEndingAt(ctx context.Context, userID int64, kind model.SubscriptionKind, end time.Time) (bool, error)
}

// SubscriptionTypeRepository resolves internal plans and their App Store product mappings.
type SubscriptionTypeRepository interface {
	GetByID(ctx context.Context, id int64) (*model.SubscriptionType, error)
	GetByProductID(ctx context.Context, productID string) (*model.SubscriptionType, error)
	// Upsert creates or updates the subscription type by code and maps productID to it.
	Upsert(ctx context.Context, subscriptionType *model.SubscriptionType, productID string) error
}
