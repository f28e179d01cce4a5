package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
)

// UserRepository reads and writes user accounts and their meta tags.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByUUID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// FindByMeta returns every user tagged with key=value.
	FindByMeta(ctx context.Context, key, value string) ([]*model.User, error)
	// CreateUnclaimed creates a placeholder user tagged with the original transaction id.
	CreateUnclaimed(ctx context.Context, email string, originalTransactionID string) (*model.User, error)
	SetMeta(ctx context.Context, userID int64, key, value string) error
	// Claim moves everything owned by the unclaimed user to the claimed one and deactivates the placeholder.
	Claim(ctx context.Context, unclaimedUserID, claimedUserID int64) error
}

// DeviceTokenRepository pairs device tokens with users.
type DeviceTokenRepository interface {
	GetByToken(ctx context.Context, token string) (*model.DeviceToken, error)
	// Pair links the token with the user, creating the token row if needed.
	Pair(ctx context.Context, token string, userID int64) error
}
