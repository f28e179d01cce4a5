package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/appstore-reconciler/internal/domain/errors"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/repository"
	"go.uber.org/zap"
)

const (
	unclaimedSuffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	unclaimedSuffixLength   = 12
)

// UserResolver finds the account an App Store transaction belongs to.
type UserResolver struct {
	users    repository.UserRepository
	payments repository.PaymentRepository
	logger   *zap.Logger
}

// NewUserResolver creates a new user resolver
func NewUserResolver(users repository.UserRepository, payments repository.PaymentRepository, logger *zap.Logger) *UserResolver {
	return &UserResolver{users: users, payments: payments, logger: logger}
}

// ResolveExisting tries, in order, the app account token, the owner of the latest
// payment of the chain and the user tagged with the original transaction id.
// It returns (nil, nil) when no active user matches.
func (r *UserResolver) ResolveExisting(ctx context.Context, tx *entity.TransactionInfo) (*model.User, error) {
	if tx.AppAccountToken != "" {
		if id, err := uuid.Parse(tx.AppAccountToken); err == nil {
			user, err := r.users.GetByUUID(ctx, id)
			if err != nil {
				return nil, err
			}
			if user != nil && user.Active {
				return user, nil
			}
		} else {
			r.logger.Warn("Ignoring malformed app account token",
				zap.String("original_transaction_id", tx.OriginalTransactionID),
				zap.String("app_account_token", tx.AppAccountToken))
		}
	}

	payment, err := r.payments.GetLastByOriginalTransactionID(ctx, tx.OriginalTransactionID, nil)
	if err != nil {
		return nil, err
	}
	if payment != nil {
		user, err := r.users.GetByID(ctx, payment.UserID)
		if err != nil {
			return nil, err
		}
		if user != nil && user.Active {
			return user, nil
		}
	}

	tagged, err := r.users.FindByMeta(ctx, model.UserMetaOriginalTransactionID, tx.OriginalTransactionID)
	if err != nil {
		return nil, err
	}
	// inactive users still count toward ambiguity; claiming moves the tag off the placeholder
	distinct := make(map[int64]*model.User, len(tagged))
	for _, u := range tagged {
		distinct[u.ID] = u
	}
	switch len(distinct) {
	case 0:
		return nil, nil
	case 1:
		for _, u := range distinct {
			if u.Active {
				return u, nil
			}
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s (%d users)", domainErrors.ErrMultipleUsersForTransaction, tx.OriginalTransactionID, len(distinct))
	}
}

// Resolve is ResolveExisting, falling back to a new unclaimed user tagged with
// the original transaction id.
func (r *UserResolver) Resolve(ctx context.Context, tx *entity.TransactionInfo) (*model.User, error) {
	user, err := r.ResolveExisting(ctx, tx)
	if err != nil || user != nil {
		return user, err
	}

	suffix, err := gonanoid.Generate(unclaimedSuffixAlphabet, unclaimedSuffixLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate unclaimed user suffix: %w", err)
	}
	email := fmt.Sprintf("unclaimed_%s_%s@unclaimed.invalid", tx.OriginalTransactionID, suffix)

	user, err = r.users.CreateUnclaimed(ctx, email, tx.OriginalTransactionID)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Created unclaimed user for transaction",
		zap.String("original_transaction_id", tx.OriginalTransactionID),
		zap.Int64("user_id", user.ID))
	return user, nil
}
