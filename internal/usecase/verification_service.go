package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/appstore-reconciler/internal/domain/errors"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/provider"
	"github.com/wekeepgrowing/appstore-reconciler/pkg/clock"
	"go.uber.org/zap"
)

// Gateway mode forcing the sandbox verifyReceipt endpoint
const GatewayModeSandbox = "sandbox"

// Verification results
const (
	VerifyResultCreated          = "created"
	VerifyResultAlreadyProcessed = "already_processed"
)

// Identity is the caller of a verification request. At least one field is set.
type Identity struct {
	UserID      *int64
	DeviceToken string
}

// VerifyRequest is a client reported purchase.
type VerifyRequest struct {
	Version       entity.NotificationVersion
	Receipts      []string
	TransactionID string
	GatewayMode   string
	Locale        string
	ArticleID     string
}

// VerifyResult describes the payment a verified purchase maps to.
type VerifyResult struct {
	Result  string
	Payment *model.Payment
	User    *model.User
}

// VerificationService handles purchases reported by clients, racing safely with
// notifications for the same transaction.
type VerificationService struct {
	client     provider.AppStoreClient
	stores     Stores
	resolver   *UserResolver
	reconciler *Reconciler
	locker     provider.Locker
	clock      clock.Clock
	logger     *zap.Logger
}

// NewVerificationService creates a new verification service
func NewVerificationService(
	client provider.AppStoreClient,
	stores Stores,
	resolver *UserResolver,
	reconciler *Reconciler,
	locker provider.Locker,
	clk clock.Clock,
	logger *zap.Logger,
) *VerificationService {
	return &VerificationService{
		client:     client,
		stores:     stores,
		resolver:   resolver,
		reconciler: reconciler,
		locker:     locker,
		clock:      clk,
		logger:     logger,
	}
}

// VerifyPurchase validates the purchase with the App Store and records it for the caller.
func (s *VerificationService) VerifyPurchase(ctx context.Context, identity Identity, req VerifyRequest) (*VerifyResult, error) {
	if identity.UserID == nil && identity.DeviceToken == "" {
		return nil, domainErrors.ErrMissingIdentity()
	}

	event, err := s.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	tx := event.Transaction
	if tx.Quantity != 1 {
		return nil, domainErrors.ErrInvalidReceipt(domainErrors.ErrInvalidQuantity)
	}

	logger := s.logger.With(
		zap.String("original_transaction_id", tx.OriginalTransactionID),
		zap.String("transaction_id", tx.TransactionID))

	caller, err := s.caller(ctx, identity)
	if err != nil {
		return nil, domainErrors.ErrPurchaseInternal(err)
	}

	lock, err := s.locker.Acquire(ctx, LockKey(tx.OriginalTransactionID))
	if err != nil {
		return nil, domainErrors.ErrPurchaseInternal(err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to release transaction lock", zap.Error(err))
		}
	}()

	if _, err := s.stores.Ledger.Upsert(ctx, tx.OriginalTransactionID, event.LatestReceipt); err != nil {
		return nil, domainErrors.ErrPurchaseInternal(err)
	}

	existing, err := s.stores.Payments.GetByTransactionID(ctx, tx.TransactionID)
	if err != nil {
		return nil, domainErrors.ErrPurchaseInternal(err)
	}
	if existing != nil {
		linked, err := s.stores.Users.GetByID(ctx, existing.UserID)
		if err != nil {
			return nil, domainErrors.ErrPurchaseInternal(err)
		}
		owner, err := s.settleOwner(ctx, identity, caller, linked, tx)
		if err != nil {
			return nil, err
		}
		logger.Info("Purchase already processed", zap.Int64("payment_id", existing.ID))
		if owner != nil && owner.ID != existing.UserID {
			// claimed just now, the payment moved with the placeholder's records
			existing.UserID = owner.ID
		}
		return &VerifyResult{Result: VerifyResultAlreadyProcessed, Payment: existing, User: owner}, nil
	}

	if tx.Expired(s.clock.Now()) {
		return nil, domainErrors.ErrReceiptExpired()
	}

	st, err := s.stores.SubscriptionTypes.GetByProductID(ctx, tx.ProductID)
	if err != nil {
		return nil, domainErrors.ErrPurchaseInternal(err)
	}
	if st == nil {
		return nil, domainErrors.ErrUnknownProductPurchase(tx.ProductID)
	}

	linked, err := s.resolver.ResolveExisting(ctx, tx)
	if err != nil {
		return nil, domainErrors.ErrPurchaseInternal(err)
	}
	owner, err := s.settleOwner(ctx, identity, caller, linked, tx)
	if err != nil {
		return nil, err
	}

	out, err := s.reconciler.Subscribe(ctx, event, owner)
	if err != nil {
		if errors.Is(err, domainErrors.ErrUnknownProduct) {
			return nil, domainErrors.ErrUnknownProductPurchase(tx.ProductID)
		}
		return nil, domainErrors.ErrPurchaseInternal(err)
	}

	switch out.Kind {
	case OutcomeSkipped:
		return nil, domainErrors.ErrReceiptExpired()
	case OutcomeDoNotRetry:
		return &VerifyResult{Result: VerifyResultAlreadyProcessed, Payment: out.Payment, User: owner}, nil
	}

	if req.ArticleID != "" {
		if err := s.stores.Payments.SetMeta(ctx, out.Payment.ID, model.PaymentMetaArticleID, req.ArticleID); err != nil {
			logger.Warn("Failed to tag payment with article", zap.Error(err))
		}
	}

	logger.Info("Purchase verified",
		zap.Int64("payment_id", out.Payment.ID),
		zap.Int64("user_id", owner.ID))
	return &VerifyResult{Result: VerifyResultCreated, Payment: out.Payment, User: owner}, nil
}

// fetch validates the purchase with the App Store.
func (s *VerificationService) fetch(ctx context.Context, req VerifyRequest) (*entity.Event, error) {
	event := &entity.Event{Version: req.Version, NotificationType: entity.TypeSubscribed}

	switch req.Version {
	case entity.NotificationV2:
		if req.TransactionID == "" {
			return nil, domainErrors.ErrMissingReceipt()
		}
		tx, err := s.client.GetTransaction(ctx, req.TransactionID)
		if err != nil {
			return nil, s.vendorError(err)
		}
		event.Transaction = tx
	default:
		if len(req.Receipts) == 0 || req.Receipts[0] == "" {
			return nil, domainErrors.ErrMissingReceipt()
		}
		if len(req.Receipts) > 1 {
			s.logger.Debug("Verifying first of several receipts", zap.Int("receipts", len(req.Receipts)))
		}
		verification, err := s.client.VerifyReceipt(ctx, req.Receipts[0], req.GatewayMode == GatewayModeSandbox)
		if err != nil {
			return nil, s.vendorError(err)
		}
		event.Environment = verification.Environment
		event.Transaction = verification.Transaction
		event.Renewal = verification.Renewal
		event.LatestReceipt = verification.LatestReceipt
	}

	if event.Transaction == nil {
		return nil, domainErrors.ErrInvalidReceipt(nil)
	}
	return event, nil
}

func (s *VerificationService) vendorError(err error) error {
	var statusErr *provider.ReceiptStatusError
	switch {
	case errors.Is(err, provider.ErrVendorUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &statusErr) && statusErr.Retryable():
		s.logger.Warn("App Store verification unavailable", zap.Error(err))
		return domainErrors.ErrUnableToValidate(err)
	default:
		s.logger.Info("App Store rejected purchase", zap.Error(err))
		return domainErrors.ErrInvalidReceipt(err)
	}
}

// caller resolves the user behind the identity, or nil for an unpaired device token.
func (s *VerificationService) caller(ctx context.Context, identity Identity) (*model.User, error) {
	if identity.UserID != nil {
		user, err := s.stores.Users.GetByID(ctx, *identity.UserID)
		if err != nil {
			return nil, err
		}
		if user == nil || !user.Active {
			return nil, domainErrors.ErrUserNotFound
		}
		return user, nil
	}

	token, err := s.stores.DeviceTokens.GetByToken(ctx, identity.DeviceToken)
	if err != nil || token == nil || token.UserID == nil {
		return nil, err
	}
	user, err := s.stores.Users.GetByID(ctx, *token.UserID)
	if err != nil || user == nil || !user.Active {
		return nil, err
	}
	return user, nil
}

// settleOwner picks the account the purchase belongs to and pairs the device token with it.
func (s *VerificationService) settleOwner(ctx context.Context, identity Identity, caller, linked *model.User, tx *entity.TransactionInfo) (*model.User, error) {
	var owner *model.User
	switch {
	case linked == nil && caller == nil:
		var err error
		if owner, err = s.resolver.Resolve(ctx, tx); err != nil {
			return nil, domainErrors.ErrPurchaseInternal(err)
		}
	case linked == nil:
		owner = caller
	case caller == nil || caller.ID == linked.ID:
		owner = linked
	default:
		claimable, err := s.claimable(ctx, identity, linked)
		if err != nil {
			return nil, domainErrors.ErrPurchaseInternal(err)
		}
		if !claimable {
			s.logger.Info("Purchase belongs to another account",
				zap.String("original_transaction_id", tx.OriginalTransactionID),
				zap.Int64("caller_id", caller.ID),
				zap.Int64("owner_id", linked.ID))
			return nil, domainErrors.ErrPurchaseAlreadyOwned()
		}
		if err := s.claim(ctx, linked, caller); err != nil {
			return nil, domainErrors.ErrPurchaseInternal(err)
		}
		owner = caller
	}

	if identity.DeviceToken != "" {
		if err := s.stores.DeviceTokens.Pair(ctx, identity.DeviceToken, owner.ID); err != nil {
			return nil, domainErrors.ErrPurchaseInternal(err)
		}
	}
	return owner, nil
}

// claimable reports whether linked is a placeholder the caller's device was paired with.
func (s *VerificationService) claimable(ctx context.Context, identity Identity, linked *model.User) (bool, error) {
	if !linked.Unclaimed || identity.DeviceToken == "" {
		return false, nil
	}
	token, err := s.stores.DeviceTokens.GetByToken(ctx, identity.DeviceToken)
	if err != nil {
		return false, err
	}
	return token != nil && token.UserID != nil && *token.UserID == linked.ID, nil
}

func (s *VerificationService) claim(ctx context.Context, unclaimed, claimer *model.User) error {
	err := s.stores.Transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.stores.Users.Claim(ctx, unclaimed.ID, claimer.ID); err != nil {
			return err
		}
		recordID := unclaimed.ID
		return s.stores.AuditLogs.Create(ctx, &model.AuditLog{
			UserID:    &claimer.ID,
			Action:    model.AuditActionUserClaim,
			Table:     model.User{}.TableName(),
			RecordID:  &recordID,
			OldValues: model.JSONB{"unclaimed": true, "active": true},
			NewValues: model.JSONB{"active": false, "claimed_by": claimer.ID},
			Metadata:  model.JSONB{"claimed_at": s.clock.Now().Format(time.RFC3339)},
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("Unclaimed user claimed",
		zap.Int64("unclaimed_user_id", unclaimed.ID),
		zap.Int64("user_id", claimer.ID))
	return nil
}
