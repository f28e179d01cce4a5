package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/appstore-reconciler/internal/domain/errors"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/provider"
	"github.com/wekeepgrowing/appstore-reconciler/pkg/clock"
	"go.uber.org/zap"
)

// OutcomeKind classifies a successful reconciliation
type OutcomeKind string

const (
	OutcomeApplied    OutcomeKind = "applied"
	OutcomeSkipped    OutcomeKind = "skipped"
	OutcomeDoNotRetry OutcomeKind = "do_not_retry"
)

// Outcome is the result of reconciling one event. Failures are returned as errors instead.
type Outcome struct {
	Kind    OutcomeKind
	Payment *model.Payment
	Reason  string

	// Settled is the chain node a renewal charged, if any.
	Settled *model.RecurrentCharge
}

func applied(p *model.Payment) Outcome { return Outcome{Kind: OutcomeApplied, Payment: p} }

func skipped(reason string) Outcome { return Outcome{Kind: OutcomeSkipped, Reason: reason} }

// Reconciler applies App Store events to payments, subscriptions and renewal chains.
// Callers hold the lock for the event's original transaction id.
type Reconciler struct {
	stores    Stores
	resolver  *UserResolver
	publisher provider.OutcomePublisher
	clock     clock.Clock
	logger    *zap.Logger
}

// NewReconciler creates a reconciler. publisher may be nil.
func NewReconciler(stores Stores, resolver *UserResolver, publisher provider.OutcomePublisher, clk clock.Clock, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		stores:    stores,
		resolver:  resolver,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
	}
}

// Reconcile applies one decoded notification.
func (r *Reconciler) Reconcile(ctx context.Context, event *entity.Event) (Outcome, error) {
	if event.Inert() {
		return skipped("notification carries no transaction"), nil
	}
	if err := r.prepare(ctx, event); err != nil {
		return Outcome{}, err
	}

	var out Outcome
	err := r.stores.Transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.dispatch(ctx, event)
		return err
	})
	if err != nil {
		return Outcome{}, err
	}

	r.publishOutcome(ctx, event, out)
	return out, nil
}

// Subscribe runs the purchase transition for a verified client purchase on
// behalf of owner, which must already be resolved.
func (r *Reconciler) Subscribe(ctx context.Context, event *entity.Event, owner *model.User) (Outcome, error) {
	if event.Inert() {
		return Outcome{}, fmt.Errorf("%w: purchase without transaction", domainErrors.ErrPaymentNotFound)
	}
	if err := r.prepare(ctx, event); err != nil {
		return Outcome{}, err
	}

	var out Outcome
	err := r.stores.Transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.subscribe(ctx, event, subscribeOptions{owner: owner})
		return err
	})
	if err != nil {
		return Outcome{}, err
	}

	r.publishOutcome(ctx, event, out)
	return out, nil
}

// prepare validates the transaction and records it in the ledger.
func (r *Reconciler) prepare(ctx context.Context, event *entity.Event) error {
	tx := event.Transaction
	if tx.Quantity != 1 {
		return fmt.Errorf("%w: %d", domainErrors.ErrInvalidQuantity, tx.Quantity)
	}
	if _, err := r.stores.Ledger.Upsert(ctx, tx.OriginalTransactionID, event.LatestReceipt); err != nil {
		return err
	}
	return nil
}

func (r *Reconciler) dispatch(ctx context.Context, event *entity.Event) (Outcome, error) {
	switch event.NotificationType {
	case entity.TypeSubscribed, entity.TypeInitialBuy:
		return r.subscribe(ctx, event, subscribeOptions{})
	case entity.TypeDidRenew, entity.TypeRenewal, entity.TypeDidRecover, entity.TypeInteractiveRenewal:
		return r.renew(ctx, event)
	case entity.TypeDidChangeRenewalPref:
		switch event.Subtype {
		case entity.SubtypeDowngrade:
			return r.downgrade(ctx, event)
		case entity.SubtypeUpgrade:
			return r.upgrade(ctx, event)
		default:
			return r.revertPlanChange(ctx, event)
		}
	case entity.TypeDidChangeRenewalStatus:
		return r.changeRenewalStatus(ctx, event)
	case entity.TypeExpired:
		return r.expire(ctx, event)
	case entity.TypeDidFailToRenew:
		return r.failToRenew(ctx, event)
	case entity.TypeRefund:
		return r.refund(ctx, event)
	case entity.TypeRefundReversed:
		return r.reverseRefund(ctx, event)
	case entity.TypeConsumptionRequest, entity.TypeRefundDeclined, entity.TypeTest:
		return skipped("notification type needs no ledger change"), nil
	default:
		return Outcome{}, fmt.Errorf("%w: %s", domainErrors.ErrUnknownNotificationType, event.NotificationType)
	}
}

// subscriptionType maps a product id to its plan; an unmapped product is a hard error.
func (r *Reconciler) subscriptionType(ctx context.Context, productID string) (*model.SubscriptionType, error) {
	st, err := r.stores.SubscriptionTypes.GetByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrUnknownProduct, productID)
	}
	return st, nil
}

// lastPayment is the most recent payment of the chain, preferring payments for the plan of the
// event's product. None is a hard error.
func (r *Reconciler) lastPayment(ctx context.Context, event *entity.Event) (*model.Payment, error) {
	cid := event.OriginalTransactionID()

	var planID *int64
	if tx := event.Transaction; tx != nil && tx.ProductID != "" {
		st, err := r.stores.SubscriptionTypes.GetByProductID(ctx, tx.ProductID)
		if err != nil {
			return nil, err
		}
		if st != nil {
			planID = &st.ID
		}
	}

	payment, err := r.stores.Payments.GetLastByOriginalTransactionID(ctx, cid, planID)
	if err != nil {
		return nil, err
	}
	if payment == nil && planID != nil {
		payment, err = r.stores.Payments.GetLastByOriginalTransactionID(ctx, cid, nil)
		if err != nil {
			return nil, err
		}
	}
	if payment == nil {
		return nil, fmt.Errorf("%w: original transaction %s", domainErrors.ErrPaymentNotFound, cid)
	}
	return payment, nil
}

// createPayment records a settled payment with the access window it grants.
func (r *Reconciler) createPayment(ctx context.Context, userID int64, st *model.SubscriptionType, tx *entity.TransactionInfo, kind model.SubscriptionKind) (*model.Payment, error) {
	start := tx.PurchaseDate
	end := tx.ExpiresDate
	if end.IsZero() {
		end = start.AddDate(0, 0, st.LengthDays)
	}

	subscription := &model.Subscription{
		UserID:             userID,
		SubscriptionTypeID: st.ID,
		Kind:               kind,
		StartTime:          start,
		EndTime:            end,
	}
	if err := r.stores.Subscriptions.Create(ctx, subscription); err != nil {
		return nil, err
	}

	amount := st.Price
	if tx.IsTrial {
		amount = decimal.Zero
	}
	paidAt := r.clock.Now()

	payment := &model.Payment{
		UserID:              userID,
		SubscriptionTypeID:  st.ID,
		SubscriptionID:      &subscription.ID,
		Status:              model.PaymentStatusPrepaid,
		Amount:              amount,
		SubscriptionStartAt: &start,
		SubscriptionEndAt:   &end,
		PaidAt:              &paidAt,
		Meta: []model.PaymentMeta{
			{Key: model.PaymentMetaOriginalTransactionID, Value: tx.OriginalTransactionID},
			{Key: model.PaymentMetaTransactionID, Value: tx.TransactionID},
			{Key: model.PaymentMetaProductID, Value: tx.ProductID},
		},
	}
	if err := r.stores.Payments.Create(ctx, payment); err != nil {
		return nil, err
	}
	payment.Subscription = subscription

	r.logger.Info("Payment created",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("user_id", userID),
		zap.String("original_transaction_id", tx.OriginalTransactionID),
		zap.String("transaction_id", tx.TransactionID),
		zap.String("kind", string(kind)))
	return payment, nil
}

// createHead starts a new renewal chain node for payment.
func (r *Reconciler) createHead(ctx context.Context, payment *model.Payment, cid string, chargeAt time.Time) (*model.RecurrentCharge, error) {
	head := &model.RecurrentCharge{
		Cid:                cid,
		ParentPaymentID:    payment.ID,
		UserID:             payment.UserID,
		SubscriptionTypeID: payment.SubscriptionTypeID,
		State:              model.RecurrentChargeActive,
		ChargeAt:           chargeAt,
	}
	if err := r.stores.Charges.Create(ctx, head); err != nil {
		return nil, err
	}
	return head, nil
}

func (r *Reconciler) setChargeState(ctx context.Context, charge *model.RecurrentCharge, state model.RecurrentChargeState) error {
	from := charge.State
	charge.State = state
	if err := r.stores.Charges.Update(ctx, charge); err != nil {
		return err
	}
	r.logger.Info("Recurrent charge state changed",
		zap.Int64("recurrent_charge_id", charge.ID),
		zap.String("cid", charge.Cid),
		zap.String("from", string(from)),
		zap.String("to", string(state)))
	return nil
}

// subscriptionEnd is the current end of the access window payment granted.
func (r *Reconciler) subscriptionEnd(ctx context.Context, payment *model.Payment) (*time.Time, error) {
	if payment.SubscriptionID != nil {
		subscription, err := r.stores.Subscriptions.GetByID(ctx, *payment.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if subscription != nil {
			return &subscription.EndTime, nil
		}
	}
	return payment.SubscriptionEndAt, nil
}

func (r *Reconciler) audit(ctx context.Context, action string, payment *model.Payment, from, to model.PaymentStatus, metadata model.JSONB) error {
	return r.stores.AuditLogs.Create(ctx, &model.AuditLog{
		UserID:    &payment.UserID,
		Action:    action,
		Table:     model.Payment{}.TableName(),
		RecordID:  &payment.ID,
		OldValues: model.JSONB{"status": string(from)},
		NewValues: model.JSONB{"status": string(to)},
		Metadata:  metadata,
	})
}

func (r *Reconciler) publishOutcome(ctx context.Context, event *entity.Event, out Outcome) {
	if r.publisher == nil {
		return
	}
	now := r.clock.Now()
	cid := event.OriginalTransactionID()

	msg := &entity.ReconciliationEvent{
		Kind:                  entity.ReconciliationKindNotification,
		OriginalTransactionID: cid,
		NotificationType:      event.NotificationType,
		Subtype:               event.Subtype,
		Status:                string(out.Kind),
		OccurredAt:            now,
	}
	if out.Payment != nil {
		msg.PaymentID = &out.Payment.ID
		msg.UserID = &out.Payment.UserID
	}
	r.publish(ctx, msg)

	if out.Settled != nil {
		r.publish(ctx, &entity.ReconciliationEvent{
			Kind:                  entity.ReconciliationKindCharge,
			OriginalTransactionID: cid,
			Status:                string(out.Settled.State),
			PaymentID:             out.Settled.PaymentID,
			RecurrentChargeID:     &out.Settled.ID,
			UserID:                &out.Settled.UserID,
			OccurredAt:            now,
		})
	}
}

func (r *Reconciler) publish(ctx context.Context, msg *entity.ReconciliationEvent) {
	if err := r.publisher.Publish(ctx, msg); err != nil {
		r.logger.Warn("Failed to publish reconciliation event",
			zap.String("kind", msg.Kind),
			zap.String("original_transaction_id", msg.OriginalTransactionID),
			zap.Error(err))
	}
}
