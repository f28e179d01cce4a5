package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/appstore-reconciler/internal/domain/errors"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
	"go.uber.org/zap"
)

type subscribeOptions struct {
	// owner skips user resolution when set
	owner *model.User
}

func (r *Reconciler) subscribe(ctx context.Context, event *entity.Event, opts subscribeOptions) (Outcome, error) {
	tx := event.Transaction

	existing, err := r.stores.Payments.GetByTransactionID(ctx, tx.TransactionID)
	if err != nil {
		return Outcome{}, err
	}
	if existing != nil {
		return Outcome{Kind: OutcomeDoNotRetry, Payment: existing, Reason: "transaction already processed"}, nil
	}
	if tx.Expired(r.clock.Now()) {
		return skipped("transaction already expired"), nil
	}

	st, err := r.subscriptionType(ctx, tx.ProductID)
	if err != nil {
		return Outcome{}, err
	}

	user := opts.owner
	if user == nil {
		if user, err = r.resolver.Resolve(ctx, tx); err != nil {
			return Outcome{}, err
		}
	}

	// a new purchase replaces whatever chain was still running for the cid
	usable, err := r.stores.Charges.ListUsableByCid(ctx, tx.OriginalTransactionID)
	if err != nil {
		return Outcome{}, err
	}
	for _, node := range usable {
		if err := r.setChargeState(ctx, node, model.RecurrentChargeSystemStop); err != nil {
			return Outcome{}, err
		}
	}

	payment, err := r.createPayment(ctx, user.ID, st, tx, model.SubscriptionKindRegular)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := r.createHead(ctx, payment, tx.OriginalTransactionID, *payment.SubscriptionEndAt); err != nil {
		return Outcome{}, err
	}
	return applied(payment), nil
}

func (r *Reconciler) renew(ctx context.Context, event *entity.Event) (Outcome, error) {
	tx := event.Transaction

	existing, err := r.stores.Payments.GetByTransactionID(ctx, tx.TransactionID)
	if err != nil {
		return Outcome{}, err
	}
	if existing != nil {
		return Outcome{Kind: OutcomeApplied, Payment: existing, Reason: "transaction already processed"}, nil
	}

	st, err := r.subscriptionType(ctx, tx.ProductID)
	if err != nil {
		return Outcome{}, err
	}

	head, err := r.stores.Charges.GetLastByCid(ctx, tx.OriginalTransactionID, nil)
	if err != nil {
		return Outcome{}, err
	}

	if head != nil && head.State != model.RecurrentChargeCharged {
		headPayment, err := r.stores.Payments.GetByID(ctx, head.ParentPaymentID)
		if err != nil {
			return Outcome{}, err
		}
		if headPayment != nil && headPayment.SubscriptionEndAt != nil && headPayment.SubscriptionEndAt.After(tx.PurchaseDate) {
			return Outcome{}, fmt.Errorf("%w: payment %d ends %s, renewal %s starts %s",
				domainErrors.ErrOverlappingSubscription, headPayment.ID,
				headPayment.SubscriptionEndAt.Format(time.RFC3339),
				tx.TransactionID, tx.PurchaseDate.Format(time.RFC3339))
		}
		return r.settle(ctx, head, st, tx)
	}

	r.logger.Warn("Renewal without usable chain head, starting a new chain",
		zap.String("original_transaction_id", tx.OriginalTransactionID),
		zap.String("transaction_id", tx.TransactionID))

	user, err := r.resolver.Resolve(ctx, tx)
	if err != nil {
		return Outcome{}, err
	}
	payment, err := r.createPayment(ctx, user.ID, st, tx, model.SubscriptionKindRegular)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := r.createHead(ctx, payment, tx.OriginalTransactionID, *payment.SubscriptionEndAt); err != nil {
		return Outcome{}, err
	}
	return applied(payment), nil
}

// settle charges the chain head with a renewal payment and moves the chain forward.
func (r *Reconciler) settle(ctx context.Context, head *model.RecurrentCharge, st *model.SubscriptionType, tx *entity.TransactionInfo) (Outcome, error) {
	payment, err := r.createPayment(ctx, head.UserID, st, tx, model.SubscriptionKindRegular)
	if err != nil {
		return Outcome{}, err
	}

	head.PaymentID = &payment.ID
	if err := r.setChargeState(ctx, head, model.RecurrentChargeCharged); err != nil {
		return Outcome{}, err
	}
	if _, err := r.createHead(ctx, payment, tx.OriginalTransactionID, *payment.SubscriptionEndAt); err != nil {
		return Outcome{}, err
	}

	return Outcome{Kind: OutcomeApplied, Payment: payment, Settled: head}, nil
}

func (r *Reconciler) downgrade(ctx context.Context, event *entity.Event) (Outcome, error) {
	cid := event.OriginalTransactionID()
	payment, err := r.lastPayment(ctx, event)
	if err != nil {
		return Outcome{}, err
	}
	if event.Renewal == nil || event.Renewal.AutoRenewProductID == "" {
		return Outcome{}, fmt.Errorf("%w: downgrade without auto renew product", domainErrors.ErrUnknownProduct)
	}
	next, err := r.subscriptionType(ctx, event.Renewal.AutoRenewProductID)
	if err != nil {
		return Outcome{}, err
	}

	head, err := r.stores.Charges.GetLastByCid(ctx, cid, nil)
	if err != nil {
		return Outcome{}, err
	}
	if head == nil {
		r.logger.Warn("Downgrade without renewal chain", zap.String("original_transaction_id", cid))
		return applied(payment), nil
	}

	head.NextSubscriptionTypeID = &next.ID
	if err := r.stores.Charges.Update(ctx, head); err != nil {
		return Outcome{}, err
	}
	return applied(payment), nil
}

func (r *Reconciler) upgrade(ctx context.Context, event *entity.Event) (Outcome, error) {
	tx := event.Transaction
	cid := tx.OriginalTransactionID

	upgraded, err := r.stores.Payments.GetByTransactionID(ctx, tx.TransactionID)
	if err != nil {
		return Outcome{}, err
	}

	var exclude *int64
	if upgraded != nil {
		exclude = &upgraded.ID
	}
	prior, err := r.stores.Charges.GetLastByCid(ctx, cid, exclude)
	if err != nil {
		return Outcome{}, err
	}

	st, err := r.subscriptionType(ctx, tx.ProductID)
	if err != nil {
		return Outcome{}, err
	}

	if upgraded == nil {
		user, err := r.resolver.Resolve(ctx, tx)
		if err != nil {
			return Outcome{}, err
		}
		if upgraded, err = r.createPayment(ctx, user.ID, st, tx, model.SubscriptionKindUpgrade); err != nil {
			return Outcome{}, err
		}
	}

	out := applied(upgraded)
	if prior == nil {
		r.logger.Warn("Upgrade without prior renewal chain", zap.String("original_transaction_id", cid))
	} else if prior.State != model.RecurrentChargeCharged {
		prior.PaymentID = &upgraded.ID
		prior.NextSubscriptionTypeID = &st.ID
		if err := r.setChargeState(ctx, prior, model.RecurrentChargeCharged); err != nil {
			return Outcome{}, err
		}
		if err := r.shortenPriorSubscription(ctx, prior.ParentPaymentID, tx); err != nil {
			return Outcome{}, err
		}
		out.Settled = prior
	}

	current, err := r.stores.Charges.GetLastByParentPaymentID(ctx, upgraded.ID)
	if err != nil {
		return Outcome{}, err
	}
	if current == nil {
		end := tx.ExpiresDate
		if upgraded.SubscriptionEndAt != nil {
			end = *upgraded.SubscriptionEndAt
		}
		if _, err := r.createHead(ctx, upgraded, cid, end); err != nil {
			return Outcome{}, err
		}
	}
	return out, nil
}

// shortenPriorSubscription ends the upgraded-from access window when the upgrade starts.
// The payment's granted end moves too, so a later refund reversal restores the shortened window.
func (r *Reconciler) shortenPriorSubscription(ctx context.Context, paymentID int64, tx *entity.TransactionInfo) error {
	payment, err := r.stores.Payments.GetByID(ctx, paymentID)
	if err != nil || payment == nil {
		return err
	}
	if payment.SubscriptionEndAt != nil && payment.SubscriptionEndAt.After(tx.PurchaseDate) {
		if err := r.stores.Payments.UpdateSubscriptionEnd(ctx, payment.ID, tx.PurchaseDate); err != nil {
			return err
		}
	}
	if payment.SubscriptionID == nil {
		return nil
	}
	subscription, err := r.stores.Subscriptions.GetByID(ctx, *payment.SubscriptionID)
	if err != nil {
		return err
	}
	if subscription == nil || !subscription.EndTime.After(tx.PurchaseDate) {
		return nil
	}
	return r.stores.Subscriptions.UpdateEndTime(ctx, subscription.ID, tx.PurchaseDate)
}

func (r *Reconciler) revertPlanChange(ctx context.Context, event *entity.Event) (Outcome, error) {
	cid := event.OriginalTransactionID()
	payment, err := r.lastPayment(ctx, event)
	if err != nil {
		return Outcome{}, err
	}

	head, err := r.stores.Charges.GetLastByCid(ctx, cid, nil)
	if err != nil {
		return Outcome{}, err
	}
	if head == nil {
		r.logger.Warn("Plan change revert without renewal chain", zap.String("original_transaction_id", cid))
		return applied(payment), nil
	}

	headPayment := payment
	if head.ParentPaymentID != payment.ID {
		if headPayment, err = r.stores.Payments.GetByID(ctx, head.ParentPaymentID); err != nil {
			return Outcome{}, err
		}
	}

	head.NextSubscriptionTypeID = nil
	if headPayment != nil {
		end, err := r.subscriptionEnd(ctx, headPayment)
		if err != nil {
			return Outcome{}, err
		}
		if end != nil {
			head.ChargeAt = *end
		}
	}
	if err := r.stores.Charges.Update(ctx, head); err != nil {
		return Outcome{}, err
	}
	return applied(payment), nil
}

func (r *Reconciler) changeRenewalStatus(ctx context.Context, event *entity.Event) (Outcome, error) {
	cid := event.OriginalTransactionID()
	payment, err := r.lastPayment(ctx, event)
	if err != nil {
		return Outcome{}, err
	}

	head, err := r.stores.Charges.GetLastByCid(ctx, cid, nil)
	if err != nil {
		return Outcome{}, err
	}
	if head == nil {
		r.logger.Warn("Renewal status change without renewal chain", zap.String("original_transaction_id", cid))
		return applied(payment), nil
	}

	switch event.Subtype {
	case entity.SubtypeAutoRenewEnabled:
		if head.State.IsStopped() {
			if err := r.setChargeState(ctx, head, model.RecurrentChargeActive); err != nil {
				return Outcome{}, err
			}
		}
	case entity.SubtypeAutoRenewDisabled:
		if head.State == model.RecurrentChargeActive {
			if err := r.setChargeState(ctx, head, model.RecurrentChargeSystemStop); err != nil {
				return Outcome{}, err
			}
		}
	}
	return applied(payment), nil
}

func (r *Reconciler) expire(ctx context.Context, event *entity.Event) (Outcome, error) {
	cid := event.OriginalTransactionID()
	payment, err := r.lastPayment(ctx, event)
	if err != nil {
		return Outcome{}, err
	}
	if payment.Status == model.PaymentStatusFail {
		return Outcome{Kind: OutcomeSkipped, Payment: payment, Reason: "last payment already failed"}, nil
	}

	if err := r.stopActiveHead(ctx, cid); err != nil {
		return Outcome{}, err
	}
	return applied(payment), nil
}

func (r *Reconciler) stopActiveHead(ctx context.Context, cid string) error {
	head, err := r.stores.Charges.GetLastByCid(ctx, cid, nil)
	if err != nil {
		return err
	}
	if head != nil && head.State == model.RecurrentChargeActive {
		return r.setChargeState(ctx, head, model.RecurrentChargeSystemStop)
	}
	return nil
}

func (r *Reconciler) failToRenew(ctx context.Context, event *entity.Event) (Outcome, error) {
	cid := event.OriginalTransactionID()
	payment, err := r.lastPayment(ctx, event)
	if err != nil {
		return Outcome{}, err
	}

	renewal := event.Renewal
	if renewal == nil {
		renewal = &entity.RenewalInfo{}
	}

	grace := event.Subtype == entity.SubtypeGracePeriod
	if grace {
		if renewal.GracePeriodExpiresDate == nil {
			r.logger.Warn("Grace period notification without grace period end", zap.String("original_transaction_id", cid))
		} else if err := r.grantGrace(ctx, payment, *renewal.GracePeriodExpiresDate, event.Transaction); err != nil {
			return Outcome{}, err
		}
	}

	head, err := r.stores.Charges.GetLastByCid(ctx, cid, nil)
	if err != nil {
		return Outcome{}, err
	}
	if head == nil {
		r.logger.Warn("Renewal failure without renewal chain", zap.String("original_transaction_id", cid))
		return applied(payment), nil
	}

	switch renewal.ExpirationIntent {
	case entity.ExpirationIntentCancelled, entity.ExpirationIntentPriceIncrease, entity.ExpirationIntentProductNotForSale:
		if head.State == model.RecurrentChargeActive || head.State == model.RecurrentChargeChargeFailed {
			if err := r.setChargeState(ctx, head, model.RecurrentChargeSystemStop); err != nil {
				return Outcome{}, err
			}
		}
	case entity.ExpirationIntentBillingError:
		if !grace && head.State == model.RecurrentChargeActive {
			if err := r.setChargeState(ctx, head, model.RecurrentChargeChargeFailed); err != nil {
				return Outcome{}, err
			}
		}
	}
	return applied(payment), nil
}

// grantGrace extends access until the grace period ends, once per grace end.
func (r *Reconciler) grantGrace(ctx context.Context, payment *model.Payment, graceEnd time.Time, tx *entity.TransactionInfo) error {
	exists, err := r.stores.Subscriptions.ExistsForUserEndingAt(ctx, payment.UserID, model.SubscriptionKindGrace, graceEnd)
	if err != nil || exists {
		return err
	}

	start := tx.ExpiresDate
	if payment.SubscriptionEndAt != nil {
		start = *payment.SubscriptionEndAt
	}
	note := "App Store billing grace period"
	return r.stores.Subscriptions.Create(ctx, &model.Subscription{
		UserID:             payment.UserID,
		SubscriptionTypeID: payment.SubscriptionTypeID,
		Kind:               model.SubscriptionKindGrace,
		StartTime:          start,
		EndTime:            graceEnd,
		Note:               &note,
	})
}

func (r *Reconciler) refund(ctx context.Context, event *entity.Event) (Outcome, error) {
	tx := event.Transaction
	payment, err := r.stores.Payments.GetByTransactionID(ctx, tx.TransactionID)
	if err != nil {
		return Outcome{}, err
	}
	if payment == nil {
		return Outcome{}, fmt.Errorf("%w: transaction %s", domainErrors.ErrPaymentNotFound, tx.TransactionID)
	}

	if payment.Status == model.PaymentStatusPrepaid {
		note := "refunded by App Store"
		if tx.RevocationReason != nil {
			note = fmt.Sprintf("refunded by App Store, reason %d", *tx.RevocationReason)
		}
		if err := r.stores.Payments.UpdateStatus(ctx, payment.ID, model.PaymentStatusRefund, &note); err != nil {
			return Outcome{}, err
		}
		if err := r.audit(ctx, model.AuditActionPaymentRefund, payment, model.PaymentStatusPrepaid, model.PaymentStatusRefund,
			model.JSONB{"transaction_id": tx.TransactionID, "note": note}); err != nil {
			return Outcome{}, err
		}
		payment.Status = model.PaymentStatusRefund
		payment.Note = &note
	}

	revokedAt := r.clock.Now()
	if tx.RevocationDate != nil {
		revokedAt = *tx.RevocationDate
	}
	if payment.SubscriptionID != nil {
		subscription, err := r.stores.Subscriptions.GetByID(ctx, *payment.SubscriptionID)
		if err != nil {
			return Outcome{}, err
		}
		if subscription != nil && subscription.EndTime.After(revokedAt) {
			if err := r.stores.Subscriptions.UpdateEndTime(ctx, subscription.ID, revokedAt); err != nil {
				return Outcome{}, err
			}
		}
	}

	if err := r.stopActiveHead(ctx, tx.OriginalTransactionID); err != nil {
		return Outcome{}, err
	}
	return applied(payment), nil
}

func (r *Reconciler) reverseRefund(ctx context.Context, event *entity.Event) (Outcome, error) {
	tx := event.Transaction
	payment, err := r.stores.Payments.GetByTransactionID(ctx, tx.TransactionID)
	if err != nil {
		return Outcome{}, err
	}
	if payment == nil {
		return Outcome{}, fmt.Errorf("%w: transaction %s", domainErrors.ErrPaymentNotFound, tx.TransactionID)
	}

	if payment.Status == model.PaymentStatusRefund {
		note := "refund reversed by App Store"
		if err := r.stores.Payments.UpdateStatus(ctx, payment.ID, model.PaymentStatusPrepaid, &note); err != nil {
			return Outcome{}, err
		}
		if err := r.audit(ctx, model.AuditActionPaymentReversal, payment, model.PaymentStatusRefund, model.PaymentStatusPrepaid,
			model.JSONB{"transaction_id": tx.TransactionID}); err != nil {
			return Outcome{}, err
		}
		payment.Status = model.PaymentStatusPrepaid
		payment.Note = &note
	}

	if payment.SubscriptionID != nil && payment.SubscriptionEndAt != nil {
		if err := r.stores.Subscriptions.UpdateEndTime(ctx, *payment.SubscriptionID, *payment.SubscriptionEndAt); err != nil {
			return Outcome{}, err
		}
	}

	// only the chain's most recent node may come back, and only if it still belongs to this payment
	head, err := r.stores.Charges.GetLastByCid(ctx, tx.OriginalTransactionID, nil)
	if err != nil {
		return Outcome{}, err
	}
	switch {
	case head == nil:
	case head.ParentPaymentID == payment.ID && head.State == model.RecurrentChargeSystemStop:
		if err := r.setChargeState(ctx, head, model.RecurrentChargeActive); err != nil {
			return Outcome{}, err
		}
	case head.ParentPaymentID != payment.ID:
		r.logger.Warn("Not restoring renewal chain, payment is no longer the chain head",
			zap.String("original_transaction_id", tx.OriginalTransactionID),
			zap.Int64("payment_id", payment.ID),
			zap.Int64("recurrent_charge_id", head.ID))
	}
	return applied(payment), nil
}
