package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/appstore-reconciler/internal/domain/errors"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/provider"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// EventReconciler applies decoded events. Implemented by Reconciler.
type EventReconciler interface {
	Reconcile(ctx context.Context, event *entity.Event) (Outcome, error)
}

// NotificationProcessor is the queue consumer: decode, lock, reconcile, log.
type NotificationProcessor struct {
	decoders   map[entity.NotificationVersion]provider.NotificationDecoder
	reconciler EventReconciler
	locker     provider.Locker
	logs       repository.NotificationLogRepository
	logger     *zap.Logger
}

// NewNotificationProcessor creates a processor handling the versions of the given decoders
func NewNotificationProcessor(
	decoders []provider.NotificationDecoder,
	reconciler EventReconciler,
	locker provider.Locker,
	logs repository.NotificationLogRepository,
	logger *zap.Logger,
) *NotificationProcessor {
	byVersion := make(map[entity.NotificationVersion]provider.NotificationDecoder, len(decoders))
	for _, d := range decoders {
		byVersion[d.Version()] = d
	}
	return &NotificationProcessor{
		decoders:   byVersion,
		reconciler: reconciler,
		locker:     locker,
		logs:       logs,
		logger:     logger,
	}
}

// Handle processes one delivery. It returns false when the delivery should be retried.
func (p *NotificationProcessor) Handle(ctx context.Context, msg *entity.QueuedNotification) bool {
	logger := p.logger.With(zap.String("queue_id", msg.ID), zap.String("version", string(msg.Version)))

	var event *entity.Event
	var decodeErr error
	if decoder, ok := p.decoders[msg.Version]; ok {
		event, decodeErr = decoder.Decode(ctx, msg.Payload)
	} else {
		decodeErr = domainErrors.NewDecodeError(string(msg.Version), "unsupported notification version", nil)
	}

	entry := newNotificationLog(msg, event)
	if err := p.logs.Create(ctx, entry); err != nil {
		logger.Error("Failed to record notification", zap.Error(err))
		return false
	}

	if decodeErr != nil {
		logger.Error("Failed to decode notification", zap.Error(decodeErr))
		p.mark(ctx, entry, model.NotificationLogError, nil, decodeErr)
		return false
	}

	cid := event.OriginalTransactionID()
	logger = logger.With(
		zap.String("notification_type", event.NotificationType),
		zap.String("subtype", event.Subtype),
		zap.String("original_transaction_id", cid))

	if event.Inert() {
		logger.Info("Notification carries no transaction")
		p.mark(ctx, entry, model.NotificationLogProcessed, nil, nil)
		return true
	}

	out, err := p.reconcileLocked(ctx, event)
	if err != nil {
		if IsHardError(err) {
			logger.Error("Failed to reconcile notification", zap.Error(err))
		} else {
			logger.Warn("Notification reconciliation interrupted, will retry", zap.Error(err))
		}
		p.mark(ctx, entry, model.NotificationLogError, nil, err)
		return false
	}

	var paymentID *int64
	if out.Payment != nil {
		paymentID = &out.Payment.ID
	}

	switch out.Kind {
	case OutcomeDoNotRetry:
		logger.Warn("Notification will not be retried", zap.String("reason", out.Reason))
		p.mark(ctx, entry, model.NotificationLogDoNotRetry, paymentID, nil)
	default:
		logger.Info("Notification reconciled",
			zap.String("outcome", string(out.Kind)),
			zap.String("reason", out.Reason))
		p.mark(ctx, entry, model.NotificationLogProcessed, paymentID, nil)
	}
	return true
}

func (p *NotificationProcessor) reconcileLocked(ctx context.Context, event *entity.Event) (Outcome, error) {
	lock, err := p.locker.Acquire(ctx, LockKey(event.OriginalTransactionID()))
	if err != nil {
		return Outcome{}, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("Failed to release transaction lock",
				zap.String("original_transaction_id", event.OriginalTransactionID()),
				zap.Error(err))
		}
	}()
	return p.reconciler.Reconcile(ctx, event)
}

func (p *NotificationProcessor) mark(ctx context.Context, entry *model.NotificationLog, status model.NotificationLogStatus, paymentID *int64, cause error) {
	var message *string
	if cause != nil {
		s := cause.Error()
		message = &s
	}
	if err := p.logs.MarkStatus(ctx, entry.ID, status, paymentID, message); err != nil {
		p.logger.Error("Failed to update notification log",
			zap.Int64("notification_log_id", entry.ID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

func newNotificationLog(msg *entity.QueuedNotification, event *entity.Event) *model.NotificationLog {
	payload := msg.Payload
	if !json.Valid(payload) {
		// keep undecodable bodies as a JSON string
		payload, _ = json.Marshal(string(msg.Payload))
	}

	entry := &model.NotificationLog{
		Version: string(msg.Version),
		Payload: datatypes.JSON(payload),
		Status:  model.NotificationLogNew,
	}
	if event == nil {
		return entry
	}

	entry.NotificationType = event.NotificationType
	entry.Subtype = event.Subtype
	if event.NotificationUUID != "" {
		id := event.NotificationUUID
		entry.NotificationUUID = &id
	}
	if cid := event.OriginalTransactionID(); cid != "" {
		entry.OriginalTransactionID = &cid
	}
	return entry
}

// IsHardError reports whether err is a reconciliation failure that retrying cannot fix
// without outside intervention.
func IsHardError(err error) bool {
	for _, target := range []error{
		domainErrors.ErrInvalidQuantity,
		domainErrors.ErrPaymentNotFound,
		domainErrors.ErrMultipleUsersForTransaction,
		domainErrors.ErrOverlappingSubscription,
		domainErrors.ErrUnknownNotificationType,
		domainErrors.ErrUnknownProduct,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
