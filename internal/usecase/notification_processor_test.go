package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/appstore-reconciler/internal/domain/errors"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/provider"
	"github.com/wekeepgrowing/appstore-reconciler/internal/usecase"
	"go.uber.org/zap"
)

// MockDecoder is a mock implementation of NotificationDecoder
type MockDecoder struct {
	mock.Mock
	version entity.NotificationVersion
}

func (m *MockDecoder) Decode(ctx context.Context, raw []byte) (*entity.Event, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Event), args.Error(1)
}

func (m *MockDecoder) Version() entity.NotificationVersion {
	return m.version
}

// MockReconciler is a mock implementation of EventReconciler
type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Reconcile(ctx context.Context, event *entity.Event) (usecase.Outcome, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(usecase.Outcome), args.Error(1)
}

func queued(version entity.NotificationVersion, payload string) *entity.QueuedNotification {
	return &entity.QueuedNotification{ID: "q-1", Version: version, Payload: []byte(payload)}
}

func TestNotificationProcessor_Handle(t *testing.T) {
	payload := `{"signedPayload":"x"}`
	subscribed := event(entity.TypeSubscribed, entity.SubtypeInitialBuy, transaction("1000", monthly, now))
	paymentID := int64(42)

	tests := []struct {
		name        string
		msg         *entity.QueuedNotification
		setup       func(*MockDecoder, *MockReconciler, *fakeLocker)
		wantAck     bool
		wantStatus  model.NotificationLogStatus
		wantPayment *int64
		wantError   bool
		wantLocked  bool
	}{
		{
			name: "applied",
			msg:  queued(entity.NotificationV2, payload),
			setup: func(d *MockDecoder, r *MockReconciler, _ *fakeLocker) {
				d.On("Decode", mock.Anything, []byte(payload)).Return(subscribed, nil)
				r.On("Reconcile", mock.Anything, subscribed).
					Return(usecase.Outcome{Kind: usecase.OutcomeApplied, Payment: &model.Payment{ID: paymentID}}, nil)
			},
			wantAck:     true,
			wantStatus:  model.NotificationLogProcessed,
			wantPayment: &paymentID,
			wantLocked:  true,
		},
		{
			name: "do not retry",
			msg:  queued(entity.NotificationV2, payload),
			setup: func(d *MockDecoder, r *MockReconciler, _ *fakeLocker) {
				d.On("Decode", mock.Anything, []byte(payload)).Return(subscribed, nil)
				r.On("Reconcile", mock.Anything, subscribed).
					Return(usecase.Outcome{Kind: usecase.OutcomeDoNotRetry, Payment: &model.Payment{ID: paymentID}}, nil)
			},
			wantAck:     true,
			wantStatus:  model.NotificationLogDoNotRetry,
			wantPayment: &paymentID,
			wantLocked:  true,
		},
		{
			name: "inert event is not reconciled",
			msg:  queued(entity.NotificationV2, payload),
			setup: func(d *MockDecoder, _ *MockReconciler, _ *fakeLocker) {
				d.On("Decode", mock.Anything, []byte(payload)).
					Return(&entity.Event{Version: entity.NotificationV2, NotificationType: entity.TypeTest}, nil)
			},
			wantAck:    true,
			wantStatus: model.NotificationLogProcessed,
		},
		{
			name: "decode failure",
			msg:  queued(entity.NotificationV2, payload),
			setup: func(d *MockDecoder, _ *MockReconciler, _ *fakeLocker) {
				d.On("Decode", mock.Anything, []byte(payload)).
					Return(nil, domainErrors.NewDecodeError("v2", "signature verification failed", nil))
			},
			wantStatus: model.NotificationLogError,
			wantError:  true,
		},
		{
			name:       "unsupported version",
			msg:        queued("v3", payload),
			setup:      func(*MockDecoder, *MockReconciler, *fakeLocker) {},
			wantStatus: model.NotificationLogError,
			wantError:  true,
		},
		{
			name: "hard reconciliation error",
			msg:  queued(entity.NotificationV2, payload),
			setup: func(d *MockDecoder, r *MockReconciler, _ *fakeLocker) {
				d.On("Decode", mock.Anything, []byte(payload)).Return(subscribed, nil)
				r.On("Reconcile", mock.Anything, subscribed).Return(usecase.Outcome{}, domainErrors.ErrUnknownProduct)
			},
			wantStatus: model.NotificationLogError,
			wantError:  true,
			wantLocked: true,
		},
		{
			name: "lock unavailable",
			msg:  queued(entity.NotificationV2, payload),
			setup: func(d *MockDecoder, _ *MockReconciler, l *fakeLocker) {
				d.On("Decode", mock.Anything, []byte(payload)).Return(subscribed, nil)
				l.err = domainErrors.ErrLockTimeout
			},
			wantStatus: model.NotificationLogError,
			wantError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			decoder := &MockDecoder{version: entity.NotificationV2}
			reconciler := &MockReconciler{}
			locker := newFakeLocker()
			tt.setup(decoder, reconciler, locker)

			processor := usecase.NewNotificationProcessor(
				[]provider.NotificationDecoder{decoder}, reconciler, locker, store.stores().NotificationLogs, zap.NewNop())

			ack := processor.Handle(context.Background(), tt.msg)
			assert.Equal(t, tt.wantAck, ack)

			require.Len(t, store.logs, 1)
			entry := store.logs[0]
			assert.Equal(t, tt.wantStatus, entry.Status)
			assert.Equal(t, string(tt.msg.Version), entry.Version)
			assert.Equal(t, tt.wantPayment, entry.PaymentID)
			assert.Equal(t, tt.wantError, entry.ErrorMessage != nil)

			if tt.wantLocked {
				assert.Equal(t, []string{usecase.LockKey(cid)}, locker.acquired)
				assert.Empty(t, locker.held)
			} else {
				assert.Empty(t, locker.acquired)
			}

			decoder.AssertExpectations(t)
			reconciler.AssertExpectations(t)
		})
	}
}

func TestNotificationProcessor_RecordsEventFields(t *testing.T) {
	store := newMemoryStore()
	e := event(entity.TypeDidRenew, "", transaction("1001", monthly, now))
	e.NotificationUUID = "7e3fb20b-4cdb-47cc-936d-99d65f608138"

	decoder := &MockDecoder{version: entity.NotificationV2}
	decoder.On("Decode", mock.Anything, mock.Anything).Return(e, nil)
	reconciler := &MockReconciler{}
	reconciler.On("Reconcile", mock.Anything, e).Return(usecase.Outcome{Kind: usecase.OutcomeSkipped}, nil)

	processor := usecase.NewNotificationProcessor(
		[]provider.NotificationDecoder{decoder}, reconciler, newFakeLocker(), store.stores().NotificationLogs, zap.NewNop())
	require.True(t, processor.Handle(context.Background(), queued(entity.NotificationV2, `{}`)))

	entry := store.logs[0]
	assert.Equal(t, entity.TypeDidRenew, entry.NotificationType)
	require.NotNil(t, entry.OriginalTransactionID)
	assert.Equal(t, cid, *entry.OriginalTransactionID)
	require.NotNil(t, entry.NotificationUUID)
	assert.Equal(t, e.NotificationUUID, *entry.NotificationUUID)
	assert.Nil(t, entry.PaymentID)
}

func TestNotificationProcessor_StoresInvalidJSONAsString(t *testing.T) {
	store := newMemoryStore()
	decoder := &MockDecoder{version: entity.NotificationV1}
	decoder.On("Decode", mock.Anything, mock.Anything).Return(nil, domainErrors.NewDecodeError("v1", "malformed body", errors.New("bad json")))

	processor := usecase.NewNotificationProcessor(
		[]provider.NotificationDecoder{decoder}, &MockReconciler{}, newFakeLocker(), store.stores().NotificationLogs, zap.NewNop())
	assert.False(t, processor.Handle(context.Background(), queued(entity.NotificationV1, "not json")))

	assert.JSONEq(t, `"not json"`, string(store.logs[0].Payload))
}

func TestNotificationProcessor_EndToEnd(t *testing.T) {
	h := newHarness()
	locker := newFakeLocker()
	e := event(entity.TypeSubscribed, "", transaction("1000", monthly, now))

	decoder := &MockDecoder{version: entity.NotificationV2}
	decoder.On("Decode", mock.Anything, mock.Anything).Return(e, nil)

	processor := usecase.NewNotificationProcessor(
		[]provider.NotificationDecoder{decoder}, h.reconciler, locker, h.store.stores().NotificationLogs, zap.NewNop())

	require.True(t, processor.Handle(context.Background(), queued(entity.NotificationV2, `{}`)))
	require.True(t, processor.Handle(context.Background(), queued(entity.NotificationV2, `{}`)))

	require.Len(t, h.store.logs, 2)
	assert.Equal(t, model.NotificationLogProcessed, h.store.logs[0].Status)
	assert.Equal(t, model.NotificationLogDoNotRetry, h.store.logs[1].Status)
	assert.Equal(t, *h.store.logs[0].PaymentID, *h.store.logs[1].PaymentID)
	assert.Len(t, h.store.paymentsFor(cid), 1)
}

func TestIsHardError(t *testing.T) {
	assert.True(t, usecase.IsHardError(domainErrors.ErrPaymentNotFound))
	assert.True(t, usecase.IsHardError(errors.Join(errors.New("renewal"), domainErrors.ErrOverlappingSubscription)))
	assert.False(t, usecase.IsHardError(domainErrors.ErrLockTimeout))
	assert.False(t, usecase.IsHardError(context.DeadlineExceeded))
}
