package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/provider"
	"github.com/wekeepgrowing/appstore-reconciler/internal/usecase"
	"github.com/wekeepgrowing/appstore-reconciler/pkg/clock"
	"go.uber.org/zap"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	cid             = "1000"
	monthly         = "com.example.monthly"
	premium         = "com.example.premium"
	basic           = "com.example.basic"
	period          = 30 * 24 * time.Hour
	monthlyPrice    = "9.99"
	premiumPrice    = "19.99"
	basicPrice      = "4.99"
	lengthDays      = 30
	unmappedProduct = "com.example.unknown"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*entity.ReconciliationEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event *entity.ReconciliationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

type harness struct {
	store      *memoryStore
	clock      *clock.Fixed
	publisher  *recordingPublisher
	resolver   *usecase.UserResolver
	reconciler *usecase.Reconciler
	types      map[string]*model.SubscriptionType
}

func newHarness() *harness {
	store := newMemoryStore()
	h := &harness{
		store:     store,
		clock:     clock.NewFixed(now),
		publisher: &recordingPublisher{},
		types: map[string]*model.SubscriptionType{
			monthly: store.addProduct(monthly, monthlyPrice, lengthDays),
			premium: store.addProduct(premium, premiumPrice, lengthDays),
			basic:   store.addProduct(basic, basicPrice, lengthDays),
		},
	}
	stores := store.stores()
	h.resolver = usecase.NewUserResolver(stores.Users, stores.Payments, zap.NewNop())
	h.reconciler = usecase.NewReconciler(stores, h.resolver, h.publisher, h.clock, zap.NewNop())
	return h
}

// transaction builds a one period transaction purchased at purchase
func transaction(txID, productID string, purchase time.Time) *entity.TransactionInfo {
	return &entity.TransactionInfo{
		OriginalTransactionID: cid,
		TransactionID:         txID,
		ProductID:             productID,
		Quantity:              1,
		PurchaseDate:          purchase,
		OriginalPurchaseDate:  purchase,
		ExpiresDate:           purchase.Add(period),
	}
}

func event(notificationType, subtype string, tx *entity.TransactionInfo) *entity.Event {
	return &entity.Event{
		Version:          entity.NotificationV2,
		NotificationType: notificationType,
		Subtype:          subtype,
		Transaction:      tx,
	}
}

func (h *harness) reconcile(e *entity.Event) (usecase.Outcome, error) {
	return h.reconciler.Reconcile(context.Background(), e)
}

// usableCount counts active and charge_failed nodes of the chain
func (h *harness) usableCount() int {
	n := 0
	for _, c := range h.store.chargesFor(cid) {
		if c.State == model.RecurrentChargeActive || c.State == model.RecurrentChargeChargeFailed {
			n++
		}
	}
	return n
}

func (h *harness) head() model.RecurrentCharge {
	charges := h.store.chargesFor(cid)
	return charges[len(charges)-1]
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]chan struct{}
	acquired []string
	err      error
	// wait blocks a contended Acquire until release instead of panicking
	wait bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]chan struct{}{}}
}

type fakeLock struct {
	locker *fakeLocker
	key    string
}

func (l *fakeLocker) Acquire(ctx context.Context, key string) (provider.Lock, error) {
	for {
		l.mu.Lock()
		if l.err != nil {
			l.mu.Unlock()
			return nil, l.err
		}
		released, busy := l.held[key]
		if !busy {
			l.held[key] = make(chan struct{})
			l.acquired = append(l.acquired, key)
			l.mu.Unlock()
			return &fakeLock{locker: l, key: key}, nil
		}
		l.mu.Unlock()

		if !l.wait {
			panic("lock " + key + " acquired twice")
		}
		select {
		case <-released:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *fakeLock) Release(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if released, ok := l.locker.held[l.key]; ok {
		close(released)
		delete(l.locker.held, l.key)
	}
	return nil
}
