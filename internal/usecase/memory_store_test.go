package usecase_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
	"github.com/wekeepgrowing/appstore-reconciler/internal/usecase"
)

var errUsableConflict = errors.New("second usable recurrent charge for cid")

// memoryStore is an in-memory implementation of every repository the use cases need.
// Reads return copies, like rows loaded from a database.
type memoryStore struct {
	mu sync.Mutex

	nextID        int64
	ledger        map[string]model.OriginalTransaction
	payments      []model.Payment
	subscriptions map[int64]model.Subscription
	types         map[int64]model.SubscriptionType
	products      map[string]int64
	charges       []model.RecurrentCharge
	users         map[int64]model.User
	userMeta      []model.UserMeta
	deviceTokens  map[string]model.DeviceToken
	logs          []model.NotificationLog
	audits        []model.AuditLog
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		ledger:        map[string]model.OriginalTransaction{},
		subscriptions: map[int64]model.Subscription{},
		types:         map[int64]model.SubscriptionType{},
		products:      map[string]int64{},
		users:         map[int64]model.User{},
		deviceTokens:  map[string]model.DeviceToken{},
	}
}

func (m *memoryStore) stores() usecase.Stores {
	return usecase.Stores{
		Transactor:        memoryTransactor{},
		Ledger:            (*memoryLedger)(m),
		Payments:          (*memoryPayments)(m),
		Subscriptions:     (*memorySubscriptions)(m),
		SubscriptionTypes: (*memorySubscriptionTypes)(m),
		Charges:           (*memoryCharges)(m),
		Users:             (*memoryUsers)(m),
		DeviceTokens:      (*memoryDeviceTokens)(m),
		NotificationLogs:  (*memoryNotificationLogs)(m),
		AuditLogs:         (*memoryAuditLogs)(m),
	}
}

func (m *memoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// addProduct maps productID to a new subscription type
func (m *memoryStore) addProduct(productID string, price string, lengthDays int) *model.SubscriptionType {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := model.SubscriptionType{
		ID:         m.id(),
		Code:       productID,
		Name:       productID,
		Price:      decimal.RequireFromString(price),
		LengthDays: lengthDays,
		Active:     true,
	}
	m.types[st.ID] = st
	m.products[productID] = st.ID
	return &st
}

func (m *memoryStore) addUser(unclaimed bool) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := model.User{ID: m.id(), UUID: uuid.New(), Email: uuid.NewString() + "@example.com", Active: true, Unclaimed: unclaimed}
	m.users[u.ID] = u
	return &u
}

func (m *memoryStore) paymentsFor(cid string) []model.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Payment
	for _, p := range m.payments {
		if metaValue(p, model.PaymentMetaOriginalTransactionID) == cid {
			out = append(out, p)
		}
	}
	return out
}

func (m *memoryStore) chargesFor(cid string) []model.RecurrentCharge {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RecurrentCharge
	for _, c := range m.charges {
		if c.Cid == cid {
			out = append(out, c)
		}
	}
	return out
}

func (m *memoryStore) subscription(id int64) model.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions[id]
}

func (m *memoryStore) subscriptionsOf(userID int64) []model.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for id := int64(1); id <= m.nextID; id++ {
		if s, ok := m.subscriptions[id]; ok && s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

func (m *memoryStore) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, a := range m.audits {
		out = append(out, a.Action)
	}
	return out
}

func metaValue(p model.Payment, key string) string {
	return p.MetaValue(key)
}

type memoryTransactor struct{}

func (memoryTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memoryLedger memoryStore

func (l *memoryLedger) Upsert(ctx context.Context, cid string, receipt string) (*model.OriginalTransaction, error) {
	m := (*memoryStore)(l)
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.ledger[cid]
	if !ok {
		row = model.OriginalTransaction{ID: m.id(), OriginalTransactionID: cid}
	}
	if receipt != "" {
		row.LatestReceipt = &receipt
	}
	m.ledger[cid] = row
	return &row, nil
}

func (l *memoryLedger) GetByOriginalTransactionID(ctx context.Context, cid string) (*model.OriginalTransaction, error) {
	m := (*memoryStore)(l)
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.ledger[cid]; ok {
		return &row, nil
	}
	return nil, nil
}

type memoryPayments memoryStore

func (r *memoryPayments) Create(ctx context.Context, payment *model.Payment) error {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if txID := payment.MetaValue(model.PaymentMetaTransactionID); txID != "" {
		for _, p := range m.payments {
			if metaValue(p, model.PaymentMetaTransactionID) == txID {
				return errors.New("duplicate payment for transaction " + txID)
			}
		}
	}
	payment.ID = m.id()
	payment.CreatedAt = time.Unix(0, payment.ID)
	stored := *payment
	stored.Meta = append([]model.PaymentMeta(nil), payment.Meta...)
	stored.Subscription = nil
	m.payments = append(m.payments, stored)
	return nil
}

func (r *memoryPayments) find(match func(model.Payment) bool) *model.Payment {
	for i := len(r.payments) - 1; i >= 0; i-- {
		if match(r.payments[i]) {
			p := r.payments[i]
			p.Meta = append([]model.PaymentMeta(nil), p.Meta...)
			return &p
		}
	}
	return nil
}

func (r *memoryPayments) GetByID(ctx context.Context, id int64) (*model.Payment, error) {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	return r.find(func(p model.Payment) bool { return p.ID == id }), nil
}

func (r *memoryPayments) GetByTransactionID(ctx context.Context, txID string) (*model.Payment, error) {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	return r.find(func(p model.Payment) bool { return metaValue(p, model.PaymentMetaTransactionID) == txID }), nil
}

func (r *memoryPayments) GetLastByOriginalTransactionID(ctx context.Context, cid string, stID *int64) (*model.Payment, error) {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if stID != nil {
		if p := r.find(func(p model.Payment) bool {
			return metaValue(p, model.PaymentMetaOriginalTransactionID) == cid && p.SubscriptionTypeID == *stID
		}); p != nil {
			return p, nil
		}
	}
	return r.find(func(p model.Payment) bool { return metaValue(p, model.PaymentMetaOriginalTransactionID) == cid }), nil
}

func (r *memoryPayments) update(id int64, fn func(*model.Payment)) error {
	for i := range r.payments {
		if r.payments[i].ID == id {
			fn(&r.payments[i])
			return nil
		}
	}
	return errors.New("payment not found")
}

func (r *memoryPayments) UpdateStatus(ctx context.Context, id int64, status model.PaymentStatus, note *string) error {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	return r.update(id, func(p *model.Payment) {
		p.Status = status
		p.Note = note
	})
}

func (r *memoryPayments) UpdateSubscriptionEnd(ctx context.Context, id int64, end time.Time) error {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	return r.update(id, func(p *model.Payment) { p.SubscriptionEndAt = &end })
}

func (r *memoryPayments) SetMeta(ctx context.Context, paymentID int64, key, value string) error {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	return r.update(paymentID, func(p *model.Payment) {
		for i := range p.Meta {
			if p.Meta[i].Key == key {
				p.Meta[i].Value = value
				return
			}
		}
		p.Meta = append(p.Meta, model.PaymentMeta{PaymentID: paymentID, Key: key, Value: value})
	})
}

type memorySubscriptions memoryStore

func (r *memorySubscriptions) Create(ctx context.Context, s *model.Subscription) error {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.id()
	m.subscriptions[s.ID] = *s
	return nil
}

func (r *memorySubscriptions) GetByID(ctx context.Context, id int64) (*model.Subscription, error) {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subscriptions[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (r *memorySubscriptions) UpdateEndTime(ctx context.Context, id int64, end time.Time) error {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return errors.New("subscription not found")
	}
	s.EndTime = end
	m.subscriptions[id] = s
	return nil
}

func (r *memorySubscriptions) ExistsForUserEndingAt(ctx context.Context, userID int64, kind model.SubscriptionKind, end time.Time) (bool, error) {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subscriptions {
		if s.UserID == userID && s.Kind == kind && s.EndTime.Equal(end) {
			return true, nil
		}
	}
	return false, nil
}

type memorySubscriptionTypes memoryStore

func (r *memorySubscriptionTypes) GetByID(ctx context.Context, id int64) (*model.SubscriptionType, error) {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.types[id]; ok {
		return &st, nil
	}
	return nil, nil
}

func (r *memorySubscriptionTypes) GetByProductID(ctx context.Context, productID string) (*model.SubscriptionType, error) {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.products[productID]
	if !ok {
		return nil, nil
	}
	st := m.types[id]
	return &st, nil
}

func (r *memorySubscriptionTypes) Upsert(ctx context.Context, st *model.SubscriptionType, productID string) error {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.types {
		if existing.Code == st.Code {
			st.ID = id
		}
	}
	if st.ID == 0 {
		st.ID = m.id()
	}
	m.types[st.ID] = *st
	m.products[productID] = st.ID
	return nil
}

type memoryCharges memoryStore

func usable(s model.RecurrentChargeState) bool {
	return s == model.RecurrentChargeActive || s == model.RecurrentChargeChargeFailed
}

// checkUsable enforces the partial unique index on usable nodes per cid
func (r *memoryCharges) checkUsable(c model.RecurrentCharge) error {
	if !usable(c.State) {
		return nil
	}
	for _, other := range r.charges {
		if other.ID != c.ID && other.Cid == c.Cid && usable(other.State) {
			return errUsableConflict
		}
	}
	return nil
}

func (r *memoryCharges) Create(ctx context.Context, c *model.RecurrentCharge) error {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := r.checkUsable(*c); err != nil {
		return err
	}
	c.ID = m.id()
	m.charges = append(m.charges, *c)
	return nil
}

func (r *memoryCharges) Update(ctx context.Context, c *model.RecurrentCharge) error {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := r.checkUsable(*c); err != nil {
		return err
	}
	for i := range m.charges {
		if m.charges[i].ID == c.ID {
			m.charges[i] = *c
			return nil
		}
	}
	return errors.New("recurrent charge not found")
}

func (r *memoryCharges) last(match func(model.RecurrentCharge) bool) *model.RecurrentCharge {
	for i := len(r.charges) - 1; i >= 0; i-- {
		if match(r.charges[i]) {
			c := r.charges[i]
			return &c
		}
	}
	return nil
}

func (r *memoryCharges) GetLastByCid(ctx context.Context, cid string, exclude *int64) (*model.RecurrentCharge, error) {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	return r.last(func(c model.RecurrentCharge) bool {
		return c.Cid == cid && (exclude == nil || c.ParentPaymentID != *exclude)
	}), nil
}

func (r *memoryCharges) GetLastByParentPaymentID(ctx context.Context, paymentID int64) (*model.RecurrentCharge, error) {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	return r.last(func(c model.RecurrentCharge) bool { return c.ParentPaymentID == paymentID }), nil
}

func (r *memoryCharges) ListUsableByCid(ctx context.Context, cid string) ([]*model.RecurrentCharge, error) {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RecurrentCharge
	for _, c := range m.charges {
		if c.Cid == cid && usable(c.State) {
			c := c
			out = append(out, &c)
		}
	}
	return out, nil
}

type memoryUsers memoryStore

func (r *memoryUsers) GetByID(ctx context.Context, id int64) (*model.User, error) {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (r *memoryUsers) GetByUUID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.UUID == id {
			return &u, nil
		}
	}
	return nil, nil
}

func (r *memoryUsers) FindByMeta(ctx context.Context, key, value string) ([]*model.User, error) {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.User
	for _, meta := range m.userMeta {
		if meta.Key == key && meta.Value == value {
			u := m.users[meta.UserID]
			out = append(out, &u)
		}
	}
	return out, nil
}

func (r *memoryUsers) CreateUnclaimed(ctx context.Context, email string, cid string) (*model.User, error) {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	u := model.User{ID: m.id(), UUID: uuid.New(), Email: email, Active: true, Unclaimed: true}
	m.users[u.ID] = u
	m.userMeta = append(m.userMeta, model.UserMeta{ID: m.id(), UserID: u.ID, Key: model.UserMetaOriginalTransactionID, Value: cid})
	return &u, nil
}

func (r *memoryUsers) SetMeta(ctx context.Context, userID int64, key, value string) error {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, meta := range m.userMeta {
		if meta.UserID == userID && meta.Key == key && meta.Value == value {
			return nil
		}
	}
	m.userMeta = append(m.userMeta, model.UserMeta{ID: m.id(), UserID: userID, Key: key, Value: value})
	return nil
}

func (r *memoryUsers) Claim(ctx context.Context, unclaimedID, claimedID int64) error {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.payments {
		if m.payments[i].UserID == unclaimedID {
			m.payments[i].UserID = claimedID
		}
	}
	for id, s := range m.subscriptions {
		if s.UserID == unclaimedID {
			s.UserID = claimedID
			m.subscriptions[id] = s
		}
	}
	for i := range m.charges {
		if m.charges[i].UserID == unclaimedID {
			m.charges[i].UserID = claimedID
		}
	}
	for i := range m.userMeta {
		if m.userMeta[i].UserID == unclaimedID {
			m.userMeta[i].UserID = claimedID
		}
	}
	for token, dt := range m.deviceTokens {
		if dt.UserID != nil && *dt.UserID == unclaimedID {
			id := claimedID
			dt.UserID = &id
			m.deviceTokens[token] = dt
		}
	}
	u := m.users[unclaimedID]
	u.Active = false
	m.users[unclaimedID] = u
	return nil
}

type memoryDeviceTokens memoryStore

func (r *memoryDeviceTokens) GetByToken(ctx context.Context, token string) (*model.DeviceToken, error) {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if dt, ok := m.deviceTokens[token]; ok {
		return &dt, nil
	}
	return nil, nil
}

func (r *memoryDeviceTokens) Pair(ctx context.Context, token string, userID int64) error {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	dt, ok := m.deviceTokens[token]
	if !ok {
		dt = model.DeviceToken{ID: m.id(), Token: token}
	}
	id := userID
	dt.UserID = &id
	m.deviceTokens[token] = dt
	return nil
}

type memoryNotificationLogs memoryStore

func (r *memoryNotificationLogs) Create(ctx context.Context, log *model.NotificationLog) error {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	log.ID = m.id()
	m.logs = append(m.logs, *log)
	return nil
}

func (r *memoryNotificationLogs) MarkStatus(ctx context.Context, id int64, status model.NotificationLogStatus, paymentID *int64, errMsg *string) error {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.logs {
		if m.logs[i].ID == id {
			m.logs[i].Status = status
			m.logs[i].PaymentID = paymentID
			m.logs[i].ErrorMessage = errMsg
			return nil
		}
	}
	return errors.New("notification log not found")
}

func (r *memoryNotificationLogs) List(ctx context.Context, filter entity.NotificationLogFilter, page entity.PaginationParams) ([]*model.NotificationLog, int64, error) {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.NotificationLog
	for i := len(m.logs) - 1; i >= 0; i-- {
		l := m.logs[i]
		if filter.OriginalTransactionID != "" && (l.OriginalTransactionID == nil || *l.OriginalTransactionID != filter.OriginalTransactionID) {
			continue
		}
		out = append(out, &l)
	}
	return out, int64(len(out)), nil
}

type memoryAuditLogs memoryStore

func (r *memoryAuditLogs) Create(ctx context.Context, entry *model.AuditLog) error {
	m := (*memoryStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.id()
	m.audits = append(m.audits, *entry)
	return nil
}
