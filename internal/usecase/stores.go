package usecase

import (
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/repository"
)

// Stores groups the repositories the reconciliation use cases write to.
type Stores struct {
	Transactor        repository.Transactor
	Ledger            repository.TransactionLedgerRepository
	Payments          repository.PaymentRepository
	Subscriptions     repository.SubscriptionRepository
	SubscriptionTypes repository.SubscriptionTypeRepository
	Charges           repository.RecurrentChargeRepository
	Users             repository.UserRepository
	DeviceTokens      repository.DeviceTokenRepository
	NotificationLogs  repository.NotificationLogRepository
	AuditLogs         repository.AuditLogRepository
}

// LockKey is the lock name serializing all work on one original transaction id.
func LockKey(originalTransactionID string) string {
	return "appstore:original_transaction:" + originalTransactionID
}
