package database

import (
	"github.com/wekeepgrowing/appstore-reconciler/internal/adapter/repository"
	domainRepo "github.com/wekeepgrowing/appstore-reconciler/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repositories holds all repository instances
type Repositories struct {
	Transactor       domainRepo.Transactor
	Ledger           domainRepo.TransactionLedgerRepository
	Payment          domainRepo.PaymentRepository
	Subscription     domainRepo.SubscriptionRepository
	SubscriptionType domainRepo.SubscriptionTypeRepository
	RecurrentCharge  domainRepo.RecurrentChargeRepository
	User             domainRepo.UserRepository
	DeviceToken      domainRepo.DeviceTokenRepository
	NotificationLog  domainRepo.NotificationLogRepository
	AuditLog         domainRepo.AuditLogRepository
}

// NewRepositories creates new repository instances with database connection
func NewRepositories(db *gorm.DB, logger *zap.Logger) *Repositories {
	return &Repositories{
		Transactor:       repository.NewTransactor(db),
		Ledger:           repository.NewTransactionLedgerRepository(db, logger),
		Payment:          repository.NewPaymentRepository(db, logger),
		Subscription:     repository.NewSubscriptionRepository(db, logger),
		SubscriptionType: repository.NewSubscriptionTypeRepository(db, logger),
		RecurrentCharge:  repository.NewRecurrentChargeRepository(db, logger),
		User:             repository.NewUserRepository(db, logger),
		DeviceToken:      repository.NewDeviceTokenRepository(db, logger),
		NotificationLog:  repository.NewNotificationLogRepository(db, logger),
		AuditLog:         repository.NewAuditLogRepository(db),
	}
}
