package database

import (
	"fmt"
	"strings"

	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// enum types backing status columns; values must match the model constants
var enumTypes = []struct {
	name   string
	values []string
}{
	{"payment_status", []string{
		string(model.PaymentStatusCreated), string(model.PaymentStatusPrepaid),
		string(model.PaymentStatusFail), string(model.PaymentStatusRefund),
	}},
	{"recurrent_charge_state", []string{
		string(model.RecurrentChargeActive), string(model.RecurrentChargeCharged),
		string(model.RecurrentChargeChargeFailed), string(model.RecurrentChargeSystemStop),
		string(model.RecurrentChargeUserStop),
	}},
	{"notification_log_status", []string{
		string(model.NotificationLogNew), string(model.NotificationLogProcessed),
		string(model.NotificationLogError), string(model.NotificationLogDoNotRetry),
	}},
}

// Migrate runs database migrations
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	logger.Info("Running database migrations...")

	if err := createCustomTypes(db, logger); err != nil {
		logger.Error("Failed to create custom types", zap.Error(err))
		return err
	}

	err := db.AutoMigrate(
		&model.User{},
		&model.UserMeta{},
		&model.DeviceToken{},
		&model.SubscriptionType{},
		&model.AppStoreProduct{},
		&model.Subscription{},
		&model.Payment{},
		&model.PaymentMeta{},
		&model.RecurrentCharge{},
		&model.OriginalTransaction{},
		&model.NotificationLog{},
		&model.AuditLog{},
	)
	if err != nil {
		logger.Error("Failed to run migrations", zap.Error(err))
		return err
	}

	if err := createCustomIndexes(db); err != nil {
		logger.Error("Failed to create custom indexes", zap.Error(err))
		return err
	}

	logger.Info("Database migrations completed successfully")
	return nil
}

// createCustomIndexes creates indexes GORM tags cannot express
func createCustomIndexes(db *gorm.DB) error {
	statements := []string{
		// one payment per App Store transaction id
		`CREATE UNIQUE INDEX IF NOT EXISTS unique_payment_meta_transaction_id ON payment_meta (value) WHERE key = 'appstore_transaction_id'`,
		// at most one usable renewal chain head per original transaction id
		`CREATE UNIQUE INDEX IF NOT EXISTS unique_usable_recurrent_charge_per_cid ON recurrent_charges (cid) WHERE state IN ('active', 'charge_failed')`,
		`CREATE INDEX IF NOT EXISTS idx_notification_logs_unfinished ON appstore_notification_logs (created_at) WHERE status IN ('new', 'error')`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// createCustomTypes creates enum types and adds values missing from existing ones
func createCustomTypes(db *gorm.DB, logger *zap.Logger) error {
	for _, enum := range enumTypes {
		var exists bool
		if err := db.Raw(`SELECT EXISTS (SELECT 1 FROM pg_type WHERE typname = ?)`, enum.name).Scan(&exists).Error; err != nil {
			return err
		}

		if !exists {
			quoted := make([]string, len(enum.values))
			for i, v := range enum.values {
				quoted[i] = "'" + v + "'"
			}
			stmt := fmt.Sprintf(`CREATE TYPE %s AS ENUM (%s)`, enum.name, strings.Join(quoted, ", "))
			if err := db.Exec(stmt).Error; err != nil {
				return err
			}
			logger.Info("Created enum type", zap.String("type", enum.name))
			continue
		}

		for _, v := range enum.values {
			// ADD VALUE cannot run inside a transaction block, Migrate runs outside one
			if err := db.Exec(fmt.Sprintf(`ALTER TYPE %s ADD VALUE IF NOT EXISTS '%s'`, enum.name, v)).Error; err != nil {
				logger.Warn("Failed to add enum value",
					zap.String("type", enum.name),
					zap.String("value", v),
					zap.Error(err))
			}
		}
	}
	return nil
}
