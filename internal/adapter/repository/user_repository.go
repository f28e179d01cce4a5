package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type userRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB, logger *zap.Logger) repository.UserRepository {
	return &userRepository{db: db, logger: logger}
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return r.first(conn(ctx, r.db).Where("id = ?", id))
}

func (r *userRepository) GetByUUID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.first(conn(ctx, r.db).Where("uuid = ?", id))
}

func (r *userRepository) first(query *gorm.DB) (*model.User, error) {
	var user model.User
	if err := query.First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (r *userRepository) FindByMeta(ctx context.Context, key, value string) ([]*model.User, error) {
	var users []*model.User
	err := conn(ctx, r.db).
		Joins("JOIN user_meta um ON um.user_id = users.id").
		Where("um.key = ? AND um.value = ?", key, value).
		Order("users.id").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find users by meta: %w", err)
	}
	return users, nil
}

func (r *userRepository) CreateUnclaimed(ctx context.Context, email string, originalTransactionID string) (*model.User, error) {
	user := &model.User{
		UUID:      uuid.New(),
		Email:     email,
		Active:    true,
		Unclaimed: true,
	}

	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		return tx.Create(&model.UserMeta{
			UserID: user.ID,
			Key:    model.UserMetaOriginalTransactionID,
			Value:  originalTransactionID,
		}).Error
	})
	if err != nil {
		r.logger.Error("failed to create unclaimed user",
			zap.String("original_transaction_id", originalTransactionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create unclaimed user: %w", err)
	}

	r.logger.Info("created unclaimed user",
		zap.Int64("user_id", user.ID),
		zap.String("original_transaction_id", originalTransactionID))
	return user, nil
}

func (r *userRepository) SetMeta(ctx context.Context, userID int64, key, value string) error {
	err := conn(ctx, r.db).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.UserMeta{UserID: userID, Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("failed to set user meta: %w", err)
	}
	return nil
}

// Claim moves payments, subscriptions, renewal chains, meta tags and device tokens.
func (r *userRepository) Claim(ctx context.Context, unclaimedUserID, claimedUserID int64) error {
	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{"payments", "subscriptions", "recurrent_charges", "device_tokens"} {
			if err := tx.Table(table).Where("user_id = ?", unclaimedUserID).Update("user_id", claimedUserID).Error; err != nil {
				return fmt.Errorf("move %s: %w", table, err)
			}
		}

		// drop tags the claimed user already has so the unique index holds
		if err := tx.Exec(`DELETE FROM user_meta um
			WHERE um.user_id = ? AND EXISTS (
				SELECT 1 FROM user_meta o WHERE o.user_id = ? AND o.key = um.key AND o.value = um.value)`,
			unclaimedUserID, claimedUserID).Error; err != nil {
			return fmt.Errorf("dedupe user meta: %w", err)
		}
		if err := tx.Model(&model.UserMeta{}).Where("user_id = ?", unclaimedUserID).Update("user_id", claimedUserID).Error; err != nil {
			return fmt.Errorf("move user meta: %w", err)
		}

		return tx.Model(&model.User{}).Where("id = ?", unclaimedUserID).
			Updates(map[string]interface{}{"active": false, "updated_at": time.Now()}).Error
	})
	if err != nil {
		r.logger.Error("failed to claim user",
			zap.Int64("unclaimed_user_id", unclaimedUserID),
			zap.Int64("claimed_user_id", claimedUserID),
			zap.Error(err))
		return fmt.Errorf("failed to claim user: %w", err)
	}
	return nil
}

type deviceTokenRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewDeviceTokenRepository creates a new device token repository
func NewDeviceTokenRepository(db *gorm.DB, logger *zap.Logger) repository.DeviceTokenRepository {
	return &deviceTokenRepository{db: db, logger: logger}
}

func (r *deviceTokenRepository) GetByToken(ctx context.Context, token string) (*model.DeviceToken, error) {
	var dt model.DeviceToken
	if err := conn(ctx, r.db).Where("token = ?", token).First(&dt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get device token: %w", err)
	}
	return &dt, nil
}

func (r *deviceTokenRepository) Pair(ctx context.Context, token string, userID int64) error {
	dt := &model.DeviceToken{Token: token, UserID: &userID, UpdatedAt: time.Now()}
	err := conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "updated_at"}),
	}).Create(dt).Error
	if err != nil {
		return fmt.Errorf("failed to pair device token: %w", err)
	}
	return nil
}
