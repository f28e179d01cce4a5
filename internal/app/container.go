// Package app wires configuration, storage and the App Store integrations
// into the use cases shared by the server and worker binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wekeepgrowing/appstore-reconciler/internal/config"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/provider"
	"github.com/wekeepgrowing/appstore-reconciler/internal/infrastructure/database"
	"github.com/wekeepgrowing/appstore-reconciler/internal/infrastructure/lock"
	"github.com/wekeepgrowing/appstore-reconciler/internal/infrastructure/messaging"
	"github.com/wekeepgrowing/appstore-reconciler/internal/infrastructure/provider/appstore"
	"github.com/wekeepgrowing/appstore-reconciler/internal/infrastructure/queue"
	"github.com/wekeepgrowing/appstore-reconciler/internal/usecase"
	"github.com/wekeepgrowing/appstore-reconciler/pkg/clock"
	pkgMessaging "github.com/wekeepgrowing/appstore-reconciler/pkg/messaging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Container struct {
	DB    *gorm.DB
	Redis *redis.Client
	Repos *database.Repositories
	Queue *queue.RedisQueue

	Processor    *usecase.NotificationProcessor
	Verification *usecase.VerificationService

	logger *zap.Logger
}

// New connects to Postgres and Redis, runs migrations and builds the use cases.
func New(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(db, logger); err != nil {
		_ = database.Close(db, logger)
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		_ = database.Close(db, logger)
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	c := &Container{DB: db, Redis: rdb, logger: logger}
	if err := c.build(cfg); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) build(cfg *config.Config) error {
	clk := clock.System()
	c.Repos = database.NewRepositories(c.DB, c.logger)
	stores := usecase.Stores{
		Transactor:        c.Repos.Transactor,
		Ledger:            c.Repos.Ledger,
		Payments:          c.Repos.Payment,
		Subscriptions:     c.Repos.Subscription,
		SubscriptionTypes: c.Repos.SubscriptionType,
		Charges:           c.Repos.RecurrentCharge,
		Users:             c.Repos.User,
		DeviceTokens:      c.Repos.DeviceToken,
		NotificationLogs:  c.Repos.NotificationLog,
		AuditLogs:         c.Repos.AuditLog,
	}

	root, err := appstore.LoadRootCertificate(cfg.AppStore.RootCertificatePath)
	if err != nil {
		return fmt.Errorf("load App Store root certificate: %w", err)
	}
	verifier := appstore.NewJWSVerifier(root, clk)

	signingKey, err := appstore.LoadSigningKey(cfg.AppStore.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("load App Store API key: %w", err)
	}
	client := appstore.NewClient(cfg.AppStore, signingKey, verifier, clk, c.logger)

	locker := lock.NewRedisLocker(c.Redis, cfg.Lock, clk, c.logger)
	publisher := messaging.NewRedisOutcomePublisher(pkgMessaging.WrapRedisClient(c.Redis), cfg.Messaging.Channel)
	c.Queue = queue.NewRedisQueue(c.Redis, cfg.Queue, clk, c.logger)

	resolver := usecase.NewUserResolver(c.Repos.User, c.Repos.Payment, c.logger)
	reconciler := usecase.NewReconciler(stores, resolver, publisher, clk, c.logger)

	c.Processor = usecase.NewNotificationProcessor(
		[]provider.NotificationDecoder{
			appstore.NewV1Decoder(cfg.AppStore.SharedSecret),
			appstore.NewV2Decoder(verifier, cfg.AppStore.BundleID),
		},
		reconciler,
		locker,
		c.Repos.NotificationLog,
		c.logger,
	)
	c.Verification = usecase.NewVerificationService(client, stores, resolver, reconciler, locker, clk, c.logger)
	return nil
}

// Close releases the Redis and database connections
func (c *Container) Close() {
	if err := c.Redis.Close(); err != nil {
		c.logger.Error("Failed to close Redis connection", zap.Error(err))
	}
	if err := database.Close(c.DB, c.logger); err != nil {
		c.logger.Error("Failed to close database connection", zap.Error(err))
	}
}
