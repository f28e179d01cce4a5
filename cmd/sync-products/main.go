package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"
	"github.com/wekeepgrowing/appstore-reconciler/internal/config"
	"github.com/wekeepgrowing/appstore-reconciler/internal/infrastructure/database"
	pkgLogger "github.com/wekeepgrowing/appstore-reconciler/pkg/logger"
	"go.uber.org/zap"
)

// sync-products loads the App Store product catalog into subscription_types
// and appstore_products.
func main() {
	catalogPath := flag.String("catalog", "./configs/products.yaml", "path to the product catalog YAML")
	flag.Parse()

	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := pkgLogger.NewZapLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	mappings, err := loadCatalog(*catalogPath)
	if err != nil {
		logger.Fatal("Failed to load product catalog", zap.String("path", *catalogPath), zap.Error(err))
	}

	// Initialize database connection
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, logger); err != nil {
			logger.Error("Failed to close database connection", zap.Error(err))
		}
	}()

	// Run migrations
	if err := database.Migrate(db, logger); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	repos := database.NewRepositories(db, logger)
	ctx := context.Background()

	for _, m := range mappings {
		if err := repos.SubscriptionType.Upsert(ctx, m.SubscriptionType, m.ProductID); err != nil {
			logger.Fatal("Failed to sync product",
				zap.String("product_id", m.ProductID),
				zap.String("subscription_type_code", m.SubscriptionType.Code),
				zap.Error(err))
		}
	}

	logger.Info("Product catalog synced",
		zap.String("path", *catalogPath),
		zap.Int("products", len(mappings)))
}
