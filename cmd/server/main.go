package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	handlers "github.com/wekeepgrowing/appstore-reconciler/internal/adapter/handler/http"
	"github.com/wekeepgrowing/appstore-reconciler/internal/app"
	"github.com/wekeepgrowing/appstore-reconciler/internal/config"
	grpcServer "github.com/wekeepgrowing/appstore-reconciler/internal/infrastructure/grpc"
	httpServer "github.com/wekeepgrowing/appstore-reconciler/internal/infrastructure/http"
	pkgLogger "github.com/wekeepgrowing/appstore-reconciler/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// .env is optional
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

	container, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer container.Close()

	// Initialize servers
	grpcSrv := grpcServer.NewServer(cfg, logger)
	httpSrv := httpServer.NewServer(cfg, logger, httpServer.Handlers{
		Webhook:      handlers.NewAppStoreWebhookHandler(container.Queue, cfg.Queue.Delay, logger),
		Verification: handlers.NewVerificationHandler(container.Verification, logger),
		Notification: handlers.NewNotificationLogHandler(container.Repos.NotificationLog, logger),
	})

	// Start servers
	go func() {
		if err := grpcSrv.Start(); err != nil {
			logger.Fatal("Failed to start gRPC server", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down servers...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Shutdown servers
	if err := grpcSrv.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown gRPC server", zap.Error(err))
	}

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown HTTP server", zap.Error(err))
	}

	logger.Info("Servers shut down successfully")
}
