package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/wekeepgrowing/appstore-reconciler/internal/app"
	"github.com/wekeepgrowing/appstore-reconciler/internal/config"
	grpcServer "github.com/wekeepgrowing/appstore-reconciler/internal/infrastructure/grpc"
	"github.com/wekeepgrowing/appstore-reconciler/internal/infrastructure/queue"
	pkgLogger "github.com/wekeepgrowing/appstore-reconciler/pkg/logger"
	"go.uber.org/zap"
)

// worker drains the notification queue and reconciles each delivery
func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := pkgLogger.NewZapLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("component", "worker"))

	container, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grpcSrv := grpcServer.NewServer(cfg, logger)
	go func() {
		if err := grpcSrv.Start(); err != nil {
			logger.Fatal("Failed to start gRPC server", zap.Error(err))
		}
	}()

	consumer := queue.NewConsumer(container.Queue, container.Processor.Handle, logger)
	consumer.Run(ctx)

	logger.Info("Shutting down worker...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := grpcSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown gRPC server", zap.Error(err))
	}
	logger.Info("Worker stopped")
}
