package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	handlers "github.com/wekeepgrowing/appstore-reconciler/internal/adapter/handler/http"
	"github.com/wekeepgrowing/appstore-reconciler/internal/config"
	"github.com/wekeepgrowing/appstore-reconciler/internal/middleware/auth"
	"github.com/wekeepgrowing/appstore-reconciler/pkg/logger"
	"go.uber.org/zap"
)

// Handlers groups the request handlers served by the HTTP server
type Handlers struct {
	Webhook      *handlers.AppStoreWebhookHandler
	Verification *handlers.VerificationHandler
	Notification *handlers.NotificationLogHandler
}

type Server struct {
	config   *config.Config
	logger   *zap.Logger
	echo     *echo.Echo
	handlers Handlers
}

func NewServer(cfg *config.Config, log *zap.Logger, h Handlers) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = handlers.NewRequestValidator()

	// Middleware
	logger.WithEchoLogger(e, log)
	e.Use(middleware.Recover())
	e.Use(logger.NewEchoRequestLogger(log))

	s := &Server{
		config:   cfg,
		logger:   log,
		echo:     e,
		handlers: h,
	}
	s.setupRoutes()
	return s
}

// Echo exposes the router, mainly for tests
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.HTTP.Host, s.config.Server.HTTP.Port)
	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Health check
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": s.config.Service.Name,
		})
	})

	// App Store server notifications (outside API versioning, Apple does not authenticate)
	appstore := s.echo.Group("/appstore")
	appstore.POST("/v1/notifications", s.handlers.Webhook.HandleV1)
	appstore.POST("/v2/notifications", s.handlers.Webhook.HandleV2)

	v1 := s.echo.Group("/api/v1")

	// Purchase verification needs a bearer token or a device token
	jwtConfig := auth.JWTConfig{
		Secret: s.config.JWT.Secret,
		Issuer: s.config.JWT.Issuer,
		Logger: s.logger,
	}
	verify := v1.Group("/appstore", auth.JWTMiddleware(jwtConfig))
	verify.POST("/v1/verify-purchase", s.handlers.Verification.VerifyV1)
	verify.POST("/v2/verify-purchase", s.handlers.Verification.VerifyV2)

	// Internal/Debug routes
	internal := v1.Group("/internal")
	internal.GET("/notifications", s.handlers.Notification.ListNotifications)
}
