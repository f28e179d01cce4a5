package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// DeviceTokenHeader carries the client device token on verify routes
const DeviceTokenHeader = "X-Device-Token"

// Identity is the authenticated caller. UserID comes from the bearer token's sub claim.
type Identity struct {
	UserID      *int64
	DeviceToken string
}

// contextKey is used for storing the identity in context
type contextKey string

const (
	identityContextKey contextKey = "authenticated_identity"
)

// JWTConfig holds the configuration for the identity middleware
type JWTConfig struct {
	Secret string
	// Issuer is checked when set
	Issuer    string
	Logger    *zap.Logger
	SkipPaths []string // Paths to skip validation
}

// JWTMiddleware accepts a bearer token, a device token, or both. A request with
// neither is rejected, as is one carrying an invalid bearer token.
func JWTMiddleware(config JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			for _, skipPath := range config.SkipPaths {
				if strings.HasPrefix(path, skipPath) {
					return next(c)
				}
			}

			identity := &Identity{DeviceToken: strings.TrimSpace(c.Request().Header.Get(DeviceTokenHeader))}

			if authHeader := c.Request().Header.Get("Authorization"); authHeader != "" {
				tokenString := strings.TrimPrefix(authHeader, "Bearer ")
				if tokenString == authHeader {
					config.Logger.Warn("Invalid authorization header format",
						zap.String("path", path))
					return c.JSON(http.StatusUnauthorized, echo.Map{
						"error": "Invalid authorization header format. Expected: Bearer <token>",
						"code":  "INVALID_AUTH_FORMAT",
					})
				}

				userID, err := parseUserID(parser, tokenString, config.Secret)
				if err != nil {
					config.Logger.Warn("JWT validation failed",
						zap.Error(err),
						zap.String("path", path))
					return c.JSON(http.StatusUnauthorized, echo.Map{
						"error": "Invalid or expired token",
						"code":  "INVALID_TOKEN",
					})
				}
				identity.UserID = &userID
			}

			if identity.UserID == nil && identity.DeviceToken == "" {
				config.Logger.Warn("Request without identity",
					zap.String("path", path),
					zap.String("method", c.Request().Method))
				return c.JSON(http.StatusUnauthorized, echo.Map{
					"status":  "error",
					"error":   "missing_identity",
					"message": "Authorization header or " + DeviceTokenHeader + " header required",
				})
			}

			ctx := context.WithValue(c.Request().Context(), identityContextKey, identity)
			c.SetRequest(c.Request().WithContext(ctx))

			config.Logger.Debug("Caller identified",
				zap.Bool("has_user", identity.UserID != nil),
				zap.Bool("has_device_token", identity.DeviceToken != ""),
				zap.String("path", path))

			return next(c)
		}
	}
}

func parseUserID(parser *jwt.Parser, tokenString, secret string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}); err != nil {
		return 0, err
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("sub claim %q is not a user id", claims.Subject)
	}
	return userID, nil
}

// GetIdentityFromContext extracts the caller identity from the request context
func GetIdentityFromContext(c echo.Context) (*Identity, error) {
	identity, ok := c.Request().Context().Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, fmt.Errorf("no identity found in context")
	}
	return identity, nil
}
