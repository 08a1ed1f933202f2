package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voicelink/internal/auth"
	"github.com/satriahrh/arunika/voicelink/internal/websocket"
)

const anonymousDevice = "anonymous"

// InitRoutes initializes all API routes. A nil issuer leaves /ws open.
func InitRoutes(e *echo.Echo, hub *websocket.Hub, issuer *auth.TokenIssuer, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:   "ok",
			Service:  "voicelink",
			Sessions: hub.ClientCount(),
		})
	})

	e.GET("/ws", func(c echo.Context) error {
		if issuer == nil {
			return websocket.HandleWebSocket(hub, c, anonymousDevice)
		}
		return websocketWithAuth(hub, issuer, c, logger)
	})
}

// bearerToken reads the token from the Authorization header, then from the
// token query parameter for clients that cannot set headers
func bearerToken(c echo.Context) string {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok && token != "" {
		return token
	}
	return c.QueryParam("token")
}

// websocketWithAuth handles WebSocket connections with JWT authentication
func websocketWithAuth(hub *websocket.Hub, issuer *auth.TokenIssuer, c echo.Context, logger *zap.Logger) error {
	token := bearerToken(c)
	if token == "" {
		logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required in Authorization header or token query parameter",
		})
	}

	claims, err := issuer.ValidateToken(token)
	if err != nil {
		logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	if claims.Role != auth.RoleDevice {
		logger.Warn("WebSocket connection rejected: invalid role",
			zap.String("role", claims.Role))
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "invalid_role",
			Message: "Only device tokens are allowed for WebSocket connections",
		})
	}

	if claims.DeviceID == "" {
		logger.Warn("WebSocket connection rejected: missing device ID in token")
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_token_claims",
			Message: "Device ID not found in token",
		})
	}

	logger.Info("WebSocket connection authenticated",
		zap.String("deviceID", claims.DeviceID))

	return websocket.HandleWebSocket(hub, c, claims.DeviceID)
}
