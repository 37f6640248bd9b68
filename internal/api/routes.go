package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/soketai/callbridge/domain/entities"
	"github.com/soketai/callbridge/internal/auth"
	"github.com/soketai/callbridge/internal/config"
	"github.com/soketai/callbridge/internal/websocket"
)

// Stream parameters agreed with the telephony provider.
const (
	streamAudioTrack  = "inbound"
	streamTimeoutSecs = 120
)

// InitRoutes initializes all API routes.
func InitRoutes(e *echo.Echo, hub *websocket.Hub, issuer *auth.TokenIssuer, cfg *config.Config, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "callbridge",
		})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Call-setup directive for the telephony provider. Plivo posts
	// form-encoded call data; GET is accepted for console testing.
	answer := func(c echo.Context) error {
		return answerCall(c, issuer, cfg, logger)
	}
	e.POST("/answer.xml", answer)
	e.GET("/answer.xml", answer)

	// Operational view of active relay sessions.
	e.GET("/api/v1/calls", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"calls": hub.Snapshot(),
		})
	})

	// Telephony media stream endpoint.
	e.GET(config.StreamRoute, func(c echo.Context) error {
		return streamWithAuth(hub, c, issuer, logger)
	})
}

// answerCall responds with the stream directive pointing the provider at
// the relay's websocket endpoint, carrying a fresh stream token.
func answerCall(c echo.Context, issuer *auth.TokenIssuer, cfg *config.Config, logger *zap.Logger) error {
	callID := c.FormValue("CallUUID")
	if callID == "" {
		callID = uuid.NewString()
	}

	token, err := issuer.GenerateStreamToken(callID)
	if err != nil {
		logger.Error("Failed to generate stream token",
			zap.String("callID", callID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to provision the stream endpoint",
		})
	}

	streamURL := cfg.PublicWSURL + config.StreamRoute + "?token=" + token

	logger.Info("Answered call with stream directive",
		zap.String("callID", callID),
		zap.String("method", c.Request().Method))

	return c.XML(http.StatusOK, AnswerResponse{
		Stream: StreamDirective{
			AudioTrack:    streamAudioTrack,
			Bidirectional: true,
			ContentType:   entities.TelephonyContentType + ";rate=8000",
			KeepCallAlive: true,
			StreamTimeout: streamTimeoutSecs,
			URL:           streamURL,
		},
	})
}

// streamWithAuth validates the stream token before upgrading. Websocket
// clients cannot set headers, so the token travels as a query parameter.
func streamWithAuth(hub *websocket.Hub, c echo.Context, issuer *auth.TokenIssuer, logger *zap.Logger) error {
	token := c.QueryParam("token")
	if token == "" {
		logger.Warn("Stream connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "Stream token is required",
		})
	}

	claims, err := issuer.ValidateStreamToken(token)
	if err != nil {
		logger.Warn("Stream connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired stream token",
		})
	}

	logger.Info("Stream connection authenticated", zap.String("callID", claims.CallID))

	return websocket.HandleStream(hub, c, claims.CallID, logger)
}
