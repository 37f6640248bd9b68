package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/soketai/callbridge/adapters/aisession"
	"github.com/soketai/callbridge/domain/entities"
	"github.com/soketai/callbridge/domain/repositories"
	"github.com/soketai/callbridge/internal/api"
	"github.com/soketai/callbridge/internal/auth"
	"github.com/soketai/callbridge/internal/config"
	"github.com/soketai/callbridge/internal/metrics"
	"github.com/soketai/callbridge/internal/websocket"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	m := metrics.New()

	conversation := entities.ConversationConfig{
		Instructions:  cfg.Instructions,
		TurnDetection: entities.TurnDetectionServerVAD,
	}

	// One AI session client per inbound call.
	var newClient websocket.ClientFactory
	switch cfg.Backend {
	case config.BackendGemini:
		newClient = func() (repositories.AISessionClient, error) {
			return aisession.NewGeminiLive(cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		}
	default:
		newClient = func() (repositories.AISessionClient, error) {
			return aisession.NewRealtimeClient(cfg.S2SWSURL, cfg.S2SAPIKey, logger), nil
		}
	}

	hub := websocket.NewHub(newClient, conversation, cfg.ConnectTimeout, cfg.MaxBufferedFrames, m, logger)
	go hub.Run()

	issuer := auth.NewTokenIssuer(cfg.StreamTokenSecret, cfg.StreamTokenTTL)

	api.InitRoutes(e, hub, issuer, cfg, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Relay started",
		zap.String("port", cfg.Port),
		zap.String("backend", cfg.Backend))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
